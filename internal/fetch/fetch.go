// Package fetch は外部ソースからの情報取得を担うアダプター群と、
// リトライ・フォールバック合成の仕組みを提供します。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"
)

// Status はアダプター呼び出しの結果種別を表します。
type Status string

const (
	StatusOK    Status = "ok"
	StatusEmpty Status = "empty"
	StatusError Status = "error"
)

// Record は1件の正規化された取得結果を表します。
type Record struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet"`
	PublishedAt string `json:"date,omitempty"`
	Source      string `json:"source,omitempty"`
	Provider    string `json:"provider"`
}

// Result はアダプター呼び出しの成否と結果を表します。
// アダプター境界を越えて例外が伝播することはなく、必ずこの型に畳み込まれます。
type Result struct {
	Status  Status   `json:"status"`
	Records []Record `json:"records,omitempty"`
	Err     string   `json:"error,omitempty"`
}

// Ok は結果ありの Result を作成します。空スライスは Empty になります。
func Ok(records []Record) Result {
	if len(records) == 0 {
		return Empty()
	}
	return Result{Status: StatusOK, Records: records}
}

// Empty は結果なしの Result を作成します。
func Empty() Result {
	return Result{Status: StatusEmpty}
}

// Errorf はエラーを示す Result を作成します。
func Errorf(format string, args ...any) Result {
	return Result{Status: StatusError, Err: fmt.Sprintf(format, args...)}
}

// IsOK は結果が1件以上あるかどうかを返します。
func (r Result) IsOK() bool {
	return r.Status == StatusOK && len(r.Records) > 0
}

// Adapter は「クエリと上限を受け取り結果を返す」取得能力を表します。
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, query string, limit int) Result
}

// permanentError は再試行しても結果が変わらない失敗（not found等）を表します。
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent はエラーを「再試行不要」としてマークします。
// リトライ実行器はこのエラーを受け取ると即座に打ち切ります。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent はエラーが Permanent でマークされているかを判定します。
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Client は各アダプターが共有するHTTPクライアント設定です。
type Client struct {
	HTTP      *http.Client
	UserAgent string
}

// NewClient は既定のタイムアウトとUser-Agentを持つ Client を作成します。
func NewClient(userAgent string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout},
		UserAgent: userAgent,
	}
}

// Get はUser-Agent付きでGETし、2xx以外をエラーとして返します。
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, Permanent(fmt.Errorf("not found: %s", url))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return body, nil
}

// truncateRunes は s を最大 max バイトに切り詰めます。マルチバイト文字を
// 途中で分断しないよう、必要ならルーン境界まで戻ります。
func truncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
