package fetch

import (
	"context"
	"sort"
	"strings"
	"time"
)

const fingerprintLen = 50

// Composer は複数アダプターの結果をリトライ付きで合成します。
type Composer struct {
	Retryer *Retryer
	Max     int // 合成後に返す最大件数（0以下なら無制限）
}

// First はアダプターを優先順に呼び出し、最初に結果を返したものを採用します。
// 検索のように「プライマリーが使えればフォールバックは不要」なケース向けです。
func (c *Composer) First(ctx context.Context, query string, limit int, adapters ...Adapter) Result {
	var lastErr string
	for _, a := range adapters {
		result := c.call(ctx, a, query, limit)
		if result.IsOK() {
			result.Records = c.finalize(result.Records)
			return result
		}
		if result.Status == StatusError {
			lastErr = result.Err
		}
	}
	if lastErr != "" {
		return Result{Status: StatusError, Err: lastErr}
	}
	return Empty()
}

// Union は全アダプターを呼び出し、非空の結果をすべて合算します。
// ニュースのように複数ソースの記事を統合するケース向けです。
// 呼び出し順が出力順に反映されることは保証しません。
func (c *Composer) Union(ctx context.Context, query string, limit int, adapters ...Adapter) Result {
	var combined []Record
	var errs []string
	for _, a := range adapters {
		result := c.call(ctx, a, query, limit)
		switch result.Status {
		case StatusOK:
			combined = append(combined, result.Records...)
		case StatusError:
			errs = append(errs, a.Name()+": "+result.Err)
		}
	}

	if len(combined) == 0 {
		if len(errs) > 0 {
			return Errorf("%s", strings.Join(errs, "; "))
		}
		return Empty()
	}
	return Ok(c.finalize(combined))
}

func (c *Composer) call(ctx context.Context, a Adapter, query string, limit int) Result {
	if c.Retryer == nil {
		return a.Fetch(ctx, query, limit)
	}
	return c.Retryer.Do(ctx, func(ctx context.Context) ([]Record, error) {
		result := a.Fetch(ctx, query, limit)
		switch result.Status {
		case StatusOK:
			return result.Records, nil
		case StatusError:
			return nil, &adapterError{adapter: a.Name(), message: result.Err}
		default:
			return nil, nil
		}
	})
}

func (c *Composer) finalize(records []Record) []Record {
	merged := Dedupe(records)
	SortByDate(merged)
	if c.Max > 0 && len(merged) > c.Max {
		merged = merged[:c.Max]
	}
	return merged
}

type adapterError struct {
	adapter string
	message string
}

func (e *adapterError) Error() string { return e.adapter + ": " + e.message }

// Dedupe は完全一致URL、次にタイトルの正規化フィンガープリントで重複を除きます。
// URL重複はタイトルに関わらず常に除去されます。冪等です。
func Dedupe(records []Record) []Record {
	seenURLs := make(map[string]struct{}, len(records))
	seenTitles := make(map[string]struct{}, len(records))
	unique := make([]Record, 0, len(records))

	for _, rec := range records {
		if rec.URL != "" {
			if _, ok := seenURLs[rec.URL]; ok {
				continue
			}
		}

		fp := Fingerprint(rec.Title)
		if fp != "" {
			if _, ok := seenTitles[fp]; ok {
				continue
			}
		}

		if rec.URL != "" {
			seenURLs[rec.URL] = struct{}{}
		}
		if fp != "" {
			seenTitles[fp] = struct{}{}
		}
		unique = append(unique, rec)
	}
	return unique
}

// Fingerprint はタイトルから近似重複検出用の指紋を生成します。
// 小文字化し、英数字以外を除去し、先頭50文字に切り詰めます。
func Fingerprint(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() >= fingerprintLen {
				break
			}
		}
	}
	return b.String()
}

// SortByDate は解析可能な日時の新しい順に並べ替えます。
// 解析できない日時は末尾に回ります。安定ソートです。
func SortByDate(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, oki := ParseDateFlexible(records[i].PublishedAt)
		tj, okj := ParseDateFlexible(records[j].PublishedAt)
		if oki && okj {
			return ti.After(tj)
		}
		return oki && !okj
	})
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05-0700",
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDateFlexible は複数の日時フォーマットを順に試して解析します。
func ParseDateFlexible(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	value = strings.Replace(value, "GMT", "+0000", 1)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
