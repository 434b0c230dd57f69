package fetch

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	ddgHTMLEndpoint = "https://html.duckduckgo.com/html/"
	ddgLiteEndpoint = "https://lite.duckduckgo.com/lite/"
)

// SearchAdapter はDuckDuckGoのHTML版検索結果ページをスクレイピングします。
// JavaScript不要の静的ページなのでAPIキーなしで利用できます。
type SearchAdapter struct {
	Client   *Client
	Endpoint string // テスト用に差し替え可能。空なら既定のエンドポイント。
}

// Name はアダプター名を返します。
func (a *SearchAdapter) Name() string { return "ddg_html" }

// Fetch は検索結果をスクレイピングして返します。
func (a *SearchAdapter) Fetch(ctx context.Context, query string, limit int) Result {
	endpoint := a.Endpoint
	if endpoint == "" {
		endpoint = ddgHTMLEndpoint
	}

	body, err := a.Client.Get(ctx, endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return Errorf("search fetch failed: %v", err)
	}

	records, err := parseDDGHTML(body, limit)
	if err != nil {
		return Errorf("search parse failed: %v", err)
	}
	for i := range records {
		records[i].Provider = a.Name()
	}
	return Ok(records)
}

func parseDDGHTML(body []byte, limit int) ([]Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var records []Record
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limit > 0 && len(records) >= limit {
			return false
		}
		titleLink := s.Find(".result__title a").First()
		title := strings.TrimSpace(titleLink.Text())
		if title == "" {
			return true
		}
		href, _ := titleLink.Attr("href")
		snippet := strings.TrimSpace(s.Find(".result__snippet").First().Text())

		records = append(records, Record{
			Title:   title,
			URL:     unwrapDDGRedirect(href),
			Snippet: snippet,
		})
		return true
	})
	return records, nil
}

// unwrapDDGRedirect はDuckDuckGoのリダイレクトURLから実URLを取り出します。
func unwrapDDGRedirect(href string) string {
	if href == "" {
		return ""
	}
	if !strings.Contains(href, "uddg=") {
		return href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if real := parsed.Query().Get("uddg"); real != "" {
		return real
	}
	return href
}

// SearchLiteAdapter はフォールバック用にDuckDuckGo Lite版をスクレイピングします。
// HTML版が使えない場合の第二経路で、Recordの形は同一です。
type SearchLiteAdapter struct {
	Client   *Client
	Endpoint string
}

// Name はアダプター名を返します。
func (a *SearchLiteAdapter) Name() string { return "ddg_lite" }

// Fetch はLite版の検索結果をスクレイピングして返します。
func (a *SearchLiteAdapter) Fetch(ctx context.Context, query string, limit int) Result {
	endpoint := a.Endpoint
	if endpoint == "" {
		endpoint = ddgLiteEndpoint
	}

	body, err := a.Client.Get(ctx, endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return Errorf("lite search fetch failed: %v", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Errorf("lite search parse failed: %v", err)
	}

	var records []Record
	doc.Find("a.result-link").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if limit > 0 && len(records) >= limit {
			return false
		}
		title := strings.TrimSpace(s.Text())
		href, _ := s.Attr("href")
		if title == "" || href == "" {
			return true
		}
		records = append(records, Record{
			Title:    title,
			URL:      unwrapDDGRedirect(href),
			Provider: a.Name(),
		})
		return true
	})

	// Lite版はスニペットが結果リンクの次セルにある
	snippets := doc.Find("td.result-snippet")
	for i := range records {
		if i < snippets.Length() {
			records[i].Snippet = strings.TrimSpace(snippets.Eq(i).Text())
		}
	}

	return Ok(records)
}
