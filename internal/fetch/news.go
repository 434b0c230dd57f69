package fetch

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	googleNewsRSSEndpoint = "https://news.google.com/rss/search"
	yahooNewsRSSEndpoint  = "https://news.search.yahoo.com/rss"
	newsAPIEndpoint       = "https://newsapi.org/v2/everything"
)

// rssFeed はRSS 2.0フィードの必要最小限の構造です。
// フィード解析ライブラリは使わず encoding/xml で直接デコードします
// （DESIGN.md参照）。
type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Source      string `xml:"source"`
}

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

func stripHTML(s string) string {
	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(s, ""))
}

// GoogleNewsAdapter はGoogle News RSS（キー不要）からニュースを取得します。
type GoogleNewsAdapter struct {
	Client   *Client
	Endpoint string
}

// Name はアダプター名を返します。
func (a *GoogleNewsAdapter) Name() string { return "google_rss" }

// Fetch はRSSフィードを取得して記事一覧を返します。
func (a *GoogleNewsAdapter) Fetch(ctx context.Context, query string, limit int) Result {
	endpoint := a.Endpoint
	if endpoint == "" {
		endpoint = googleNewsRSSEndpoint
	}

	feedURL := fmt.Sprintf("%s?q=%s&hl=en-US&gl=US&ceid=US:en", endpoint, url.QueryEscape(query))
	body, err := a.Client.Get(ctx, feedURL, nil)
	if err != nil {
		return Errorf("google news rss failed: %v", err)
	}

	records, err := parseRSS(body, limit, a.Name())
	if err != nil {
		return Errorf("google news rss parse failed: %v", err)
	}
	return Ok(records)
}

// YahooNewsAdapter はYahoo NewsのRSS検索（キー不要）を補完ソースとして使います。
type YahooNewsAdapter struct {
	Client   *Client
	Endpoint string
}

// Name はアダプター名を返します。
func (a *YahooNewsAdapter) Name() string { return "yahoo_rss" }

// Fetch はRSSフィードを取得して記事一覧を返します。
func (a *YahooNewsAdapter) Fetch(ctx context.Context, query string, limit int) Result {
	endpoint := a.Endpoint
	if endpoint == "" {
		endpoint = yahooNewsRSSEndpoint
	}

	body, err := a.Client.Get(ctx, endpoint+"?p="+url.QueryEscape(query), nil)
	if err != nil {
		return Errorf("yahoo news rss failed: %v", err)
	}

	records, err := parseRSS(body, limit, a.Name())
	if err != nil {
		return Errorf("yahoo news rss parse failed: %v", err)
	}
	return Ok(records)
}

func parseRSS(body []byte, limit int, provider string) ([]Record, error) {
	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, err
	}

	items := feed.Channel.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	records := make([]Record, 0, len(items))
	for _, item := range items {
		snippet := truncateRunes(stripHTML(item.Description), 300)
		records = append(records, Record{
			Title:       stripHTML(item.Title),
			URL:         strings.TrimSpace(item.Link),
			Snippet:     snippet,
			PublishedAt: strings.TrimSpace(item.PubDate),
			Source:      stripHTML(item.Source),
			Provider:    provider,
		})
	}
	return records, nil
}

// NewsAPIAdapter はAPIキーが設定されている場合のみ使われる第三のプロバイダーです。
type NewsAPIAdapter struct {
	Client   *Client
	APIKey   string
	Days     int // 遡る日数（0なら30日）
	Endpoint string
}

// Name はアダプター名を返します。
func (a *NewsAPIAdapter) Name() string { return "newsapi" }

// Enabled はAPIキーが設定されているかを返します。
func (a *NewsAPIAdapter) Enabled() bool { return a.APIKey != "" }

type newsAPIResponse struct {
	Status   string `json:"status"`
	Articles []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		Description string `json:"description"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// Fetch はNewsAPIから記事一覧を取得します。キー未設定なら空を返します。
func (a *NewsAPIAdapter) Fetch(ctx context.Context, query string, limit int) Result {
	if !a.Enabled() {
		return Empty()
	}

	endpoint := a.Endpoint
	if endpoint == "" {
		endpoint = newsAPIEndpoint
	}
	days := a.Days
	if days <= 0 {
		days = 30
	}
	from := time.Now().AddDate(0, 0, -days).Format("2006-01-02")

	query = url.QueryEscape(query)
	reqURL := fmt.Sprintf("%s?q=%s&from=%s&sortBy=relevancy&pageSize=%d&apiKey=%s",
		endpoint, query, from, limit, a.APIKey)

	body, err := a.Client.Get(ctx, reqURL, nil)
	if err != nil {
		return Errorf("newsapi failed: %v", err)
	}

	var parsed newsAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Errorf("newsapi parse failed: %v", err)
	}

	records := make([]Record, 0, len(parsed.Articles))
	for _, article := range parsed.Articles {
		records = append(records, Record{
			Title:       article.Title,
			URL:         article.URL,
			Snippet:     article.Description,
			PublishedAt: article.PublishedAt,
			Source:      article.Source.Name,
			Provider:    a.Name(),
		})
	}
	return Ok(records)
}
