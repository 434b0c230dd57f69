package fetch

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// PageContent は1ページ分の抽出済み本文とメタデータです。
type PageContent struct {
	Success     bool   `json:"success"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	OGTitle     string `json:"og_title,omitempty"`
	OGImage     string `json:"og_image,omitempty"`
	Canonical   string `json:"canonical,omitempty"`
	Text        string `json:"text,omitempty"`
	WordCount   int    `json:"word_count"`
	Error       string `json:"error,omitempty"`
	FetchedAt   string `json:"fetched_at"`
}

// 本文抽出で優先的に探すコンテナセレクター。上から順に試します。
var contentSelectors = []string{
	"main",
	"article",
	`[role="main"]`,
	".content",
	"#content",
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// WebpageAdapter はWebページから本文テキストとメタデータを抽出します。
type WebpageAdapter struct {
	Client  *Client
	MaxText int // 保存する本文の最大文字数。0なら10000。
}

func (a *WebpageAdapter) maxText() int {
	if a.MaxText > 0 {
		return a.MaxText
	}
	return 10000
}

// Extract は指定URLを取得し、ナビゲーション等を除去した本文を返します。
// 失敗はエラーではなく Success=false のレポートとして返します。
func (a *WebpageAdapter) Extract(ctx context.Context, pageURL string) *PageContent {
	content := &PageContent{
		URL:       pageURL,
		FetchedAt: time.Now().UTC().Format(time.RFC3339),
	}

	body, err := a.Client.Get(ctx, pageURL, nil)
	if err != nil {
		content.Error = err.Error()
		return content
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		content.Error = err.Error()
		return content
	}

	content.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if v, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		content.Description = strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		content.OGTitle = strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		content.OGImage = strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok {
		content.Canonical = strings.TrimSpace(v)
	}

	doc.Find("script, style, nav, footer, header, aside, noscript").Remove()

	var container *goquery.Selection
	for _, selector := range contentSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() > 0 && len(strings.TrimSpace(sel.Text())) > 200 {
			container = sel
			break
		}
	}
	if container == nil {
		container = doc.Find("body").First()
	}

	text := whitespacePattern.ReplaceAllString(strings.TrimSpace(container.Text()), " ")
	if len(text) > a.maxText() {
		text = text[:a.maxText()]
	}

	content.Text = text
	content.WordCount = len(strings.Fields(text))
	content.Success = content.Text != ""
	if !content.Success {
		content.Error = "no extractable text content"
	}
	return content
}
