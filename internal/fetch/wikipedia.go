package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	wikipediaActionEndpoint = "https://en.wikipedia.org/w/api.php"
	wikipediaRESTEndpoint   = "https://en.wikipedia.org/api/rest_v1"
)

// WikipediaReport は百科事典ステージの出力です。
type WikipediaReport struct {
	Success     bool              `json:"success"`
	Query       string            `json:"query"`
	Title       string            `json:"title,omitempty"`
	URL         string            `json:"url,omitempty"`
	Summary     string            `json:"summary,omitempty"`
	Extract     string            `json:"extract,omitempty"`
	Infobox     map[string]string `json:"infobox,omitempty"`
	Categories  []string          `json:"categories,omitempty"`
	ExternalURL []string          `json:"external_links,omitempty"`
	Error       string            `json:"error,omitempty"`
	FetchedAt   string            `json:"fetched_at"`
}

// WikipediaAdapter は英語版WikipediaのAction APIとREST APIを併用して
// 記事の要約・本文・インフォボックスを取得します。
type WikipediaAdapter struct {
	Client         *Client
	ActionEndpoint string
	RESTEndpoint   string
}

func (a *WikipediaAdapter) actionEndpoint() string {
	if a.ActionEndpoint != "" {
		return a.ActionEndpoint
	}
	return wikipediaActionEndpoint
}

func (a *WikipediaAdapter) restEndpoint() string {
	if a.RESTEndpoint != "" {
		return a.RESTEndpoint
	}
	return wikipediaRESTEndpoint
}

type wikiSearchResponse struct {
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
	} `json:"query"`
}

// SearchTitle はクエリに最も合致する記事タイトルを返します。
// 該当記事がない場合は空文字列を返します。
func (a *WikipediaAdapter) SearchTitle(ctx context.Context, query string) (string, error) {
	reqURL := fmt.Sprintf("%s?action=query&list=search&srsearch=%s&srlimit=1&format=json",
		a.actionEndpoint(), url.QueryEscape(query))
	body, err := a.Client.Get(ctx, reqURL, nil)
	if err != nil {
		return "", err
	}

	var parsed wikiSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Query.Search) == 0 {
		return "", nil
	}
	return parsed.Query.Search[0].Title, nil
}

type wikiSummaryResponse struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
	Content struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

func (a *WikipediaAdapter) summary(ctx context.Context, title string) (*wikiSummaryResponse, error) {
	reqURL := fmt.Sprintf("%s/page/summary/%s", a.restEndpoint(), url.PathEscape(title))
	body, err := a.Client.Get(ctx, reqURL, nil)
	if err != nil {
		return nil, err
	}
	var parsed wikiSummaryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

type wikiPageResponse struct {
	Query struct {
		Pages map[string]struct {
			Extract    string `json:"extract"`
			Categories []struct {
				Title string `json:"title"`
			} `json:"categories"`
			ExtLinks []struct {
				URL string `json:"*"`
			} `json:"extlinks"`
			Revisions []struct {
				Slots struct {
					Main struct {
						Content string `json:"*"`
					} `json:"main"`
				} `json:"slots"`
			} `json:"revisions"`
		} `json:"pages"`
	} `json:"query"`
}

func (a *WikipediaAdapter) pageDetails(ctx context.Context, title string) (extract string, categories []string, extLinks []string, wikitext string, err error) {
	reqURL := fmt.Sprintf("%s?action=query&titles=%s&prop=extracts|categories|extlinks|revisions&rvprop=content&rvslots=main&explaintext=1&exintro=0&cllimit=20&ellimit=20&format=json",
		a.actionEndpoint(), url.QueryEscape(title))
	body, err := a.Client.Get(ctx, reqURL, nil)
	if err != nil {
		return "", nil, nil, "", err
	}

	var parsed wikiPageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", nil, nil, "", err
	}
	for _, page := range parsed.Query.Pages {
		extract = page.Extract
		for _, c := range page.Categories {
			categories = append(categories, strings.TrimPrefix(c.Title, "Category:"))
		}
		for _, l := range page.ExtLinks {
			extLinks = append(extLinks, l.URL)
		}
		if len(page.Revisions) > 0 {
			wikitext = page.Revisions[0].Slots.Main.Content
		}
		break
	}
	return extract, categories, extLinks, wikitext, nil
}

// インフォボックスで拾うキーと同義語の対応。
var infoboxKeys = map[string][]string{
	"founded":      {"founded", "foundation", "formation", "established"},
	"founders":     {"founder", "founders"},
	"headquarters": {"headquarters", "hq_location", "location", "hq_location_city"},
	"industry":     {"industry", "genre"},
	"revenue":      {"revenue"},
	"employees":    {"num_employees", "employees"},
	"website":      {"website", "homepage", "url"},
	"ceo":          {"key_people", "ceo", "leader_name"},
	"type":         {"type", "company_type"},
	"products":     {"products", "services"},
}

var (
	infoboxFieldPattern = regexp.MustCompile(`(?m)^\s*\|\s*([a-z_ ]+?)\s*=\s*(.+)$`)
	wikiMarkupPattern   = regexp.MustCompile(`\[\[(?:[^|\]]*\|)?([^\]]*)\]\]`)
	templatePattern     = regexp.MustCompile(`\{\{[^{}]*\}\}`)
	refPattern          = regexp.MustCompile(`<ref[^>]*>.*?</ref>|<ref[^/>]*/>`)
)

// ParseInfobox はウィキテキストからインフォボックスの主要項目を抽出します。
func ParseInfobox(wikitext string) map[string]string {
	start := strings.Index(wikitext, "{{Infobox")
	if start < 0 {
		start = strings.Index(wikitext, "{{infobox")
	}
	if start < 0 {
		return nil
	}
	// 対応する閉じ括弧までを大まかに切り出す。
	depth := 0
	end := len(wikitext)
	for i := start; i < len(wikitext)-1; i++ {
		if wikitext[i] == '{' && wikitext[i+1] == '{' {
			depth++
			i++
		} else if wikitext[i] == '}' && wikitext[i+1] == '}' {
			depth--
			i++
			if depth == 0 {
				end = i + 1
				break
			}
		}
	}
	box := wikitext[start:end]

	raw := make(map[string]string)
	for _, m := range infoboxFieldPattern.FindAllStringSubmatch(box, -1) {
		key := strings.TrimSpace(strings.ToLower(m[1]))
		value := cleanWikitext(m[2])
		if value != "" {
			raw[key] = value
		}
	}

	result := make(map[string]string)
	for canonical, synonyms := range infoboxKeys {
		for _, syn := range synonyms {
			if v, ok := raw[syn]; ok {
				result[canonical] = v
				break
			}
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func cleanWikitext(value string) string {
	value = refPattern.ReplaceAllString(value, "")
	value = wikiMarkupPattern.ReplaceAllString(value, "$1")
	value = templatePattern.ReplaceAllString(value, "")
	value = strings.ReplaceAll(value, "'''", "")
	value = strings.ReplaceAll(value, "''", "")
	value = strings.TrimSpace(value)
	return truncateRunes(value, 200)
}

// Lookup は検索→要約→詳細の順に記事を取得し、構造化レポートを返します。
func (a *WikipediaAdapter) Lookup(ctx context.Context, query string) *WikipediaReport {
	report := &WikipediaReport{
		Query:     query,
		FetchedAt: time.Now().UTC().Format(time.RFC3339),
	}

	title, err := a.SearchTitle(ctx, query)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	if title == "" {
		report.Error = "no matching article found"
		return report
	}

	summary, err := a.summary(ctx, title)
	if err != nil {
		report.Error = err.Error()
		return report
	}

	report.Success = true
	report.Title = summary.Title
	report.URL = summary.Content.Desktop.Page
	report.Summary = summary.Extract

	// 詳細取得は失敗しても要約だけで成立させる。
	extract, categories, extLinks, wikitext, err := a.pageDetails(ctx, title)
	if err == nil {
		report.Extract = truncateRunes(extract, 5000)
		report.Categories = categories
		report.ExternalURL = extLinks
		report.Infobox = ParseInfobox(wikitext)
	}
	return report
}
