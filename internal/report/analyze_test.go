package report

import (
	"strings"
	"testing"
	"time"

	"github.com/yourusername/dossier-forge/internal/fetch"
)

func fixedAnalyzer() *Analyzer {
	return &Analyzer{
		Thresholds: DefaultThresholds(),
		now:        func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestAnalyzeEmptyBundle(t *testing.T) {
	a := fixedAnalyzer()
	analysis := a.Analyze(&Bundle{})

	if !analysis.Success {
		t.Fatal("expected analysis to succeed on empty bundle")
	}
	if analysis.Sentiment.Label != "neutral" {
		t.Fatalf("expected neutral sentiment without text, got %q", analysis.Sentiment.Label)
	}
	if analysis.Sentiment.Score != 0 {
		t.Fatalf("expected zero score, got %v", analysis.Sentiment.Score)
	}
	if len(analysis.KeyFacts) != 0 {
		t.Fatalf("expected no key facts, got %v", analysis.KeyFacts)
	}
	if analysis.AnalyzedAt != "2025-06-01T12:00:00Z" {
		t.Fatalf("unexpected analyzed_at %q", analysis.AnalyzedAt)
	}
}

func TestSentimentLabels(t *testing.T) {
	a := fixedAnalyzer()
	cases := []struct {
		text  string
		label string
	}{
		{"growth success innovative launch", "positive"},
		{"lawsuit decline loss layoff", "negative"},
		{"growth lawsuit", "neutral"},
		{"", "neutral"},
	}
	for _, tc := range cases {
		got := a.scoreSentiment(tc.text)
		if got.Label != tc.label {
			t.Fatalf("scoreSentiment(%q) = %q, want %q", tc.text, got.Label, tc.label)
		}
	}
}

func TestExtractPeople(t *testing.T) {
	text := "CEO Jane Smith announced the merger. Bob Jones, the founder, disagreed. CEO Jane Smith repeated herself."
	people := extractPeople(text)

	if len(people) != 2 {
		t.Fatalf("expected 2 unique people, got %v", people)
	}
	if people[0] != "Jane Smith" {
		t.Fatalf("expected Jane Smith first, got %v", people)
	}
}

func TestExtractNumbers(t *testing.T) {
	text := "The company raised $50 million and is valued at $2.5 billion. It has 12,000 employees."
	numbers := extractNumbers(text)

	categories := make(map[string]bool)
	for _, n := range numbers {
		categories[n.Category] = true
	}
	for _, want := range []string{"million", "billion", "employees", "funding", "valuation"} {
		if !categories[want] {
			t.Fatalf("expected category %q extracted, got %v", want, numbers)
		}
	}
}

func TestExtractCompanies(t *testing.T) {
	text := "Acme Corp. partnered with Widget Works Inc. and later Acme Corp. again."
	companies := extractCompanies(text)

	if len(companies) != 2 {
		t.Fatalf("expected 2 unique companies, got %v", companies)
	}
}

func TestCompileTimelineSortedAndNormalized(t *testing.T) {
	news := &NewsStage{Records: []fetch.Record{
		{Title: "old", PublishedAt: "Mon, 02 Jan 2023 15:04:05 +0000", Source: "wire"},
		{Title: "no date"},
		{Title: "new", PublishedAt: "2024-06-01"},
	}}

	events := compileTimeline(news)
	if len(events) != 2 {
		t.Fatalf("expected dateless records skipped, got %d events", len(events))
	}
	if events[0].Title != "new" || events[0].Date != "2024-06-01" {
		t.Fatalf("expected newest first with normalized date, got %+v", events[0])
	}
	if events[1].Date != "2023-01-02" {
		t.Fatalf("expected RFC1123Z date normalized, got %q", events[1].Date)
	}
	for _, e := range events {
		if e.Type != "news" {
			t.Fatalf("unexpected event type %q", e.Type)
		}
	}
}

func TestCompileKeyFactsMergesSources(t *testing.T) {
	a := fixedAnalyzer()
	b := &Bundle{
		Financials: &fetch.FinancialReport{
			Success: true,
			Ticker:  "ACME",
			Company: fetch.CompanyInfo{Name: "Acme Corporation", Exchange: "NasdaqGS", Currency: "USD"},
			Stock:   fetch.StockData{MarketCapFormatted: "$2.50B"},
		},
		Wikipedia: &fetch.WikipediaReport{
			Success: true,
			Infobox: map[string]string{"founded": "1946", "headquarters": "Phoenix, Arizona"},
		},
		Edgar: &fetch.EdgarReport{
			Success: true,
			CIK:     "0000320193",
			CompanyInfo: &fetch.EdgarCompanyInfo{
				SICDescription: "Electronic Computers",
				State:          "CA",
			},
		},
		Social: &fetch.SocialReport{PresenceScore: 0.5, Found: 4, Checked: 8},
	}

	facts := a.compileKeyFacts(b)

	expect := map[string]string{
		"company_name":           "Acme Corporation",
		"ticker":                 "ACME",
		"market_cap":             "$2.50B",
		"founded":                "1946",
		"headquarters":           "Phoenix, Arizona",
		"sec_cik":                "0000320193",
		"sic_description":        "Electronic Computers",
		"state_of_incorporation": "CA",
		"social_presence_score":  "50%",
	}
	for key, want := range expect {
		if got := facts[key]; got != want {
			t.Fatalf("fact %q = %q, want %q", key, got, want)
		}
	}
}

func TestCompileSWOT(t *testing.T) {
	a := fixedAnalyzer()

	// 十分なポジティブシグナル + 強いソーシャル + 上場 → 強み3つ
	text := strings.Join(positiveWords[:5], " ")
	b := &Bundle{
		Financials: &fetch.FinancialReport{
			Success: true,
			Stock:   fetch.StockData{MarketCapFormatted: "$1.00B"},
		},
		Social: &fetch.SocialReport{Found: 5, Checked: 8},
	}
	analysis := &Analysis{Sentiment: a.scoreSentiment(text)}
	swot := a.compileSWOT(analysis, b)

	if len(swot.Strengths) != 3 {
		t.Fatalf("expected 3 strengths, got %v", swot.Strengths)
	}
	if len(swot.Threats) != 0 {
		t.Fatalf("expected no threats, got %v", swot.Threats)
	}

	// 非上場 + ネガティブ報道 → 弱みと脅威
	negText := strings.Join(negativeWords[:4], " ")
	b2 := &Bundle{Financials: &fetch.FinancialReport{Success: false}}
	analysis2 := &Analysis{Sentiment: a.scoreSentiment(negText)}
	swot2 := a.compileSWOT(analysis2, b2)

	if len(swot2.Weaknesses) != 1 {
		t.Fatalf("expected weakness for missing financials, got %v", swot2.Weaknesses)
	}
	if len(swot2.Threats) != 1 {
		t.Fatalf("expected threat for negative coverage, got %v", swot2.Threats)
	}
}

func TestCompileDataSources(t *testing.T) {
	b := &Bundle{
		Search: &SearchStage{Records: []fetch.Record{{}, {}}},
		News:   &NewsStage{Records: []fetch.Record{{}}},
		Pages:  []fetch.PageContent{{}, {}, {}},
		Social: &fetch.SocialReport{Found: 2},
	}

	ds := compileDataSources(b)
	if ds.SearchResults != 2 || ds.NewsArticles != 1 || ds.PagesExtracted != 3 || ds.SocialProfiles != 2 {
		t.Fatalf("unexpected data sources %+v", ds)
	}
	if ds.HasFinancials || ds.HasWikipedia || ds.HasEdgar {
		t.Fatalf("expected missing stages reported as absent, got %+v", ds)
	}
}
