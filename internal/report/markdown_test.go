package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/yourusername/dossier-forge/internal/fetch"
)

func fixedMarkdownCompiler() *MarkdownCompiler {
	return &MarkdownCompiler{now: func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}}
}

func TestCompileSearchOnlyBundle(t *testing.T) {
	// 検索ステージだけでも最低限のドシエが成立すること
	b := &Bundle{
		Search: &SearchStage{
			Success: true,
			Query:   "Acme Corp",
			Count:   1,
			Records: []fetch.Record{{Title: "Acme homepage", URL: "https://acme.example.com"}},
		},
	}

	c := fixedMarkdownCompiler()
	content := c.Compile("Acme Corp", b)

	if !strings.HasPrefix(content, "# Research Dossier: Acme Corp") {
		t.Fatalf("unexpected header: %q", content[:60])
	}
	if !strings.Contains(content, "Research compilation for Acme Corp.") {
		t.Fatal("expected fallback summary without wikipedia")
	}
	if !strings.Contains(content, "_No structured data available_") {
		t.Fatal("expected empty key facts placeholder")
	}
	if !strings.Contains(content, "[Acme homepage](https://acme.example.com)") {
		t.Fatal("expected search record listed as source")
	}
	if !strings.Contains(content, "_This dossier was automatically generated") {
		t.Fatal("expected footer disclaimer")
	}
	if strings.Contains(content, "## Financial Overview") {
		t.Fatal("financial section should be omitted without data")
	}
}

func TestCompileFullBundle(t *testing.T) {
	b := &Bundle{
		Wikipedia: &fetch.WikipediaReport{
			Success: true,
			Summary: "Acme Corporation is a fictional company from cartoons.",
		},
		Financials: &fetch.FinancialReport{
			Success: true,
			Stock: fetch.StockData{
				CurrentPrice:       123.45,
				MarketCapFormatted: "$2.50B",
				TrailingPE:         31.2,
			},
		},
		Edgar: &fetch.EdgarReport{
			Success: true,
			CompanyInfo: &fetch.EdgarCompanyInfo{
				Name:           "Acme Corporation",
				CIK:            "320193",
				SICDescription: "Electronic Computers",
				RecentFilings:  []fetch.EdgarFiling{{Form: "10-K", Date: "2024-11-01"}},
			},
			Facts: map[string]fetch.EdgarFact{
				"Revenues": {Value: 250, EndDate: "2024-09-30", Form: "10-K"},
			},
		},
		Social: &fetch.SocialReport{
			PresenceScore: 0.25,
			Profiles: []fetch.SocialProfile{
				{Platform: "github", Label: "GitHub", URL: "https://github.com/acme"},
			},
		},
		Analysis: &Analysis{
			KeyFacts:  map[string]string{"company_name": "Acme Corporation", "market_cap": "$2.50B"},
			KeyPeople: []string{"Jane Smith"},
			Sentiment: Sentiment{Label: "positive", Score: 0.6},
			Timeline:  []TimelineEvent{{Date: "2024-06-01", Title: "Acme expands", Source: "wire"}},
			SWOT:      SWOT{Strengths: []string{"Positive media coverage"}},
		},
	}

	c := fixedMarkdownCompiler()
	content := c.Compile("Acme Corp", b)

	checks := []string{
		"Acme Corporation is a fictional company from cartoons.",
		"**Overall Sentiment:** Positive (score: 0.60)",
		"- **Company Name:** Acme Corporation",
		"- **Market Cap:** $2.50B",
		"- Current Price: $123.45",
		"- P/E Ratio: 31.20",
		"- **Registrant:** Acme Corporation (CIK 320193)",
		"- Revenues: 250 (as of 2024-09-30)",
		"- **2024-06-01**: Acme expands _(wire)_",
		"**Presence Score:** 25%",
		"- **GitHub:** https://github.com/acme",
		"- Jane Smith",
		"- Positive media coverage",
	}
	for _, want := range checks {
		if !strings.Contains(content, want) {
			t.Fatalf("expected dossier to contain %q", want)
		}
	}
}

func TestCompileLongSummaryTruncated(t *testing.T) {
	b := &Bundle{
		Wikipedia: &fetch.WikipediaReport{
			Success: true,
			Summary: strings.Repeat("a", 600),
		},
	}

	c := fixedMarkdownCompiler()
	content := c.Compile("Acme", b)

	if !strings.Contains(content, strings.Repeat("a", 500)+"...") {
		t.Fatal("expected summary truncated at 500 chars with ellipsis")
	}
	if strings.Contains(content, strings.Repeat("a", 501)) {
		t.Fatal("summary not truncated")
	}
}

func TestCompileMultibyteSummaryTruncated(t *testing.T) {
	// 500バイト目が3バイト文字の途中に落ちる要約
	b := &Bundle{
		Wikipedia: &fetch.WikipediaReport{
			Success: true,
			Summary: strings.Repeat("概要", 120),
		},
	}

	c := fixedMarkdownCompiler()
	content := c.Compile("Acme", b)

	if !utf8.ValidString(content) {
		t.Fatal("expected compiled dossier to remain valid UTF-8")
	}
	if strings.ContainsRune(content, utf8.RuneError) {
		t.Fatal("expected no replacement characters in truncated summary")
	}
}

func TestCompileToFile(t *testing.T) {
	dir := t.TempDir()
	b := &Bundle{Dir: dir}

	c := NewMarkdownCompiler()
	path, err := c.CompileToFile("Acme Corp", b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(path) != ArtifactMD {
		t.Fatalf("unexpected artifact name %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read artifact: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty dossier")
	}
}

func TestFactLabel(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"company_name", "Company Name"},
		{"sec_cik", "Sec Cik"},
		{"ticker", "Ticker"},
	}
	for _, tc := range cases {
		if got := factLabel(tc.in); got != tc.want {
			t.Fatalf("factLabel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
