package fetch

import (
	"context"
	"strings"
	"testing"
)

// queryAwareSearch はクエリ内容に応じて固定結果を返す検索スタブです。
type queryAwareSearch struct {
	byQuery func(query string) Result
}

func (s *queryAwareSearch) Name() string { return "stub_search" }

func (s *queryAwareSearch) Fetch(ctx context.Context, query string, limit int) Result {
	return s.byQuery(query)
}

func TestSocialDiscoverMatchesPlatformPatterns(t *testing.T) {
	search := &queryAwareSearch{byQuery: func(query string) Result {
		switch {
		case strings.Contains(query, "linkedin.com/company"):
			return Ok([]Record{
				{Title: "unrelated", URL: "https://example.com/other"},
				{Title: "Acme on LinkedIn", URL: "https://www.linkedin.com/company/acme-corp"},
			})
		case strings.Contains(query, "github.com"):
			return Ok([]Record{
				{Title: "acme · GitHub", URL: "https://github.com/acme-corp"},
			})
		default:
			return Empty()
		}
	}}

	a := &SocialAdapter{Search: search}
	report := a.Discover(context.Background(), "Acme Corp")

	if !report.Success {
		t.Fatal("expected success")
	}
	if report.Checked != len(socialPlatforms) {
		t.Fatalf("expected all platforms checked, got %d", report.Checked)
	}
	if report.Found != 2 {
		t.Fatalf("expected 2 profiles, got %d", report.Found)
	}

	platforms := make(map[string]SocialProfile)
	for _, p := range report.Profiles {
		platforms[p.Platform] = p
	}
	if p, ok := platforms["linkedin_company"]; !ok || !strings.Contains(p.URL, "linkedin.com/company/acme-corp") {
		t.Fatalf("expected linkedin company profile, got %+v", report.Profiles)
	}
	if _, ok := platforms["github"]; !ok {
		t.Fatalf("expected github profile, got %+v", report.Profiles)
	}

	want := float64(2) / float64(len(socialPlatforms))
	if report.PresenceScore != want {
		t.Fatalf("expected presence score %v, got %v", want, report.PresenceScore)
	}
}

func TestSocialDiscoverSkipsNonMatchingURLs(t *testing.T) {
	search := &queryAwareSearch{byQuery: func(query string) Result {
		return Ok([]Record{{Title: "blog post about acme", URL: "https://blog.example.com/acme"}})
	}}

	a := &SocialAdapter{Search: search}
	report := a.Discover(context.Background(), "Acme Corp")

	if report.Found != 0 {
		t.Fatalf("expected no profiles from non-matching URLs, got %d", report.Found)
	}
	if report.PresenceScore != 0 {
		t.Fatalf("expected zero presence score, got %v", report.PresenceScore)
	}
}

func TestSocialDiscoverStopsOnCanceledContext(t *testing.T) {
	calls := 0
	search := &queryAwareSearch{byQuery: func(query string) Result {
		calls++
		return Empty()
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &SocialAdapter{Search: search}
	report := a.Discover(ctx, "Acme Corp")

	if calls != 0 {
		t.Fatalf("expected no searches after cancellation, got %d", calls)
	}
	if report.Found != 0 {
		t.Fatalf("expected no profiles, got %d", report.Found)
	}
}
