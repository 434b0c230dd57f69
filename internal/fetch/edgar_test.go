package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const submissionsFixture = `{
	"cik": 320193,
	"name": "Apple Inc.",
	"tickers": ["AAPL"],
	"sic": "3571",
	"sicDescription": "Electronic Computers",
	"stateOfIncorporation": "CA",
	"fiscalYearEnd": "0927",
	"exchanges": ["Nasdaq"],
	"filings": {
		"recent": {
			"form": ["10-K", "4", "8-K", "SC 13G", "10-Q"],
			"filingDate": ["2024-11-01", "2024-10-15", "2024-10-01", "2024-09-20", "2024-08-02"],
			"primaryDocument": ["aapl-10k.htm", "form4.xml", "aapl-8k.htm", "sc13g.htm", "aapl-10q.htm"],
			"accessionNumber": ["0001", "0002", "0003", "0004", "0005"]
		}
	}
}`

const factsFixture = `{
	"facts": {
		"us-gaap": {
			"Revenues": {
				"units": {
					"USD": [
						{"val": 100, "end": "2022-09-30", "form": "10-K"},
						{"val": 250, "end": "2024-09-30", "form": "10-K"},
						{"val": 300, "end": "2024-12-31", "form": "10-Q"},
						{"val": 200, "end": "2023-09-30", "form": "10-K"}
					]
				}
			},
			"CommonStockSharesOutstanding": {
				"units": {
					"shares": [
						{"val": 5000, "end": "2024-09-30", "form": "10-K"}
					]
				}
			}
		}
	}
}`

func newEdgarAdapter(srv *httptest.Server) *EdgarAdapter {
	return &EdgarAdapter{
		Client:              NewClient("test-agent", 5*time.Second),
		UserAgent:           "dossier-forge test@example.com",
		SubmissionsEndpoint: srv.URL,
		FactsEndpoint:       srv.URL,
		TickersEndpoint:     srv.URL,
		BrowseEndpoint:      srv.URL,
	}
}

func TestPadCIK(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"320193", "0000320193"},
		{"0000320193", "0000320193"},
		{" 42 ", "0000000042"},
	}
	for _, tc := range cases {
		if got := padCIK(tc.in); got != tc.want {
			t.Fatalf("padCIK(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolveCIKDirect(t *testing.T) {
	a := &EdgarAdapter{}
	got, err := a.ResolveCIK(context.Background(), "", "CIK0000320193", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0000320193" {
		t.Fatalf("expected CIK prefix stripped, got %q", got)
	}
}

func TestResolveCIKFromTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"0": {"cik_str": 320193, "ticker": "AAPL"}, "1": {"cik_str": 789019, "ticker": "MSFT"}}`))
	}))
	defer srv.Close()

	a := newEdgarAdapter(srv)
	got, err := a.ResolveCIK(context.Background(), "", "", "aapl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0000320193" {
		t.Fatalf("expected padded CIK for AAPL, got %q", got)
	}
}

func TestResolveCIKNoIdentifier(t *testing.T) {
	a := &EdgarAdapter{}
	_, err := a.ResolveCIK(context.Background(), "", "", "")
	if err == nil {
		t.Fatal("expected error without any identifier")
	}
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestCompanyInfoFiltersImportantForms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(submissionsFixture))
	}))
	defer srv.Close()

	a := newEdgarAdapter(srv)
	info, err := a.CompanyInfo(context.Background(), "320193")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if info.Name != "Apple Inc." {
		t.Fatalf("unexpected name %q", info.Name)
	}
	if info.Ticker != "AAPL" {
		t.Fatalf("unexpected ticker %q", info.Ticker)
	}
	if info.FilingsCount != 5 {
		t.Fatalf("expected 5 total filings, got %d", info.FilingsCount)
	}
	// Form 4 と SC 13G はノイズとして除外される
	if len(info.RecentFilings) != 3 {
		t.Fatalf("expected 3 important filings, got %d", len(info.RecentFilings))
	}
	for _, f := range info.RecentFilings {
		if f.Form == "4" || f.Form == "SC 13G" {
			t.Fatalf("noise form %q not filtered", f.Form)
		}
	}
}

func TestCompanyFactsLatestAnnualWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(factsFixture))
	}))
	defer srv.Close()

	a := newEdgarAdapter(srv)
	facts, err := a.CompanyFacts(context.Background(), "320193")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rev, ok := facts["Revenues"]
	if !ok {
		t.Fatal("expected Revenues fact")
	}
	// 10-Qの新しい値ではなく、最新の10-Kの値を採用する
	if rev.Value != 250 || rev.EndDate != "2024-09-30" || rev.Form != "10-K" {
		t.Fatalf("expected latest 10-K value, got %+v", rev)
	}

	shares, ok := facts["CommonStockSharesOutstanding"]
	if !ok {
		t.Fatal("expected shares fact from shares unit fallback")
	}
	if shares.Value != 5000 {
		t.Fatalf("unexpected shares value %v", shares.Value)
	}
}

func TestFetchReportToleratesFactsFailure(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/CIK0000320193.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(submissionsFixture))
	})

	a := &EdgarAdapter{
		Client:              NewClient("test-agent", 5*time.Second),
		SubmissionsEndpoint: srv.URL,
		FactsEndpoint:       srv.URL + "/facts", // 404になる
	}

	report := a.FetchReport(context.Background(), "", "320193", "")
	if !report.Success {
		t.Fatalf("expected success despite facts failure, got error %q", report.Error)
	}
	if report.Facts != nil {
		t.Fatalf("expected nil facts, got %v", report.Facts)
	}
	if report.Source != "sec_edgar" {
		t.Fatalf("unexpected source %q", report.Source)
	}
}
