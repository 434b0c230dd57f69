package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

const (
	edgarSubmissionsEndpoint = "https://data.sec.gov/submissions"
	edgarFactsEndpoint       = "https://data.sec.gov/api/xbrl/companyfacts"
	edgarTickersEndpoint     = "https://www.sec.gov/files/company_tickers.json"
	edgarBrowseEndpoint      = "https://www.sec.gov/cgi-bin/browse-edgar"
)

// 重要な提出書類フォーム。これ以外はノイズとして間引きます。
var importantForms = []string{"10-K", "10-Q", "8-K", "DEF 14A", "S-1", "424B"}

// XBRLから抽出する主要財務メトリクス。
var edgarKeyMetrics = []string{
	"Revenues",
	"RevenueFromContractWithCustomerExcludingAssessedTax",
	"NetIncomeLoss",
	"EarningsPerShareBasic",
	"Assets",
	"Liabilities",
	"StockholdersEquity",
	"CashAndCashEquivalentsAtCarryingValue",
	"CommonStockSharesOutstanding",
}

// EdgarFiling は1件の提出書類メタデータです。
type EdgarFiling struct {
	Form      string `json:"form"`
	Date      string `json:"date"`
	Document  string `json:"document"`
	Accession string `json:"accession"`
}

// EdgarFact は1メトリクスの最新年次報告値です。
type EdgarFact struct {
	Value   float64 `json:"value"`
	EndDate string  `json:"end_date"`
	Form    string  `json:"form"`
}

// EdgarCompanyInfo はSECに登録された企業情報です。
type EdgarCompanyInfo struct {
	CIK            string        `json:"cik"`
	Name           string        `json:"name"`
	Ticker         string        `json:"ticker,omitempty"`
	SIC            string        `json:"sic,omitempty"`
	SICDescription string        `json:"sic_description,omitempty"`
	State          string        `json:"state,omitempty"`
	FiscalYearEnd  string        `json:"fiscal_year_end,omitempty"`
	Exchanges      []string      `json:"exchanges,omitempty"`
	RecentFilings  []EdgarFiling `json:"recent_filings,omitempty"`
	FilingsCount   int           `json:"filings_count"`
}

// EdgarReport は規制当局提出書類ステージの出力です。
type EdgarReport struct {
	Success     bool                 `json:"success"`
	CIK         string               `json:"cik,omitempty"`
	Query       string               `json:"query,omitempty"`
	CompanyInfo *EdgarCompanyInfo    `json:"company_info,omitempty"`
	Facts       map[string]EdgarFact `json:"financial_facts,omitempty"`
	Error       string               `json:"error,omitempty"`
	Source      string               `json:"source,omitempty"`
}

// EdgarAdapter はSEC EDGARから提出書類と財務ファクトを取得します。
// SECはUser-Agentに連絡先を含めることを要求します。
type EdgarAdapter struct {
	Client              *Client
	UserAgent           string // SEC向け連絡先入りUA
	SubmissionsEndpoint string
	FactsEndpoint       string
	TickersEndpoint     string
	BrowseEndpoint      string
}

func (a *EdgarAdapter) headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if a.UserAgent != "" {
		h["User-Agent"] = a.UserAgent
	}
	return h
}

// ResolveCIK は識別子をCIKへ解決します。解決戦略は
// 直接CIK → ティッカー対応表 → 名前検索 の順に試します。
func (a *EdgarAdapter) ResolveCIK(ctx context.Context, company, cik, ticker string) (string, error) {
	if cik != "" {
		return strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(cik), "CIK")), nil
	}
	if ticker != "" {
		resolved, err := a.cikFromTicker(ctx, ticker)
		if err != nil {
			return "", err
		}
		if resolved == "" {
			return "", Permanent(fmt.Errorf("could not find CIK for ticker: %s", ticker))
		}
		return resolved, nil
	}
	if company != "" {
		resolved, err := a.cikFromName(ctx, company)
		if err != nil {
			return "", err
		}
		if resolved == "" {
			return "", Permanent(fmt.Errorf("company not found in SEC database: %s", company))
		}
		return resolved, nil
	}
	return "", Permanent(fmt.Errorf("no company identifier provided"))
}

type tickerEntry struct {
	CIK    json.Number `json:"cik_str"`
	Ticker string      `json:"ticker"`
}

func (a *EdgarAdapter) cikFromTicker(ctx context.Context, ticker string) (string, error) {
	endpoint := a.TickersEndpoint
	if endpoint == "" {
		endpoint = edgarTickersEndpoint
	}
	body, err := a.Client.Get(ctx, endpoint, a.headers())
	if err != nil {
		return "", err
	}

	var entries map[string]tickerEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return "", err
	}

	upper := strings.ToUpper(ticker)
	for _, e := range entries {
		if strings.ToUpper(e.Ticker) == upper {
			return padCIK(e.CIK.String()), nil
		}
	}
	return "", nil
}

var (
	atomEntryPattern = regexp.MustCompile(`(?s)<entry>(.*?)</entry>`)
	atomTitlePattern = regexp.MustCompile(`<title>([^<]+)</title>`)
	atomCIKPattern   = regexp.MustCompile(`CIK=(\d+)`)
)

func (a *EdgarAdapter) cikFromName(ctx context.Context, company string) (string, error) {
	endpoint := a.BrowseEndpoint
	if endpoint == "" {
		endpoint = edgarBrowseEndpoint
	}
	reqURL := fmt.Sprintf("%s?action=getcompany&company=%s&owner=include&count=10&output=atom",
		endpoint, url.QueryEscape(company))
	body, err := a.Client.Get(ctx, reqURL, a.headers())
	if err != nil {
		return "", err
	}

	for _, entry := range atomEntryPattern.FindAllStringSubmatch(string(body), 5) {
		if m := atomCIKPattern.FindStringSubmatch(entry[1]); m != nil {
			if atomTitlePattern.MatchString(entry[1]) {
				return padCIK(m[1]), nil
			}
		}
	}
	return "", nil
}

func padCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	for len(cik) < 10 {
		cik = "0" + cik
	}
	return cik
}

type submissionsResponse struct {
	CIK     json.Number `json:"cik"`
	Name    string      `json:"name"`
	Tickers []string    `json:"tickers"`
	SIC     string      `json:"sic"`
	SICDesc string      `json:"sicDescription"`
	State   string      `json:"stateOfIncorporation"`
	FYEnd   string      `json:"fiscalYearEnd"`
	Exch    []string    `json:"exchanges"`
	Filings struct {
		Recent struct {
			Form            []string `json:"form"`
			FilingDate      []string `json:"filingDate"`
			PrimaryDocument []string `json:"primaryDocument"`
			AccessionNumber []string `json:"accessionNumber"`
		} `json:"recent"`
	} `json:"filings"`
}

// CompanyInfo はCIKに対応する企業情報と直近の重要提出書類を取得します。
func (a *EdgarAdapter) CompanyInfo(ctx context.Context, cik string) (*EdgarCompanyInfo, error) {
	endpoint := a.SubmissionsEndpoint
	if endpoint == "" {
		endpoint = edgarSubmissionsEndpoint
	}
	body, err := a.Client.Get(ctx, fmt.Sprintf("%s/CIK%s.json", endpoint, padCIK(cik)), a.headers())
	if err != nil {
		return nil, err
	}

	var parsed submissionsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	recent := parsed.Filings.Recent
	var filings []EdgarFiling
	for i := 0; i < len(recent.Form) && i < 20; i++ {
		filing := EdgarFiling{Form: recent.Form[i]}
		if i < len(recent.FilingDate) {
			filing.Date = recent.FilingDate[i]
		}
		if i < len(recent.PrimaryDocument) {
			filing.Document = recent.PrimaryDocument[i]
		}
		if i < len(recent.AccessionNumber) {
			filing.Accession = recent.AccessionNumber[i]
		}
		filings = append(filings, filing)
	}

	var important []EdgarFiling
	for _, f := range filings {
		for _, form := range importantForms {
			if strings.Contains(f.Form, form) {
				important = append(important, f)
				break
			}
		}
	}
	if len(important) > 10 {
		important = important[:10]
	}

	info := &EdgarCompanyInfo{
		CIK:            parsed.CIK.String(),
		Name:           parsed.Name,
		SIC:            parsed.SIC,
		SICDescription: parsed.SICDesc,
		State:          parsed.State,
		FiscalYearEnd:  parsed.FYEnd,
		Exchanges:      parsed.Exch,
		RecentFilings:  important,
		FilingsCount:   len(filings),
	}
	if len(parsed.Tickers) > 0 {
		info.Ticker = parsed.Tickers[0]
	}
	return info, nil
}

type factsResponse struct {
	Facts struct {
		USGAAP map[string]struct {
			Units map[string][]struct {
				Val  float64 `json:"val"`
				End  string  `json:"end"`
				Form string  `json:"form"`
			} `json:"units"`
		} `json:"us-gaap"`
	} `json:"facts"`
}

// CompanyFacts はXBRLの財務ファクトを取得し、メトリクスごとに
// 最新の年次報告（10-K）の値だけを残します。
func (a *EdgarAdapter) CompanyFacts(ctx context.Context, cik string) (map[string]EdgarFact, error) {
	endpoint := a.FactsEndpoint
	if endpoint == "" {
		endpoint = edgarFactsEndpoint
	}
	body, err := a.Client.Get(ctx, fmt.Sprintf("%s/CIK%s.json", endpoint, padCIK(cik)), a.headers())
	if err != nil {
		return nil, err
	}

	var parsed factsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	facts := make(map[string]EdgarFact)
	for _, metric := range edgarKeyMetrics {
		entry, ok := parsed.Facts.USGAAP[metric]
		if !ok {
			continue
		}
		values := entry.Units["USD"]
		if len(values) == 0 {
			values = entry.Units["shares"]
		}

		var annual []struct {
			Val  float64 `json:"val"`
			End  string  `json:"end"`
			Form string  `json:"form"`
		}
		for _, v := range values {
			if v.Form == "10-K" {
				annual = append(annual, v)
			}
		}
		if len(annual) == 0 {
			continue
		}
		sort.Slice(annual, func(i, j int) bool { return annual[i].End > annual[j].End })
		facts[metric] = EdgarFact{
			Value:   annual[0].Val,
			EndDate: annual[0].End,
			Form:    annual[0].Form,
		}
	}
	return facts, nil
}

// FetchReport は識別子の解決から企業情報・財務ファクトの取得までを
// まとめて行い、失敗を構造化した EdgarReport に畳み込みます。
func (a *EdgarAdapter) FetchReport(ctx context.Context, company, cik, ticker string) *EdgarReport {
	query := company
	if query == "" {
		query = ticker
	}
	if query == "" {
		query = cik
	}

	resolved, err := a.ResolveCIK(ctx, company, cik, ticker)
	if err != nil {
		return &EdgarReport{Success: false, Query: query, Error: err.Error()}
	}

	info, err := a.CompanyInfo(ctx, resolved)
	if err != nil {
		return &EdgarReport{Success: false, CIK: resolved, Query: query, Error: err.Error()}
	}

	// ファクト取得は任意扱い。失敗してもレポート自体は成立する。
	facts, err := a.CompanyFacts(ctx, resolved)
	if err != nil {
		facts = nil
	}

	return &EdgarReport{
		Success:     true,
		CIK:         resolved,
		Query:       query,
		CompanyInfo: info,
		Facts:       facts,
		Source:      "sec_edgar",
	}
}
