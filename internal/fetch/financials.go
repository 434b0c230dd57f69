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
	yahooSearchEndpoint = "https://query2.finance.yahoo.com/v1/finance/search"
	yahooQuoteEndpoint  = "https://query1.finance.yahoo.com/v7/finance/quote"
)

// TickerMatch は企業名から解決したティッカー情報です。
type TickerMatch struct {
	Ticker   string `json:"ticker"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Type     string `json:"type"`
}

// FinancialReport は財務ステージの出力です。
// 非上場企業では Success=false になりますが、これは正常系です。
type FinancialReport struct {
	Success      bool         `json:"success"`
	Ticker       string       `json:"ticker,omitempty"`
	SearchedFrom string       `json:"searched_from,omitempty"`
	TickerSearch *TickerMatch `json:"ticker_search,omitempty"`
	Company      CompanyInfo  `json:"company,omitempty"`
	Stock        StockData    `json:"stock,omitempty"`
	Error        string       `json:"error,omitempty"`
	Note         string       `json:"note,omitempty"`
	FetchedAt    string       `json:"fetched_at,omitempty"`
}

// CompanyInfo は企業の基本情報です。
type CompanyInfo struct {
	Name     string `json:"name"`
	Ticker   string `json:"ticker"`
	Exchange string `json:"exchange,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// StockData は株価・主要指標です。
type StockData struct {
	CurrentPrice       float64 `json:"current_price"`
	PreviousClose      float64 `json:"previous_close,omitempty"`
	DayHigh            float64 `json:"day_high,omitempty"`
	DayLow             float64 `json:"day_low,omitempty"`
	FiftyTwoWeekHigh   float64 `json:"52_week_high,omitempty"`
	FiftyTwoWeekLow    float64 `json:"52_week_low,omitempty"`
	MarketCap          int64   `json:"market_cap,omitempty"`
	MarketCapFormatted string  `json:"market_cap_formatted,omitempty"`
	TrailingPE         float64 `json:"pe_ratio,omitempty"`
	ForwardPE          float64 `json:"forward_pe,omitempty"`
	Volume             int64   `json:"volume,omitempty"`
	AverageVolume      int64   `json:"avg_volume,omitempty"`
}

// FinancialsAdapter はYahoo Financeの検索APIと株価APIを呼び出します。
type FinancialsAdapter struct {
	Client         *Client
	SearchEndpoint string
	QuoteEndpoint  string
}

type yahooSearchResponse struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		ShortName string `json:"shortname"`
		LongName  string `json:"longname"`
		Exchange  string `json:"exchange"`
		QuoteType string `json:"quoteType"`
	} `json:"quotes"`
}

type yahooQuoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol             string  `json:"symbol"`
			LongName           string  `json:"longName"`
			ShortName          string  `json:"shortName"`
			FullExchangeName   string  `json:"fullExchangeName"`
			Currency           string  `json:"currency"`
			RegularMarketPrice float64 `json:"regularMarketPrice"`
			RegularMarketOpen  float64 `json:"regularMarketOpen"`
			PreviousClose      float64 `json:"regularMarketPreviousClose"`
			DayHigh            float64 `json:"regularMarketDayHigh"`
			DayLow             float64 `json:"regularMarketDayLow"`
			FiftyTwoWeekHigh   float64 `json:"fiftyTwoWeekHigh"`
			FiftyTwoWeekLow    float64 `json:"fiftyTwoWeekLow"`
			MarketCap          int64   `json:"marketCap"`
			TrailingPE         float64 `json:"trailingPE"`
			ForwardPE          float64 `json:"forwardPE"`
			Volume             int64   `json:"regularMarketVolume"`
			AverageVolume      int64   `json:"averageDailyVolume3Month"`
		} `json:"result"`
	} `json:"quoteResponse"`
}

var wordPattern = regexp.MustCompile(`\w+`)

// ResolveTicker は自由記述の企業名からティッカーを解決します。
// EQUITY以外（暗号資産・ETF・投信等）は除外し、企業名の単語が
// 1つ以上一致する候補のみ採用します。見つからなければ nil を返します。
func (a *FinancialsAdapter) ResolveTicker(ctx context.Context, company string) (*TickerMatch, error) {
	endpoint := a.SearchEndpoint
	if endpoint == "" {
		endpoint = yahooSearchEndpoint
	}

	reqURL := fmt.Sprintf("%s?q=%s&quotesCount=10&newsCount=0&enableFuzzyQuery=true",
		endpoint, url.QueryEscape(company))
	body, err := a.Client.Get(ctx, reqURL, nil)
	if err != nil {
		return nil, err
	}

	var parsed yahooSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	searchWords := wordSet(company)
	for _, q := range parsed.Quotes {
		if q.QuoteType != "EQUITY" {
			continue
		}
		name := q.ShortName
		if name == "" {
			name = q.LongName
		}
		if !overlaps(searchWords, wordSet(name)) {
			continue
		}
		return &TickerMatch{
			Ticker:   q.Symbol,
			Name:     name,
			Exchange: q.Exchange,
			Type:     q.QuoteType,
		}, nil
	}

	// EQUITYの妥当な候補がない = 非上場企業の可能性が高い
	return nil, nil
}

func wordSet(s string) map[string]struct{} {
	words := wordPattern.FindAllString(strings.ToLower(s), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func overlaps(a, b map[string]struct{}) bool {
	for w := range a {
		if _, ok := b[w]; ok {
			return true
		}
	}
	return false
}

// FetchQuote は解決済みティッカーの株価と主要指標を取得します。
func (a *FinancialsAdapter) FetchQuote(ctx context.Context, ticker string) (*FinancialReport, error) {
	endpoint := a.QuoteEndpoint
	if endpoint == "" {
		endpoint = yahooQuoteEndpoint
	}

	body, err := a.Client.Get(ctx, endpoint+"?symbols="+url.QueryEscape(ticker), nil)
	if err != nil {
		return nil, err
	}

	var parsed yahooQuoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.QuoteResponse.Result) == 0 {
		return &FinancialReport{
			Success: false,
			Ticker:  ticker,
			Error:   "ticker not found or no data available",
		}, nil
	}

	q := parsed.QuoteResponse.Result[0]
	name := q.LongName
	if name == "" {
		name = q.ShortName
	}

	return &FinancialReport{
		Success: true,
		Ticker:  strings.ToUpper(ticker),
		Company: CompanyInfo{
			Name:     name,
			Ticker:   strings.ToUpper(ticker),
			Exchange: q.FullExchangeName,
			Currency: q.Currency,
		},
		Stock: StockData{
			CurrentPrice:       q.RegularMarketPrice,
			PreviousClose:      q.PreviousClose,
			DayHigh:            q.DayHigh,
			DayLow:             q.DayLow,
			FiftyTwoWeekHigh:   q.FiftyTwoWeekHigh,
			FiftyTwoWeekLow:    q.FiftyTwoWeekLow,
			MarketCap:          q.MarketCap,
			MarketCapFormatted: FormatAmount(float64(q.MarketCap)),
			TrailingPE:         q.TrailingPE,
			ForwardPE:          q.ForwardPE,
			Volume:             q.Volume,
			AverageVolume:      q.AverageVolume,
		},
		FetchedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// FetchForCompany は企業名からティッカー解決と株価取得をまとめて行います。
// ティッカーが解決できない場合は失敗を投げずに Success=false のレポートを返します
// （非上場企業の財務データは「欠損が正常」であるため）。
func (a *FinancialsAdapter) FetchForCompany(ctx context.Context, company string) *FinancialReport {
	match, err := a.ResolveTicker(ctx, company)
	if err != nil {
		return &FinancialReport{
			Success:      false,
			SearchedFrom: company,
			Error:        fmt.Sprintf("ticker search failed: %v", err),
		}
	}
	if match == nil {
		return &FinancialReport{
			Success:      false,
			SearchedFrom: company,
			Error:        "no ticker found - company may be private or not publicly traded",
			Note:         "financial data is only available for publicly traded companies",
		}
	}

	report, err := a.FetchQuote(ctx, match.Ticker)
	if err != nil {
		return &FinancialReport{
			Success:      false,
			Ticker:       match.Ticker,
			SearchedFrom: company,
			Error:        fmt.Sprintf("quote fetch failed: %v", err),
		}
	}
	report.SearchedFrom = company
	report.TickerSearch = match
	return report
}

// FormatAmount は大きな金額を読みやすい形式に整形します。
func FormatAmount(value float64) string {
	abs := value
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1e12:
		return fmt.Sprintf("$%.2fT", value/1e12)
	case abs >= 1e9:
		return fmt.Sprintf("$%.2fB", value/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("$%.2fM", value/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("$%.2fK", value/1e3)
	default:
		return fmt.Sprintf("$%.2f", value)
	}
}
