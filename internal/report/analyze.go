package report

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Sentiment はキーワード計数による素朴なセンチメント評価です。
type Sentiment struct {
	Label           string  `json:"sentiment"`
	Score           float64 `json:"score"`
	PositiveSignals int     `json:"positive_signals"`
	NegativeSignals int     `json:"negative_signals"`
}

// TimelineEvent はニュース由来の時系列イベント1件です。
type TimelineEvent struct {
	Date   string `json:"date"`
	Title  string `json:"title"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// KeyNumber は本文から抽出した金額・人数などの数値です。
type KeyNumber struct {
	Value    string `json:"value"`
	Category string `json:"category"`
}

// SWOT は抽出シグナルから組み立てた簡易SWOT分析です。
type SWOT struct {
	Strengths     []string `json:"strengths"`
	Weaknesses    []string `json:"weaknesses"`
	Opportunities []string `json:"opportunities"`
	Threats       []string `json:"threats"`
}

// DataSources は分析に使えたステージの要約です。
type DataSources struct {
	SearchResults  int  `json:"search_results"`
	NewsArticles   int  `json:"news_articles"`
	PagesExtracted int  `json:"pages_extracted"`
	HasFinancials  bool `json:"has_financials"`
	HasWikipedia   bool `json:"has_wikipedia"`
	HasEdgar       bool `json:"has_edgar"`
	SocialProfiles int  `json:"social_profiles"`
}

// Analysis は分析ステージの成果物です。
type Analysis struct {
	Success            bool              `json:"success"`
	KeyFacts           map[string]string `json:"key_facts"`
	KeyPeople          []string          `json:"key_people"`
	KeyNumbers         []KeyNumber       `json:"key_numbers"`
	MentionedCompanies []string          `json:"mentioned_companies"`
	Sentiment          Sentiment         `json:"sentiment"`
	Timeline           []TimelineEvent   `json:"timeline"`
	SWOT               SWOT              `json:"swot"`
	DataSources        DataSources       `json:"data_sources"`
	AnalyzedAt         string            `json:"analyzed_at"`
}

// 抽出パターン群。正規表現ベースのヒューリスティックであり、
// 精度保証はベストエフォートです。
var (
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`),
		regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4})\b`),
		regexp.MustCompile(`(?i)\b((?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4})\b`),
	}

	numberPatterns = []struct {
		pattern  *regexp.Regexp
		category string
	}{
		{regexp.MustCompile(`(?i)\$[\d,]+(?:\.\d+)?\s*(?:billion|B)\b`), "billion"},
		{regexp.MustCompile(`(?i)\$[\d,]+(?:\.\d+)?\s*(?:million|M)\b`), "million"},
		{regexp.MustCompile(`(?i)(\d{1,3}(?:,\d{3})+)\s*employees`), "employees"},
		{regexp.MustCompile(`(?i)raised\s+\$[\d,]+(?:\.\d+)?\s*(?:billion|million|B|M)`), "funding"},
		{regexp.MustCompile(`(?i)valued\s+at\s+\$[\d,]+(?:\.\d+)?\s*(?:billion|million|B|M)`), "valuation"},
	}

	peoplePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:CEO|CTO|CFO|COO|founder|co-founder|president|chairman)\s+([A-Z][a-z]+\s+[A-Z][a-z]+)`),
		regexp.MustCompile(`([A-Z][a-z]+\s+[A-Z][a-z]+),?\s+(?:the\s+)?(?:CEO|CTO|CFO|COO|founder|co-founder|president|chairman)`),
	}

	companyPattern = regexp.MustCompile(`\b([A-Z][a-zA-Z]*(?:\s+[A-Z][a-zA-Z]*)*)\s+(?:Inc\.?|Corp\.?|LLC|Ltd\.?|Company|Co\.)\b`)
)

var positiveWords = []string{
	"growth", "success", "innovative", "leading", "profitable", "expanding",
	"breakthrough", "achievement", "partnership", "launch", "award",
}

var negativeWords = []string{
	"lawsuit", "decline", "loss", "layoff", "controversy", "investigation",
	"failure", "struggle", "debt", "scandal", "criticism",
}

// Thresholds はセンチメント判定とSWOT組み立ての閾値です。
// 元の値は経験的なもので、設定で調整可能にしています。
type Thresholds struct {
	PositiveCutoff  float64 // これを超えると positive
	NegativeCutoff  float64 // これを下回ると negative
	StrengthSignals int     // 強みと見なすポジティブシグナル数
	ThreatSignals   int     // 脅威と見なすネガティブシグナル数
	StrongPresence  int     // 強いソーシャルプレゼンスと見なすプロフィール数
}

// DefaultThresholds は既定の閾値を返します。
func DefaultThresholds() Thresholds {
	return Thresholds{
		PositiveCutoff:  0.2,
		NegativeCutoff:  -0.2,
		StrengthSignals: 3,
		ThreatSignals:   2,
		StrongPresence:  3,
	}
}

// Analyzer は収集済みステージ群を走査して分析成果物を組み立てます。
type Analyzer struct {
	Thresholds Thresholds
	now        func() time.Time
}

// NewAnalyzer は既定の閾値でAnalyzerを生成します。
func NewAnalyzer() *Analyzer {
	return &Analyzer{Thresholds: DefaultThresholds(), now: time.Now}
}

// Analyze はバンドル内の利用可能なステージから洞察を抽出します。
// ステージの欠損は許容し、あるものだけで分析を成立させます。
func (a *Analyzer) Analyze(b *Bundle) *Analysis {
	if a.now == nil {
		a.now = time.Now
	}

	var text strings.Builder
	for _, page := range b.Pages {
		text.WriteString(page.Text)
		text.WriteString("\n")
	}
	if b.Search != nil {
		for _, r := range b.Search.Records {
			text.WriteString(r.Snippet)
			text.WriteString(" ")
		}
	}
	if b.News != nil {
		for _, r := range b.News.Records {
			text.WriteString(r.Snippet)
			text.WriteString(" ")
		}
	}
	if b.Wikipedia != nil {
		text.WriteString(b.Wikipedia.Summary)
	}
	allText := text.String()

	analysis := &Analysis{
		Success:            true,
		KeyFacts:           a.compileKeyFacts(b),
		KeyPeople:          limitStrings(extractPeople(allText), 10),
		KeyNumbers:         limitNumbers(extractNumbers(allText), 10),
		MentionedCompanies: limitStrings(extractCompanies(allText), 10),
		Sentiment:          a.scoreSentiment(allText),
		Timeline:           compileTimeline(b.News),
		DataSources:        compileDataSources(b),
		AnalyzedAt:         a.now().UTC().Format(time.RFC3339),
	}
	analysis.SWOT = a.compileSWOT(analysis, b)
	return analysis
}

func (a *Analyzer) compileKeyFacts(b *Bundle) map[string]string {
	facts := make(map[string]string)

	if b.Financials != nil && b.Financials.Success {
		setFact(facts, "company_name", b.Financials.Company.Name)
		setFact(facts, "exchange", b.Financials.Company.Exchange)
		setFact(facts, "currency", b.Financials.Company.Currency)
		setFact(facts, "market_cap", b.Financials.Stock.MarketCapFormatted)
		setFact(facts, "ticker", b.Financials.Ticker)
	}
	if b.Wikipedia != nil && b.Wikipedia.Success {
		for key, value := range b.Wikipedia.Infobox {
			setFact(facts, key, value)
		}
	}
	if b.Edgar != nil && b.Edgar.Success && b.Edgar.CompanyInfo != nil {
		setFact(facts, "sec_cik", b.Edgar.CIK)
		setFact(facts, "sic_description", b.Edgar.CompanyInfo.SICDescription)
		setFact(facts, "state_of_incorporation", b.Edgar.CompanyInfo.State)
	}
	if b.Social != nil {
		setFact(facts, "social_presence_score", fmt.Sprintf("%.0f%%", b.Social.PresenceScore*100))
	}
	return facts
}

func setFact(facts map[string]string, key, value string) {
	if value != "" {
		facts[key] = value
	}
}

func (a *Analyzer) scoreSentiment(text string) Sentiment {
	lower := strings.ToLower(text)

	positive := 0
	for _, word := range positiveWords {
		if strings.Contains(lower, word) {
			positive++
		}
	}
	negative := 0
	for _, word := range negativeWords {
		if strings.Contains(lower, word) {
			negative++
		}
	}

	total := positive + negative
	if total == 0 {
		return Sentiment{Label: "neutral"}
	}

	score := float64(positive-negative) / float64(total)
	label := "neutral"
	if score > a.Thresholds.PositiveCutoff {
		label = "positive"
	} else if score < a.Thresholds.NegativeCutoff {
		label = "negative"
	}

	return Sentiment{
		Label:           label,
		Score:           score,
		PositiveSignals: positive,
		NegativeSignals: negative,
	}
}

func (a *Analyzer) compileSWOT(analysis *Analysis, b *Bundle) SWOT {
	swot := SWOT{
		Strengths:     []string{},
		Weaknesses:    []string{},
		Opportunities: []string{},
		Threats:       []string{},
	}

	if analysis.Sentiment.PositiveSignals > a.Thresholds.StrengthSignals {
		swot.Strengths = append(swot.Strengths, "Positive media coverage")
	}
	if b.Social != nil && b.Social.Found > a.Thresholds.StrongPresence {
		swot.Strengths = append(swot.Strengths, "Strong social media presence")
	}
	if b.Financials != nil && b.Financials.Success && b.Financials.Stock.MarketCapFormatted != "" {
		swot.Strengths = append(swot.Strengths, "Publicly traded with available market data")
	}
	if analysis.Sentiment.NegativeSignals > a.Thresholds.ThreatSignals {
		swot.Threats = append(swot.Threats, "Some negative media coverage")
	}
	if b.Financials != nil && !b.Financials.Success {
		swot.Weaknesses = append(swot.Weaknesses, "Limited public financial data")
	}
	return swot
}

func compileTimeline(news *NewsStage) []TimelineEvent {
	if news == nil {
		return nil
	}

	var events []TimelineEvent
	for _, r := range news.Records {
		if r.PublishedAt == "" {
			continue
		}
		date := r.PublishedAt
		if parsed, ok := parseEventDate(date); ok {
			date = parsed.Format("2006-01-02")
		} else if len(date) > 10 {
			date = date[:10]
		}
		events = append(events, TimelineEvent{
			Date:   date,
			Title:  r.Title,
			Source: r.Source,
			Type:   "news",
		})
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Date > events[j].Date })
	if len(events) > 20 {
		events = events[:20]
	}
	return events
}

func compileDataSources(b *Bundle) DataSources {
	ds := DataSources{PagesExtracted: len(b.Pages)}
	if b.Search != nil {
		ds.SearchResults = len(b.Search.Records)
	}
	if b.News != nil {
		ds.NewsArticles = len(b.News.Records)
	}
	if b.Financials != nil {
		ds.HasFinancials = b.Financials.Success
	}
	if b.Wikipedia != nil {
		ds.HasWikipedia = b.Wikipedia.Success
	}
	if b.Edgar != nil {
		ds.HasEdgar = b.Edgar.Success
	}
	if b.Social != nil {
		ds.SocialProfiles = b.Social.Found
	}
	return ds
}

func extractNumbers(text string) []KeyNumber {
	var numbers []KeyNumber
	for _, p := range numberPatterns {
		for _, match := range p.pattern.FindAllString(text, -1) {
			numbers = append(numbers, KeyNumber{Value: match, Category: p.category})
		}
	}
	return numbers
}

func extractPeople(text string) []string {
	seen := make(map[string]bool)
	var people []string
	for _, p := range peoplePatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			name := strings.TrimSpace(m[1])
			if name != "" && !seen[name] {
				seen[name] = true
				people = append(people, name)
			}
		}
	}
	return people
}

func extractCompanies(text string) []string {
	seen := make(map[string]bool)
	var companies []string
	for _, m := range companyPattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		if name != "" && !seen[name] {
			seen[name] = true
			companies = append(companies, name)
		}
	}
	return companies
}

func limitStrings(items []string, max int) []string {
	if len(items) > max {
		return items[:max]
	}
	return items
}

func limitNumbers(items []KeyNumber, max int) []KeyNumber {
	if len(items) > max {
		return items[:max]
	}
	return items
}

var eventDateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

func parseEventDate(value string) (time.Time, bool) {
	for _, layout := range eventDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
