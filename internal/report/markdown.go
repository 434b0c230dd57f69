package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// MarkdownCompiler は収集済みステージからMarkdown版ドシエを組み立てます。
// どのステージが欠けていても最低限のレポートを成立させます。
type MarkdownCompiler struct {
	now func() time.Time
}

// NewMarkdownCompiler はMarkdownCompilerを生成します。
func NewMarkdownCompiler() *MarkdownCompiler {
	return &MarkdownCompiler{now: time.Now}
}

// Compile はドシエを組み立てて内容を返します。
func (c *MarkdownCompiler) Compile(target string, b *Bundle) string {
	if c.now == nil {
		c.now = time.Now
	}

	analysis := b.Analysis
	if analysis == nil {
		analysis = &Analysis{KeyFacts: map[string]string{}}
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "# Research Dossier: %s\n\n", target)
	fmt.Fprintf(&sb, "**Generated:** %s\n", c.now().UTC().Format("2006-01-02 15:04"))
	fmt.Fprintf(&sb, "**Data Sources:** %d search results, %d news articles\n\n---\n\n",
		analysis.DataSources.SearchResults, analysis.DataSources.NewsArticles)

	c.writeSummary(&sb, target, analysis, b)
	c.writeKeyFacts(&sb, analysis)
	c.writeFinancials(&sb, b)
	c.writeEdgar(&sb, b)
	c.writeTimeline(&sb, analysis)
	c.writeSocial(&sb, b)
	c.writeList(&sb, "Key People Identified", analysis.KeyPeople, "_No key people identified_")
	c.writeList(&sb, "Related Companies Mentioned", analysis.MentionedCompanies, "_No related companies identified_")
	c.writeSWOT(&sb, analysis)
	c.writeSources(&sb, b)

	sb.WriteString("_This dossier was automatically generated. Verify critical information from primary sources._\n")
	return sb.String()
}

// CompileToFile はドシエを作業ディレクトリの DOSSIER.md に書き込みます。
func (c *MarkdownCompiler) CompileToFile(target string, b *Bundle) (string, error) {
	content := c.Compile(target, b)
	path := filepath.Join(b.Dir, ArtifactMD)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}
	return path, nil
}

func (c *MarkdownCompiler) writeSummary(sb *strings.Builder, target string, analysis *Analysis, b *Bundle) {
	summary := fmt.Sprintf("Research compilation for %s.", target)
	if b.Wikipedia != nil && b.Wikipedia.Summary != "" {
		summary = b.Wikipedia.Summary
		if len(summary) > 500 {
			summary = truncateRunes(summary, 500) + "..."
		}
	}

	sb.WriteString("## Executive Summary\n\n")
	sb.WriteString(summary)
	sb.WriteString("\n\n")
	label := analysis.Sentiment.Label
	if label == "" {
		label = "neutral"
	}
	fmt.Fprintf(sb, "**Overall Sentiment:** %s (score: %.2f)\n\n---\n\n",
		capitalize(label), analysis.Sentiment.Score)
}

func (c *MarkdownCompiler) writeKeyFacts(sb *strings.Builder, analysis *Analysis) {
	sb.WriteString("## Key Facts\n\n")
	if len(analysis.KeyFacts) == 0 {
		sb.WriteString("_No structured data available_\n\n---\n\n")
		return
	}

	keys := make([]string, 0, len(analysis.KeyFacts))
	for k := range analysis.KeyFacts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, "- **%s:** %s\n", factLabel(k), analysis.KeyFacts[k])
	}
	sb.WriteString("\n---\n\n")
}

func factLabel(key string) string {
	words := strings.Split(strings.ReplaceAll(key, "_", " "), " ")
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// truncateRunes は s を最大 max バイトに切り詰めます。マルチバイト文字を
// 途中で分断しないよう、必要ならルーン境界まで戻ります。
func truncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func (c *MarkdownCompiler) writeFinancials(sb *strings.Builder, b *Bundle) {
	if b.Financials == nil || !b.Financials.Success {
		return
	}
	stock := b.Financials.Stock

	sb.WriteString("## Financial Overview\n\n")
	sb.WriteString("**Stock Performance:**\n")
	fmt.Fprintf(sb, "- Current Price: $%.2f\n", stock.CurrentPrice)
	if stock.FiftyTwoWeekHigh > 0 {
		fmt.Fprintf(sb, "- 52-Week High: $%.2f\n", stock.FiftyTwoWeekHigh)
	}
	if stock.FiftyTwoWeekLow > 0 {
		fmt.Fprintf(sb, "- 52-Week Low: $%.2f\n", stock.FiftyTwoWeekLow)
	}
	sb.WriteString("\n**Key Metrics:**\n")
	if stock.MarketCapFormatted != "" {
		fmt.Fprintf(sb, "- Market Cap: %s\n", stock.MarketCapFormatted)
	}
	if stock.TrailingPE > 0 {
		fmt.Fprintf(sb, "- P/E Ratio: %.2f\n", stock.TrailingPE)
	}
	if stock.Volume > 0 {
		fmt.Fprintf(sb, "- Volume: %d\n", stock.Volume)
	}
	sb.WriteString("\n---\n\n")
}

func (c *MarkdownCompiler) writeEdgar(sb *strings.Builder, b *Bundle) {
	if b.Edgar == nil || !b.Edgar.Success || b.Edgar.CompanyInfo == nil {
		return
	}
	info := b.Edgar.CompanyInfo

	sb.WriteString("## Regulatory Filings (SEC EDGAR)\n\n")
	fmt.Fprintf(sb, "- **Registrant:** %s (CIK %s)\n", info.Name, info.CIK)
	if info.SICDescription != "" {
		fmt.Fprintf(sb, "- **Industry Classification:** %s\n", info.SICDescription)
	}
	if len(info.RecentFilings) > 0 {
		sb.WriteString("\n**Recent Filings:**\n")
		for _, f := range info.RecentFilings {
			fmt.Fprintf(sb, "- **%s** (%s)\n", f.Form, f.Date)
		}
	}
	if len(b.Edgar.Facts) > 0 {
		sb.WriteString("\n**Reported Financial Facts (latest annual):**\n")
		metrics := make([]string, 0, len(b.Edgar.Facts))
		for m := range b.Edgar.Facts {
			metrics = append(metrics, m)
		}
		sort.Strings(metrics)
		for _, m := range metrics {
			fact := b.Edgar.Facts[m]
			fmt.Fprintf(sb, "- %s: %.0f (as of %s)\n", m, fact.Value, fact.EndDate)
		}
	}
	sb.WriteString("\n---\n\n")
}

func (c *MarkdownCompiler) writeTimeline(sb *strings.Builder, analysis *Analysis) {
	sb.WriteString("## Recent News & Developments\n\n")
	if len(analysis.Timeline) == 0 {
		sb.WriteString("_No recent events found_\n\n---\n\n")
		return
	}
	limit := len(analysis.Timeline)
	if limit > 10 {
		limit = 10
	}
	for _, event := range analysis.Timeline[:limit] {
		line := fmt.Sprintf("- **%s**: %s", event.Date, event.Title)
		if event.Source != "" {
			line += fmt.Sprintf(" _(%s)_", event.Source)
		}
		sb.WriteString(line + "\n")
	}
	sb.WriteString("\n---\n\n")
}

func (c *MarkdownCompiler) writeSocial(sb *strings.Builder, b *Bundle) {
	sb.WriteString("## Online Presence\n\n")
	if b.Social == nil || len(b.Social.Profiles) == 0 {
		sb.WriteString("_No social profiles found_\n\n---\n\n")
		return
	}
	fmt.Fprintf(sb, "**Presence Score:** %.0f%%\n\n", b.Social.PresenceScore*100)
	for _, profile := range b.Social.Profiles {
		fmt.Fprintf(sb, "- **%s:** %s\n", profile.Label, profile.URL)
	}
	sb.WriteString("\n---\n\n")
}

func (c *MarkdownCompiler) writeList(sb *strings.Builder, title string, items []string, empty string) {
	fmt.Fprintf(sb, "## %s\n\n", title)
	if len(items) == 0 {
		sb.WriteString(empty + "\n\n---\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(sb, "- %s\n", item)
	}
	sb.WriteString("\n---\n\n")
}

func (c *MarkdownCompiler) writeSWOT(sb *strings.Builder, analysis *Analysis) {
	sb.WriteString("## SWOT Analysis\n\n")
	categories := []struct {
		title string
		items []string
	}{
		{"Strengths", analysis.SWOT.Strengths},
		{"Weaknesses", analysis.SWOT.Weaknesses},
		{"Opportunities", analysis.SWOT.Opportunities},
		{"Threats", analysis.SWOT.Threats},
	}
	for _, cat := range categories {
		fmt.Fprintf(sb, "**%s:**\n", cat.title)
		if len(cat.items) == 0 {
			sb.WriteString("_None identified_\n\n")
			continue
		}
		for _, item := range cat.items {
			fmt.Fprintf(sb, "- %s\n", item)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("---\n\n")
}

func (c *MarkdownCompiler) writeSources(sb *strings.Builder, b *Bundle) {
	sb.WriteString("## Sources\n\n")
	if b.Search == nil || len(b.Search.Records) == 0 {
		sb.WriteString("_No sources recorded_\n\n---\n\n")
		return
	}
	limit := len(b.Search.Records)
	if limit > 10 {
		limit = 10
	}
	for _, r := range b.Search.Records[:limit] {
		title := r.Title
		if title == "" {
			title = r.URL
		}
		fmt.Fprintf(sb, "- [%s](%s)\n", title, r.URL)
	}
	sb.WriteString("\n---\n\n")
}
