package report

import (
	"html/template"
	"os"
	"path/filepath"
	"time"
)

// HTMLCompiler は分析結果からスタイル付きHTMLレポートを生成します。
type HTMLCompiler struct {
	tmpl *template.Template
	now  func() time.Time
}

// NewHTMLCompiler はテンプレートを解析してHTMLCompilerを生成します。
func NewHTMLCompiler() (*HTMLCompiler, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"mulScore": func(score float64) float64 { return score * 100 },
	}).Parse(reportTemplate)
	if err != nil {
		return nil, err
	}
	return &HTMLCompiler{tmpl: tmpl, now: time.Now}, nil
}

type reportView struct {
	Target      string
	GeneratedAt string
	Analysis    *Analysis
	Bundle      *Bundle
	HasFin      bool
	HasEdgar    bool
	HasSocial   bool
}

// CompileToFile はレポートを作業ディレクトリの REPORT.html に書き込みます。
func (c *HTMLCompiler) CompileToFile(target string, b *Bundle) (string, error) {
	if c.now == nil {
		c.now = time.Now
	}
	analysis := b.Analysis
	if analysis == nil {
		analysis = &Analysis{KeyFacts: map[string]string{}}
	}

	view := reportView{
		Target:      target,
		GeneratedAt: c.now().UTC().Format("2006-01-02 15:04 UTC"),
		Analysis:    analysis,
		Bundle:      b,
		HasFin:      b.Financials != nil && b.Financials.Success,
		HasEdgar:    b.Edgar != nil && b.Edgar.Success && b.Edgar.CompanyInfo != nil,
		HasSocial:   b.Social != nil && len(b.Social.Profiles) > 0,
	}

	path := filepath.Join(b.Dir, ArtifactHTML)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := c.tmpl.Execute(f, view); err != nil {
		return "", err
	}
	return path, nil
}

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Research Dossier: {{.Target}}</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; max-width: 900px; margin: 0 auto; padding: 2rem; color: #1a202c; line-height: 1.6; }
  header { border-bottom: 3px solid #2b6cb0; padding-bottom: 1rem; margin-bottom: 2rem; }
  h1 { color: #2b6cb0; margin-bottom: 0.25rem; }
  h2 { color: #2c5282; border-bottom: 1px solid #e2e8f0; padding-bottom: 0.3rem; margin-top: 2rem; }
  .meta { color: #718096; font-size: 0.9rem; }
  .facts { display: grid; grid-template-columns: repeat(auto-fill, minmax(260px, 1fr)); gap: 0.5rem; }
  .fact { background: #f7fafc; border-left: 3px solid #2b6cb0; padding: 0.5rem 0.75rem; border-radius: 0 4px 4px 0; }
  .fact b { display: block; font-size: 0.75rem; text-transform: uppercase; color: #718096; }
  .sentiment { display: inline-block; padding: 0.2rem 0.75rem; border-radius: 999px; font-weight: 600; }
  .sentiment.positive { background: #c6f6d5; color: #22543d; }
  .sentiment.negative { background: #fed7d7; color: #822727; }
  .sentiment.neutral { background: #e2e8f0; color: #2d3748; }
  ul.timeline { list-style: none; padding-left: 0; }
  ul.timeline li { padding: 0.4rem 0; border-bottom: 1px dashed #e2e8f0; }
  ul.timeline .date { font-weight: 600; color: #2b6cb0; margin-right: 0.5rem; }
  .swot { display: grid; grid-template-columns: 1fr 1fr; gap: 1rem; }
  .swot div { background: #f7fafc; padding: 1rem; border-radius: 6px; }
  .swot h3 { margin-top: 0; font-size: 0.95rem; }
  footer { margin-top: 3rem; color: #a0aec0; font-size: 0.8rem; border-top: 1px solid #e2e8f0; padding-top: 1rem; }
  a { color: #2b6cb0; }
  .empty { color: #a0aec0; font-style: italic; }
</style>
</head>
<body>
<header>
  <h1>Research Dossier: {{.Target}}</h1>
  <p class="meta">Generated {{.GeneratedAt}} · {{.Analysis.DataSources.SearchResults}} search results · {{.Analysis.DataSources.NewsArticles}} news articles</p>
</header>

<h2>Overall Sentiment</h2>
<p><span class="sentiment {{.Analysis.Sentiment.Label}}">{{.Analysis.Sentiment.Label}}</span>
 (score {{printf "%.2f" .Analysis.Sentiment.Score}}, {{.Analysis.Sentiment.PositiveSignals}} positive / {{.Analysis.Sentiment.NegativeSignals}} negative signals)</p>

<h2>Key Facts</h2>
{{if .Analysis.KeyFacts}}
<div class="facts">
{{range $key, $value := .Analysis.KeyFacts}}
  <div class="fact"><b>{{$key}}</b>{{$value}}</div>
{{end}}
</div>
{{else}}<p class="empty">No structured data available</p>{{end}}

{{if .HasFin}}
<h2>Financial Overview</h2>
<div class="facts">
  <div class="fact"><b>Current Price</b>${{printf "%.2f" .Bundle.Financials.Stock.CurrentPrice}}</div>
  {{if .Bundle.Financials.Stock.MarketCapFormatted}}<div class="fact"><b>Market Cap</b>{{.Bundle.Financials.Stock.MarketCapFormatted}}</div>{{end}}
  {{if .Bundle.Financials.Stock.FiftyTwoWeekHigh}}<div class="fact"><b>52-Week High</b>${{printf "%.2f" .Bundle.Financials.Stock.FiftyTwoWeekHigh}}</div>{{end}}
  {{if .Bundle.Financials.Stock.FiftyTwoWeekLow}}<div class="fact"><b>52-Week Low</b>${{printf "%.2f" .Bundle.Financials.Stock.FiftyTwoWeekLow}}</div>{{end}}
  {{if .Bundle.Financials.Stock.TrailingPE}}<div class="fact"><b>P/E Ratio</b>{{printf "%.2f" .Bundle.Financials.Stock.TrailingPE}}</div>{{end}}
</div>
{{end}}

{{if .HasEdgar}}
<h2>Regulatory Filings</h2>
<p>{{.Bundle.Edgar.CompanyInfo.Name}} (CIK {{.Bundle.Edgar.CIK}}){{if .Bundle.Edgar.CompanyInfo.SICDescription}} · {{.Bundle.Edgar.CompanyInfo.SICDescription}}{{end}}</p>
{{if .Bundle.Edgar.CompanyInfo.RecentFilings}}
<ul>
{{range .Bundle.Edgar.CompanyInfo.RecentFilings}}<li><b>{{.Form}}</b> ({{.Date}})</li>
{{end}}
</ul>
{{end}}
{{end}}

<h2>Recent News &amp; Developments</h2>
{{if .Analysis.Timeline}}
<ul class="timeline">
{{range .Analysis.Timeline}}<li><span class="date">{{.Date}}</span>{{.Title}}{{if .Source}} <em>({{.Source}})</em>{{end}}</li>
{{end}}
</ul>
{{else}}<p class="empty">No recent events found</p>{{end}}

{{if .HasSocial}}
<h2>Online Presence</h2>
<p>Presence score: {{printf "%.0f" (mulScore .Bundle.Social.PresenceScore)}}%</p>
<ul>
{{range .Bundle.Social.Profiles}}<li><b>{{.Label}}:</b> <a href="{{.URL}}">{{.URL}}</a></li>
{{end}}
</ul>
{{end}}

<h2>Key People</h2>
{{if .Analysis.KeyPeople}}
<ul>{{range .Analysis.KeyPeople}}<li>{{.}}</li>{{end}}</ul>
{{else}}<p class="empty">No key people identified</p>{{end}}

<h2>SWOT Analysis</h2>
<div class="swot">
  <div><h3>Strengths</h3>{{if .Analysis.SWOT.Strengths}}<ul>{{range .Analysis.SWOT.Strengths}}<li>{{.}}</li>{{end}}</ul>{{else}}<p class="empty">None identified</p>{{end}}</div>
  <div><h3>Weaknesses</h3>{{if .Analysis.SWOT.Weaknesses}}<ul>{{range .Analysis.SWOT.Weaknesses}}<li>{{.}}</li>{{end}}</ul>{{else}}<p class="empty">None identified</p>{{end}}</div>
  <div><h3>Opportunities</h3>{{if .Analysis.SWOT.Opportunities}}<ul>{{range .Analysis.SWOT.Opportunities}}<li>{{.}}</li>{{end}}</ul>{{else}}<p class="empty">None identified</p>{{end}}</div>
  <div><h3>Threats</h3>{{if .Analysis.SWOT.Threats}}<ul>{{range .Analysis.SWOT.Threats}}<li>{{.}}</li>{{end}}</ul>{{else}}<p class="empty">None identified</p>{{end}}</div>
</div>

<h2>Sources</h2>
{{if and .Bundle.Search .Bundle.Search.Records}}
<ul>
{{range .Bundle.Search.Records}}<li><a href="{{.URL}}">{{if .Title}}{{.Title}}{{else}}{{.URL}}{{end}}</a></li>
{{end}}
</ul>
{{else}}<p class="empty">No sources recorded</p>{{end}}

<footer>This dossier was automatically generated. Verify critical information from primary sources.</footer>
</body>
</html>
`
