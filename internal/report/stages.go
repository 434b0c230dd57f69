package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/yourusername/dossier-forge/internal/fetch"
)

// ステージ成果物のファイル名。数値プレフィックスがパイプラインの
// 実行順を表すため、マニフェストなしで順序を復元できます。
const (
	StageSearch     = "01_search_results.json"
	StagePagesDir   = "03_pages"
	StageNews       = "04_news.json"
	StageFinancials = "05_financials.json"
	StageSocial     = "06_social.json"
	StageWikipedia  = "07_wikipedia.json"
	StageEdgar      = "08_sec_edgar.json"
	StageAnalysis   = "09_analysis.json"
	ArtifactMD      = "DOSSIER.md"
	ArtifactHTML    = "REPORT.html"
)

// SearchStage は検索ステージの成果物です。
type SearchStage struct {
	Success bool           `json:"success"`
	Query   string         `json:"query"`
	Count   int            `json:"count"`
	Records []fetch.Record `json:"records"`
}

// NewsStage はニュースステージの成果物です。
type NewsStage struct {
	Success bool           `json:"success"`
	Query   string         `json:"query"`
	Count   int            `json:"count"`
	Records []fetch.Record `json:"records"`
}

// Bundle は1ジョブの作業ディレクトリから読み込んだ全ステージです。
// 欠損ステージはnil/ゼロ値のまま保持します。欠損は異常ではありません。
type Bundle struct {
	Dir        string
	Search     *SearchStage
	News       *NewsStage
	Financials *fetch.FinancialReport
	Social     *fetch.SocialReport
	Wikipedia  *fetch.WikipediaReport
	Edgar      *fetch.EdgarReport
	Pages      []fetch.PageContent
	Analysis   *Analysis
}

// LoadBundle は作業ディレクトリの存在するステージファイルだけを読み込みます。
// 壊れたファイルや欠損ファイルは読み飛ばします。
func LoadBundle(dir string) *Bundle {
	b := &Bundle{Dir: dir}

	loadJSON(filepath.Join(dir, StageSearch), &b.Search)
	loadJSON(filepath.Join(dir, StageNews), &b.News)
	loadJSON(filepath.Join(dir, StageFinancials), &b.Financials)
	loadJSON(filepath.Join(dir, StageSocial), &b.Social)
	loadJSON(filepath.Join(dir, StageWikipedia), &b.Wikipedia)
	loadJSON(filepath.Join(dir, StageEdgar), &b.Edgar)
	loadJSON(filepath.Join(dir, StageAnalysis), &b.Analysis)

	pagesDir := filepath.Join(dir, StagePagesDir)
	entries, err := os.ReadDir(pagesDir)
	if err == nil {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			var page fetch.PageContent
			data, err := os.ReadFile(filepath.Join(pagesDir, name))
			if err != nil {
				continue
			}
			if err := json.Unmarshal(data, &page); err != nil {
				continue
			}
			b.Pages = append(b.Pages, page)
		}
	}

	return b
}

func loadJSON(path string, target any) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, target)
}

// WriteStage はステージ成果物をJSONとして書き込みます。
func WriteStage(dir, name string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0644)
}
