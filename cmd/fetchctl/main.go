// Package main は各ソースアダプターを単体実行するCLIです。
// 論理的な「見つからない」は success:false のJSONで表現し、
// 終了コードはインフラ障害と使い方の誤りのときだけ非ゼロになります。
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yourusername/dossier-forge/internal/config"
	"github.com/yourusername/dossier-forge/internal/fetch"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if err := run(cfg, cmd, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: fetchctl <command> [flags]

commands:
  search      web search (with HTML fallback)
  news        news from RSS feeds (plus NewsAPI if configured)
  financials  ticker resolution and stock quote
  edgar       SEC EDGAR filings and financial facts
  social      social profile discovery
  wikipedia   encyclopedia article lookup
  webpage     page content extraction

common flags: -q <query> -o <output file> --stdin`)
}

// stdinInput は --stdin モードで受け取るJSONです。
type stdinInput struct {
	Query  string `json:"query"`
	URL    string `json:"url"`
	CIK    string `json:"cik"`
	Ticker string `json:"ticker"`
}

func run(cfg *config.Config, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	query := fs.String("q", "", "query or target name")
	pageURL := fs.String("u", "", "page URL (webpage command)")
	cik := fs.String("cik", "", "direct CIK (edgar command)")
	ticker := fs.String("ticker", "", "ticker symbol (edgar command)")
	maxResults := fs.Int("n", 0, "maximum results")
	retries := fs.Int("r", cfg.FetchMaxRetries, "retry attempts for search/news")
	output := fs.String("o", "", "output file (default: stdout)")
	useStdin := fs.Bool("stdin", false, "read JSON input from stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *useStdin {
		var input stdinInput
		if err := json.NewDecoder(os.Stdin).Decode(&input); err != nil {
			return fmt.Errorf("failed to parse stdin input: %w", err)
		}
		if input.Query != "" {
			*query = input.Query
		}
		if input.URL != "" {
			*pageURL = input.URL
		}
		if input.CIK != "" {
			*cik = input.CIK
		}
		if input.Ticker != "" {
			*ticker = input.Ticker
		}
	}

	client := fetch.NewClient(cfg.FetchUserAgent, time.Duration(cfg.FetchTimeoutSec)*time.Second)
	retryer := fetch.NewRetryer(*retries)
	ctx := context.Background()

	var payload any
	switch cmd {
	case "search":
		limit := *maxResults
		if limit <= 0 {
			limit = cfg.SearchMaxResults
		}
		composer := &fetch.Composer{Retryer: retryer, Max: limit}
		result := composer.First(ctx, requireQuery(*query), limit,
			&fetch.SearchAdapter{Client: client},
			&fetch.SearchLiteAdapter{Client: client},
		)
		payload = resultEnvelope(*query, result)

	case "news":
		limit := *maxResults
		if limit <= 0 {
			limit = cfg.NewsMaxResults
		}
		adapters := []fetch.Adapter{
			&fetch.GoogleNewsAdapter{Client: client},
			&fetch.YahooNewsAdapter{Client: client},
		}
		if cfg.NewsAPIKey != "" {
			adapters = append(adapters, &fetch.NewsAPIAdapter{Client: client, APIKey: cfg.NewsAPIKey})
		}
		composer := &fetch.Composer{Retryer: retryer, Max: limit}
		result := composer.Union(ctx, requireQuery(*query), limit, adapters...)
		payload = resultEnvelope(*query, result)

	case "financials":
		adapter := &fetch.FinancialsAdapter{Client: client}
		payload = adapter.FetchForCompany(ctx, requireQuery(*query))

	case "edgar":
		adapter := &fetch.EdgarAdapter{Client: client, UserAgent: cfg.EdgarUserAgent}
		if *query == "" && *cik == "" && *ticker == "" {
			return fmt.Errorf("edgar requires -q, -cik, or -ticker")
		}
		payload = adapter.FetchReport(ctx, *query, *cik, *ticker)

	case "social":
		adapter := &fetch.SocialAdapter{
			Search:  &fetch.SearchAdapter{Client: client},
			Retryer: retryer,
		}
		payload = adapter.Discover(ctx, requireQuery(*query))

	case "wikipedia":
		adapter := &fetch.WikipediaAdapter{Client: client}
		payload = adapter.Lookup(ctx, requireQuery(*query))

	case "webpage":
		if *pageURL == "" {
			return fmt.Errorf("webpage requires -u <url>")
		}
		adapter := &fetch.WebpageAdapter{Client: client}
		payload = adapter.Extract(ctx, *pageURL)

	default:
		usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}

	return writeOutput(*output, payload)
}

func requireQuery(query string) string {
	if query == "" {
		fmt.Fprintln(os.Stderr, "missing required flag: -q <query>")
		os.Exit(2)
	}
	return query
}

// resultEnvelope は検索・ニュース系のResultをCLI出力の形に包みます。
func resultEnvelope(query string, result fetch.Result) any {
	return map[string]any{
		"success": result.IsOK(),
		"query":   query,
		"status":  result.Status,
		"count":   len(result.Records),
		"records": result.Records,
		"error":   result.Err,
	}
}

func writeOutput(path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}
