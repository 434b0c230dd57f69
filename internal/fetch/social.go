package fetch

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// socialPlatform は1プラットフォーム分の探索定義です。
type socialPlatform struct {
	key     string
	label   string
	query   string // %s にターゲット名が入る
	pattern *regexp.Regexp
}

var socialPlatforms = []socialPlatform{
	{
		key:     "linkedin_company",
		label:   "LinkedIn (Company)",
		query:   `%s site:linkedin.com/company`,
		pattern: regexp.MustCompile(`linkedin\.com/company/[\w\-%.]+`),
	},
	{
		key:     "linkedin_person",
		label:   "LinkedIn (Person)",
		query:   `%s site:linkedin.com/in`,
		pattern: regexp.MustCompile(`linkedin\.com/in/[\w\-%.]+`),
	},
	{
		key:     "twitter",
		label:   "X / Twitter",
		query:   `%s site:x.com OR site:twitter.com`,
		pattern: regexp.MustCompile(`(?:twitter|x)\.com/[A-Za-z0-9_]{1,15}(?:[/?]|$)`),
	},
	{
		key:     "facebook",
		label:   "Facebook",
		query:   `%s site:facebook.com`,
		pattern: regexp.MustCompile(`facebook\.com/[\w.\-]+`),
	},
	{
		key:     "instagram",
		label:   "Instagram",
		query:   `%s site:instagram.com`,
		pattern: regexp.MustCompile(`instagram\.com/[\w.\-]+`),
	},
	{
		key:     "youtube",
		label:   "YouTube",
		query:   `%s site:youtube.com`,
		pattern: regexp.MustCompile(`youtube\.com/(?:@[\w\-%.]+|channel/[\w\-]+|c/[\w\-%.]+|user/[\w\-%.]+)`),
	},
	{
		key:     "github",
		label:   "GitHub",
		query:   `%s site:github.com`,
		pattern: regexp.MustCompile(`github\.com/[\w\-]+`),
	},
	{
		key:     "crunchbase",
		label:   "Crunchbase",
		query:   `%s site:crunchbase.com/organization`,
		pattern: regexp.MustCompile(`crunchbase\.com/organization/[\w\-%.]+`),
	},
}

// SocialProfile は発見された1プロフィールです。
type SocialProfile struct {
	Platform string `json:"platform"`
	Label    string `json:"label"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
}

// SocialReport はソーシャルプレゼンス調査の出力です。
type SocialReport struct {
	Success       bool            `json:"success"`
	Target        string          `json:"target"`
	Profiles      []SocialProfile `json:"profiles"`
	PresenceScore float64         `json:"presence_score"`
	Checked       int             `json:"platforms_checked"`
	Found         int             `json:"platforms_found"`
	FetchedAt     string          `json:"fetched_at"`
}

// SocialAdapter は検索アダプター経由で主要プラットフォーム上の
// ターゲットのプロフィールを探索します。
type SocialAdapter struct {
	Search  Adapter
	Retryer *Retryer
}

// Discover はプラットフォームごとにサイト限定検索を行い、
// URLパターンに一致した最初の結果をプロフィールとして採用します。
func (a *SocialAdapter) Discover(ctx context.Context, target string) *SocialReport {
	report := &SocialReport{
		Success:   true,
		Target:    target,
		Profiles:  []SocialProfile{},
		Checked:   len(socialPlatforms),
		FetchedAt: time.Now().UTC().Format(time.RFC3339),
	}

	for _, platform := range socialPlatforms {
		if ctx.Err() != nil {
			break
		}
		query := fmt.Sprintf(platform.query, target)
		result := a.search(ctx, query)
		for _, record := range result.Records {
			if platform.pattern.MatchString(record.URL) {
				report.Profiles = append(report.Profiles, SocialProfile{
					Platform: platform.key,
					Label:    platform.label,
					URL:      record.URL,
					Title:    record.Title,
					Snippet:  record.Snippet,
				})
				break
			}
		}
	}

	report.Found = len(report.Profiles)
	if report.Checked > 0 {
		report.PresenceScore = float64(report.Found) / float64(report.Checked)
	}
	return report
}

func (a *SocialAdapter) search(ctx context.Context, query string) Result {
	if a.Retryer == nil {
		return a.Search.Fetch(ctx, query, 5)
	}
	return a.Retryer.Do(ctx, func(ctx context.Context) ([]Record, error) {
		result := a.Search.Fetch(ctx, query, 5)
		if result.Status == StatusError {
			return nil, fmt.Errorf("%s: %s", a.Search.Name(), result.Err)
		}
		return result.Records, nil
	})
}
