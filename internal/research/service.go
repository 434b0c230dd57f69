package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/dossier-forge/internal/accounts"
	"github.com/yourusername/dossier-forge/internal/config"
	"github.com/yourusername/dossier-forge/internal/fetch"
	"github.com/yourusername/dossier-forge/internal/jobs"
	"github.com/yourusername/dossier-forge/internal/report"
)

// Adapters はパイプラインが使う全ソースアダプターの束です。
// テストではスタブ実装に差し替えます。
type Adapters struct {
	Search     []fetch.Adapter // 優先順。先頭から順に試す
	News       []fetch.Adapter // 全件を合算する
	Financials FinancialsFetcher
	Edgar      EdgarFetcher
	Social     SocialFetcher
	Wikipedia  WikipediaFetcher
	Webpage    WebpageFetcher
}

// FinancialsFetcher は財務データの取得を抽象化します。
type FinancialsFetcher interface {
	FetchForCompany(ctx context.Context, company string) *fetch.FinancialReport
}

// EdgarFetcher は規制当局提出書類の取得を抽象化します。
type EdgarFetcher interface {
	FetchReport(ctx context.Context, company, cik, ticker string) *fetch.EdgarReport
}

// SocialFetcher はソーシャルプレゼンス調査を抽象化します。
type SocialFetcher interface {
	Discover(ctx context.Context, target string) *fetch.SocialReport
}

// WikipediaFetcher は百科事典記事の取得を抽象化します。
type WikipediaFetcher interface {
	Lookup(ctx context.Context, query string) *fetch.WikipediaReport
}

// WebpageFetcher はページ本文の抽出を抽象化します。
type WebpageFetcher interface {
	Extract(ctx context.Context, pageURL string) *fetch.PageContent
}

// Enqueuer は作成済みジョブのキュー投入を抽象化します。
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// JobStore はジョブの永続化を抽象化します。jobs.Store が実装します。
type JobStore interface {
	Get(ctx context.Context, jobID string) (*jobs.Record, error)
	Create(ctx context.Context, record *jobs.Record) error
	ClaimDedup(ctx context.Context, userID string, kind jobs.TargetKind, target string) (bool, error)
	ReleaseDedup(ctx context.Context, userID string, kind jobs.TargetKind, target string)
	ListByUser(ctx context.Context, userID string, limit int) ([]*jobs.Record, error)
	MarkProcessing(ctx context.Context, jobID, outputDir string) error
	MarkCompleted(ctx context.Context, jobID, reportPath, reportURL string) error
	MarkFailed(ctx context.Context, jobID, message string) error
	Delete(ctx context.Context, record *jobs.Record) error
}

// UserStore はクレジット残高の操作を抽象化します。accounts.Store が実装します。
type UserStore interface {
	Get(ctx context.Context, id string) (*accounts.User, error)
	Debit(ctx context.Context, id string, amount int) (*accounts.User, error)
	Credit(ctx context.Context, id string, amount int) (*accounts.User, error)
}

// Notifier はジョブ完了通知を抽象化します。通知はベストエフォートで、
// 失敗してもジョブの状態には影響しません。
type Notifier interface {
	ReportReady(ctx context.Context, user *accounts.User, record *jobs.Record)
	LowCredits(ctx context.Context, user *accounts.User)
}

// depthPlan は深さティアごとに実行するステージの集合です。
type depthPlan struct {
	pages      bool
	financials bool
	social     bool
	edgar      bool
}

func planFor(depth jobs.Depth) depthPlan {
	switch depth {
	case jobs.DepthStandard:
		return depthPlan{pages: true, financials: true, social: true}
	case jobs.DepthDeep:
		return depthPlan{pages: true, financials: true, social: true, edgar: true}
	default:
		return depthPlan{}
	}
}

// Service はリサーチジョブのライフサイクル全体を担います。
// ジョブ作成時の課金・重複排除と、ワーカーでのパイプライン実行の
// 両方がここに集まります。
type Service struct {
	cfg      *config.Config
	store    JobStore
	users    UserStore
	adapters Adapters
	retryer  *fetch.Retryer
	enqueuer Enqueuer
	notifier Notifier
	analyzer *report.Analyzer
	md       *report.MarkdownCompiler
	html     *report.HTMLCompiler
	logger   *log.Logger
}

// NewService は Service を初期化します。enqueuer は後から
// SetEnqueuer で注入できます（Manager との相互依存のため）。
func NewService(cfg *config.Config, store JobStore, users UserStore, adapters Adapters, notifier Notifier, logger *log.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if users == nil {
		return nil, errors.New("users is nil")
	}

	html, err := report.NewHTMLCompiler()
	if err != nil {
		return nil, fmt.Errorf("failed to parse report template: %w", err)
	}

	return &Service{
		cfg:      cfg,
		store:    store,
		users:    users,
		adapters: adapters,
		retryer:  fetch.NewRetryer(cfg.FetchMaxRetries),
		notifier: notifier,
		analyzer: report.NewAnalyzer(),
		md:       report.NewMarkdownCompiler(),
		html:     html,
		logger:   logger,
	}, nil
}

// SetEnqueuer はキュー投入先を設定します。
func (s *Service) SetEnqueuer(enqueuer Enqueuer) {
	s.enqueuer = enqueuer
}

// CreateJob は新しいリサーチジョブを作成してキューに投入します。
// 残高不足・重複投入はそれぞれ専用のエラーコードで拒否します。
func (s *Service) CreateJob(ctx context.Context, userID, target, kind, depth string) (*jobs.Record, error) {
	if target == "" {
		return nil, newError("VALIDATION_ERROR", "target を指定してください", nil)
	}
	if !jobs.ValidTargetKind(kind) {
		return nil, newError("VALIDATION_ERROR", "targetKind は company または person を指定してください", nil)
	}
	if !jobs.ValidDepth(depth) {
		return nil, newError("VALIDATION_ERROR", "depth は quick・standard・deep のいずれかを指定してください", nil)
	}

	targetKind := jobs.TargetKind(kind)
	cost := s.cfg.CreditCost(depth)

	claimed, err := s.store.ClaimDedup(ctx, userID, targetKind, target)
	if err != nil {
		return nil, newError("INTERNAL_ERROR", "ジョブの作成に失敗しました", err)
	}
	if !claimed {
		return nil, newError("DUPLICATE_JOB", "同じ対象のジョブが直前に投入されています。しばらく待ってから再試行してください", nil)
	}

	user, err := s.users.Debit(ctx, userID, cost)
	if err != nil {
		s.store.ReleaseDedup(ctx, userID, targetKind, target)
		if errors.Is(err, accounts.ErrInsufficientCredits) {
			return nil, newError("INSUFFICIENT_CREDITS", "クレジットが不足しています。チャージしてから再試行してください", err)
		}
		return nil, newError("INTERNAL_ERROR", "課金処理に失敗しました", err)
	}

	record := &jobs.Record{
		JobID:          uuid.NewString(),
		UserID:         userID,
		Target:         target,
		TargetKind:     targetKind,
		Depth:          jobs.Depth(depth),
		CreditsCharged: cost,
	}

	if err := s.store.Create(ctx, record); err != nil {
		s.rollbackCreate(ctx, userID, targetKind, target, cost)
		return nil, newError("INTERNAL_ERROR", "ジョブの保存に失敗しました", err)
	}

	if s.enqueuer == nil {
		s.rollbackCreate(ctx, userID, targetKind, target, cost)
		_ = s.store.Delete(ctx, record)
		return nil, newError("INTERNAL_ERROR", "ジョブキューが初期化されていません", nil)
	}
	if err := s.enqueuer.Enqueue(ctx, record.JobID); err != nil {
		s.rollbackCreate(ctx, userID, targetKind, target, cost)
		_ = s.store.Delete(ctx, record)
		return nil, newError("INTERNAL_ERROR", "ジョブの投入に失敗しました", err)
	}

	if s.notifier != nil && user.Credits <= 1 {
		s.notifier.LowCredits(ctx, user)
	}
	return record, nil
}

func (s *Service) rollbackCreate(ctx context.Context, userID string, kind jobs.TargetKind, target string, cost int) {
	if _, err := s.users.Credit(ctx, userID, cost); err != nil && s.logger != nil {
		s.logger.Printf("failed to refund credits after create rollback user=%s: %v", userID, err)
	}
	s.store.ReleaseDedup(ctx, userID, kind, target)
}

// GetJob はジョブを所有者チェック付きで取得します。
func (s *Service) GetJob(ctx context.Context, userID, jobID string) (*jobs.Record, error) {
	record, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, newError("INTERNAL_ERROR", "ジョブの取得に失敗しました", err)
	}
	if record == nil || record.UserID != userID {
		return nil, newError("JOB_NOT_FOUND", "ジョブが見つかりません", nil)
	}
	return record, nil
}

// ListJobs はユーザーのジョブ一覧を新しい順に返します。
func (s *Service) ListJobs(ctx context.Context, userID string, limit int) ([]*jobs.Record, error) {
	records, err := s.store.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, newError("INTERNAL_ERROR", "ジョブ一覧の取得に失敗しました", err)
	}
	return records, nil
}

// DeleteJob はジョブと作業ディレクトリを削除します。
// 実行中のジョブは削除できません。
func (s *Service) DeleteJob(ctx context.Context, userID, jobID string) error {
	record, err := s.GetJob(ctx, userID, jobID)
	if err != nil {
		return err
	}
	if !record.Status.Terminal() {
		return newError("JOB_ACTIVE", "実行中のジョブは削除できません。完了を待ってください", nil)
	}
	if err := s.store.Delete(ctx, record); err != nil {
		return newError("INTERNAL_ERROR", "ジョブの削除に失敗しました", err)
	}
	if err := removeWorkspace(record.OutputDir); err != nil && s.logger != nil {
		s.logger.Printf("failed to remove workspace job=%s dir=%s: %v", jobID, record.OutputDir, err)
	}
	return nil
}

// Run はジョブ1件のリサーチパイプラインを実行します。
// ステージの失敗はステージ成果物の欠損に留め、レポート成果物を
// 作れなかったときだけジョブを失敗させて払い戻します。
// パイプラインから漏れた panic もジョブ失敗＋払い戻しに降格します。
func (s *Service) Run(ctx context.Context, record *jobs.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if s.logger != nil {
				s.logger.Printf("panic in research pipeline job=%s: %v\n%s", record.JobID, r, debug.Stack())
			}
			// 利用者向けメッセージにpanicの内容は載せない
			err = s.failJob(ctx, record, "internal error during research pipeline")
		}
	}()

	dir, wsErr := createWorkspace(s.cfg.OutputBaseDir, record.Target, record.JobID)
	if wsErr != nil {
		// 失敗遷移も pending→processing→failed の順序を守る
		if perr := s.store.MarkProcessing(ctx, record.JobID, ""); perr != nil {
			return fmt.Errorf("failed to mark processing job=%s: %w", record.JobID, perr)
		}
		return s.failJob(ctx, record, fmt.Sprintf("workspace creation failed: %v", wsErr))
	}

	if err := s.store.MarkProcessing(ctx, record.JobID, dir); err != nil {
		return fmt.Errorf("failed to mark processing job=%s: %w", record.JobID, err)
	}

	s.runStages(ctx, record, dir)

	bundle := report.LoadBundle(dir)
	bundle.Analysis = s.analyzer.Analyze(bundle)
	if err := report.WriteStage(dir, report.StageAnalysis, bundle.Analysis); err != nil && s.logger != nil {
		s.logger.Printf("failed to write analysis job=%s: %v", record.JobID, err)
	}

	reportPath, mdErr := s.md.CompileToFile(record.Target, bundle)
	if htmlPath, htmlErr := s.html.CompileToFile(record.Target, bundle); htmlErr == nil {
		reportPath = htmlPath
	} else if s.logger != nil {
		s.logger.Printf("failed to compile html report job=%s: %v", record.JobID, htmlErr)
	}

	// 完了判定は成果物の実在で行う。MarkdownかHTMLのどちらかがあればよい。
	if !artifactExists(dir) {
		msg := "no report artifact could be produced"
		if mdErr != nil {
			msg = fmt.Sprintf("%s: %v", msg, mdErr)
		}
		return s.failJob(ctx, record, msg)
	}

	reportURL := fmt.Sprintf("/api/research/%s/download", record.JobID)
	if err := s.store.MarkCompleted(ctx, record.JobID, reportPath, reportURL); err != nil {
		return fmt.Errorf("failed to mark completed job=%s: %w", record.JobID, err)
	}

	if s.notifier != nil {
		if user, err := s.users.Get(ctx, record.UserID); err == nil {
			updated, _ := s.store.Get(ctx, record.JobID)
			if updated == nil {
				updated = record
			}
			s.notifier.ReportReady(ctx, user, updated)
		}
	}
	return nil
}

// runStages はステージ群を実行して成果物を作業ディレクトリに書き込みます。
// 検索が先行し、残りの独立ステージは並列に走ります。
func (s *Service) runStages(ctx context.Context, record *jobs.Record, dir string) {
	plan := planFor(record.Depth)
	composer := &fetch.Composer{Retryer: s.retryer, Max: s.cfg.SearchMaxResults}

	searchResult := s.withStageTimeout(ctx, func(ctx context.Context) fetch.Result {
		return composer.First(ctx, record.Target, s.cfg.SearchMaxResults, s.adapters.Search...)
	})
	s.writeStage(record.JobID, dir, report.StageSearch, &report.SearchStage{
		Success: searchResult.IsOK(),
		Query:   record.Target,
		Count:   len(searchResult.Records),
		Records: searchResult.Records,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer s.recoverStage(record.JobID, report.StageNews)
		newsComposer := &fetch.Composer{Retryer: s.retryer, Max: s.cfg.NewsMaxResults}
		result := s.withStageTimeout(gctx, func(ctx context.Context) fetch.Result {
			return newsComposer.Union(ctx, record.Target, s.cfg.NewsMaxResults, s.adapters.News...)
		})
		s.writeStage(record.JobID, dir, report.StageNews, &report.NewsStage{
			Success: result.IsOK(),
			Query:   record.Target,
			Count:   len(result.Records),
			Records: result.Records,
		})
		return nil
	})

	if s.adapters.Wikipedia != nil {
		g.Go(func() error {
			defer s.recoverStage(record.JobID, report.StageWikipedia)
			stageCtx, cancel := s.stageContext(gctx)
			defer cancel()
			s.writeStage(record.JobID, dir, report.StageWikipedia, s.adapters.Wikipedia.Lookup(stageCtx, record.Target))
			return nil
		})
	}

	if plan.pages && s.adapters.Webpage != nil {
		g.Go(func() error {
			defer s.recoverStage(record.JobID, report.StagePagesDir)
			s.fetchPages(gctx, record.JobID, dir, searchResult.Records)
			return nil
		})
	}

	if plan.financials && record.TargetKind == jobs.KindCompany && s.adapters.Financials != nil {
		g.Go(func() error {
			defer s.recoverStage(record.JobID, report.StageFinancials)
			stageCtx, cancel := s.stageContext(gctx)
			defer cancel()
			s.writeStage(record.JobID, dir, report.StageFinancials, s.adapters.Financials.FetchForCompany(stageCtx, record.Target))
			return nil
		})
	}

	if plan.social && s.adapters.Social != nil {
		g.Go(func() error {
			defer s.recoverStage(record.JobID, report.StageSocial)
			stageCtx, cancel := s.stageContext(gctx)
			defer cancel()
			s.writeStage(record.JobID, dir, report.StageSocial, s.adapters.Social.Discover(stageCtx, record.Target))
			return nil
		})
	}

	if plan.edgar && record.TargetKind == jobs.KindCompany && s.adapters.Edgar != nil {
		g.Go(func() error {
			defer s.recoverStage(record.JobID, report.StageEdgar)
			stageCtx, cancel := s.stageContext(gctx)
			defer cancel()
			s.writeStage(record.JobID, dir, report.StageEdgar, s.adapters.Edgar.FetchReport(stageCtx, record.Target, "", ""))
			return nil
		})
	}

	_ = g.Wait()
}

// fetchPages は検索結果の上位ページから本文を抽出します。
func (s *Service) fetchPages(ctx context.Context, jobID, dir string, records []fetch.Record) {
	limit := s.cfg.PageFetchLimit
	if limit > len(records) {
		limit = len(records)
	}
	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			return
		}
		stageCtx, cancel := s.stageContext(ctx)
		page := s.adapters.Webpage.Extract(stageCtx, records[i].URL)
		cancel()
		name := filepath.Join(report.StagePagesDir, fmt.Sprintf("page_%02d.json", i+1))
		s.writeStage(jobID, dir, name, page)
	}
}

func (s *Service) withStageTimeout(ctx context.Context, fn func(context.Context) fetch.Result) fetch.Result {
	stageCtx, cancel := s.stageContext(ctx)
	defer cancel()
	return fn(stageCtx)
}

func (s *Service) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(s.cfg.StageTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return context.WithTimeout(ctx, timeout)
}

// recoverStage は並列ステージ内で発生した panic をステージ成果物の
// 欠損に降格させます。他のステージとジョブ本体は続行します。
func (s *Service) recoverStage(jobID, name string) {
	if r := recover(); r != nil && s.logger != nil {
		s.logger.Printf("panic in stage %s job=%s: %v\n%s", name, jobID, r, debug.Stack())
	}
}

func (s *Service) writeStage(jobID, dir, name string, payload any) {
	if err := report.WriteStage(dir, name, payload); err != nil && s.logger != nil {
		s.logger.Printf("failed to write stage %s job=%s: %v", name, jobID, err)
	}
}

func (s *Service) failJob(ctx context.Context, record *jobs.Record, message string) error {
	if err := s.store.MarkFailed(ctx, record.JobID, message); err != nil {
		return fmt.Errorf("failed to mark failed job=%s: %w", record.JobID, err)
	}
	// 払い戻しは失敗遷移が確定した場合のみ行う。
	if record.CreditsCharged > 0 {
		if _, err := s.users.Credit(ctx, record.UserID, record.CreditsCharged); err != nil {
			return fmt.Errorf("failed to refund credits job=%s: %w", record.JobID, err)
		}
	}
	return fmt.Errorf("research job failed: %s", message)
}

func artifactExists(dir string) bool {
	for _, name := range []string{report.ArtifactHTML, report.ArtifactMD} {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && !info.IsDir() && info.Size() > 0 {
			return true
		}
	}
	return false
}
