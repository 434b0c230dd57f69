// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// アプリケーション設定
	SessionSecret string // セッション署名用の秘密鍵
	FrontendURL   string // フロントエンドのベースURL（決済リダイレクト等で使用）

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// リサーチパイプライン設定
	OutputBaseDir     string // ジョブ作業ディレクトリのベースパス
	StageTimeoutSec   int    // 1ステージあたりのタイムアウト（秒）
	FetchMaxRetries   int    // アダプター呼び出しの最大試行回数
	SearchMaxResults  int    // 検索ステージの最大結果数
	NewsMaxResults    int    // ニュースステージの最大結果数
	PageFetchLimit    int    // 本文取得するページ数の上限（standard以上）
	JobRetentionHours int    // ジョブレコードのRedis保持時間（時間）

	// クレジット設定
	CreditCostQuick    int // quick の消費クレジット
	CreditCostStandard int // standard の消費クレジット
	CreditCostDeep     int // deep の消費クレジット
	WelcomeCredits     int // 新規登録時に付与するクレジット

	// ジョブ/キュー設定
	QueueRedisURL string // Asynq・各ストア用Redis接続URL

	// 外部API設定
	NewsAPIKey      string // NewsAPI のAPIキー（任意。未設定なら第三プロバイダーは使わない）
	EdgarUserAgent  string // SEC EDGARが要求する連絡先入りUser-Agent
	FetchUserAgent  string // スクレイピング用のブラウザUser-Agent
	FetchTimeoutSec int    // 外部HTTP呼び出しのタイムアウト（秒）

	// Stripe設定
	StripeSecretKey     string // Stripe シークレットキー
	StripeWebhookSecret string // Webhook署名検証用シークレット

	// メール設定
	MailgunDomain string // Mailgun ドメイン
	MailgunAPIKey string // Mailgun APIキー
	FromEmail     string // 送信元アドレス
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		SessionSecret: getEnv("SESSION_SECRET", ""),
		FrontendURL:   getEnv("FRONTEND_URL", "http://localhost:3000"),

		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		OutputBaseDir:     getEnv("OUTPUT_BASE_DIR", filepath.Join(os.TempDir(), "dossier-forge")),
		StageTimeoutSec:   getEnvAsInt("STAGE_TIMEOUT_SEC", 300),
		FetchMaxRetries:   getEnvAsInt("FETCH_MAX_RETRIES", 3),
		SearchMaxResults:  getEnvAsInt("SEARCH_MAX_RESULTS", 20),
		NewsMaxResults:    getEnvAsInt("NEWS_MAX_RESULTS", 20),
		PageFetchLimit:    getEnvAsInt("PAGE_FETCH_LIMIT", 8),
		JobRetentionHours: getEnvAsInt("JOB_RETENTION_HOURS", 720), // 30日

		CreditCostQuick:    getEnvAsInt("CREDIT_COST_QUICK", 1),
		CreditCostStandard: getEnvAsInt("CREDIT_COST_STANDARD", 2),
		CreditCostDeep:     getEnvAsInt("CREDIT_COST_DEEP", 4),
		WelcomeCredits:     getEnvAsInt("WELCOME_CREDITS", 1),

		QueueRedisURL: getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),

		NewsAPIKey:      getEnv("NEWSAPI_KEY", ""),
		EdgarUserAgent:  getEnv("EDGAR_USER_AGENT", "dossier-forge/1.0 (contact@example.com)"),
		FetchUserAgent:  getEnv("FETCH_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		FetchTimeoutSec: getEnvAsInt("FETCH_TIMEOUT_SEC", 30),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		MailgunDomain: getEnv("MAILGUN_DOMAIN", ""),
		MailgunAPIKey: getEnv("MAILGUN_API_KEY", ""),
		FromEmail:     getEnv("FROM_EMAIL", "reports@example.com"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// ローカル開発では決済・メール設定は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required in release mode")
		}
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in release mode")
		}
	}
	if c.FetchMaxRetries <= 0 {
		c.FetchMaxRetries = 3
	}
	return nil
}

// CreditCost は指定された深度の消費クレジットを返します。
func (c *Config) CreditCost(depth string) int {
	switch depth {
	case "quick":
		return c.CreditCostQuick
	case "deep":
		return c.CreditCostDeep
	default:
		return c.CreditCostStandard
	}
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
