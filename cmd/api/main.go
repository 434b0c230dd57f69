// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/dossier-forge/internal/accounts"
	"github.com/yourusername/dossier-forge/internal/auth"
	"github.com/yourusername/dossier-forge/internal/config"
	"github.com/yourusername/dossier-forge/internal/fetch"
	"github.com/yourusername/dossier-forge/internal/jobs"
	"github.com/yourusername/dossier-forge/internal/notify"
	"github.com/yourusername/dossier-forge/internal/payments"
	"github.com/yourusername/dossier-forge/internal/research"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（クッキー署名鍵は必須）
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	// 依存コンポーネントの組み立て
	deps, err := buildDependencies(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}
	deps.manager.StartWorkers()

	// ルーティングの設定
	setupRoutes(router, deps)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// dependencies はルーティングに必要なサービス一式です。
type dependencies struct {
	cfg         *config.Config
	authManager *auth.Manager
	service     *research.Service
	manager     *jobs.Manager
	payments    *payments.Service
}

func buildDependencies(cfg *config.Config) (*dependencies, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	logger := log.Default()

	userStore := accounts.NewStore(rdb)
	jobStore := jobs.NewStore(rdb,
		time.Duration(cfg.JobRetentionHours)*time.Hour,
		60*time.Second,
	)

	mailer := notify.NewMailer(cfg, logger)
	authManager := auth.NewManager(cfg, userStore, rdb, mailer, logger)

	service, err := research.NewService(cfg, jobStore, userStore, buildAdapters(cfg), mailer, logger)
	if err != nil {
		return nil, err
	}

	manager, err := jobs.NewManager(cfg, jobStore, service, logger)
	if err != nil {
		return nil, err
	}
	service.SetEnqueuer(manager)

	return &dependencies{
		cfg:         cfg,
		authManager: authManager,
		service:     service,
		manager:     manager,
		payments:    payments.NewService(cfg, userStore, rdb, logger),
	}, nil
}

// buildAdapters は本番用のソースアダプター一式を組み立てます。
func buildAdapters(cfg *config.Config) research.Adapters {
	client := fetch.NewClient(cfg.FetchUserAgent, time.Duration(cfg.FetchTimeoutSec)*time.Second)

	news := []fetch.Adapter{
		&fetch.GoogleNewsAdapter{Client: client},
		&fetch.YahooNewsAdapter{Client: client},
	}
	if cfg.NewsAPIKey != "" {
		news = append(news, &fetch.NewsAPIAdapter{Client: client, APIKey: cfg.NewsAPIKey})
	}

	searchPrimary := &fetch.SearchAdapter{Client: client}

	return research.Adapters{
		Search: []fetch.Adapter{
			searchPrimary,
			&fetch.SearchLiteAdapter{Client: client},
		},
		News:       news,
		Financials: &fetch.FinancialsAdapter{Client: client},
		Edgar:      &fetch.EdgarAdapter{Client: client, UserAgent: cfg.EdgarUserAgent},
		Social: &fetch.SocialAdapter{
			Search:  searchPrimary,
			Retryer: fetch.NewRetryer(cfg.FetchMaxRetries),
		},
		Wikipedia: &fetch.WikipediaAdapter{Client: client},
		Webpage:   &fetch.WebpageAdapter{Client: client},
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "dossier-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, deps *dependencies) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	authManager := deps.authManager

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// 登録・ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/register", authManager.Register)
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/forgot-password", authManager.ForgotPassword)
			authRoutes.POST("/reset-password", authManager.ResetPassword)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
			authRoutes.GET("/me", authManager.RequireLogin(), authManager.Me)
		}

		// Stripeからの呼び出しは署名検証で保護するためセッション外
		api.POST("/payments/webhook", payments.WebhookHandler(deps.payments))

		protected := api.Group("")
		protected.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		{
			protected.GET("/users/credits", authManager.Credits)
			protected.PATCH("/users/profile", authManager.UpdateProfile)

			protected.POST("/research", research.CreateHandler(deps.service))
			protected.GET("/research", research.ListHandler(deps.service))
			protected.GET("/research/:id", research.GetHandler(deps.service))
			protected.DELETE("/research/:id", research.DeleteHandler(deps.service))
			protected.GET("/research/:id/download", research.DownloadHandler(deps.service))

			protected.GET("/payments/tiers", payments.TiersHandler())
			protected.POST("/payments/create-checkout", payments.CheckoutHandler(deps.payments))
			protected.GET("/payments/history", payments.HistoryHandler(deps.payments))
		}
	}
}
