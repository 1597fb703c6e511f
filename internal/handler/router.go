package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/playable/internal/game"
	"github.com/hitoshi/playable/internal/ledger"
	"github.com/hitoshi/playable/internal/middleware"
	"github.com/hitoshi/playable/internal/studio"
	"github.com/hitoshi/playable/internal/version"
)

// HealthChecker はDB疎通確認のインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	HealthChecker     HealthChecker
	MetricsHandler    http.Handler
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 生成
	Orchestrator      GenerateOrchestrator
	GenerationTimeout time.Duration

	// ドメインサービス
	StudioService  *studio.Service
	VersionService *version.Service
	LedgerService  *ledger.Service
	GameService    *game.Service
	UserService    UserServiceInterface

	// 課金
	BillingService BillingService
	WebhookService WebhookService
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS →
//	  Session → CSRF → RateLimit(General)
//
// 認証ルート（/auth/*）とStripe WebhookはSession/CSRFチェーンの外に配置する。
// WebhookはCSRFトークンを持たないため、署名検証のみで保護する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// 全ルート共通のミドルウェア
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	generateHandler := NewGenerateHandler(deps.Orchestrator, deps.GenerationTimeout)
	sessionHandler := NewSessionHandler(deps.StudioService)
	versionHandler := NewVersionHandler(deps.VersionService)
	creditsHandler := NewCreditsHandler(deps.LedgerService)
	billingHandler := NewBillingHandler(deps.BillingService, deps.WebhookService)
	gameHandler := NewGameHandler(deps.GameService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---

	// ヘルスチェック（Dockerのhealthcheckサブコマンドが叩く）
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(req.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheusメトリクス
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// SPAが起動時に取得するCSRFトークン
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// Stripe Webhook（署名検証で保護される）
	r.Post("/webhooks/stripe", billingHandler.StripeWebhook)

	// 公開ゲームフィードの閲覧・プレイ記録・スコア登録は未ログインでも可
	r.Get("/api/games", gameHandler.List)
	r.Get("/api/games/{id}", gameHandler.Get)
	r.Post("/api/games/{id}/plays", gameHandler.RecordPlay)
	r.Get("/api/games/{id}/leaderboard", gameHandler.Leaderboard)
	r.Post("/api/games/{id}/leaderboard", gameHandler.SubmitScore)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ゲーム生成（生成専用レート制限を追加）
		r.With(deps.RateLimiter.GenerationMiddleware()).Post("/api/generate", generateHandler.Generate)

		// スタジオセッション
		r.Route("/api/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Start)
			r.Get("/active", sessionHandler.Active)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Put("/", sessionHandler.Save)
				r.Post("/deactivate", sessionHandler.Deactivate)

				// 世代履歴
				r.Get("/versions", versionHandler.List)
				r.Get("/versions/{num}", versionHandler.Get)
			})
		})

		// クレジット
		r.Get("/api/credits", creditsHandler.Get)

		// 課金
		r.Route("/api/billing", func(r chi.Router) {
			r.Post("/checkout", billingHandler.Checkout)
			r.Post("/portal", billingHandler.Portal)
		})

		// ログインユーザー向けのゲーム操作
		r.Post("/api/games", gameHandler.Publish)
		r.Get("/api/games/play-history", gameHandler.History)
		r.Post("/api/games/{id}/play-history", gameHandler.RecordHistory)
		r.Get("/api/games/saved", gameHandler.SavedIDs)
		r.Post("/api/games/{id}/save", gameHandler.ToggleSave)

		// アカウント管理
		r.Route("/api/users", func(r chi.Router) {
			r.Patch("/me", userHandler.UpdateProfile)
			r.Delete("/me", userHandler.Deactivate)
		})
	})

	return r
}
