package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/playable/internal/auth"
	"github.com/hitoshi/playable/internal/config"
	"github.com/hitoshi/playable/internal/database"
	"github.com/hitoshi/playable/internal/game"
	"github.com/hitoshi/playable/internal/generate"
	"github.com/hitoshi/playable/internal/handler"
	"github.com/hitoshi/playable/internal/ledger"
	"github.com/hitoshi/playable/internal/logger"
	"github.com/hitoshi/playable/internal/metrics"
	"github.com/hitoshi/playable/internal/middleware"
	"github.com/hitoshi/playable/internal/model"
	"github.com/hitoshi/playable/internal/payment"
	"github.com/hitoshi/playable/internal/repository"
	"github.com/hitoshi/playable/internal/security"
	"github.com/hitoshi/playable/internal/studio"
	"github.com/hitoshi/playable/internal/user"
	"github.com/hitoshi/playable/internal/version"
	"github.com/hitoshi/playable/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	ledgerRepo := repository.NewPostgresLedgerRepo(db)
	versionRepo := repository.NewPostgresVersionRepo(db, model.VersionRetentionLimit)
	studioRepo := repository.NewPostgresStudioSessionRepo(db)
	gameRepo := repository.NewPostgresGameRepo(db)

	// 3. セキュリティ・メトリクスの初期化
	sanitizer := security.NewTextSanitizer()
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{
			SessionMaxAge:   cfg.SessionMaxAge,
			StartingCredits: ledger.StartingCredits,
		},
	)

	ledgerService := ledger.NewService(ledgerRepo, userRepo, slog.Default())
	versionService := version.NewService(versionRepo, slog.Default())
	studioService := studio.NewService(studioRepo, cfg.StudioSaveQuietWindow, slog.Default())
	gameService := game.NewService(gameRepo, sanitizer, slog.Default())
	userService := user.NewService(userRepo, sessionRepo, sanitizer)

	generator, err := generate.NewGeminiGenerator(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return fmt.Errorf("failed to initialize generator: %w", err)
	}
	orchestrator := generate.NewOrchestrator(
		userRepo, ledgerService, versionService, studioService,
		generator, sanitizer, collector, slog.Default(),
	)

	paymentService := payment.NewService(payment.Config{
		SecretKey:       cfg.StripeSecretKey,
		WebhookSecret:   cfg.StripeWebhookSecret,
		PriceGameDev:    cfg.StripePriceGameDev,
		PricePro:        cfg.StripePricePro,
		PriceFuelPack:   cfg.StripePriceFuelPack,
		CheckoutSuccess: cfg.BaseURL + "/billing/success",
		CheckoutCancel:  cfg.BaseURL + "/billing/cancel",
		PortalReturn:    cfg.BaseURL + "/settings",
	}, userRepo, slog.Default())
	webhookProcessor := payment.NewWebhookProcessor(cfg.StripeWebhookSecret, userRepo, ledgerService, slog.Default())

	// 5. レート制限の構成（configはreq/min単位、rate.Limitはreq/sec単位）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.GenerationRate = rate.Limit(float64(cfg.RateLimitGeneration) / 60.0)
	rateLimiterCfg.GenerationBurst = cfg.RateLimitGeneration
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(registry),
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Orchestrator:      orchestrator,
		GenerationTimeout: cfg.GenerationTimeout,

		StudioService:  studioService,
		VersionService: versionService,
		LedgerService:  ledgerService,
		GameService:    gameService,
		UserService:    userService,

		BillingService: paymentService,
		WebhookService: webhookProcessor,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// SSEの生成ストリームがあるためWriteTimeoutは生成タイムアウトより長くする
		WriteTimeout: cfg.GenerationTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 保留中のセッション書き込みを失わないようフラッシュしてから終了する
	studioService.Shutdown()

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、クリーンアップジョブを日次で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	studioRepo := repository.NewPostgresStudioSessionRepo(db)
	versionRepo := repository.NewPostgresVersionRepo(db, model.VersionRetentionLimit)

	// 3. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(studioRepo, versionRepo, slog.Default())
	cleanupJob.SessionRetentionDays = cfg.SessionRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Int("session_retention_days", cfg.SessionRetentionDays),
	)

	// 起動直後に1回実行してから日次で回す
	if err := cleanupJob.Run(ctx); err != nil {
		slog.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped gracefully")
			return nil
		case <-ticker.C:
			if err := cleanupJob.Run(ctx); err != nil {
				slog.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
