package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/lensecho/internal/account"
	"github.com/hitoshi/lensecho/internal/auth"
	"github.com/hitoshi/lensecho/internal/backend"
	"github.com/hitoshi/lensecho/internal/config"
	"github.com/hitoshi/lensecho/internal/database"
	"github.com/hitoshi/lensecho/internal/handler"
	"github.com/hitoshi/lensecho/internal/logger"
	"github.com/hitoshi/lensecho/internal/metrics"
	"github.com/hitoshi/lensecho/internal/middleware"
	"github.com/hitoshi/lensecho/internal/repository"
	"github.com/hitoshi/lensecho/internal/security"
	"github.com/hitoshi/lensecho/internal/signup"
	"github.com/hitoshi/lensecho/internal/worker/cleanup"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// cleanupInterval は期限切れセッション削除ジョブの実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込み、JSON構造化ログをセットアップしてから環境変数のConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（存在しない場合は環境変数のみを使用する）
	dotenvErr := godotenv.Load()

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	if dotenvErr != nil && !errors.Is(dotenvErr, fs.ErrNotExist) {
		slog.Warn("failed to load .env", slog.String("error", dotenvErr.Error()))
	}

	// 3. 環境変数から設定を読み込む
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
		slog.String("backend_mode", string(cfg.BackendMode)),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(context.Background(), db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// newAccountBackend はBACKEND_MODEに応じたバックエンドを生成する。
// postgresモードの場合はクリーンアップ対象としてLocalBackendも返す。
func newAccountBackend(cfg *config.Config, db *sql.DB, collector metrics.MetricsCollector) (account.Backend, *repository.LocalBackend, error) {
	switch cfg.BackendMode {
	case config.BackendModePostgres:
		local := repository.NewLocalBackend(db, repository.LocalBackendConfig{
			Endpoint:  cfg.BackendEndpoint,
			ProjectID: cfg.BackendProjectID,
		}, collector)
		return local, local, nil
	default:
		client, err := backend.NewClient(backend.Config{
			Endpoint:         cfg.BackendEndpoint,
			ProjectID:        cfg.BackendProjectID,
			APIKey:           cfg.BackendAPIKey,
			DatabaseID:       cfg.BackendDatabaseID,
			UserCollectionID: cfg.BackendUserCollectionID,
			Timeout:          cfg.BackendTimeout,
		}, nil, slog.Default(), collector)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create backend client: %w", err)
		}
		return client, nil, nil
	}
}

// newRouter は全依存関係をワイヤリングしたHTTPハンドラーを構築する。
// 返されるstop関数はレートリミッターのクリーンアップgoroutineを停止する。
func newRouter(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (http.Handler, func(), error) {
	// 1. メトリクス
	collector := metrics.NewCollector(reg)

	// 2. バックエンドとリポジトリ
	accountBackend, _, err := newAccountBackend(cfg, db, collector)
	if err != nil {
		return nil, nil, err
	}
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. ドメインサービス
	schema := signup.NewSchema(security.NewTextSanitizer())
	accountService := account.NewService(accountBackend, account.Config{
		DatabaseID:       cfg.BackendDatabaseID,
		UserCollectionID: cfg.BackendUserCollectionID,
	}, slog.Default())
	controller := signup.NewController(schema, accountService, collector, slog.Default())
	authService := auth.NewService(accountService, sessionRepo, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
	})

	// 4. ルーター
	// RATE_LIMIT_SIGNUPはreq/min単位でサインアップ・サインインの送信に適用する
	rateLimiter := middleware.NewRateLimiter(
		middleware.DefaultRateLimiterConfig().AuthPerMinute(cfg.RateLimitSignup),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		SignupController: controller,
		SessionStarter:   authService,

		AuthService:         authService,
		CredentialValidator: schema,
		Cookies: handler.CookieConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		AvatarResolver: accountBackend,
		ImageOrigins:   []string{backendOrigin(cfg.BackendEndpoint)},
	})

	return router, rateLimiter.Stop, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router, stopLimiter, err := newRouter(cfg, db, reg)
	if err != nil {
		return err
	}
	defer stopLimiter()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "API server")
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップジョブを日次で実行し、メトリクスを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	job := newCleanupJob(cfg, db, collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// メトリクスとコンテナのヘルスチェック用エンドポイントをバックグラウンドで公開
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(reg, handler.NewHealthHandler(db)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting", slog.Duration("cleanup_interval", cleanupInterval))

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cleanupInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	slog.Info("worker stopped gracefully")
	return nil
}

// newCleanupJob はBACKEND_MODEに応じた削除対象を持つクリーンアップジョブを生成する。
func newCleanupJob(cfg *config.Config, db *sql.DB, collector metrics.MetricsCollector) *cleanup.CleanupJob {
	targets := []cleanup.Target{
		{Table: "sessions", Purge: repository.NewPostgresSessionRepo(db).DeleteExpired},
	}
	if cfg.BackendMode == config.BackendModePostgres {
		local := repository.NewLocalBackend(db, repository.LocalBackendConfig{}, collector)
		targets = append(targets, cleanup.Target{Table: "account_sessions", Purge: local.DeleteExpiredSessions})
	}
	return cleanup.NewCleanupJob(slog.Default(), collector, targets...)
}

// serveUntilSignal はHTTPサーバーを起動し、シグナル受信でグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数なしまたはupの場合はすべての未適用マイグレーションを順番に適用する。
// down [n] はn件（デフォルト1件）ロールバックし、versionは適用済みバージョンを表示する。
func runMigrate(cfg *config.Config, args []string) error {
	action, err := ParseMigrateArgs(args)
	if err != nil {
		return err
	}

	slog.Info("running database migrations",
		slog.String("action", string(action.Kind)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action.Kind {
	case MigrateDown:
		if err := database.RollbackMigrations(cfg.DatabaseURL, action.Steps); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case MigrateVersion:
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	v, err := database.CurrentVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(v.Version)),
		slog.Bool("dirty", v.Dirty),
	)
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

// backendOrigin はアバターURLを発行するバックエンドのオリジン（scheme://host）を返す。
func backendOrigin(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
