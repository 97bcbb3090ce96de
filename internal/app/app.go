package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/eventsync/internal/config"
	"github.com/hitoshi/eventsync/internal/database"
	"github.com/hitoshi/eventsync/internal/event"
	"github.com/hitoshi/eventsync/internal/handler"
	"github.com/hitoshi/eventsync/internal/logger"
	"github.com/hitoshi/eventsync/internal/metrics"
	"github.com/hitoshi/eventsync/internal/middleware"
	"github.com/hitoshi/eventsync/internal/notification"
	"github.com/hitoshi/eventsync/internal/realtime"
	"github.com/hitoshi/eventsync/internal/reminder"
	"github.com/hitoshi/eventsync/internal/repository"
	"github.com/hitoshi/eventsync/internal/security"
	"github.com/hitoshi/eventsync/internal/user"
	"github.com/hitoshi/eventsync/internal/worker/cleanup"
)

// dbConnectTimeout は起動時のDB疎通確認のタイムアウト。
const dbConnectTimeout = 10 * time.Second

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

	// 3. ログレベルの反映。不明な値はinfoのまま続行する
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		slog.Warn("LOG_LEVELが不正なためinfoで起動します", slog.String("error", err.Error()))
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
		slog.String("reminder_timezone", cfg.ReminderLocation.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// repositories はPostgreSQLリポジトリの組。
type repositories struct {
	users         *repository.PostgresUserRepo
	events        *repository.PostgresEventRepo
	notifications *repository.PostgresNotificationRepo
}

func newRepositories(db *sql.DB) repositories {
	return repositories{
		users:         repository.NewPostgresUserRepo(db),
		events:        repository.NewPostgresEventRepo(db),
		notifications: repository.NewPostgresNotificationRepo(db),
	}
}

// newRegistry はプロセス標準のコレクターを含むPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// startBackgroundJobs はリマインダースケジューラとクリーンアップジョブを起動する。
// 返されるチャネルは両方のジョブが停止すると閉じられる。
func startBackgroundJobs(ctx context.Context, cfg *config.Config, db *sql.DB, repos repositories, broadcaster realtime.Broadcaster, recorder metrics.ReminderRecorder) <-chan struct{} {
	scheduler := reminder.NewScheduler(
		repos.users, repos.events, repos.notifications,
		broadcaster, security.NewTextSanitizer(), recorder,
		slog.Default(), cfg.ReminderLocation,
	)

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.RetentionDays = cfg.NotificationRetentionDays

	done := make(chan struct{})
	go func() {
		defer close(done)
		cleanupDone := make(chan struct{})
		go func() {
			defer close(cleanupDone)
			cleanupJob.Start(ctx, cfg.CleanupInterval)
		}()
		scheduler.Start(ctx, cfg.ReminderInterval)
		<-cleanupDone
	}()
	return done
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーとバックグラウンドジョブを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリとメトリクスの初期化
	repos := newRepositories(db)
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. リアルタイムハブの起動
	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()

	hub := realtime.NewHub(slog.Default(), collector, realtime.HubConfig{
		MailboxSize:   cfg.HubMailboxSize,
		StaleAfter:    cfg.WSStaleAfter,
		SweepInterval: cfg.WSSweepInterval,
	})
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()

	// 4. ドメインサービスの初期化
	sanitizer := security.NewTextSanitizer()
	eventService := event.NewService(repos.events, hub, sanitizer)
	notificationService := notification.NewService(repos.notifications, hub)
	userService := user.NewService(repos.users, hub)

	// 5. バックグラウンドジョブの起動
	jobsCtx, cancelJobs := context.WithCancel(ctx)
	defer cancelJobs()
	jobsDone := startBackgroundJobs(jobsCtx, cfg, db, repos, hub, collector)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral))
	defer rateLimiter.Stop()

	wsHandler := handler.NewWSHandler(hub, repos.users, cfg.CORSAllowedOrigin, slog.Default(), realtime.ClientConfig{
		SendBuffer:   cfg.WSSendBuffer,
		MessageRate:  cfg.WSMessageRate,
		MessageBurst: cfg.WSMessageBurst,
	})

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:     db,
		UserFinder:        repos.users,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		HTTPRecorder:      collector,
		MetricsHandler:    metrics.Handler(reg),

		EventService:        eventService,
		LockReader:          hub,
		RealtimeInspector:   hub,
		NotificationService: notificationService,
		UserService:         userService,

		WSHandler: wsHandler,
	})

	// 7. HTTPサーバーの起動
	// WebSocket接続はハイジャック後にgorilla/websocket側で読み書きのデッドラインを管理する
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// HTTPを止めてからジョブとハブを止める。ハブは残っているWebSocket接続を閉じる
	cancelJobs()
	<-jobsDone
	cancelHub()
	<-hubDone

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// リマインダースケジューラとクリーンアップジョブのみを実行する。
// WebSocket接続を持たないため、通知の配信は行わない。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. ジョブの起動
	repos := newRepositories(db)

	slog.Info("worker starting",
		slog.Duration("reminder_interval", cfg.ReminderInterval),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	// SIGINT/SIGTERMでctxがキャンセルされるまでブロックする
	<-startBackgroundJobs(ctx, cfg, db, repos, realtime.NopBroadcaster{}, metrics.Nop{})

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.Migrate(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
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
