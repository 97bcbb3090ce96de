package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventsync/internal/metrics"
	"github.com/hitoshi/eventsync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	UserFinder        middleware.UserFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	HTTPRecorder      metrics.HTTPRecorder

	// GET /metrics。nilの場合はエンドポイントを公開しない
	MetricsHandler http.Handler

	// イベント
	EventService EventServiceInterface
	LockReader   LockReader

	// GET /api/realtime。nilの場合はエンドポイントを公開しない
	RealtimeInspector RealtimeInspector

	// 通知
	NotificationService NotificationServiceInterface

	// ユーザー
	UserService UserServiceInterface

	// WebSocket
	WSHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS → Identity → RateLimit(General)
//
// /health, /metrics, /ws はIdentity以降のチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.HTTPRecorder
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	r.Use(middleware.NewLoggingMiddleware(logger, recorder))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	eventHandler := NewEventHandler(deps.EventService, deps.LockReader)
	notificationHandler := NewNotificationHandler(deps.NotificationService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 識別不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.WSHandler != nil {
		r.Method(http.MethodGet, "/ws", deps.WSHandler)
	}

	// --- ユーザー識別が必要なルート ---
	// ミドルウェアスタック: Identity → RateLimit(General)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.UserFinder))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		// イベント管理
		r.Route("/events", func(r chi.Router) {
			r.Get("/", eventHandler.ListEvents)
			r.Post("/", eventHandler.CreateEvent)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", eventHandler.GetEvent)
				r.Put("/", eventHandler.UpdateEvent)
				r.Delete("/", eventHandler.DeleteEvent)

				// GET /api/events/{id}/lock - 編集ロック状態
				r.Get("/lock", eventHandler.GetLock)
			})
		})

		// 通知
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.ListNotifications)
			r.Put("/{id}/read", notificationHandler.MarkRead)
		})

		if deps.RealtimeInspector != nil {
			r.Get("/realtime", NewRealtimeHandler(deps.RealtimeInspector))
		}

		// ユーザー設定
		r.Route("/users/me/settings", func(r chi.Router) {
			r.Get("/", userHandler.GetSettings)
			r.Put("/", userHandler.UpdateSettings)
		})
	})

	return r
}
