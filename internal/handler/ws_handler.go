package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/eventsync/internal/middleware"
	"github.com/hitoshi/eventsync/internal/model"
	"github.com/hitoshi/eventsync/internal/realtime"
)

// WSHandler はWebSocket接続を受け付けてHubに接続するハンドラー。
// GET /ws
//
// X-User-IDヘッダーがあれば接続時にそのユーザーとして登録する。
// ブラウザからの接続ではヘッダーを付与できないため、register_userメッセージでも登録できる。
type WSHandler struct {
	hub      *realtime.Hub
	users    middleware.UserFinder
	upgrader websocket.Upgrader
	logger   *slog.Logger
	cfg      realtime.ClientConfig
}

// NewWSHandler はWSHandlerを生成する。
// allowedOriginが空の場合はOriginヘッダーのない接続と同一オリジンのみ許可する。
func NewWSHandler(hub *realtime.Hub, users middleware.UserFinder, allowedOrigin string, logger *slog.Logger, cfg realtime.ClientConfig) *WSHandler {
	h := &WSHandler{
		hub:    hub,
		users:  users,
		logger: logger,
		cfg:    cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if allowedOrigin != "" && origin == allowedOrigin {
				return true
			}
			return origin == "http://"+r.Host || origin == "https://"+r.Host
		},
	}
	return h
}

// ServeHTTP はHTTP接続をWebSocketにアップグレードし、切断されるまでブロックする。
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(middleware.UserIDHeader)
	if userID != "" && h.users != nil {
		user, err := h.users.FindByID(r.Context(), userID)
		if err != nil {
			h.logger.Error("ユーザーの取得に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			middleware.WriteInternalServerError(w)
			return
		}
		if user == nil {
			writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeが失敗した場合はエラーレスポンスが書き込み済み
		h.logger.Warn("WebSocketへのアップグレードに失敗しました", slog.String("error", err.Error()))
		return
	}

	realtime.NewClient(h.hub, conn, h.logger, h.cfg).Serve(userID)
}
