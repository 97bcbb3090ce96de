package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventsync/internal/model"
)

// NotificationServiceInterface は通知ハンドラーが必要とするサービスインターフェース。
type NotificationServiceInterface interface {
	List(ctx context.Context, userID string, limit int) ([]*model.Notification, error)
	MarkRead(ctx context.Context, userID, id string) (*model.Notification, error)
}

// NotificationHandler は通知のHTTPハンドラー。
type NotificationHandler struct {
	service NotificationServiceInterface
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(service NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// ListNotifications は通知一覧を新しい順に返す。
// GET /api/notifications?limit=N
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     model.ErrCodeInvalidRequest,
				Message:  "limitは1以上の整数で指定してください。",
				Category: "validation",
				Action:   "limitパラメータを確認してください。",
			})
			return
		}
		limit = n
	}

	notifications, err := h.service.List(r.Context(), userID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

// MarkRead は通知を既読にする。
// PUT /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	n, err := h.service.MarkRead(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
