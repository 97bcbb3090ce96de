package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/eventsync/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetSettings(ctx context.Context, userID string) (*model.User, error)
	// UpdateSettings はリマインダー通知日数を更新する。-1でリマインダーを無効にする。
	UpdateSettings(ctx context.Context, userID string, reminderLeadDays int) (*model.User, error)
}

// UserHandler はユーザー設定のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// settingsRequest は設定更新リクエストのボディ。
// 省略と0を区別するためポインタで受け取る。
type settingsRequest struct {
	ReminderLeadDays *int `json:"reminder_lead_days"`
}

// settingsResponse は設定のAPIレスポンス。
type settingsResponse struct {
	ReminderLeadDays int  `json:"reminder_lead_days"`
	RemindersEnabled bool `json:"reminders_enabled"`
}

func toSettingsResponse(u *model.User) settingsResponse {
	return settingsResponse{
		ReminderLeadDays: u.ReminderLeadDays,
		RemindersEnabled: u.RemindersEnabled(),
	}
}

// GetSettings はログインユーザーの設定を返す。
// GET /api/users/me/settings
func (h *UserHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetSettings(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(user))
}

// UpdateSettings はログインユーザーの設定を更新する。
// PUT /api/users/me/settings
func (h *UserHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req settingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ReminderLeadDays == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	user, err := h.service.UpdateSettings(r.Context(), userID, *req.ReminderLeadDays)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(user))
}
