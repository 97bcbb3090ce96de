package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventsync/internal/event"
	"github.com/hitoshi/eventsync/internal/model"
)

// EventServiceInterface はイベントハンドラーが必要とするサービスインターフェース。
type EventServiceInterface interface {
	List(ctx context.Context, userID string) ([]*model.Event, error)
	Get(ctx context.Context, id string) (*model.Event, error)
	Create(ctx context.Context, userID string, in event.Input) (*model.Event, error)
	Update(ctx context.Context, id string, in event.Input) (*model.Event, error)
	Delete(ctx context.Context, id string) error
}

// LockReader は編集ロックの状態を参照するインターフェース。realtime.Hubが満たす。
type LockReader interface {
	LockStatus(ctx context.Context, eventID, userID string) (model.LockStatus, error)
}

// EventHandler はイベント管理のHTTPハンドラー。
type EventHandler struct {
	service EventServiceInterface
	locks   LockReader
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(service EventServiceInterface, locks LockReader) *EventHandler {
	return &EventHandler{
		service: service,
		locks:   locks,
	}
}

// ListEvents はログインユーザーのイベント一覧を返す。
// GET /api/events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	events, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// CreateEvent はイベントを作成する。
// POST /api/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var in event.Input
	if !decodeBody(w, r, &in) {
		return
	}

	created, err := h.service.Create(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetEvent はイベント詳細を返す。
// GET /api/events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// UpdateEvent はイベントを更新する。
// PUT /api/events/{id}
func (h *EventHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var in event.Input
	if !decodeBody(w, r, &in) {
		return
	}

	updated, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteEvent はイベントを削除する。
// DELETE /api/events/{id}
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetLock はイベントの編集ロック状態をログインユーザーから見た形で返す。
// GET /api/events/{id}/lock
func (h *EventHandler) GetLock(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	status, err := h.locks.LockStatus(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
