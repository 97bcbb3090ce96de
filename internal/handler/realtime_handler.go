package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/eventsync/internal/model"
	"github.com/hitoshi/eventsync/internal/realtime"
)

// RealtimeInspector はリアルタイムハブの現在の状態を参照するインターフェース。
type RealtimeInspector interface {
	Stats(ctx context.Context) (realtime.Stats, error)
	Locks(ctx context.Context) ([]model.EditLock, error)
}

type realtimeResponse struct {
	Stats realtime.Stats   `json:"stats"`
	Locks []model.EditLock `json:"locks"`
}

// NewRealtimeHandler は接続数と保持中の編集ロック一覧を返すハンドラーを生成する。
// GET /api/realtime
func NewRealtimeHandler(inspector RealtimeInspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := inspector.Stats(r.Context())
		if err != nil {
			handleServiceError(w, err)
			return
		}
		locks, err := inspector.Locks(r.Context())
		if err != nil {
			handleServiceError(w, err)
			return
		}
		if locks == nil {
			locks = []model.EditLock{}
		}
		writeJSON(w, http.StatusOK, realtimeResponse{Stats: stats, Locks: locks})
	}
}
