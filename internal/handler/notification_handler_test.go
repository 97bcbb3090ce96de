package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/eventsync/internal/model"
)

type mockNotificationService struct {
	listFn     func(ctx context.Context, userID string, limit int) ([]*model.Notification, error)
	markReadFn func(ctx context.Context, userID, id string) (*model.Notification, error)
}

func (m *mockNotificationService) List(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, limit)
	}
	return []*model.Notification{}, nil
}

func (m *mockNotificationService) MarkRead(ctx context.Context, userID, id string) (*model.Notification, error) {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, userID, id)
	}
	return &model.Notification{ID: id, UserID: userID, IsRead: true}, nil
}

func TestNotificationHandler_List_PassesLimit(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"指定なし", "", 0},
		{"指定あり", "?limit=20", 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotLimit := -1
			h := NewNotificationHandler(&mockNotificationService{
				listFn: func(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
					gotLimit = limit
					return []*model.Notification{{ID: "N1", UserID: userID}}, nil
				},
			})

			req := withUserID(httptest.NewRequest(http.MethodGet, "/api/notifications"+tt.query, nil), "user-1")
			w := httptest.NewRecorder()

			h.ListNotifications(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if gotLimit != tt.want {
				t.Errorf("limit = %d, want %d", gotLimit, tt.want)
			}
		})
	}
}

func TestNotificationHandler_List_InvalidLimit(t *testing.T) {
	for _, q := range []string{"?limit=abc", "?limit=0", "?limit=-5"} {
		t.Run(q, func(t *testing.T) {
			h := NewNotificationHandler(&mockNotificationService{})

			req := withUserID(httptest.NewRequest(http.MethodGet, "/api/notifications"+q, nil), "user-1")
			w := httptest.NewRecorder()

			h.ListNotifications(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestNotificationHandler_MarkRead(t *testing.T) {
	h := NewNotificationHandler(&mockNotificationService{})

	req := httptest.NewRequest(http.MethodPut, "/api/notifications/N1/read", nil)
	req = withChiURLParam(withUserID(req, "user-1"), "id", "N1")
	w := httptest.NewRecorder()

	h.MarkRead(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var n model.Notification
	if err := json.NewDecoder(w.Body).Decode(&n); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if n.ID != "N1" || !n.IsRead {
		t.Errorf("notification = %+v", n)
	}
}

func TestNotificationHandler_MarkRead_NotFound(t *testing.T) {
	h := NewNotificationHandler(&mockNotificationService{
		markReadFn: func(ctx context.Context, userID, id string) (*model.Notification, error) {
			return nil, model.NewNotificationNotFoundError(id)
		},
	})

	req := httptest.NewRequest(http.MethodPut, "/api/notifications/other/read", nil)
	req = withChiURLParam(withUserID(req, "user-1"), "id", "other")
	w := httptest.NewRecorder()

	h.MarkRead(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := parseAPIErrorResponse(t, w); body.Code != model.ErrCodeNotificationNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeNotificationNotFound)
	}
}
