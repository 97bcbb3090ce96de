package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/eventsync/internal/event"
	"github.com/hitoshi/eventsync/internal/middleware"
	"github.com/hitoshi/eventsync/internal/model"
	"github.com/hitoshi/eventsync/internal/notification"
	"github.com/hitoshi/eventsync/internal/realtime"
	"github.com/hitoshi/eventsync/internal/security"
	"github.com/hitoshi/eventsync/internal/user"
)

// --- インメモリリポジトリ ---

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newMemUserRepo(users ...*model.User) *memUserRepo {
	r := &memUserRepo{users: map[string]*model.User{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (r *memUserRepo) ListAll(ctx context.Context) ([]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.User
	for _, u := range r.users {
		copied := *u
		result = append(result, &copied)
	}
	return result, nil
}

func (r *memUserRepo) UpdateReminderLeadDays(ctx context.Context, id string, days int) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	u.ReminderLeadDays = days
	copied := *u
	return &copied, nil
}

type memEventRepo struct {
	mu     sync.Mutex
	events map[string]*model.Event
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{events: map[string]*model.Event{}}
}

func (r *memEventRepo) FindByID(ctx context.Context, id string) (*model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (r *memEventRepo) ListByUser(ctx context.Context, userID string) ([]*model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.Event
	for _, e := range r.events {
		if e.UserID == userID {
			copied := *e
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EventDate.Before(result[j].EventDate) })
	return result, nil
}

func (r *memEventRepo) FindInRange(ctx context.Context, userID string, start, end time.Time) ([]*model.Event, error) {
	return nil, nil
}

func (r *memEventRepo) Create(ctx context.Context, e *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *e
	r.events[e.ID] = &copied
	return nil
}

func (r *memEventRepo) Update(ctx context.Context, e *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[e.ID]; !ok {
		return model.NewEventNotFoundError(e.ID)
	}
	copied := *e
	r.events[e.ID] = &copied
	return nil
}

func (r *memEventRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[id]; !ok {
		return model.NewEventNotFoundError(id)
	}
	delete(r.events, id)
	return nil
}

type memNotificationRepo struct {
	mu            sync.Mutex
	notifications []*model.Notification
}

func (r *memNotificationRepo) FindReminder(ctx context.Context, userID, eventID string, targetDate time.Time) (*model.Notification, error) {
	return nil, nil
}

func (r *memNotificationRepo) Insert(ctx context.Context, n *model.Notification) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
	return true, nil
}

func (r *memNotificationRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.Notification
	for i := len(r.notifications) - 1; i >= 0 && len(result) < limit; i-- {
		if r.notifications[i].UserID == userID {
			result = append(result, r.notifications[i])
		}
	}
	return result, nil
}

func (r *memNotificationRepo) MarkRead(ctx context.Context, userID, id string) (*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notifications {
		if n.ID == id && n.UserID == userID {
			n.IsRead = true
			copied := *n
			return &copied, nil
		}
	}
	return nil, nil
}

// --- テストサーバー ---

type testApp struct {
	server        *httptest.Server
	hub           *realtime.Hub
	notifications *memNotificationRepo
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	hub := realtime.NewHub(logger, nil, realtime.DefaultHubConfig())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	users := newMemUserRepo(
		&model.User{ID: "alice", Name: "Alice", ReminderLeadDays: 1},
		&model.User{ID: "bob", Name: "Bob", ReminderLeadDays: 1},
	)
	events := newMemEventRepo()
	notifications := &memNotificationRepo{}

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())

	router := NewRouter(&RouterDeps{
		HealthChecker:       &mockHealthChecker{},
		UserFinder:          users,
		RateLimiter:         limiter,
		Logger:              logger,
		EventService:        event.NewService(events, hub, security.NewTextSanitizer()),
		LockReader:          hub,
		RealtimeInspector:   hub,
		NotificationService: notification.NewService(notifications, hub),
		UserService:         user.NewService(users, hub),
		WSHandler:           NewWSHandler(hub, users, "", logger, realtime.DefaultClientConfig()),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		limiter.Stop()
	})
	return &testApp{server: srv, hub: hub, notifications: notifications}
}

func (a *testApp) do(t *testing.T, method, path, userID, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.server.URL+path, r)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set(middleware.UserIDHeader, userID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testApp) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if userID != "" {
		header.Set(middleware.UserIDHeader, userID)
	}
	url := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func wsSend(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	msg := map[string]any{"type": msgType}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(t, conn.WriteJSON(msg))
}

func wsReadUntil(t *testing.T, conn *websocket.Conn, msgType string) realtime.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var env realtime.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", msgType)
		if env.Type == msgType {
			return env
		}
	}
}

func wsSync(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	wsSend(t, conn, realtime.TypePing, nil)
	wsReadUntil(t, conn, realtime.TypePong)
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// --- テスト ---

func TestRouter_Health_NoIdentityRequired(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
}

func TestRouter_API_RequiresKnownUser(t *testing.T) {
	app := newTestApp(t)

	assert.Equal(t, http.StatusUnauthorized, app.do(t, http.MethodGet, "/api/events", "", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, app.do(t, http.MethodGet, "/api/events", "mallory", "").StatusCode)
	assert.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/api/events", "alice", "").StatusCode)
}

func TestRouter_WS_UnknownUserRejected(t *testing.T) {
	app := newTestApp(t)

	header := http.Header{}
	header.Set(middleware.UserIDHeader, "mallory")
	url := "ws" + strings.TrimPrefix(app.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_EventCRUD_BroadcastsAndLockStatus(t *testing.T) {
	app := newTestApp(t)

	created := decodeJSON[model.Event](t, app.do(t, http.MethodPost, "/api/events", "alice",
		`{"title":"<b>結婚式</b>","event_date":"2026-12-05T11:00:00Z"}`))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "結婚式", created.Title)

	// aliceが編集画面を開いてロックを取得する
	alice := app.dial(t, "alice")
	wsSend(t, alice, realtime.TypeJoinEvent, map[string]string{"eventId": created.ID})
	wsSend(t, alice, realtime.TypeRequestEditLock, map[string]string{"eventId": created.ID, "label": "Alice"})
	env := wsReadUntil(t, alice, realtime.TypeLockStatus)
	var granted model.LockStatus
	require.NoError(t, json.Unmarshal(env.Data, &granted))
	require.True(t, granted.Granted)

	// bobから見るとロックされている
	status := decodeJSON[model.LockStatus](t, app.do(t, http.MethodGet, "/api/events/"+created.ID+"/lock", "bob", ""))
	assert.True(t, status.IsLocked)
	assert.Equal(t, "Alice", status.LockedBy)

	// 保持者本人から見るとロックされていない
	own := decodeJSON[model.LockStatus](t, app.do(t, http.MethodGet, "/api/events/"+created.ID+"/lock", "alice", ""))
	assert.False(t, own.IsLocked)

	snapshot := decodeJSON[realtimeResponse](t, app.do(t, http.MethodGet, "/api/realtime", "bob", ""))
	assert.Equal(t, 1, snapshot.Stats.Connections)
	require.Len(t, snapshot.Locks, 1)
	assert.Equal(t, "alice", snapshot.Locks[0].HolderUserID)

	// 更新はルームの参加者に通知される
	resp := app.do(t, http.MethodPut, "/api/events/"+created.ID, "alice",
		`{"title":"披露宴","event_date":"2026-12-05T11:00:00Z"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	changed := wsReadUntil(t, alice, realtime.TypeDataChanged)
	var payload realtime.DataChanged
	require.NoError(t, json.Unmarshal(changed.Data, &payload))
	assert.Equal(t, created.ID, payload.EventID)

	assert.Equal(t, http.StatusNoContent, app.do(t, http.MethodDelete, "/api/events/"+created.ID, "alice", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodGet, "/api/events/"+created.ID, "alice", "").StatusCode)
}

func TestRouter_Settings_BroadcastsUserUpdated(t *testing.T) {
	app := newTestApp(t)

	conn := app.dial(t, "bob")
	wsSync(t, conn)

	resp := app.do(t, http.MethodPut, "/api/users/me/settings", "bob", `{"reminder_lead_days":-1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	wsReadUntil(t, conn, realtime.TypeUserUpdated)

	settings := decodeJSON[settingsResponse](t, app.do(t, http.MethodGet, "/api/users/me/settings", "bob", ""))
	assert.Equal(t, -1, settings.ReminderLeadDays)
	assert.False(t, settings.RemindersEnabled)
}

func TestRouter_Notifications_ListAndMarkRead(t *testing.T) {
	app := newTestApp(t)
	eventID := "E1"
	_, err := app.notifications.Insert(context.Background(), &model.Notification{
		ID: "N1", UserID: "alice", EventID: &eventID, Message: "リマインダー", Category: model.CategoryReminder,
	})
	require.NoError(t, err)

	list := decodeJSON[[]model.Notification](t, app.do(t, http.MethodGet, "/api/notifications", "alice", ""))
	require.Len(t, list, 1)
	assert.False(t, list[0].IsRead)

	// 他人の通知は既読にできない
	assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodPut, "/api/notifications/N1/read", "bob", "").StatusCode)

	read := decodeJSON[model.Notification](t, app.do(t, http.MethodPut, "/api/notifications/N1/read", "alice", ""))
	assert.True(t, read.IsRead)
}
