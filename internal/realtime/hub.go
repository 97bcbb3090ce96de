// Package realtime はイベント編集画面向けのリアルタイム配信を提供する。
// 接続レジストリ、編集ロック、変更通知のブロードキャストを1つのHubが所有する。
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/eventsync/internal/metrics"
	"github.com/hitoshi/eventsync/internal/model"
)

var (
	// ErrHubStopped はHubが停止済みで要求を処理できないことを示す。
	ErrHubStopped = errors.New("realtime: hub stopped")
	// ErrUnknownConnection は未登録または切断済みの接続に対する要求であることを示す。
	ErrUnknownConnection = errors.New("realtime: unknown connection")
	// ErrUserNotRegistered はユーザー未登録の接続からロックを要求したことを示す。
	ErrUserNotRegistered = errors.New("realtime: user is not registered")
)

// Peer はHubから見た1つのクライアント接続。
type Peer interface {
	ID() string
	// Deliver はメッセージを送信キューに積む。ブロックせず、積めなかった場合はfalseを返す。
	Deliver(msg []byte) bool
	// Close は接続を閉じる。複数回呼び出してもよい。
	Close()
}

// HubConfig はHubの動作設定。
type HubConfig struct {
	// MailboxSize はHubのコマンドキューの長さ。
	MailboxSize int
	// StaleAfter を超えて受信のない接続は切断扱いにする。0以下で無効。
	StaleAfter time.Duration
	// SweepInterval は無応答接続を検査する間隔。
	SweepInterval time.Duration
	// Now は現在時刻を返す。nilの場合はtime.Nowを使用する。
	Now func() time.Time
}

// DefaultHubConfig はデフォルトのHub設定を返す。
func DefaultHubConfig() HubConfig {
	return HubConfig{
		MailboxSize:   1024,
		StaleAfter:    90 * time.Second,
		SweepInterval: 30 * time.Second,
	}
}

// Stats はHubの現在の規模を表す。
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Locks       int `json:"locks"`
}

// Hub は接続レジストリと編集ロックを単一のgoroutineで所有する。
// 状態の変更はすべてmailbox経由のコマンドとしてRun内で逐次実行されるため、
// 同時に届いた最初のロック要求も必ずどちらか一方だけが付与される。
type Hub struct {
	logger   *slog.Logger
	recorder metrics.RealtimeRecorder
	cfg      HubConfig

	mailbox chan func()
	stopped chan struct{}

	// 以下はRunのgoroutineのみが触る
	registry *registry
	locks    *lockManager
}

// NewHub はHubを生成する。Runを呼び出すまでコマンドは処理されない。
func NewHub(logger *slog.Logger, recorder metrics.RealtimeRecorder, cfg HubConfig) *Hub {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultHubConfig().MailboxSize
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultHubConfig().SweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	h := &Hub{
		logger:   logger,
		recorder: recorder,
		cfg:      cfg,
		mailbox:  make(chan func(), cfg.MailboxSize),
		stopped:  make(chan struct{}),
		registry: newRegistry(),
		locks:    newLockManager(),
	}
	h.registry.onDisconnect(h.releaseLocks)
	return h
}

// Run はコンテキストがキャンセルされるまでコマンドを処理する。
// 終了時には残っている全接続を閉じる。
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	h.logger.Info("リアルタイムハブを開始しました",
		slog.Int("mailbox_size", h.cfg.MailboxSize),
		slog.Duration("stale_after", h.cfg.StaleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			close(h.stopped)
			h.registry.closeAll()
			h.recorder.SetActive(0, 0, 0)
			h.logger.Info("リアルタイムハブを停止しました")
			return
		case cmd := <-h.mailbox:
			cmd()
			h.reportActive()
		case <-ticker.C:
			h.sweep()
			h.reportActive()
		}
	}
}

// call はコマンドをHubに渡し、実行完了まで待つ。
func (h *Hub) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	cmd := func() {
		fn()
		close(done)
	}

	select {
	case h.mailbox <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return ErrHubStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return ErrHubStopped
	}
}

// post はコマンドをブロックせずにHubに渡す。キューが満杯の場合は破棄してfalseを返す。
func (h *Hub) post(kind string, fn func()) bool {
	select {
	case h.mailbox <- fn:
		return true
	default:
		h.recorder.RecordDropped(metrics.DropMailboxFull)
		h.logger.Warn("ハブのキューが満杯のため信号を破棄しました",
			slog.String("kind", kind),
		)
		return false
	}
}

// Connect は接続をレジストリに登録する。
func (h *Hub) Connect(ctx context.Context, peer Peer) error {
	return h.call(ctx, func() {
		h.registry.add(peer, h.cfg.Now())
	})
}

// Disconnect は接続をレジストリから除去し、その接続が保持していた編集ロックを解放する。
// 未登録の接続に対しては何もしない。
func (h *Hub) Disconnect(ctx context.Context, connID string) error {
	return h.call(ctx, func() {
		h.disconnect(connID, "closed")
	})
}

// RegisterUser は接続にユーザーを紐付ける。同じ接続での再登録は後勝ち。
func (h *Hub) RegisterUser(ctx context.Context, connID, userID string) error {
	var ok bool
	if err := h.call(ctx, func() {
		ok = h.registry.register(connID, userID)
	}); err != nil {
		return err
	}
	if !ok {
		return ErrUnknownConnection
	}
	return nil
}

// Join は接続をイベントのルームに参加させる。
func (h *Hub) Join(ctx context.Context, connID, eventID string) error {
	var ok bool
	if err := h.call(ctx, func() {
		ok = h.registry.join(connID, eventID)
	}); err != nil {
		return err
	}
	if !ok {
		return ErrUnknownConnection
	}
	return nil
}

// Leave は接続をイベントのルームから退出させる。参加していない場合は何もしない。
func (h *Hub) Leave(ctx context.Context, connID, eventID string) error {
	return h.call(ctx, func() {
		h.registry.leave(connID, eventID)
	})
}

// RequestEditLock は編集ロックを要求し、結果をlock_statusとして要求元の接続にも送信する。
// userIDが空の場合は接続に登録済みのユーザーを使用する。labelが空の場合はuserIDを表示名とする。
// ロックの競合はエラーではなく Granted=false の応答として返す。
func (h *Hub) RequestEditLock(ctx context.Context, connID, eventID, userID, label string) (model.LockStatus, error) {
	var (
		status model.LockStatus
		reqErr error
	)
	err := h.call(ctx, func() {
		peer := h.registry.peer(connID)
		if peer == nil {
			reqErr = ErrUnknownConnection
			return
		}
		if userID == "" {
			userID = h.registry.userOf(connID)
		}
		if userID == "" {
			reqErr = ErrUserNotRegistered
			return
		}
		if label == "" {
			label = userID
		}

		status = h.locks.request(eventID, userID, label, connID, h.cfg.Now())
		h.recorder.RecordLockRequest(status.Granted)
		h.logger.Debug("編集ロックを要求しました",
			slog.String("event_id", eventID),
			slog.String("user_id", userID),
			slog.String("conn_id", connID),
			slog.Bool("granted", status.Granted),
		)
		h.deliver(peer, TypeLockStatus, status)
	})
	if err != nil {
		return model.LockStatus{}, err
	}
	return status, reqErr
}

// ReleaseEditLock は接続が保持する編集ロックを解放する。
// 保持していない場合や未ロックの場合は何もしない。
func (h *Hub) ReleaseEditLock(ctx context.Context, connID, eventID string) error {
	return h.call(ctx, func() {
		if h.locks.release(eventID, connID) {
			h.logger.Debug("編集ロックを解放しました",
				slog.String("event_id", eventID),
				slog.String("conn_id", connID),
			)
		}
	})
}

// LockStatus はuserIDから見たイベントの現在のロック状態を返す。
func (h *Hub) LockStatus(ctx context.Context, eventID, userID string) (model.LockStatus, error) {
	var status model.LockStatus
	err := h.call(ctx, func() {
		status = h.locks.status(eventID, userID)
	})
	return status, err
}

// Locks は保持中の編集ロック一覧を返す。
func (h *Hub) Locks(ctx context.Context) ([]model.EditLock, error) {
	var locks []model.EditLock
	err := h.call(ctx, func() {
		locks = h.locks.snapshot()
	})
	return locks, err
}

// Stats は接続数・ルーム数・ロック数を返す。
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := h.call(ctx, func() {
		s = h.stats()
	})
	return s, err
}

// Touch は接続の最終受信時刻を更新する。ブロックしない。
func (h *Hub) Touch(connID string) {
	select {
	case h.mailbox <- func() { h.registry.touch(connID, h.cfg.Now()) }:
	default:
	}
}

// BroadcastRoomChange はイベントのルームに参加している全接続へdata_changedを送信する。
// 宛先がいなくても、キューが満杯でもエラーにはならない。
func (h *Hub) BroadcastRoomChange(eventID string) {
	msg, err := encodeMessage(TypeDataChanged, DataChanged{EventID: eventID}, h.cfg.Now())
	if err != nil {
		h.logger.Error("メッセージのエンコードに失敗しました",
			slog.String("type", TypeDataChanged),
			slog.String("error", err.Error()),
		)
		return
	}
	h.post("room", func() {
		h.fanOut("room", h.registry.roomPeers(eventID), msg)
	})
}

// BroadcastUserEvent はユーザーに紐付く全接続へ、参加ルームに関係なくメッセージを送信する。
func (h *Hub) BroadcastUserEvent(userID, msgType string, payload any) {
	msg, err := encodeMessage(msgType, payload, h.cfg.Now())
	if err != nil {
		h.logger.Error("メッセージのエンコードに失敗しました",
			slog.String("type", msgType),
			slog.String("error", err.Error()),
		)
		return
	}
	h.post("user", func() {
		h.fanOut("user", h.registry.userPeers(userID), msg)
	})
}

// fanOut は各接続の送信キューにメッセージを積む。満杯の接続には配信しない。
func (h *Hub) fanOut(kind string, peers []Peer, msg []byte) {
	for _, p := range peers {
		if !p.Deliver(msg) {
			h.recorder.RecordDropped(metrics.DropSendBufferFull)
			h.logger.Warn("送信キューが満杯のため信号を破棄しました",
				slog.String("conn_id", p.ID()),
				slog.String("kind", kind),
			)
		}
	}
	h.recorder.RecordBroadcast(kind, len(peers))
}

// deliver は1接続にメッセージを送信する。
func (h *Hub) deliver(p Peer, msgType string, data any) {
	msg, err := encodeMessage(msgType, data, h.cfg.Now())
	if err != nil {
		h.logger.Error("メッセージのエンコードに失敗しました",
			slog.String("type", msgType),
			slog.String("error", err.Error()),
		)
		return
	}
	if !p.Deliver(msg) {
		h.recorder.RecordDropped(metrics.DropSendBufferFull)
	}
}

// disconnect は接続をレジストリから除去する。切断リスナー経由でロックも解放される。
func (h *Hub) disconnect(connID, reason string) {
	userID := h.registry.userOf(connID)
	if h.registry.disconnect(connID) {
		h.logger.Debug("接続を切断しました",
			slog.String("conn_id", connID),
			slog.String("user_id", userID),
			slog.String("reason", reason),
		)
	}
}

// releaseLocks は切断された接続が保持していた編集ロックを解放する。
func (h *Hub) releaseLocks(connID string) {
	for _, eventID := range h.locks.releaseConnection(connID) {
		h.logger.Info("切断により編集ロックを解放しました",
			slog.String("event_id", eventID),
			slog.String("conn_id", connID),
		)
	}
}

// sweep は一定時間受信のない接続を閉じて切断扱いにする。
func (h *Hub) sweep() {
	if h.cfg.StaleAfter <= 0 {
		return
	}
	for _, connID := range h.registry.stale(h.cfg.Now(), h.cfg.StaleAfter) {
		if p := h.registry.peer(connID); p != nil {
			p.Close()
		}
		h.disconnect(connID, "stale")
	}
}

func (h *Hub) stats() Stats {
	return Stats{
		Connections: h.registry.connectionCount(),
		Rooms:       h.registry.roomCount(),
		Locks:       h.locks.count(),
	}
}

func (h *Hub) reportActive() {
	s := h.stats()
	h.recorder.SetActive(s.Connections, s.Rooms, s.Locks)
}
