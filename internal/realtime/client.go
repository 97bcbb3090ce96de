package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/hitoshi/eventsync/internal/model"
)

const (
	// writeWait は1メッセージの書き込みに許容する時間。
	writeWait = 10 * time.Second
	// pongWait はpongを待つ時間。これを超えると読み込みがタイムアウトする。
	pongWait = 60 * time.Second
	// pingPeriod はpingの送信間隔。pongWaitより短くなければならない。
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize はクライアントから受け付ける最大メッセージサイズ。
	maxMessageSize = 4096
)

// ClientConfig はWebSocketクライアントの設定。
type ClientConfig struct {
	// SendBuffer は送信キューの長さ。満杯時の信号は破棄される。
	SendBuffer int
	// MessageRate は1接続あたりの受信メッセージ数/秒の上限。
	MessageRate float64
	// MessageBurst は受信メッセージのバースト上限。
	MessageBurst int
	// RequestTimeout はHubへの同期要求のタイムアウト。
	RequestTimeout time.Duration
}

// DefaultClientConfig はデフォルトのクライアント設定を返す。
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SendBuffer:     64,
		MessageRate:    20,
		MessageBurst:   40,
		RequestTimeout: 5 * time.Second,
	}
}

// Client は1本のWebSocket接続とHubを仲介する。
// 読み込みはServeを呼び出したgoroutine、書き込みは専用のgoroutineが担当する。
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	logger  *slog.Logger
	cfg     ClientConfig
	limiter *rate.Limiter

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient はWebSocket接続をラップしたClientを生成する。
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger, cfg ClientConfig) *Client {
	def := DefaultClientConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.MessageRate <= 0 {
		cfg.MessageRate = def.MessageRate
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = def.MessageBurst
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	id := uuid.NewString()
	return &Client{
		id:      id,
		hub:     hub,
		conn:    conn,
		logger:  logger.With(slog.String("conn_id", id)),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.MessageRate), cfg.MessageBurst),
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
}

// ID は接続IDを返す。
func (c *Client) ID() string { return c.id }

// Deliver はメッセージを送信キューに積む。キューが満杯または接続が閉じている場合はfalseを返す。
func (c *Client) Deliver(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close は書き込みgoroutineを停止し、接続を閉じる。
// sendチャネルは閉じないため、Close後のDeliverも安全。
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Serve は接続をHubに登録し、切断されるまで受信メッセージを処理する。
// userIDが指定された場合は接続時にそのユーザーとして登録する。
func (c *Client) Serve(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	err := c.hub.Connect(ctx, c)
	if err == nil && userID != "" {
		err = c.hub.RegisterUser(ctx, c.id, userID)
	}
	cancel()
	if err != nil {
		c.logger.Warn("接続の登録に失敗しました", slog.String("error", err.Error()))
		c.conn.Close()
		return
	}

	c.logger.Debug("WebSocket接続を開始しました", slog.String("user_id", userID))

	go c.writePump()
	c.readPump()
}

// readPump はWebSocketからのメッセージを読み込み、Hubへのコマンドに変換する。
func (c *Client) readPump() {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()
		if err := c.hub.Disconnect(ctx, c.id); err != nil && !errors.Is(err, ErrHubStopped) {
			c.logger.Warn("切断の通知に失敗しました", slog.String("error", err.Error()))
		}
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.hub.Touch(c.id)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocketの読み込みに失敗しました", slog.String("error", err.Error()))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.Touch(c.id)

		if messageType != websocket.TextMessage {
			continue
		}
		if !c.limiter.Allow() {
			c.replyError(model.ErrCodeRateLimited, "メッセージの送信頻度が上限を超えました。")
			continue
		}
		c.handle(raw)
	}
}

// writePump は送信キューのメッセージをWebSocketに書き込み、定期的にpingを送る。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("WebSocketへの書き込みに失敗しました", slog.String("error", err.Error()))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// handle は受信した1メッセージを処理する。
func (c *Client) handle(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		c.replyError(model.ErrCodeInvalidMessage, "メッセージの形式が不正です。")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()

	var err error
	switch env.Type {
	case TypeRegisterUser:
		var p registerUserPayload
		if !c.decode(env.Data, &p) || p.UserID == "" {
			c.replyError(model.ErrCodeInvalidMessage, "userIdを指定してください。")
			return
		}
		err = c.hub.RegisterUser(ctx, c.id, p.UserID)

	case TypeJoinEvent, TypeLeaveEvent:
		var p eventPayload
		if !c.decode(env.Data, &p) || p.EventID == "" {
			c.replyError(model.ErrCodeInvalidMessage, "eventIdを指定してください。")
			return
		}
		if env.Type == TypeJoinEvent {
			err = c.hub.Join(ctx, c.id, p.EventID)
		} else {
			err = c.hub.Leave(ctx, c.id, p.EventID)
		}

	case TypeRequestEditLock:
		var p editLockPayload
		if !c.decode(env.Data, &p) || p.EventID == "" {
			c.replyError(model.ErrCodeInvalidMessage, "eventIdを指定してください。")
			return
		}
		// lock_statusはHubが要求元に直接送信する
		_, err = c.hub.RequestEditLock(ctx, c.id, p.EventID, p.UserID, p.Label)
		if errors.Is(err, ErrUserNotRegistered) {
			c.replyError(model.ErrCodeUnauthorized, "register_userでユーザーを登録してください。")
			return
		}

	case TypeReleaseEditLock:
		var p eventPayload
		if !c.decode(env.Data, &p) || p.EventID == "" {
			c.replyError(model.ErrCodeInvalidMessage, "eventIdを指定してください。")
			return
		}
		err = c.hub.ReleaseEditLock(ctx, c.id, p.EventID)

	case TypePing:
		c.reply(TypePong, nil)

	default:
		c.replyError(model.ErrCodeUnknownMessageType, "不明なメッセージ種別です: "+env.Type)
		return
	}

	if err != nil {
		c.logger.Warn("メッセージの処理に失敗しました",
			slog.String("type", env.Type),
			slog.String("error", err.Error()),
		)
		c.replyError(model.ErrCodeInternal, "メッセージを処理できませんでした。")
	}
}

func (c *Client) decode(data json.RawMessage, v any) bool {
	if len(data) == 0 {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (c *Client) reply(msgType string, data any) {
	msg, err := encodeMessage(msgType, data, time.Now())
	if err != nil {
		return
	}
	c.Deliver(msg)
}

func (c *Client) replyError(code, message string) {
	c.reply(TypeError, errorPayload{Code: code, Message: message})
}

var _ Peer = (*Client)(nil)
