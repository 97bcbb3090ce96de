package realtime

import (
	"encoding/json"
	"time"
)

// クライアントから送信されるメッセージ種別
const (
	TypeRegisterUser    = "register_user"
	TypeJoinEvent       = "join_event"
	TypeLeaveEvent      = "leave_event"
	TypeRequestEditLock = "request_edit_lock"
	TypeReleaseEditLock = "release_edit_lock"
	TypePing            = "ping"
)

// サーバーから送信されるメッセージ種別
const (
	TypeLockStatus      = "lock_status"
	TypeDataChanged     = "data_changed"
	TypeNewNotification = "new_notification"
	TypeUserUpdated     = "user_updated"
	TypePong            = "pong"
	TypeError           = "error"
)

// Envelope はWebSocket上でやり取りするメッセージの共通形式。
// 受信時のDataは種別ごとのペイロードとして後から解析する。
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
}

// outbound は送信用のメッセージ。
type outbound struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DataChanged はdata_changedメッセージのペイロード。
// ユーザー宛ての場合はEventIDを省略する。
type DataChanged struct {
	EventID string `json:"eventId,omitempty"`
}

type registerUserPayload struct {
	UserID string `json:"userId"`
}

type eventPayload struct {
	EventID string `json:"eventId"`
}

type editLockPayload struct {
	EventID string `json:"eventId"`
	UserID  string `json:"userId"`
	Label   string `json:"label"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// encodeMessage は送信用メッセージをJSONにエンコードする。
func encodeMessage(msgType string, data any, now time.Time) ([]byte, error) {
	return json.Marshal(outbound{Type: msgType, Data: data, Timestamp: now.UTC()})
}
