package realtime

// Broadcaster はCRUD層やスケジューラから変更を通知するためのインターフェース。
// いずれのメソッドもブロックせず、エラーを返さない。
type Broadcaster interface {
	// BroadcastRoomChange はイベントを閲覧中の全接続にdata_changedを送る。
	BroadcastRoomChange(eventID string)
	// BroadcastUserEvent はユーザーの全接続にmsgTypeのメッセージを送る。
	BroadcastUserEvent(userID, msgType string, payload any)
}

// NopBroadcaster は何も配信しないBroadcaster。WebSocketを持たないworkerコマンドで使用する。
type NopBroadcaster struct{}

func (NopBroadcaster) BroadcastRoomChange(string)            {}
func (NopBroadcaster) BroadcastUserEvent(string, string, any) {}

var (
	_ Broadcaster = (*Hub)(nil)
	_ Broadcaster = NopBroadcaster{}
)
