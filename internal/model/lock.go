package model

import "time"

// EditLock はイベント編集の勧告ロックを表す。
// UIの編集可否を切り替えるためのヒントであり、ストレージへの書き込み自体は阻止しない。
// プロセス内のメモリにのみ存在し、再起動で全て解放される。
type EditLock struct {
	EventID      string    `json:"event_id"`
	HolderUserID string    `json:"holder_user_id"`
	HolderLabel  string    `json:"holder_label"`
	AcquiredAt   time.Time `json:"acquired_at"`
}

// LockStatus は編集ロック要求に対する応答を表す。
// IsLocked は要求者以外のユーザーがロックを保持していることを示し、その場合 LockedBy に保持者ラベルが入る。
type LockStatus struct {
	EventID  string `json:"eventId"`
	Granted  bool   `json:"granted"`
	IsLocked bool   `json:"isLocked"`
	LockedBy string `json:"lockedBy,omitempty"`
}
