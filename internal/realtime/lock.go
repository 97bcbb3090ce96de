package realtime

import (
	"sort"
	"time"

	"github.com/hitoshi/eventsync/internal/model"
)

// lockEntry は1イベント分の編集ロック。
// 同一ユーザーの複数タブが同じロックを保持できるよう、保持中の接続を集合で持つ。
type lockEntry struct {
	lock  model.EditLock
	conns map[string]struct{}
}

// lockManager はイベント単位の勧告的な編集ロックを管理する。
// 保存処理はブロックせず、どのクライアントに編集フォームを表示するかだけを決める。
// Hubのオーナーgoroutineからのみ操作される。
type lockManager struct {
	locks map[string]*lockEntry
}

func newLockManager() *lockManager {
	return &lockManager{locks: make(map[string]*lockEntry)}
}

// request は編集ロックを要求する。
// 未ロックなら付与し、同一ユーザーが保持中なら接続を追加して再付与する。
// 他ユーザーが保持中なら拒否し、保持者のラベルを返す。待機キューは持たない。
func (m *lockManager) request(eventID, userID, label, connID string, now time.Time) model.LockStatus {
	entry, ok := m.locks[eventID]
	if !ok {
		m.locks[eventID] = &lockEntry{
			lock: model.EditLock{
				EventID:      eventID,
				HolderUserID: userID,
				HolderLabel:  label,
				AcquiredAt:   now,
			},
			conns: map[string]struct{}{connID: {}},
		}
		return model.LockStatus{EventID: eventID, Granted: true, IsLocked: false}
	}

	if entry.lock.HolderUserID == userID {
		entry.conns[connID] = struct{}{}
		return model.LockStatus{EventID: eventID, Granted: true, IsLocked: false}
	}

	return model.LockStatus{
		EventID:  eventID,
		Granted:  false,
		IsLocked: true,
		LockedBy: entry.lock.HolderLabel,
	}
}

// release は接続をロックの保持集合から外す。集合が空になったらロックを解放する。
// 未ロック、または接続が保持者でない場合は何もしない。
func (m *lockManager) release(eventID, connID string) bool {
	entry, ok := m.locks[eventID]
	if !ok {
		return false
	}
	if _, held := entry.conns[connID]; !held {
		return false
	}
	delete(entry.conns, connID)
	if len(entry.conns) == 0 {
		delete(m.locks, eventID)
		return true
	}
	return false
}

// releaseConnection は切断された接続を全ロックから外し、解放されたイベントIDを返す。
func (m *lockManager) releaseConnection(connID string) []string {
	var freed []string
	for eventID, entry := range m.locks {
		if _, held := entry.conns[connID]; !held {
			continue
		}
		delete(entry.conns, connID)
		if len(entry.conns) == 0 {
			delete(m.locks, eventID)
			freed = append(freed, eventID)
		}
	}
	sort.Strings(freed)
	return freed
}

// status はuserIDから見たイベントの現在のロック状態を返す。
// userID自身が保持している場合はロックされていない扱いになる。
func (m *lockManager) status(eventID, userID string) model.LockStatus {
	entry, ok := m.locks[eventID]
	if !ok || entry.lock.HolderUserID == userID {
		return model.LockStatus{EventID: eventID}
	}
	return model.LockStatus{EventID: eventID, IsLocked: true, LockedBy: entry.lock.HolderLabel}
}

// snapshot は保持中のロック一覧をイベントID順で返す。
func (m *lockManager) snapshot() []model.EditLock {
	locks := make([]model.EditLock, 0, len(m.locks))
	for _, entry := range m.locks {
		locks = append(locks, entry.lock)
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].EventID < locks[j].EventID })
	return locks
}

func (m *lockManager) count() int { return len(m.locks) }
