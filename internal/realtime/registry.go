package realtime

import (
	"sort"
	"time"
)

// connection はレジストリが保持する1接続分の状態。
type connection struct {
	peer     Peer
	userID   string
	rooms    map[string]struct{}
	lastSeen time.Time
}

// DisconnectListener は接続の切断時に呼び出される。
type DisconnectListener func(connID string)

// registry は接続・ユーザー・ルームの対応を管理する。
// Hubのオーナーgoroutineからのみ操作されるため、ロックを持たない。
type registry struct {
	conns     map[string]*connection
	users     map[string]map[string]struct{}
	rooms     map[string]map[string]struct{}
	listeners []DisconnectListener
}

func newRegistry() *registry {
	return &registry{
		conns: make(map[string]*connection),
		users: make(map[string]map[string]struct{}),
		rooms: make(map[string]map[string]struct{}),
	}
}

// onDisconnect は切断リスナーを登録する。登録順に呼び出される。
func (r *registry) onDisconnect(l DisconnectListener) {
	r.listeners = append(r.listeners, l)
}

// add は接続を登録する。同じIDが登録済みの場合はfalseを返す。
func (r *registry) add(peer Peer, now time.Time) bool {
	if _, ok := r.conns[peer.ID()]; ok {
		return false
	}
	r.conns[peer.ID()] = &connection{
		peer:     peer,
		rooms:    make(map[string]struct{}),
		lastSeen: now,
	}
	return true
}

// register は接続にユーザーを紐付ける。
// 別ユーザーで再登録した場合は後勝ちで、元ユーザーの接続集合から外す。
func (r *registry) register(connID, userID string) bool {
	c, ok := r.conns[connID]
	if !ok {
		return false
	}
	if c.userID == userID {
		return true
	}
	if c.userID != "" {
		removeMember(r.users, c.userID, connID)
	}
	c.userID = userID
	addMember(r.users, userID, connID)
	return true
}

// join は接続をルームに参加させる。ルームが存在しなければ作成する。
func (r *registry) join(connID, room string) bool {
	c, ok := r.conns[connID]
	if !ok {
		return false
	}
	c.rooms[room] = struct{}{}
	addMember(r.rooms, room, connID)
	return true
}

// leave は接続をルームから退出させる。最後のメンバーが退出したルームは削除する。
// 参加していないルームからの退出は何もしない。
func (r *registry) leave(connID, room string) {
	c, ok := r.conns[connID]
	if !ok {
		return
	}
	if _, joined := c.rooms[room]; !joined {
		return
	}
	delete(c.rooms, room)
	removeMember(r.rooms, room, connID)
}

// disconnect は接続を全ルームとユーザー集合から除去し、切断リスナーを同期的に呼び出す。
// 未登録の接続の場合はfalseを返す。
func (r *registry) disconnect(connID string) bool {
	c, ok := r.conns[connID]
	if !ok {
		return false
	}
	for room := range c.rooms {
		removeMember(r.rooms, room, connID)
	}
	if c.userID != "" {
		removeMember(r.users, c.userID, connID)
	}
	delete(r.conns, connID)

	for _, l := range r.listeners {
		l(connID)
	}
	return true
}

// touch は接続の最終受信時刻を更新する。
func (r *registry) touch(connID string, now time.Time) {
	if c, ok := r.conns[connID]; ok {
		c.lastSeen = now
	}
}

// stale は最終受信からstaleAfterを超えて無応答の接続IDを返す。
func (r *registry) stale(now time.Time, staleAfter time.Duration) []string {
	var ids []string
	for id, c := range r.conns {
		if now.Sub(c.lastSeen) > staleAfter {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *registry) peer(connID string) Peer {
	if c, ok := r.conns[connID]; ok {
		return c.peer
	}
	return nil
}

func (r *registry) userOf(connID string) string {
	if c, ok := r.conns[connID]; ok {
		return c.userID
	}
	return ""
}

// roomPeers はルームに参加している接続を返す。
func (r *registry) roomPeers(room string) []Peer {
	return r.peers(r.rooms[room])
}

// userPeers はユーザーに紐付く全接続を返す。
func (r *registry) userPeers(userID string) []Peer {
	return r.peers(r.users[userID])
}

func (r *registry) peers(ids map[string]struct{}) []Peer {
	peers := make([]Peer, 0, len(ids))
	for id := range ids {
		if c, ok := r.conns[id]; ok {
			peers = append(peers, c.peer)
		}
	}
	return peers
}

func (r *registry) connectionCount() int { return len(r.conns) }
func (r *registry) roomCount() int       { return len(r.rooms) }

// closeAll は全接続を閉じてレジストリを空にする。切断リスナーは呼び出さない。
func (r *registry) closeAll() {
	for _, c := range r.conns {
		c.peer.Close()
	}
	r.conns = make(map[string]*connection)
	r.users = make(map[string]map[string]struct{})
	r.rooms = make(map[string]map[string]struct{})
}

func addMember(sets map[string]map[string]struct{}, key, connID string) {
	set, ok := sets[key]
	if !ok {
		set = make(map[string]struct{})
		sets[key] = set
	}
	set[connID] = struct{}{}
}

func removeMember(sets map[string]map[string]struct{}, key, connID string) {
	set, ok := sets[key]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(sets, key)
	}
}
