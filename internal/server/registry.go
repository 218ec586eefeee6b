package server

import (
	"sync"
	"sync/atomic"
	"time"
)

const numShards = 32

// sessionSet is a set of live sessions keyed by session id. Merging two
// sets never yields the same session twice.
type sessionSet map[string]*Client

func (s sessionSet) union(other sessionSet) sessionSet {
	for id, c := range other {
		s[id] = c
	}
	return s
}

// transitionFunc is invoked with the shard lock held whenever a user gains
// its first session or loses its last one.
type transitionFunc func(userId int, online bool, at time.Time)

type registryShard struct {
	lock  sync.Mutex
	users map[int]sessionSet
}

// ConnectionRegistry maps users to their live sessions. The forward map is
// sharded by user id and a reverse index resolves a session id to its user.
type ConnectionRegistry struct {
	shards       [numShards]*registryShard
	index        sync.Map // session id -> user id
	count        atomic.Int64
	onTransition transitionFunc
}

func NewConnectionRegistry(onTransition transitionFunc) *ConnectionRegistry {
	r := &ConnectionRegistry{onTransition: onTransition}
	for i := range r.shards {
		r.shards[i] = &registryShard{users: make(map[int]sessionSet)}
	}
	return r
}

func (r *ConnectionRegistry) shard(userId int) *registryShard {
	return r.shards[uint(userId)%numShards]
}

// Register adds c under its user and reports whether it is the user's
// first live session.
func (r *ConnectionRegistry) Register(c *Client) bool {
	s := r.shard(c.user.Id)
	s.lock.Lock()
	defer s.lock.Unlock()

	sessions, ok := s.users[c.user.Id]
	if !ok {
		sessions = make(sessionSet)
		s.users[c.user.Id] = sessions
	}
	if _, dup := sessions[c.id]; dup {
		return false
	}

	first := len(sessions) == 0
	sessions[c.id] = c
	r.index.Store(c.id, c.user.Id)
	r.count.Add(1)

	if first && r.onTransition != nil {
		r.onTransition(c.user.Id, true, Now())
	}

	return first
}

// Unregister removes a session. ok is false when the session is unknown,
// which happens when cleanup races with a previous removal.
func (r *ConnectionRegistry) Unregister(sessionId string) (userId int, isNowEmpty bool, ok bool) {
	v, found := r.index.LoadAndDelete(sessionId)
	if !found {
		return 0, false, false
	}
	userId = v.(int)

	s := r.shard(userId)
	s.lock.Lock()
	defer s.lock.Unlock()

	sessions := s.users[userId]
	if _, ok := sessions[sessionId]; !ok {
		return userId, false, false
	}

	delete(sessions, sessionId)
	r.count.Add(-1)

	if len(sessions) > 0 {
		return userId, false, true
	}

	delete(s.users, userId)
	if r.onTransition != nil {
		r.onTransition(userId, false, Now())
	}

	return userId, true, true
}

// SessionsOf returns a snapshot of the user's live sessions.
func (r *ConnectionRegistry) SessionsOf(userId int) sessionSet {
	s := r.shard(userId)
	s.lock.Lock()
	defer s.lock.Unlock()

	sessions := make(sessionSet, len(s.users[userId]))
	for id, c := range s.users[userId] {
		sessions[id] = c
	}
	return sessions
}

func (r *ConnectionRegistry) IsOnline(userId int) bool {
	s := r.shard(userId)
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.users[userId]) > 0
}

// Each calls fn for every live session. Shards are visited one at a time
// and fn runs without any shard lock held.
func (r *ConnectionRegistry) Each(fn func(*Client)) {
	for _, s := range r.shards {
		s.lock.Lock()
		var clients []*Client
		for _, sessions := range s.users {
			for _, c := range sessions {
				clients = append(clients, c)
			}
		}
		s.lock.Unlock()

		for _, c := range clients {
			fn(c)
		}
	}
}

func (r *ConnectionRegistry) Len() int {
	return int(r.count.Load())
}
