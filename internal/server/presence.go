package server

import (
	"sync"
	"time"

	"github.com/npezzotti/go-chathub/internal/types"
)

const presenceBufferSize = 1024

// PresenceTracker keeps the derived online state of every user seen since
// startup. transition is wired as the registry's hook so state changes and
// their events are ordered with the registry mutation that caused them.
type PresenceTracker struct {
	lock    sync.RWMutex
	users   map[int]types.Presence
	pending []types.Presence
	ready   chan struct{}
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		users:   make(map[int]types.Presence),
		pending: make([]types.Presence, 0, presenceBufferSize),
		ready:   make(chan struct{}, 1),
	}
}

// transition records the new state and queues its event. It runs under
// the user's shard lock and never blocks.
func (p *PresenceTracker) transition(userId int, online bool, at time.Time) {
	ev := types.Presence{
		UserId:     userId,
		Online:     online,
		LastSeenAt: at,
	}

	p.lock.Lock()
	p.users[userId] = ev
	p.pending = append(p.pending, ev)
	p.lock.Unlock()

	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// Lookup returns the tracked presence of a user. ok is false for users
// that have not connected since startup.
func (p *PresenceTracker) Lookup(userId int) (types.Presence, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	pr, ok := p.users[userId]
	return pr, ok
}

// Ready is signalled when events are waiting to be drained.
func (p *PresenceTracker) Ready() <-chan struct{} {
	return p.ready
}

// Drain returns the queued events in transition order and empties the
// queue.
func (p *PresenceTracker) Drain() []types.Presence {
	p.lock.Lock()
	defer p.lock.Unlock()

	evs := p.pending
	p.pending = nil
	return evs
}
