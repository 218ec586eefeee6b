package server

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-chathub/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transitionRecorder struct {
	lock   sync.Mutex
	events []types.Presence
}

func (r *transitionRecorder) record(userId int, online bool, at time.Time) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.events = append(r.events, types.Presence{UserId: userId, Online: online, LastSeenAt: at})
}

func sessionFor(id string, userId int) *Client {
	return &Client{
		id:    id,
		user:  types.User{Id: userId},
		log:   zerolog.Nop(),
		rooms: make(map[int]struct{}),
		send:  make(chan *ServerMessage, 1),
		stop:  make(chan struct{}),
	}
}

func TestConnectionRegistry_RegisterUnregister(t *testing.T) {
	rec := &transitionRecorder{}
	r := NewConnectionRegistry(rec.record)

	s1 := sessionFor("s1", 1)
	s2 := sessionFor("s2", 1)

	assert.True(t, r.Register(s1), "expected first session to bring the user online")
	assert.False(t, r.Register(s2), "expected second session not to change presence")
	assert.False(t, r.Register(s2), "expected duplicate registration to be ignored")
	assert.Equal(t, 2, r.Len())
	assert.True(t, r.IsOnline(1))

	userId, empty, ok := r.Unregister("s1")
	assert.True(t, ok)
	assert.Equal(t, 1, userId)
	assert.False(t, empty, "expected user to keep one session")
	assert.True(t, r.IsOnline(1), "expected user to stay online with a remaining session")

	userId, empty, ok = r.Unregister("s2")
	assert.True(t, ok)
	assert.Equal(t, 1, userId)
	assert.True(t, empty, "expected last session removal to empty the user")
	assert.False(t, r.IsOnline(1))
	assert.Equal(t, 0, r.Len())

	_, _, ok = r.Unregister("s2")
	assert.False(t, ok, "expected unknown session to be reported")

	require.Len(t, rec.events, 2, "expected exactly one online and one offline transition")
	assert.True(t, rec.events[0].Online)
	assert.False(t, rec.events[1].Online)
}

func TestConnectionRegistry_SessionsOf(t *testing.T) {
	r := NewConnectionRegistry(nil)
	r.Register(sessionFor("a", 1))
	r.Register(sessionFor("b", 1))
	r.Register(sessionFor("c", 2))

	sessions := r.SessionsOf(1)
	assert.Len(t, sessions, 2)
	assert.Contains(t, sessions, "a")
	assert.Contains(t, sessions, "b")

	// the snapshot is detached from the registry
	delete(sessions, "a")
	assert.Len(t, r.SessionsOf(1), 2)

	assert.Empty(t, r.SessionsOf(99), "expected no sessions for an unknown user")
}

func TestConnectionRegistry_Each(t *testing.T) {
	r := NewConnectionRegistry(nil)
	for i := 0; i < 10; i++ {
		r.Register(sessionFor(fmt.Sprintf("s%d", i), i%3+1))
	}

	seen := make(map[string]bool)
	r.Each(func(c *Client) {
		seen[c.id] = true
		// fn runs without shard locks, so touching the registry is safe
		r.IsOnline(c.user.Id)
	})
	assert.Len(t, seen, 10)
}

func TestConnectionRegistry_concurrentTransitionsAlternate(t *testing.T) {
	rec := &transitionRecorder{}
	r := NewConnectionRegistry(rec.record)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			r.Register(sessionFor(id, 7))
			r.Unregister(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	assert.False(t, r.IsOnline(7))

	rec.lock.Lock()
	defer rec.lock.Unlock()

	require.NotEmpty(t, rec.events)
	require.Zero(t, len(rec.events)%2, "expected transitions to come in online/offline pairs")
	for i, ev := range rec.events {
		assert.Equal(t, i%2 == 0, ev.Online, "expected transitions to alternate at index %d", i)
	}
}

func Test_sessionSet_union(t *testing.T) {
	a := sessionFor("a", 1)
	b := sessionFor("b", 2)

	s := sessionSet{"a": a}
	s.union(sessionSet{"a": a, "b": b})

	assert.Len(t, s, 2, "expected overlapping sessions to appear once")
}
