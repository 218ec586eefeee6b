package server

import (
	"testing"
	"time"

	"github.com/npezzotti/go-chathub/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceTracker_transition(t *testing.T) {
	p := NewPresenceTracker()

	_, ok := p.Lookup(1)
	assert.False(t, ok, "expected unknown user before any transition")

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p.transition(1, true, at)

	got, ok := p.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, types.Presence{UserId: 1, Online: true, LastSeenAt: at}, got)

	select {
	case <-p.Ready():
	default:
		t.Error("expected ready signal after a transition")
	}
	assert.Equal(t, []types.Presence{got}, p.Drain())
	assert.Empty(t, p.Drain(), "expected drain to empty the queue")

	later := at.Add(time.Minute)
	p.transition(1, false, later)

	got, _ = p.Lookup(1)
	assert.False(t, got.Online)
	assert.Equal(t, later, got.LastSeenAt, "expected last seen to track the offline transition")
}

func TestPresenceTracker_transitionNeverBlocks(t *testing.T) {
	p := NewPresenceTracker()
	total := presenceBufferSize * 2

	finished := make(chan struct{})
	go func() {
		for i := 1; i <= total; i++ {
			p.transition(i, i%2 == 0, Now())
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("expected transitions not to block without a consumer")
	}

	evs := p.Drain()
	require.Len(t, evs, total)
	for i, ev := range evs {
		assert.Equal(t, i+1, ev.UserId, "expected events in transition order")
	}
}

func TestPresenceTracker_followsRegistry(t *testing.T) {
	p := NewPresenceTracker()
	r := NewConnectionRegistry(p.transition)

	r.Register(sessionFor("a", 4))
	r.Register(sessionFor("b", 4))
	r.Unregister("a")

	got, ok := p.Lookup(4)
	require.True(t, ok)
	assert.Equal(t, r.IsOnline(4), got.Online, "expected tracked presence to match the registry")
	evs := p.Drain()
	require.Len(t, evs, 1, "expected a single online event while a session remains")
	assert.True(t, evs[0].Online)

	r.Unregister("b")
	got, _ = p.Lookup(4)
	assert.False(t, got.Online)
	assert.Equal(t, r.IsOnline(4), got.Online)
	evs = p.Drain()
	require.Len(t, evs, 1)
	assert.False(t, evs[0].Online)
}
