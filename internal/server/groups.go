package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/npezzotti/go-chathub/internal/database"
	"github.com/samber/lo"
)

type groupShard struct {
	lock  sync.RWMutex
	rooms map[int]sessionSet
}

// GroupMembership tracks which sessions are subscribed to each room's
// broadcast group. Per-user groups are served by the registry.
type GroupMembership struct {
	shards   [numShards]*groupShard
	registry *ConnectionRegistry
	db       database.GoChatRepository
}

func NewGroupMembership(registry *ConnectionRegistry, db database.GoChatRepository) *GroupMembership {
	g := &GroupMembership{registry: registry, db: db}
	for i := range g.shards {
		g.shards[i] = &groupShard{rooms: make(map[int]sessionSet)}
	}
	return g
}

func (g *GroupMembership) shard(roomId int) *groupShard {
	return g.shards[uint(roomId)%numShards]
}

// SyncRoomsOnConnect makes the session's room groups equal to the user's
// persisted active rooms.
func (g *GroupMembership) SyncRoomsOnConnect(ctx context.Context, c *Client) error {
	roomIds, err := g.db.ListActiveRoomIds(ctx, c.user.Id)
	if err != nil {
		return fmt.Errorf("list active rooms: %w", err)
	}

	current := c.roomIds()
	stale, missing := lo.Difference(current, roomIds)
	for _, id := range stale {
		g.LeaveRoom(c, id)
	}
	for _, id := range missing {
		g.JoinRoom(c, id)
	}

	return nil
}

// JoinRoom subscribes the session to the room's group and reports false
// for a session that has already disconnected. Persisted membership is
// not touched.
func (g *GroupMembership) JoinRoom(c *Client, roomId int) bool {
	s := g.shard(roomId)
	s.lock.Lock()
	defer s.lock.Unlock()

	if !c.addRoom(roomId) {
		return false
	}

	sessions, ok := s.rooms[roomId]
	if !ok {
		sessions = make(sessionSet)
		s.rooms[roomId] = sessions
	}
	sessions[c.id] = c
	return true
}

// LeaveRoom unsubscribes the session from the room's group and reports
// whether it was subscribed.
func (g *GroupMembership) LeaveRoom(c *Client, roomId int) bool {
	s := g.shard(roomId)
	s.lock.Lock()
	defer s.lock.Unlock()

	c.delRoom(roomId)

	sessions, ok := s.rooms[roomId]
	if !ok {
		return false
	}
	if _, ok := sessions[c.id]; !ok {
		return false
	}

	delete(sessions, c.id)
	if len(sessions) == 0 {
		delete(s.rooms, roomId)
	}
	return true
}

// RemoveSession drops the session from every room group it belongs to.
func (g *GroupMembership) RemoveSession(c *Client) {
	for _, roomId := range c.roomIds() {
		g.LeaveRoom(c, roomId)
	}
}

// BroadcastTargets returns a snapshot of the sessions subscribed to a room.
func (g *GroupMembership) BroadcastTargets(roomId int) sessionSet {
	s := g.shard(roomId)
	s.lock.RLock()
	defer s.lock.RUnlock()

	targets := make(sessionSet, len(s.rooms[roomId]))
	for id, c := range s.rooms[roomId] {
		targets[id] = c
	}
	return targets
}

// UserTargets returns every live session of a user.
func (g *GroupMembership) UserTargets(userId int) sessionSet {
	return g.registry.SessionsOf(userId)
}

func (g *GroupMembership) IsSubscribed(c *Client, roomId int) bool {
	s := g.shard(roomId)
	s.lock.RLock()
	defer s.lock.RUnlock()

	_, ok := s.rooms[roomId][c.id]
	return ok
}

// broadcast queues msg on every session of the room except msg.SkipClient.
func (g *GroupMembership) broadcast(roomId int, msg *ServerMessage) {
	for _, c := range g.BroadcastTargets(roomId) {
		if c == msg.SkipClient {
			continue
		}
		c.queueMessage(msg)
	}
}
