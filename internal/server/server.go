package server

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-chathub/internal/config"
	"github.com/npezzotti/go-chathub/internal/database"
	"github.com/npezzotti/go-chathub/internal/stats"
	"github.com/npezzotti/go-chathub/internal/types"
	"github.com/rs/zerolog"
)

const lastSeenQueueSize = 1024

const (
	metricActiveClients     = "NumActiveClients"
	metricOnlineUsers       = "NumOnlineUsers"
	metricMessagesSent      = "NumMessagesSent"
	metricNotifications     = "NumNotificationsCreated"
	metricDroppedDeliveries = "NumDroppedDeliveries"
)

type stopReq struct {
	done chan struct{}
}

// ChatServer ties the realtime components together. Run owns the presence
// broadcast loop; everything else is called concurrently from the
// sessions' read goroutines.
type ChatServer struct {
	log        zerolog.Logger
	db         database.GoChatRepository
	stats      stats.StatsProvider
	registry   *ConnectionRegistry
	presence   *PresenceTracker
	groups     *GroupMembership
	dispatcher *MessageDispatcher
	notifier   *NotificationDispatcher
	lastSeen   chan types.Presence
	ctx        context.Context
	cancel     context.CancelFunc
	stop       chan stopReq
}

func NewChatServer(logger zerolog.Logger, db database.GoChatRepository, su stats.StatsProvider, cfg *config.Config) (*ChatServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	for _, name := range []string{
		metricActiveClients,
		metricOnlineUsers,
		metricMessagesSent,
		metricNotifications,
		metricDroppedDeliveries,
	} {
		su.RegisterMetric(name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cs := &ChatServer{
		log:      logger,
		db:       db,
		stats:    su,
		ctx:      ctx,
		cancel:   cancel,
		stop:     make(chan stopReq),
		lastSeen: make(chan types.Presence, lastSeenQueueSize),
	}

	cs.presence = NewPresenceTracker()
	cs.registry = NewConnectionRegistry(cs.presence.transition)
	cs.groups = NewGroupMembership(cs.registry, db)
	cs.notifier = NewNotificationDispatcher(logger, db, cs.groups, su, cfg.NotificationWorkers)
	cs.dispatcher = NewMessageDispatcher(logger, db, cs.groups, cs.presence, cs.notifier, su, cfg)

	return cs, nil
}

func (cs *ChatServer) Run() {
	cs.notifier.Start(cs.ctx)

	lastSeenDone := make(chan struct{})
	go func() {
		cs.writeLastSeen()
		close(lastSeenDone)
	}()

	for {
		select {
		case <-cs.presence.Ready():
			for _, p := range cs.presence.Drain() {
				cs.handlePresence(p)
			}
		case req := <-cs.stop:
			cs.log.Info().Msg("stopping chat server")
			cs.registry.Each(func(c *Client) {
				c.stopClient()
			})
			cs.cancel()
			if err := cs.notifier.Wait(); err != nil {
				cs.log.Error().Err(err).Msg("notification workers")
			}
			close(cs.lastSeen)
			<-lastSeenDone
			close(req.done)
			return
		}
	}
}

// handlePresence broadcasts a presence transition to every live session.
func (cs *ChatServer) handlePresence(p types.Presence) {
	cs.log.Debug().Int("user_id", p.UserId).Bool("online", p.Online).Msg("presence changed")

	if p.Online {
		cs.stats.Incr(metricOnlineUsers)
	} else {
		cs.stats.Decr(metricOnlineUsers)
		select {
		case cs.lastSeen <- p:
		default:
			cs.log.Warn().Int("user_id", p.UserId).Msg("last seen update dropped")
		}
	}

	msg := presenceMessage(p)
	cs.registry.Each(func(c *Client) {
		c.queueMessage(msg)
	})
}

// writeLastSeen persists offline timestamps until the queue is closed.
func (cs *ChatServer) writeLastSeen() {
	ctx := context.WithoutCancel(cs.ctx)
	for p := range cs.lastSeen {
		if err := cs.db.UpdateLastSeen(ctx, p.UserId, p.LastSeenAt); err != nil {
			cs.log.Error().Err(err).Int("user_id", p.UserId).Msg("update last seen")
		}
	}
}

// RegisterClient makes a new session addressable and subscribes it to the
// user's rooms.
func (cs *ChatServer) RegisterClient(c *Client) {
	first := cs.registry.Register(c)
	cs.stats.Incr(metricActiveClients)
	cs.log.Info().
		Str("session_id", c.id).
		Int("user_id", c.user.Id).
		Bool("first_session", first).
		Msg("client registered")

	if err := cs.groups.SyncRoomsOnConnect(cs.ctx, c); err != nil {
		cs.log.Error().Err(err).Str("session_id", c.id).Msg("sync rooms")
		c.queueMessage(ErrInternalError(0))
	}
}

// DeRegisterClient removes a session from the registry and from every
// group. Once detached the session cannot be joined to a room again.
// Calling it twice is harmless.
func (cs *ChatServer) DeRegisterClient(c *Client) {
	userId, empty, ok := cs.registry.Unregister(c.id)
	c.detach()
	cs.groups.RemoveSession(c)
	if !ok {
		return
	}

	cs.stats.Decr(metricActiveClients)
	cs.log.Info().
		Str("session_id", c.id).
		Int("user_id", userId).
		Bool("last_session", empty).
		Msg("client deregistered")
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info().Msg("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
