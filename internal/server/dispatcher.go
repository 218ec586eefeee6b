package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/npezzotti/go-chathub/internal/config"
	"github.com/npezzotti/go-chathub/internal/database"
	"github.com/npezzotti/go-chathub/internal/stats"
	"github.com/npezzotti/go-chathub/internal/types"
	"github.com/rs/zerolog"
)

// MessageDispatcher runs the send pipeline: validate, resolve attachment,
// classify, persist, fan out, then hand off to notifications.
type MessageDispatcher struct {
	log               zerolog.Logger
	db                database.GoChatRepository
	groups            *GroupMembership
	presence          *PresenceTracker
	notifier          *NotificationDispatcher
	stats             stats.StatsProvider
	fileBaseURL       string
	requireFriendship bool
}

func NewMessageDispatcher(
	logger zerolog.Logger,
	db database.GoChatRepository,
	groups *GroupMembership,
	presence *PresenceTracker,
	notifier *NotificationDispatcher,
	su stats.StatsProvider,
	cfg *config.Config,
) *MessageDispatcher {
	return &MessageDispatcher{
		log:               logger.With().Str("component", "dispatcher").Logger(),
		db:                db,
		groups:            groups,
		presence:          presence,
		notifier:          notifier,
		stats:             su,
		fileBaseURL:       cfg.FileBaseURL,
		requireFriendship: cfg.RequireFriendship,
	}
}

// Send persists a message from c and delivers it to every live session
// that should see it. Nothing is delivered unless the message was stored.
func (d *MessageDispatcher) Send(ctx context.Context, c *Client, p *Publish) (*types.Message, error) {
	if err := validateMessage(p); err != nil {
		return nil, err
	}
	if (p.RoomId == 0) == (p.ReceiverId == 0) {
		return nil, fmt.Errorf("%w: exactly one of room_id or receiver_id is required", ErrValidationFailed)
	}
	if strings.TrimSpace(p.Content) == "" && p.AttachmentId == 0 {
		return nil, fmt.Errorf("%w: content or attachment is required", ErrValidationFailed)
	}

	params := database.CreateMessageParams{
		Content:  p.Content,
		SenderId: c.user.Id,
		SentAt:   Now(),
	}

	var (
		room     database.Room
		receiver *database.User
	)
	if p.RoomId != 0 {
		r, err := d.resolveRoom(ctx, c.user.Id, p.RoomId)
		if err != nil {
			return nil, err
		}
		room = r
		params.RoomId = &r.Id
	} else {
		u, err := d.resolveReceiver(ctx, c.user.Id, p.ReceiverId)
		if err != nil {
			return nil, err
		}
		receiver = &u
		params.ReceiverId = &u.Id
	}

	var attachment *database.FileAttachment
	if p.AttachmentId != 0 {
		a, err := d.db.GetAttachment(ctx, p.AttachmentId, c.user.Id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: attachment %d", ErrNotFound, p.AttachmentId)
			}
			return nil, fmt.Errorf("%w: get attachment: %v", ErrPersistence, err)
		}
		attachment = &a
		params.FileAttachmentId = &a.Id
	}
	params.Type = classifyMessage(attachment)

	msg, err := d.db.CreateMessage(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: create message: %v", ErrPersistence, err)
	}
	d.stats.Incr(metricMessagesSent)

	payload := d.messagePayload(msg, c.user, receiver, attachment)

	var (
		targets sessionSet
		out     *ServerMessage
	)
	if msg.RoomId != nil {
		targets = d.groups.BroadcastTargets(*msg.RoomId)
		out = &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: msg.SentAt},
			Message:     payload,
		}
	} else {
		targets = d.groups.UserTargets(*msg.ReceiverId).union(d.groups.UserTargets(msg.SenderId))
		out = &ServerMessage{
			BaseMessage:    BaseMessage{Timestamp: msg.SentAt},
			PrivateMessage: payload,
		}
	}

	delivered := d.fanOut(targets, out)
	d.log.Debug().
		Int("message_id", msg.Id).
		Int("sender_id", msg.SenderId).
		Int("targets", len(targets)).
		Int("delivered", delivered).
		Msg("message dispatched")

	d.notifier.NotifyMessage(ctx, messageEvent{
		message:  msg,
		sender:   c.user,
		roomName: room.Name,
	})

	return payload, nil
}

func (d *MessageDispatcher) resolveRoom(ctx context.Context, senderId, roomId int) (database.Room, error) {
	room, err := d.db.GetRoomById(ctx, roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return room, fmt.Errorf("%w: room %d", ErrNotFound, roomId)
		}
		return room, fmt.Errorf("%w: get room: %v", ErrPersistence, err)
	}
	if !room.IsActive {
		return room, fmt.Errorf("%w: room %d", ErrNotFound, roomId)
	}

	member, err := d.db.IsActiveRoomMember(ctx, roomId, senderId)
	if err != nil {
		return room, fmt.Errorf("%w: check membership: %v", ErrPersistence, err)
	}
	if !member {
		return room, fmt.Errorf("%w: not a member of room %d", ErrForbidden, roomId)
	}

	return room, nil
}

func (d *MessageDispatcher) resolveReceiver(ctx context.Context, senderId, receiverId int) (database.User, error) {
	receiver, err := d.db.GetAccountById(ctx, receiverId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return receiver, fmt.Errorf("%w: user %d", ErrNotFound, receiverId)
		}
		return receiver, fmt.Errorf("%w: get receiver: %v", ErrPersistence, err)
	}

	if d.requireFriendship && receiverId != senderId {
		friends, err := d.db.AreFriends(ctx, senderId, receiverId)
		if err != nil {
			return receiver, fmt.Errorf("%w: check friendship: %v", ErrPersistence, err)
		}
		if !friends {
			return receiver, fmt.Errorf("%w: user %d is not a friend", ErrForbidden, receiverId)
		}
	}

	return receiver, nil
}

// fanOut queues msg on every target without blocking and returns the
// number of sessions that accepted it.
func (d *MessageDispatcher) fanOut(targets sessionSet, msg *ServerMessage) int {
	delivered := 0
	for id, c := range targets {
		if !c.queueMessage(msg) {
			d.stats.Incr(metricDroppedDeliveries)
			d.log.Debug().Err(ErrTransientDelivery).Str("session_id", id).Msg("delivery dropped")
			continue
		}
		delivered++
	}
	return delivered
}

// MarkRead marks a direct message as read on behalf of its receiver.
func (d *MessageDispatcher) MarkRead(ctx context.Context, c *Client, messageId int) (database.Message, error) {
	msg, err := d.db.GetMessageById(ctx, messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return msg, fmt.Errorf("%w: message %d", ErrNotFound, messageId)
		}
		return msg, fmt.Errorf("%w: get message: %v", ErrPersistence, err)
	}

	if msg.ReceiverId == nil || *msg.ReceiverId != c.user.Id {
		return msg, fmt.Errorf("%w: not the receiver of message %d", ErrForbidden, messageId)
	}

	msg, err = d.db.MarkMessageRead(ctx, messageId, c.user.Id)
	if err != nil {
		return msg, fmt.Errorf("%w: mark read: %v", ErrPersistence, err)
	}

	return msg, nil
}

func classifyMessage(a *database.FileAttachment) types.MessageType {
	if a == nil {
		return types.MessageTypeText
	}

	switch a.FileType {
	case types.FileTypeImage:
		return types.MessageTypeImage
	case types.FileTypeVideo:
		return types.MessageTypeVideo
	case types.FileTypeAudio:
		return types.MessageTypeAudio
	default:
		return types.MessageTypeFile
	}
}

func (d *MessageDispatcher) messagePayload(msg database.Message, sender types.User, receiver *database.User, a *database.FileAttachment) *types.Message {
	payload := &types.Message{
		Id:         msg.Id,
		Content:    msg.Content,
		SentAt:     msg.SentAt,
		Type:       msg.Type,
		RoomId:     msg.RoomId,
		ReceiverId: msg.ReceiverId,
		IsRead:     msg.IsRead,
		ReadAt:     msg.ReadAt,
		Sender:     d.userPayload(sender.Id, sender.Username, sender.Email, sender.LastSeen),
	}

	if receiver != nil {
		u := d.userPayload(receiver.Id, receiver.Username, receiver.Email, receiver.LastSeenAt)
		payload.Receiver = &u
	}

	if a != nil {
		payload.Attachment = &types.Attachment{
			Id:          a.Id,
			FileName:    a.OriginalFileName,
			ContentType: a.ContentType,
			FileSize:    a.FileSize,
			FileUrl:     d.fileURL(a.FilePath),
		}
		if a.ThumbnailPath != nil {
			thumb := d.fileURL(*a.ThumbnailPath)
			payload.Attachment.ThumbnailUrl = &thumb
		}
	}

	return payload
}

// userPayload prefers live presence over the stored last seen time.
func (d *MessageDispatcher) userPayload(id int, username, email string, lastSeen *time.Time) types.User {
	u := types.User{
		Id:       id,
		Username: username,
		Email:    email,
		LastSeen: lastSeen,
	}

	if p, ok := d.presence.Lookup(id); ok {
		u.IsOnline = p.Online
		seen := p.LastSeenAt
		u.LastSeen = &seen
	}

	return u
}

func (d *MessageDispatcher) fileURL(path string) string {
	u, err := url.JoinPath(d.fileBaseURL, path)
	if err != nil {
		return strings.TrimSuffix(d.fileBaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	}
	return u
}
