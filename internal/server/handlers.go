package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// handleClientMessage runs one inbound operation on the caller's read
// goroutine and answers the calling session only.
func (cs *ChatServer) handleClientMessage(msg *ClientMessage) {
	var (
		resp *ServerMessage
		err  error
		ctx  = cs.ctx
	)

	switch {
	case msg.Join != nil:
		resp, err = cs.handleJoin(ctx, msg)
	case msg.Leave != nil:
		resp, err = cs.handleLeave(ctx, msg)
	case msg.Publish != nil:
		resp, err = cs.handlePublish(ctx, msg)
	case msg.TypingStart != nil:
		err = cs.handleTyping(msg, msg.TypingStart, true)
	case msg.TypingStop != nil:
		err = cs.handleTyping(msg, msg.TypingStop, false)
	case msg.Read != nil:
		resp, err = cs.handleRead(ctx, msg)
	case msg.FriendRequest != nil:
		resp, err = cs.handleFriendRequest(ctx, msg)
	case msg.ListNotifications != nil:
		resp, err = cs.handleListNotifications(ctx, msg)
	case msg.ReadNotification != nil:
		resp, err = cs.handleReadNotification(ctx, msg)
	default:
		resp = ErrInvalidMessage(msg.Id)
	}

	c := msg.client
	if err != nil {
		ev := c.log.Debug()
		if errors.Is(err, ErrPersistence) {
			ev = c.log.Error()
		}
		ev.Err(err).Int("request_id", msg.Id).Msg("request failed")
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	if resp != nil {
		c.queueMessage(resp)
	}
}

func (cs *ChatServer) handleJoin(ctx context.Context, msg *ClientMessage) (*ServerMessage, error) {
	c, join := msg.client, msg.Join
	if err := validateMessage(join); err != nil {
		return nil, err
	}

	room, err := cs.db.GetRoomById(ctx, join.RoomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: room %d", ErrNotFound, join.RoomId)
		}
		return nil, fmt.Errorf("%w: get room: %v", ErrPersistence, err)
	}
	if !room.IsActive {
		return nil, fmt.Errorf("%w: room %d", ErrNotFound, join.RoomId)
	}

	if join.Subscribe {
		if err := cs.db.AddRoomMember(ctx, room.Id, c.user.Id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: room %d", ErrNotFound, join.RoomId)
			}
			return nil, fmt.Errorf("%w: add room member: %v", ErrPersistence, err)
		}

		for _, s := range cs.groups.UserTargets(c.user.Id) {
			cs.joinAndAnnounce(s, room.Id)
		}
	} else {
		member, err := cs.db.IsActiveRoomMember(ctx, room.Id, c.user.Id)
		if err != nil {
			return nil, fmt.Errorf("%w: check membership: %v", ErrPersistence, err)
		}
		if !member {
			return nil, fmt.Errorf("%w: not a member of room %d", ErrForbidden, room.Id)
		}

		cs.joinAndAnnounce(c, room.Id)
	}

	return NoErrOK(msg.Id, map[string]any{
		"room_id": room.Id,
		"name":    room.Name,
	}), nil
}

func (cs *ChatServer) joinAndAnnounce(c *Client, roomId int) {
	if cs.groups.IsSubscribed(c, roomId) {
		return
	}

	if !cs.groups.JoinRoom(c, roomId) {
		return
	}
	cs.groups.broadcast(roomId, membershipMessage(c, roomId, true))
}

func (cs *ChatServer) handleLeave(ctx context.Context, msg *ClientMessage) (*ServerMessage, error) {
	c, leave := msg.client, msg.Leave
	if err := validateMessage(leave); err != nil {
		return nil, err
	}

	if leave.Unsubscribe {
		if err := cs.db.RemoveRoomMember(ctx, leave.RoomId, c.user.Id); err != nil {
			return nil, fmt.Errorf("%w: remove room member: %v", ErrPersistence, err)
		}

		for _, s := range cs.groups.UserTargets(c.user.Id) {
			cs.leaveAndAnnounce(s, leave.RoomId)
		}
	} else {
		cs.leaveAndAnnounce(c, leave.RoomId)
	}

	return NoErrOK(msg.Id, map[string]any{"room_id": leave.RoomId}), nil
}

func (cs *ChatServer) leaveAndAnnounce(c *Client, roomId int) {
	if cs.groups.LeaveRoom(c, roomId) {
		cs.groups.broadcast(roomId, membershipMessage(c, roomId, false))
	}
}

func (cs *ChatServer) handlePublish(ctx context.Context, msg *ClientMessage) (*ServerMessage, error) {
	payload, err := cs.dispatcher.Send(ctx, msg.client, msg.Publish)
	if err != nil {
		return nil, err
	}

	return NoErrAccepted(msg.Id, map[string]any{
		"message_id": payload.Id,
		"sent_at":    payload.SentAt,
	}), nil
}

// handleTyping relays a typing indicator to the rest of the room. Nothing
// is stored and the caller gets no acknowledgement.
func (cs *ChatServer) handleTyping(msg *ClientMessage, typing *Typing, started bool) error {
	c := msg.client
	if err := validateMessage(typing); err != nil {
		return err
	}
	if !cs.groups.IsSubscribed(c, typing.RoomId) {
		return fmt.Errorf("%w: not subscribed to room %d", ErrForbidden, typing.RoomId)
	}

	cs.groups.broadcast(typing.RoomId, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: msg.Timestamp},
		Notification: &Notification{
			Typing: &TypingNotification{
				RoomId:      typing.RoomId,
				DisplayName: typing.DisplayName,
				Typing:      started,
			},
		},
		SkipClient: c,
	})

	return nil
}

func (cs *ChatServer) handleRead(ctx context.Context, msg *ClientMessage) (*ServerMessage, error) {
	if err := validateMessage(msg.Read); err != nil {
		return nil, err
	}

	m, err := cs.dispatcher.MarkRead(ctx, msg.client, msg.Read.MessageId)
	if err != nil {
		return nil, err
	}

	return NoErrOK(msg.Id, map[string]any{
		"message_id": m.Id,
		"read_at":    m.ReadAt,
	}), nil
}

func (cs *ChatServer) handleFriendRequest(ctx context.Context, msg *ClientMessage) (*ServerMessage, error) {
	if err := validateMessage(msg.FriendRequest); err != nil {
		return nil, err
	}

	if err := cs.notifier.NotifyFriendRequest(ctx, msg.client.user, msg.FriendRequest.RequestId); err != nil {
		return nil, err
	}

	return NoErrAccepted(msg.Id, nil), nil
}

func (cs *ChatServer) handleListNotifications(ctx context.Context, msg *ClientMessage) (*ServerMessage, error) {
	req := msg.ListNotifications
	if err := validateMessage(req); err != nil {
		return nil, err
	}

	list, unread, err := cs.notifier.List(ctx, msg.client.user.Id, req.UnreadOnly, req.Limit)
	if err != nil {
		return nil, err
	}

	return NoErrOK(msg.Id, map[string]any{
		"notifications": list,
		"unread_count":  unread,
	}), nil
}

func (cs *ChatServer) handleReadNotification(ctx context.Context, msg *ClientMessage) (*ServerMessage, error) {
	req := msg.ReadNotification
	if err := validateMessage(req); err != nil {
		return nil, err
	}

	userId := msg.client.user.Id
	if req.All {
		count, err := cs.notifier.MarkAllRead(ctx, userId)
		if err != nil {
			return nil, err
		}
		return NoErrOK(msg.Id, map[string]any{"updated": count}), nil
	}

	if req.NotificationId == 0 {
		return nil, fmt.Errorf("%w: notification_id or all is required", ErrValidationFailed)
	}

	ok, err := cs.notifier.MarkRead(ctx, userId, req.NotificationId)
	if err != nil {
		return nil, err
	}

	return NoErrOK(msg.Id, map[string]any{"marked": ok}), nil
}
