package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/npezzotti/go-chathub/internal/database"
	"github.com/npezzotti/go-chathub/internal/stats"
	"github.com/npezzotti/go-chathub/internal/types"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	notificationQueueSize  = 1024
	maxNotificationsListed = 50
	previewLength          = 50
)

type messageEvent struct {
	message  database.Message
	sender   types.User
	roomName string
}

type friendRequestEvent struct {
	request  database.FriendRequest
	actor    types.User
	accepted bool
}

type notificationJob struct {
	message       *messageEvent
	friendRequest *friendRequestEvent
}

type friendRequestKey struct {
	requestId int
	accepted  bool
}

// NotificationDispatcher turns chat and social events into stored
// notifications and pushes them to any live session of the recipient. It
// runs on its own worker pool so failures here never reach message fan-out.
type NotificationDispatcher struct {
	log     zerolog.Logger
	db      database.GoChatRepository
	groups  *GroupMembership
	stats   stats.StatsProvider
	jobs    chan notificationJob
	workers int
	group   *errgroup.Group
	// friendEvents holds friend request transitions queued but not yet
	// stored. Storage rejects repeats once they are.
	friendEvents sync.Map
}

func NewNotificationDispatcher(logger zerolog.Logger, db database.GoChatRepository, groups *GroupMembership, su stats.StatsProvider, workers int) *NotificationDispatcher {
	if workers < 1 {
		workers = 1
	}
	return &NotificationDispatcher{
		log:     logger.With().Str("component", "notifier").Logger(),
		db:      db,
		groups:  groups,
		stats:   su,
		jobs:    make(chan notificationJob, notificationQueueSize),
		workers: workers,
	}
}

// Start launches the workers. They stop when ctx is cancelled, after
// processing whatever is still queued.
func (n *NotificationDispatcher) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n.workers; i++ {
		g.Go(func() error {
			return n.work(gctx)
		})
	}
	n.group = g
}

func (n *NotificationDispatcher) Wait() error {
	if n.group == nil {
		return nil
	}
	return n.group.Wait()
}

func (n *NotificationDispatcher) work(ctx context.Context) error {
	for {
		select {
		case job := <-n.jobs:
			n.process(ctx, job)
		case <-ctx.Done():
			n.drain(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (n *NotificationDispatcher) drain(ctx context.Context) {
	for {
		select {
		case job := <-n.jobs:
			n.process(ctx, job)
		default:
			return
		}
	}
}

// enqueue reports whether the job was queued. Once ctx is done the
// workers may be gone, so nothing more is accepted.
func (n *NotificationDispatcher) enqueue(ctx context.Context, job notificationJob) bool {
	if err := ctx.Err(); err != nil {
		n.log.Warn().Err(err).Msg("notification dropped")
		return false
	}

	select {
	case n.jobs <- job:
		return true
	case <-ctx.Done():
		n.log.Warn().Err(ctx.Err()).Msg("notification dropped")
		return false
	}
}

// NotifyMessage queues NewMessage notifications for a persisted message.
func (n *NotificationDispatcher) NotifyMessage(ctx context.Context, ev messageEvent) {
	n.enqueue(ctx, notificationJob{message: &ev})
}

// NotifyFriendRequest checks the request against storage and queues a
// notification for the other party. A pending request may only be
// announced by its sender and an accepted one by its receiver. Each
// transition is announced once.
func (n *NotificationDispatcher) NotifyFriendRequest(ctx context.Context, actor types.User, requestId int) error {
	fr, err := n.db.GetFriendRequest(ctx, requestId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: friend request %d", ErrNotFound, requestId)
		}
		return fmt.Errorf("%w: get friend request: %v", ErrPersistence, err)
	}

	var accepted bool
	switch {
	case fr.Status == database.FriendRequestPending && fr.SenderId == actor.Id:
	case fr.Status == database.FriendRequestAccepted && fr.ReceiverId == actor.Id:
		accepted = true
	default:
		return fmt.Errorf("%w: friend request %d", ErrForbidden, requestId)
	}

	key := friendRequestKey{requestId, accepted}
	if _, queued := n.friendEvents.LoadOrStore(key, struct{}{}); queued {
		return nil
	}

	if !n.enqueue(ctx, notificationJob{friendRequest: &friendRequestEvent{
		request:  fr,
		actor:    actor,
		accepted: accepted,
	}}) {
		n.friendEvents.Delete(key)
	}
	return nil
}

func (n *NotificationDispatcher) process(ctx context.Context, job notificationJob) {
	switch {
	case job.message != nil:
		n.processMessage(ctx, job.message)
	case job.friendRequest != nil:
		n.processFriendRequest(ctx, job.friendRequest)
	}
}

func (n *NotificationDispatcher) processMessage(ctx context.Context, ev *messageEvent) {
	msg := ev.message

	var recipients []int
	switch {
	case msg.RoomId != nil:
		members, err := n.db.ListActiveRoomMemberIds(ctx, *msg.RoomId)
		if err != nil {
			n.log.Error().Err(err).Int("room_id", *msg.RoomId).Msg("list room members")
			return
		}
		recipients = lo.Without(lo.Uniq(members), msg.SenderId)
	case msg.ReceiverId != nil && *msg.ReceiverId != msg.SenderId:
		recipients = []int{*msg.ReceiverId}
	}

	if len(recipients) == 0 {
		return
	}

	isGroup := msg.RoomId != nil
	title := "New message from " + ev.sender.Username
	if isGroup {
		title = "New message in " + ev.roomName
	}

	data, err := json.Marshal(messageNotificationData{
		Action:         "open_chat",
		SenderId:       msg.SenderId,
		IsGroupMessage: isGroup,
		RoomId:         msg.RoomId,
		RoomName:       ev.roomName,
	})
	if err != nil {
		n.log.Error().Err(err).Msg("marshal notification data")
		return
	}

	senderId, messageId := msg.SenderId, msg.Id
	for _, userId := range recipients {
		n.create(ctx, database.CreateNotificationParams{
			UserId:           userId,
			Title:            title,
			Message:          preview(msg.Content),
			Type:             types.NotificationTypeNewMessage,
			Data:             data,
			RelatedUserId:    &senderId,
			RelatedRoomId:    msg.RoomId,
			RelatedMessageId: &messageId,
		})
	}
}

type messageNotificationData struct {
	Action         string `json:"action"`
	SenderId       int    `json:"sender_id"`
	IsGroupMessage bool   `json:"is_group_message"`
	RoomId         *int   `json:"room_id,omitempty"`
	RoomName       string `json:"room_name,omitempty"`
}

func (n *NotificationDispatcher) processFriendRequest(ctx context.Context, ev *friendRequestEvent) {
	defer n.friendEvents.Delete(friendRequestKey{ev.request.Id, ev.accepted})

	actorId := ev.actor.Id
	params := database.CreateNotificationParams{
		RelatedUserId: &actorId,
	}

	action := "open_friend_requests"
	if ev.accepted {
		action = "open_friends"
		params.UserId = ev.request.SenderId
		params.Title = "Friend Request Accepted"
		params.Message = ev.actor.Username + " accepted your friend request"
		params.Type = types.NotificationTypeFriendRequestAccepted
	} else {
		params.UserId = ev.request.ReceiverId
		params.Title = "Friend Request"
		params.Message = ev.actor.Username + " sent you a friend request"
		params.Type = types.NotificationTypeFriendRequest
	}

	data, err := json.Marshal(friendRequestNotificationData{
		Action:    action,
		RequestId: ev.request.Id,
	})
	if err != nil {
		n.log.Error().Err(err).Msg("marshal notification data")
		return
	}
	params.Data = data

	n.create(ctx, params)
}

type friendRequestNotificationData struct {
	Action    string `json:"action"`
	RequestId int    `json:"request_id"`
}

// create stores one notification and pushes it live. Having no live
// session is the common case and not an error.
func (n *NotificationDispatcher) create(ctx context.Context, params database.CreateNotificationParams) {
	rec, err := n.db.CreateNotification(ctx, params)
	if errors.Is(err, database.ErrDuplicateNotification) {
		n.log.Debug().Int("user_id", params.UserId).Stringer("type", params.Type).Msg("notification already stored")
		return
	}
	if err != nil {
		n.log.Error().Err(err).Int("user_id", params.UserId).Stringer("type", params.Type).Msg("create notification")
		return
	}
	n.stats.Incr(metricNotifications)

	payload := notificationPayload(rec)
	msg := &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		Notification: &Notification{Notice: &payload},
	}

	for id, c := range n.groups.UserTargets(params.UserId) {
		if !c.queueMessage(msg) {
			n.stats.Incr(metricDroppedDeliveries)
			n.log.Debug().Err(ErrTransientDelivery).Str("session_id", id).Msg("notification push dropped")
		}
	}
}

// List returns the user's most recent notifications and the unread count.
func (n *NotificationDispatcher) List(ctx context.Context, userId int, unreadOnly bool, limit int) ([]types.Notification, int, error) {
	if limit <= 0 || limit > maxNotificationsListed {
		limit = maxNotificationsListed
	}

	recs, err := n.db.ListNotifications(ctx, userId, unreadOnly, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list notifications: %v", ErrPersistence, err)
	}

	unread, err := n.db.CountUnreadNotifications(ctx, userId)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: count unread: %v", ErrPersistence, err)
	}

	return lo.Map(recs, func(rec database.Notification, _ int) types.Notification {
		return notificationPayload(rec)
	}), unread, nil
}

// MarkRead reports false when the notification is missing, belongs to
// someone else or was already read.
func (n *NotificationDispatcher) MarkRead(ctx context.Context, userId, notificationId int) (bool, error) {
	ok, err := n.db.MarkNotificationRead(ctx, notificationId, userId)
	if err != nil {
		return false, fmt.Errorf("%w: mark notification read: %v", ErrPersistence, err)
	}
	return ok, nil
}

func (n *NotificationDispatcher) MarkAllRead(ctx context.Context, userId int) (int, error) {
	count, err := n.db.MarkAllNotificationsRead(ctx, userId)
	if err != nil {
		return 0, fmt.Errorf("%w: mark all notifications read: %v", ErrPersistence, err)
	}
	return count, nil
}

func notificationPayload(rec database.Notification) types.Notification {
	return types.Notification{
		Id:               rec.Id,
		Title:            rec.Title,
		Message:          rec.Message,
		Type:             rec.Type,
		TypeDisplayName:  rec.Type.DisplayName(),
		ActionUrl:        rec.Type.ActionURL(),
		IsRead:           rec.IsRead,
		CreatedAt:        rec.CreatedAt,
		ReadAt:           rec.ReadAt,
		Data:             rec.Data,
		RelatedUserId:    rec.RelatedUserId,
		RelatedRoomId:    rec.RelatedRoomId,
		RelatedMessageId: rec.RelatedMessageId,
	}
}

func preview(content string) string {
	if content == "" {
		return "Sent an attachment"
	}

	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength]) + "..."
}
