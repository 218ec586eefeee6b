package database

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateNotification is returned by CreateNotification when an
// equivalent friend request notification is already stored.
var ErrDuplicateNotification = errors.New("duplicate notification")

// GoChatRepository is the storage the realtime layer depends on. Lookups
// that find nothing return sql.ErrNoRows.
type GoChatRepository interface {
	Ping() error
	GetAccountById(ctx context.Context, accountId int) (User, error)
	UpdateLastSeen(ctx context.Context, accountId int, at time.Time) error
	GetRoomById(ctx context.Context, roomId int) (Room, error)
	ListActiveRoomIds(ctx context.Context, accountId int) ([]int, error)
	IsActiveRoomMember(ctx context.Context, roomId, accountId int) (bool, error)
	ListActiveRoomMemberIds(ctx context.Context, roomId int) ([]int, error)
	AddRoomMember(ctx context.Context, roomId, accountId int) error
	RemoveRoomMember(ctx context.Context, roomId, accountId int) error
	GetAttachment(ctx context.Context, attachmentId, ownerId int) (FileAttachment, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessageById(ctx context.Context, messageId int) (Message, error)
	MarkMessageRead(ctx context.Context, messageId, receiverId int) (Message, error)
	AreFriends(ctx context.Context, accountId, otherId int) (bool, error)
	GetFriendRequest(ctx context.Context, requestId int) (FriendRequest, error)
	CreateNotification(ctx context.Context, params CreateNotificationParams) (Notification, error)
	ListNotifications(ctx context.Context, accountId int, unreadOnly bool, limit int) ([]Notification, error)
	CountUnreadNotifications(ctx context.Context, accountId int) (int, error)
	MarkNotificationRead(ctx context.Context, notificationId, accountId int) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, accountId int) (int, error)
}
