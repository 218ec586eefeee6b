package database

import (
	"encoding/json"
	"time"

	"github.com/npezzotti/go-chathub/internal/types"
)

type User struct {
	Id         int
	Username   string
	Email      string
	LastSeenAt *time.Time
	CreatedAt  time.Time
}

type Room struct {
	Id        int
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

type RoomRole int

const (
	RoomRoleMember RoomRole = iota
	RoomRoleAdmin
	RoomRoleOwner
)

type FileAttachment struct {
	Id               int
	FileName         string
	OriginalFileName string
	ContentType      string
	FileSize         int64
	FilePath         string
	ThumbnailPath    *string
	UploadedById     int
	FileType         types.FileType
	UploadedAt       time.Time
}

type Message struct {
	Id               int
	Content          string
	SenderId         int
	RoomId           *int
	ReceiverId       *int
	Type             types.MessageType
	IsRead           bool
	ReadAt           *time.Time
	FileAttachmentId *int
	SentAt           time.Time
}

type CreateMessageParams struct {
	Content          string
	SenderId         int
	RoomId           *int
	ReceiverId       *int
	Type             types.MessageType
	FileAttachmentId *int
	SentAt           time.Time
}

type FriendRequestStatus int

const (
	FriendRequestPending FriendRequestStatus = iota
	FriendRequestAccepted
	FriendRequestRejected
	FriendRequestCancelled
)

type FriendRequest struct {
	Id          int
	SenderId    int
	ReceiverId  int
	Status      FriendRequestStatus
	CreatedAt   time.Time
	RespondedAt *time.Time
}

type Notification struct {
	Id               int
	UserId           int
	Title            string
	Message          string
	Type             types.NotificationType
	IsRead           bool
	CreatedAt        time.Time
	ReadAt           *time.Time
	Data             json.RawMessage
	RelatedUserId    *int
	RelatedRoomId    *int
	RelatedMessageId *int
}

type CreateNotificationParams struct {
	UserId           int
	Title            string
	Message          string
	Type             types.NotificationType
	Data             json.RawMessage
	RelatedUserId    *int
	RelatedRoomId    *int
	RelatedMessageId *int
}
