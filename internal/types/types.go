package types

import (
	"encoding/json"
	"fmt"
	"time"
)

type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypeImage
	MessageTypeFile
	MessageTypeAudio
	MessageTypeVideo
)

var messageTypeNames = map[MessageType]string{
	MessageTypeText:  "text",
	MessageTypeImage: "image",
	MessageTypeFile:  "file",
	MessageTypeAudio: "audio",
	MessageTypeVideo: "video",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

func (t MessageType) MarshalText() ([]byte, error) {
	name, ok := messageTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown message type %d", int(t))
	}
	return []byte(name), nil
}

func (t *MessageType) UnmarshalText(b []byte) error {
	for k, v := range messageTypeNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown message type %q", string(b))
}

// FileType is the category recorded for an uploaded attachment.
type FileType int

const (
	FileTypeDocument FileType = iota
	FileTypeImage
	FileTypeVideo
	FileTypeAudio
	FileTypeOther
)

type NotificationType int

const (
	NotificationTypeFriendRequest NotificationType = iota
	NotificationTypeFriendRequestAccepted
	NotificationTypeNewMessage
	NotificationTypeRoomInvitation
	NotificationTypeRoomMention
	NotificationTypeSystem
)

var notificationTypeNames = map[NotificationType]string{
	NotificationTypeFriendRequest:         "friend_request",
	NotificationTypeFriendRequestAccepted: "friend_request_accepted",
	NotificationTypeNewMessage:            "new_message",
	NotificationTypeRoomInvitation:        "room_invitation",
	NotificationTypeRoomMention:           "room_mention",
	NotificationTypeSystem:                "system",
}

func (t NotificationType) String() string {
	if name, ok := notificationTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("NotificationType(%d)", int(t))
}

func (t NotificationType) MarshalText() ([]byte, error) {
	name, ok := notificationTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown notification type %d", int(t))
	}
	return []byte(name), nil
}

// DisplayName is the human readable label shown next to a notification.
func (t NotificationType) DisplayName() string {
	switch t {
	case NotificationTypeFriendRequest:
		return "Friend Request"
	case NotificationTypeFriendRequestAccepted:
		return "Friend Request Accepted"
	case NotificationTypeNewMessage:
		return "New Message"
	case NotificationTypeRoomInvitation:
		return "Room Invitation"
	case NotificationTypeRoomMention:
		return "Room Mention"
	default:
		return "System"
	}
}

// ActionURL is the client route a notification opens.
func (t NotificationType) ActionURL() string {
	switch t {
	case NotificationTypeFriendRequest:
		return "/friends/requests"
	case NotificationTypeFriendRequestAccepted:
		return "/friends"
	case NotificationTypeNewMessage:
		return "/chat"
	case NotificationTypeRoomInvitation:
		return "/rooms"
	default:
		return "/notifications"
	}
}

type User struct {
	Id       int        `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email,omitempty"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type Presence struct {
	UserId     int       `json:"user_id"`
	Online     bool      `json:"online"`
	LastSeenAt time.Time `json:"last_seen,omitempty"`
}

type Attachment struct {
	Id           int     `json:"id"`
	FileName     string  `json:"file_name"`
	ContentType  string  `json:"content_type"`
	FileSize     int64   `json:"file_size"`
	FileUrl      string  `json:"file_url"`
	ThumbnailUrl *string `json:"thumbnail_url"`
}

// Message is the payload delivered to sessions for a persisted chat message.
type Message struct {
	Id         int         `json:"id"`
	Content    string      `json:"content"`
	SentAt     time.Time   `json:"sent_at"`
	Type       MessageType `json:"type"`
	RoomId     *int        `json:"room_id"`
	ReceiverId *int        `json:"receiver_id"`
	IsRead     bool        `json:"is_read"`
	ReadAt     *time.Time  `json:"read_at"`
	Sender     User        `json:"sender"`
	Receiver   *User       `json:"receiver"`
	Attachment *Attachment `json:"attachment"`
}

type Notification struct {
	Id               int              `json:"id"`
	Title            string           `json:"title"`
	Message          string           `json:"message"`
	Type             NotificationType `json:"type"`
	TypeDisplayName  string           `json:"type_display_name"`
	ActionUrl        string           `json:"action_url"`
	IsRead           bool             `json:"is_read"`
	CreatedAt        time.Time        `json:"created_at"`
	ReadAt           *time.Time       `json:"read_at,omitempty"`
	Data             json.RawMessage  `json:"data,omitempty"`
	RelatedUserId    *int             `json:"related_user_id,omitempty"`
	RelatedRoomId    *int             `json:"related_room_id,omitempty"`
	RelatedMessageId *int             `json:"related_message_id,omitempty"`
}
