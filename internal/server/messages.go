package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-chathub/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is one inbound frame. Exactly one operation field is set.
type ClientMessage struct {
	BaseMessage
	Join              *Join              `json:"join,omitempty"`
	Leave             *Leave             `json:"leave,omitempty"`
	Publish           *Publish           `json:"publish,omitempty"`
	TypingStart       *Typing            `json:"typing_start,omitempty"`
	TypingStop        *Typing            `json:"typing_stop,omitempty"`
	Read              *Read              `json:"read,omitempty"`
	FriendRequest     *FriendRequest     `json:"friend_request,omitempty"`
	ListNotifications *ListNotifications `json:"list_notifications,omitempty"`
	ReadNotification  *ReadNotification  `json:"read_notification,omitempty"`
	UserId            int                `json:"-"`
	client            *Client            `json:"-"`
}

type Join struct {
	RoomId int `json:"room_id" validate:"required,gt=0"`
	// Subscribe also creates the persisted room membership.
	Subscribe bool `json:"subscribe,omitempty"`
}

type Leave struct {
	RoomId int `json:"room_id" validate:"required,gt=0"`
	// Unsubscribe also ends the persisted room membership.
	Unsubscribe bool `json:"unsubscribe,omitempty"`
}

type Publish struct {
	RoomId       int    `json:"room_id,omitempty" validate:"omitempty,gt=0"`
	ReceiverId   int    `json:"receiver_id,omitempty" validate:"omitempty,gt=0"`
	Content      string `json:"content" validate:"max=4000"`
	AttachmentId int    `json:"attachment_id,omitempty" validate:"omitempty,gt=0"`
}

type Typing struct {
	RoomId      int    `json:"room_id" validate:"required,gt=0"`
	DisplayName string `json:"display_name" validate:"required,max=50"`
}

type Read struct {
	MessageId int `json:"message_id" validate:"required,gt=0"`
}

type FriendRequest struct {
	RequestId int `json:"request_id" validate:"required,gt=0"`
}

type ListNotifications struct {
	UnreadOnly bool `json:"unread_only,omitempty"`
	Limit      int  `json:"limit,omitempty" validate:"omitempty,gt=0,max=50"`
}

type ReadNotification struct {
	NotificationId int  `json:"notification_id,omitempty" validate:"omitempty,gt=0"`
	All            bool `json:"all,omitempty"`
}

type ServerMessage struct {
	BaseMessage
	Response       *Response      `json:"response,omitempty"`
	Message        *types.Message `json:"message,omitempty"`
	PrivateMessage *types.Message `json:"private_message,omitempty"`
	Notification   *Notification  `json:"notification,omitempty"`
	SkipClient     *Client        `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	Presence   *types.Presence     `json:"presence,omitempty"`
	Membership *MembershipChange   `json:"membership,omitempty"`
	Typing     *TypingNotification `json:"typing,omitempty"`
	Notice     *types.Notification `json:"notice,omitempty"`
}

type MembershipChange struct {
	SessionId string `json:"session_id"`
	UserId    int    `json:"user_id"`
	RoomId    int    `json:"room_id"`
	Joined    bool   `json:"joined"`
}

type TypingNotification struct {
	RoomId      int    `json:"room_id"`
	DisplayName string `json:"display_name"`
	Typing      bool   `json:"typing"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
			Data:         data,
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func presenceMessage(p types.Presence) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Presence: &p,
		},
	}
}

func membershipMessage(c *Client, roomId int, joined bool) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Membership: &MembershipChange{
				SessionId: c.id,
				UserId:    c.user.Id,
				RoomId:    roomId,
				Joined:    joined,
			},
		},
		SkipClient: c,
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
