package server

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/npezzotti/go-chathub/internal/config"
	"github.com/npezzotti/go-chathub/internal/database"
	"github.com/npezzotti/go-chathub/internal/stats"
	"github.com/npezzotti/go-chathub/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int {
	return &i
}

func strPtr(s string) *string {
	return &s
}

func TestMessageDispatcher_Send_direct(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db, relaxedStats())

	// sender has two live sessions, receiver has none
	a1 := connect(cs, 1)
	a2 := connect(cs, 1)

	db.On("GetAccountById", mock.Anything, 2).Return(database.User{Id: 2, Username: "bob"}, nil).Once()
	db.On("CreateMessage", mock.Anything, mock.MatchedBy(func(p database.CreateMessageParams) bool {
		return p.SenderId == 1 &&
			p.RoomId == nil &&
			p.ReceiverId != nil && *p.ReceiverId == 2 &&
			p.Content == "hi" &&
			p.Type == types.MessageTypeText &&
			p.FileAttachmentId == nil
	})).Return(database.Message{
		Id:         10,
		Content:    "hi",
		SenderId:   1,
		ReceiverId: intPtr(2),
		Type:       types.MessageTypeText,
		SentAt:     Now(),
	}, nil).Once()

	payload, err := cs.dispatcher.Send(context.Background(), a1, &Publish{ReceiverId: 2, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 10, payload.Id)
	require.NotNil(t, payload.Receiver)
	assert.Equal(t, "bob", payload.Receiver.Username)
	assert.Equal(t, "user1", payload.Sender.Username)

	for _, c := range []*Client{a1, a2} {
		msgs := drain(c)
		require.Len(t, msgs, 1, "expected each sender session to get the message exactly once")
		require.NotNil(t, msgs[0].PrivateMessage)
		assert.Nil(t, msgs[0].Message)
		assert.Equal(t, 10, msgs[0].PrivateMessage.Id)
	}

	require.Len(t, cs.notifier.jobs, 1, "expected one notification job for the offline receiver")
	job := <-cs.notifier.jobs
	require.NotNil(t, job.message)
	assert.Equal(t, 10, job.message.message.Id)
	assert.Equal(t, 1, job.message.sender.Id)
}

func TestMessageDispatcher_Send_directToOnlineReceiver(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db, relaxedStats())
	sender := connect(cs, 1)
	b1 := connect(cs, 2)
	b2 := connect(cs, 2)
	bystander := connect(cs, 3)

	db.On("GetAccountById", mock.Anything, 2).Return(database.User{Id: 2, Username: "bob"}, nil).Once()
	db.On("CreateMessage", mock.Anything, mock.Anything).
		Return(database.Message{Id: 11, Content: "yo", SenderId: 1, ReceiverId: intPtr(2), SentAt: Now()}, nil).Once()

	payload, err := cs.dispatcher.Send(context.Background(), sender, &Publish{ReceiverId: 2, Content: "yo"})
	require.NoError(t, err)
	assert.True(t, payload.Receiver.IsOnline, "expected receiver presence to come from the tracker")

	for _, c := range []*Client{sender, b1, b2} {
		assert.Len(t, drain(c), 1)
	}
	assert.Empty(t, drain(bystander), "expected unrelated users to receive nothing")
}

func TestMessageDispatcher_Send_selfMessage(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db, relaxedStats())
	a1 := connect(cs, 1)
	a2 := connect(cs, 1)

	db.On("GetAccountById", mock.Anything, 1).Return(database.User{Id: 1, Username: "user1"}, nil).Once()
	db.On("CreateMessage", mock.Anything, mock.Anything).
		Return(database.Message{Id: 12, Content: "note", SenderId: 1, ReceiverId: intPtr(1), SentAt: Now()}, nil).Once()

	_, err := cs.dispatcher.Send(context.Background(), a1, &Publish{ReceiverId: 1, Content: "note"})
	require.NoError(t, err)

	assert.Len(t, drain(a1), 1, "expected no duplicate when sender and receiver groups overlap")
	assert.Len(t, drain(a2), 1)
}

func TestMessageDispatcher_Send_room(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db, relaxedStats())

	var members []*Client
	for _, userId := range []int{1, 2, 3, 4} {
		c := connect(cs, userId)
		cs.groups.JoinRoom(c, 7)
		members = append(members, c)
	}
	outsider := connect(cs, 5)

	db.On("GetRoomById", mock.Anything, 7).Return(database.Room{Id: 7, Name: "general", IsActive: true}, nil).Once()
	db.On("IsActiveRoomMember", mock.Anything, 7, 1).Return(true, nil).Once()
	db.On("CreateMessage", mock.Anything, mock.MatchedBy(func(p database.CreateMessageParams) bool {
		return p.RoomId != nil && *p.RoomId == 7 && p.ReceiverId == nil
	})).Return(database.Message{Id: 20, Content: "hello", SenderId: 1, RoomId: intPtr(7), SentAt: Now()}, nil).Once()

	_, err := cs.dispatcher.Send(context.Background(), members[0], &Publish{RoomId: 7, Content: "hello"})
	require.NoError(t, err)

	for _, c := range members {
		msgs := drain(c)
		require.Len(t, msgs, 1, "expected every subscribed session to get the message once")
		require.NotNil(t, msgs[0].Message)
		assert.Equal(t, 20, msgs[0].Message.Id)
		assert.Equal(t, intPtr(7), msgs[0].Message.RoomId)
	}
	assert.Empty(t, drain(outsider))

	require.Len(t, cs.notifier.jobs, 1)
	job := <-cs.notifier.jobs
	assert.Equal(t, "general", job.message.roomName)
}

func TestMessageDispatcher_Send_rejected(t *testing.T) {
	tcs := []struct {
		name    string
		publish *Publish
		setup   func(db *database.MockGoChatRepository)
		wantErr error
	}{
		{
			name:    "no target",
			publish: &Publish{Content: "hi"},
			wantErr: ErrValidationFailed,
		},
		{
			name:    "both targets",
			publish: &Publish{RoomId: 1, ReceiverId: 2, Content: "hi"},
			wantErr: ErrValidationFailed,
		},
		{
			name:    "empty content without attachment",
			publish: &Publish{RoomId: 1, Content: "   "},
			wantErr: ErrValidationFailed,
		},
		{
			name:    "content too long",
			publish: &Publish{RoomId: 1, Content: strings.Repeat("x", 4001)},
			wantErr: ErrValidationFailed,
		},
		{
			name:    "room not found",
			publish: &Publish{RoomId: 1, Content: "hi"},
			setup: func(db *database.MockGoChatRepository) {
				db.On("GetRoomById", mock.Anything, 1).Return(database.Room{}, sql.ErrNoRows).Once()
			},
			wantErr: ErrNotFound,
		},
		{
			name:    "inactive room",
			publish: &Publish{RoomId: 1, Content: "hi"},
			setup: func(db *database.MockGoChatRepository) {
				db.On("GetRoomById", mock.Anything, 1).Return(database.Room{Id: 1, IsActive: false}, nil).Once()
			},
			wantErr: ErrNotFound,
		},
		{
			name:    "not a room member",
			publish: &Publish{RoomId: 1, Content: "hi"},
			setup: func(db *database.MockGoChatRepository) {
				db.On("GetRoomById", mock.Anything, 1).Return(database.Room{Id: 1, IsActive: true}, nil).Once()
				db.On("IsActiveRoomMember", mock.Anything, 1, 1).Return(false, nil).Once()
			},
			wantErr: ErrForbidden,
		},
		{
			name:    "receiver not found",
			publish: &Publish{ReceiverId: 9, Content: "hi"},
			setup: func(db *database.MockGoChatRepository) {
				db.On("GetAccountById", mock.Anything, 9).Return(database.User{}, sql.ErrNoRows).Once()
			},
			wantErr: ErrNotFound,
		},
		{
			name:    "attachment not owned",
			publish: &Publish{ReceiverId: 2, AttachmentId: 5},
			setup: func(db *database.MockGoChatRepository) {
				db.On("GetAccountById", mock.Anything, 2).Return(database.User{Id: 2}, nil).Once()
				db.On("GetAttachment", mock.Anything, 5, 1).Return(database.FileAttachment{}, sql.ErrNoRows).Once()
			},
			wantErr: ErrNotFound,
		},
		{
			name:    "membership lookup fails",
			publish: &Publish{RoomId: 1, Content: "hi"},
			setup: func(db *database.MockGoChatRepository) {
				db.On("GetRoomById", mock.Anything, 1).Return(database.Room{Id: 1, IsActive: true}, nil).Once()
				db.On("IsActiveRoomMember", mock.Anything, 1, 1).Return(false, errors.New("db error")).Once()
			},
			wantErr: ErrPersistence,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockGoChatRepository{}
			defer db.AssertExpectations(t)
			if tc.setup != nil {
				tc.setup(db)
			}

			cs := newTestChatServer(t, db, relaxedStats())
			sender := connect(cs, 1)
			receiver := connect(cs, 2)

			payload, err := cs.dispatcher.Send(context.Background(), sender, tc.publish)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Nil(t, payload)

			db.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
			assert.Empty(t, drain(sender), "expected no delivery for a rejected message")
			assert.Empty(t, drain(receiver), "expected no delivery for a rejected message")
			assert.Empty(t, cs.notifier.jobs, "expected no notification for a rejected message")
		})
	}
}

func TestMessageDispatcher_Send_persistenceFailure(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, db, su)
	sender := newTestClient(cs, 1)
	receiver := newTestClient(cs, 2)
	cs.registry.Register(sender)
	cs.registry.Register(receiver)

	db.On("GetAccountById", mock.Anything, 2).Return(database.User{Id: 2}, nil).Once()
	db.On("CreateMessage", mock.Anything, mock.Anything).Return(database.Message{}, errors.New("connection refused")).Once()

	_, err := cs.dispatcher.Send(context.Background(), sender, &Publish{ReceiverId: 2, Content: "hi"})
	assert.ErrorIs(t, err, ErrPersistence)

	assert.Empty(t, drain(sender))
	assert.Empty(t, drain(receiver), "expected no live delivery without a stored message")
	assert.Empty(t, cs.notifier.jobs)
	su.AssertNotCalled(t, "Incr", metricMessagesSent)
}

func TestMessageDispatcher_Send_friendshipRequired(t *testing.T) {
	cfg := testConfig()
	cfg.RequireFriendship = true

	t.Run("strangers are rejected", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServerWithConfig(t, db, relaxedStats(), cfg)
		sender := connect(cs, 1)

		db.On("GetAccountById", mock.Anything, 2).Return(database.User{Id: 2}, nil).Once()
		db.On("AreFriends", mock.Anything, 1, 2).Return(false, nil).Once()

		_, err := cs.dispatcher.Send(context.Background(), sender, &Publish{ReceiverId: 2, Content: "hi"})
		assert.ErrorIs(t, err, ErrForbidden)
		db.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	})

	t.Run("friends are allowed", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServerWithConfig(t, db, relaxedStats(), cfg)
		sender := connect(cs, 1)

		db.On("GetAccountById", mock.Anything, 2).Return(database.User{Id: 2}, nil).Once()
		db.On("AreFriends", mock.Anything, 1, 2).Return(true, nil).Once()
		db.On("CreateMessage", mock.Anything, mock.Anything).
			Return(database.Message{Id: 1, SenderId: 1, ReceiverId: intPtr(2), SentAt: Now()}, nil).Once()

		_, err := cs.dispatcher.Send(context.Background(), sender, &Publish{ReceiverId: 2, Content: "hi"})
		assert.NoError(t, err)
	})
}

func TestMessageDispatcher_Send_attachment(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db, relaxedStats())
	sender := connect(cs, 1)

	db.On("GetAccountById", mock.Anything, 2).Return(database.User{Id: 2}, nil).Once()
	db.On("GetAttachment", mock.Anything, 5, 1).Return(database.FileAttachment{
		Id:               5,
		OriginalFileName: "cat.png",
		ContentType:      "image/png",
		FileSize:         2048,
		FilePath:         "uploads/cat.png",
		ThumbnailPath:    strPtr("uploads/thumbs/cat.png"),
		UploadedById:     1,
		FileType:         types.FileTypeImage,
	}, nil).Once()
	db.On("CreateMessage", mock.Anything, mock.MatchedBy(func(p database.CreateMessageParams) bool {
		return p.Type == types.MessageTypeImage && p.FileAttachmentId != nil && *p.FileAttachmentId == 5
	})).Return(database.Message{
		Id:               30,
		SenderId:         1,
		ReceiverId:       intPtr(2),
		Type:             types.MessageTypeImage,
		FileAttachmentId: intPtr(5),
		SentAt:           Now(),
	}, nil).Once()

	payload, err := cs.dispatcher.Send(context.Background(), sender, &Publish{ReceiverId: 2, AttachmentId: 5})
	require.NoError(t, err)
	require.NotNil(t, payload.Attachment)
	assert.Equal(t, types.MessageTypeImage, payload.Type)
	assert.Equal(t, "cat.png", payload.Attachment.FileName)
	assert.Equal(t, "http://files.test/uploads/cat.png", payload.Attachment.FileUrl)
	require.NotNil(t, payload.Attachment.ThumbnailUrl)
	assert.Equal(t, "http://files.test/uploads/thumbs/cat.png", *payload.Attachment.ThumbnailUrl)
}

func TestMessageDispatcher_fanOut_dropsFullSessions(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", metricDroppedDeliveries).Return().Once()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockGoChatRepository{}, su)
	slow := sessionFor("slow", 1)
	slow.send <- &ServerMessage{}
	fast := sessionFor("fast", 2)

	delivered := cs.dispatcher.fanOut(sessionSet{"slow": slow, "fast": fast}, &ServerMessage{})
	assert.Equal(t, 1, delivered, "expected the healthy session to still get the message")
	assert.Len(t, fast.send, 1)
}

func TestMessageDispatcher_MarkRead(t *testing.T) {
	t.Run("receiver marks read", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, relaxedStats())
		c := connect(cs, 2)

		readAt := Now()
		db.On("GetMessageById", mock.Anything, 3).Return(database.Message{Id: 3, SenderId: 1, ReceiverId: intPtr(2)}, nil).Once()
		db.On("MarkMessageRead", mock.Anything, 3, 2).Return(database.Message{Id: 3, IsRead: true, ReadAt: &readAt}, nil).Once()

		msg, err := cs.dispatcher.MarkRead(context.Background(), c, 3)
		require.NoError(t, err)
		assert.True(t, msg.IsRead)
		assert.Equal(t, &readAt, msg.ReadAt)
	})

	t.Run("sender cannot mark read", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, relaxedStats())
		c := connect(cs, 1)

		db.On("GetMessageById", mock.Anything, 3).Return(database.Message{Id: 3, SenderId: 1, ReceiverId: intPtr(2)}, nil).Once()

		_, err := cs.dispatcher.MarkRead(context.Background(), c, 3)
		assert.ErrorIs(t, err, ErrForbidden)
		db.AssertNotCalled(t, "MarkMessageRead", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("room message cannot be marked", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, relaxedStats())
		c := connect(cs, 2)

		db.On("GetMessageById", mock.Anything, 3).Return(database.Message{Id: 3, SenderId: 1, RoomId: intPtr(4)}, nil).Once()

		_, err := cs.dispatcher.MarkRead(context.Background(), c, 3)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("missing message", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, relaxedStats())
		c := connect(cs, 2)

		db.On("GetMessageById", mock.Anything, 3).Return(database.Message{}, sql.ErrNoRows).Once()

		_, err := cs.dispatcher.MarkRead(context.Background(), c, 3)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func Test_classifyMessage(t *testing.T) {
	tcs := []struct {
		name     string
		a        *database.FileAttachment
		expected types.MessageType
	}{
		{"no attachment", nil, types.MessageTypeText},
		{"image", &database.FileAttachment{FileType: types.FileTypeImage}, types.MessageTypeImage},
		{"video", &database.FileAttachment{FileType: types.FileTypeVideo}, types.MessageTypeVideo},
		{"audio", &database.FileAttachment{FileType: types.FileTypeAudio}, types.MessageTypeAudio},
		{"document", &database.FileAttachment{FileType: types.FileTypeDocument}, types.MessageTypeFile},
		{"other", &database.FileAttachment{FileType: types.FileTypeOther}, types.MessageTypeFile},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, classifyMessage(tc.a))
		})
	}
}

func TestMessageDispatcher_fileURL(t *testing.T) {
	d := &MessageDispatcher{fileBaseURL: "http://localhost:8000/"}
	assert.Equal(t, "http://localhost:8000/media/a.txt", d.fileURL("media/a.txt"))
	assert.Equal(t, "http://localhost:8000/media/a.txt", d.fileURL("/media/a.txt"))

	d = &MessageDispatcher{fileBaseURL: "http://localhost:8000"}
	assert.Equal(t, "http://localhost:8000/media/a.txt", d.fileURL("media/a.txt"))
}

func TestNewMessageDispatcher(t *testing.T) {
	cfg := &config.Config{FileBaseURL: "http://cdn.test/", RequireFriendship: true}
	d := NewMessageDispatcher(zerolog.Nop(), nil, nil, nil, nil, &stats.MockStatsUpdater{}, cfg)
	assert.Equal(t, "http://cdn.test/", d.fileBaseURL)
	assert.True(t, d.requireFriendship)
}
