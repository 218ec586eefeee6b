package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockGoChatRepository struct {
	mock.Mock
}

func (m *MockGoChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockGoChatRepository) GetAccountById(ctx context.Context, accountId int) (User, error) {
	args := m.Called(ctx, accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) UpdateLastSeen(ctx context.Context, accountId int, at time.Time) error {
	args := m.Called(ctx, accountId, at)
	return args.Error(0)
}
func (m *MockGoChatRepository) GetRoomById(ctx context.Context, roomId int) (Room, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) ListActiveRoomIds(ctx context.Context, accountId int) ([]int, error) {
	args := m.Called(ctx, accountId)
	if ids, ok := args.Get(0).([]int); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) IsActiveRoomMember(ctx context.Context, roomId, accountId int) (bool, error) {
	args := m.Called(ctx, roomId, accountId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) ListActiveRoomMemberIds(ctx context.Context, roomId int) ([]int, error) {
	args := m.Called(ctx, roomId)
	if ids, ok := args.Get(0).([]int); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) AddRoomMember(ctx context.Context, roomId, accountId int) error {
	args := m.Called(ctx, roomId, accountId)
	return args.Error(0)
}
func (m *MockGoChatRepository) RemoveRoomMember(ctx context.Context, roomId, accountId int) error {
	args := m.Called(ctx, roomId, accountId)
	return args.Error(0)
}
func (m *MockGoChatRepository) GetAttachment(ctx context.Context, attachmentId, ownerId int) (FileAttachment, error) {
	args := m.Called(ctx, attachmentId, ownerId)
	return args.Get(0).(FileAttachment), args.Error(1)
}
func (m *MockGoChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) GetMessageById(ctx context.Context, messageId int) (Message, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) MarkMessageRead(ctx context.Context, messageId, receiverId int) (Message, error) {
	args := m.Called(ctx, messageId, receiverId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) AreFriends(ctx context.Context, accountId, otherId int) (bool, error) {
	args := m.Called(ctx, accountId, otherId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) GetFriendRequest(ctx context.Context, requestId int) (FriendRequest, error) {
	args := m.Called(ctx, requestId)
	return args.Get(0).(FriendRequest), args.Error(1)
}
func (m *MockGoChatRepository) CreateNotification(ctx context.Context, params CreateNotificationParams) (Notification, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockGoChatRepository) ListNotifications(ctx context.Context, accountId int, unreadOnly bool, limit int) ([]Notification, error) {
	args := m.Called(ctx, accountId, unreadOnly, limit)
	if n, ok := args.Get(0).([]Notification); ok {
		return n, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) CountUnreadNotifications(ctx context.Context, accountId int) (int, error) {
	args := m.Called(ctx, accountId)
	return args.Int(0), args.Error(1)
}
func (m *MockGoChatRepository) MarkNotificationRead(ctx context.Context, notificationId, accountId int) (bool, error) {
	args := m.Called(ctx, notificationId, accountId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) MarkAllNotificationsRead(ctx context.Context, accountId int) (int, error) {
	args := m.Called(ctx, accountId)
	return args.Int(0), args.Error(1)
}
