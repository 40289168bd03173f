package store

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetUser(ctx context.Context, id string) (User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) GetRoom(ctx context.Context, id string) (Room, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) GetRoomByCode(ctx context.Context, code string) (Room, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) DeleteRoom(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepository) CreateMembership(ctx context.Context, roomId, userId string) (Membership, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Get(0).(Membership), args.Error(1)
}
func (m *MockRepository) MembershipExists(ctx context.Context, roomId, userId string) (bool, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) ListMembershipsByUser(ctx context.Context, userId string) ([]Membership, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]Membership), args.Error(1)
}
func (m *MockRepository) DeleteMembershipsByRoom(ctx context.Context, roomId string) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}
func (m *MockRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) ListMessages(ctx context.Context, roomId string, ordered bool) ([]Message, error) {
	args := m.Called(ctx, roomId, ordered)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) DeleteMessagesByRoom(ctx context.Context, roomId string) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}
func (m *MockRepository) WatchMembershipsByUser(ctx context.Context, userId string) (*MembershipSub, error) {
	args := m.Called(ctx, userId)
	if sub, ok := args.Get(0).(*MembershipSub); ok {
		return sub, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) WatchMembershipsByRoom(ctx context.Context, roomId string) (*MembershipSub, error) {
	args := m.Called(ctx, roomId)
	if sub, ok := args.Get(0).(*MembershipSub); ok {
		return sub, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) WatchMessages(ctx context.Context, roomId string, ordered bool) (*MessageSub, error) {
	args := m.Called(ctx, roomId, ordered)
	if sub, ok := args.Get(0).(*MessageSub); ok {
		return sub, args.Error(1)
	}
	return nil, args.Error(1)
}
