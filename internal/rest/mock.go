package rest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/fitchat/fitchat-client/internal/types"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) GetUsers(ctx context.Context) ([]types.User, error) {
	args := m.Called(ctx)
	if users, ok := args.Get(0).([]types.User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) GetUser(ctx context.Context, id string) (types.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.User), args.Error(1)
}

func (m *MockBackend) GetRooms(ctx context.Context) ([]types.Room, error) {
	args := m.Called(ctx)
	if rooms, ok := args.Get(0).([]types.Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) GetRoom(ctx context.Context, id string) (types.Room, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Room), args.Error(1)
}

func (m *MockBackend) GetRoomMessages(ctx context.Context, roomId string, limit, offset int) ([]types.Message, error) {
	args := m.Called(ctx, roomId, limit, offset)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Room), args.Error(1)
}

func (m *MockBackend) GetFile(ctx context.Context, fileId string) ([]byte, error) {
	args := m.Called(ctx, fileId)
	if b, ok := args.Get(0).([]byte); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}
