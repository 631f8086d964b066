package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/fitchat/fitchat-client/internal/cache"
	"github.com/fitchat/fitchat-client/internal/protocol"
	"github.com/fitchat/fitchat-client/internal/rest"
	"github.com/fitchat/fitchat-client/internal/stats"
	"github.com/fitchat/fitchat-client/internal/testutil"
	"github.com/fitchat/fitchat-client/internal/transport"
	"github.com/fitchat/fitchat-client/internal/types"
)

type fixture struct {
	tp    *transport.MockTransport
	api   *rest.MockBackend
	snap  *cache.MockSnapshotStore
	stats *stats.MockStatsProvider
	store *ChatStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		tp:    transport.NewMockTransport(),
		api:   &rest.MockBackend{},
		snap:  &cache.MockSnapshotStore{},
		stats: &stats.MockStatsProvider{},
	}
	f.snap.On("Save", mock.Anything).Return(nil).Maybe()
	f.stats.On("Incr", mock.Anything).Maybe()
	f.store = NewChatStore(f.tp, f.api, f.snap, f.stats, testutil.TestLogger(t))
	return f
}

func (f *fixture) seedRoom(room types.Room, msgs ...types.Message) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.rooms = append(f.store.rooms, room)
	f.store.messages[room.ID] = append(f.store.messages[room.ID], msgs...)
}

func (f *fixture) seedUser(u types.User) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.currentUser = u
}

func TestHydrate(t *testing.T) {
	t.Run("loads snapshot", func(t *testing.T) {
		f := newFixture(t)
		f.snap.On("Load").Return(&cache.Snapshot{
			Rooms: []types.Room{{ID: "r1", Name: "general"}},
			Messages: map[string][]types.Message{
				"r1": {{ID: "m1", Content: "hello"}},
			},
			Users: []types.User{{ID: "u1"}},
		}, nil)

		assert.NoError(t, f.store.Hydrate())
		assert.Len(t, f.store.Rooms(), 1)
		assert.Len(t, f.store.Messages("r1"), 1)
		assert.Len(t, f.store.Users(), 1)
	})

	t.Run("no snapshot is not an error", func(t *testing.T) {
		f := newFixture(t)
		f.snap.On("Load").Return(nil, cache.ErrNoSnapshot)

		assert.NoError(t, f.store.Hydrate())
		assert.Empty(t, f.store.Rooms())
	})

	t.Run("propagates load failure", func(t *testing.T) {
		f := newFixture(t)
		f.snap.On("Load").Return(nil, errors.New("corrupt"))

		assert.Error(t, f.store.Hydrate())
	})
}

func TestConnect(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		f.snap.On("Load").Return(nil, cache.ErrNoSnapshot)
		f.tp.On("Connect", mock.Anything, "u1").Return(nil)
		f.api.On("GetUsers", mock.Anything).Return([]types.User{
			{ID: "u1", Name: "alice"},
			{ID: "u2", Name: "bob"},
		}, nil)
		f.api.On("GetRooms", mock.Anything).Return([]types.Room{
			{ID: "r1"}, {ID: "r2"},
		}, nil)

		assert.NoError(t, f.store.Connect(context.Background(), "u1"))
		assert.True(t, f.store.IsConnected())
		assert.False(t, f.store.IsLoading())
		assert.Len(t, f.store.Rooms(), 2)
		assert.Equal(t, "alice", f.store.CurrentUser().Name)
		assert.Empty(t, f.store.Err())
	})

	t.Run("transport failure", func(t *testing.T) {
		f := newFixture(t)
		f.snap.On("Load").Return(nil, cache.ErrNoSnapshot)
		f.tp.On("Connect", mock.Anything, "u1").Return(errors.New("dial tcp: refused"))

		assert.Error(t, f.store.Connect(context.Background(), "u1"))
		assert.Equal(t, StatusDisconnected, f.store.Status())
		assert.Contains(t, f.store.Err(), "failed to connect")
	})

	t.Run("directory failure keeps cached state and disconnects", func(t *testing.T) {
		f := newFixture(t)
		f.seedRoom(types.Room{ID: "cached"})
		f.snap.On("Load").Return(nil, cache.ErrNoSnapshot)
		f.tp.On("Connect", mock.Anything, "u1").Return(nil)
		f.tp.On("Disconnect").Return()
		f.api.On("GetUsers", mock.Anything).Return(nil, nil)
		f.api.On("GetRooms", mock.Anything).Return(nil, errors.New("502"))

		assert.Error(t, f.store.Connect(context.Background(), "u1"))
		assert.Equal(t, StatusDisconnected, f.store.Status())
		assert.Len(t, f.store.Rooms(), 1, "cached rooms must survive a failed refresh")
		f.tp.AssertCalled(t, "Disconnect")
	})

	t.Run("disconnect handler is armed before the dial", func(t *testing.T) {
		f := newFixture(t)
		f.snap.On("Load").Return(nil, cache.ErrNoSnapshot)

		armed := false
		f.tp.On("Connect", mock.Anything, "u1").Run(func(mock.Arguments) {
			// a socket dropped while Connect is still in flight must
			// already have somewhere to report to
			armed = f.tp.DeliverDisconnect(errors.New("dropped mid dial"))
		}).Return(nil)
		f.api.On("GetUsers", mock.Anything).Return(nil, nil)
		f.api.On("GetRooms", mock.Anything).Return(nil, nil)

		assert.NoError(t, f.store.Connect(context.Background(), "u1"))
		assert.True(t, armed)
	})

	t.Run("rejects double connect", func(t *testing.T) {
		f := newFixture(t)
		f.snap.On("Load").Return(nil, cache.ErrNoSnapshot)
		f.tp.On("Connect", mock.Anything, "u1").Return(nil)
		f.api.On("GetUsers", mock.Anything).Return(nil, nil)
		f.api.On("GetRooms", mock.Anything).Return(nil, nil)

		assert.NoError(t, f.store.Connect(context.Background(), "u1"))
		assert.Error(t, f.store.Connect(context.Background(), "u1"))
	})
}

func TestAddMessage(t *testing.T) {
	t.Run("appends in arrival order", func(t *testing.T) {
		f := newFixture(t)
		f.seedRoom(types.Room{ID: "r1"})

		f.store.AddMessage("r1", types.Message{ID: "m1", Content: "first", SenderID: "u2"})
		f.store.AddMessage("r1", types.Message{ID: "m2", Content: "second", SenderID: "u2"})

		msgs := f.store.Messages("r1")
		assert.Len(t, msgs, 2)
		assert.Equal(t, "first", msgs[0].Content)
		assert.Equal(t, "second", msgs[1].Content)
	})

	t.Run("fills missing id and timestamp", func(t *testing.T) {
		f := newFixture(t)
		f.seedRoom(types.Room{ID: "r1"})

		f.store.AddMessage("r1", types.Message{Content: "no identity"})

		msg := f.store.Messages("r1")[0]
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.Timestamp.IsZero())
	})

	t.Run("preserves server identity", func(t *testing.T) {
		f := newFixture(t)
		f.seedRoom(types.Room{ID: "r1"})
		ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

		f.store.AddMessage("r1", types.Message{ID: "srv-9", Timestamp: ts})

		msg := f.store.Messages("r1")[0]
		assert.Equal(t, "srv-9", msg.ID)
		assert.Equal(t, ts, msg.Timestamp)
	})

	t.Run("foreign messages bump unread and last message", func(t *testing.T) {
		f := newFixture(t)
		f.seedRoom(types.Room{ID: "r1"})
		f.seedUser(types.User{ID: "me"})

		f.store.AddMessage("r1", types.Message{ID: "m1", SenderID: "u2", Content: "one"})
		f.store.AddMessage("r1", types.Message{ID: "m2", SenderID: "u2", Content: "two"})

		room, ok := f.store.Room("r1")
		assert.True(t, ok)
		assert.Equal(t, 2, room.UnreadCount)
		assert.Equal(t, "two", room.LastMessage.Content)
	})

	t.Run("own messages never count as unread", func(t *testing.T) {
		f := newFixture(t)
		f.seedRoom(types.Room{ID: "r1"})
		f.seedUser(types.User{ID: "me"})

		f.store.AddMessage("r1", types.Message{ID: "m1", SenderID: "me"})

		room, _ := f.store.Room("r1")
		assert.Equal(t, 0, room.UnreadCount)
		assert.Equal(t, "m1", room.LastMessage.ID)
	})
}

func TestSetCurrentRoom(t *testing.T) {
	t.Run("joins and clears unread", func(t *testing.T) {
		f := newFixture(t)
		f.seedUser(types.User{ID: "me"})
		f.seedRoom(types.Room{ID: "r1", UnreadCount: 2},
			types.Message{ID: "m1", SenderID: "u2"},
			types.Message{ID: "m2", SenderID: "u2"},
			types.Message{ID: "m3", SenderID: "me"},
		)
		f.tp.On("JoinRoom", "r1").Return(nil)
		f.tp.On("MarkMessagesAsRead", "r1", []string{"m1", "m2"}).Return(nil)

		assert.NoError(t, f.store.SetCurrentRoom("r1"))
		assert.Equal(t, "r1", f.store.CurrentRoomID())

		room, _ := f.store.Room("r1")
		assert.Equal(t, 0, room.UnreadCount)
		for _, m := range f.store.Messages("r1") {
			assert.True(t, m.IsRead)
		}
		f.tp.AssertExpectations(t)
	})

	t.Run("no receipt when nothing unread", func(t *testing.T) {
		f := newFixture(t)
		f.seedRoom(types.Room{ID: "r1"})
		f.tp.On("JoinRoom", "r1").Return(nil)

		assert.NoError(t, f.store.SetCurrentRoom("r1"))
		f.tp.AssertNotCalled(t, "MarkMessagesAsRead", mock.Anything, mock.Anything)
	})

	t.Run("switch leaves old room and drops its handlers", func(t *testing.T) {
		f := newFixture(t)
		f.seedRoom(types.Room{ID: "r1"})
		f.seedRoom(types.Room{ID: "r2"})
		f.tp.On("JoinRoom", mock.Anything).Return(nil)
		f.tp.On("LeaveRoom", "r1").Return(nil)

		assert.NoError(t, f.store.SetCurrentRoom("r1"))
		assert.NoError(t, f.store.SetCurrentRoom("r2"))

		assert.False(t, f.tp.DeliverMessage(protocol.WireMessage{RoomID: "r1", ID: "stray"}),
			"old room handler must be gone")
		assert.Empty(t, f.store.Messages("r1"))
		assert.Equal(t, 2, f.tp.HandlerCount())
		f.tp.AssertCalled(t, "LeaveRoom", "r1")
	})

	t.Run("join failure rolls back handlers", func(t *testing.T) {
		f := newFixture(t)
		f.seedRoom(types.Room{ID: "r1"})
		f.tp.On("JoinRoom", "r1").Return(errors.New("not connected"))

		assert.Error(t, f.store.SetCurrentRoom("r1"))
		assert.Empty(t, f.store.CurrentRoomID())
		assert.Equal(t, 0, f.tp.HandlerCount())
		assert.Contains(t, f.store.Err(), "failed to join room")
	})
}

func TestInboundDispatch(t *testing.T) {
	f := newFixture(t)
	f.seedUser(types.User{ID: "me"})
	f.seedRoom(types.Room{ID: "r1"})
	f.seedRoom(types.Room{ID: "r2"})
	f.tp.On("JoinRoom", "r1").Return(nil)

	assert.NoError(t, f.store.SetCurrentRoom("r1"))

	assert.True(t, f.tp.DeliverMessage(protocol.WireMessage{
		ID:          "srv-1",
		RoomID:      "r1",
		SenderID:    "u2",
		Content:     "hey",
		MessageType: types.MessageText,
		Timestamp:   "2025-06-01T12:00:00Z",
	}))

	msgs := f.store.Messages("r1")
	assert.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
	f.stats.AssertCalled(t, "Incr", stats.MessagesReceived)

	assert.False(t, f.tp.DeliverMessage(protocol.WireMessage{RoomID: "r2", ID: "other"}),
		"only the active room has a handler")
}

func TestSendMessage(t *testing.T) {
	t.Run("success counts sent", func(t *testing.T) {
		f := newFixture(t)
		f.tp.On("SendMessage", "r1", "hello").Return(nil)

		f.store.SendMessage("r1", "hello")

		assert.Empty(t, f.store.Err())
		f.stats.AssertCalled(t, "Incr", stats.MessagesSent)
	})

	t.Run("failure records error without throwing", func(t *testing.T) {
		f := newFixture(t)
		f.tp.On("SendMessage", "r1", "hello").Return(transport.ErrNotConnected)

		f.store.SendMessage("r1", "hello")

		assert.Contains(t, f.store.Err(), "failed to send message")
		f.stats.AssertCalled(t, "Incr", stats.SendErrors)
	})
}

func TestSendImage(t *testing.T) {
	f := newFixture(t)
	f.tp.On("SendImage", "r1", mock.Anything).Return(errors.New("read file: EOF"))

	f.store.SendImage("r1", transport.File{Name: "run.png"})

	assert.Contains(t, f.store.Err(), "failed to send image")
	f.stats.AssertCalled(t, "Incr", stats.SendErrors)
}

func TestShareFitnessData(t *testing.T) {
	f := newFixture(t)
	data := &types.FitnessSnapshot{Steps: 12000, Calories: 540}
	f.tp.On("ShareFitnessData", "r1", data).Return(nil)

	f.store.ShareFitnessData("r1", data)

	assert.Empty(t, f.store.Err())
	f.tp.AssertExpectations(t)
}

func TestCreateRoom(t *testing.T) {
	params := rest.CreateRoomParams{Name: "squad", Kind: types.RoomGroup, Participants: []string{"u1", "u2"}}

	t.Run("appends on success", func(t *testing.T) {
		f := newFixture(t)
		f.api.On("CreateRoom", mock.Anything, params).Return(types.Room{ID: "r9", Name: "squad", UnreadCount: 3}, nil)

		room, err := f.store.CreateRoom(context.Background(), params)
		assert.NoError(t, err)
		assert.Equal(t, "r9", room.ID)
		assert.Equal(t, 0, room.UnreadCount)
		assert.Len(t, f.store.Rooms(), 1)
	})

	t.Run("failure leaves room list unchanged", func(t *testing.T) {
		f := newFixture(t)
		f.api.On("CreateRoom", mock.Anything, params).Return(types.Room{}, errors.New("409"))

		_, err := f.store.CreateRoom(context.Background(), params)
		assert.Error(t, err)
		assert.Empty(t, f.store.Rooms())
		assert.Contains(t, f.store.Err(), "failed to create room")
	})
}

func TestLoadRoomMessages(t *testing.T) {
	t.Run("replaces local history", func(t *testing.T) {
		f := newFixture(t)
		f.seedRoom(types.Room{ID: "r1"}, types.Message{ID: "stale"})
		f.api.On("GetRoomMessages", mock.Anything, "r1", 50, 0).Return([]types.Message{
			{ID: "m1", Content: "a"},
			{ID: "m2", Content: "b"},
		}, nil)

		assert.NoError(t, f.store.LoadRoomMessages(context.Background(), "r1", 50, 0))

		msgs := f.store.Messages("r1")
		assert.Len(t, msgs, 2)
		room, _ := f.store.Room("r1")
		assert.Equal(t, "m2", room.LastMessage.ID)
	})

	t.Run("failure keeps cached history", func(t *testing.T) {
		f := newFixture(t)
		f.seedRoom(types.Room{ID: "r1"}, types.Message{ID: "cached"})
		f.api.On("GetRoomMessages", mock.Anything, "r1", 50, 0).Return(nil, errors.New("timeout"))

		assert.Error(t, f.store.LoadRoomMessages(context.Background(), "r1", 50, 0))
		assert.Len(t, f.store.Messages("r1"), 1)
	})
}

func TestMarkAsRead(t *testing.T) {
	f := newFixture(t)
	f.seedUser(types.User{ID: "me"})
	f.seedRoom(types.Room{ID: "r1", UnreadCount: 2},
		types.Message{ID: "m1", SenderID: "u2"},
		types.Message{ID: "m2", SenderID: "u2"},
	)

	f.store.MarkAsRead("r1", "m1")

	room, _ := f.store.Room("r1")
	assert.Equal(t, 1, room.UnreadCount)
	assert.True(t, f.store.Messages("r1")[0].IsRead)
	assert.False(t, f.store.Messages("r1")[1].IsRead)
}

func TestUpdateRoom(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(types.Room{ID: "r1", Name: "old"})

	f.store.UpdateRoom(types.Room{ID: "r1", Name: "new"})

	room, _ := f.store.Room("r1")
	assert.Equal(t, "new", room.Name)
}

func TestDeleteRoom(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(types.Room{ID: "r1"}, types.Message{ID: "m1"})
	f.seedRoom(types.Room{ID: "r2"})

	f.store.DeleteRoom("r1")

	assert.Len(t, f.store.Rooms(), 1)
	assert.Empty(t, f.store.Messages("r1"))
}

func TestTypingIndicators(t *testing.T) {
	t.Run("set add and remove", func(t *testing.T) {
		f := newFixture(t)

		f.store.SetTypingIndicator("r1", "u2", true)
		f.store.SetTypingIndicator("r1", "u3", true)
		assert.ElementsMatch(t, []string{"u2", "u3"}, f.store.TypingUsers("r1"))

		f.store.SetTypingIndicator("r1", "u2", false)
		assert.Equal(t, []string{"u3"}, f.store.TypingUsers("r1"))

		f.store.SetTypingIndicator("r1", "u3", false)
		assert.Empty(t, f.store.TypingUsers("r1"))
	})

	t.Run("inbound indicator flows through handler", func(t *testing.T) {
		f := newFixture(t)
		f.seedRoom(types.Room{ID: "r1"})
		f.tp.On("JoinRoom", "r1").Return(nil)

		assert.NoError(t, f.store.SetCurrentRoom("r1"))
		assert.True(t, f.tp.DeliverTyping(protocol.TypingIndicator{RoomID: "r1", UserID: "u2", IsTyping: true}))
		assert.Equal(t, []string{"u2"}, f.store.TypingUsers("r1"))
	})

	t.Run("outbound send failure only logs", func(t *testing.T) {
		f := newFixture(t)
		f.tp.On("SendTypingIndicator", "r1", true).Return(transport.ErrNotConnected)

		f.store.SendTypingIndicator("r1", true)
		assert.Empty(t, f.store.Err())
	})
}

func TestUserStatusChange(t *testing.T) {
	f := newFixture(t)
	f.snap.On("Load").Return(nil, cache.ErrNoSnapshot)
	f.tp.On("Connect", mock.Anything, "u1").Return(nil)
	f.api.On("GetRooms", mock.Anything).Return(nil, nil)

	last := time.Now()
	f.api.On("GetUsers", mock.Anything).Return([]types.User{
		{ID: "u1"}, {ID: "u2", IsOnline: true},
	}, nil).Once()
	f.api.On("GetUsers", mock.Anything).Return([]types.User{
		{ID: "u1"}, {ID: "u2", IsOnline: false, LastSeen: &last},
	}, nil)

	assert.NoError(t, f.store.Connect(context.Background(), "u1"))
	assert.True(t, f.tp.DeliverStatusChange(protocol.UserStatusChange{UserID: "u2", IsOnline: false}))

	// the local flip is immediate, the directory refresh catches up in
	// the background
	assert.Eventually(t, func() bool {
		for _, u := range f.store.Users() {
			if u.ID == "u2" {
				return !u.IsOnline && u.LastSeen != nil
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestReconnect(t *testing.T) {
	t.Run("recovers and rejoins active room", func(t *testing.T) {
		f := newFixture(t)
		f.store.reconnectBase = time.Millisecond
		f.store.reconnectMax = 2 * time.Millisecond
		f.seedUser(types.User{ID: "u1"})
		f.seedRoom(types.Room{ID: "r1"})
		f.store.mu.Lock()
		f.store.status = StatusConnected
		f.store.currentRoomId = "r1"
		f.store.mu.Unlock()

		f.tp.On("Connect", mock.Anything, "u1").Return(errors.New("refused")).Once()
		f.tp.On("Connect", mock.Anything, "u1").Return(nil).Once()
		f.tp.On("JoinRoom", "r1").Return(nil)

		go f.store.reconnect(errors.New("peer closed"))

		assert.Eventually(t, f.store.IsConnected, time.Second, 5*time.Millisecond)
		assert.Empty(t, f.store.Err())
		f.tp.AssertCalled(t, "JoinRoom", "r1")
		f.stats.AssertCalled(t, "Incr", stats.Reconnects)
	})

	t.Run("gives up after bounded attempts", func(t *testing.T) {
		f := newFixture(t)
		f.store.reconnectBase = time.Millisecond
		f.store.reconnectMax = 2 * time.Millisecond
		f.store.reconnectAttempts = 3
		f.seedUser(types.User{ID: "u1"})
		f.store.mu.Lock()
		f.store.status = StatusConnected
		f.store.mu.Unlock()

		f.tp.On("Connect", mock.Anything, "u1").Return(errors.New("refused"))

		go f.store.reconnect(errors.New("peer closed"))

		assert.Eventually(t, func() bool {
			return f.store.Status() == StatusDisconnected
		}, time.Second, 5*time.Millisecond)
		assert.Contains(t, f.store.Err(), "gave up after 3 attempts")
		f.tp.AssertNumberOfCalls(t, "Connect", 3)
	})

	t.Run("deliberate disconnect aborts the loop", func(t *testing.T) {
		f := newFixture(t)
		f.store.reconnectBase = 100 * time.Millisecond
		f.seedUser(types.User{ID: "u1"})
		f.store.mu.Lock()
		f.store.status = StatusConnected
		f.store.mu.Unlock()
		f.tp.On("Disconnect").Return()

		go f.store.reconnect(errors.New("peer closed"))

		assert.Eventually(t, func() bool {
			return f.store.Status() == StatusReconnecting
		}, time.Second, time.Millisecond)
		f.store.Disconnect()

		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, StatusDisconnected, f.store.Status())
		f.tp.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)
	})
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(types.Room{ID: "r1"})
	f.tp.On("JoinRoom", "r1").Return(nil)
	f.tp.On("LeaveRoom", "r1").Return(nil)
	f.tp.On("Disconnect").Return()

	assert.NoError(t, f.store.SetCurrentRoom("r1"))
	f.store.SetTypingIndicator("r1", "u2", true)

	f.store.Disconnect()

	assert.Equal(t, StatusDisconnected, f.store.Status())
	assert.Empty(t, f.store.CurrentRoomID())
	assert.Empty(t, f.store.TypingUsers("r1"))
	assert.Equal(t, 0, f.tp.HandlerCount())
	f.tp.AssertExpectations(t)
}

func TestPersistAllowList(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(types.Room{ID: "r1"})
	f.store.SetTypingIndicator("r1", "u2", true)

	var saved *cache.Snapshot
	f.snap.ExpectedCalls = nil
	f.snap.On("Save", mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(0).(*cache.Snapshot)
	}).Return(nil)

	f.store.AddMessage("r1", types.Message{ID: "m1", SenderID: "u2"})

	assert.NotNil(t, saved)
	assert.Len(t, saved.Rooms, 1)
	assert.Len(t, saved.Messages["r1"], 1)
}
