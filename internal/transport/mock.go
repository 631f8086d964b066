package transport

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/fitchat/fitchat-client/internal/protocol"
	"github.com/fitchat/fitchat-client/internal/types"
)

// MockTransport implements ChatTransport for store tests. Registered
// handlers are retained so tests can feed inbound events through
// DeliverMessage and friends.
type MockTransport struct {
	mock.Mock

	mu              sync.Mutex
	messageHandlers map[string]MessageHandler
	typingHandlers  map[string]TypingHandler
	statusHandler   StatusHandler
	downHandler     DisconnectHandler
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		messageHandlers: make(map[string]MessageHandler),
		typingHandlers:  make(map[string]TypingHandler),
	}
}

func (m *MockTransport) Connect(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}

func (m *MockTransport) Disconnect() {
	m.Called()
}

func (m *MockTransport) JoinRoom(roomId string) error {
	args := m.Called(roomId)
	return args.Error(0)
}

func (m *MockTransport) LeaveRoom(roomId string) error {
	args := m.Called(roomId)
	return args.Error(0)
}

func (m *MockTransport) SendMessage(roomId, content string) error {
	args := m.Called(roomId, content)
	return args.Error(0)
}

func (m *MockTransport) SendImage(roomId string, file File) error {
	args := m.Called(roomId, file)
	return args.Error(0)
}

func (m *MockTransport) SendFile(roomId string, file File) error {
	args := m.Called(roomId, file)
	return args.Error(0)
}

func (m *MockTransport) ShareFitnessData(roomId string, data *types.FitnessSnapshot) error {
	args := m.Called(roomId, data)
	return args.Error(0)
}

func (m *MockTransport) SendTypingIndicator(roomId string, isTyping bool) error {
	args := m.Called(roomId, isTyping)
	return args.Error(0)
}

func (m *MockTransport) MarkMessagesAsRead(roomId string, messageIds []string) error {
	args := m.Called(roomId, messageIds)
	return args.Error(0)
}

func (m *MockTransport) OnMessage(roomId string, h MessageHandler) {
	m.mu.Lock()
	m.messageHandlers[roomId] = h
	m.mu.Unlock()
}

func (m *MockTransport) OnTyping(roomId string, h TypingHandler) {
	m.mu.Lock()
	m.typingHandlers[roomId] = h
	m.mu.Unlock()
}

func (m *MockTransport) OnUserStatusChange(h StatusHandler) {
	m.mu.Lock()
	m.statusHandler = h
	m.mu.Unlock()
}

func (m *MockTransport) OnDisconnect(h DisconnectHandler) {
	m.mu.Lock()
	m.downHandler = h
	m.mu.Unlock()
}

func (m *MockTransport) RemoveMessageHandler(roomId string) {
	m.mu.Lock()
	delete(m.messageHandlers, roomId)
	m.mu.Unlock()
}

func (m *MockTransport) RemoveTypingHandler(roomId string) {
	m.mu.Lock()
	delete(m.typingHandlers, roomId)
	m.mu.Unlock()
}

func (m *MockTransport) ClearHandlers() {
	m.mu.Lock()
	m.messageHandlers = make(map[string]MessageHandler)
	m.typingHandlers = make(map[string]TypingHandler)
	m.mu.Unlock()
}

// DeliverMessage invokes the registered message handler for the
// message's room, as the read pump would. Returns false if no handler
// was registered.
func (m *MockTransport) DeliverMessage(msg protocol.WireMessage) bool {
	m.mu.Lock()
	h := m.messageHandlers[msg.RoomID]
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(msg)
	return true
}

func (m *MockTransport) DeliverTyping(ti protocol.TypingIndicator) bool {
	m.mu.Lock()
	h := m.typingHandlers[ti.RoomID]
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(ti)
	return true
}

func (m *MockTransport) DeliverStatusChange(sc protocol.UserStatusChange) bool {
	m.mu.Lock()
	h := m.statusHandler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(sc)
	return true
}

func (m *MockTransport) DeliverDisconnect(err error) bool {
	m.mu.Lock()
	h := m.downHandler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(err)
	return true
}

// HandlerCount reports the number of registered per-room handlers.
func (m *MockTransport) HandlerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messageHandlers) + len(m.typingHandlers)
}
