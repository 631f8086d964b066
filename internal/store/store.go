// Package store is the single source of truth for chat state: the room
// list, per-room message lists, the user directory, connection status
// and typing sets. It mediates between the transport and REST layers
// and the view layer; views read state and dispatch through the action
// surface, nothing else writes.
package store

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"

	"github.com/fitchat/fitchat-client/internal/cache"
	"github.com/fitchat/fitchat-client/internal/protocol"
	"github.com/fitchat/fitchat-client/internal/rest"
	"github.com/fitchat/fitchat-client/internal/stats"
	"github.com/fitchat/fitchat-client/internal/transport"
	"github.com/fitchat/fitchat-client/internal/types"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

const (
	defaultReconnectBase     = time.Second
	defaultReconnectMax      = 30 * time.Second
	defaultReconnectAttempts = 8
)

type ChatStore struct {
	log   *log.Logger
	tp    transport.ChatTransport
	api   rest.Backend
	cache cache.SnapshotStore
	stats stats.StatsProvider

	// switchMu serializes room switches end to end so two racing
	// SetCurrentRoom calls cannot leave a dangling handler behind
	switchMu sync.Mutex

	mu                sync.RWMutex
	rooms             []types.Room
	currentRoomId     string
	messages          map[string][]types.Message
	users             []types.User
	currentUser       types.User
	status            Status
	typingUsers       map[string]map[string]struct{}
	isLoading         bool
	isLoadingMessages bool
	isLoadingUsers    bool
	lastErr           string

	reconnectBase     time.Duration
	reconnectMax      time.Duration
	reconnectAttempts int
}

func NewChatStore(tp transport.ChatTransport, api rest.Backend, snap cache.SnapshotStore, st stats.StatsProvider, logger *log.Logger) *ChatStore {
	return &ChatStore{
		log:               logger,
		tp:                tp,
		api:               api,
		cache:             snap,
		stats:             st,
		messages:          make(map[string][]types.Message),
		typingUsers:       make(map[string]map[string]struct{}),
		status:            StatusDisconnected,
		reconnectBase:     defaultReconnectBase,
		reconnectMax:      defaultReconnectMax,
		reconnectAttempts: defaultReconnectAttempts,
	}
}

// Hydrate loads the persisted snapshot so the room list and message
// history render before any network activity. A missing snapshot is
// not an error.
func (s *ChatStore) Hydrate() error {
	snap, err := s.cache.Load()
	if err != nil {
		if err == cache.ErrNoSnapshot {
			return nil
		}
		return fmt.Errorf("hydrate: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms = snap.Rooms
	s.users = snap.Users
	if snap.Messages != nil {
		s.messages = snap.Messages
	}

	return nil
}

// Connect opens the live connection for the given user, then fetches
// the user and room directories concurrently. It never reports
// connected on failure.
func (s *ChatStore) Connect(ctx context.Context, userId string) error {
	s.mu.Lock()
	if s.status == StatusConnected || s.status == StatusConnecting {
		s.mu.Unlock()
		return fmt.Errorf("connect: already %s", s.status)
	}
	s.status = StatusConnecting
	s.isLoading = true
	s.lastErr = ""
	s.mu.Unlock()

	// cached state first, so the UI has rooms and history even if the
	// dial or the directory fetch below fails
	if err := s.Hydrate(); err != nil {
		s.log.Println("hydrate:", err)
	}

	// global handlers are registered ahead of the dial; the registry
	// outlives connections, so a socket dropped before Connect returns
	// still reaches the reconnect path
	s.tp.OnUserStatusChange(func(sc protocol.UserStatusChange) {
		s.applyStatusChange(sc)
		go s.refreshUsers(context.Background())
	})
	s.tp.OnDisconnect(func(cause error) {
		go s.reconnect(cause)
	})

	if err := s.tp.Connect(ctx, userId); err != nil {
		s.failConnect(fmt.Sprintf("failed to connect: %v", err))
		return err
	}

	var wg sync.WaitGroup
	var usersErr, roomsErr error
	var users []types.User
	var rooms []types.Room

	wg.Add(2)
	go func() {
		defer wg.Done()
		users, usersErr = s.api.GetUsers(ctx)
	}()
	go func() {
		defer wg.Done()
		rooms, roomsErr = s.api.GetRooms(ctx)
	}()
	wg.Wait()

	if usersErr != nil || roomsErr != nil {
		err := usersErr
		if err == nil {
			err = roomsErr
		}
		s.tp.Disconnect()
		s.failConnect(fmt.Sprintf("failed to load directory: %v", err))
		return err
	}

	s.mu.Lock()
	s.users = users
	s.rooms = rooms
	s.currentUser = types.User{ID: userId}
	for _, u := range users {
		if u.ID == userId {
			s.currentUser = u
			break
		}
	}
	s.status = StatusConnected
	s.isLoading = false
	s.persistLocked()
	s.mu.Unlock()

	return nil
}

func (s *ChatStore) failConnect(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = msg
	s.isLoading = false
	s.status = StatusDisconnected
}

// Disconnect leaves the active room, clears all per-room handlers and
// closes the live connection. Ephemeral state is dropped; cached state
// stays on disk.
func (s *ChatStore) Disconnect() {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	current := s.currentRoomId
	s.currentRoomId = ""
	s.typingUsers = make(map[string]map[string]struct{})
	s.status = StatusDisconnected
	s.mu.Unlock()

	if current != "" {
		if err := s.tp.LeaveRoom(current); err != nil {
			s.log.Println("leave room on disconnect:", err)
		}
	}
	s.tp.ClearHandlers()
	s.tp.Disconnect()
}

// SetCurrentRoom switches the active room. The previous room is left
// and its handler slots cleared before the new room's handlers are
// registered and its join frame is sent, so no event can be delivered
// to a stale handler or the wrong room's handler.
func (s *ChatStore) SetCurrentRoom(roomId string) error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	prev := s.currentRoomId
	s.mu.Unlock()

	if prev != "" {
		if err := s.tp.LeaveRoom(prev); err != nil {
			s.log.Printf("leave room %q: %v", prev, err)
		}
		s.tp.RemoveMessageHandler(prev)
		s.tp.RemoveTypingHandler(prev)
	}

	s.tp.OnMessage(roomId, func(w protocol.WireMessage) {
		s.stats.Incr(stats.MessagesReceived)
		s.AddMessage(w.RoomID, w.ToMessage())
	})
	s.tp.OnTyping(roomId, func(ti protocol.TypingIndicator) {
		s.SetTypingIndicator(ti.RoomID, ti.UserID, ti.IsTyping)
	})

	if err := s.tp.JoinRoom(roomId); err != nil {
		s.tp.RemoveMessageHandler(roomId)
		s.tp.RemoveTypingHandler(roomId)
		s.setErr(fmt.Sprintf("failed to join room: %v", err))
		return err
	}
	s.stats.Incr(stats.RoomsJoined)

	s.mu.Lock()
	s.currentRoomId = roomId

	var unreadIds []string
	msgs := s.messages[roomId]
	for i := range msgs {
		if !msgs[i].IsRead && msgs[i].SenderID != s.currentUser.ID {
			unreadIds = append(unreadIds, msgs[i].ID)
		}
		msgs[i].IsRead = true
	}
	for i := range s.rooms {
		if s.rooms[i].ID == roomId {
			s.rooms[i].UnreadCount = 0
			break
		}
	}
	s.persistLocked()
	s.mu.Unlock()

	if len(unreadIds) > 0 {
		if err := s.tp.MarkMessagesAsRead(roomId, unreadIds); err != nil {
			s.log.Printf("mark messages read in %q: %v", roomId, err)
		}
	}

	return nil
}

// AddMessage is the single funnel through which every message enters
// state, locally sent or remotely received. It appends in arrival
// order, keeps the room's last-message pointer current and bumps the
// unread count unless the sender is the local user. A message arriving
// without an id gets a client-local id and timestamp; server-assigned
// identity is preserved verbatim.
func (s *ChatStore) AddMessage(roomId string, msg types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = newLocalId()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.RoomID = roomId

	s.messages[roomId] = append(s.messages[roomId], msg)

	for i := range s.rooms {
		if s.rooms[i].ID != roomId {
			continue
		}
		last := msg
		s.rooms[i].LastMessage = &last
		if msg.SenderID != s.currentUser.ID {
			s.rooms[i].UnreadCount++
		}
		break
	}

	s.persistLocked()
}

func newLocalId() string {
	id, err := shortid.Generate()
	if err != nil {
		return uuid.NewString()
	}
	return id
}

func (s *ChatStore) SendMessage(roomId, content string) {
	if err := s.tp.SendMessage(roomId, content); err != nil {
		s.stats.Incr(stats.SendErrors)
		s.setErr(fmt.Sprintf("failed to send message: %v", err))
		return
	}
	s.stats.Incr(stats.MessagesSent)
}

func (s *ChatStore) SendImage(roomId string, file transport.File) {
	if err := s.tp.SendImage(roomId, file); err != nil {
		s.stats.Incr(stats.SendErrors)
		s.setErr(fmt.Sprintf("failed to send image: %v", err))
		return
	}
	s.stats.Incr(stats.MessagesSent)
}

func (s *ChatStore) SendFile(roomId string, file transport.File) {
	if err := s.tp.SendFile(roomId, file); err != nil {
		s.stats.Incr(stats.SendErrors)
		s.setErr(fmt.Sprintf("failed to send file: %v", err))
		return
	}
	s.stats.Incr(stats.MessagesSent)
}

func (s *ChatStore) ShareFitnessData(roomId string, data *types.FitnessSnapshot) {
	if err := s.tp.ShareFitnessData(roomId, data); err != nil {
		s.stats.Incr(stats.SendErrors)
		s.setErr(fmt.Sprintf("failed to share fitness data: %v", err))
		return
	}
	s.stats.Incr(stats.MessagesSent)
}

func (s *ChatStore) SendTypingIndicator(roomId string, isTyping bool) {
	if err := s.tp.SendTypingIndicator(roomId, isTyping); err != nil {
		s.log.Printf("typing indicator for %q: %v", roomId, err)
	}
}

// CreateRoom persists the room on the backend and appends the result
// locally. There is no optimistic creation: a failed call leaves the
// room list untouched, so local-only rooms can't diverge from the
// backend's identifiers.
func (s *ChatStore) CreateRoom(ctx context.Context, params rest.CreateRoomParams) (types.Room, error) {
	room, err := s.api.CreateRoom(ctx, params)
	if err != nil {
		s.setErr(fmt.Sprintf("failed to create room: %v", err))
		return types.Room{}, err
	}

	room.UnreadCount = 0

	s.mu.Lock()
	s.rooms = append(s.rooms, room)
	s.persistLocked()
	s.mu.Unlock()

	return room, nil
}

// LoadRoomMessages fetches one page of history for a room, replacing
// the local list. A failure keeps whatever the cache already held.
func (s *ChatStore) LoadRoomMessages(ctx context.Context, roomId string, limit, offset int) error {
	s.mu.Lock()
	s.isLoadingMessages = true
	s.mu.Unlock()

	msgs, err := s.api.GetRoomMessages(ctx, roomId, limit, offset)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.isLoadingMessages = false

	if err != nil {
		s.lastErr = fmt.Sprintf("failed to load messages: %v", err)
		return err
	}

	s.messages[roomId] = msgs
	if len(msgs) > 0 {
		for i := range s.rooms {
			if s.rooms[i].ID == roomId {
				last := msgs[len(msgs)-1]
				s.rooms[i].LastMessage = &last
				break
			}
		}
	}
	s.persistLocked()

	return nil
}

// MarkAsRead flips a single message's read flag and recomputes the
// room's unread count from it.
func (s *ChatStore) MarkAsRead(roomId, messageId string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[roomId]
	found := false
	for i := range msgs {
		if msgs[i].ID == messageId {
			msgs[i].IsRead = true
			found = true
			break
		}
	}
	if !found {
		return
	}

	unread := 0
	for i := range msgs {
		if !msgs[i].IsRead && msgs[i].SenderID != s.currentUser.ID {
			unread++
		}
	}
	for i := range s.rooms {
		if s.rooms[i].ID == roomId {
			s.rooms[i].UnreadCount = unread
			break
		}
	}

	s.persistLocked()
}

// UpdateRoom replaces a room's metadata in place. Persisting the
// change to the backend is the caller's concern.
func (s *ChatStore) UpdateRoom(room types.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rooms {
		if s.rooms[i].ID == room.ID {
			s.rooms[i] = room
			s.persistLocked()
			return
		}
	}
}

// DeleteRoom removes a room and its history locally.
func (s *ChatStore) DeleteRoom(roomId string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rooms {
		if s.rooms[i].ID == roomId {
			s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
			break
		}
	}
	delete(s.messages, roomId)
	delete(s.typingUsers, roomId)
	if s.currentRoomId == roomId {
		s.currentRoomId = ""
	}

	s.persistLocked()
}

// SetTypingIndicator adds or removes a user from a room's typing set.
// Typing sets are ephemeral UI state and are never persisted.
func (s *ChatStore) SetTypingIndicator(roomId, userId string, isTyping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.typingUsers[roomId]
	if isTyping {
		if set == nil {
			set = make(map[string]struct{})
			s.typingUsers[roomId] = set
		}
		set[userId] = struct{}{}
		return
	}

	if set != nil {
		delete(set, userId)
		if len(set) == 0 {
			delete(s.typingUsers, roomId)
		}
	}
}

func (s *ChatStore) applyStatusChange(sc protocol.UserStatusChange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for i := range s.users {
		if s.users[i].ID == sc.UserID {
			s.users[i].IsOnline = sc.IsOnline
			if !sc.IsOnline {
				s.users[i].LastSeen = &now
			}
			break
		}
	}
}

func (s *ChatStore) refreshUsers(ctx context.Context) {
	s.mu.Lock()
	s.isLoadingUsers = true
	s.mu.Unlock()

	users, err := s.api.GetUsers(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.isLoadingUsers = false

	if err != nil {
		s.lastErr = fmt.Sprintf("failed to refresh users: %v", err)
		return
	}

	s.users = users
	s.persistLocked()
}

// reconnect retries the live connection with bounded exponential
// backoff after an unexpected disconnect, re-joining the active room
// on success.
func (s *ChatStore) reconnect(cause error) {
	// a drop during the connecting phase must not be swallowed: wait
	// for Connect to settle, then recover only if it reported success
	for {
		s.mu.RLock()
		st := s.status
		s.mu.RUnlock()
		if st != StatusConnecting {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.mu.Lock()
	if s.status != StatusConnected {
		s.mu.Unlock()
		return
	}
	s.status = StatusReconnecting
	s.lastErr = fmt.Sprintf("connection lost: %v", cause)
	userId := s.currentUser.ID
	s.mu.Unlock()

	delay := s.reconnectBase
	for attempt := 1; attempt <= s.reconnectAttempts; attempt++ {
		time.Sleep(delay)

		s.mu.RLock()
		abandoned := s.status != StatusReconnecting
		s.mu.RUnlock()
		if abandoned {
			return
		}

		if err := s.tp.Connect(context.Background(), userId); err != nil {
			s.log.Printf("reconnect attempt %d: %v", attempt, err)
			delay *= 2
			if delay > s.reconnectMax {
				delay = s.reconnectMax
			}
			continue
		}

		s.stats.Incr(stats.Reconnects)

		s.mu.Lock()
		s.status = StatusConnected
		s.lastErr = ""
		current := s.currentRoomId
		s.mu.Unlock()

		// per-room handlers survived in the registry, so a re-join is
		// all the active room needs
		if current != "" {
			if err := s.tp.JoinRoom(current); err != nil {
				s.log.Printf("rejoin room %q: %v", current, err)
			}
		}
		return
	}

	s.mu.Lock()
	s.status = StatusDisconnected
	s.lastErr = fmt.Sprintf("connection lost, gave up after %d attempts", s.reconnectAttempts)
	s.mu.Unlock()
}

// persistLocked writes the durable allow-list (rooms, messages, users)
// to the cache. Callers must hold mu.
func (s *ChatStore) persistLocked() {
	snap := &cache.Snapshot{
		Rooms:    append([]types.Room(nil), s.rooms...),
		Messages: make(map[string][]types.Message, len(s.messages)),
		Users:    append([]types.User(nil), s.users...),
	}
	for roomId, msgs := range s.messages {
		snap.Messages[roomId] = append([]types.Message(nil), msgs...)
	}

	if err := s.cache.Save(snap); err != nil {
		s.log.Println("persist snapshot:", err)
	}
}

func (s *ChatStore) setErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = msg
}

// ClearError resets the error banner state.
func (s *ChatStore) ClearError() {
	s.setErr("")
}

// Accessors return copies so callers can iterate without holding the
// store's lock.

func (s *ChatStore) Rooms() []types.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Room(nil), s.rooms...)
}

func (s *ChatStore) Room(roomId string) (types.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.rooms {
		if s.rooms[i].ID == roomId {
			return s.rooms[i], true
		}
	}
	return types.Room{}, false
}

func (s *ChatStore) Messages(roomId string) []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Message(nil), s.messages[roomId]...)
}

func (s *ChatStore) Users() []types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.User(nil), s.users...)
}

func (s *ChatStore) CurrentUser() types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUser
}

func (s *ChatStore) CurrentRoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRoomId
}

func (s *ChatStore) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *ChatStore) IsConnected() bool {
	return s.Status() == StatusConnected
}

func (s *ChatStore) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isLoading
}

func (s *ChatStore) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *ChatStore) TypingUsers(roomId string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.typingUsers[roomId]
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
