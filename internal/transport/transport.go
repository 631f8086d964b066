// Package transport owns the single live WebSocket connection to the
// chat backend. It translates high-level chat operations into wire
// frames and dispatches inbound events to registered per-room handlers.
package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fitchat/fitchat-client/internal/protocol"
	"github.com/fitchat/fitchat-client/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendQueueSize  = 256
)

var (
	ErrNotConnected     = errors.New("transport: not connected")
	ErrAlreadyConnected = errors.New("transport: already connected")
)

type MessageHandler func(protocol.WireMessage)

type TypingHandler func(protocol.TypingIndicator)

type StatusHandler func(protocol.UserStatusChange)

type DisconnectHandler func(err error)

// File is a binary payload queued for an image or file send. Content is
// read in full and base64-encoded before any frame is emitted.
type File struct {
	Name     string
	MimeType string
	Content  io.Reader
}

// ChatTransport is the surface the state store drives. The store is
// responsible for not calling Connect while already connected.
type ChatTransport interface {
	Connect(ctx context.Context, userId string) error
	Disconnect()
	JoinRoom(roomId string) error
	LeaveRoom(roomId string) error
	SendMessage(roomId, content string) error
	SendImage(roomId string, file File) error
	SendFile(roomId string, file File) error
	ShareFitnessData(roomId string, data *types.FitnessSnapshot) error
	SendTypingIndicator(roomId string, isTyping bool) error
	MarkMessagesAsRead(roomId string, messageIds []string) error
	OnMessage(roomId string, h MessageHandler)
	OnTyping(roomId string, h TypingHandler)
	OnUserStatusChange(h StatusHandler)
	OnDisconnect(h DisconnectHandler)
	RemoveMessageHandler(roomId string)
	RemoveTypingHandler(roomId string)
	ClearHandlers()
}

type Client struct {
	wsURL string
	token string
	log   *log.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	send     chan []byte
	stop     chan struct{}
	downOnce *sync.Once

	handlersMu      sync.RWMutex
	messageHandlers map[string]MessageHandler
	typingHandlers  map[string]TypingHandler
	statusHandler   StatusHandler
	downHandler     DisconnectHandler
}

func NewClient(wsURL, token string, logger *log.Logger) *Client {
	return &Client{
		wsURL:           wsURL,
		token:           token,
		log:             logger,
		messageHandlers: make(map[string]MessageHandler),
		typingHandlers:  make(map[string]TypingHandler),
	}
}

// Connect dials the backend, tagging the connection with the user id
// and a fresh session id. It returns once the socket is open; a failed
// dial leaves no half-open connection behind.
func (c *Client) Connect(ctx context.Context, userId string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return ErrAlreadyConnected
	}

	u, err := url.Parse(c.wsURL)
	if err != nil {
		return fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", userId)
	q.Set("session_id", uuid.NewString())
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: writeWait}
	var header map[string][]string
	if c.token != "" {
		header = map[string][]string{"Authorization": {"Bearer " + c.token}}
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.Host, err)
	}

	c.conn = conn
	c.send = make(chan []byte, sendQueueSize)
	c.stop = make(chan struct{})
	c.downOnce = &sync.Once{}

	go c.writePump(conn, c.send, c.stop)
	go c.readPump(conn, c.downOnce)

	return nil
}

// Disconnect closes the connection and discards connection state. Safe
// to call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}

	// deliberate close, so the disconnect handler stays quiet
	c.downOnce.Do(func() {})

	close(c.stop)
	c.conn.Close()
	c.conn = nil
	c.send = nil
	c.stop = nil
}

func (c *Client) writePump(conn *websocket.Conn, send chan []byte, stop chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
		c.log.Println("write pump exiting")
	}()

	for {
		select {
		case raw, ok := <-send:
			if !ok {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure) {
					c.log.Printf("write message: %s", err)
				}
				return
			}
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn, once *sync.Once) {
	defer func() {
		conn.Close()
		c.log.Println("read pump exiting")
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws read: %v", err)
			}
			c.connectionLost(conn, once, err)
			return
		}

		ev, err := protocol.DecodeEvent(raw)
		if err != nil {
			c.log.Println("error parsing event:", err)
			continue
		}

		c.dispatch(ev)
	}
}

// connectionLost tears down connection state after an unexpected close
// and fires the disconnect handler exactly once per connection. The
// failing conn must still be the current one; a pump left over from an
// earlier connection finds c.conn already replaced and touches nothing.
func (c *Client) connectionLost(conn *websocket.Conn, once *sync.Once, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	close(c.stop)
	c.conn.Close()
	c.conn = nil
	c.send = nil
	c.stop = nil
	c.mu.Unlock()

	if once == nil {
		return
	}

	once.Do(func() {
		c.handlersMu.RLock()
		h := c.downHandler
		c.handlersMu.RUnlock()
		if h != nil {
			h(err)
		}
	})
}

func (c *Client) dispatch(ev *protocol.Event) {
	switch {
	case ev.NewMessage != nil:
		c.handlersMu.RLock()
		h := c.messageHandlers[ev.NewMessage.Message.RoomID]
		c.handlersMu.RUnlock()
		if h != nil {
			h(ev.NewMessage.Message)
		}
	case ev.TypingIndicator != nil:
		c.handlersMu.RLock()
		h := c.typingHandlers[ev.TypingIndicator.RoomID]
		c.handlersMu.RUnlock()
		if h != nil {
			h(*ev.TypingIndicator)
		}
	case ev.UserStatusChange != nil:
		c.handlersMu.RLock()
		h := c.statusHandler
		c.handlersMu.RUnlock()
		if h != nil {
			h(*ev.UserStatusChange)
		}
	default:
		// forward-compatibility: unknown event types are dropped
		c.log.Printf("dropping event with unknown type %q", ev.Type)
	}
}

func (c *Client) queueFrame(f *protocol.Frame) error {
	raw, err := protocol.EncodeFrame(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	select {
	case c.send <- raw:
		return nil
	default:
		return fmt.Errorf("send queue full, dropping %s frame", f.Type)
	}
}

func (c *Client) JoinRoom(roomId string) error {
	return c.queueFrame(protocol.JoinRoomFrame(roomId))
}

func (c *Client) LeaveRoom(roomId string) error {
	return c.queueFrame(protocol.LeaveRoomFrame(roomId))
}

func (c *Client) SendMessage(roomId, content string) error {
	return c.queueFrame(protocol.TextMessageFrame(roomId, content))
}

func (c *Client) SendImage(roomId string, file File) error {
	return c.sendFileFrame(roomId, types.MessageImage, file)
}

func (c *Client) SendFile(roomId string, file File) error {
	return c.sendFileFrame(roomId, types.MessageFile, file)
}

// sendFileFrame encodes the payload before emitting anything, so an
// encode failure never results in a partial frame.
func (c *Client) sendFileFrame(roomId string, msgType types.MessageType, file File) error {
	raw, err := io.ReadAll(file.Content)
	if err != nil {
		return fmt.Errorf("read file %q: %w", file.Name, err)
	}

	fd := &protocol.FileData{
		Data:     base64.StdEncoding.EncodeToString(raw),
		FileName: file.Name,
		FileSize: int64(len(raw)),
		FileType: file.MimeType,
	}

	return c.queueFrame(protocol.FileMessageFrame(roomId, msgType, fd))
}

func (c *Client) ShareFitnessData(roomId string, data *types.FitnessSnapshot) error {
	return c.queueFrame(protocol.ShareFitnessFrame(roomId, data))
}

func (c *Client) SendTypingIndicator(roomId string, isTyping bool) error {
	return c.queueFrame(protocol.TypingFrame(roomId, isTyping))
}

func (c *Client) MarkMessagesAsRead(roomId string, messageIds []string) error {
	return c.queueFrame(protocol.ReadMessagesFrame(roomId, messageIds))
}

// OnMessage registers the message handler for a room. At most one
// handler is active per room; registering again replaces it.
func (c *Client) OnMessage(roomId string, h MessageHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.messageHandlers[roomId] = h
}

func (c *Client) OnTyping(roomId string, h TypingHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.typingHandlers[roomId] = h
}

func (c *Client) OnUserStatusChange(h StatusHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.statusHandler = h
}

func (c *Client) OnDisconnect(h DisconnectHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.downHandler = h
}

func (c *Client) RemoveMessageHandler(roomId string) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	delete(c.messageHandlers, roomId)
}

func (c *Client) RemoveTypingHandler(roomId string) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	delete(c.typingHandlers, roomId)
}

// ClearHandlers empties the per-room handler registry. The global
// status and disconnect handlers survive room switches.
func (c *Client) ClearHandlers() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.messageHandlers = make(map[string]MessageHandler)
	c.typingHandlers = make(map[string]TypingHandler)
}

// HandlerCount reports the number of registered per-room handlers.
func (c *Client) HandlerCount() int {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	return len(c.messageHandlers) + len(c.typingHandlers)
}
