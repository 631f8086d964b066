// Package protocol defines the frames exchanged with the chat backend
// over the live connection. Outbound frames carry a type discriminator
// in a single flat struct; inbound events arrive as an envelope with
// one payload pointer set per event kind.
package protocol

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/fitchat/fitchat-client/internal/types"
)

const (
	FrameJoinRoom     = "join_room"
	FrameLeaveRoom    = "leave_room"
	FrameMessage      = "message"
	FrameShareFitness = "share_fitness"
	FrameTyping       = "typing"
	FrameReadMessages = "read_messages"
)

const (
	EventNewMessage       = "new_message"
	EventTypingIndicator  = "typing_indicator"
	EventUserStatusChange = "user_status_change"
)

// FileData is the base64-encoded payload attached to image and file
// frames.
type FileData struct {
	Data     string `json:"data"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type"`
}

// Frame is one outbound message on the live connection.
type Frame struct {
	Type        string                 `json:"type"`
	RoomID      string                 `json:"room_id,omitempty"`
	Content     string                 `json:"content,omitempty"`
	MessageType types.MessageType      `json:"message_type,omitempty"`
	FileData    *FileData              `json:"file_data,omitempty"`
	FitnessData *types.FitnessSnapshot `json:"fitness_data,omitempty"`
	IsTyping    *bool                  `json:"is_typing,omitempty"`
	MessageIDs  []string               `json:"message_ids,omitempty"`
}

func JoinRoomFrame(roomId string) *Frame {
	return &Frame{Type: FrameJoinRoom, RoomID: roomId}
}

func LeaveRoomFrame(roomId string) *Frame {
	return &Frame{Type: FrameLeaveRoom, RoomID: roomId}
}

func TextMessageFrame(roomId, content string) *Frame {
	return &Frame{
		Type:        FrameMessage,
		RoomID:      roomId,
		Content:     content,
		MessageType: types.MessageText,
	}
}

func FileMessageFrame(roomId string, msgType types.MessageType, fd *FileData) *Frame {
	return &Frame{
		Type:        FrameMessage,
		RoomID:      roomId,
		MessageType: msgType,
		FileData:    fd,
	}
}

func ShareFitnessFrame(roomId string, data *types.FitnessSnapshot) *Frame {
	return &Frame{Type: FrameShareFitness, RoomID: roomId, FitnessData: data}
}

func TypingFrame(roomId string, isTyping bool) *Frame {
	return &Frame{Type: FrameTyping, RoomID: roomId, IsTyping: &isTyping}
}

func ReadMessagesFrame(roomId string, messageIds []string) *Frame {
	return &Frame{Type: FrameReadMessages, RoomID: roomId, MessageIDs: messageIds}
}

// WireMessage is a chat message as the server sends it. Timestamp is an
// RFC3339 string on the wire.
type WireMessage struct {
	ID           string                 `json:"id"`
	RoomID       string                 `json:"room_id"`
	SenderID     string                 `json:"sender_id"`
	SenderName   string                 `json:"sender_name"`
	SenderAvatar string                 `json:"sender_avatar,omitempty"`
	Content      string                 `json:"content"`
	MessageType  types.MessageType      `json:"message_type"`
	FileURL      string                 `json:"file_url,omitempty"`
	FileName     string                 `json:"file_name,omitempty"`
	FileSize     int64                  `json:"file_size,omitempty"`
	FileType     string                 `json:"file_type,omitempty"`
	FitnessData  *types.FitnessSnapshot `json:"fitness_data,omitempty"`
	Timestamp    string                 `json:"timestamp"`
	IsRead       bool                   `json:"is_read"`
}

// ToMessage maps a wire message into the local shape, preserving the
// server-assigned id verbatim. A timestamp that fails to parse maps to
// the zero time and is filled in by the store.
func (w *WireMessage) ToMessage() types.Message {
	msg := types.Message{
		ID:           w.ID,
		RoomID:       w.RoomID,
		SenderID:     w.SenderID,
		SenderName:   w.SenderName,
		SenderAvatar: w.SenderAvatar,
		Type:         w.MessageType,
		Content:      w.Content,
		Fitness:      w.FitnessData,
		IsRead:       w.IsRead,
	}

	if ts, err := time.Parse(time.RFC3339, w.Timestamp); err == nil {
		msg.Timestamp = ts
	}

	switch w.MessageType {
	case types.MessageImage, types.MessageFile:
		msg.Attachment = &types.Attachment{
			URL:      w.FileURL,
			Name:     w.FileName,
			Size:     w.FileSize,
			MimeType: w.FileType,
		}
	}

	return msg
}

type NewMessage struct {
	Message WireMessage `json:"message"`
}

type TypingIndicator struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type UserStatusChange struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

// Event is one inbound message on the live connection. Exactly one
// payload field is set for a known Type; unknown types decode with all
// payloads nil and are dropped by the dispatcher.
type Event struct {
	Type             string            `json:"type"`
	NewMessage       *NewMessage       `json:"-"`
	TypingIndicator  *TypingIndicator  `json:"-"`
	UserStatusChange *UserStatusChange `json:"-"`
}

// DecodeEvent parses an inbound frame. The payload sits beside the type
// discriminator at the top level, so the raw bytes are decoded a second
// time into the variant matching the discriminator.
func DecodeEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}

	switch ev.Type {
	case EventNewMessage:
		var nm NewMessage
		if err := json.Unmarshal(raw, &nm); err != nil {
			return nil, err
		}
		ev.NewMessage = &nm
	case EventTypingIndicator:
		var ti TypingIndicator
		if err := json.Unmarshal(raw, &ti); err != nil {
			return nil, err
		}
		ev.TypingIndicator = &ti
	case EventUserStatusChange:
		var sc UserStatusChange
		if err := json.Unmarshal(raw, &sc); err != nil {
			return nil, err
		}
		ev.UserStatusChange = &sc
	}

	return &ev, nil
}

// EncodeFrame serializes an outbound frame.
func EncodeFrame(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}
