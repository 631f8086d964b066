package types

import (
	"time"
)

type RoomKind string

const (
	RoomDirect RoomKind = "direct"
	RoomGroup  RoomKind = "group"
)

type MessageType string

const (
	MessageText    MessageType = "text"
	MessageImage   MessageType = "image"
	MessageFile    MessageType = "file"
	MessageFitness MessageType = "fitness_data"
)

type User struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Avatar   string     `json:"avatar,omitempty"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type Room struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Avatar       string     `json:"avatar,omitempty"`
	Kind         RoomKind   `json:"kind"`
	Participants []string   `json:"participants"`
	LastMessage  *Message   `json:"last_message,omitempty"`
	UnreadCount  int        `json:"unread_count"`
	IsOnline     bool       `json:"is_online"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
}

// AdminID returns the admin of a group room, defined as the first
// participant. Direct rooms have no admin.
func (r *Room) AdminID() (string, bool) {
	if r.Kind != RoomGroup || len(r.Participants) == 0 {
		return "", false
	}
	return r.Participants[0], true
}

// HasParticipant reports whether userId is a member of the room.
func (r *Room) HasParticipant(userId string) bool {
	for _, p := range r.Participants {
		if p == userId {
			return true
		}
	}
	return false
}

// Attachment carries the file metadata for image and file messages.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// FitnessSnapshot is the structured payload of a fitness_data message.
type FitnessSnapshot struct {
	Steps       int     `json:"steps,omitempty"`
	Calories    int     `json:"calories,omitempty"`
	DistanceKM  float64 `json:"distance_km,omitempty"`
	WorkoutType string  `json:"workout_type,omitempty"`
	DurationMin int     `json:"duration_min,omitempty"`
	HeartRate   int     `json:"heart_rate,omitempty"`
	SleepHours  float64 `json:"sleep_hours,omitempty"`
	WeightKG    float64 `json:"weight_kg,omitempty"`
	BMI         float64 `json:"bmi,omitempty"`
}

// Message is one entry in a room's history. Type discriminates the
// content variant: Attachment is set only for image/file messages,
// Fitness only for fitness_data. Sender name and avatar are captured at
// send time rather than joined live against the user directory.
type Message struct {
	ID           string           `json:"id"`
	RoomID       string           `json:"room_id"`
	SenderID     string           `json:"sender_id"`
	SenderName   string           `json:"sender_name"`
	SenderAvatar string           `json:"sender_avatar,omitempty"`
	Type         MessageType      `json:"type"`
	Content      string           `json:"content"`
	Attachment   *Attachment      `json:"attachment,omitempty"`
	Fitness      *FitnessSnapshot `json:"fitness,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
	IsRead       bool             `json:"is_read"`
}
