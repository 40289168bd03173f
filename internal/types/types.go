package types

import (
	"time"
)

const (
	RoleAdmin       = "Admin"
	RoleParticipant = "Participant"

	// Placeholder labels used when a profile could not be resolved.
	UnknownName = "Unknown User"
	UnknownRole = "Unknown Role"
)

type User struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Email     string    `json:"email,omitempty"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Room struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Participant is a room membership resolved for display.
type Participant struct {
	Id     string `json:"id"`
	UserId string `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// Attachment describes an uploaded asset referenced by a message.
type Attachment struct {
	URL      string `json:"file"`
	MimeType string `json:"file_type"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type Message struct {
	Id         string      `json:"id"`
	RoomId     string      `json:"room_id,omitempty"`
	UserId     string      `json:"uid"`
	SenderName string      `json:"sender_name"`
	SenderRole string      `json:"sender_role"`
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}
