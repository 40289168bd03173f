package chat

import (
	"net/http"
	"time"

	"github.com/doubthub/doubthub/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Select     *Select     `json:"select,omitempty"`
	Publish    *Publish    `json:"publish,omitempty"`
	CreateRoom *CreateRoom `json:"create_room,omitempty"`
	JoinRoom   *JoinRoom   `json:"join_room,omitempty"`
	DeleteRoom *DeleteRoom `json:"delete_room,omitempty"`
}

type Select struct {
	RoomId string `json:"room_id"`
}

type Publish struct {
	Content string `json:"content"`
}

type CreateRoom struct {
	Name string `json:"name"`
}

type JoinRoom struct {
	Code string `json:"code"`
}

type DeleteRoom struct {
	RoomId string `json:"room_id"`
	// Confirm carries the browser's interactive confirmation; deletion
	// is refused without it.
	Confirm bool `json:"confirm"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response        `json:"response,omitempty"`
	Profile      *types.User      `json:"profile,omitempty"`
	RoomList     *RoomList        `json:"room_list,omitempty"`
	Participants *ParticipantList `json:"participants,omitempty"`
	MessageList  *MessageList     `json:"message_list,omitempty"`
	Upload       *UploadStatus    `json:"upload,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

// RoomList is the room directory snapshot plus the active selection.
type RoomList struct {
	Rooms    []types.Room `json:"rooms"`
	ActiveId string       `json:"active_id,omitempty"`
	// ResetUI tells the browser to drop transient navigation state
	// (e.g. the mobile sidebar). Pending composer text is never cleared.
	ResetUI bool `json:"reset_ui,omitempty"`
}

type ParticipantList struct {
	RoomId       string              `json:"room_id"`
	Participants []types.Participant `json:"participants"`
}

type MessageList struct {
	RoomId   string          `json:"room_id,omitempty"`
	Messages []types.Message `json:"messages"`
	Degraded bool            `json:"degraded,omitempty"`
	// ScrollToLatest is a deferred side effect for the browser's render pass.
	ScrollToLatest bool `json:"scroll_to_latest"`
}

type UploadStatus struct {
	Id        string `json:"id"`
	Progress  int    `json:"progress"`
	Uploading bool   `json:"uploading"`
	Error     string `json:"error,omitempty"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

// Warn is a user-visible warning; the operation was refused before any write.
func Warn(id int, text string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        text,
		},
	}
}

func ErrPermissionDenied(id int, text string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        text,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
