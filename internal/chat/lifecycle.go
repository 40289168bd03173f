package chat

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/doubthub/doubthub/internal/store"
	"github.com/doubthub/doubthub/internal/types"
)

const (
	joinCodeLength   = 6
	joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	defaultRoomName = "New Room"
)

// generateJoinCode returns a short human-typed code, uppercase alphanumeric.
func generateJoinCode() (string, error) {
	buf := make([]byte, joinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}

	for i, b := range buf {
		buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}

	return string(buf), nil
}

// handleCreateRoom creates a room and the creator's membership, then makes
// the new room the active selection. Admin only.
func (s *Session) handleCreateRoom(ctx context.Context, op *ClientMessage) {
	if s.user.Role != types.RoleAdmin {
		s.queueMessage(ErrPermissionDenied(op.Id, "Only admins can create rooms."))
		return
	}

	name := strings.TrimSpace(op.CreateRoom.Name)
	if name == "" {
		name = defaultRoomName
	}

	code, err := generateJoinCode()
	if err != nil {
		s.log.Printf("generate join code: %v", err)
		s.queueMessage(ErrInternalError(op.Id))
		return
	}

	room, err := s.db.CreateRoom(ctx, store.CreateRoomParams{
		Name:      name,
		Code:      code,
		CreatedBy: s.user.Id,
	})
	if err != nil {
		s.log.Printf("create room: %v", err)
		s.queueMessage(ErrInternalError(op.Id))
		return
	}

	if _, err := s.db.CreateMembership(ctx, room.Id, s.user.Id); err != nil {
		s.log.Printf("create membership: %v", err)
		s.queueMessage(ErrInternalError(op.Id))
		return
	}

	s.stats.Incr(statRoomsCreated)
	s.selectNewRoom(ctx, types.Room{
		Id:        room.Id,
		Name:      room.Name,
		Code:      room.Code,
		CreatedBy: room.CreatedBy,
		CreatedAt: room.CreatedAt,
	})

	s.queueMessage(NoErrOK(op.Id, types.Room{
		Id:        room.Id,
		Name:      room.Name,
		Code:      room.Code,
		CreatedBy: room.CreatedBy,
		CreatedAt: room.CreatedAt,
	}))
}

// handleJoinRoom looks up a room by join code, case-insensitive and
// whitespace-trimmed. Rejoining a room the user already belongs to does
// not duplicate the membership.
func (s *Session) handleJoinRoom(ctx context.Context, op *ClientMessage) {
	code := strings.ToUpper(strings.TrimSpace(op.JoinRoom.Code))
	if code == "" {
		return
	}

	room, err := s.db.GetRoomByCode(ctx, code)
	if err != nil {
		if err == store.ErrNotFound {
			s.queueMessage(Warn(op.Id, "Invalid room code."))
			return
		}
		s.log.Printf("lookup room by code: %v", err)
		s.queueMessage(ErrInternalError(op.Id))
		return
	}

	exists, err := s.db.MembershipExists(ctx, room.Id, s.user.Id)
	if err != nil {
		s.log.Printf("membership exists: %v", err)
		s.queueMessage(ErrInternalError(op.Id))
		return
	}
	if !exists {
		if _, err := s.db.CreateMembership(ctx, room.Id, s.user.Id); err != nil {
			s.log.Printf("create membership: %v", err)
			s.queueMessage(ErrInternalError(op.Id))
			return
		}
	}

	s.selectNewRoom(ctx, types.Room{
		Id:        room.Id,
		Name:      room.Name,
		Code:      room.Code,
		CreatedBy: room.CreatedBy,
		CreatedAt: room.CreatedAt,
	})

	s.queueMessage(NoErrOK(op.Id, types.Room{
		Id:        room.Id,
		Name:      room.Name,
		Code:      room.Code,
		CreatedBy: room.CreatedBy,
		CreatedAt: room.CreatedAt,
	}))
}

// selectNewRoom makes a just-created or just-joined room the explicit
// selection without waiting for the directory subscription to catch up.
func (s *Session) selectNewRoom(ctx context.Context, room types.Room) {
	if !s.roomInDirectory(room.Id) {
		s.rooms = append(s.rooms, room)
	}

	s.explicit = true
	if s.active != room.Id {
		s.active = room.Id
		s.switchRoom(ctx)
	}
	s.publishRooms(true)
}

// handleDeleteRoom removes a room in three strictly sequential phases:
// memberships, then messages, then the room record. A failure mid-way
// aborts and leaves the remaining records in place.
func (s *Session) handleDeleteRoom(ctx context.Context, op *ClientMessage) {
	room, err := s.db.GetRoom(ctx, op.DeleteRoom.RoomId)
	if err != nil {
		if err == store.ErrNotFound {
			s.queueMessage(ErrRoomNotFound(op.Id))
			return
		}
		s.log.Printf("lookup room: %v", err)
		s.queueMessage(ErrInternalError(op.Id))
		return
	}

	if s.user.Role != types.RoleAdmin && room.CreatedBy != s.user.Id {
		s.queueMessage(ErrPermissionDenied(op.Id, "You don't have permission to delete this room."))
		return
	}

	if !op.DeleteRoom.Confirm {
		s.queueMessage(Warn(op.Id, "Deleting a room requires confirmation."))
		return
	}

	if err := s.db.DeleteMembershipsByRoom(ctx, room.Id); err != nil {
		s.log.Printf("delete memberships of %q: %v", room.Id, err)
		s.queueMessage(ErrInternalError(op.Id))
		return
	}
	if err := s.db.DeleteMessagesByRoom(ctx, room.Id); err != nil {
		s.log.Printf("delete messages of %q: %v", room.Id, err)
		s.queueMessage(ErrInternalError(op.Id))
		return
	}
	if err := s.db.DeleteRoom(ctx, room.Id); err != nil {
		s.log.Printf("delete room %q: %v", room.Id, err)
		s.queueMessage(ErrInternalError(op.Id))
		return
	}

	s.stats.Incr(statRoomsDeleted)

	// Update the local directory and selection immediately; the
	// membership subscription confirms shortly after.
	remaining := make([]types.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if r.Id != room.Id {
			remaining = append(remaining, r)
		}
	}
	s.applyDirectory(ctx, remaining)

	s.queueMessage(NoErrOK(op.Id, nil))
}
