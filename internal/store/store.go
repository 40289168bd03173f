package store

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNotFound is returned by point reads when no record matches.
var ErrNotFound = errors.New("not found")

// IsIndexError reports whether an error from an ordered subscription
// indicates a missing or unusable index. The message feed uses it to
// decide whether to fall back to an unordered subscription.
func IsIndexError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "index")
}

// Repository is the document store consumed by the chat service.
// Live subscriptions deliver whole-result-set snapshots, never deltas.
type Repository interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	GetRoom(ctx context.Context, id string) (Room, error)
	GetRoomByCode(ctx context.Context, code string) (Room, error)
	DeleteRoom(ctx context.Context, id string) error

	CreateMembership(ctx context.Context, roomId, userId string) (Membership, error)
	MembershipExists(ctx context.Context, roomId, userId string) (bool, error)
	ListMembershipsByUser(ctx context.Context, userId string) ([]Membership, error)
	DeleteMembershipsByRoom(ctx context.Context, roomId string) error

	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	ListMessages(ctx context.Context, roomId string, ordered bool) ([]Message, error)
	DeleteMessagesByRoom(ctx context.Context, roomId string) error

	WatchMembershipsByUser(ctx context.Context, userId string) (*MembershipSub, error)
	WatchMembershipsByRoom(ctx context.Context, roomId string) (*MembershipSub, error)
	WatchMessages(ctx context.Context, roomId string, ordered bool) (*MessageSub, error)
}

// MembershipSub is a live subscription over membership records.
// Each value on C is the full matching result set.
type MembershipSub struct {
	C    chan []Membership
	Errs chan error

	stop chan struct{}
	once sync.Once
}

func NewMembershipSub() *MembershipSub {
	return &MembershipSub{
		C:    make(chan []Membership, 1),
		Errs: make(chan error, 1),
		stop: make(chan struct{}),
	}
}

// Close releases the subscription. It is safe to call more than once.
func (s *MembershipSub) Close() {
	s.once.Do(func() { close(s.stop) })
}

// Done is closed once the subscription has been released.
func (s *MembershipSub) Done() <-chan struct{} {
	return s.stop
}

// MessageSub is a live subscription over a room's messages.
// Each value on C is the full matching result set.
type MessageSub struct {
	C    chan []Message
	Errs chan error

	stop chan struct{}
	once sync.Once
}

func NewMessageSub() *MessageSub {
	return &MessageSub{
		C:    make(chan []Message, 1),
		Errs: make(chan error, 1),
		stop: make(chan struct{}),
	}
}

func (s *MessageSub) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *MessageSub) Done() <-chan struct{} {
	return s.stop
}
