package chat

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/doubthub/doubthub/internal/media"
	"github.com/doubthub/doubthub/internal/stats"
	"github.com/doubthub/doubthub/internal/store"
	"github.com/doubthub/doubthub/internal/types"
)

const (
	statActiveSessions    = "ActiveSessions"
	statOpenSubscriptions = "OpenSubscriptions"
	statMessagesSent      = "MessagesSent"
	statUploadsStarted    = "UploadsStarted"
	statUploadsFailed     = "UploadsFailed"
	statRoomsCreated      = "RoomsCreated"
	statRoomsDeleted      = "RoomsDeleted"
)

// ChatServer tracks the live sessions, one per connected client.
type ChatServer struct {
	log      *log.Logger
	db       store.Repository
	uploader *media.Uploader
	stats    stats.StatsProvider

	sessionsLock sync.Mutex
	sessions     map[*Session]struct{}
	byUser       map[string]map[*Session]struct{}
}

func NewChatServer(logger *log.Logger, db store.Repository, uploader *media.Uploader, su stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:      logger,
		db:       db,
		uploader: uploader,
		stats:    su,
		sessions: make(map[*Session]struct{}),
		byUser:   make(map[string]map[*Session]struct{}),
	}

	for _, name := range []string{
		statActiveSessions,
		statOpenSubscriptions,
		statMessagesSent,
		statUploadsStarted,
		statUploadsFailed,
		statRoomsCreated,
		statRoomsDeleted,
	} {
		su.RegisterMetric(name)
	}

	return cs, nil
}

// StartSession creates and starts a session for an authenticated user.
func (cs *ChatServer) StartSession(ctx context.Context, user types.User) (*Session, error) {
	s := newSession(cs, user)
	if err := s.start(ctx); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	cs.addSession(s)
	cs.stats.Incr(statActiveSessions)
	cs.log.Printf("started session for %q", user.Id)

	return s, nil
}

// RemoveSession stops a session and drops it from the registry.
func (cs *ChatServer) RemoveSession(s *Session) {
	cs.sessionsLock.Lock()
	_, ok := cs.sessions[s]
	if ok {
		delete(cs.sessions, s)
		if userSessions, found := cs.byUser[s.UserId()]; found {
			delete(userSessions, s)
			if len(userSessions) == 0 {
				delete(cs.byUser, s.UserId())
			}
		}
	}
	cs.sessionsLock.Unlock()

	if ok {
		s.Stop()
		cs.stats.Decr(statActiveSessions)
		cs.log.Printf("removed session for %q", s.UserId())
	}
}

// SessionForUser returns one live session for the user, or nil.
func (cs *ChatServer) SessionForUser(userId string) *Session {
	cs.sessionsLock.Lock()
	defer cs.sessionsLock.Unlock()

	for s := range cs.byUser[userId] {
		return s
	}
	return nil
}

func (cs *ChatServer) addSession(s *Session) {
	cs.sessionsLock.Lock()
	defer cs.sessionsLock.Unlock()

	cs.sessions[s] = struct{}{}
	if cs.byUser[s.UserId()] == nil {
		cs.byUser[s.UserId()] = make(map[*Session]struct{})
	}
	cs.byUser[s.UserId()][s] = struct{}{}
}

// Shutdown stops every session and waits for them to drain, bounded by ctx.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.sessionsLock.Lock()
	sessions := make([]*Session, 0, len(cs.sessions))
	for s := range cs.sessions {
		sessions = append(sessions, s)
	}
	cs.sessionsLock.Unlock()

	for _, s := range sessions {
		s.Stop()
	}

	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
