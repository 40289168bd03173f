package chat

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/doubthub/doubthub/internal/media"
	"github.com/doubthub/doubthub/internal/stats"
	"github.com/doubthub/doubthub/internal/store"
	"github.com/doubthub/doubthub/internal/types"
)

const (
	sendQueueSize = 256
	opQueueSize   = 64
)

const (
	dirResolved = iota
	partResolved
)

// resolvedEvent carries the outcome of a concurrent snapshot resolution
// back onto the session loop. Events from a superseded generation or a
// superseded room are discarded.
type resolvedEvent struct {
	kind         int
	gen          int
	epoch        int
	rooms        []types.Room
	participants []types.Participant
	roomId       string
}

// Session owns the live state for one connected client: the room
// directory, the active selection, the participant list and the message
// feed, all reconciled from store subscriptions on a single loop.
type Session struct {
	cs       *ChatServer
	log      *log.Logger
	db       store.Repository
	uploader *media.Uploader
	stats    stats.StatsProvider

	ctx  context.Context
	user types.User

	send     chan *ServerMessage
	ops      chan *ClientMessage
	attachCh chan *attachReq
	resolved chan resolvedEvent

	rooms    []types.Room
	active   string
	explicit bool
	degraded bool

	// epoch is bumped on every room switch; in-flight resolutions carry
	// the epoch they started under and are dropped when it has moved on.
	epoch int
	// dirGen is bumped per directory snapshot so only the newest
	// resolution publishes.
	dirGen int

	dirSub  *store.MembershipSub
	partSub *store.MembershipSub
	msgSub  *store.MessageSub

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newSession(cs *ChatServer, user types.User) *Session {
	return &Session{
		cs:       cs,
		log:      cs.log,
		db:       cs.db,
		uploader: cs.uploader,
		stats:    cs.stats,
		user:     user,
		send:     make(chan *ServerMessage, sendQueueSize),
		ops:      make(chan *ClientMessage, opQueueSize),
		attachCh: make(chan *attachReq),
		resolved: make(chan resolvedEvent, opQueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// start fetches the profile, publishes it and opens the directory
// subscription. A profile fetch failure is tolerated: downstream
// consumers fall back to placeholder labels.
func (s *Session) start(ctx context.Context) error {
	s.ctx = ctx

	user, err := s.db.GetUser(ctx, s.user.Id)
	if err != nil {
		s.log.Printf("fetch profile for %q: %v", s.user.Id, err)
	} else {
		s.user.Name = user.Name
		s.user.Role = user.Role
		s.user.Email = user.Email
		s.user.CreatedAt = user.CreatedAt
	}

	profile := s.user
	s.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Profile:     &profile,
	})

	sub, err := s.db.WatchMembershipsByUser(ctx, s.user.Id)
	if err != nil {
		return err
	}
	s.dirSub = sub
	s.stats.Incr(statOpenSubscriptions)

	go s.run(ctx)
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.teardown()

	for {
		var (
			dirC  chan []store.Membership
			partC chan []store.Membership
			msgC  chan []store.Message
			msgE  chan error
		)
		if s.dirSub != nil {
			dirC = s.dirSub.C
		}
		if s.partSub != nil {
			partC = s.partSub.C
		}
		if s.msgSub != nil {
			msgC = s.msgSub.C
			msgE = s.msgSub.Errs
		}

		select {
		case snap := <-dirC:
			s.resolveDirectory(ctx, snap)
		case snap := <-partC:
			s.resolveParticipants(ctx, snap)
		case snap := <-msgC:
			s.publishMessages(snap)
		case err := <-msgE:
			s.handleFeedError(ctx, err)
		case ev := <-s.resolved:
			s.applyResolved(ctx, ev)
		case op := <-s.ops:
			s.handleOp(ctx, op)
		case req := <-s.attachCh:
			s.handleAttach(ctx, req)
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		}
	}
}

// Dispatch hands an incoming client operation to the session loop.
// It reports false when the session is overloaded.
func (s *Session) Dispatch(msg *ClientMessage) bool {
	select {
	case s.ops <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) Send() <-chan *ServerMessage {
	return s.send
}

func (s *Session) UserId() string {
	return s.user.Id
}

func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) teardown() {
	if s.dirSub != nil {
		s.dirSub.Close()
		s.dirSub = nil
		s.stats.Decr(statOpenSubscriptions)
	}
	s.closeRoomSubs()
}

func (s *Session) closeRoomSubs() {
	if s.partSub != nil {
		s.partSub.Close()
		s.partSub = nil
		s.stats.Decr(statOpenSubscriptions)
	}
	if s.msgSub != nil {
		s.msgSub.Close()
		s.msgSub = nil
		s.stats.Decr(statOpenSubscriptions)
	}
}

func (s *Session) handleOp(ctx context.Context, op *ClientMessage) {
	switch {
	case op.Select != nil:
		s.handleSelect(ctx, op)
	case op.Publish != nil:
		s.handlePublish(ctx, op)
	case op.CreateRoom != nil:
		s.handleCreateRoom(ctx, op)
	case op.JoinRoom != nil:
		s.handleJoinRoom(ctx, op)
	case op.DeleteRoom != nil:
		s.handleDeleteRoom(ctx, op)
	default:
		s.queueMessage(ErrInvalidMessage(op.Id))
	}
}

// handleSelect applies an explicit user selection, which always wins.
func (s *Session) handleSelect(ctx context.Context, op *ClientMessage) {
	roomId := op.Select.RoomId
	if roomId != "" && !s.roomInDirectory(roomId) {
		s.queueMessage(ErrRoomNotFound(op.Id))
		return
	}

	s.explicit = roomId != ""
	if roomId != s.active {
		s.active = roomId
		s.switchRoom(ctx)
	}
	s.publishRooms(true)
	s.queueMessage(NoErrOK(op.Id, nil))
}

// resolveDirectory dedups the membership snapshot's room ids and resolves
// each into a room record concurrently. The resolved list is published
// only after every lookup completes; rooms that no longer exist are
// silently dropped.
func (s *Session) resolveDirectory(ctx context.Context, snap []store.Membership) {
	s.dirGen++
	gen := s.dirGen

	seen := make(map[string]struct{}, len(snap))
	var roomIds []string
	for _, m := range snap {
		if _, ok := seen[m.RoomId]; ok {
			continue
		}
		seen[m.RoomId] = struct{}{}
		roomIds = append(roomIds, m.RoomId)
	}

	go func() {
		resolved := make([]*types.Room, len(roomIds))
		var wg sync.WaitGroup
		for i, id := range roomIds {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				room, err := s.db.GetRoom(ctx, id)
				if err != nil {
					if err != store.ErrNotFound {
						s.log.Printf("resolve room %q: %v", id, err)
					}
					return
				}
				resolved[i] = &types.Room{
					Id:        room.Id,
					Name:      room.Name,
					Code:      room.Code,
					CreatedBy: room.CreatedBy,
					CreatedAt: room.CreatedAt,
				}
			}(i, id)
		}
		wg.Wait()

		rooms := make([]types.Room, 0, len(resolved))
		for _, r := range resolved {
			if r != nil {
				rooms = append(rooms, *r)
			}
		}

		select {
		case s.resolved <- resolvedEvent{kind: dirResolved, gen: gen, rooms: rooms}:
		case <-s.stop:
		}
	}()
}

// resolveParticipants resolves each membership into a display record via
// concurrent point reads. The event carries the epoch it started under so
// stale results from a superseded room are never published.
func (s *Session) resolveParticipants(ctx context.Context, snap []store.Membership) {
	epoch := s.epoch
	roomId := s.active

	go func() {
		participants := make([]types.Participant, len(snap))
		var wg sync.WaitGroup
		for i, m := range snap {
			wg.Add(1)
			go func(i int, m store.Membership) {
				defer wg.Done()
				p := types.Participant{
					Id:     m.Id,
					UserId: m.UserId,
					Name:   types.UnknownName,
					Role:   types.UnknownRole,
				}
				user, err := s.db.GetUser(ctx, m.UserId)
				if err == nil {
					if user.Name != "" {
						p.Name = user.Name
					}
					if user.Role != "" {
						p.Role = user.Role
					}
				} else if err != store.ErrNotFound {
					s.log.Printf("resolve participant %q: %v", m.UserId, err)
				}
				participants[i] = p
			}(i, m)
		}
		wg.Wait()

		select {
		case s.resolved <- resolvedEvent{kind: partResolved, epoch: epoch, roomId: roomId, participants: participants}:
		case <-s.stop:
		}
	}()
}

func (s *Session) applyResolved(ctx context.Context, ev resolvedEvent) {
	switch ev.kind {
	case dirResolved:
		if ev.gen != s.dirGen {
			return
		}
		s.applyDirectory(ctx, ev.rooms)
	case partResolved:
		if ev.epoch != s.epoch || ev.roomId != s.active {
			return
		}
		s.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Participants: &ParticipantList{
				RoomId:       ev.roomId,
				Participants: ev.participants,
			},
		})
	}
}

// applyDirectory installs a resolved room list and applies the selection
// rules: explicit selection wins while it remains valid, otherwise the
// first entry is selected, or none when the list is empty.
func (s *Session) applyDirectory(ctx context.Context, rooms []types.Room) {
	s.rooms = rooms
	prev := s.active

	if s.active != "" && !s.roomInDirectory(s.active) {
		s.explicit = false
		s.active = ""
	}
	if s.active == "" && len(s.rooms) > 0 {
		s.active = s.rooms[0].Id
	}

	if s.active != prev {
		s.switchRoom(ctx)
	} else if len(s.rooms) == 0 {
		// No memberships at all: the feed publishes empty unconditionally.
		s.closeRoomSubs()
		s.degraded = false
		s.publishMessages(nil)
	}

	s.publishRooms(false)
}

func (s *Session) roomInDirectory(id string) bool {
	for _, r := range s.rooms {
		if r.Id == id {
			return true
		}
	}
	return false
}

// switchRoom tears down the prior room subscriptions before opening new
// ones and resets the feed to its primary state.
func (s *Session) switchRoom(ctx context.Context) {
	s.epoch++
	s.closeRoomSubs()
	s.degraded = false

	if s.active == "" {
		s.queueMessage(&ServerMessage{
			BaseMessage:  BaseMessage{Timestamp: Now()},
			Participants: &ParticipantList{Participants: []types.Participant{}},
		})
		s.publishMessages(nil)
		return
	}

	sub, err := s.db.WatchMembershipsByRoom(ctx, s.active)
	if err != nil {
		s.log.Printf("watch members of %q: %v", s.active, err)
	} else {
		s.partSub = sub
		s.stats.Incr(statOpenSubscriptions)
	}

	s.subscribeMessages(ctx, true)
}

// subscribeMessages establishes the feed subscription. The primary state
// is server-ordered; a precondition failure on the order index falls back
// to an unordered subscription with client-side sorting.
func (s *Session) subscribeMessages(ctx context.Context, ordered bool) {
	if len(s.rooms) == 0 || s.active == "" {
		s.publishMessages(nil)
		return
	}

	sub, err := s.db.WatchMessages(ctx, s.active, ordered)
	if err != nil {
		if ordered && store.IsIndexError(err) {
			s.log.Printf("ordered feed unavailable for %q, using degraded ordering: %v", s.active, err)
			s.degraded = true
			s.subscribeMessages(ctx, false)
			return
		}
		s.log.Printf("watch messages of %q: %v", s.active, err)
		return
	}

	s.msgSub = sub
	s.degraded = !ordered
	s.stats.Incr(statOpenSubscriptions)
}

func (s *Session) handleFeedError(ctx context.Context, err error) {
	if !s.degraded && store.IsIndexError(err) {
		s.log.Printf("feed error on %q, using degraded ordering: %v", s.active, err)
		if s.msgSub != nil {
			s.msgSub.Close()
			s.msgSub = nil
			s.stats.Decr(statOpenSubscriptions)
		}
		s.degraded = true
		s.subscribeMessages(ctx, false)
		return
	}

	s.log.Printf("feed error on %q: %v", s.active, err)
}

// publishMessages replaces the full published list. In degraded mode the
// snapshot is stable-sorted by creation time; a missing timestamp sorts
// earliest.
func (s *Session) publishMessages(snap []store.Message) {
	messages := make([]types.Message, 0, len(snap))
	for _, m := range snap {
		msg := types.Message{
			Id:         m.Id,
			RoomId:     m.RoomId,
			UserId:     m.UserId,
			SenderName: m.SenderName,
			SenderRole: m.SenderRole,
			Text:       m.Text,
			CreatedAt:  m.CreatedAt,
		}
		if m.FileURL != "" {
			msg.Attachment = &types.Attachment{
				URL:      m.FileURL,
				MimeType: m.FileType,
				FileName: m.FileName,
				FileSize: m.FileSize,
			}
		}
		messages = append(messages, msg)
	}

	if s.degraded {
		sort.SliceStable(messages, func(i, j int) bool {
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		})
	}

	s.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		MessageList: &MessageList{
			RoomId:         s.active,
			Messages:       messages,
			Degraded:       s.degraded,
			ScrollToLatest: true,
		},
	})
}

func (s *Session) publishRooms(resetUI bool) {
	rooms := make([]types.Room, len(s.rooms))
	copy(rooms, s.rooms)

	s.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		RoomList: &RoomList{
			Rooms:    rooms,
			ActiveId: s.active,
			ResetUI:  resetUI,
		},
	})
}

func (s *Session) queueMessage(msg *ServerMessage) bool {
	select {
	case s.send <- msg:
	default:
		s.log.Println("failed to queue message for session, channel is full")
		return false
	}

	return true
}
