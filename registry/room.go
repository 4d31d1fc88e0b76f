package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ospx/roomchat/proto"
)

// Member is a room's view of a connected session. Deliver must not block:
// implementations queue the frame and report failure when the recipient
// cannot keep up.
type Member interface {
	ID() uuid.UUID
	Name() string
	Deliver(f proto.Frame) error
}

// Room is a named, capacity-bounded broadcast group. Membership and fan-out
// serialize on the room's own lock so traffic in different rooms proceeds
// independently; only table-level changes touch the registry lock.
type Room struct {
	id      int64
	name    string
	logger  zerolog.Logger
	maxSize int

	mx      sync.RWMutex
	members map[uuid.UUID]Member
	closed  bool
}

func newRoom(id int64, name string, maxSize int, creator Member, logger *zerolog.Logger) *Room {
	return &Room{
		id:      id,
		name:    name,
		maxSize: maxSize,
		logger:  logger.With().Int64("roomID", id).Str("room", name).Logger(),
		members: map[uuid.UUID]Member{creator.ID(): creator},
	}
}

func (r *Room) ID() int64 {
	return r.id
}

func (r *Room) Name() string {
	return r.name
}

// Len returns the current member count.
func (r *Room) Len() int {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return len(r.members)
}

// join atomically checks capacity and inserts the member. A room that the
// registry already reaped rejects joins as if it never existed.
func (r *Room) join(m Member) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.closed {
		return ErrRoomNotFound
	}
	if len(r.members) >= r.maxSize {
		return ErrRoomIsFull
	}
	r.members[m.ID()] = m
	return nil
}

// leave removes the member and reports whether the room is now empty.
func (r *Room) leave(id uuid.UUID) bool {
	r.mx.Lock()
	defer r.mx.Unlock()

	delete(r.members, id)
	return len(r.members) == 0
}

// Broadcast delivers the frame to every member except the sender. Delivery
// failures (a stalled recipient with a full queue) are logged and left to
// the recipient's own connection to clean up; the broadcaster never blocks.
func (r *Room) Broadcast(sender uuid.UUID, f proto.Frame) {
	r.mx.RLock()
	defer r.mx.RUnlock()

	for id, m := range r.members {
		if id == sender {
			continue
		}
		if err := m.Deliver(f); err != nil {
			r.logger.Warn().
				Err(err).
				Stringer("memberID", id).
				Str("member", m.Name()).
				Msg("dropping undeliverable member")
		}
	}
}
