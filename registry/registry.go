// Package registry holds the process-wide chat state: the global client
// count and the table of live rooms. All structural mutation (admission,
// room creation, room reaping) goes through the registry's lock; per-room
// membership and message fan-out serialize on each room's own lock.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ospx/roomchat/proto"
)

var (
	ErrServerFull   = errors.New("server is at client capacity")
	ErrTooManyRooms = errors.New("maximum number of rooms reached")
	ErrRoomIsFull   = errors.New("room is full")
	ErrRoomNotFound = errors.New("room is not found")
)

// RoomInfo is a point-in-time snapshot of one room for listings.
type RoomInfo struct {
	ID      int64  `json:"room_id"`
	Name    string `json:"name"`
	Members int    `json:"members"`
}

type Registry struct {
	logger zerolog.Logger

	maxClients        int
	maxRooms          int
	maxClientsPerRoom int

	mx     sync.Mutex
	active int
	rooms  map[int64]*Room
	nextID int64
}

type Config struct {
	Logger            *zerolog.Logger
	MaxClients        int
	MaxRooms          int
	MaxClientsPerRoom int
}

func New(cfg Config) *Registry {
	return &Registry{
		logger:            cfg.Logger.With().Str("component", "registry").Logger(),
		maxClients:        cfg.MaxClients,
		maxRooms:          cfg.MaxRooms,
		maxClientsPerRoom: cfg.MaxClientsPerRoom,
		rooms:             make(map[int64]*Room),
	}
}

// Admit claims one global client slot. The caller must pair a successful
// Admit with exactly one Release, whichever way the connection ends.
func (g *Registry) Admit() error {
	g.mx.Lock()
	defer g.mx.Unlock()

	if g.active >= g.maxClients {
		return ErrServerFull
	}
	g.active++
	return nil
}

// Release frees one global client slot.
func (g *Registry) Release() {
	g.mx.Lock()
	defer g.mx.Unlock()

	if g.active == 0 {
		g.logger.Error().Msg("client count underflow")
		return
	}
	g.active--
}

// CreateRoom inserts a new room with the creator as its sole member and
// returns the room id. Ids are monotonic and never reused, so a stale id
// can never resolve to a recreated room.
func (g *Registry) CreateRoom(name string, creator Member) (int64, error) {
	g.mx.Lock()
	defer g.mx.Unlock()

	if len(g.rooms) >= g.maxRooms {
		return 0, ErrTooManyRooms
	}
	g.nextID++
	id := g.nextID
	g.rooms[id] = newRoom(id, name, g.maxClientsPerRoom, creator, &g.logger)

	g.logger.Info().
		Int64("roomID", id).
		Str("room", name).
		Str("creator", creator.Name()).
		Msg("room created")
	return id, nil
}

// JoinRoom adds the member to the room with the given id. The capacity
// check and the insertion are atomic under the room's lock.
func (g *Registry) JoinRoom(id int64, m Member) error {
	room, err := g.room(id)
	if err != nil {
		return err
	}
	return room.join(m)
}

// LeaveRoom removes the member from the room. The last member out triggers
// the only deletion path a room has: it is reaped from the table the
// moment it becomes empty, and never before.
func (g *Registry) LeaveRoom(id int64, memberID uuid.UUID) {
	room, err := g.room(id)
	if err != nil {
		g.logger.Error().Int64("roomID", id).Msg("leave for unknown room")
		return
	}
	if !room.leave(memberID) {
		return
	}

	g.mx.Lock()
	room.mx.Lock()
	// A join may have slipped in between the leave and here; only reap a
	// room that is still empty and still in the table.
	if len(room.members) == 0 && !room.closed {
		room.closed = true
		delete(g.rooms, id)
	}
	reaped := room.closed
	room.mx.Unlock()
	g.mx.Unlock()

	if reaped {
		g.logger.Info().Int64("roomID", id).Str("room", room.name).Msg("room destroyed")
	}
}

// Broadcast fans the frame out to every member of the room except the
// sender. A broadcast against a vanished room indicates a bug in the
// caller's lifecycle handling and is logged, not propagated.
func (g *Registry) Broadcast(id int64, sender uuid.UUID, f proto.Frame) {
	room, err := g.room(id)
	if err != nil {
		g.logger.Error().Int64("roomID", id).Stringer("frame", f).Msg("broadcast to unknown room")
		return
	}
	room.Broadcast(sender, f)
}

// Rooms lists live rooms in creation order. A room whose last member has
// left but that the reap has not yet removed from the table is skipped, so
// an empty room is never observable.
func (g *Registry) Rooms() []RoomInfo {
	g.mx.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mx.Unlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].id < rooms[j].id })

	infos := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		if n := r.Len(); n > 0 {
			infos = append(infos, RoomInfo{ID: r.id, Name: r.name, Members: n})
		}
	}
	return infos
}

// Stats reports the current client and room counts.
func (g *Registry) Stats() (clients, rooms int) {
	g.mx.Lock()
	defer g.mx.Unlock()
	return g.active, len(g.rooms)
}

func (g *Registry) room(id int64) (*Room, error) {
	g.mx.Lock()
	defer g.mx.Unlock()

	room, ok := g.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}
