// Package session owns one connection's protocol state machine. A session
// moves from awaiting-name through the lobby into a room and back, driven
// by inbound frames; everything it emits (replies and room broadcasts it
// receives) flows through a single bounded outbound queue so a stalled
// peer can never block another session.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ospx/roomchat/proto"
	"github.com/ospx/roomchat/registry"
)

const welcomeText = "WELCOME TO THE SERVER: " +
	"THIS IS A FAMILY FRIENDLY SPACE" +
	", NO CURSING\n" +
	"Please enter Your User Name"

const emptyContentText = "Content is Empty\nCorrect format: [command " +
	"char][space][message content][MSG_TERMINATOR]\n"

var (
	// ErrClosed signals the caller to stop the read loop and tear the
	// connection down. It is not a failure.
	ErrClosed = errors.New("session closed")

	// ErrProtocol marks violations fatal to the connection (unknown
	// command bytes); recoverable mistakes get an error frame instead.
	ErrProtocol = errors.New("protocol violation")

	errSlowConsumer = errors.New("outbound queue full")
)

type Stage int

const (
	StageAwaitingName Stage = iota
	StageLobby
	StageInRoom
)

func (s Stage) String() string {
	switch s {
	case StageAwaitingName:
		return "awaiting-name"
	case StageLobby:
		return "lobby"
	case StageInRoom:
		return "in-room"
	}
	return "unknown"
}

// Registry is the slice of registry behavior a session needs.
type Registry interface {
	CreateRoom(name string, creator registry.Member) (int64, error)
	JoinRoom(id int64, m registry.Member) error
	LeaveRoom(id int64, memberID uuid.UUID)
	Broadcast(id int64, sender uuid.UUID, f proto.Frame)
	Rooms() []registry.RoomInfo
	Release()
}

type Config struct {
	Registry Registry
	Logger   *zerolog.Logger

	// Cancel aborts the owning connection; Deliver invokes it when the
	// outbound queue overflows so a slow consumer disconnects itself.
	Cancel context.CancelFunc

	MaxUsernameLen int
	MaxRoomNameLen int
	MaxContentLen  int
	SendQueueLen   int
}

type Session struct {
	id     uuid.UUID
	reg    Registry
	logger zerolog.Logger
	cancel context.CancelFunc

	maxUsernameLen int
	maxRoomNameLen int
	maxContentLen  int

	out chan proto.Frame

	// Mutated only by the connection's own goroutine.
	name   string
	stage  Stage
	roomID int64

	done chan struct{}
}

func New(cfg Config) *Session {
	id := uuid.New()
	return &Session{
		id:             id,
		reg:            cfg.Registry,
		logger:         cfg.Logger.With().Str("component", "session").Stringer("sessionID", id).Logger(),
		cancel:         cfg.Cancel,
		maxUsernameLen: cfg.MaxUsernameLen,
		maxRoomNameLen: cfg.MaxRoomNameLen,
		maxContentLen:  cfg.MaxContentLen,
		out:            make(chan proto.Frame, cfg.SendQueueLen),
		done:           make(chan struct{}),
	}
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) Name() string {
	return s.name
}

func (s *Session) Stage() Stage {
	return s.stage
}

// Out is the frame stream the connection's write pump drains.
func (s *Session) Out() <-chan proto.Frame {
	return s.out
}

// Deliver queues a frame for the peer without blocking. A full queue means
// the peer has stalled: the connection is cancelled and the frame dropped.
func (s *Session) Deliver(f proto.Frame) error {
	select {
	case s.out <- f:
		return nil
	default:
		s.cancel()
		return errSlowConsumer
	}
}

// Welcome queues the post-admission greeting that prompts for a user name.
func (s *Session) Welcome() error {
	return s.Deliver(proto.NewFrame(proto.CmdWelcome, welcomeText))
}

// Handle runs one frame through the state machine. A nil return keeps the
// read loop going; ErrClosed and ErrProtocol-wrapped errors end it.
func (s *Session) Handle(f proto.Frame) error {
	if f.Cmd < proto.CmdExit || f.Cmd > proto.CmdSendMessage {
		return fmt.Errorf("%w: unknown command 0x%02x", ErrProtocol, f.Cmd)
	}
	if len(f.Content) > s.maxContentLen {
		return s.Deliver(proto.NewFrame(proto.ErrCodeInvalidFormat, "Invalid format: Message too long"))
	}
	content := strings.TrimSpace(string(f.Content))
	if content == "" {
		return s.Deliver(proto.NewFrame(proto.ErrCodeEmptyContent, emptyContentText))
	}
	if f.Cmd == proto.CmdExit {
		s.logger.Debug().Msg("exit requested")
		return ErrClosed
	}

	switch s.stage {
	case StageAwaitingName:
		return s.handleAwaitingName(f.Cmd, content)
	case StageLobby:
		return s.handleLobby(f.Cmd, content)
	case StageInRoom:
		return s.handleInRoom(f.Cmd, content, string(f.Content))
	}
	return fmt.Errorf("%w: invalid stage %d", ErrProtocol, s.stage)
}

func (s *Session) handleAwaitingName(cmd byte, content string) error {
	if cmd != proto.CmdSubmitName {
		return s.rejectStage(cmd)
	}
	if len(content) > s.maxUsernameLen {
		return s.Deliver(proto.NewFrame(proto.ErrCodeUsernameLength,
			fmt.Sprintf("User name too long, must be at most %d", s.maxUsernameLen)))
	}
	s.name = content
	s.stage = StageLobby
	s.logger = s.logger.With().Str("user", s.name).Logger()
	s.logger.Info().Msg("user named, entering lobby")
	return s.sendRoomList()
}

func (s *Session) handleLobby(cmd byte, content string) error {
	switch cmd {
	case proto.CmdCreateRoom:
		return s.createRoom(content)
	case proto.CmdJoinRoom:
		return s.joinRoom(content)
	case proto.CmdListRooms:
		return s.sendRoomList()
	default:
		return s.rejectStage(cmd)
	}
}

func (s *Session) handleInRoom(cmd byte, content, raw string) error {
	switch cmd {
	case proto.CmdSendMessage:
		s.reg.Broadcast(s.roomID, s.id, proto.NewFrame(proto.CmdRoomMessage, s.name+": "+raw))
		return nil
	case proto.CmdLeaveRoom:
		s.leaveRoom()
		return s.Deliver(proto.NewFrame(proto.CmdRoomLeaveOK, "You have left the room"))
	default:
		return s.rejectStage(cmd)
	}
}

func (s *Session) createRoom(name string) error {
	if len(name) > s.maxRoomNameLen {
		return s.Deliver(proto.NewFrame(proto.ErrCodeRoomNameInvalid,
			"Room creation failed: Room name length invalid"))
	}
	id, err := s.reg.CreateRoom(name, s)
	if err != nil {
		if errors.Is(err, registry.ErrTooManyRooms) {
			return s.Deliver(proto.NewFrame(proto.ErrCodeCapacityFull,
				"Room creation failed: Maximum number of rooms reached"))
		}
		return err
	}
	s.roomID = id
	s.stage = StageInRoom
	return s.Deliver(proto.NewFrame(proto.CmdRoomCreateOK, "Room created successfully: "+name))
}

func (s *Session) joinRoom(content string) error {
	id, err := strconv.ParseInt(content, 10, 64)
	if err != nil || id <= 0 {
		return s.Deliver(proto.NewFrame(proto.ErrCodeRoomNotFound, "Invalid room number format"))
	}
	switch err := s.reg.JoinRoom(id, s); {
	case errors.Is(err, registry.ErrRoomNotFound):
		return s.Deliver(proto.NewFrame(proto.ErrCodeRoomNotFound, "Room does not exist"))
	case errors.Is(err, registry.ErrRoomIsFull):
		return s.Deliver(proto.NewFrame(proto.ErrCodeCapacityFull, "Cannot join room: Room is full"))
	case err != nil:
		return err
	}
	s.roomID = id
	s.stage = StageInRoom
	if err := s.Deliver(proto.NewFrame(proto.CmdRoomJoinOK, "Successfully joined room")); err != nil {
		return err
	}
	s.reg.Broadcast(id, s.id, proto.NewFrame(proto.CmdRoomMessage, s.name+" has entered the room"))
	return nil
}

// leaveRoom announces the departure to the remaining members and gives the
// room slot back; the registry reaps the room if this was the last member.
func (s *Session) leaveRoom() {
	s.reg.Broadcast(s.roomID, s.id, proto.NewFrame(proto.CmdRoomMessage, s.name+" left the room"))
	s.reg.LeaveRoom(s.roomID, s.id)
	s.logger.Info().Int64("roomID", s.roomID).Msg("left room")
	s.roomID = 0
	s.stage = StageLobby
}

func (s *Session) sendRoomList() error {
	rooms := s.reg.Rooms()

	var b strings.Builder
	b.WriteString("=== Available Chat Rooms ===\n\n")
	if len(rooms) == 0 {
		b.WriteString("No chat rooms available!\nUse the create room command to start your own chat room.")
	} else {
		for _, r := range rooms {
			fmt.Fprintf(&b, "Room %d: %s\n", r.ID, r.Name)
		}
	}
	return s.Deliver(proto.NewFrame(proto.CmdRoomList, b.String()))
}

func (s *Session) rejectStage(cmd byte) error {
	s.logger.Debug().
		Uint8("cmd", cmd).
		Stringer("stage", s.stage).
		Msg("command not valid for stage")
	return s.Deliver(proto.NewFrame(proto.ErrCodeInvalidStateCmd,
		"Invalid command for "+s.stage.String()+" state"))
}

// Close performs teardown exactly once, whichever path triggered it: the
// exit command, a protocol violation or a transport error. An in-room
// session leaves its room (announcing the departure, without a reply frame
// of its own) and the global client slot is released.
func (s *Session) Close() {
	select {
	case <-s.done:
		return
	default:
		close(s.done)
	}

	if s.stage == StageInRoom {
		s.leaveRoom()
	}
	s.reg.Release()
	s.logger.Info().Msg("session closed")
}
