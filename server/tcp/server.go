// Package tcp serves the chat protocol over plain TCP, the primary
// transport. Each accepted connection gets a blocking read loop feeding
// the session state machine and a write pump draining the session's
// outbound queue.
package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ospx/roomchat/config"
	"github.com/ospx/roomchat/proto"
	"github.com/ospx/roomchat/registry"
	"github.com/ospx/roomchat/session"
)

var ErrUnexpected = errors.New("unexpected server error")

type Server struct {
	logger     zerolog.Logger
	reg        *registry.Registry
	listenAddr string

	maxUsernameLen int
	maxRoomNameLen int
	maxContentLen  int
	sendQueueLen   int
	writeTimeout   time.Duration
}

type Config struct {
	Logger     *zerolog.Logger
	Registry   *registry.Registry
	ListenAddr string
	Limits     *config.Config
}

func NewServer(cfg Config) *Server {
	return &Server{
		logger:         cfg.Logger.With().Str("component", "tcp-server").Logger(),
		reg:            cfg.Registry,
		listenAddr:     cfg.ListenAddr,
		maxUsernameLen: cfg.Limits.MaxUsernameLen,
		maxRoomNameLen: cfg.Limits.MaxRoomNameLen,
		maxContentLen:  cfg.Limits.MaxContentLen,
		sendQueueLen:   cfg.Limits.SendQueueLen,
		writeTimeout:   cfg.Limits.WriteTimeout,
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", srv.listenAddr)
	if err != nil {
		errc <- errors.Join(ErrUnexpected, err)
		return
	}
	srv.logger.Info().Str("addr", srv.listenAddr).Msg("server started")

	connWG := &sync.WaitGroup{}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			srv.logger.Error().Err(err).Msg("accept failed")
			continue
		}
		connWG.Add(1)
		go func() {
			defer connWG.Done()
			srv.handleConn(ctx, conn)
		}()
	}
	connWG.Wait()
}

// handleConn runs one connection from admission to teardown. All
// state-mutating teardown happens on this goroutine; other goroutines can
// only cancel the connection context.
func (srv *Server) handleConn(ctx context.Context, conn net.Conn) {
	logger := srv.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()

	if err := srv.reg.Admit(); err != nil {
		logger.Warn().Msg("connection rejected, server full")
		srv.writeFrame(conn, proto.NewFrame(proto.ErrCodeServerFull,
			"Sorry, the server is currently at full capacity. Please try again later!"))
		_ = conn.Close()
		return
	}
	logger.Info().Msg("connection admitted")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := session.New(session.Config{
		Registry:       srv.reg,
		Logger:         &logger,
		Cancel:         cancel,
		MaxUsernameLen: srv.maxUsernameLen,
		MaxRoomNameLen: srv.maxRoomNameLen,
		MaxContentLen:  srv.maxContentLen,
		SendQueueLen:   srv.sendQueueLen,
	})

	// Unblocks the read loop when the context is cancelled by shutdown,
	// the write pump, or a slow-consumer kick. An expired read deadline,
	// not a close, so the pump can still flush queued replies.
	go func() {
		<-connCtx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	pumpWG := &sync.WaitGroup{}
	pumpWG.Add(1)
	go func() {
		defer pumpWG.Done()
		srv.writePump(connCtx, conn, sess.Out(), &logger)
		cancel()
	}()

	if err := sess.Welcome(); err == nil {
		srv.readLoop(connCtx, conn, sess, &logger)
	}

	sess.Close()
	cancel()
	pumpWG.Wait()
	_ = conn.Close()
}

func (srv *Server) readLoop(ctx context.Context, conn net.Conn, sess *session.Session, logger *zerolog.Logger) {
	dec := proto.NewDecoder(conn)
	for {
		f, err := dec.Next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				logger.Info().Msg("peer disconnected")
			case errors.Is(err, os.ErrDeadlineExceeded):
				logger.Debug().Msg("read interrupted by teardown")
			case errors.Is(err, proto.ErrMalformed), errors.Is(err, proto.ErrFrameTooLong):
				logger.Warn().Err(err).Msg("dropping connection on framing violation")
			default:
				logger.Warn().Err(err).Msg("read failed")
			}
			return
		}

		if err = sess.Handle(f); err != nil {
			if !errors.Is(err, session.ErrClosed) {
				logger.Warn().Err(err).Msg("dropping connection")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (srv *Server) writePump(ctx context.Context, conn net.Conn, out <-chan proto.Frame, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			// Best-effort flush of replies queued before teardown.
			for {
				select {
				case f := <-out:
					if srv.writeFrame(conn, f) != nil {
						return
					}
				default:
					return
				}
			}
		case f := <-out:
			if err := srv.writeFrame(conn, f); err != nil {
				logger.Warn().Err(err).Msg("write failed")
				return
			}
		}
	}
}

func (srv *Server) writeFrame(conn net.Conn, f proto.Frame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(srv.writeTimeout)); err != nil {
		return err
	}
	_, err := conn.Write(f.Encode())
	return err
}
