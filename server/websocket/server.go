// Package websocket bridges the chat protocol to WebSocket clients. Each
// binary message carries exactly one wire frame, byte-identical to the TCP
// transport, so browser clients speak the same protocol.
package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ospx/roomchat/config"
	"github.com/ospx/roomchat/proto"
	"github.com/ospx/roomchat/registry"
	"github.com/ospx/roomchat/session"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultHandshakeTimeout   = 3 * time.Second
	defaultReadBufferSize     = 4096
	defaultWriteBufferSize    = 4096
	defaultMaxMessageSize     = 4096
	defaultCloseWriteDeadline = 2 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var ErrUnexpected = errors.New("unexpected server error")

type Server struct {
	logger zerolog.Logger
	reg    *registry.Registry
	ws     *websocket.Upgrader
	limits *config.Config
	*http.Server
}

type Config struct {
	Logger     *zerolog.Logger
	Registry   *registry.Registry
	ListenAddr string
	Limits     *config.Config
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "websocket-server").Logger(),
		reg:    cfg.Registry,
		limits: cfg.Limits,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultHandshakeTimeout,
			ReadBufferSize:   defaultReadBufferSize,
			WriteBufferSize:  defaultWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", srv.chat)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	srv.BaseContext = func(net.Listener) context.Context { return ctx }

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) chat(w http.ResponseWriter, r *http.Request) {
	logger := srv.logger.With().Str("remote", r.RemoteAddr).Logger()

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	if err = srv.reg.Admit(); err != nil {
		logger.Warn().Msg("connection rejected, server full")
		_ = conn.WriteMessage(websocket.BinaryMessage,
			proto.NewFrame(proto.ErrCodeServerFull,
				"Sorry, the server is currently at full capacity. Please try again later!").Encode())
		closeConn(conn, &logger)
		return
	}
	logger.Info().Msg("connection admitted")

	connCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := session.New(session.Config{
		Registry:       srv.reg,
		Logger:         &logger,
		Cancel:         cancel,
		MaxUsernameLen: srv.limits.MaxUsernameLen,
		MaxRoomNameLen: srv.limits.MaxRoomNameLen,
		MaxContentLen:  srv.limits.MaxContentLen,
		SendQueueLen:   srv.limits.SendQueueLen,
	})

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.sender(connCtx, conn, sess.Out(), &logger)
		cancel()
	}()

	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	if err = sess.Welcome(); err == nil {
		srv.receiver(connCtx, conn, sess, &logger)
	}

	sess.Close()
	cancel()
	closeConn(conn, &logger)
	wg.Wait()
}

func (srv *Server) receiver(ctx context.Context, conn *websocket.Conn, sess *session.Session, logger *zerolog.Logger) {
	conn.SetReadLimit(defaultMaxMessageSize)
	readDeadline := func() error {
		return conn.SetReadDeadline(time.Now().Add(defaultPongWait))
	}
	conn.SetPongHandler(func(string) error { return readDeadline() })
	if err := readDeadline(); err != nil {
		logger.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info().Msg("peer disconnected")
			} else if ctx.Err() == nil {
				logger.Warn().Err(err).Msg("read failed")
			}
			return
		}

		f, ok, err := proto.Parse(msg)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping connection on framing violation")
			return
		}
		if !ok {
			continue
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

func (srv *Server) sender(ctx context.Context, conn *websocket.Conn, out <-chan proto.Frame, logger *zerolog.Logger) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			if err := srv.write(conn, websocket.PingMessage, nil); err != nil {
				logger.Warn().Err(err).Msg("failed to send ping")
				return
			}
		case f := <-out:
			if err := srv.write(conn, websocket.BinaryMessage, f.Encode()); err != nil {
				logger.Warn().Err(err).Msg("write failed")
				return
			}
		}
	}
}

func (srv *Server) write(conn *websocket.Conn, messageType int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(srv.limits.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, data)
}

func closeConn(conn *websocket.Conn, logger *zerolog.Logger) {
	err := conn.SetWriteDeadline(time.Now().Add(defaultCloseWriteDeadline))
	if err == nil {
		_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
	}
	if err = conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Debug().Err(err).Msg("connection close")
	}
}
