// Package http exposes a small read-only JSON API over the chat registry:
// the live room list and server counters. It never mutates chat state.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ospx/roomchat/registry"
)

const defaultShutdownDeadline = 10 * time.Second

var ErrUnexpected = errors.New("unexpected server error")

type StatsResponse struct {
	Clients int `json:"clients"`
	Rooms   int `json:"rooms"`
}

type Server struct {
	logger zerolog.Logger
	reg    *registry.Registry
	*http.Server
}

type Config struct {
	Logger     *zerolog.Logger
	Registry   *registry.Registry
	ListenAddr string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		reg:    cfg.Registry,
	}

	r := http.NewServeMux()
	r.HandleFunc("GET /api/rooms", srv.rooms)
	r.HandleFunc("GET /api/stats", srv.stats)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func (srv *Server) rooms(w http.ResponseWriter, _ *http.Request) {
	srv.writeJSON(w, srv.reg.Rooms())
}

func (srv *Server) stats(w http.ResponseWriter, _ *http.Request) {
	clients, rooms := srv.reg.Stats()
	srv.writeJSON(w, StatsResponse{Clients: clients, Rooms: rooms})
}

func (srv *Server) writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
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
