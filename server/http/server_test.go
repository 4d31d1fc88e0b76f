package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ospx/roomchat/proto"
	"github.com/ospx/roomchat/registry"
)

type staticMember struct {
	id   uuid.UUID
	name string
}

func (m staticMember) ID() uuid.UUID             { return m.id }
func (m staticMember) Name() string              { return m.name }
func (m staticMember) Deliver(proto.Frame) error { return nil }

func newTestServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	reg := registry.New(registry.Config{
		Logger:            &logger,
		MaxClients:        100,
		MaxRooms:          50,
		MaxClientsPerRoom: 40,
	})
	return NewServer(Config{Logger: &logger, Registry: reg}), reg
}

func TestServer_Rooms(t *testing.T) {
	srv, reg := newTestServer(t)

	_, err := reg.CreateRoom("general", staticMember{id: uuid.New(), name: "alice"})
	require.NoError(t, err)
	_, err = reg.CreateRoom("random", staticMember{id: uuid.New(), name: "bob"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var rooms []registry.RoomInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rooms))
	require.Len(t, rooms, 2)
	assert.Equal(t, "general", rooms[0].Name)
	assert.Equal(t, 1, rooms[0].Members)
	assert.Equal(t, "random", rooms[1].Name)
}

func TestServer_Stats(t *testing.T) {
	srv, reg := newTestServer(t)

	require.NoError(t, reg.Admit())
	require.NoError(t, reg.Admit())
	_, err := reg.CreateRoom("general", staticMember{id: uuid.New(), name: "alice"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Clients)
	assert.Equal(t, 1, stats.Rooms)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/rooms", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
