package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)

	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, ":30000", cfg.TCPListenAddr)
	assert.Equal(t, 2000, cfg.MaxClients)
	assert.Equal(t, 50, cfg.MaxRooms)
	assert.Equal(t, 40, cfg.MaxClientsPerRoom)
	assert.Equal(t, 32, cfg.MaxUsernameLen)
	assert.Equal(t, 24, cfg.MaxRoomNameLen)
	assert.Equal(t, 128, cfg.MaxContentLen)
	assert.Equal(t, 64, cfg.SendQueueLen)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
}

func TestLoad_FlagsOverride(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("tcp-listen-addr", ":30000", "")
	fs.String("log-level", "info", "")
	require.NoError(t, fs.Parse([]string{"--tcp-listen-addr", ":4000", "--log-level", "debug"}))

	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.TCPListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2000, cfg.MaxClients, "untouched keys keep their defaults")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CHATD_MAX_CLIENTS", "5")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)

	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxClients)
}
