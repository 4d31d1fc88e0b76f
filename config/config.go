// Package config loads server settings from an optional chatd.yaml file,
// CHATD_* environment variables and command line flags, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	TCPListenAddr string `mapstructure:"tcp_listen_addr"`
	WSListenAddr  string `mapstructure:"ws_listen_addr"`
	APIListenAddr string `mapstructure:"api_listen_addr"`
	LogLevel      string `mapstructure:"log_level"`

	MaxClients        int `mapstructure:"max_clients"`
	MaxRooms          int `mapstructure:"max_rooms"`
	MaxClientsPerRoom int `mapstructure:"max_clients_per_room"`
	MaxUsernameLen    int `mapstructure:"max_username_len"`
	MaxRoomNameLen    int `mapstructure:"max_room_name_len"`
	MaxContentLen     int `mapstructure:"max_content_len"`

	SendQueueLen int           `mapstructure:"send_queue_len"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Load builds the effective configuration. Flags already registered on fs
// override file and environment values key-by-key.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigName("chatd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/chatd")

	v.SetEnvPrefix("chatd")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("tcp_listen_addr", ":30000")
	v.SetDefault("ws_listen_addr", ":30001")
	v.SetDefault("api_listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("max_clients", 2000)
	v.SetDefault("max_rooms", 50)
	v.SetDefault("max_clients_per_room", 40)
	v.SetDefault("max_username_len", 32)
	v.SetDefault("max_room_name_len", 24)
	v.SetDefault("max_content_len", 128)
	v.SetDefault("send_queue_len", 64)
	v.SetDefault("write_timeout", "5s")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if f.Changed {
			v.Set(key, f.Value.String())
		}
	})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
