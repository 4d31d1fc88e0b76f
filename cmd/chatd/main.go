package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/ospx/roomchat/config"
	"github.com/ospx/roomchat/registry"
	httpServer "github.com/ospx/roomchat/server/http"
	tcpServer "github.com/ospx/roomchat/server/tcp"
	websocketServer "github.com/ospx/roomchat/server/websocket"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	fs.StringP("tcp-listen-addr", "t", ":30000", "chat protocol listen address")
	fs.StringP("ws-listen-addr", "w", ":30001", "websocket bridge listen address")
	fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
	fs.StringP("log-level", "l", "info", "log level")

	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	cfg, err := config.Load(fs)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)
	logger.Debug().Msg(spew.Sdump(cfg))

	reg := registry.New(registry.Config{
		Logger:            &logger,
		MaxClients:        cfg.MaxClients,
		MaxRooms:          cfg.MaxRooms,
		MaxClientsPerRoom: cfg.MaxClientsPerRoom,
	})
	tcpSrv := tcpServer.NewServer(tcpServer.Config{
		Logger:     &logger,
		Registry:   reg,
		ListenAddr: cfg.TCPListenAddr,
		Limits:     cfg,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:     &logger,
		Registry:   reg,
		ListenAddr: cfg.WSListenAddr,
		Limits:     cfg,
	})
	apiSrv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		Registry:   reg,
		ListenAddr: cfg.APIListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 3)
	)
	wg.Add(3)
	go tcpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)
	go apiSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()

	clients, rooms := reg.Stats()
	logger.Info().Int("clients", clients).Int("rooms", rooms).Msg("server exited")
}
