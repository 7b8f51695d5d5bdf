package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manpreetbhatti/inkwell/internal/api"
	"github.com/manpreetbhatti/inkwell/internal/archive"
	"github.com/manpreetbhatti/inkwell/internal/config"
	"github.com/manpreetbhatti/inkwell/internal/db"
	"github.com/manpreetbhatti/inkwell/internal/discovery"
	"github.com/manpreetbhatti/inkwell/internal/logging"
	"github.com/manpreetbhatti/inkwell/internal/protocol"
	"github.com/manpreetbhatti/inkwell/internal/reaper"
	"github.com/manpreetbhatti/inkwell/internal/room"
	"github.com/manpreetbhatti/inkwell/internal/session"
	"github.com/manpreetbhatti/inkwell/internal/ws"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	addrVar := flag.String("addr", "", "the address to listen on, overrides config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addrVar != "" {
		cfg.Server.Addr = *addrVar
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	var registryOpts []room.Option
	var database *db.Database
	var recorder *archive.Recorder
	if cfg.Archive.Enabled {
		database, err = db.New(cfg.Archive.DBPath)
		if err != nil {
			return err
		}
		defer database.Close()

		recorder = archive.New(database, archive.Config{QueueSize: cfg.Archive.QueueSize}, logger)
		recorder.Start()
		defer recorder.Stop()
		registryOpts = append(registryOpts, room.WithJournal(recorder))
	}

	registry := room.NewRegistry(registryOpts...)

	if cfg.Reaper.PendingTTL > 0 {
		r := reaper.New(registry, reaper.Config{
			Interval:   cfg.Reaper.Interval,
			PendingTTL: cfg.Reaper.PendingTTL,
		}, logger)
		r.Start()
		defer r.Stop()
	}

	handler := session.NewHandler(registry,
		session.WithLogger(logger),
		session.WithConfig(session.Config{
			DefaultRoom:     session.DefaultConfig().DefaultRoom,
			DefaultName:     session.DefaultConfig().DefaultName,
			MaxRoomIDLength: cfg.Limits.MaxRoomIDLength,
			MaxNameLength:   cfg.Limits.MaxNameLength,
			Limits: protocol.Limits{
				MaxPointsPerBatch: cfg.Limits.MaxPointsPerBatch,
				MaxLocalIDLength:  cfg.Limits.MaxLocalIDLength,
			},
		}),
	)

	wsConfig := ws.DefaultConfig()
	wsConfig.MessagesPerSecond = cfg.RateLimit.PerSecond
	wsConfig.MessageBurst = cfg.RateLimit.Burst
	wsConfig.MaxViolations = cfg.RateLimit.MaxViolations
	wsConfig.MaxMessageSize = cfg.Limits.MaxMessageSize
	hub := ws.NewHub(handler, ws.WithConfig(wsConfig), ws.WithLogger(logger))

	apiHandler := api.New(hub, database, recorder, logger)

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}

	if cfg.MDNS.Enabled {
		port := listener.Addr().(*net.TCPAddr).Port
		server, err := discovery.Advertise(cfg.MDNS.Instance, port)
		if err != nil {
			logger.Warn("mDNS advertisement failed", "err", err)
		} else {
			defer server.Shutdown()
			logger.Info("advertising over mDNS", "service", discovery.ServiceType, "port", port)
		}
	}

	httpServer := &http.Server{
		Handler:           apiHandler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Info("inkwell server started",
		"addr", listener.Addr().String(),
		"archive", cfg.Archive.Enabled,
		"db", cfg.Archive.DBPath,
		"reaper_ttl", cfg.Reaper.PendingTTL,
	)

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-exit:
		logger.Info("signal caught, shutting down", "sig", sig)
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	hub.Shutdown()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown incomplete", "err", err)
	}

	return nil
}
