package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaylab/serialterm/chat"
	"github.com/relaylab/serialterm/serialio"
	"github.com/relaylab/serialterm/settings"
	"github.com/relaylab/serialterm/terminal"
)

func main() {
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("settings-file", "serial_config.json", "Path to the persisted serial settings")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	store, err := settings.Load(config.SettingsFile)
	if err != nil {
		logger.Error("Failed to load serial settings", "error", err, "path", config.SettingsFile)
		os.Exit(1)
	}

	conn := serialio.NewConn(serialio.SerialOpener{}, logger.With("component", "serial"))
	gateway := chat.NewGateway(logger.With("component", "gateway"))

	sinks, err := terminal.NewRegistry(terminal.RegistryConfig{
		Messenger: gateway,
		Logger:    logger.With("component", "sinks"),
	})
	if err != nil {
		logger.Error("Failed to create sink registry", "error", err)
		os.Exit(1)
	}

	sessions, err := terminal.NewManager(terminal.ManagerConfig{
		Provider: conn,
		Sink:     sinks,
		Settings: store.Snapshot,
		Logger:   logger.With("component", "sessions"),
	})
	if err != nil {
		logger.Error("Failed to create session manager", "error", err)
		os.Exit(1)
	}

	router := chat.NewRouter(conn, store, sessions, sinks, gateway, logger.With("component", "router"))
	gateway.OnMessage(router.HandleMessage)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:  logger.With("component", "server"),
			Gateway: gateway,
		},
	}

	logger.Info("Starting serial terminal bridge", "address", config.BindAddress, "settings", config.SettingsFile)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return sessions.Run(ctx)
	})

	group.Go(func() error {
		return store.Watch(ctx, logger.With("component", "settings"))
	})

	group.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Info("Closing HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to gracefully shutdown server", "error", err)
		}

		logger.Info("Closing serial connection")
		if err := conn.Disconnect(); err != nil && !errors.Is(err, serialio.ErrNotConnected) {
			logger.Error("Failed to close serial connection", "error", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Bridge terminated", "error", err)
		os.Exit(1)
	}
}
