package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tumf/oneoff-docker-runner/internal/api"
	"github.com/tumf/oneoff-docker-runner/internal/config"
	"github.com/tumf/oneoff-docker-runner/internal/docker"
	"github.com/tumf/oneoff-docker-runner/internal/mcp"
	"github.com/tumf/oneoff-docker-runner/internal/mount"
	"github.com/tumf/oneoff-docker-runner/internal/runner"
	"github.com/tumf/oneoff-docker-runner/internal/session"
)

const version = "1.0.0"

func main() {
	cfgPath := flag.String("config", "", "path to oneoff-runner.yaml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	engine := docker.New(docker.Options{
		Host:        cfg.Engine.Host,
		TLSVerify:   cfg.Engine.TLSVerify,
		CertPath:    cfg.Engine.CertPath,
		HelperImage: cfg.Engine.HelperImage,
	})
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The engine connection is lazy; an unreachable daemon surfaces per
	// request as 503 rather than blocking startup.
	if err := engine.Ping(ctx); err != nil {
		logger.Warn("engine not reachable at startup", "error", err)
	} else {
		logger.Info("engine connection OK")
	}

	orchestrator := runner.New(
		engine,
		mount.NewResolver(logger),
		logger,
		time.Duration(cfg.WaitTimeoutSeconds)*time.Second,
		cfg.PullPolicy,
	)

	sessions := session.NewStore(time.Duration(cfg.SessionTTLSeconds) * time.Second)
	dispatcher := mcp.NewDispatcher(
		sessions,
		logger,
		mcp.ServerInfo{Name: "oneoff-docker-runner", Version: version},
		mcp.DefaultTools(orchestrator, engine)...,
	)

	srv := api.NewServer(orchestrator, engine, dispatcher, sessions,
		time.Duration(cfg.HeartbeatSeconds)*time.Second, logger)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streams stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Listen)
	fmt.Fprintf(os.Stderr, "\n  oneoff-runner ready at http://%s\n\n", cfg.Listen)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
