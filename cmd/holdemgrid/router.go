package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/holdemgrid/cmd/holdemgrid/shared"
	"github.com/lox/holdemgrid/internal/config"
	"github.com/lox/holdemgrid/internal/routing"
)

// RouterCmd runs the routing authority. Settings come from the environment;
// see config.RouterConfig.
type RouterCmd struct {
	LogFlags `embed:""`
}

func (c *RouterCmd) Run() error {
	logger := shared.SetupLogger(c.Debug, c.LogFormat)

	cfg, err := config.LoadRouter()
	if err != nil {
		return fmt.Errorf("router config: %w", err)
	}

	authority := routing.New(routing.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		MissedHeartbeats:  cfg.MissedHeartbeats,
	}, routing.WithLogger(logger))

	logger.Info("Starting router",
		"listen_addr", cfg.ListenAddr,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"missed_heartbeats", cfg.MissedHeartbeats)

	ctx := shared.SetupSignalHandler(logger)
	g, ctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           routing.NewHandler(authority, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return authority.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down router...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
