package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/lox/holdemgrid/cmd/holdemgrid/shared"
	"github.com/lox/holdemgrid/internal/config"
	"github.com/lox/holdemgrid/internal/gameid"
	"github.com/lox/holdemgrid/internal/registry"
	"github.com/lox/holdemgrid/internal/routing"
	"github.com/lox/holdemgrid/internal/server"
)

const shutdownTimeout = 10 * time.Second

// WorkerCmd runs a worker. Settings come from the environment; see
// config.WorkerConfig.
type WorkerCmd struct {
	LogFlags `embed:""`
	Tables   string `kong:"help='HCL file of tables to open at startup (overrides TABLES_FILE)',type='path'"`
}

func (c *WorkerCmd) Run() error {
	logger := shared.SetupLogger(c.Debug, c.LogFormat)

	cfg, err := config.LoadWorker()
	if err != nil {
		return fmt.Errorf("worker config: %w", err)
	}
	if c.Tables != "" {
		cfg.TablesFile = c.Tables
	}
	logger = logger.With("worker_id", cfg.WorkerID)

	ids, err := gameid.NewGenerator(cfg.MachineID)
	if err != nil {
		return err
	}

	srv := server.NewServer(cfg.WorkerID, logger)
	reg := registry.New(registry.Config{
		ServerID:           cfg.WorkerID,
		MaxTables:          cfg.MaxTables,
		MaxPlayersPerTable: cfg.MaxPlayersPerTable,
		GracePeriod:        cfg.TableGracePeriod,
	}, ids, registry.WithLogger(logger), registry.WithBroadcaster(srv))
	srv.SetRegistry(reg)

	if err := openPresets(reg, cfg.TablesFile, logger); err != nil {
		return err
	}

	logger.Info("Starting worker",
		"machine_id", cfg.MachineID,
		"listen_addr", cfg.ListenAddr,
		"advertise_addr", cfg.AdvertiseAddr,
		"region", cfg.Region,
		"max_tables", cfg.MaxTables,
		"router", cfg.RouterAddr)

	ctx := shared.SetupSignalHandler(logger)
	g, ctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return reg.Run(ctx) })

	if cfg.RouterAddr != "" {
		client := routing.NewClient(cfg.RouterAddr, &http.Client{Timeout: 5 * time.Second})
		info := routing.ServerInfo{
			ID:        cfg.WorkerID,
			Address:   cfg.AdvertiseAddr,
			Region:    cfg.Region,
			MaxTables: cfg.MaxTables,
		}
		reporter := routing.NewReporter(client, info, cfg.HeartbeatInterval,
			func() routing.Metrics { return workerMetrics(reg, srv) },
			routing.WithReporterLogger(logger))
		g.Go(func() error { return reporter.Run(ctx) })
	} else {
		logger.Warn("ROUTER_ADDR not set, running standalone")
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down worker...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Tables finish their hands before sockets go away.
		err := reg.Shutdown(shutdownCtx)
		srv.Close()
		return errors.Join(err, httpServer.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

func openPresets(reg *registry.Registry, filename string, logger *log.Logger) error {
	if filename == "" {
		return nil
	}
	presets, err := config.LoadPresets(filename)
	if err != nil {
		return fmt.Errorf("loading tables from %s: %w", filename, err)
	}
	for _, p := range presets {
		for range p.Count {
			if _, err := reg.CreateTable(p.Config); err != nil {
				return fmt.Errorf("opening table %q: %w", p.Name, err)
			}
		}
		logger.Info("Opened preset tables", "name", p.Name, "count", p.Count)
	}
	return nil
}

// workerMetrics is the load report sent to the router. Players counts open
// connections, which is what least-connections routing balances.
func workerMetrics(reg *registry.Registry, srv *server.Server) routing.Metrics {
	load := reg.Load()
	assignments := reg.Assignments()
	seated := make([]string, 0, len(assignments))
	for _, a := range assignments {
		seated = append(seated, a.PlayerID)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return routing.Metrics{
		Tables:      load.Tables,
		ActiveGames: load.ActiveGames,
		Players:     srv.Connections(),
		Memory:      float64(mem.HeapInuse) / (1 << 20),
		Seated:      seated,
	}
}
