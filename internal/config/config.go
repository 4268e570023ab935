// Package config loads process settings from the environment and table
// presets from HCL files.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/lox/holdemgrid/internal/gameid"
)

// WorkerConfig configures a worker process.
type WorkerConfig struct {
	MachineID          int64         `env:"MACHINE_ID,required"`
	WorkerID           string        `env:"WORKER_ID"`
	ListenAddr         string        `env:"LISTEN_ADDR" envDefault:":8080"`
	AdvertiseAddr      string        `env:"ADVERTISE_ADDR"`
	Region             string        `env:"REGION"`
	RouterAddr         string        `env:"ROUTER_ADDR"`
	MaxTables          int           `env:"MAX_TABLES" envDefault:"100"`
	MaxPlayersPerTable int           `env:"MAX_PLAYERS_PER_TABLE" envDefault:"10"`
	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"5s"`
	TableGracePeriod   time.Duration `env:"TABLE_GRACE_PERIOD" envDefault:"5m"`
	TablesFile         string        `env:"TABLES_FILE"`
}

// RouterConfig configures the routing authority process.
type RouterConfig struct {
	ListenAddr        string        `env:"ROUTER_LISTEN_ADDR" envDefault:":9090"`
	HeartbeatInterval time.Duration `env:"ROUTER_HEARTBEAT_INTERVAL" envDefault:"5s"`
	MissedHeartbeats  int           `env:"ROUTER_MISSED_HEARTBEATS" envDefault:"3"`
}

// LoadWorker reads the worker environment. A missing or out of range
// MACHINE_ID is an error; ids from two workers sharing one would collide.
func LoadWorker() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	if cfg.MachineID < 0 || cfg.MachineID > gameid.MaxMachineID {
		return cfg, fmt.Errorf("MACHINE_ID: %w: got %d", gameid.ErrInvalidMachineID, cfg.MachineID)
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = fmt.Sprintf("worker-%d", cfg.MachineID)
	}
	if cfg.AdvertiseAddr == "" {
		host, port, err := net.SplitHostPort(cfg.ListenAddr)
		if err != nil {
			return cfg, fmt.Errorf("LISTEN_ADDR: %w", err)
		}
		if host == "" {
			host = "localhost"
		}
		cfg.AdvertiseAddr = net.JoinHostPort(host, port)
	}
	if cfg.MaxTables < 0 || cfg.MaxPlayersPerTable < 0 {
		return cfg, fmt.Errorf("MAX_TABLES and MAX_PLAYERS_PER_TABLE must not be negative")
	}
	if cfg.HeartbeatInterval <= 0 {
		return cfg, fmt.Errorf("HEARTBEAT_INTERVAL must be positive, got %s", cfg.HeartbeatInterval)
	}
	return cfg, nil
}

// LoadRouter reads the router environment.
func LoadRouter() (RouterConfig, error) {
	var cfg RouterConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	if cfg.HeartbeatInterval <= 0 {
		return cfg, fmt.Errorf("ROUTER_HEARTBEAT_INTERVAL must be positive, got %s", cfg.HeartbeatInterval)
	}
	if cfg.MissedHeartbeats < 1 {
		return cfg, fmt.Errorf("ROUTER_MISSED_HEARTBEATS must be at least 1, got %d", cfg.MissedHeartbeats)
	}
	return cfg, nil
}
