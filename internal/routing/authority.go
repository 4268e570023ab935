// Package routing implements the routing authority: the registry of worker
// processes and the least-loaded placement of players onto them.
package routing

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultMissedHeartbeats  = 3
	defaultOverloadCPU       = 0.95
)

// Config controls liveness detection.
type Config struct {
	HeartbeatInterval time.Duration
	MissedHeartbeats  int
	// OverloadCPU is the CPU fraction at which a server stops taking players.
	OverloadCPU float64
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.MissedHeartbeats <= 0 {
		c.MissedHeartbeats = defaultMissedHeartbeats
	}
	if c.OverloadCPU <= 0 {
		c.OverloadCPU = defaultOverloadCPU
	}
	return c
}

// snapshot is an immutable view of the server set.
type snapshot struct {
	servers map[string]ServerInfo
	// seats maps player id to the server holding their seat.
	seats map[string]string
}

// Authority tracks worker servers. Reads are lock-free against the latest
// snapshot; writes copy it under mu.
type Authority struct {
	cfg    Config
	clock  quartz.Clock
	logger *log.Logger

	mu    sync.Mutex
	state atomic.Pointer[snapshot]
}

// Option configures an Authority.
type Option func(*Authority)

func WithClock(clock quartz.Clock) Option {
	return func(a *Authority) { a.clock = clock }
}

func WithLogger(logger *log.Logger) Option {
	return func(a *Authority) { a.logger = logger }
}

// New creates an authority with no servers.
func New(cfg Config, opts ...Option) *Authority {
	a := &Authority{
		cfg:    cfg.withDefaults(),
		clock:  quartz.NewReal(),
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithPrefix("routing")
	a.state.Store(&snapshot{servers: map[string]ServerInfo{}, seats: map[string]string{}})
	return a
}

// update applies fn to a private copy of the current snapshot and publishes
// it if fn succeeds.
func (a *Authority) update(fn func(s *snapshot) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := a.state.Load()
	next := &snapshot{servers: maps.Clone(cur.servers), seats: maps.Clone(cur.seats)}
	if err := fn(next); err != nil {
		return err
	}
	a.state.Store(next)
	return nil
}

// RegisterServer adds a worker. An online or maintenance entry with the same
// id is a conflict; an offline one is replaced.
func (a *Authority) RegisterServer(info ServerInfo) (ServerInfo, error) {
	if err := info.Validate(); err != nil {
		return ServerInfo{}, err
	}
	now := a.clock.Now()
	err := a.update(func(s *snapshot) error {
		if existing, ok := s.servers[info.ID]; ok && existing.Status != StatusOffline {
			return fmt.Errorf("%w: %s", ErrDuplicateServer, info.ID)
		}
		dropSeats(s, info.ID)
		info.Status = StatusOnline
		info.RegisteredAt = now
		info.LastHeartbeat = now
		info.Status = a.loadStatus(info)
		info = info.clone()
		for _, p := range info.Metrics.Seated {
			s.seats[p] = info.ID
		}
		s.servers[info.ID] = info
		return nil
	})
	if err != nil {
		return ServerInfo{}, err
	}
	a.logger.Info("Server registered", "server_id", info.ID, "address", info.Address, "region", info.Region, "max_tables", info.MaxTables)
	return info, nil
}

// UnregisterServer forgets a worker and its seats.
func (a *Authority) UnregisterServer(id string) error {
	err := a.update(func(s *snapshot) error {
		if _, ok := s.servers[id]; !ok {
			return fmt.Errorf("%w: %s", ErrServerNotFound, id)
		}
		delete(s.servers, id)
		dropSeats(s, id)
		return nil
	})
	if err == nil {
		a.logger.Info("Server unregistered", "server_id", id)
	}
	return err
}

// Heartbeat records that a worker is alive. An offline worker comes back
// online.
func (a *Authority) Heartbeat(id string) error {
	now := a.clock.Now()
	return a.update(func(s *snapshot) error {
		info, ok := s.servers[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrServerNotFound, id)
		}
		info.LastHeartbeat = now
		if info.Status == StatusOffline {
			a.logger.Info("Server back online", "server_id", id)
			info.Status = StatusOnline
		}
		info.Status = a.loadStatus(info)
		s.servers[id] = info
		return nil
	})
}

// UpdateServerMetrics stores a worker's load report. It also counts as a
// heartbeat.
func (a *Authority) UpdateServerMetrics(id string, m Metrics) error {
	now := a.clock.Now()
	return a.update(func(s *snapshot) error {
		info, ok := s.servers[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrServerNotFound, id)
		}
		info.Metrics = m
		info.LastHeartbeat = now
		if info.Status == StatusOffline {
			info.Status = StatusOnline
		}
		prev := info.Status
		info.Status = a.loadStatus(info)
		if prev != info.Status {
			a.logger.Info("Server load status changed", "server_id", id, "from", prev, "to", info.Status,
				"tables", m.Tables, "cpu", m.CPU)
		}
		info = info.clone()
		s.servers[id] = info

		dropSeats(s, id)
		for _, p := range info.Metrics.Seated {
			s.seats[p] = id
		}
		return nil
	})
}

// SetStatus forces a worker's status, for example into maintenance.
func (a *Authority) SetStatus(id string, status Status) error {
	if status < StatusOnline || status > StatusOverloaded {
		return fmt.Errorf("%w: unknown status %d", ErrInvalidServer, status)
	}
	return a.update(func(s *snapshot) error {
		info, ok := s.servers[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrServerNotFound, id)
		}
		a.logger.Info("Server status set", "server_id", id, "from", info.Status, "to", status)
		info.Status = status
		s.servers[id] = info
		return nil
	})
}

// loadStatus moves a server between online and overloaded based on its last
// report. Offline and maintenance are left alone.
func (a *Authority) loadStatus(info ServerInfo) Status {
	if info.Status != StatusOnline && info.Status != StatusOverloaded {
		return info.Status
	}
	full := info.MaxTables > 0 && info.Metrics.Tables >= info.MaxTables
	if full || info.Metrics.CPU >= a.cfg.OverloadCPU {
		return StatusOverloaded
	}
	return StatusOnline
}

// Sweep marks servers that missed too many heartbeats offline and returns
// how many it changed. Offline servers stay listed until unregistered.
func (a *Authority) Sweep() int {
	cutoff := a.clock.Now().Add(-a.cfg.HeartbeatInterval * time.Duration(a.cfg.MissedHeartbeats))
	changed := 0
	_ = a.update(func(s *snapshot) error {
		for id, info := range s.servers {
			if info.Status == StatusOffline || !info.LastHeartbeat.Before(cutoff) {
				continue
			}
			a.logger.Warn("Server missed heartbeats", "server_id", id, "last_heartbeat", info.LastHeartbeat)
			info.Status = StatusOffline
			s.servers[id] = info
			changed++
		}
		return nil
	})
	return changed
}

// Run sweeps on every heartbeat interval until ctx is cancelled.
func (a *Authority) Run(ctx context.Context) error {
	ticker := a.clock.NewTicker(a.cfg.HeartbeatInterval, "routing", "sweep")
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.Sweep()
		}
	}
}

// Servers lists every known server ordered by id.
func (a *Authority) Servers() []ServerInfo {
	s := a.state.Load()
	out := make([]ServerInfo, 0, len(s.servers))
	for _, info := range s.servers {
		out = append(out, info.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Server returns one server.
func (a *Authority) Server(id string) (ServerInfo, error) {
	info, ok := a.state.Load().servers[id]
	if !ok {
		return ServerInfo{}, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	return info.clone(), nil
}

// FindBestServer picks the online server matching c with the fewest
// connected players. Ties go to the lowest id.
func (a *Authority) FindBestServer(c Criteria) (ServerInfo, error) {
	var (
		best  ServerInfo
		found bool
	)
	for _, info := range a.state.Load().servers {
		if !c.accepts(info) {
			continue
		}
		if !found || info.Metrics.Players < best.Metrics.Players ||
			(info.Metrics.Players == best.Metrics.Players && info.ID < best.ID) {
			best, found = info, true
		}
	}
	if !found {
		return ServerInfo{}, ErrNoServerAvailable
	}
	return best.clone(), nil
}

// RoutePlayerToServer sends a player back to the server holding their seat
// while it is online, and otherwise to the best server for c.
func (a *Authority) RoutePlayerToServer(playerID string, c Criteria) (ServerInfo, error) {
	s := a.state.Load()
	if id, ok := s.seats[playerID]; ok {
		if info, ok := s.servers[id]; ok && (info.Status == StatusOnline || info.Status == StatusOverloaded) {
			return info.clone(), nil
		}
	}
	return a.FindBestServer(c)
}

func dropSeats(s *snapshot, serverID string) {
	for player, id := range s.seats {
		if id == serverID {
			delete(s.seats, player)
		}
	}
}
