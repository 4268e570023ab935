// Package registry tracks the tables hosted by one worker process and the
// load they put on it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/holdemgrid/internal/gameid"
	"github.com/lox/holdemgrid/internal/table"
)

var (
	ErrTableLimit     = errors.New("registry: table limit reached")
	ErrTableNotFound  = errors.New("registry: table not found")
	ErrGameInProgress = errors.New("registry: game already in progress")
)

const defaultGracePeriod = 5 * time.Minute

// Config bounds what one worker will host.
type Config struct {
	ServerID           string
	MaxTables          int
	MaxPlayersPerTable int
	// GracePeriod is how long an empty table survives before Sweep closes it.
	GracePeriod time.Duration
}

// Load is the capacity signal reported to the routing authority.
type Load struct {
	Tables      int `json:"tables"`
	ActiveGames int `json:"activeGames"`
	Players     int `json:"players"`
	MaxTables   int `json:"maxTables"`
}

// Assignment records which table a player is seated at.
type Assignment struct {
	PlayerID string    `json:"playerId"`
	TableID  gameid.ID `json:"tableId"`
}

type entry struct {
	info       table.Table
	runner     *table.Runner
	liveGame   gameid.ID
	players    []string
	emptySince time.Time
}

// Registry owns the table runners of a worker. It implements table.Hooks so
// runners can report back without holding references to each other.
type Registry struct {
	cfg    Config
	ids    table.IDGenerator
	clock  quartz.Clock
	logger *log.Logger
	out    table.Broadcaster

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	tables  map[gameid.ID]*entry
	players map[string]gameid.ID
}

// Option configures a Registry.
type Option func(*Registry)

func WithClock(clock quartz.Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithBroadcaster sets where table runners deliver outbound messages.
func WithBroadcaster(b table.Broadcaster) Option {
	return func(r *Registry) { r.out = b }
}

// New creates an empty registry. Table runners it starts live until
// Shutdown.
func New(cfg Config, ids table.IDGenerator, opts ...Option) *Registry {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	r := &Registry{
		cfg:     cfg,
		ids:     ids,
		clock:   quartz.NewReal(),
		logger:  log.Default(),
		tables:  make(map[gameid.ID]*entry),
		players: make(map[string]gameid.ID),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithPrefix("registry")
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// CreateTable validates cfg against the table rules and this worker's
// capacity, then starts a runner for it.
func (r *Registry) CreateTable(cfg table.Config) (table.Table, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return table.Table{}, err
	}
	if r.cfg.MaxPlayersPerTable > 0 && cfg.Seats > r.cfg.MaxPlayersPerTable {
		return table.Table{}, fmt.Errorf("%w: %d seats, this worker allows %d per table",
			ErrTableLimit, cfg.Seats, r.cfg.MaxPlayersPerTable)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.MaxTables > 0 && len(r.tables) >= r.cfg.MaxTables {
		return table.Table{}, fmt.Errorf("%w: hosting %d of %d", ErrTableLimit, len(r.tables), r.cfg.MaxTables)
	}
	id, err := r.ids.Generate()
	if err != nil {
		return table.Table{}, fmt.Errorf("minting table id: %w", err)
	}

	now := r.clock.Now()
	info := table.Table{
		ID:        id,
		ServerID:  r.cfg.ServerID,
		Config:    cfg,
		Status:    table.StatusWaiting,
		CreatedAt: now,
	}
	runner := table.NewRunner(info, r.ids,
		table.WithClock(r.clock),
		table.WithLogger(r.logger.WithPrefix("table")),
		table.WithBroadcaster(r.out),
		table.WithHooks(r),
	)
	r.tables[id] = &entry{info: info, runner: runner, emptySince: now}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		runner.Run(r.ctx)
	}()

	r.logger.Info("Table created", "table_id", id, "name", cfg.Name, "blinds", fmt.Sprintf("%d/%d", cfg.SmallBlind, cfg.BigBlind), "seats", cfg.Seats)
	return info, nil
}

// Runner returns the runner for a table.
func (r *Registry) Runner(id gameid.ID) (*table.Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, id)
	}
	return e.runner, nil
}

// Table returns the last known public state of a table.
func (r *Registry) Table(id gameid.ID) (table.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tables[id]
	if !ok {
		return table.Table{}, fmt.Errorf("%w: %s", ErrTableNotFound, id)
	}
	return e.info, nil
}

// Tables lists hosted tables ordered by id.
func (r *Registry) Tables() []table.Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tables := make([]table.Table, 0, len(r.tables))
	for _, e := range r.tables {
		tables = append(tables, e.info)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].ID < tables[j].ID })
	return tables
}

// TableOf returns the table a player is seated at.
func (r *Registry) TableOf(playerID string) (gameid.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.players[playerID]
	return id, ok
}

// Seated returns the players seated at a table.
func (r *Registry) Seated(tableID gameid.ID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tables[tableID]
	if !ok {
		return nil
	}
	return slices.Clone(e.players)
}

// CloseTable asks a table to close. A hand in progress finishes first.
func (r *Registry) CloseTable(ctx context.Context, id gameid.ID) error {
	runner, err := r.Runner(id)
	if err != nil {
		return err
	}
	return runner.Close(ctx)
}

// BeginGame records gameID as the live game of a table.
func (r *Registry) BeginGame(tableID, gameID gameid.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tables[tableID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}
	if e.liveGame != 0 {
		return fmt.Errorf("%w: table %s is playing %s", ErrGameInProgress, tableID, e.liveGame)
	}
	e.liveGame = gameID
	e.info.CurrentGameID = gameID
	return nil
}

// EndGame clears the live game of a table if it is gameID.
func (r *Registry) EndGame(tableID, gameID gameid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tables[tableID]
	if !ok || e.liveGame != gameID {
		return
	}
	e.liveGame = 0
	e.info.CurrentGameID = 0
}

// Load summarises what this worker is hosting.
func (r *Registry) Load() Load {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l := Load{Tables: len(r.tables), Players: len(r.players), MaxTables: r.cfg.MaxTables}
	for _, e := range r.tables {
		if e.liveGame != 0 {
			l.ActiveGames++
		}
	}
	return l
}

// Assignments lists every seated player and their table, ordered by player.
func (r *Registry) Assignments() []Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Assignment, 0, len(r.players))
	for playerID, tableID := range r.players {
		out = append(out, Assignment{PlayerID: playerID, TableID: tableID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}

// Sweep closes tables that have been empty for longer than the grace
// period and returns how many it asked to close.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.clock.Now()

	r.mu.RLock()
	var idle []*entry
	for _, e := range r.tables {
		if len(e.players) == 0 && e.liveGame == 0 && !e.emptySince.IsZero() &&
			now.Sub(e.emptySince) >= r.cfg.GracePeriod {
			idle = append(idle, e)
		}
	}
	r.mu.RUnlock()

	for _, e := range idle {
		r.logger.Info("Closing idle table", "table_id", e.info.ID, "empty_for", now.Sub(e.emptySince))
		if err := e.runner.Close(ctx); err != nil {
			r.logger.Warn("Failed to close idle table", "table_id", e.info.ID, "error", err)
		}
	}
	return len(idle)
}

// Run sweeps idle tables on a ticker until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	interval := max(r.cfg.GracePeriod/2, time.Second)
	ticker := r.clock.NewTicker(interval, "registry", "sweep")
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Shutdown closes every table, waiting for hands in progress until ctx
// expires, then stops the remaining runners.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	runners := make([]*table.Runner, 0, len(r.tables))
	for _, e := range r.tables {
		runners = append(runners, e.runner)
	}
	r.mu.RUnlock()

	var errs []error
	for _, runner := range runners {
		if err := runner.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, runner := range runners {
		select {
		case <-runner.Done():
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
		if ctx.Err() != nil {
			break
		}
	}
	r.cancel()
	r.wg.Wait()
	return errors.Join(errs...)
}

// GameStarted implements table.Hooks.
func (r *Registry) GameStarted(tableID, gameID gameid.ID) error {
	return r.BeginGame(tableID, gameID)
}

// GameEnded implements table.Hooks.
func (r *Registry) GameEnded(tableID, gameID gameid.ID) {
	r.EndGame(tableID, gameID)
}

// SeatsChanged implements table.Hooks.
func (r *Registry) SeatsChanged(tableID gameid.ID, players []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tables[tableID]
	if !ok {
		return
	}
	for _, id := range e.players {
		if r.players[id] == tableID {
			delete(r.players, id)
		}
	}
	for _, id := range players {
		r.players[id] = tableID
	}
	e.players = slices.Clone(players)
	e.info.Players = len(players)

	switch {
	case len(players) == 0 && e.emptySince.IsZero():
		e.emptySince = r.clock.Now()
		r.logger.Debug("Table empty", "table_id", tableID)
	case len(players) > 0:
		e.emptySince = time.Time{}
	}
}

// StatusChanged implements table.Hooks. Closed tables are forgotten.
func (r *Registry) StatusChanged(tableID gameid.ID, status table.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tables[tableID]
	if !ok {
		return
	}
	e.info.Status = status
	if status != table.StatusClosed {
		return
	}
	for _, id := range e.players {
		if r.players[id] == tableID {
			delete(r.players, id)
		}
	}
	delete(r.tables, tableID)
	r.logger.Info("Table removed", "table_id", tableID)
}
