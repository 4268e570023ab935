package registry

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/holdemgrid/internal/game"
	"github.com/lox/holdemgrid/internal/gameid"
	"github.com/lox/holdemgrid/internal/table"
)

type sequentialIDs struct{ n atomic.Int64 }

func (s *sequentialIDs) Generate() (gameid.ID, error) {
	return gameid.ID(s.n.Add(1000)), nil
}

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	logger := log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
	r := New(cfg, &sequentialIDs{}, WithClock(clock), WithLogger(logger))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r, clock
}

func cashGame() table.Config {
	return table.Config{SmallBlind: 5, BigBlind: 10, Seats: 6}
}

func TestCreateTableValidates(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t, Config{ServerID: "w1", MaxTables: 2, MaxPlayersPerTable: 6})

	tests := []struct {
		name string
		cfg  table.Config
		want error
	}{
		{"one seat", table.Config{SmallBlind: 5, BigBlind: 10, Seats: 1}, table.ErrInvalidConfig},
		{"blinds reversed", table.Config{SmallBlind: 10, BigBlind: 5}, table.ErrInvalidConfig},
		{"buy-in below big blind", table.Config{SmallBlind: 5, BigBlind: 10, MinBuyIn: 5, MaxBuyIn: 100}, table.ErrInvalidConfig},
		{"more seats than the worker allows", table.Config{SmallBlind: 5, BigBlind: 10, Seats: 9}, ErrTableLimit},
	}
	for _, tc := range tests {
		_, err := r.CreateTable(tc.cfg)
		assert.ErrorIs(t, err, tc.want, tc.name)
	}
	assert.Zero(t, r.Load().Tables, "rejected tables mint nothing")

	first, err := r.CreateTable(cashGame())
	require.NoError(t, err)
	assert.Equal(t, "w1", first.ServerID)
	assert.Equal(t, table.StatusWaiting, first.Status)
	assert.Equal(t, 200, first.Config.MinBuyIn)

	_, err = r.CreateTable(cashGame())
	require.NoError(t, err)
	_, err = r.CreateTable(cashGame())
	require.ErrorIs(t, err, ErrTableLimit)

	tables := r.Tables()
	require.Len(t, tables, 2)
	assert.Less(t, tables[0].ID, tables[1].ID)
}

func TestOneLiveGamePerTable(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t, Config{})
	tbl, err := r.CreateTable(cashGame())
	require.NoError(t, err)

	require.NoError(t, r.BeginGame(tbl.ID, 1))
	require.ErrorIs(t, r.BeginGame(tbl.ID, 2), ErrGameInProgress)
	assert.Equal(t, 1, r.Load().ActiveGames)

	r.EndGame(tbl.ID, 2)
	assert.Equal(t, 1, r.Load().ActiveGames, "ending a different game is ignored")
	r.EndGame(tbl.ID, 1)
	assert.Zero(t, r.Load().ActiveGames)
	require.NoError(t, r.BeginGame(tbl.ID, 2))

	require.ErrorIs(t, r.BeginGame(42, 3), ErrTableNotFound)
}

func TestSeatsDriveLoadAndAssignments(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t, Config{MaxTables: 4})
	ctx := t.Context()

	a, err := r.CreateTable(cashGame())
	require.NoError(t, err)
	b, err := r.CreateTable(cashGame())
	require.NoError(t, err)

	join := func(tableID gameid.ID, player string) {
		runner, err := r.Runner(tableID)
		require.NoError(t, err)
		_, err = runner.Join(ctx, player, 500, -1)
		require.NoError(t, err)
	}
	join(a.ID, "carol")
	join(a.ID, "alice")
	join(b.ID, "bob")

	assert.Equal(t, Load{Tables: 2, Players: 3, MaxTables: 4}, r.Load())
	assert.Equal(t, []Assignment{
		{PlayerID: "alice", TableID: a.ID},
		{PlayerID: "bob", TableID: b.ID},
		{PlayerID: "carol", TableID: a.ID},
	}, r.Assignments())

	id, ok := r.TableOf("bob")
	require.True(t, ok)
	assert.Equal(t, b.ID, id)
	assert.Equal(t, []string{"carol", "alice"}, r.Seated(a.ID), "seat order")
	assert.Nil(t, r.Seated(99))

	runner, err := r.Runner(a.ID)
	require.NoError(t, err)
	require.NoError(t, runner.StartHand(ctx))
	info, err := r.Table(a.ID)
	require.NoError(t, err)
	assert.Equal(t, table.StatusActive, info.Status)
	assert.NotZero(t, info.CurrentGameID)
	assert.Equal(t, 1, r.Load().ActiveGames)

	st, err := runner.Snapshot(ctx, "")
	require.NoError(t, err)
	require.NoError(t, runner.Act(ctx, game.Action{Type: game.Fold, PlayerID: st.Game.Actor}))
	_, err = runner.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, r.Load().ActiveGames)

	require.NoError(t, runner.Leave(ctx, "alice"))
	_, ok = r.TableOf("alice")
	assert.False(t, ok)
	assert.Equal(t, 2, r.Load().Players)
}

func TestSweepClosesIdleTables(t *testing.T) {
	t.Parallel()
	r, clock := newTestRegistry(t, Config{GracePeriod: time.Minute})
	ctx := t.Context()

	idle, err := r.CreateTable(cashGame())
	require.NoError(t, err)
	busy, err := r.CreateTable(cashGame())
	require.NoError(t, err)
	runner, err := r.Runner(busy.ID)
	require.NoError(t, err)
	_, err = runner.Join(ctx, "alice", 500, -1)
	require.NoError(t, err)

	clock.Advance(30 * time.Second).MustWait(ctx)
	assert.Zero(t, r.Sweep(ctx), "still inside the grace period")

	clock.Advance(30 * time.Second).MustWait(ctx)
	assert.Equal(t, 1, r.Sweep(ctx))

	closed, err := r.Runner(idle.ID)
	require.ErrorIs(t, err, ErrTableNotFound)
	assert.Nil(t, closed)
	_, err = r.Runner(busy.ID)
	require.NoError(t, err)

	// Emptying the other table starts its grace period afresh.
	require.NoError(t, runner.Leave(ctx, "alice"))
	assert.Zero(t, r.Sweep(ctx))
	clock.Advance(time.Minute).MustWait(ctx)
	assert.Equal(t, 1, r.Sweep(ctx))
	assert.Zero(t, r.Load().Tables)
}

func TestRunSweepsOnTicker(t *testing.T) {
	t.Parallel()
	r, clock := newTestRegistry(t, Config{GracePeriod: 10 * time.Second})
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	_, err := r.CreateTable(cashGame())
	require.NoError(t, err)

	trap := clock.Trap().NewTicker("registry", "sweep")
	defer trap.Close()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	trap.MustWait(ctx).MustRelease(ctx)

	clock.Advance(5 * time.Second).MustWait(ctx)
	clock.Advance(5 * time.Second).MustWait(ctx)
	require.Eventually(t, func() bool { return r.Load().Tables == 0 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestShutdownClosesTables(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t, Config{})
	tbl, err := r.CreateTable(cashGame())
	require.NoError(t, err)
	runner, err := r.Runner(tbl.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	select {
	case <-runner.Done():
	default:
		t.Fatal("runner still running after shutdown")
	}
	assert.Zero(t, r.Load().Tables)
}
