package main

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/holdemgrid/internal/gameid"
	"github.com/lox/holdemgrid/internal/registry"
	"github.com/lox/holdemgrid/internal/routing"
	"github.com/lox/holdemgrid/internal/server"
	"github.com/lox/holdemgrid/internal/table"
)

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

func TestRenderServers(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	renderServers(&buf, nil)
	assert.Equal(t, "No servers registered\n", buf.String())

	buf.Reset()
	renderServers(&buf, []routing.ServerInfo{
		{ID: "w1", Status: routing.StatusOnline, Address: "10.0.0.1:8080", Region: "eu", MaxTables: 10,
			Metrics: routing.Metrics{Tables: 4, Players: 12, CPU: 0.5}},
		{ID: "w2", Status: routing.StatusOffline, Address: "10.0.0.2:8080"},
	})
	out := buf.String()
	for _, want := range []string{"STATUS", "w1", "online", "10.0.0.1:8080", "eu", "50%", "w2", "offline", "unlimited"} {
		assert.Contains(t, out, want)
	}
}

func TestWorkerMetrics(t *testing.T) {
	t.Parallel()
	ids, err := gameid.NewGenerator(3)
	require.NoError(t, err)
	srv := server.NewServer("w1", quietLogger())
	reg := registry.New(registry.Config{ServerID: "w1", MaxTables: 2}, ids,
		registry.WithLogger(quietLogger()), registry.WithBroadcaster(srv))
	srv.SetRegistry(reg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})

	info, err := reg.CreateTable(table.Config{SmallBlind: 1, BigBlind: 2})
	require.NoError(t, err)
	runner, err := reg.Runner(info.ID)
	require.NoError(t, err)
	_, err = runner.Join(t.Context(), "alice", 100, -1)
	require.NoError(t, err)

	m := workerMetrics(reg, srv)
	assert.Equal(t, 1, m.Tables)
	assert.Zero(t, m.ActiveGames)
	assert.Zero(t, m.Players, "no open connections")
	assert.Equal(t, []string{"alice"}, m.Seated)
	assert.Positive(t, m.Memory)
}
