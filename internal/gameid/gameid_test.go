package gameid

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// manualClock is a quartz clock whose Now is set by the test, including
// moving it backwards.
type manualClock struct {
	quartz.Clock
	mu  sync.Mutex
	now time.Time
}

func newManualClock(t time.Time) *manualClock {
	return &manualClock{Clock: quartz.NewReal(), now: t}
}

func (c *manualClock) Now(...string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestNewGeneratorRejectsMachineID(t *testing.T) {
	t.Parallel()

	for _, id := range []int64{-1, 1024, 1 << 20} {
		_, err := NewGenerator(id)
		assert.ErrorIs(t, err, ErrInvalidMachineID, "machine id %d", id)
	}

	for _, id := range []int64{0, 1, 1023} {
		g, err := NewGenerator(id)
		require.NoError(t, err)
		assert.Equal(t, id, g.MachineID())
	}
}

func TestGenerateStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	g, err := NewGenerator(7)
	require.NoError(t, err)

	var prev ID
	for i := 0; i < 20000; i++ {
		id, err := g.Generate()
		require.NoError(t, err)
		require.Greater(t, id, prev, "id %d not greater than previous", i)
		prev = id
	}
}

func TestGenerateDistinctMachinesNeverCollide(t *testing.T) {
	t.Parallel()

	const perMachine = 5000
	machines := []int64{1, 2, 513}
	results := make([][]ID, len(machines))

	var eg errgroup.Group
	for i, m := range machines {
		g, err := NewGenerator(m)
		require.NoError(t, err)
		eg.Go(func() error {
			ids := make([]ID, 0, perMachine)
			for range perMachine {
				id, err := g.Generate()
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			results[i] = ids
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	seen := make(map[ID]int64, perMachine*len(machines))
	for i, ids := range results {
		for _, id := range ids {
			if other, dup := seen[id]; dup {
				t.Fatalf("id %s minted by machines %d and %d", id, other, machines[i])
			}
			seen[id] = machines[i]
			assert.True(t, IsFromMachine(id, machines[i]))
		}
	}
}

func TestGenerateConcurrentCallersSingleGenerator(t *testing.T) {
	t.Parallel()

	g, err := NewGenerator(3)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[ID]struct{})
	var eg errgroup.Group
	for range 8 {
		eg.Go(func() error {
			for range 1000 {
				id, err := g.Generate()
				if err != nil {
					return err
				}
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Len(t, seen, 8000)
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	g, err := NewGenerator(1023)
	require.NoError(t, err)

	before := time.Now().Truncate(time.Millisecond)
	id, err := g.Generate()
	require.NoError(t, err)
	after := time.Now()

	parts := Parse(id)
	assert.Equal(t, int64(1023), parts.MachineID)
	assert.False(t, parts.Timestamp.Before(before), "timestamp %s before %s", parts.Timestamp, before)
	assert.False(t, parts.Timestamp.After(after), "timestamp %s after %s", parts.Timestamp, after)
	assert.True(t, IsFromMachine(id, 1023))
	assert.False(t, IsFromMachine(id, 1022))
	assert.Positive(t, int64(id), "sign bit must be clear")
}

func TestGenerateClockSkew(t *testing.T) {
	t.Parallel()

	start := Epoch.Add(365 * 24 * time.Hour)
	clock := newManualClock(start)
	g, err := NewGenerator(5, WithClock(clock))
	require.NoError(t, err)

	first, err := g.Generate()
	require.NoError(t, err)

	clock.Set(start.Add(-3 * time.Millisecond))
	_, err = g.Generate()
	require.ErrorIs(t, err, ErrClockSkew)

	var skew *ClockSkewError
	require.True(t, errors.As(err, &skew))
	assert.Equal(t, int64(3), skew.Last-skew.Current)

	// Recovers once the clock catches up, still ordered after the first id.
	clock.Set(start.Add(time.Millisecond))
	next, err := g.Generate()
	require.NoError(t, err)
	assert.Greater(t, next, first)
}

func TestGenerateBeforeEpoch(t *testing.T) {
	t.Parallel()

	g, err := NewGenerator(1, WithClock(newManualClock(Epoch.Add(-time.Second))))
	require.NoError(t, err)
	_, err = g.Generate()
	assert.ErrorIs(t, err, ErrClockBeforeEpoch)
}

func TestGenerateSequenceOverflowWaitsForNextMillisecond(t *testing.T) {
	t.Parallel()

	start := Epoch.Add(time.Hour)
	clock := newManualClock(start)
	g, err := NewGenerator(9, WithClock(clock))
	require.NoError(t, err)

	var last ID
	for i := 0; i <= maxSequence; i++ {
		last, err = g.Generate()
		require.NoError(t, err)
	}
	assert.Equal(t, int64(maxSequence), Parse(last).Sequence)

	done := make(chan ID, 1)
	go func() {
		id, err := g.Generate()
		if err == nil {
			done <- id
		}
	}()

	select {
	case <-done:
		t.Fatal("generate returned before the clock advanced")
	case <-time.After(20 * time.Millisecond):
	}

	clock.Set(start.Add(time.Millisecond))

	select {
	case id := <-done:
		assert.Greater(t, id, last)
		parts := Parse(id)
		assert.Equal(t, int64(0), parts.Sequence)
		assert.Equal(t, start.Add(time.Millisecond), parts.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("generate did not resume after the clock advanced")
	}
}

func TestParseID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    ID
		wantErr bool
	}{
		{name: "digits", in: "123456789", want: 123456789},
		{name: "zero", in: "0", want: 0},
		{name: "empty", in: "", wantErr: true},
		{name: "sign", in: "-12", wantErr: true},
		{name: "letters", in: "12a4", wantErr: true},
		{name: "space", in: " 12", wantErr: true},
		{name: "overflow", in: "99999999999999999999", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseID(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrMalformedID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIDJSONIsDigitString(t *testing.T) {
	t.Parallel()

	payload := struct {
		ID ID `json:"id"`
	}{ID: 7301546716749824001}

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"7301546716749824001"}`, string(data))

	var decoded struct {
		ID ID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, payload.ID, decoded.ID)

	assert.Error(t, json.Unmarshal([]byte(`{"id":7301546716749824001}`), &decoded))
}
