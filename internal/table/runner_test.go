package table

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/holdemgrid/internal/game"
	"github.com/lox/holdemgrid/internal/gameid"
)

type counterIDs struct{ n atomic.Int64 }

func (c *counterIDs) Generate() (gameid.ID, error) {
	return gameid.ID(c.n.Add(1)), nil
}

type sent struct {
	to  string
	msg Message
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recorder) Broadcast(_ gameid.ID, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{msg: msg})
}

func (r *recorder) Send(playerID string, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{to: playerID, msg: msg})
}

// last returns the most recent message of type t sent to playerID, or
// broadcast when playerID is empty.
func (r *recorder) last(playerID string, t MessageType) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if m := r.msgs[i]; m.to == playerID && m.msg.Type == t {
			return m.msg, true
		}
	}
	return Message{}, false
}

func (r *recorder) count(t MessageType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.msg.Type == t {
			n++
		}
	}
	return n
}

type hookLog struct {
	mu       sync.Mutex
	started  []gameid.ID
	ended    []gameid.ID
	seats    [][]string
	statuses []Status
	startErr error
}

func (h *hookLog) GameStarted(_, gameID gameid.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startErr != nil {
		return h.startErr
	}
	h.started = append(h.started, gameID)
	return nil
}

func (h *hookLog) GameEnded(_, gameID gameid.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ended = append(h.ended, gameID)
}

func (h *hookLog) SeatsChanged(_ gameid.ID, players []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seats = append(h.seats, players)
}

func (h *hookLog) StatusChanged(_ gameid.ID, status Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, status)
}

type harness struct {
	runner *Runner
	clock  *quartz.Mock
	out    *recorder
	hooks  *hookLog
}

func testConfig() Config {
	return Config{
		SmallBlind:      5,
		BigBlind:        10,
		ActionTimeout:   10 * time.Second,
		DisconnectGrace: 30 * time.Second,
	}.WithDefaults()
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	require.NoError(t, cfg.Validate())

	h := &harness{clock: quartz.NewMock(t), out: &recorder{}, hooks: &hookLog{}}
	logger := log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
	h.runner = NewRunner(Table{ID: 1, Config: cfg}, &counterIDs{},
		WithClock(h.clock), WithLogger(logger), WithBroadcaster(h.out), WithHooks(h.hooks))

	ctx, cancel := context.WithCancel(context.Background())
	go h.runner.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.runner.Done()
	})
	return h
}

func (h *harness) seat(t *testing.T, players ...string) {
	t.Helper()
	for i, id := range players {
		_, err := h.runner.Join(t.Context(), id, 1000, i)
		require.NoError(t, err)
	}
}

func (h *harness) snapshot(t *testing.T, playerID string) State {
	t.Helper()
	st, err := h.runner.Snapshot(t.Context(), playerID)
	require.NoError(t, err)
	return st
}

// fire advances the mock clock to the next timer and waits for the command
// it enqueued to be processed.
func (h *harness) fire(t *testing.T) time.Duration {
	t.Helper()
	d, w := h.clock.AdvanceNext()
	w.MustWait(t.Context())
	h.snapshot(t, "")
	return d
}

func chipsOf(st State) map[string]int {
	chips := make(map[string]int, len(st.Seats))
	for _, s := range st.Seats {
		chips[s.PlayerID] = s.Chips
	}
	return chips
}

func TestJoinValidation(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Seats = 2
	h := newHarness(t, cfg)
	ctx := t.Context()

	_, err := h.runner.Join(ctx, "p0", 50, 0)
	require.ErrorIs(t, err, ErrInvalidBuyIn)
	_, err = h.runner.Join(ctx, "p0", 1000, 5)
	require.ErrorIs(t, err, ErrInvalidSeat)

	info, err := h.runner.Join(ctx, "p0", 1000, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Seat)

	again, err := h.runner.Join(ctx, "p0", 500, 1)
	require.NoError(t, err)
	assert.Equal(t, info, again, "joining twice returns the existing seat")

	_, err = h.runner.Join(ctx, "p1", 1000, 0)
	require.ErrorIs(t, err, ErrSeatTaken)
	_, err = h.runner.Join(ctx, "p1", 1000, -1)
	require.NoError(t, err)
	_, err = h.runner.Join(ctx, "p2", 1000, -1)
	require.ErrorIs(t, err, ErrTableFull)

	require.ErrorIs(t, h.runner.Leave(ctx, "nobody"), ErrNotSeated)
	require.NoError(t, h.runner.Leave(ctx, "p1"))

	st := h.snapshot(t, "")
	assert.Equal(t, 1, st.Table.Players)
	assert.Equal(t, 1, h.out.count(MessagePlayerLeft))
	assert.Equal(t, 2, h.out.count(MessagePlayerJoined))
}

func TestStartHandNeedsTwoFundedPlayers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	h.seat(t, "p0")

	err := h.runner.StartHand(t.Context())
	require.ErrorIs(t, err, game.ErrNotEnoughPlayers)
	assert.Empty(t, h.hooks.started)
}

func TestHandLifecycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	h.seat(t, "p0", "p1")
	ctx := t.Context()

	require.NoError(t, h.runner.StartHand(ctx))
	require.ErrorIs(t, h.runner.StartHand(ctx), ErrHandRunning)

	st := h.snapshot(t, "p0")
	require.NotNil(t, st.Game)
	assert.Equal(t, StatusActive, st.Table.Status)
	assert.Equal(t, "p0", st.Game.Actor, "heads-up the button acts first preflop")
	assert.Len(t, st.Game.Players[0].HoleCards, 2)
	assert.Empty(t, st.Game.Players[1].HoleCards, "opponent cards are hidden")

	msg, ok := h.out.last("p0", MessageActionRequired)
	require.True(t, ok)
	prompt := msg.Data.(ActionPrompt)
	assert.Equal(t, st.Game.ID, prompt.GameID)
	assert.Equal(t, int64(10000), prompt.TimeRemainingMs)
	assert.Contains(t, prompt.ValidActions, game.ValidAction{Type: game.Call, Min: 5, Max: 5})

	require.NoError(t, h.runner.Act(ctx, game.Action{Type: game.Fold, PlayerID: "p0"}))

	st = h.snapshot(t, "")
	assert.Nil(t, st.Game)
	assert.Equal(t, StatusWaiting, st.Table.Status)
	assert.Equal(t, 1, st.Table.HandsPlayed)
	assert.Equal(t, map[string]int{"p0": 995, "p1": 1005}, chipsOf(st))

	result, ok := h.out.last("", MessageHandResult)
	require.True(t, ok)
	summary := result.Data.(*game.HandSummary)
	assert.Equal(t, map[string]int{"p1": 15}, summary.Payouts)
	assert.False(t, summary.Showdown)

	h.hooks.mu.Lock()
	defer h.hooks.mu.Unlock()
	assert.Equal(t, h.hooks.started, h.hooks.ended)
	assert.Equal(t, []Status{StatusActive, StatusWaiting}, h.hooks.statuses)
}

func TestRejectedActionIsReportedToPlayer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	h.seat(t, "p0", "p1")
	ctx := t.Context()

	require.NoError(t, h.runner.Act(ctx, game.Action{Type: game.Check, PlayerID: "p0"}))
	h.snapshot(t, "")
	msg, ok := h.out.last("p0", MessageError)
	require.True(t, ok)
	assert.Equal(t, "no_active_game", msg.Data.(ErrorData).Code)

	require.NoError(t, h.runner.StartHand(ctx))
	before := h.snapshot(t, "")

	require.NoError(t, h.runner.Act(ctx, game.Action{Type: game.Call, PlayerID: "p1"}))
	after := h.snapshot(t, "")
	assert.Equal(t, before, after)

	msg, ok = h.out.last("p1", MessageError)
	require.True(t, ok)
	assert.Equal(t, "action_out_of_turn", msg.Data.(ErrorData).Code)
}

func TestDeadlineFoldsIdlePlayer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	h.seat(t, "p0", "p1")
	require.NoError(t, h.runner.StartHand(t.Context()))

	assert.Equal(t, 10*time.Second, h.fire(t))

	st := h.snapshot(t, "")
	assert.Nil(t, st.Game, "facing the big blind the timeout folds")
	assert.Equal(t, map[string]int{"p0": 995, "p1": 1005}, chipsOf(st))

	result, ok := h.out.last("", MessageHandResult)
	require.True(t, ok)
	actions := result.Data.(*game.HandSummary).Actions
	require.NotEmpty(t, actions)
	last := actions[len(actions)-1]
	assert.Equal(t, game.Fold, last.Type)
	assert.True(t, last.Implicit)
}

func TestDeadlineChecksWhenNothingOwed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	h.seat(t, "p0", "p1")
	ctx := t.Context()
	require.NoError(t, h.runner.StartHand(ctx))
	require.NoError(t, h.runner.Act(ctx, game.Action{Type: game.Call, PlayerID: "p0"}))

	st := h.snapshot(t, "")
	require.Equal(t, "p1", st.Game.Actor)
	seq := st.Game.ActionSeq

	h.fire(t)

	st = h.snapshot(t, "")
	require.NotNil(t, st.Game)
	assert.Equal(t, game.Flop, st.Game.Phase, "the big blind checks and the flop is dealt")
	assert.Len(t, st.Game.Board, 3)
	assert.Greater(t, st.Game.ActionSeq, seq)
}

func TestStaleDeadlineIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	h.seat(t, "p0", "p1")
	ctx := t.Context()
	require.NoError(t, h.runner.StartHand(ctx))
	st := h.snapshot(t, "")

	// A timer armed for an earlier action must not act on the new actor.
	require.NoError(t, h.runner.Act(ctx, game.Action{Type: game.Call, PlayerID: "p0"}))
	require.NoError(t, h.runner.submit(ctx, func(r *Runner) { r.onDeadline(st.Game.ID, st.Game.ActionSeq) }))

	after := h.snapshot(t, "")
	require.NotNil(t, after.Game)
	assert.Equal(t, game.Preflop, after.Game.Phase)
	assert.Equal(t, "p1", after.Game.Actor)
}

func TestDisconnectExtendsDeadlineToGrace(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	h.seat(t, "p0", "p1")
	ctx := t.Context()
	require.NoError(t, h.runner.StartHand(ctx))

	require.NoError(t, h.runner.Disconnect(ctx, "p0"))
	st := h.snapshot(t, "")
	assert.Equal(t, game.StatusDisconnected, st.Game.Players[0].Status)
	assert.Equal(t, h.clock.Now().Add(30*time.Second), st.Game.ActionDeadline)

	assert.Equal(t, 30*time.Second, h.fire(t))
	st = h.snapshot(t, "")
	assert.Nil(t, st.Game, "the disconnected player is folded at the end of the grace period")
}

func TestReconnectResendsState(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	h.seat(t, "p0", "p1")
	ctx := t.Context()
	require.NoError(t, h.runner.StartHand(ctx))
	require.NoError(t, h.runner.Disconnect(ctx, "p0"))
	h.snapshot(t, "")
	prompts := h.out.count(MessageActionRequired)

	require.NoError(t, h.runner.Reconnect(ctx, "p0"))
	st := h.snapshot(t, "")
	assert.Equal(t, game.StatusActive, st.Game.Players[0].Status)
	assert.Equal(t, prompts+1, h.out.count(MessageActionRequired))
	assert.True(t, st.Seats[0].Connected)
}

func TestLeaveOnTurnResolvesImmediately(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	h.seat(t, "p0", "p1", "p2")
	ctx := t.Context()
	require.NoError(t, h.runner.StartHand(ctx))

	st := h.snapshot(t, "")
	require.Equal(t, "p0", st.Game.Actor, "three-handed the button is under the gun")

	require.NoError(t, h.runner.Leave(ctx, "p0"))
	st = h.snapshot(t, "")
	require.NotNil(t, st.Game)
	assert.Equal(t, "p1", st.Game.Actor)
	assert.Equal(t, game.StatusFolded, st.Game.Players[0].Status)
	assert.Len(t, st.Seats, 2, "a folded player leaves straight away")
	assert.Equal(t, map[string]int{"p1": 1000, "p2": 1000}, chipsOf(st))
}

func TestRejoinMidHandKeepsNewBuyIn(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	h.seat(t, "p0", "p1", "p2")
	ctx := t.Context()
	require.NoError(t, h.runner.StartHand(ctx))

	// p0 folds by leaving, then sits back down while the hand is still live.
	require.NoError(t, h.runner.Leave(ctx, "p0"))
	_, err := h.runner.Join(ctx, "p0", 500, 0)
	require.NoError(t, err)

	// Leaving again reports the new stack, not the one left in the hand.
	require.NoError(t, h.runner.Leave(ctx, "p0"))
	left, ok := h.out.last("", MessagePlayerLeft)
	require.True(t, ok)
	assert.Equal(t, 500, left.Data.(SeatChange).Seat.Chips)

	_, err = h.runner.Join(ctx, "p0", 500, 0)
	require.NoError(t, err)

	require.NoError(t, h.runner.Act(ctx, game.Action{Type: game.Fold, PlayerID: "p1"}))
	st := h.snapshot(t, "")
	require.Nil(t, st.Game)
	assert.Equal(t, 1, st.Table.HandsPlayed)
	assert.Equal(t, map[string]int{"p0": 500, "p1": 995, "p2": 1005}, chipsOf(st))
}

func TestLeaveInHandWaitsForHandEnd(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	h.seat(t, "p0", "p1", "p2")
	ctx := t.Context()
	require.NoError(t, h.runner.StartHand(ctx))

	// p2 is the big blind and still in the hand.
	require.NoError(t, h.runner.Leave(ctx, "p2"))
	st := h.snapshot(t, "")
	assert.Len(t, st.Seats, 3)

	require.NoError(t, h.runner.Act(ctx, game.Action{Type: game.Call, PlayerID: "p0"}))
	require.NoError(t, h.runner.Act(ctx, game.Action{Type: game.Call, PlayerID: "p1"}))

	// p2's option is checked for them, then play continues on the flop.
	st = h.snapshot(t, "")
	require.NotNil(t, st.Game)
	assert.Equal(t, game.Flop, st.Game.Phase)

	for st.Game != nil {
		actor := st.Game.Actor
		require.NotEqual(t, "p2", actor)
		require.NoError(t, h.runner.Act(ctx, game.Action{Type: game.Check, PlayerID: actor}))
		st = h.snapshot(t, "")
	}
	assert.Len(t, st.Seats, 2)
	_, seated := chipsOf(st)["p2"]
	assert.False(t, seated)
}

func TestAutoStart(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.AutoStartDelay = 2 * time.Second
	h := newHarness(t, cfg)
	h.seat(t, "p0", "p1")

	assert.Equal(t, 2*time.Second, h.fire(t))
	st := h.snapshot(t, "")
	require.NotNil(t, st.Game)

	require.NoError(t, h.runner.Act(t.Context(), game.Action{Type: game.Fold, PlayerID: st.Game.Actor}))
	assert.Equal(t, 2*time.Second, h.fire(t))
	st = h.snapshot(t, "")
	require.NotNil(t, st.Game)
	assert.Equal(t, 1, st.Table.HandsPlayed)
	assert.Equal(t, 1, st.Game.Players[st.Game.Dealer].Seat, "the button moves one seat")
}

func TestPauseStopsNewHands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	h.seat(t, "p0", "p1")
	ctx := t.Context()

	require.NoError(t, h.runner.Pause(ctx))
	require.ErrorIs(t, h.runner.StartHand(ctx), ErrPaused)
	require.NoError(t, h.runner.Resume(ctx))
	require.NoError(t, h.runner.StartHand(ctx))
}

func TestBlindSchedule(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.BlindSchedule = []BlindLevel{
		{SmallBlind: 5, BigBlind: 10, Hands: 1},
		{SmallBlind: 10, BigBlind: 20, Ante: 2},
	}
	h := newHarness(t, cfg)
	h.seat(t, "p0", "p1")
	ctx := t.Context()

	require.NoError(t, h.runner.StartHand(ctx))
	st := h.snapshot(t, "")
	assert.Equal(t, 10, st.Game.BigBlindAmount)
	require.NoError(t, h.runner.Act(ctx, game.Action{Type: game.Fold, PlayerID: st.Game.Actor}))

	require.NoError(t, h.runner.StartHand(ctx))
	st = h.snapshot(t, "")
	assert.Equal(t, 1, st.Table.BlindLevel)
	assert.Equal(t, 20, st.Game.BigBlindAmount)
	assert.Equal(t, 2, st.Game.Ante)
}

func TestBustedPlayerSitsOut(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	seed := int64(7)
	cfg.Seed = &seed
	h := newHarness(t, cfg)
	h.seat(t, "p0", "p1")
	ctx := t.Context()

	require.NoError(t, h.runner.StartHand(ctx))
	require.NoError(t, h.runner.Act(ctx, game.Action{Type: game.AllIn, PlayerID: "p0"}))
	require.NoError(t, h.runner.Act(ctx, game.Action{Type: game.Call, PlayerID: "p1"}))

	st := h.snapshot(t, "")
	require.Nil(t, st.Game)
	total := 0
	for _, s := range st.Seats {
		total += s.Chips
		if s.Chips == 0 {
			assert.True(t, s.SittingOut, "%s has no chips", s.PlayerID)
		}
	}
	assert.Equal(t, 2000, total)
}

func TestGameStartedHookCanVeto(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	h.hooks.startErr = errors.New("busy")
	h.seat(t, "p0", "p1")

	err := h.runner.StartHand(t.Context())
	require.EqualError(t, err, "busy")
	assert.Nil(t, h.snapshot(t, "").Game)
}

func TestCloseWaitsForHand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	h.seat(t, "p0", "p1")
	ctx := t.Context()
	require.NoError(t, h.runner.StartHand(ctx))

	require.NoError(t, h.runner.Close(ctx))
	_, err := h.runner.Join(ctx, "p2", 1000, -1)
	require.ErrorIs(t, err, ErrTableClosed)

	require.NoError(t, h.runner.Act(ctx, game.Action{Type: game.Fold, PlayerID: "p0"}))
	<-h.runner.Done()

	_, err = h.runner.Snapshot(ctx, "")
	require.ErrorIs(t, err, ErrTableClosed)
	require.NoError(t, h.runner.Close(ctx))
}
