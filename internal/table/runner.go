package table

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/holdemgrid/internal/game"
	"github.com/lox/holdemgrid/internal/gameid"
)

const defaultQueueSize = 64

type command func(r *Runner)

type seat struct {
	SeatInfo
	leaving bool
}

// Runner owns one table. All table and game state is confined to the
// goroutine running Run; other goroutines talk to it through the command
// queue, so actions are applied strictly in arrival order.
type Runner struct {
	id     gameid.ID
	cfg    Config
	ids    IDGenerator
	clock  quartz.Clock
	logger *log.Logger
	out    Broadcaster
	hooks  Hooks

	cmds     chan command
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the run loop.
	info         Table
	seats        []*seat
	game         *game.Game
	dealt        []*seat
	deadline     *quartz.Timer
	startTimer   *quartz.Timer
	lastButton   int
	handsAtLevel int
	closing      bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

func WithClock(clock quartz.Clock) RunnerOption {
	return func(r *Runner) { r.clock = clock }
}

func WithLogger(logger *log.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

func WithBroadcaster(b Broadcaster) RunnerOption {
	return func(r *Runner) { r.out = b }
}

func WithHooks(h Hooks) RunnerOption {
	return func(r *Runner) { r.hooks = h }
}

// WithQueueSize sets the capacity of the inbound command queue.
func WithQueueSize(n int) RunnerOption {
	return func(r *Runner) { r.cmds = make(chan command, n) }
}

// NewRunner creates the actor for table t. Call Run to start it.
func NewRunner(t Table, ids IDGenerator, opts ...RunnerOption) *Runner {
	r := &Runner{
		id:         t.ID,
		cfg:        t.Config,
		ids:        ids,
		clock:      quartz.NewReal(),
		logger:     log.Default(),
		out:        nopBroadcaster{},
		hooks:      nopHooks{},
		cmds:       make(chan command, defaultQueueSize),
		done:       make(chan struct{}),
		info:       t,
		seats:      make([]*seat, t.Config.Seats),
		lastButton: -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("table_id", t.ID)
	return r
}

// ID returns the table id.
func (r *Runner) ID() gameid.ID { return r.id }

// Done is closed once the run loop has exited.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Run processes commands until ctx is cancelled or the table is closed.
func (r *Runner) Run(ctx context.Context) {
	defer r.stopOnce.Do(func() { close(r.done) })
	defer r.stopTimers()

	r.logger.Debug("Table runner started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Table runner stopped", "reason", ctx.Err())
			return
		case cmd := <-r.cmds:
			cmd(r)
			if r.info.Status == StatusClosed {
				r.logger.Info("Table closed")
				return
			}
		}
	}
}

// submit enqueues cmd, blocking only until there is room in the queue.
func (r *Runner) submit(ctx context.Context, cmd command) error {
	select {
	case r.cmds <- cmd:
		return nil
	case <-r.done:
		return ErrTableClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the loop and waits for its result.
func call[T any](ctx context.Context, r *Runner, fn func(r *Runner) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	reply := make(chan result, 1)
	var zero T
	if err := r.submit(ctx, func(r *Runner) {
		v, err := fn(r)
		reply <- result{v, err}
	}); err != nil {
		return zero, err
	}
	select {
	case res := <-reply:
		return res.v, res.err
	case <-r.done:
		return zero, ErrTableClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Join seats a player with buyIn chips. seatNo -1 picks the lowest free
// seat. Joining again returns the existing seat.
func (r *Runner) Join(ctx context.Context, playerID string, buyIn, seatNo int) (SeatInfo, error) {
	return call(ctx, r, func(r *Runner) (SeatInfo, error) {
		return r.join(playerID, buyIn, seatNo)
	})
}

// Leave removes a player. A player in the current hand keeps their seat
// until it ends; their remaining decisions are folded or checked.
func (r *Runner) Leave(ctx context.Context, playerID string) error {
	_, err := call(ctx, r, func(r *Runner) (struct{}, error) {
		return struct{}{}, r.leave(playerID)
	})
	return err
}

// Act submits a player action. Rejections are delivered to the player as an
// error message.
func (r *Runner) Act(ctx context.Context, a game.Action) error {
	return r.submit(ctx, func(r *Runner) { r.act(a) })
}

// Disconnect marks a player's connection as lost.
func (r *Runner) Disconnect(ctx context.Context, playerID string) error {
	return r.submit(ctx, func(r *Runner) { r.setConnected(playerID, false) })
}

// Reconnect marks a player as connected again and resends the table state.
func (r *Runner) Reconnect(ctx context.Context, playerID string) error {
	return r.submit(ctx, func(r *Runner) { r.setConnected(playerID, true) })
}

// StartHand starts a hand now instead of waiting for auto-start.
func (r *Runner) StartHand(ctx context.Context) error {
	_, err := call(ctx, r, func(r *Runner) (struct{}, error) {
		return struct{}{}, r.startHand()
	})
	return err
}

// Snapshot returns the table as seen by playerID; an empty id gets the
// public view.
func (r *Runner) Snapshot(ctx context.Context, playerID string) (State, error) {
	return call(ctx, r, func(r *Runner) (State, error) {
		return r.state(playerID), nil
	})
}

// Pause stops new hands from starting. A hand in progress plays out.
func (r *Runner) Pause(ctx context.Context) error {
	_, err := call(ctx, r, func(r *Runner) (struct{}, error) {
		r.stopStartTimer()
		r.setStatus(StatusPaused)
		return struct{}{}, nil
	})
	return err
}

// Resume reverses Pause.
func (r *Runner) Resume(ctx context.Context) error {
	_, err := call(ctx, r, func(r *Runner) (struct{}, error) {
		if r.info.Status != StatusPaused {
			return struct{}{}, nil
		}
		r.setStatus(StatusWaiting)
		r.scheduleStart()
		return struct{}{}, nil
	})
	return err
}

// Close shuts the table down, after the current hand if one is running.
func (r *Runner) Close(ctx context.Context) error {
	_, err := call(ctx, r, func(r *Runner) (struct{}, error) {
		if r.game != nil {
			r.closing = true
			return struct{}{}, nil
		}
		r.setStatus(StatusClosed)
		return struct{}{}, nil
	})
	if err == ErrTableClosed {
		return nil
	}
	return err
}

func (r *Runner) join(playerID string, buyIn, seatNo int) (SeatInfo, error) {
	if r.info.Status == StatusClosed || r.closing {
		return SeatInfo{}, ErrTableClosed
	}
	if s := r.seatOf(playerID); s != nil {
		s.leaving = false
		s.Connected = true
		if r.game != nil {
			_ = r.game.Reconnect(playerID)
		}
		return s.SeatInfo, nil
	}
	if buyIn < r.cfg.MinBuyIn || buyIn > r.cfg.MaxBuyIn {
		return SeatInfo{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidBuyIn, buyIn, r.cfg.MinBuyIn, r.cfg.MaxBuyIn)
	}
	if seatNo == -1 {
		seatNo = slices.Index(r.seats, nil)
		if seatNo < 0 {
			return SeatInfo{}, ErrTableFull
		}
	}
	if seatNo < 0 || seatNo >= len(r.seats) {
		return SeatInfo{}, fmt.Errorf("%w: %d", ErrInvalidSeat, seatNo)
	}
	if r.seats[seatNo] != nil {
		return SeatInfo{}, fmt.Errorf("%w: %d", ErrSeatTaken, seatNo)
	}

	s := &seat{SeatInfo: SeatInfo{PlayerID: playerID, Seat: seatNo, Chips: buyIn, Connected: true}}
	r.seats[seatNo] = s
	r.logger.Info("Player joined", "player_id", playerID, "seat", seatNo, "buy_in", buyIn)

	r.seatsChanged()
	r.broadcast(MessagePlayerJoined, SeatChange{Seat: s.SeatInfo})
	r.scheduleStart()
	return s.SeatInfo, nil
}

func (r *Runner) leave(playerID string) error {
	s := r.seatOf(playerID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNotSeated, playerID)
	}
	if r.inHand(playerID) {
		s.leaving = true
		s.Connected = false
		_ = r.game.Disconnect(playerID)
		r.logger.Info("Player leaving after hand", "player_id", playerID)
		if r.game.Actor() == playerID {
			r.resolveTimeout(playerID)
		}
		// Folding may have ended their hand, or the whole hand.
		if r.seats[s.Seat] == s && !r.inHand(playerID) {
			if p, ok := r.handPlayer(s); ok {
				s.Chips = p.Chips
			}
			r.removeSeat(s)
		}
		return nil
	}
	if p, ok := r.handPlayer(s); ok {
		s.Chips = p.Chips
	}
	r.removeSeat(s)
	return nil
}

func (r *Runner) removeSeat(s *seat) {
	r.seats[s.Seat] = nil
	r.logger.Info("Player left", "player_id", s.PlayerID, "seat", s.Seat, "chips", s.Chips)
	r.broadcast(MessagePlayerLeft, SeatChange{Seat: s.SeatInfo})
	r.seatsChanged()
	if r.occupied() == 0 {
		r.stopStartTimer()
		if r.info.Status == StatusActive {
			r.setStatus(StatusWaiting)
		}
	}
}

func (r *Runner) act(a game.Action) {
	if r.game == nil {
		r.sendError(a.PlayerID, ErrNoActiveGame)
		return
	}
	events, err := r.game.ProcessAction(a)
	if err != nil {
		r.logger.Debug("Rejected action", "player_id", a.PlayerID, "action", a.Type, "amount", a.Amount, "error", err)
		r.sendError(a.PlayerID, err)
		return
	}
	r.afterEvents(events)
}

func (r *Runner) setConnected(playerID string, connected bool) {
	s := r.seatOf(playerID)
	if s == nil {
		return
	}
	s.Connected = connected
	if r.game == nil || !r.inHand(playerID) {
		return
	}

	if !connected {
		_ = r.game.Disconnect(playerID)
		r.logger.Info("Player disconnected", "player_id", playerID)
		if r.game.Actor() == playerID {
			r.extendForGrace()
		}
		return
	}

	_ = r.game.Reconnect(playerID)
	r.logger.Info("Player reconnected", "player_id", playerID)
	r.send(playerID, MessageGameState, r.game.ViewFor(playerID))
	if r.game.Actor() == playerID {
		r.prompt()
	}
}

// startHand deals a new hand when at least two funded players are seated.
func (r *Runner) startHand() error {
	switch {
	case r.info.Status == StatusClosed || r.closing:
		return ErrTableClosed
	case r.info.Status == StatusPaused:
		return ErrPaused
	case r.game != nil:
		return ErrHandRunning
	}

	var seats []game.Seat
	var dealt []*seat
	funded := 0
	for _, s := range r.seats {
		if s == nil {
			continue
		}
		dealt = append(dealt, s)
		if s.Chips == 0 {
			s.SittingOut = true
		}
		if !s.SittingOut && !s.leaving {
			funded++
		}
		seats = append(seats, game.Seat{PlayerID: s.PlayerID, Seat: s.Seat, Chips: s.Chips, SittingOut: s.SittingOut || s.leaving})
	}
	if funded < 2 {
		return game.ErrNotEnoughPlayers
	}

	r.advanceBlindLevel()
	gameID, err := r.ids.Generate()
	if err != nil {
		return fmt.Errorf("minting game id: %w", err)
	}
	if err := r.hooks.GameStarted(r.id, gameID); err != nil {
		return err
	}

	opts := []game.Option{game.WithClock(r.clock), game.WithButton(r.lastButton + 1)}
	if r.cfg.Seed != nil {
		opts = append(opts, game.WithSeed(*r.cfg.Seed+int64(r.info.HandsPlayed)))
	}
	g, err := game.NewGame(gameID, r.id, seats, r.cfg.stakes(r.info.BlindLevel), opts...)
	if err == nil {
		var events []game.Event
		if events, err = g.Start(); err == nil {
			r.game = g
			r.lastButton = g.DealerSeat()
			r.info.CurrentGameID = gameID
			r.setStatus(StatusActive)
			for _, s := range r.seats {
				if s != nil && !s.Connected {
					_ = g.Disconnect(s.PlayerID)
				}
			}
			stakes := g.Config()
			r.logger.Info("Hand started", "game_id", gameID, "players", funded, "button", r.lastButton,
				"small_blind", stakes.SmallBlind, "big_blind", stakes.BigBlind)
			r.afterEvents(events)
			return nil
		}
	}
	r.hooks.GameEnded(r.id, gameID)
	return err
}

func (r *Runner) advanceBlindLevel() {
	schedule := r.cfg.BlindSchedule
	if len(schedule) == 0 {
		return
	}
	level := r.info.BlindLevel
	if level < len(schedule)-1 && r.handsAtLevel >= schedule[level].Hands {
		r.info.BlindLevel++
		r.handsAtLevel = 0
		next := schedule[r.info.BlindLevel]
		r.logger.Info("Blinds up", "level", r.info.BlindLevel+1, "small_blind", next.SmallBlind, "big_blind", next.BigBlind, "ante", next.Ante)
	}
}

// afterEvents publishes the new state and either prompts the next actor or
// settles the finished hand.
func (r *Runner) afterEvents(events []game.Event) {
	r.stopDeadline()
	for _, e := range events {
		switch e.Type {
		case game.EventAction:
			r.logger.Debug("Action", "game_id", r.game.ID(), "player_id", e.PlayerID, "action", e.Action.Type,
				"amount", e.Action.Amount, "implicit", e.Action.Implicit)
		case game.EventStreet:
			r.logger.Debug("Street", "game_id", r.game.ID(), "phase", e.Phase, "cards", e.Cards)
		}
	}

	for _, s := range r.seats {
		if s != nil {
			r.send(s.PlayerID, MessageGameState, r.game.ViewFor(s.PlayerID))
		}
	}

	if r.game.Finished() {
		r.endHand()
		return
	}
	r.prompt()
}

// prompt asks the current actor for a decision and arms the deadline.
func (r *Runner) prompt() {
	g := r.game
	actor := g.Actor()
	if s := r.seatOf(actor); s != nil && s.leaving {
		r.resolveTimeout(actor)
		return
	}
	if s := r.seatOf(actor); s != nil && !s.Connected {
		r.extendForGrace()
	}

	deadline := g.Deadline()
	r.send(actor, MessageActionRequired, ActionPrompt{
		GameID:          g.ID(),
		PlayerID:        actor,
		ValidActions:    g.ValidActions(actor),
		TimeRemainingMs: deadline.Sub(r.clock.Now()).Milliseconds(),
		ActionSeq:       g.ActionSeq(),
	})
	r.armDeadline(g.ID(), g.ActionSeq(), deadline)
}

// extendForGrace pushes the actor's deadline out to the disconnect grace
// period when that is longer than the action timeout.
func (r *Runner) extendForGrace() {
	if r.cfg.DisconnectGrace <= r.cfg.ActionTimeout {
		return
	}
	g := r.game
	before := g.Deadline()
	g.ExtendDeadline(r.clock.Now().Add(r.cfg.DisconnectGrace))
	if g.Deadline().After(before) {
		r.armDeadline(g.ID(), g.ActionSeq(), g.Deadline())
	}
}

func (r *Runner) armDeadline(gameID gameid.ID, seq int, at time.Time) {
	r.stopDeadline()
	d := max(at.Sub(r.clock.Now()), 0)
	r.deadline = r.clock.AfterFunc(d, func() {
		_ = r.submit(context.Background(), func(r *Runner) { r.onDeadline(gameID, seq) })
	}, "table", "deadline")
}

// onDeadline handles an expired action timer. Timers are tagged with the
// game id and action sequence so a timer that raced a valid action is
// ignored.
func (r *Runner) onDeadline(gameID gameid.ID, seq int) {
	g := r.game
	if g == nil || g.ID() != gameID || g.ActionSeq() != seq {
		return
	}
	if r.clock.Now().Before(g.Deadline()) {
		return
	}
	actor := g.Actor()
	r.logger.Info("Player timed out", "game_id", gameID, "player_id", actor)
	r.resolveTimeout(actor)
}

func (r *Runner) resolveTimeout(playerID string) {
	events, err := r.game.Timeout(playerID)
	if err != nil {
		r.logger.Error("Failed to resolve timeout", "player_id", playerID, "error", err)
		return
	}
	r.afterEvents(events)
}

func (r *Runner) endHand() {
	g := r.game
	summary := g.Result()
	for _, s := range r.dealt {
		if r.seats[s.Seat] != s {
			continue
		}
		if p, ok := r.gamePlayer(s.PlayerID); ok {
			s.Chips = p.Chips
		}
	}

	r.info.HandsPlayed++
	r.handsAtLevel++
	r.logger.Info("Hand finished", "game_id", g.ID(), "showdown", summary.Showdown, "payouts", summary.Payouts)
	r.broadcast(MessageHandResult, summary)

	r.game = nil
	r.dealt = nil
	r.info.CurrentGameID = 0
	r.hooks.GameEnded(r.id, g.ID())

	for _, s := range r.seats {
		if s == nil {
			continue
		}
		if s.leaving {
			r.removeSeat(s)
			continue
		}
		if s.Chips == 0 && !s.SittingOut {
			s.SittingOut = true
			r.logger.Info("Player sat out with no chips", "player_id", s.PlayerID)
		}
	}

	if r.closing {
		r.setStatus(StatusClosed)
		return
	}
	if r.info.Status == StatusActive {
		r.setStatus(StatusWaiting)
	}
	r.scheduleStart()
}

// scheduleStart arms the auto-start timer when a hand could be dealt.
func (r *Runner) scheduleStart() {
	if r.cfg.AutoStartDelay <= 0 || r.startTimer != nil || r.game != nil {
		return
	}
	if r.info.Status == StatusPaused || r.info.Status == StatusClosed || r.closing {
		return
	}
	if r.fundedPlayers() < 2 {
		return
	}
	r.startTimer = r.clock.AfterFunc(r.cfg.AutoStartDelay, func() {
		_ = r.submit(context.Background(), func(r *Runner) {
			r.startTimer = nil
			if err := r.startHand(); err != nil {
				r.logger.Debug("Auto-start skipped", "error", err)
			}
		})
	}, "table", "autostart")
}

func (r *Runner) stopDeadline() {
	if r.deadline != nil {
		r.deadline.Stop()
		r.deadline = nil
	}
}

func (r *Runner) stopStartTimer() {
	if r.startTimer != nil {
		r.startTimer.Stop()
		r.startTimer = nil
	}
}

func (r *Runner) stopTimers() {
	r.stopDeadline()
	r.stopStartTimer()
}

func (r *Runner) setStatus(s Status) {
	if r.info.Status == s {
		return
	}
	r.info.Status = s
	r.hooks.StatusChanged(r.id, s)
}

func (r *Runner) seatsChanged() {
	players := make([]string, 0, len(r.seats))
	for _, s := range r.seats {
		if s != nil {
			players = append(players, s.PlayerID)
		}
	}
	r.info.Players = len(players)
	r.hooks.SeatsChanged(r.id, players)
}

func (r *Runner) seatOf(playerID string) *seat {
	if playerID == "" {
		return nil
	}
	for _, s := range r.seats {
		if s != nil && s.PlayerID == playerID {
			return s
		}
	}
	return nil
}

func (r *Runner) gamePlayer(playerID string) (game.Player, bool) {
	if r.game == nil {
		return game.Player{}, false
	}
	for _, p := range r.game.Snapshot().Players {
		if p.ID == playerID {
			return p, true
		}
	}
	return game.Player{}, false
}

// handPlayer returns the hand's record for s. A player who left and sat
// down again mid-hand has a new seat that the hand does not own.
func (r *Runner) handPlayer(s *seat) (game.Player, bool) {
	if !slices.Contains(r.dealt, s) {
		return game.Player{}, false
	}
	return r.gamePlayer(s.PlayerID)
}

func (r *Runner) inHand(playerID string) bool {
	p, ok := r.gamePlayer(playerID)
	return ok && p.InHand()
}

func (r *Runner) occupied() int {
	n := 0
	for _, s := range r.seats {
		if s != nil {
			n++
		}
	}
	return n
}

func (r *Runner) fundedPlayers() int {
	n := 0
	for _, s := range r.seats {
		if s != nil && s.Chips > 0 && !s.SittingOut && !s.leaving {
			n++
		}
	}
	return n
}

func (r *Runner) state(playerID string) State {
	st := State{Table: r.info, Seats: make([]SeatInfo, 0, len(r.seats))}
	st.Table.Config.BlindSchedule = slices.Clone(r.info.Config.BlindSchedule)
	for _, s := range r.seats {
		if s != nil {
			st.Seats = append(st.Seats, s.SeatInfo)
		}
	}
	if r.game != nil {
		view := r.game.ViewFor(playerID)
		st.Game = &view
	}
	return st
}

func (r *Runner) newMessage(t MessageType, data any) Message {
	id, err := r.ids.Generate()
	if err != nil {
		r.logger.Warn("Failed to mint event id", "error", err)
	}
	return Message{Type: t, EventID: id, TableID: r.id, Data: data}
}

func (r *Runner) broadcast(t MessageType, data any) {
	r.out.Broadcast(r.id, r.newMessage(t, data))
}

func (r *Runner) send(playerID string, t MessageType, data any) {
	r.out.Send(playerID, r.newMessage(t, data))
}

func (r *Runner) sendError(playerID string, err error) {
	r.send(playerID, MessageError, ErrorData{Code: ErrorCode(err), Message: err.Error()})
}
