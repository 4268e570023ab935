package game

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/coder/quartz"

	"github.com/lox/holdemgrid/internal/deck"
	"github.com/lox/holdemgrid/internal/gameid"
)

// Phase is the stage of a hand.
type Phase int

const (
	Preflop Phase = iota
	Flop
	Turn
	River
	Showdown
	Finished
)

var phaseNames = [...]string{"preflop", "flop", "turn", "river", "showdown", "finished"}

func (p Phase) String() string {
	if p < Preflop || p > Finished {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if name == string(text) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("game: unknown phase %q", text)
}

// Config holds the stakes for a single hand.
type Config struct {
	SmallBlind    int
	BigBlind      int
	Ante          int
	ActionTimeout time.Duration
}

// Validate checks the blind structure.
func (c Config) Validate() error {
	switch {
	case c.SmallBlind <= 0:
		return fmt.Errorf("%w: small blind must be positive", ErrInvalidConfig)
	case c.BigBlind <= c.SmallBlind:
		return fmt.Errorf("%w: big blind must exceed small blind", ErrInvalidConfig)
	case c.Ante < 0:
		return fmt.Errorf("%w: ante must not be negative", ErrInvalidConfig)
	case c.ActionTimeout < 0:
		return fmt.Errorf("%w: action timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Game.
type Option func(*Game)

// WithSeed makes the shuffle reproducible.
func WithSeed(seed int64) Option {
	return func(g *Game) {
		g.seed = &seed
	}
}

// WithDeck deals from d as-is instead of a freshly shuffled deck.
func WithDeck(d *deck.Deck) Option {
	return func(g *Game) {
		g.deck = d
	}
}

// WithClock sets the clock used for deadlines and action timestamps.
func WithClock(clock quartz.Clock) Option {
	return func(g *Game) {
		g.clock = clock
	}
}

// WithButton places the dealer button on the first dealt-in player at or
// after seat.
func WithButton(seat int) Option {
	return func(g *Game) {
		g.buttonSeat = seat
	}
}

// State is a deep copy of a game at one point in time.
type State struct {
	ID               gameid.ID   `json:"id"`
	TableID          gameid.ID   `json:"tableId"`
	Phase            Phase       `json:"phase"`
	Players          []Player    `json:"players"`
	Board            []deck.Card `json:"board"`
	Pot              int         `json:"pot"`
	Pots             []Pot       `json:"pots"`
	Dealer           int         `json:"dealer"`
	SmallBlind       int         `json:"smallBlind"`
	BigBlind         int         `json:"bigBlind"`
	SmallBlindAmount int         `json:"smallBlindAmount"`
	BigBlindAmount   int         `json:"bigBlindAmount"`
	Ante             int         `json:"ante,omitempty"`
	CurrentBet       int         `json:"currentBet"`
	MinRaise         int         `json:"minRaise"`
	Actor            string      `json:"actor,omitempty"`
	Round            int         `json:"round"`
	ActionSeq        int         `json:"actionSeq"`
	ActionDeadline   time.Time   `json:"actionDeadline,omitzero"`
}

// Game is the betting state machine for one hand. A Game is owned by a
// single goroutine and is not safe for concurrent use.
type Game struct {
	id      gameid.ID
	tableID gameid.ID
	cfg     Config
	clock   quartz.Clock
	seed    *int64
	deck    *deck.Deck

	buttonSeat int
	started    bool

	players    []*Player
	phase      Phase
	board      []deck.Card
	pots       []Pot
	dealer     int
	smallBlind int
	bigBlind   int
	betting    bettingRound
	actor      int
	round      int
	seq        int
	deadline   time.Time

	actions []Action
	summary *HandSummary
}

// NewGame creates a hand for the given seats. Seats without chips or marked
// sitting out are not dealt in. At least two funded players are required.
func NewGame(id, tableID gameid.ID, seats []Seat, cfg Config, opts ...Option) (*Game, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ordered := slices.Clone(seats)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seat < ordered[j].Seat })

	g := &Game{
		id:         id,
		tableID:    tableID,
		cfg:        cfg,
		clock:      quartz.NewReal(),
		buttonSeat: -1,
		players:    make([]*Player, 0, len(ordered)),
		actor:      -1,
		dealer:     -1,
		smallBlind: -1,
		bigBlind:   -1,
	}

	seen := make(map[string]bool, len(ordered))
	funded := 0
	for _, s := range ordered {
		if s.PlayerID == "" || seen[s.PlayerID] {
			return nil, fmt.Errorf("%w: duplicate or empty player id %q", ErrInvalidConfig, s.PlayerID)
		}
		if s.Chips < 0 {
			return nil, fmt.Errorf("%w: negative stack for %s", ErrInvalidConfig, s.PlayerID)
		}
		seen[s.PlayerID] = true

		p := &Player{ID: s.PlayerID, Seat: s.Seat, Chips: s.Chips}
		if s.SittingOut || s.Chips == 0 {
			p.Status = StatusSittingOut
		} else {
			funded++
		}
		g.players = append(g.players, p)
	}
	if funded < 2 {
		return nil, ErrNotEnoughPlayers
	}

	for _, opt := range opts {
		opt(g)
	}
	g.betting = newBettingRound(cfg.BigBlind)
	return g, nil
}

// Start posts antes and blinds, deals hole cards and hands the action to
// the first player.
func (g *Game) Start() ([]Event, error) {
	if g.started {
		return nil, ErrGameStarted
	}
	if g.deck == nil {
		g.deck = deck.NewShuffled(g.seed)
	}

	g.dealer = g.buttonIndex()
	if g.dealtIn() == 2 {
		g.smallBlind = g.dealer
	} else {
		g.smallBlind = g.nextDealtIn(g.dealer)
	}
	g.bigBlind = g.nextDealtIn(g.smallBlind)
	g.players[g.dealer].IsDealer = true
	g.players[g.smallBlind].IsSmallBlind = true
	g.players[g.bigBlind].IsBigBlind = true

	g.started = true
	g.phase = Preflop
	g.round = 1

	events := []Event{{Type: EventHandStarted, Phase: Preflop}}

	if g.cfg.Ante > 0 {
		for _, p := range g.players {
			if p.Status == StatusSittingOut {
				continue
			}
			ante := min(g.cfg.Ante, p.Chips)
			p.Chips -= ante
			p.TotalBet += ante
			if p.Chips == 0 {
				p.Status = StatusAllIn
			}
			events = append(events, Event{Type: EventAntePosted, Phase: Preflop, PlayerID: p.ID, Amount: ante})
		}
	}

	sb := g.players[g.smallBlind].commit(g.cfg.SmallBlind)
	events = append(events, Event{Type: EventBlindPosted, Phase: Preflop, PlayerID: g.players[g.smallBlind].ID, Amount: sb})
	bb := g.players[g.bigBlind].commit(g.cfg.BigBlind)
	events = append(events, Event{Type: EventBlindPosted, Phase: Preflop, PlayerID: g.players[g.bigBlind].ID, Amount: bb})
	g.betting.CurrentBet = g.cfg.BigBlind

	for i := range len(g.players) {
		p := g.players[(g.dealer+1+i)%len(g.players)]
		if p.Status == StatusSittingOut {
			continue
		}
		cards, err := g.deck.Deal(2)
		if err != nil {
			return nil, fmt.Errorf("dealing hole cards: %w", err)
		}
		p.HoleCards = cards
		events = append(events, Event{Type: EventHoleCards, Phase: Preflop, PlayerID: p.ID, Cards: slices.Clone(cards)})
	}

	return g.advance(g.bigBlind, events)
}

// ProcessAction validates and applies an action from the current actor.
// A rejected action leaves the game untouched.
func (g *Game) ProcessAction(a Action) ([]Event, error) {
	if !g.started {
		return nil, ErrGameNotStarted
	}
	if g.phase >= Showdown {
		return nil, ErrGameFinished
	}
	idx := g.indexOf(a.PlayerID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, a.PlayerID)
	}
	if idx != g.actor {
		return nil, fmt.Errorf("%w: %s acted, waiting on %q", ErrActionOutOfTurn, a.PlayerID, g.Actor())
	}

	p := g.players[idx]
	a, err := g.betting.normalize(p, a)
	if err != nil {
		return nil, err
	}
	if err := g.betting.validate(p, a, g.cfg.BigBlind); err != nil {
		return nil, err
	}

	if a.Timestamp.IsZero() {
		a.Timestamp = g.clock.Now("game", "action")
	}
	added := g.betting.apply(p, a)
	switch a.Type {
	case Call, AllIn:
		a.Amount = p.CurrentBet
	case Fold, Check:
		a.Amount = 0
	}
	g.seq++
	g.actions = append(g.actions, a)

	recorded := a
	events := []Event{{Type: EventAction, Phase: g.phase, PlayerID: p.ID, Action: &recorded, Amount: added}}
	return g.advance(idx, events)
}

// Timeout resolves the actor's expired deadline as a check when nothing is
// owed, otherwise as a fold.
func (g *Game) Timeout(playerID string) ([]Event, error) {
	if !g.started {
		return nil, ErrGameNotStarted
	}
	if g.phase >= Showdown {
		return nil, ErrGameFinished
	}
	idx := g.indexOf(playerID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	if idx != g.actor {
		return nil, fmt.Errorf("%w: %s timed out, waiting on %q", ErrActionOutOfTurn, playerID, g.Actor())
	}
	a := Action{Type: Fold, PlayerID: playerID, Implicit: true}
	if g.players[idx].CurrentBet >= g.betting.CurrentBet {
		a.Type = Check
	}
	return g.ProcessAction(a)
}

// Disconnect marks a player as disconnected. They keep their cards and
// their turn; the action deadline resolves them if they do not return.
func (g *Game) Disconnect(playerID string) error {
	idx := g.indexOf(playerID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	if p := g.players[idx]; p.Status == StatusActive {
		p.Status = StatusDisconnected
	}
	return nil
}

// Reconnect reverses Disconnect.
func (g *Game) Reconnect(playerID string) error {
	idx := g.indexOf(playerID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	if p := g.players[idx]; p.Status == StatusDisconnected {
		p.Status = StatusActive
	}
	return nil
}

// ValidActions returns the actions playerID may take now. It is empty
// unless playerID is the current actor.
func (g *Game) ValidActions(playerID string) []ValidAction {
	if !g.started || g.phase >= Showdown || g.actor < 0 || g.players[g.actor].ID != playerID {
		return nil
	}
	return g.betting.validActions(g.players[g.actor], g.cfg.BigBlind)
}

// ExtendDeadline moves the action deadline, for example to honour a
// disconnect grace period.
func (g *Game) ExtendDeadline(t time.Time) {
	if g.actor >= 0 && t.After(g.deadline) {
		g.deadline = t
	}
}

func (g *Game) ID() gameid.ID        { return g.id }
func (g *Game) TableID() gameid.ID   { return g.tableID }
func (g *Game) Phase() Phase         { return g.phase }
func (g *Game) ActionSeq() int       { return g.seq }
func (g *Game) Deadline() time.Time  { return g.deadline }
func (g *Game) Finished() bool       { return g.phase == Finished }
func (g *Game) Config() Config       { return g.cfg }
func (g *Game) Result() *HandSummary { return g.summary.clone() }

// Actor returns the id of the player to act, or "" when nobody is.
func (g *Game) Actor() string {
	if g.actor < 0 {
		return ""
	}
	return g.players[g.actor].ID
}

// DealerSeat returns the seat number holding the button, or -1 before Start.
func (g *Game) DealerSeat() int {
	if g.dealer < 0 {
		return -1
	}
	return g.players[g.dealer].Seat
}

// Snapshot returns a deep copy of the full game state.
func (g *Game) Snapshot() State {
	s := State{
		ID:               g.id,
		TableID:          g.tableID,
		Phase:            g.phase,
		Players:          make([]Player, len(g.players)),
		Board:            slices.Clone(g.board),
		Pots:             make([]Pot, len(g.pots)),
		Dealer:           g.dealer,
		SmallBlind:       g.smallBlind,
		BigBlind:         g.bigBlind,
		SmallBlindAmount: g.cfg.SmallBlind,
		BigBlindAmount:   g.cfg.BigBlind,
		Ante:             g.cfg.Ante,
		CurrentBet:       g.betting.CurrentBet,
		MinRaise:         g.betting.MinRaise,
		Actor:            g.Actor(),
		Round:            g.round,
		ActionSeq:        g.seq,
		ActionDeadline:   g.deadline,
	}
	for i, p := range g.players {
		s.Players[i] = p.clone()
	}
	for i, p := range g.pots {
		s.Pots[i] = p.clone()
	}
	s.Pot = TotalPot(s.Pots)
	return s
}

// ViewFor is Snapshot with other players' hole cards hidden. Cards of
// players that reached showdown are revealed once the hand is over.
func (g *Game) ViewFor(playerID string) State {
	s := g.Snapshot()
	reveal := g.summary != nil && g.summary.Showdown
	for i := range s.Players {
		p := &s.Players[i]
		if p.ID == playerID || (reveal && p.InHand()) {
			continue
		}
		p.HoleCards = nil
	}
	return s
}

// advance moves play forward after a state change: it ends the hand when one
// contender is left, runs out streets when betting is closed and otherwise
// picks the next actor clockwise from the seat at index from.
func (g *Game) advance(from int, events []Event) ([]Event, error) {
	g.pots = BuildPots(g.players)
	for {
		if g.contenders() == 1 {
			return g.awardUncontested(events), nil
		}
		if !g.betting.complete(g.players) {
			g.actor = g.nextToAct(from)
			g.deadline = g.clock.Now("game", "deadline").Add(g.cfg.ActionTimeout)
			return events, nil
		}
		if g.phase == River {
			return g.showdown(events)
		}
		var err error
		if events, err = g.nextStreet(events); err != nil {
			return nil, err
		}
		from = g.dealer
	}
}

func (g *Game) nextStreet(events []Event) ([]Event, error) {
	for _, p := range g.players {
		p.CurrentBet = 0
		p.HasActed = false
		p.actedLevel = 0
		p.LastAction = nil
	}
	g.betting = newBettingRound(g.cfg.BigBlind)
	g.phase++
	g.round++

	n := 1
	if g.phase == Flop {
		n = 3
	}
	cards, err := g.deck.Deal(n)
	if err != nil {
		return nil, fmt.Errorf("dealing %s: %w", g.phase, err)
	}
	g.board = append(g.board, cards...)
	return append(events, Event{Type: EventStreet, Phase: g.phase, Cards: slices.Clone(cards)}), nil
}

func (g *Game) indexOf(playerID string) int {
	return slices.IndexFunc(g.players, func(p *Player) bool { return p.ID == playerID })
}

func (g *Game) dealtIn() int {
	n := 0
	for _, p := range g.players {
		if p.Status != StatusSittingOut {
			n++
		}
	}
	return n
}

func (g *Game) contenders() int {
	n := 0
	for _, p := range g.players {
		if p.InHand() {
			n++
		}
	}
	return n
}

// buttonIndex returns the first dealt-in player at or after buttonSeat.
func (g *Game) buttonIndex() int {
	for _, p := range g.players {
		if p.Status != StatusSittingOut && p.Seat >= g.buttonSeat {
			return g.indexOf(p.ID)
		}
	}
	for i, p := range g.players {
		if p.Status != StatusSittingOut {
			return i
		}
	}
	return -1
}

func (g *Game) nextDealtIn(from int) int {
	n := len(g.players)
	for i := 1; i <= n; i++ {
		idx := (from + i) % n
		if g.players[idx].Status != StatusSittingOut {
			return idx
		}
	}
	return from
}

// nextToAct returns the first player clockwise after from who can act and
// still owes a decision.
func (g *Game) nextToAct(from int) int {
	n := len(g.players)
	for i := 1; i <= n; i++ {
		p := g.players[(from+i)%n]
		if p.CanAct() && (!p.HasActed || p.CurrentBet < g.betting.CurrentBet) {
			return (from + i) % n
		}
	}
	return -1
}
