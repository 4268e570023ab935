package table

import (
	"errors"
	"fmt"
	"time"

	"github.com/lox/holdemgrid/internal/game"
	"github.com/lox/holdemgrid/internal/gameid"
)

var (
	ErrTableClosed  = errors.New("table: closed")
	ErrTableFull    = errors.New("table: full")
	ErrSeatTaken    = errors.New("table: seat taken")
	ErrInvalidSeat  = errors.New("table: invalid seat")
	ErrInvalidBuyIn = errors.New("table: buy-in outside table limits")
	ErrNotSeated    = errors.New("table: player not seated")
	ErrNoActiveGame = errors.New("table: no hand in progress")
	ErrHandRunning  = errors.New("table: hand already in progress")
	ErrPaused       = errors.New("table: paused")
)

// ErrorCode maps table and engine errors to client error codes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrTableClosed):
		return "table_closed"
	case errors.Is(err, ErrTableFull):
		return "table_full"
	case errors.Is(err, ErrSeatTaken):
		return "seat_taken"
	case errors.Is(err, ErrInvalidSeat):
		return "invalid_seat"
	case errors.Is(err, ErrInvalidBuyIn):
		return "invalid_buy_in"
	case errors.Is(err, ErrNotSeated):
		return "not_seated"
	case errors.Is(err, ErrNoActiveGame):
		return "no_active_game"
	case errors.Is(err, ErrHandRunning):
		return "hand_in_progress"
	case errors.Is(err, ErrPaused):
		return "table_paused"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	default:
		return game.ErrorCode(err)
	}
}

// Status is the lifecycle state of a table.
type Status int

const (
	StatusWaiting Status = iota
	StatusActive
	StatusPaused
	StatusClosed
)

var statusNames = [...]string{"waiting", "active", "paused", "closed"}

func (s Status) String() string {
	if s < StatusWaiting || s > StatusClosed {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("table: unknown status %q", text)
}

// Table is the identity and public state of a table. Its id never changes
// workers.
type Table struct {
	ID            gameid.ID `json:"id"`
	ServerID      string    `json:"serverId"`
	Config        Config    `json:"config"`
	Status        Status    `json:"status"`
	CurrentGameID gameid.ID `json:"currentGameId,omitempty"`
	Players       int       `json:"players"`
	HandsPlayed   int       `json:"handsPlayed"`
	BlindLevel    int       `json:"blindLevel"`
	CreatedAt     time.Time `json:"createdAt"`
}

// SeatInfo describes one occupied seat.
type SeatInfo struct {
	PlayerID   string `json:"playerId"`
	Seat       int    `json:"seat"`
	Chips      int    `json:"chips"`
	SittingOut bool   `json:"sittingOut,omitempty"`
	Connected  bool   `json:"connected"`
}

// State is what a table looks like to one observer.
type State struct {
	Table Table       `json:"table"`
	Seats []SeatInfo  `json:"seats"`
	Game  *game.State `json:"game,omitempty"`
}

// MessageType names an outbound message.
type MessageType string

const (
	MessageGameState      MessageType = "game_state"
	MessageActionRequired MessageType = "action_required"
	MessageHandResult     MessageType = "hand_result"
	MessagePlayerJoined   MessageType = "player_joined"
	MessagePlayerLeft     MessageType = "player_left"
	MessageError          MessageType = "error"
)

// Message is an outbound notification. EventID is a generator id unique to
// this message.
type Message struct {
	Type    MessageType `json:"type"`
	EventID gameid.ID   `json:"eventId"`
	TableID gameid.ID   `json:"tableId"`
	Data    any         `json:"data"`
}

// ActionPrompt asks a player for a decision.
type ActionPrompt struct {
	GameID          gameid.ID          `json:"gameId"`
	PlayerID        string             `json:"playerId"`
	ValidActions    []game.ValidAction `json:"validActions"`
	TimeRemainingMs int64              `json:"timeRemainingMs"`
	ActionSeq       int                `json:"actionSeq"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SeatChange is the payload of player_joined and player_left.
type SeatChange struct {
	Seat SeatInfo `json:"seat"`
}

// Broadcaster delivers outbound messages. Implementations must not block
// the caller.
type Broadcaster interface {
	Broadcast(tableID gameid.ID, msg Message)
	Send(playerID string, msg Message)
}

// Hooks receives one-way notifications about a table.
type Hooks interface {
	// GameStarted is called before a hand starts; an error aborts the hand.
	GameStarted(tableID, gameID gameid.ID) error
	GameEnded(tableID, gameID gameid.ID)
	SeatsChanged(tableID gameid.ID, players []string)
	StatusChanged(tableID gameid.ID, status Status)
}

// IDGenerator mints ids for games and events.
type IDGenerator interface {
	Generate() (gameid.ID, error)
}

type nopHooks struct{}

func (nopHooks) GameStarted(gameid.ID, gameid.ID) error { return nil }
func (nopHooks) GameEnded(gameid.ID, gameid.ID)         {}
func (nopHooks) SeatsChanged(gameid.ID, []string)       {}
func (nopHooks) StatusChanged(gameid.ID, Status)        {}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(gameid.ID, Message) {}
func (nopBroadcaster) Send(string, Message)         {}
