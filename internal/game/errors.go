package game

import "errors"

var (
	ErrActionOutOfTurn   = errors.New("game: action out of turn")
	ErrInvalidAction     = errors.New("game: invalid action")
	ErrInsufficientChips = errors.New("game: insufficient chips")
	ErrGameFinished      = errors.New("game: game finished")
	ErrGameNotStarted    = errors.New("game: game not started")
	ErrGameStarted       = errors.New("game: game already started")
	ErrNotEnoughPlayers  = errors.New("game: at least two funded players required")
	ErrUnknownPlayer     = errors.New("game: unknown player")
	ErrInvalidConfig     = errors.New("game: invalid config")
)

// ErrorCode maps an engine error to the code sent to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrActionOutOfTurn):
		return "action_out_of_turn"
	case errors.Is(err, ErrInvalidAction):
		return "invalid_action"
	case errors.Is(err, ErrInsufficientChips):
		return "insufficient_chips"
	case errors.Is(err, ErrGameFinished):
		return "game_finished"
	case errors.Is(err, ErrGameNotStarted):
		return "game_not_started"
	case errors.Is(err, ErrGameStarted):
		return "game_started"
	case errors.Is(err, ErrNotEnoughPlayers):
		return "not_enough_players"
	case errors.Is(err, ErrUnknownPlayer):
		return "unknown_player"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	default:
		return "internal_error"
	}
}
