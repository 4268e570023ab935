package game

import (
	"fmt"
	"time"
)

// ActionType is the closed set of betting actions.
type ActionType int

const (
	Fold ActionType = iota
	Check
	Call
	Bet
	Raise
	AllIn
)

var actionNames = [...]string{"fold", "check", "call", "bet", "raise", "allin"}

func (a ActionType) String() string {
	if a < Fold || a > AllIn {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return actionNames[a]
}

// Valid reports whether a is one of the defined action types.
func (a ActionType) Valid() bool {
	return a >= Fold && a <= AllIn
}

// ParseActionType parses the wire name of an action. "all_in" and "all-in"
// are accepted as aliases for "allin".
func ParseActionType(s string) (ActionType, error) {
	switch s {
	case "fold":
		return Fold, nil
	case "check":
		return Check, nil
	case "call":
		return Call, nil
	case "bet":
		return Bet, nil
	case "raise":
		return Raise, nil
	case "allin", "all_in", "all-in":
		return AllIn, nil
	}
	return 0, fmt.Errorf("%w: unknown action %q", ErrInvalidAction, s)
}

func (a ActionType) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAction, int(a))
	}
	return []byte(a.String()), nil
}

func (a *ActionType) UnmarshalText(text []byte) error {
	parsed, err := ParseActionType(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Action is a player's decision. For Bet and Raise, Amount is the total the
// player will have in front of them this round ("raise to"). For Call and
// AllIn it is ignored on input and filled in with the chips committed once
// the action is applied.
type Action struct {
	Type      ActionType `json:"type"`
	Amount    int        `json:"amount,omitempty"`
	PlayerID  string     `json:"playerId"`
	Timestamp time.Time  `json:"timestamp"`
	Implicit  bool       `json:"implicit,omitempty"`
}

func (a Action) String() string {
	switch a.Type {
	case Bet, Raise, AllIn:
		return fmt.Sprintf("%s %s %d", a.PlayerID, a.Type, a.Amount)
	default:
		return fmt.Sprintf("%s %s", a.PlayerID, a.Type)
	}
}

// ValidAction describes one action the current actor may take. For Call,
// Min and Max are the chips needed to call; for Bet, Raise and AllIn they
// are "to" amounts.
type ValidAction struct {
	Type ActionType `json:"type"`
	Min  int        `json:"min,omitempty"`
	Max  int        `json:"max,omitempty"`
}
