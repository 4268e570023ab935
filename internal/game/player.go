package game

import (
	"fmt"
	"slices"

	"github.com/lox/holdemgrid/internal/deck"
)

// Status is a player's standing in the current hand.
type Status int

const (
	StatusActive Status = iota
	StatusFolded
	StatusAllIn
	StatusSittingOut
	StatusDisconnected
)

var statusNames = [...]string{"active", "folded", "all-in", "sitting-out", "disconnected"}

func (s Status) String() string {
	if s < StatusActive || s > StatusDisconnected {
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
	return fmt.Errorf("game: unknown status %q", text)
}

// Seat is a player sitting at the table when a hand is created.
type Seat struct {
	PlayerID   string
	Seat       int
	Chips      int
	SittingOut bool
}

// Player represents a player in a hand
type Player struct {
	ID           string      `json:"id"`
	Seat         int         `json:"seat"`
	Chips        int         `json:"chips"`
	CurrentBet   int         `json:"currentBet"`
	TotalBet     int         `json:"totalBet"`
	HoleCards    []deck.Card `json:"holeCards,omitempty"`
	Status       Status      `json:"status"`
	IsDealer     bool        `json:"isDealer,omitempty"`
	IsSmallBlind bool        `json:"isSmallBlind,omitempty"`
	IsBigBlind   bool        `json:"isBigBlind,omitempty"`
	HasActed     bool        `json:"hasActed"`
	LastAction   *ActionType `json:"lastAction,omitempty"`

	// raise level of the round when the player last acted
	actedLevel int
}

// InHand reports whether the player still contests the pot.
func (p *Player) InHand() bool {
	switch p.Status {
	case StatusActive, StatusAllIn, StatusDisconnected:
		return true
	}
	return false
}

// CanAct reports whether the player can still make betting decisions.
// Disconnected players keep their turn and are resolved by the deadline.
func (p *Player) CanAct() bool {
	return (p.Status == StatusActive || p.Status == StatusDisconnected) && p.Chips > 0
}

func (p *Player) clone() Player {
	c := *p
	c.HoleCards = slices.Clone(p.HoleCards)
	if p.LastAction != nil {
		a := *p.LastAction
		c.LastAction = &a
	}
	return c
}

// commit moves chips from the stack into the current bet.
func (p *Player) commit(amount int) int {
	amount = min(amount, p.Chips)
	p.Chips -= amount
	p.CurrentBet += amount
	p.TotalBet += amount
	if p.Chips == 0 {
		p.Status = StatusAllIn
	}
	return amount
}
