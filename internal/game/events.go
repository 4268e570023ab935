package game

import (
	"fmt"

	"github.com/lox/holdemgrid/internal/deck"
)

// EventType identifies what happened in an Event.
type EventType int

const (
	EventHandStarted EventType = iota
	EventAntePosted
	EventBlindPosted
	EventHoleCards
	EventAction
	EventStreet
	EventShowdown
	EventPotAwarded
	EventHandFinished
)

var eventNames = [...]string{
	"hand_started", "ante_posted", "blind_posted", "hole_cards", "action",
	"street", "showdown", "pot_awarded", "hand_finished",
}

func (t EventType) String() string {
	if t < EventHandStarted || t > EventHandFinished {
		return fmt.Sprintf("event(%d)", int(t))
	}
	return eventNames[t]
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Event is a state change produced by the engine. Events are returned in
// the order they happened; callers use them for logs and hand histories.
type Event struct {
	Type     EventType   `json:"type"`
	Phase    Phase       `json:"phase"`
	PlayerID string      `json:"playerId,omitempty"`
	Action   *Action     `json:"action,omitempty"`
	Amount   int         `json:"amount,omitempty"`
	Cards    []deck.Card `json:"cards,omitempty"`
	Pot      *Pot        `json:"pot,omitempty"`
}
