package evaluator

import (
	"fmt"
	"strings"

	"github.com/lox/holdemgrid/internal/deck"
)

// Category is the class of a five card hand. Higher categories beat lower
// ones.
type Category int

const (
	HighCard Category = iota + 1
	OnePair
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
	RoyalFlush
)

// String returns the string representation of a category
func (c Category) String() string {
	switch c {
	case HighCard:
		return "High Card"
	case OnePair:
		return "One Pair"
	case TwoPair:
		return "Two Pair"
	case ThreeOfAKind:
		return "Three of a Kind"
	case Straight:
		return "Straight"
	case Flush:
		return "Flush"
	case FullHouse:
		return "Full House"
	case FourOfAKind:
		return "Four of a Kind"
	case StraightFlush:
		return "Straight Flush"
	case RoyalFlush:
		return "Royal Flush"
	default:
		return "Unknown"
	}
}

// Result is an evaluated hand: its category, the five cards that make it
// and the ranks used to break ties, most significant first.
type Result struct {
	Category    Category    `json:"category"`
	Best        []deck.Card `json:"best"`
	Kickers     []deck.Rank `json:"kickers"`
	Description string      `json:"description"`
}

// String returns a string representation of the hand
func (r Result) String() string {
	cards := make([]string, len(r.Best))
	for i, c := range r.Best {
		cards[i] = c.String()
	}
	return fmt.Sprintf("%s [%s]", r.Description, strings.Join(cards, " "))
}

// Compare returns 1 if r beats other, -1 if it loses and 0 on a split.
func (r Result) Compare(other Result) int {
	return Compare(r, other)
}

// Compare compares two hands and returns:
// -1 if a is weaker than b
//
//	0 if a equals b
//	1 if a is stronger than b
func Compare(a, b Result) int {
	if a.Category != b.Category {
		if a.Category > b.Category {
			return 1
		}
		return -1
	}
	for i := 0; i < len(a.Kickers) && i < len(b.Kickers); i++ {
		if a.Kickers[i] > b.Kickers[i] {
			return 1
		}
		if a.Kickers[i] < b.Kickers[i] {
			return -1
		}
	}
	return 0
}

func rankWord(r deck.Rank) string {
	switch r {
	case deck.Two:
		return "Two"
	case deck.Three:
		return "Three"
	case deck.Four:
		return "Four"
	case deck.Five:
		return "Five"
	case deck.Six:
		return "Six"
	case deck.Seven:
		return "Seven"
	case deck.Eight:
		return "Eight"
	case deck.Nine:
		return "Nine"
	case deck.Ten:
		return "Ten"
	case deck.Jack:
		return "Jack"
	case deck.Queen:
		return "Queen"
	case deck.King:
		return "King"
	case deck.Ace:
		return "Ace"
	default:
		return "?"
	}
}

func describe(c Category, k []deck.Rank) string {
	switch c {
	case RoyalFlush:
		return "Royal Flush"
	case StraightFlush:
		return fmt.Sprintf("Straight Flush, %s high", rankWord(k[0]))
	case FourOfAKind:
		return fmt.Sprintf("Four of a Kind, %s", k[0].Name())
	case FullHouse:
		return fmt.Sprintf("Full House, %s over %s", k[0].Name(), k[1].Name())
	case Flush:
		return fmt.Sprintf("Flush, %s high", rankWord(k[0]))
	case Straight:
		return fmt.Sprintf("Straight, %s high", rankWord(k[0]))
	case ThreeOfAKind:
		return fmt.Sprintf("Three of a Kind, %s", k[0].Name())
	case TwoPair:
		return fmt.Sprintf("Two Pair, %s and %s", k[0].Name(), k[1].Name())
	case OnePair:
		return fmt.Sprintf("Pair of %s", k[0].Name())
	default:
		return fmt.Sprintf("High Card, %s", rankWord(k[0]))
	}
}
