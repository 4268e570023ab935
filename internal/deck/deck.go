package deck

import (
	"errors"
	"fmt"
	rand "math/rand/v2"

	"github.com/lox/holdemgrid/internal/randutil"
)

// Size is the number of cards in a standard deck.
const Size = 52

// ErrDeckExhausted is returned when more cards are requested than remain.
var ErrDeckExhausted = errors.New("deck: exhausted")

// Deck represents a deck of playing cards. Cards before the cursor have
// been dealt; Dealt()+Remaining() is always 52.
type Deck struct {
	cards  [Size]Card
	cursor int
}

// New creates an ordered, unshuffled 52-card deck.
func New() *Deck {
	d := &Deck{}
	d.fill()
	return d
}

// NewShuffled creates a deck shuffled with seed, or with secure randomness
// when seed is nil.
func NewShuffled(seed *int64) *Deck {
	d := New()
	d.Shuffle(seed)
	return d
}

// NewStacked creates a deck whose first cards are top, in order, followed by
// the remaining cards in deck order. Used to replay recorded hands.
func NewStacked(top []Card) (*Deck, error) {
	d := &Deck{}
	used := make(map[Card]bool, len(top))
	i := 0
	for _, c := range top {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCard, c)
		}
		if used[c] {
			return nil, fmt.Errorf("deck: duplicate card %s", c)
		}
		used[c] = true
		d.cards[i] = c
		i++
	}
	for _, suit := range Suits {
		for rank := Two; rank <= Ace; rank++ {
			c := NewCard(suit, rank)
			if used[c] {
				continue
			}
			d.cards[i] = c
			i++
		}
	}
	return d, nil
}

func (d *Deck) fill() {
	i := 0
	for _, suit := range Suits {
		for rank := Two; rank <= Ace; rank++ {
			d.cards[i] = NewCard(suit, rank)
			i++
		}
	}
	d.cursor = 0
}

// Shuffle permutes the undealt cards with Fisher-Yates. A non-nil seed
// gives a reproducible order; nil uses a ChaCha8 source keyed from
// crypto/rand.
func (d *Deck) Shuffle(seed *int64) {
	var rng *rand.Rand
	if seed != nil {
		rng = randutil.New(*seed)
	} else {
		rng = randutil.NewSecure()
	}
	d.ShuffleWith(rng)
}

// ShuffleWith permutes the undealt cards using rng.
func (d *Deck) ShuffleWith(rng *rand.Rand) {
	undealt := d.cards[d.cursor:]
	for i := len(undealt) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		undealt[i], undealt[j] = undealt[j], undealt[i]
	}
}

// Deal removes and returns the next n cards. Nothing is dealt when n
// exceeds the remaining count.
func (d *Deck) Deal(n int) ([]Card, error) {
	if n < 0 {
		return nil, fmt.Errorf("deck: cannot deal %d cards", n)
	}
	if n > d.Remaining() {
		return nil, fmt.Errorf("%w: requested %d, %d remaining", ErrDeckExhausted, n, d.Remaining())
	}
	cards := make([]Card, n)
	copy(cards, d.cards[d.cursor:d.cursor+n])
	d.cursor += n
	return cards, nil
}

// Peek returns up to n upcoming cards without dealing them.
func (d *Deck) Peek(n int) []Card {
	n = max(0, min(n, d.Remaining()))
	cards := make([]Card, n)
	copy(cards, d.cards[d.cursor:d.cursor+n])
	return cards
}

// Reset restores all 52 cards and shuffles them.
func (d *Deck) Reset(seed *int64) {
	d.fill()
	d.Shuffle(seed)
}

// Remaining returns the number of undealt cards.
func (d *Deck) Remaining() int {
	return Size - d.cursor
}

// Dealt returns the number of cards dealt since the last reset.
func (d *Deck) Dealt() int {
	return d.cursor
}

// Clone returns an independent copy of the deck and its cursor.
func (d *Deck) Clone() *Deck {
	c := *d
	return &c
}
