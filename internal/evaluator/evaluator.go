// Package evaluator ranks Texas Hold'em hands. Evaluation enumerates every
// five card subset of the available cards and keeps the strongest, so the
// best five cards and the tie-break ordering are always explicit.
package evaluator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lox/holdemgrid/internal/deck"
)

var (
	ErrCardCount     = errors.New("evaluator: need between 5 and 7 cards")
	ErrDuplicateCard = errors.New("evaluator: duplicate card")
)

// Evaluate returns the best five card hand that can be made from cards,
// which holds a player's hole cards together with the board.
func Evaluate(cards []deck.Card) (Result, error) {
	if len(cards) < 5 || len(cards) > 7 {
		return Result{}, fmt.Errorf("%w: got %d", ErrCardCount, len(cards))
	}
	seen := make(map[deck.Card]bool, len(cards))
	for _, c := range cards {
		if !c.Valid() {
			return Result{}, fmt.Errorf("%w: %v", deck.ErrInvalidCard, c)
		}
		if seen[c] {
			return Result{}, fmt.Errorf("%w: %s", ErrDuplicateCard, c)
		}
		seen[c] = true
	}

	var (
		best  Result
		found bool
		five  [5]deck.Card
	)
	n := len(cards)
	for a := 0; a < n-4; a++ {
		for b := a + 1; b < n-3; b++ {
			for c := b + 1; c < n-2; c++ {
				for d := c + 1; d < n-1; d++ {
					for e := d + 1; e < n; e++ {
						five = [5]deck.Card{cards[a], cards[b], cards[c], cards[d], cards[e]}
						r := scoreFive(five)
						if !found || Compare(r, best) > 0 {
							best = r
							found = true
						}
					}
				}
			}
		}
	}
	best.Description = describe(best.Category, best.Kickers)
	return best, nil
}

// MustEvaluate is Evaluate for inputs already known to be valid.
func MustEvaluate(cards []deck.Card) Result {
	r, err := Evaluate(cards)
	if err != nil {
		panic(err)
	}
	return r
}

type rankGroup struct {
	rank  deck.Rank
	count int
}

// scoreFive classifies exactly five cards.
func scoreFive(five [5]deck.Card) Result {
	var counts [deck.Ace + 1]int
	flush := true
	for i, c := range five {
		counts[c.Rank]++
		if i > 0 && c.Suit != five[0].Suit {
			flush = false
		}
	}

	groups := make([]rankGroup, 0, 5)
	for r := deck.Ace; r >= deck.Two; r-- {
		if counts[r] > 0 {
			groups = append(groups, rankGroup{rank: r, count: counts[r]})
		}
	}
	// Larger groups first, then higher ranks.
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].count > groups[j].count
	})

	straightHigh := deck.Rank(0)
	if len(groups) == 5 {
		hi, lo := groups[0].rank, groups[4].rank
		switch {
		case hi-lo == 4:
			straightHigh = hi
		case hi == deck.Ace && groups[1].rank == deck.Five:
			straightHigh = deck.Five
		}
	}

	best := orderCards(five, groups, straightHigh == deck.Five)

	switch {
	case straightHigh != 0 && flush:
		if straightHigh == deck.Ace {
			return Result{Category: RoyalFlush, Best: best, Kickers: []deck.Rank{deck.Ace}}
		}
		return Result{Category: StraightFlush, Best: best, Kickers: []deck.Rank{straightHigh}}
	case groups[0].count == 4:
		return Result{Category: FourOfAKind, Best: best, Kickers: groupRanks(groups)}
	case groups[0].count == 3 && groups[1].count == 2:
		return Result{Category: FullHouse, Best: best, Kickers: groupRanks(groups)}
	case flush:
		return Result{Category: Flush, Best: best, Kickers: groupRanks(groups)}
	case straightHigh != 0:
		return Result{Category: Straight, Best: best, Kickers: []deck.Rank{straightHigh}}
	case groups[0].count == 3:
		return Result{Category: ThreeOfAKind, Best: best, Kickers: groupRanks(groups)}
	case groups[0].count == 2 && groups[1].count == 2:
		return Result{Category: TwoPair, Best: best, Kickers: groupRanks(groups)}
	case groups[0].count == 2:
		return Result{Category: OnePair, Best: best, Kickers: groupRanks(groups)}
	default:
		return Result{Category: HighCard, Best: best, Kickers: groupRanks(groups)}
	}
}

func groupRanks(groups []rankGroup) []deck.Rank {
	ranks := make([]deck.Rank, len(groups))
	for i, g := range groups {
		ranks[i] = g.rank
	}
	return ranks
}

// orderCards returns the five cards ordered by significance: grouped
// cards first, then descending rank. A wheel puts the ace last.
func orderCards(five [5]deck.Card, groups []rankGroup, wheel bool) []deck.Card {
	pos := make(map[deck.Rank]int, len(groups))
	for i, g := range groups {
		pos[g.rank] = i
	}
	out := five[:]
	out = append([]deck.Card(nil), out...)
	sort.SliceStable(out, func(i, j int) bool {
		if wheel {
			return wheelValue(out[i].Rank) > wheelValue(out[j].Rank)
		}
		if pos[out[i].Rank] != pos[out[j].Rank] {
			return pos[out[i].Rank] < pos[out[j].Rank]
		}
		return out[i].Suit < out[j].Suit
	})
	return out
}

func wheelValue(r deck.Rank) int {
	if r == deck.Ace {
		return 1
	}
	return int(r)
}
