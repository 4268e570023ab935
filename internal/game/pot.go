package game

import (
	"slices"
)

// Pot is one layer of the pot ladder. Pots are ordered main pot first,
// then side pots with increasing contribution levels.
type Pot struct {
	Amount   int      `json:"amount"`
	Eligible []string `json:"eligible"`
	Winners  []string `json:"winners,omitempty"`
}

func (p Pot) clone() Pot {
	return Pot{
		Amount:   p.Amount,
		Eligible: slices.Clone(p.Eligible),
		Winners:  slices.Clone(p.Winners),
	}
}

// BuildPots splits the chips committed this hand into a main pot and side
// pots. Layer boundaries are the TotalBet levels of all-in players plus the
// largest contribution. Each layer is contested by the players still in the
// hand who reached it. Adjacent layers with the same contenders merge, and a
// layer nobody can win is added to the layer below it.
//
// The returned amounts always sum to the total of every player's TotalBet.
func BuildPots(players []*Player) []Pot {
	levels := make([]int, 0, len(players))
	top := 0
	for _, p := range players {
		if p.Status == StatusAllIn && p.TotalBet > 0 {
			levels = append(levels, p.TotalBet)
		}
		top = max(top, p.TotalBet)
	}
	if top == 0 {
		return nil
	}
	levels = append(levels, top)
	slices.Sort(levels)
	levels = slices.Compact(levels)

	var pots []Pot
	carry, prev := 0, 0
	for _, level := range levels {
		amount := carry
		var eligible []string
		for _, p := range players {
			if p.TotalBet > prev {
				amount += min(p.TotalBet, level) - prev
			}
			if p.InHand() && p.TotalBet >= level {
				eligible = append(eligible, p.ID)
			}
		}
		prev = level
		carry = 0

		switch {
		case amount == 0:
			continue
		case len(eligible) == 0 && len(pots) > 0:
			pots[len(pots)-1].Amount += amount
		case len(eligible) == 0:
			carry = amount
		case len(pots) > 0 && slices.Equal(pots[len(pots)-1].Eligible, eligible):
			pots[len(pots)-1].Amount += amount
		default:
			pots = append(pots, Pot{Amount: amount, Eligible: eligible})
		}
	}
	if carry > 0 {
		// Only possible when nobody is left in the hand at any level.
		pots = append(pots, Pot{Amount: carry})
	}
	return pots
}

// TotalPot sums the pot amounts.
func TotalPot(pots []Pot) int {
	total := 0
	for _, p := range pots {
		total += p.Amount
	}
	return total
}
