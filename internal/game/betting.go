package game

import "fmt"

// bettingRound tracks the state of the current street.
type bettingRound struct {
	CurrentBet int `json:"currentBet"`
	// MinRaise is the size of the last full bet or raise; a raise must
	// increase the current bet by at least this much.
	MinRaise int `json:"minRaise"`
	// level counts full bets and raises this street. A player whose
	// actedLevel equals it may not raise again.
	level int
}

func newBettingRound(bigBlind int) bettingRound {
	return bettingRound{MinRaise: bigBlind}
}

// canRaise reports whether betting is open for p. Betting re-opens for a
// player that already acted only after a full raise.
func (br *bettingRound) canRaise(p *Player) bool {
	return !p.HasActed || p.actedLevel < br.level
}

// validActions returns the actions p may take. bigBlind is the minimum
// opening bet.
func (br *bettingRound) validActions(p *Player, bigBlind int) []ValidAction {
	if !p.CanAct() {
		return nil
	}
	toCall := max(br.CurrentBet-p.CurrentBet, 0)
	allInTo := p.CurrentBet + p.Chips

	actions := []ValidAction{{Type: Fold}}
	if toCall == 0 {
		actions = append(actions, ValidAction{Type: Check})
	} else if toCall < p.Chips {
		actions = append(actions, ValidAction{Type: Call, Min: toCall, Max: toCall})
	}

	open := br.canRaise(p)
	switch {
	case open && br.CurrentBet == 0 && allInTo > bigBlind:
		actions = append(actions, ValidAction{Type: Bet, Min: bigBlind, Max: allInTo})
	case open && br.CurrentBet > 0 && allInTo > br.CurrentBet+br.MinRaise:
		actions = append(actions, ValidAction{Type: Raise, Min: br.CurrentBet + br.MinRaise, Max: allInTo})
	}
	if open || allInTo <= br.CurrentBet {
		actions = append(actions, ValidAction{Type: AllIn, Min: allInTo, Max: allInTo})
	}
	return actions
}

// normalize reclassifies an action that commits the whole stack as all-in
// and rejects amounts beyond the stack.
func (br *bettingRound) normalize(p *Player, a Action) (Action, error) {
	allInTo := p.CurrentBet + p.Chips
	switch a.Type {
	case Call:
		if br.CurrentBet-p.CurrentBet >= p.Chips && p.Chips > 0 {
			a.Type = AllIn
		}
	case Bet, Raise:
		if a.Amount > allInTo {
			return a, fmt.Errorf("%w: %s to %d with %d behind", ErrInsufficientChips, a.Type, a.Amount, p.Chips)
		}
		if a.Amount == allInTo {
			a.Type = AllIn
		}
	case Fold, Check, AllIn:
	default:
		return a, fmt.Errorf("%w: %s", ErrInvalidAction, a.Type)
	}
	return a, nil
}

// validate checks a normalized action against the valid set for p.
func (br *bettingRound) validate(p *Player, a Action, bigBlind int) error {
	toCall := max(br.CurrentBet-p.CurrentBet, 0)
	open := br.canRaise(p)

	switch a.Type {
	case Fold:
		return nil
	case Check:
		if toCall > 0 {
			return fmt.Errorf("%w: cannot check facing %d", ErrInvalidAction, toCall)
		}
	case Call:
		if toCall == 0 {
			return fmt.Errorf("%w: nothing to call", ErrInvalidAction)
		}
	case Bet:
		switch {
		case br.CurrentBet > 0:
			return fmt.Errorf("%w: cannot bet facing %d, raise instead", ErrInvalidAction, br.CurrentBet)
		case !open:
			return fmt.Errorf("%w: betting is closed", ErrInvalidAction)
		case a.Amount < bigBlind:
			return fmt.Errorf("%w: bet %d below minimum %d", ErrInvalidAction, a.Amount, bigBlind)
		}
	case Raise:
		switch {
		case br.CurrentBet == 0:
			return fmt.Errorf("%w: nothing to raise, bet instead", ErrInvalidAction)
		case !open:
			return fmt.Errorf("%w: betting was not re-opened", ErrInvalidAction)
		case a.Amount < br.CurrentBet+br.MinRaise:
			return fmt.Errorf("%w: raise to %d below minimum %d", ErrInvalidAction, a.Amount, br.CurrentBet+br.MinRaise)
		}
	case AllIn:
		if p.Chips == 0 {
			return fmt.Errorf("%w: no chips", ErrInvalidAction)
		}
		if !open && p.CurrentBet+p.Chips > br.CurrentBet {
			return fmt.Errorf("%w: betting was not re-opened, call or fold", ErrInvalidAction)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidAction, a.Type)
	}
	return nil
}

// apply commits chips for a validated action and returns the amount added.
func (br *bettingRound) apply(p *Player, a Action) int {
	var added int
	switch a.Type {
	case Fold:
		p.Status = StatusFolded
	case Check:
	case Call:
		added = p.commit(br.CurrentBet - p.CurrentBet)
	case Bet, Raise:
		added = p.commit(a.Amount - p.CurrentBet)
	case AllIn:
		added = p.commit(p.Chips)
	}

	if p.CurrentBet > br.CurrentBet {
		increase := p.CurrentBet - br.CurrentBet
		if increase >= br.MinRaise {
			br.MinRaise = increase
			br.level++
		}
		br.CurrentBet = p.CurrentBet
	}

	p.HasActed = true
	p.actedLevel = br.level
	t := a.Type
	p.LastAction = &t
	return added
}

// complete reports whether the street's betting is over: every player able
// to act has acted and matched the current bet. A lone player who already
// matches has nobody left to bet against.
func (br *bettingRound) complete(players []*Player) bool {
	var able []*Player
	for _, p := range players {
		if p.CanAct() {
			able = append(able, p)
		}
	}
	if len(able) == 0 {
		return true
	}
	if len(able) == 1 {
		return able[0].CurrentBet >= br.CurrentBet
	}
	for _, p := range able {
		if !p.HasActed || p.CurrentBet != br.CurrentBet {
			return false
		}
	}
	return true
}
