package game

import (
	"maps"
	"slices"
	"time"

	"github.com/lox/holdemgrid/internal/deck"
	"github.com/lox/holdemgrid/internal/evaluator"
	"github.com/lox/holdemgrid/internal/gameid"
)

// HandSummary is the outcome of a finished hand.
type HandSummary struct {
	GameID   gameid.ID                   `json:"gameId"`
	TableID  gameid.ID                   `json:"tableId"`
	Board    []deck.Card                 `json:"board"`
	Pots     []Pot                       `json:"pots"`
	Payouts  map[string]int              `json:"payouts"`
	Hands    map[string]evaluator.Result `json:"hands,omitempty"`
	Showdown bool                        `json:"showdown"`
	Actions  []Action                    `json:"actions"`
	Players  []Player                    `json:"players"`
}

func (s *HandSummary) clone() *HandSummary {
	if s == nil {
		return nil
	}
	c := *s
	c.Board = slices.Clone(s.Board)
	c.Pots = make([]Pot, len(s.Pots))
	for i, p := range s.Pots {
		c.Pots[i] = p.clone()
	}
	c.Payouts = maps.Clone(s.Payouts)
	c.Hands = maps.Clone(s.Hands)
	c.Actions = slices.Clone(s.Actions)
	c.Players = make([]Player, len(s.Players))
	for i := range s.Players {
		c.Players[i] = s.Players[i].clone()
	}
	return &c
}

// awardUncontested gives every pot to the last player in the hand.
func (g *Game) awardUncontested(events []Event) []Event {
	winner := g.players[slices.IndexFunc(g.players, (*Player).InHand)]
	payouts := make(map[string]int, 1)
	for i := range g.pots {
		g.pots[i].Winners = []string{winner.ID}
		winner.Chips += g.pots[i].Amount
		payouts[winner.ID] += g.pots[i].Amount
		pot := g.pots[i].clone()
		events = append(events, Event{Type: EventPotAwarded, Phase: g.phase, PlayerID: winner.ID, Amount: pot.Amount, Pot: &pot})
	}
	return g.finish(events, payouts, nil, false)
}

// showdown evaluates every contender and settles the pots outermost first.
// Split pots are divided evenly; odd chips go one at a time to the winners
// closest clockwise from the button.
func (g *Game) showdown(events []Event) ([]Event, error) {
	g.phase = Showdown
	g.actor = -1
	g.deadline = time.Time{}

	hands := make(map[string]evaluator.Result)
	for _, p := range g.players {
		if !p.InHand() {
			continue
		}
		res, err := evaluator.Evaluate(append(slices.Clone(p.HoleCards), g.board...))
		if err != nil {
			return nil, err
		}
		hands[p.ID] = res
	}
	events = append(events, Event{Type: EventShowdown, Phase: Showdown, Cards: slices.Clone(g.board)})

	payouts := make(map[string]int)
	for i := range g.pots {
		pot := &g.pots[i]
		var winners []*Player
		var best evaluator.Result
		for _, id := range pot.Eligible {
			p := g.players[g.indexOf(id)]
			res := hands[id]
			switch {
			case len(winners) == 0:
				winners, best = []*Player{p}, res
			case evaluator.Compare(res, best) > 0:
				winners, best = []*Player{p}, res
			case evaluator.Compare(res, best) == 0:
				winners = append(winners, p)
			}
		}
		if len(winners) == 0 {
			continue
		}
		g.orderFromButton(winners)

		share, odd := pot.Amount/len(winners), pot.Amount%len(winners)
		pot.Winners = make([]string, len(winners))
		for j, w := range winners {
			won := share
			if j < odd {
				won++
			}
			w.Chips += won
			payouts[w.ID] += won
			pot.Winners[j] = w.ID
		}
		awarded := pot.clone()
		events = append(events, Event{Type: EventPotAwarded, Phase: Showdown, Amount: awarded.Amount, Pot: &awarded})
	}
	return g.finish(events, payouts, hands, true), nil
}

// orderFromButton sorts players clockwise starting left of the button.
func (g *Game) orderFromButton(ps []*Player) {
	n := len(g.players)
	dist := func(p *Player) int {
		return (g.indexOf(p.ID) - g.dealer - 1 + n) % n
	}
	slices.SortFunc(ps, func(a, b *Player) int { return dist(a) - dist(b) })
}

func (g *Game) finish(events []Event, payouts map[string]int, hands map[string]evaluator.Result, showdown bool) []Event {
	g.phase = Finished
	g.actor = -1
	g.deadline = time.Time{}

	s := &HandSummary{
		GameID:   g.id,
		TableID:  g.tableID,
		Board:    slices.Clone(g.board),
		Pots:     make([]Pot, len(g.pots)),
		Payouts:  payouts,
		Hands:    hands,
		Showdown: showdown,
		Actions:  slices.Clone(g.actions),
		Players:  make([]Player, len(g.players)),
	}
	for i, p := range g.pots {
		s.Pots[i] = p.clone()
	}
	for i, p := range g.players {
		s.Players[i] = p.clone()
	}
	g.summary = s
	return append(events, Event{Type: EventHandFinished, Phase: Finished})
}
