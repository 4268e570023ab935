// Package game implements the Texas Hold'em betting engine for one hand.
//
// A Game is created from the seats at a table, started, and then driven by
// ProcessAction and Timeout until it reports Finished:
//
//	g, err := game.NewGame(id, tableID, seats, game.Config{SmallBlind: 5, BigBlind: 10})
//	events, err := g.Start()
//	events, err = g.ProcessAction(game.Action{Type: game.Call, PlayerID: "alice"})
//	if g.Finished() {
//	    summary := g.Result()
//	}
//
// Rejected actions return a typed error and leave the game unchanged.
// Chips committed during the hand are split into a main pot and side pots
// by BuildPots, and settled outermost pot first at showdown.
//
// A Game is not safe for concurrent use; the table runner owns it.
package game
