// Package bot holds naive seat heuristics and a Driver that advances a
// single-player session through every non-human decision.
package bot

import (
	"slices"

	"github.com/roach88/cardlog/internal/deck"
	"github.com/roach88/cardlog/internal/engine"
	"github.com/roach88/cardlog/internal/reducer"
	"github.com/roach88/cardlog/internal/state"
)

var (
	_ engine.BidFunc  = Bid
	_ engine.PlayFunc = Play
)

// Bid counts aces and high trumps.
func Bid(s state.AppState, seat string) int {
	hand := s.SP.Hands[seat]
	n := 0
	for _, c := range hand {
		if c.Rank == 14 || (c.Suit == s.SP.Trump && c.Rank >= 11) {
			n++
		}
	}
	return min(n, len(hand))
}

// Play picks a legal card: it tries to win cheaply while short of its bid
// and to duck once the bid is made.
func Play(s state.AppState, seat string) deck.Card {
	sp := s.SP
	legal := reducer.LegalPlays(sp, seat)
	if len(legal) == 0 {
		return deck.Card{}
	}
	slices.SortFunc(legal, func(a, b deck.Card) int { return a.Rank - b.Rank })

	wantTricks := sp.Counts[seat] < sp.Bids[seat]
	if len(sp.Trick) == 0 {
		if wantTricks {
			return legal[len(legal)-1]
		}
		return legal[0]
	}

	var winners, losers []deck.Card
	for _, c := range legal {
		trick := append(slices.Clone(sp.Trick), state.Play{PlayerID: seat, Card: c})
		if w, _ := reducer.TrickWinner(trick, sp.Trump); w == seat {
			winners = append(winners, c)
		} else {
			losers = append(losers, c)
		}
	}
	switch {
	case wantTricks && len(winners) > 0:
		return winners[0]
	case !wantTricks && len(losers) > 0:
		return losers[len(losers)-1]
	default:
		return legal[0]
	}
}
