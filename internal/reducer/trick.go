package reducer

import (
	"github.com/roach88/cardlog/internal/deck"
	"github.com/roach88/cardlog/internal/state"
)

// TrickWinner returns the winner of a trick: the highest trump if any trump
// was played, otherwise the highest card of the led suit.
func TrickWinner(trick []state.Play, trump deck.Suit) (string, bool) {
	if len(trick) == 0 {
		return "", false
	}
	led := trick[0].Card.Suit
	best := trick[0]
	for _, p := range trick[1:] {
		if beats(p.Card, best.Card, led, trump) {
			best = p
		}
	}
	return best.PlayerID, true
}

func beats(c, best deck.Card, led, trump deck.Suit) bool {
	switch {
	case c.Suit == best.Suit:
		return c.Rank > best.Rank
	case c.Suit == trump:
		return true
	case best.Suit == trump:
		return false
	default:
		return c.Suit == led && best.Suit != led
	}
}

// RoundPoints scores one seat: an exact bid earns 10 plus the bid plus one
// per trick won with trump; a missed bid loses the difference.
func RoundPoints(bid, tricks, trumpWins int) int {
	if bid == tricks {
		return 10 + bid + trumpWins
	}
	if bid > tricks {
		return tricks - bid
	}
	return bid - tricks
}

// ScorecardPoints is what a made bid is worth in scorecard mode.
func ScorecardPoints(bid int) int {
	return 5 + bid
}

// ScoreRound computes the per-seat deltas for the current single-player round.
func ScoreRound(sp state.SP) map[string]int {
	deltas := make(map[string]int, len(sp.Order))
	for _, id := range sp.Order {
		deltas[id] = RoundPoints(sp.Bids[id], sp.Counts[id], sp.TrumpWins[id])
	}
	return deltas
}
