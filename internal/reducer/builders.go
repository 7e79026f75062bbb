package reducer

import (
	"fmt"

	"github.com/roach88/cardlog/internal/event"
	"github.com/roach88/cardlog/internal/state"
)

// The builders below compute the multi-event transitions of a single-player
// round. Each returns payloads meant to be appended as one batch so
// observers never see the intermediate states.

// StartGame seeds the session and deals round one, dealt by the first seat.
func StartGame(seed string, rounds int, order []string) ([]event.Payload, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("start game: no seats")
	}
	deal, err := Deal(seed, 1, order, DealerFor(order, 1), rounds)
	if err != nil {
		return nil, fmt.Errorf("start game: %w", err)
	}
	return []event.Payload{event.SeedSet{Seed: seed, Rounds: rounds}, deal}, nil
}

// RevealTrick freezes a complete trick on the table, breaking trump first if
// a trump card was played into it.
func RevealTrick(s state.AppState) ([]event.Payload, error) {
	sp := s.SP
	if sp.Phase != state.PhasePlaying || !sp.TrickComplete() {
		return nil, fmt.Errorf("reveal trick: no complete trick in %s", sp.Phase)
	}
	winner, _ := TrickWinner(sp.Trick, sp.Trump)
	var out []event.Payload
	if brokeTrump(sp) {
		out = append(out, event.TrumpBrokenSet{Broken: true})
	}
	return append(out, event.TrickRevealed{WinnerID: winner}), nil
}

// AdvanceReveal clears the revealed trick, hands the lead to its winner and
// moves to finalize when the round's tricks are exhausted.
func AdvanceReveal(s state.AppState) ([]event.Payload, error) {
	sp := s.SP
	if sp.Phase != state.PhaseReveal || sp.Reveal == nil {
		return nil, fmt.Errorf("advance reveal: phase is %s", sp.Phase)
	}
	return clearTrick(sp, sp.Reveal.WinnerID), nil
}

// ResolveTrick clears a complete trick without a reveal pause.
func ResolveTrick(s state.AppState) ([]event.Payload, error) {
	sp := s.SP
	if sp.Phase != state.PhasePlaying || !sp.TrickComplete() {
		return nil, fmt.Errorf("resolve trick: no complete trick in %s", sp.Phase)
	}
	winner, _ := TrickWinner(sp.Trick, sp.Trump)
	var out []event.Payload
	if brokeTrump(sp) {
		out = append(out, event.TrumpBrokenSet{Broken: true})
	}
	return append(out, clearTrick(sp, winner)...), nil
}

func clearTrick(sp state.SP, winner string) []event.Payload {
	out := []event.Payload{
		event.TrickCleared{WinnerID: winner},
		event.LeaderSet{LeaderID: winner},
	}
	if sp.TricksTaken()+1 >= TricksForRound(sp.RoundNo, sp.TotalRounds, sp.Seats()) {
		out = append(out, event.PhaseSet{Phase: string(state.PhaseFinalize)})
	}
	return out
}

func brokeTrump(sp state.SP) bool {
	if sp.TrumpBroken {
		return false
	}
	for _, p := range sp.Trick {
		if p.Card.Suit == sp.Trump {
			return true
		}
	}
	return false
}

// FinalizeRound scores the round.
func FinalizeRound(s state.AppState) ([]event.Payload, error) {
	sp := s.SP
	if sp.Phase != state.PhaseFinalize {
		return nil, fmt.Errorf("finalize round: phase is %s", sp.Phase)
	}
	return []event.Payload{event.RoundScored{RoundNo: sp.RoundNo, Deltas: ScoreRound(sp)}}, nil
}

// AdvanceSummary leaves the round recap: the next round is dealt, or the game
// ends after the last round.
func AdvanceSummary(s state.AppState) ([]event.Payload, error) {
	sp := s.SP
	if sp.Phase != state.PhaseSummary {
		return nil, fmt.Errorf("advance summary: phase is %s", sp.Phase)
	}
	if sp.RoundNo >= sp.TotalRounds {
		return []event.Payload{event.PhaseSet{Phase: string(state.PhaseGameSummary)}}, nil
	}
	deal, err := NextRoundDeal(s)
	if err != nil {
		return nil, err
	}
	return []event.Payload{deal}, nil
}

// NextRoundDeal computes the deal following the current round, with the deal
// passing one seat to the left.
func NextRoundDeal(s state.AppState) (event.Deal, error) {
	sp := s.SP
	next := sp.RoundNo + 1
	dealer, ok := sp.LeftOf(sp.DealerID)
	if !ok {
		return event.Deal{}, fmt.Errorf("next round deal: dealer %s is not seated", sp.DealerID)
	}
	d, err := Deal(sp.Seed, next, sp.Order, dealer, sp.TotalRounds)
	if err != nil {
		return event.Deal{}, fmt.Errorf("next round deal: %w", err)
	}
	return d, nil
}

// StartPlay moves from bidding to playing once every seat has bid.
func StartPlay(s state.AppState) ([]event.Payload, error) {
	if s.SP.Phase != state.PhaseBidding || !s.SP.AllBid() {
		return nil, fmt.Errorf("start play: bidding is not complete")
	}
	return []event.Payload{event.PhaseSet{Phase: string(state.PhasePlaying)}}, nil
}
