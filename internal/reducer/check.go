package reducer

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/cardlog/internal/deck"
	"github.com/roach88/cardlog/internal/event"
	"github.com/roach88/cardlog/internal/state"
)

// ErrIllegal is wrapped by every IllegalError.
var ErrIllegal = errors.New("illegal event")

// IllegalError reports an event that is well formed but not allowed in the
// state it would be applied to.
type IllegalError struct {
	Type   event.Type
	Reason string
}

func (e *IllegalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Reason)
}

func (e *IllegalError) Unwrap() error {
	return ErrIllegal
}

func illegal(t event.Type, format string, args ...any) error {
	return &IllegalError{Type: t, Reason: fmt.Sprintf(format, args...)}
}

// Check reports whether e may be appended on top of s.
//
// Reduce accepts anything it can fold; Check is the stricter gate used before
// persisting new events: phase rules, turn order, follow-suit and the
// trump-lead restriction all live here.
func Check(s state.AppState, e event.Event) error {
	t := e.Type
	sp := s.SP
	switch p := e.Payload.(type) {
	case event.PlayerAdded:
		if _, ok := s.Players[p.ID]; ok {
			return illegal(t, "player %s already exists", p.ID)
		}

	case event.PlayerRenamed:
		if _, ok := s.Players[p.ID]; !ok {
			return illegal(t, "unknown player %s", p.ID)
		}

	case event.PlayerRemoved:
		if _, ok := s.Players[p.ID]; !ok {
			return illegal(t, "unknown player %s", p.ID)
		}

	case event.PlayersReordered:
		want := slices.Sorted(maps.Keys(s.Players))
		got := slices.Sorted(slices.Values(p.Order))
		if !slices.Equal(want, got) {
			return illegal(t, "order must list every player exactly once")
		}

	case event.ScoreAdded:
		if _, ok := s.Players[p.PlayerID]; !ok {
			return illegal(t, "unknown player %s", p.PlayerID)
		}

	case event.RoundBidSet:
		if err := checkScorecardRound(s, t, p.Round, p.PlayerID); err != nil {
			return err
		}

	case event.RoundMadeSet:
		if err := checkScorecardRound(s, t, p.Round, p.PlayerID); err != nil {
			return err
		}

	case event.RoundFinalized:
		if p.Round > state.ScorecardRounds {
			return illegal(t, "round %d out of range 1..%d", p.Round, state.ScorecardRounds)
		}
		if s.Rounds[p.Round].Finalized {
			return illegal(t, "round %d already finalized", p.Round)
		}

	case event.RosterCreated:
		if _, ok := s.Rosters[p.RosterID]; ok {
			return illegal(t, "roster %s already exists", p.RosterID)
		}

	case event.RosterRenamed:
		if _, ok := s.Rosters[p.RosterID]; !ok {
			return illegal(t, "unknown roster %s", p.RosterID)
		}

	case event.RosterPlayerAdded:
		r, ok := s.Rosters[p.RosterID]
		if !ok {
			return illegal(t, "unknown roster %s", p.RosterID)
		}
		if _, ok := r.Players[p.ID]; ok {
			return illegal(t, "player %s already on roster %s", p.ID, p.RosterID)
		}

	case event.RosterPlayerRemoved:
		r, ok := s.Rosters[p.RosterID]
		if !ok {
			return illegal(t, "unknown roster %s", p.RosterID)
		}
		if _, ok := r.Players[p.ID]; !ok {
			return illegal(t, "player %s not on roster %s", p.ID, p.RosterID)
		}

	case event.RosterArchived:
		r, ok := s.Rosters[p.RosterID]
		if !ok {
			return illegal(t, "unknown roster %s", p.RosterID)
		}
		if r.Archived {
			return illegal(t, "roster %s already archived", p.RosterID)
		}

	case event.SeedSet:
		if sp.Phase != state.PhaseSetup {
			return illegal(t, "seed can only be set during setup, phase is %s", sp.Phase)
		}
		if p.Rounds > MaxRounds {
			return illegal(t, "%d rounds exceeds %d", p.Rounds, MaxRounds)
		}

	case event.Deal:
		return checkDeal(sp, t, p)

	case event.PhaseSet:
		return checkPhase(sp, t, state.Phase(p.Phase))

	case event.Bid:
		if sp.Phase != state.PhaseBidding {
			return illegal(t, "bids are only accepted while bidding, phase is %s", sp.Phase)
		}
		if sp.SeatIndex(p.PlayerID) < 0 {
			return illegal(t, "%s is not seated", p.PlayerID)
		}
		if _, ok := sp.Bids[p.PlayerID]; ok {
			return illegal(t, "%s has already bid", p.PlayerID)
		}
		if limit := len(sp.Hands[p.PlayerID]); p.Bid > limit {
			return illegal(t, "bid %d exceeds %d tricks", p.Bid, limit)
		}

	case event.TrickPlayed:
		return checkPlay(sp, t, p)

	case event.TrickRevealed:
		if sp.Phase != state.PhasePlaying {
			return illegal(t, "reveal outside play, phase is %s", sp.Phase)
		}
		return checkWinner(sp, t, p.WinnerID)

	case event.TrickCleared:
		if sp.Phase != state.PhasePlaying && sp.Phase != state.PhaseReveal {
			return illegal(t, "clear outside play, phase is %s", sp.Phase)
		}
		return checkWinner(sp, t, p.WinnerID)

	case event.TrumpBrokenSet:
		// Accepted whatever the trick holds. The resolution batch carries
		// the flag as the caller computed it, and a trick with no trump in
		// it may still break trump (clubs-2 against diamonds-3 under spades
		// resolves with it set). Do not tighten this to require a trump card.
		if sp.Phase != state.PhasePlaying && sp.Phase != state.PhaseReveal {
			return illegal(t, "trump can only break during play, phase is %s", sp.Phase)
		}

	case event.LeaderSet:
		if sp.SeatIndex(p.LeaderID) < 0 {
			return illegal(t, "%s is not seated", p.LeaderID)
		}
		if len(sp.Trick) > 0 {
			return illegal(t, "leader cannot change mid-trick")
		}

	case event.RoundScored:
		if sp.Phase != state.PhaseFinalize {
			return illegal(t, "scoring outside finalize, phase is %s", sp.Phase)
		}
		if p.RoundNo != sp.RoundNo {
			return illegal(t, "scoring round %d during round %d", p.RoundNo, sp.RoundNo)
		}
		if !maps.Equal(p.Deltas, ScoreRound(sp)) {
			return illegal(t, "deltas do not match the round's bids and tricks")
		}

	case event.SPReset:

	default:
		return illegal(t, "unknown event type")
	}
	return nil
}

func checkScorecardRound(s state.AppState, t event.Type, round int, playerID string) error {
	if round > state.ScorecardRounds {
		return illegal(t, "round %d out of range 1..%d", round, state.ScorecardRounds)
	}
	if _, ok := s.Players[playerID]; !ok {
		return illegal(t, "unknown player %s", playerID)
	}
	if s.Rounds[round].Finalized {
		return illegal(t, "round %d already finalized", round)
	}
	return nil
}

func checkDeal(sp state.SP, t event.Type, p event.Deal) error {
	if sp.Seed == "" {
		return illegal(t, "no session seed")
	}
	switch sp.Phase {
	case state.PhaseSetup:
		if p.RoundNo != 1 {
			return illegal(t, "first deal must be round 1, got %d", p.RoundNo)
		}
	case state.PhaseSummary:
		if p.RoundNo != sp.RoundNo+1 {
			return illegal(t, "next deal must be round %d, got %d", sp.RoundNo+1, p.RoundNo)
		}
	default:
		return illegal(t, "deal during %s", sp.Phase)
	}
	if p.RoundNo > sp.TotalRounds {
		return illegal(t, "round %d exceeds %d rounds", p.RoundNo, sp.TotalRounds)
	}
	if slices.Index(p.Order, p.DealerID) < 0 {
		return illegal(t, "dealer %s is not seated", p.DealerID)
	}
	size := -1
	for _, id := range p.Order {
		h, ok := p.Hands[id]
		if !ok {
			return illegal(t, "seat %s has no hand", id)
		}
		if size >= 0 && len(h) != size {
			return illegal(t, "hands differ in size")
		}
		size = len(h)
	}
	if len(p.Hands) != len(p.Order) {
		return illegal(t, "hands dealt to unseated players")
	}
	return nil
}

// phaseTransitions lists the phase changes made by explicit phase-set
// events. Deal, reveal, clear and score events move phases themselves.
var phaseTransitions = map[state.Phase][]state.Phase{
	state.PhaseBidding: {state.PhasePlaying},
	state.PhasePlaying: {state.PhaseFinalize},
	state.PhaseSummary: {state.PhaseGameSummary},
}

func checkPhase(sp state.SP, t event.Type, to state.Phase) error {
	if !slices.Contains(phaseTransitions[sp.Phase], to) {
		return illegal(t, "cannot move from %s to %s", sp.Phase, to)
	}
	switch to {
	case state.PhasePlaying:
		if !sp.AllBid() {
			return illegal(t, "not every seat has bid")
		}
	case state.PhaseFinalize:
		if len(sp.Trick) > 0 || sp.TricksTaken() < TricksForRound(sp.RoundNo, sp.TotalRounds, sp.Seats()) {
			return illegal(t, "tricks remain to be played")
		}
	case state.PhaseGameSummary:
		if sp.RoundNo < sp.TotalRounds {
			return illegal(t, "round %d of %d is not the last", sp.RoundNo, sp.TotalRounds)
		}
	}
	return nil
}

func checkPlay(sp state.SP, t event.Type, p event.TrickPlayed) error {
	if sp.Phase != state.PhasePlaying {
		return illegal(t, "play outside playing, phase is %s", sp.Phase)
	}
	turn, ok := sp.Turn()
	if !ok {
		return illegal(t, "trick is complete")
	}
	if p.PlayerID != turn {
		return illegal(t, "%s played out of turn, expected %s", p.PlayerID, turn)
	}
	hand := sp.Hands[p.PlayerID]
	if !slices.Contains(hand, p.Card) {
		return illegal(t, "%s does not hold %s", p.PlayerID, p.Card)
	}
	if led, ok := sp.LedSuit(); ok {
		if p.Card.Suit != led && deck.HasSuit(hand, led) {
			return illegal(t, "%s must follow %s", p.PlayerID, led)
		}
		return nil
	}
	if p.Card.Suit == sp.Trump && !sp.TrumpBroken && !deck.OnlySuit(hand, sp.Trump) {
		return illegal(t, "cannot lead %s before trump is broken", sp.Trump)
	}
	return nil
}

func checkWinner(sp state.SP, t event.Type, winnerID string) error {
	if !sp.TrickComplete() {
		return illegal(t, "trick has %d of %d cards", len(sp.Trick), sp.Seats())
	}
	want, _ := TrickWinner(sp.Trick, sp.Trump)
	if winnerID != want {
		return illegal(t, "winner is %s, not %s", want, winnerID)
	}
	return nil
}

// LegalPlays lists the cards playerID may play now, in hand order.
func LegalPlays(sp state.SP, playerID string) []deck.Card {
	var out []deck.Card
	for _, c := range sp.Hands[playerID] {
		if checkPlay(sp, event.TypeTrickPlayed, event.TrickPlayed{PlayerID: playerID, Card: c}) == nil {
			out = append(out, c)
		}
	}
	return out
}
