// Package reducer folds events into AppState.
//
// Reduce is pure: it never mutates its input and returns the same output for
// the same input. Legality of an event in context is a separate question,
// answered by Check before an event is persisted; Reduce only refuses events
// that would leave the state internally inconsistent.
package reducer

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/cardlog/internal/deck"
	"github.com/roach88/cardlog/internal/event"
	"github.com/roach88/cardlog/internal/state"
)

// ErrInvariant is wrapped by every InvariantError.
var ErrInvariant = errors.New("reducer invariant violation")

// InvariantError reports an event that cannot be folded into the state it
// was applied to. It means the event was constructed wrongly.
type InvariantError struct {
	EventID string
	Type    event.Type
	Reason  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Type, e.EventID, e.Reason)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariant
}

func violation(e event.Event, format string, args ...any) error {
	return &InvariantError{EventID: e.EventID, Type: e.Type, Reason: fmt.Sprintf(format, args...)}
}

// Reduce applies e to s and returns the new state. A panic while applying e
// is reported as an InvariantError.
func Reduce(s state.AppState, e event.Event) (state.AppState, error) {
	next := s.Clone()
	if err := applySafe(&next, e); err != nil {
		return s, err
	}
	return next, nil
}

// Fold applies events in order starting from s. On error the input state is
// returned unchanged.
func Fold(s state.AppState, events []event.Event) (state.AppState, error) {
	out := s.Clone()
	for _, e := range events {
		if err := applySafe(&out, e); err != nil {
			return s, err
		}
	}
	return out, nil
}

// Replay folds events from the empty state.
func Replay(events []event.Event) (state.AppState, error) {
	return Fold(state.New(), events)
}

func applySafe(s *state.AppState, e event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = violation(e, "panic: %v", r)
		}
	}()
	return apply(s, e)
}

// apply mutates s in place. Callers own s.
func apply(s *state.AppState, e event.Event) error {
	switch p := e.Payload.(type) {
	case event.PlayerAdded:
		if _, ok := s.Players[p.ID]; !ok {
			s.Order = append(s.Order, p.ID)
		}
		s.Players[p.ID] = p.Name

	case event.PlayerRenamed:
		if _, ok := s.Players[p.ID]; ok {
			s.Players[p.ID] = p.Name
		}

	case event.PlayerRemoved:
		delete(s.Players, p.ID)
		delete(s.Scores, p.ID)
		s.Order = slices.DeleteFunc(s.Order, func(id string) bool { return id == p.ID })

	case event.PlayersReordered:
		s.Order = reorder(s.Order, p.Order)

	case event.ScoreAdded:
		s.Scores[p.PlayerID] += p.Delta

	case event.RoundBidSet:
		r := round(s, p.Round)
		r.Bids[p.PlayerID] = p.Bid
		s.Rounds[p.Round] = r

	case event.RoundMadeSet:
		r := round(s, p.Round)
		r.Made[p.PlayerID] = p.Made
		s.Rounds[p.Round] = r

	case event.RoundFinalized:
		r := round(s, p.Round)
		if r.Finalized {
			return nil
		}
		for id, bid := range r.Bids {
			if r.Made[id] {
				s.Scores[id] += ScorecardPoints(bid)
			}
		}
		r.Finalized = true
		s.Rounds[p.Round] = r

	case event.RosterCreated:
		s.Rosters[p.RosterID] = state.Roster{
			Name:    p.Name,
			Mode:    state.Mode(p.Mode),
			Players: map[string]string{},
			Order:   []string{},
		}

	case event.RosterRenamed:
		if r, ok := s.Rosters[p.RosterID]; ok {
			r.Name = p.Name
			s.Rosters[p.RosterID] = r
		}

	case event.RosterPlayerAdded:
		if r, ok := s.Rosters[p.RosterID]; ok {
			if _, seen := r.Players[p.ID]; !seen {
				r.Order = append(r.Order, p.ID)
			}
			r.Players[p.ID] = p.Name
			s.Rosters[p.RosterID] = r
		}

	case event.RosterPlayerRemoved:
		if r, ok := s.Rosters[p.RosterID]; ok {
			delete(r.Players, p.ID)
			r.Order = slices.DeleteFunc(r.Order, func(id string) bool { return id == p.ID })
			s.Rosters[p.RosterID] = r
		}

	case event.RosterArchived:
		if r, ok := s.Rosters[p.RosterID]; ok {
			r.Archived = true
			s.Rosters[p.RosterID] = r
		}

	case event.SeedSet:
		s.SP.Seed = p.Seed
		s.SP.TotalRounds = p.Rounds

	case event.Deal:
		return applyDeal(s, e, p)

	case event.PhaseSet:
		s.SP.Phase = state.Phase(p.Phase)

	case event.Bid:
		s.SP.Bids[p.PlayerID] = p.Bid

	case event.TrickPlayed:
		hand, ok := deck.Remove(s.SP.Hands[p.PlayerID], p.Card)
		if !ok {
			return violation(e, "%s does not hold %s", p.PlayerID, p.Card)
		}
		s.SP.Hands[p.PlayerID] = hand
		s.SP.Trick = append(s.SP.Trick, state.Play{PlayerID: p.PlayerID, Card: p.Card})

	case event.TrickRevealed:
		s.SP.Reveal = &state.Reveal{WinnerID: p.WinnerID}
		s.SP.Phase = state.PhaseReveal

	case event.TrickCleared:
		for _, play := range s.SP.Trick {
			if play.PlayerID != p.WinnerID {
				continue
			}
			s.SP.Counts[p.WinnerID]++
			if play.Card.Suit == s.SP.Trump {
				s.SP.TrumpWins[p.WinnerID]++
			}
		}
		s.SP.Trick = []state.Play{}
		s.SP.Reveal = nil
		if s.SP.Phase == state.PhaseReveal {
			s.SP.Phase = state.PhasePlaying
		}

	case event.TrumpBrokenSet:
		s.SP.TrumpBroken = p.Broken

	case event.LeaderSet:
		s.SP.LeaderID = p.LeaderID

	case event.RoundScored:
		r := state.Round{Bids: map[string]int{}, Made: map[string]bool{}, Finalized: true}
		for _, id := range s.SP.Order {
			if bid, ok := s.SP.Bids[id]; ok {
				r.Bids[id] = bid
				r.Made[id] = s.SP.Counts[id] == bid
			}
		}
		for id, d := range p.Deltas {
			s.Scores[id] += d
		}
		s.Rounds[p.RoundNo] = r
		s.SP.Phase = state.PhaseSummary

	case event.SPReset:
		s.SP = state.NewSP()

	default:
		// Unknown tags from newer builds leave state unchanged.
	}
	return nil
}

func applyDeal(s *state.AppState, e event.Event, p event.Deal) error {
	if len(p.Order) == 0 {
		return violation(e, "deal has no seats")
	}
	if len(p.Hands) != len(p.Order) {
		return violation(e, "deal has %d hands for %d seats", len(p.Hands), len(p.Order))
	}
	hands := make(map[string][]deck.Card, len(p.Hands))
	for _, id := range p.Order {
		h, ok := p.Hands[id]
		if !ok {
			return violation(e, "seat %s has no hand", id)
		}
		hands[id] = slices.Clone(h)
	}
	dealer := slices.Index(p.Order, p.DealerID)
	if dealer < 0 {
		return violation(e, "dealer %s is not seated", p.DealerID)
	}

	sp := &s.SP
	sp.Phase = state.PhaseBidding
	sp.RoundNo = p.RoundNo
	sp.DealerID = p.DealerID
	sp.Order = slices.Clone(p.Order)
	sp.Trump = p.Trump
	sp.TrumpCard = nil
	if p.TrumpCard != nil {
		c := *p.TrumpCard
		sp.TrumpCard = &c
	}
	sp.TrumpBroken = false
	sp.LeaderID = p.Order[(dealer+1)%len(p.Order)]
	sp.Hands = hands
	sp.Bids = map[string]int{}
	sp.Trick = []state.Play{}
	sp.Counts = map[string]int{}
	sp.TrumpWins = map[string]int{}
	sp.Reveal = nil
	return nil
}

func round(s *state.AppState, n int) state.Round {
	r, ok := s.Rounds[n]
	if !ok {
		return state.Round{Bids: map[string]int{}, Made: map[string]bool{}}
	}
	if r.Bids == nil {
		r.Bids = map[string]int{}
	}
	if r.Made == nil {
		r.Made = map[string]bool{}
	}
	return r
}

// reorder puts known ids in the requested order; ids the request omits keep
// their relative order at the end.
func reorder(current, requested []string) []string {
	out := make([]string, 0, len(current))
	for _, id := range requested {
		if slices.Contains(current, id) && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	for _, id := range current {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
