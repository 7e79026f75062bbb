// Package state defines AppState, the value every session log folds into.
//
// An AppState is owned by whoever folded it. Readers that need to keep a
// state across writes take a Clone; the reducer never mutates its input.
package state

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/cardlog/internal/canon"
	"github.com/roach88/cardlog/internal/deck"
)

// Phase is a single-player round lifecycle phase.
type Phase string

const (
	PhaseSetup       Phase = "setup"
	PhaseBidding     Phase = "bidding"
	PhasePlaying     Phase = "playing"
	PhaseReveal      Phase = "reveal"
	PhaseFinalize    Phase = "finalize"
	PhaseSummary     Phase = "summary"
	PhaseGameSummary Phase = "game-summary"
)

// Mode is the kind of game a session holds.
type Mode string

const (
	ModeScorecard    Mode = "scorecard"
	ModeSinglePlayer Mode = "single-player"
)

// ScorecardRounds is the length of a scorecard game.
const ScorecardRounds = 10

// AppState is the fold of a session log.
type AppState struct {
	Players map[string]string `json:"players"`
	Order   []string          `json:"order"`
	Scores  map[string]int    `json:"scores"`
	Rounds  map[int]Round     `json:"rounds"`
	Rosters map[string]Roster `json:"rosters"`
	SP      SP                `json:"sp"`
}

// Round is one row of the per-round bid/made table.
type Round struct {
	Bids      map[string]int  `json:"bids"`
	Made      map[string]bool `json:"made"`
	Finalized bool            `json:"finalized"`
}

// Roster is a saved seating list.
type Roster struct {
	Name     string            `json:"name"`
	Mode     Mode              `json:"mode"`
	Players  map[string]string `json:"players"`
	Order    []string          `json:"order"`
	Archived bool              `json:"archived"`
}

// SP is the single-player sub-state.
type SP struct {
	Phase       Phase                  `json:"phase"`
	Seed        string                 `json:"seed"`
	TotalRounds int                    `json:"totalRounds"`
	RoundNo     int                    `json:"roundNo"`
	DealerID    string                 `json:"dealerId"`
	Order       []string               `json:"order"`
	Trump       deck.Suit              `json:"trump"`
	TrumpCard   *deck.Card             `json:"trumpCard"`
	TrumpBroken bool                   `json:"trumpBroken"`
	LeaderID    string                 `json:"leaderId"`
	Hands       map[string][]deck.Card `json:"hands"`
	Bids        map[string]int         `json:"bids"`
	Trick       []Play                 `json:"trick"`
	Counts      map[string]int         `json:"counts"`
	TrumpWins   map[string]int         `json:"trumpWins"`
	Reveal      *Reveal                `json:"reveal"`
}

// Play is one card on the table.
type Play struct {
	PlayerID string    `json:"playerId"`
	Card     deck.Card `json:"card"`
}

// Reveal marks a completed trick held on the table for display.
type Reveal struct {
	WinnerID string `json:"winnerId"`
}

// New returns the empty state at height 0.
func New() AppState {
	s := AppState{}
	s.normalize()
	return s
}

// NewSP returns the single-player sub-state before any game starts.
func NewSP() SP {
	sp := SP{Phase: PhaseSetup}
	sp.normalize()
	return sp
}

// normalize replaces nil maps so encoded snapshots never mix null and {}.
func (s *AppState) normalize() {
	if s.Players == nil {
		s.Players = map[string]string{}
	}
	if s.Order == nil {
		s.Order = []string{}
	}
	if s.Scores == nil {
		s.Scores = map[string]int{}
	}
	if s.Rounds == nil {
		s.Rounds = map[int]Round{}
	}
	if s.Rosters == nil {
		s.Rosters = map[string]Roster{}
	}
	s.SP.normalize()
}

func (sp *SP) normalize() {
	if sp.Phase == "" {
		sp.Phase = PhaseSetup
	}
	if sp.Order == nil {
		sp.Order = []string{}
	}
	if sp.Hands == nil {
		sp.Hands = map[string][]deck.Card{}
	}
	if sp.Bids == nil {
		sp.Bids = map[string]int{}
	}
	if sp.Trick == nil {
		sp.Trick = []Play{}
	}
	if sp.Counts == nil {
		sp.Counts = map[string]int{}
	}
	if sp.TrumpWins == nil {
		sp.TrumpWins = map[string]int{}
	}
}

// Clone returns a deep copy of s.
func (s AppState) Clone() AppState {
	out := AppState{
		Players: maps.Clone(s.Players),
		Order:   slices.Clone(s.Order),
		Scores:  maps.Clone(s.Scores),
		Rounds:  make(map[int]Round, len(s.Rounds)),
		Rosters: make(map[string]Roster, len(s.Rosters)),
		SP:      s.SP.Clone(),
	}
	for n, r := range s.Rounds {
		out.Rounds[n] = r.Clone()
	}
	for id, r := range s.Rosters {
		out.Rosters[id] = r.Clone()
	}
	out.normalize()
	return out
}

// Clone returns a deep copy of r.
func (r Round) Clone() Round {
	return Round{
		Bids:      maps.Clone(r.Bids),
		Made:      maps.Clone(r.Made),
		Finalized: r.Finalized,
	}
}

// Clone returns a deep copy of r.
func (r Roster) Clone() Roster {
	return Roster{
		Name:     r.Name,
		Mode:     r.Mode,
		Players:  maps.Clone(r.Players),
		Order:    slices.Clone(r.Order),
		Archived: r.Archived,
	}
}

// Clone returns a deep copy of sp.
func (sp SP) Clone() SP {
	out := sp
	out.Order = slices.Clone(sp.Order)
	out.Hands = make(map[string][]deck.Card, len(sp.Hands))
	for id, h := range sp.Hands {
		out.Hands[id] = slices.Clone(h)
	}
	out.Bids = maps.Clone(sp.Bids)
	out.Trick = slices.Clone(sp.Trick)
	out.Counts = maps.Clone(sp.Counts)
	out.TrumpWins = maps.Clone(sp.TrumpWins)
	if sp.TrumpCard != nil {
		c := *sp.TrumpCard
		out.TrumpCard = &c
	}
	if sp.Reveal != nil {
		r := *sp.Reveal
		out.Reveal = &r
	}
	out.normalize()
	return out
}

// Encode returns the canonical JSON form used for snapshots.
func Encode(s AppState) ([]byte, error) {
	data, err := canon.Marshal(s.Clone())
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot produced by Encode.
func Decode(data []byte) (AppState, error) {
	var s AppState
	if err := json.Unmarshal(data, &s); err != nil {
		return AppState{}, fmt.Errorf("decode state: %w", err)
	}
	s.normalize()
	return s, nil
}

// Fingerprint is a short stable digest of s, equal for equal states.
func Fingerprint(s AppState) (string, error) {
	return canon.Fingerprint(s.Clone())
}

// Mode reports single-player once a round has been dealt, scorecard otherwise.
func (s AppState) Mode() Mode {
	if s.SP.Phase != PhaseSetup && s.SP.Phase != "" {
		return ModeSinglePlayer
	}
	return ModeScorecard
}

// Completed reports whether the game reached its terminal state.
func (s AppState) Completed() bool {
	if s.SP.Phase == PhaseGameSummary {
		return true
	}
	if s.Mode() == ModeSinglePlayer {
		return false
	}
	for r := 1; r <= ScorecardRounds; r++ {
		if !s.Rounds[r].Finalized {
			return false
		}
	}
	return true
}

// RoundsPlayed counts finalized rounds.
func (s AppState) RoundsPlayed() int {
	n := 0
	for _, r := range s.Rounds {
		if r.Finalized {
			n++
		}
	}
	return n
}

// Leader returns the highest scoring player, ties broken by seat order.
// It returns "" when there are no players.
func (s AppState) Leader() string {
	best := ""
	for _, id := range s.Order {
		if best == "" || s.Scores[id] > s.Scores[best] {
			best = id
		}
	}
	return best
}

// LiveCard returns the card playerID has on the table in the current trick.
func (s AppState) LiveCard(playerID string) *deck.Card {
	for _, p := range s.SP.Trick {
		if p.PlayerID == playerID {
			c := p.Card
			return &c
		}
	}
	return nil
}

// Seats is the number of players dealt into the current round.
func (sp SP) Seats() int {
	return len(sp.Order)
}

// SeatIndex returns playerID's position in the deal order, or -1.
func (sp SP) SeatIndex(playerID string) int {
	return slices.Index(sp.Order, playerID)
}

// LeftOf returns the seat after playerID in deal order.
func (sp SP) LeftOf(playerID string) (string, bool) {
	i := sp.SeatIndex(playerID)
	if i < 0 || len(sp.Order) == 0 {
		return "", false
	}
	return sp.Order[(i+1)%len(sp.Order)], true
}

// Turn returns the seat expected to play next in the current trick.
func (sp SP) Turn() (string, bool) {
	i := sp.SeatIndex(sp.LeaderID)
	if i < 0 || len(sp.Trick) >= len(sp.Order) {
		return "", false
	}
	return sp.Order[(i+len(sp.Trick))%len(sp.Order)], true
}

// TrickComplete reports whether every seat has played to the current trick.
func (sp SP) TrickComplete() bool {
	return len(sp.Order) > 0 && len(sp.Trick) == len(sp.Order)
}

// LedSuit is the suit of the first card in the current trick.
func (sp SP) LedSuit() (deck.Suit, bool) {
	if len(sp.Trick) == 0 {
		return "", false
	}
	return sp.Trick[0].Card.Suit, true
}

// TricksTaken sums trick counts for the round.
func (sp SP) TricksTaken() int {
	n := 0
	for _, c := range sp.Counts {
		n += c
	}
	return n
}

// AllBid reports whether every seat has bid.
func (sp SP) AllBid() bool {
	if len(sp.Order) == 0 {
		return false
	}
	for _, id := range sp.Order {
		if _, ok := sp.Bids[id]; !ok {
			return false
		}
	}
	return true
}
