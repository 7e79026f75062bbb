// Package archive freezes finished or abandoned sessions into GameRecords
// and restores them into a live log.
//
// A GameRecord carries the authoritative event bundle plus a Summary
// projected from it once, at archive time, so listings never replay.
package archive

import (
	"fmt"
	"strings"

	"github.com/roach88/cardlog/internal/event"
	"github.com/roach88/cardlog/internal/reducer"
	"github.com/roach88/cardlog/internal/state"
)

// SummaryVersion is the current Summary layout. Version 2 added the explicit
// Completed flag; older records fall back to heuristics.
const SummaryVersion = 2

// GameRecord is one archived game. Times are unix milliseconds.
type GameRecord struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	CreatedAt  int64   `json:"createdAt"`
	FinishedAt int64   `json:"finishedAt"`
	LastSeq    int64   `json:"lastSeq"`
	Archived   bool    `json:"archived"`
	Summary    Summary `json:"summary"`
	Bundle     Bundle  `json:"bundle"`
}

// Bundle is the replay source of a record.
type Bundle struct {
	LatestSeq int64         `json:"latestSeq"`
	Events    []event.Event `json:"events"`
}

// Summary is a denormalized projection of the bundle for listings.
type Summary struct {
	Version      int                 `json:"version"`
	Mode         state.Mode          `json:"mode"`
	Completed    bool                `json:"completed"`
	Players      map[string]string   `json:"players"`
	Order        []string            `json:"order"`
	Scores       map[string]int      `json:"scores"`
	Winner       string              `json:"winner,omitempty"`
	RoundsPlayed int                 `json:"roundsPlayed"`
	Rounds       map[int]state.Round `json:"rounds,omitempty"`
	SP           *state.SP           `json:"sp,omitempty"`
}

// Summarize folds events once and projects the result.
func Summarize(events []event.Event) (Summary, error) {
	s, err := reducer.Replay(events)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize: %w", err)
	}
	return summaryOf(s), nil
}

func summaryOf(s state.AppState) Summary {
	sum := Summary{
		Version:      SummaryVersion,
		Mode:         s.Mode(),
		Completed:    s.Completed(),
		Players:      s.Players,
		Order:        s.Order,
		Scores:       s.Scores,
		Winner:       s.Leader(),
		RoundsPlayed: s.RoundsPlayed(),
		Rounds:       s.Rounds,
	}
	if s.SP.Phase != state.PhaseSetup {
		sp := s.SP.Clone()
		sum.SP = &sp
	}
	return sum
}

// Check verifies the bundle bookkeeping of r.
func (r GameRecord) Check() error {
	n := int64(len(r.Bundle.Events))
	if r.LastSeq != n || r.Bundle.LatestSeq != n {
		return fmt.Errorf("record %s: lastSeq %d, latestSeq %d, %d events", r.ID, r.LastSeq, r.Bundle.LatestSeq, n)
	}
	return nil
}

// DeriveGameMode reports single-player only when the summary shows a
// single-player round that progressed past setup.
func DeriveGameMode(r GameRecord) state.Mode {
	if r.Summary.SP != nil && r.Summary.SP.Phase != state.PhaseSetup && r.Summary.SP.Phase != "" {
		return state.ModeSinglePlayer
	}
	return state.ModeScorecard
}

// IsCompleted reports whether the game reached its terminal state.
// Records from before SummaryVersion 2 have no Completed flag and are
// judged from their summary.
func IsCompleted(r GameRecord) bool {
	if r.Summary.Version >= SummaryVersion {
		return r.Summary.Completed
	}
	if DeriveGameMode(r) == state.ModeSinglePlayer {
		return r.Summary.SP.Phase == state.PhaseGameSummary
	}
	for n := 1; n <= state.ScorecardRounds; n++ {
		if !r.Summary.Rounds[n].Finalized {
			return false
		}
	}
	return true
}

// Enrich replays the bundle and rewrites the summary from it. Identity
// fields always come from replay; the summary is brought to the current
// version.
func Enrich(r GameRecord) (GameRecord, error) {
	sum, err := Summarize(r.Bundle.Events)
	if err != nil {
		return r, fmt.Errorf("enrich %s: %w", r.ID, err)
	}
	r.Summary = sum
	if r.Title == "" {
		r.Title = DefaultTitle(sum)
	}
	return r, nil
}

// DefaultTitle names a game after its players in seat order.
func DefaultTitle(sum Summary) string {
	names := make([]string, 0, len(sum.Order))
	for _, id := range sum.Order {
		names = append(names, sum.Players[id])
	}
	if len(names) == 0 {
		return "Untitled game"
	}
	return strings.Join(names, " vs ")
}
