package cli

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/cardlog/internal/archive"
	"github.com/roach88/cardlog/internal/deck"
	"github.com/roach88/cardlog/internal/event"
	"github.com/roach88/cardlog/internal/state"
)

func renderState(session string, height int64, s state.AppState) []string {
	lines := []string{
		fmt.Sprintf("session %s at height %d (%s)", session, height, s.Mode()),
	}
	if len(s.Order) == 0 {
		return append(lines, "no players")
	}

	leader := s.Leader()
	for _, id := range s.Order {
		mark := " "
		if id == leader {
			mark = "*"
		}
		lines = append(lines, fmt.Sprintf("%s %-12s %-16s %5d", mark, id, s.Players[id], s.Scores[id]))
	}

	if s.Mode() == state.ModeScorecard {
		lines = append(lines, fmt.Sprintf("rounds finalized: %d/%d", s.RoundsPlayed(), state.ScorecardRounds))
		if s.Completed() {
			lines = append(lines, "game over")
		}
		return lines
	}

	sp := s.SP
	lines = append(lines, fmt.Sprintf("round %d/%d  phase %s  trump %s  dealer %s", sp.RoundNo, sp.TotalRounds, sp.Phase, sp.Trump, sp.DealerID))
	if seat, ok := sp.Turn(); ok && sp.Phase == state.PhasePlaying {
		lines = append(lines, "to play: "+seat)
	}
	if len(sp.Trick) > 0 {
		plays := make([]string, len(sp.Trick))
		for i, p := range sp.Trick {
			plays[i] = p.PlayerID + ":" + p.Card.String()
		}
		lines = append(lines, "trick: "+strings.Join(plays, " "))
	}
	for _, id := range sp.Order {
		bid := "-"
		if b, ok := sp.Bids[id]; ok {
			bid = fmt.Sprint(b)
		}
		lines = append(lines, fmt.Sprintf("  %-12s bid %-3s won %-3d %s", id, bid, sp.Counts[id], renderHand(sp.Hands[id])))
	}
	return lines
}

func renderHand(hand []deck.Card) string {
	sorted := slices.Clone(hand)
	deck.Sort(sorted)
	cards := make([]string, len(sorted))
	for i, c := range sorted {
		cards[i] = c.String()
	}
	return strings.Join(cards, " ")
}

func renderEvent(e LogEntry) (string, error) {
	raw, err := event.EncodePayload(e.Event.Payload)
	if err != nil {
		return "", err
	}
	ts := time.UnixMilli(e.Event.TS).UTC().Format(time.RFC3339)
	return fmt.Sprintf("%5d %s %-22s %s", e.Height, ts, e.Event.Type, raw), nil
}

func renderRecord(r archive.GameRecord) string {
	status := "in progress"
	if archive.IsCompleted(r) {
		status = "completed"
	}
	if r.Archived {
		status += ", hidden"
	}
	finished := time.UnixMilli(r.FinishedAt).UTC().Format(time.DateTime)
	return fmt.Sprintf("%-38s %-24s %-13s %3d events  %s  (%s)",
		r.ID, r.Title, archive.DeriveGameMode(r), r.LastSeq, finished, status)
}
