package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardlog/internal/deck"
	"github.com/roach88/cardlog/internal/engine"
	"github.com/roach88/cardlog/internal/event"
	"github.com/roach88/cardlog/internal/reducer"
	"github.com/roach88/cardlog/internal/state"
	"github.com/roach88/cardlog/internal/store/memory"
	"github.com/roach88/cardlog/internal/testutil"
)

func card(suit deck.Suit, rank int) deck.Card {
	return deck.Card{Suit: suit, Rank: rank}
}

func playingState(trick []state.Play, hand []deck.Card, bid, count int) state.AppState {
	s := state.New()
	s.SP.Phase = state.PhasePlaying
	s.SP.Order = []string{"p1", "p2"}
	s.SP.Trump = deck.Spades
	s.SP.Hands["p2"] = hand
	s.SP.Bids = map[string]int{"p1": 0, "p2": bid}
	s.SP.Counts = map[string]int{"p2": count}
	s.SP.Trick = trick
	if len(trick) == 0 {
		s.SP.LeaderID = "p2"
	} else {
		s.SP.LeaderID = "p1"
	}
	return s
}

func TestBid(t *testing.T) {
	s := state.New()
	s.SP.Trump = deck.Hearts
	s.SP.Hands["p1"] = []deck.Card{
		card(deck.Clubs, 14),
		card(deck.Hearts, 12),
		card(deck.Hearts, 3),
		card(deck.Spades, 10),
	}
	assert.Equal(t, 2, Bid(s, "p1"))
	assert.Equal(t, 0, Bid(s, "nobody"))
}

func TestPlay(t *testing.T) {
	led := []state.Play{{PlayerID: "p1", Card: card(deck.Hearts, 9)}}
	hand := []deck.Card{card(deck.Hearts, 4), card(deck.Hearts, 10), card(deck.Hearts, 13)}

	tests := []struct {
		name  string
		trick []state.Play
		hand  []deck.Card
		bid   int
		count int
		want  deck.Card
	}{
		{"short of bid wins cheaply", led, hand, 1, 0, card(deck.Hearts, 10)},
		{"bid made ducks high", led, hand, 0, 0, card(deck.Hearts, 4)},
		{"must follow suit", led, []deck.Card{card(deck.Clubs, 14), card(deck.Hearts, 2)}, 1, 0, card(deck.Hearts, 2)},
		{"void trumps to win", led, []deck.Card{card(deck.Clubs, 3), card(deck.Spades, 2)}, 1, 0, card(deck.Spades, 2)},
		{"leads high when hungry", nil, []deck.Card{card(deck.Clubs, 3), card(deck.Diamonds, 12)}, 1, 0, card(deck.Diamonds, 12)},
		{"leads low when satisfied", nil, []deck.Card{card(deck.Clubs, 3), card(deck.Diamonds, 12)}, 1, 1, card(deck.Clubs, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := playingState(tt.trick, tt.hand, tt.bid, tt.count)
			got := Play(s, "p2")
			assert.Equal(t, tt.want, got)
			assert.Contains(t, reducer.LegalPlays(s.SP, "p2"), got)
		})
	}
}

func openGame(t *testing.T, seed string, rounds int, order []string) *engine.Instance {
	t.Helper()
	f := &event.Factory{
		IDs:   testutil.NewSequentialIDs("evt"),
		Clock: testutil.NewDeterministicClock().Next,
	}
	in, err := engine.Open(context.Background(), memory.New(), nil, "bot-game", engine.WithFactory(f))
	require.NoError(t, err)
	t.Cleanup(func() { in.Close() })

	var ps []event.Payload
	for _, id := range order {
		ps = append(ps, event.PlayerAdded{ID: id, Name: "Player " + id})
	}
	start, err := reducer.StartGame(seed, rounds, order)
	require.NoError(t, err)
	_, err = in.AppendPayloads(context.Background(), append(ps, start...)...)
	require.NoError(t, err)
	return in
}

func TestDriver_PlaysFullGame(t *testing.T) {
	for _, reveal := range []bool{false, true} {
		in := openGame(t, "autoplay", 3, []string{"p1", "p2", "p3"})
		d := NewDriver(in, WithRevealPause(reveal))

		steps, err := d.Run(context.Background(), 10000)
		require.NoError(t, err)
		assert.Greater(t, steps, 0)

		s := in.State()
		assert.Equal(t, state.PhaseGameSummary, s.SP.Phase)
		assert.True(t, s.Completed())
		assert.Equal(t, 3, s.RoundsPlayed())

		// Stepping a finished game is a no-op.
		ok, err := d.Step(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestDriver_WaitsForHuman(t *testing.T) {
	in := openGame(t, "human", 2, []string{"p1", "p2"})
	d := NewDriver(in, WithHumans("p1"))

	_, err := d.Run(context.Background(), 1000)
	require.NoError(t, err)

	s := in.State()
	require.NotEqual(t, state.PhaseGameSummary, s.SP.Phase)
	switch s.SP.Phase {
	case state.PhaseBidding:
		assert.Equal(t, "p1", nextBidder(s.SP))
	case state.PhasePlaying:
		turn, ok := s.SP.Turn()
		require.True(t, ok)
		assert.Equal(t, "p1", turn)
	default:
		t.Fatalf("driver stopped in %s", s.SP.Phase)
	}
}

func TestDriver_IdleBeforeGame(t *testing.T) {
	in, err := engine.Open(context.Background(), memory.New(), nil, "empty")
	require.NoError(t, err)
	defer in.Close()

	ok, err := NewDriver(in).Step(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
