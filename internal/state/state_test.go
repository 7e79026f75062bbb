package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardlog/internal/deck"
)

func sample() AppState {
	s := New()
	s.Players["p1"] = "Alice"
	s.Players["p2"] = "Bob"
	s.Order = []string{"p1", "p2"}
	s.Scores["p1"] = 10
	s.Rounds[1] = Round{Bids: map[string]int{"p1": 2}, Made: map[string]bool{"p1": true}, Finalized: true}
	s.SP.Phase = PhasePlaying
	s.SP.Order = []string{"p1", "p2"}
	s.SP.LeaderID = "p2"
	s.SP.Trump = deck.Spades
	s.SP.TrumpCard = &deck.Card{Suit: deck.Spades, Rank: 5}
	s.SP.Hands["p1"] = []deck.Card{{Suit: deck.Clubs, Rank: 2}}
	s.SP.Trick = []Play{{PlayerID: "p2", Card: deck.Card{Suit: deck.Diamonds, Rank: 3}}}
	return s
}

func TestNew_Empty(t *testing.T) {
	s := New()
	assert.Empty(t, s.Players)
	assert.NotNil(t, s.Players)
	assert.Equal(t, PhaseSetup, s.SP.Phase)
	assert.Equal(t, ModeScorecard, s.Mode())
	assert.False(t, s.Completed())
	assert.Equal(t, "", s.Leader())
}

func TestClone_Independent(t *testing.T) {
	s := sample()
	c := s.Clone()

	c.Players["p3"] = "Cara"
	c.Order[0] = "zz"
	c.Rounds[1].Bids["p1"] = 9
	c.SP.Hands["p1"][0] = deck.Card{Suit: deck.Hearts, Rank: 14}
	c.SP.TrumpCard.Rank = 6
	c.SP.Trick[0].PlayerID = "x"

	assert.Len(t, s.Players, 2)
	assert.Equal(t, "p1", s.Order[0])
	assert.Equal(t, 2, s.Rounds[1].Bids["p1"])
	assert.Equal(t, deck.Clubs, s.SP.Hands["p1"][0].Suit)
	assert.Equal(t, 5, s.SP.TrumpCard.Rank)
	assert.Equal(t, "p2", s.SP.Trick[0].PlayerID)
}

func TestEncodeDecode_Stable(t *testing.T) {
	s := sample()

	data, err := Encode(s)
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, s, back)

	again, err := Encode(back)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))

	f1, err := Fingerprint(s)
	require.NoError(t, err)
	f2, err := Fingerprint(back)
	require.NoError(t, err)
	assert.Equal(t, f1, f2)
}

func TestDecode_Corrupt(t *testing.T) {
	_, err := Decode([]byte(`{"players":`))
	require.Error(t, err)
}

func TestLiveCard(t *testing.T) {
	s := sample()
	c := s.LiveCard("p2")
	require.NotNil(t, c)
	assert.Equal(t, deck.Card{Suit: deck.Diamonds, Rank: 3}, *c)
	assert.Nil(t, s.LiveCard("p1"))
}

func TestTurn(t *testing.T) {
	s := sample()
	id, ok := s.SP.Turn()
	require.True(t, ok)
	assert.Equal(t, "p1", id)

	s.SP.Trick = append(s.SP.Trick, Play{PlayerID: "p1", Card: deck.Card{Suit: deck.Clubs, Rank: 2}})
	assert.True(t, s.SP.TrickComplete())
	_, ok = s.SP.Turn()
	assert.False(t, ok)

	led, ok := s.SP.LedSuit()
	require.True(t, ok)
	assert.Equal(t, deck.Diamonds, led)
}

func TestLeftOf(t *testing.T) {
	sp := NewSP()
	sp.Order = []string{"a", "b", "c"}
	left, ok := sp.LeftOf("c")
	require.True(t, ok)
	assert.Equal(t, "a", left)
	_, ok = sp.LeftOf("zz")
	assert.False(t, ok)
}

func TestCompleted(t *testing.T) {
	t.Run("single player game summary", func(t *testing.T) {
		s := New()
		s.SP.Phase = PhaseGameSummary
		assert.True(t, s.Completed())
		assert.Equal(t, ModeSinglePlayer, s.Mode())
	})

	t.Run("single player mid game", func(t *testing.T) {
		s := New()
		s.SP.Phase = PhaseSummary
		for r := 1; r <= ScorecardRounds; r++ {
			s.Rounds[r] = Round{Finalized: true}
		}
		assert.False(t, s.Completed())
	})

	t.Run("scorecard all rounds", func(t *testing.T) {
		s := New()
		for r := 1; r <= ScorecardRounds; r++ {
			s.Rounds[r] = Round{Finalized: true}
		}
		assert.True(t, s.Completed())
		assert.Equal(t, ScorecardRounds, s.RoundsPlayed())
	})

	t.Run("scorecard partial", func(t *testing.T) {
		s := New()
		s.Rounds[1] = Round{Finalized: true}
		assert.False(t, s.Completed())
		assert.Equal(t, 1, s.RoundsPlayed())
	})
}

func TestLeader_TiesBySeat(t *testing.T) {
	s := New()
	s.Order = []string{"p1", "p2", "p3"}
	s.Scores["p2"] = 7
	s.Scores["p3"] = 7
	assert.Equal(t, "p2", s.Leader())
}
