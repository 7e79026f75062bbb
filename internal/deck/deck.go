// Package deck defines playing cards and the standard 52-card deck.
package deck

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
)

// Suit is one of the four French suits.
type Suit string

const (
	Clubs    Suit = "clubs"
	Diamonds Suit = "diamonds"
	Hearts   Suit = "hearts"
	Spades   Suit = "spades"
)

// Suits lists suits in deck order.
var Suits = []Suit{Clubs, Diamonds, Hearts, Spades}

// Valid reports whether s is a known suit.
func (s Suit) Valid() bool {
	return slices.Contains(Suits, s)
}

// Rank bounds. Aces are high.
const (
	MinRank = 2
	MaxRank = 14
)

// Card is a single playing card.
type Card struct {
	Suit Suit `json:"suit"`
	Rank int  `json:"rank"`
}

// String renders a card as "suit-rank", e.g. "clubs-2".
func (c Card) String() string {
	return fmt.Sprintf("%s-%d", c.Suit, c.Rank)
}

// Valid reports whether c is a card of the standard deck.
func (c Card) Valid() bool {
	return c.Suit.Valid() && c.Rank >= MinRank && c.Rank <= MaxRank
}

// Parse reads the "suit-rank" form produced by Card.String.
func Parse(s string) (Card, error) {
	suit, rank, ok := strings.Cut(s, "-")
	if !ok {
		return Card{}, fmt.Errorf("parse card %q: want suit-rank", s)
	}
	n, err := strconv.Atoi(rank)
	if err != nil {
		return Card{}, fmt.Errorf("parse card %q: %w", s, err)
	}
	c := Card{Suit: Suit(suit), Rank: n}
	if !c.Valid() {
		return Card{}, fmt.Errorf("parse card %q: not a standard card", s)
	}
	return c, nil
}

// Compare orders cards by suit (deck order) then rank.
func Compare(a, b Card) int {
	if a.Suit != b.Suit {
		return slices.Index(Suits, a.Suit) - slices.Index(Suits, b.Suit)
	}
	return a.Rank - b.Rank
}

// New returns an ordered 52-card deck.
func New() []Card {
	cards := make([]Card, 0, len(Suits)*(MaxRank-MinRank+1))
	for _, s := range Suits {
		for r := MinRank; r <= MaxRank; r++ {
			cards = append(cards, Card{Suit: s, Rank: r})
		}
	}
	return cards
}

// Shuffle permutes cards in place using r.
func Shuffle(cards []Card, r *rand.Rand) {
	r.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
}

// Sort orders a hand in place for display.
func Sort(hand []Card) {
	slices.SortFunc(hand, Compare)
}

// HasSuit reports whether hand holds any card of suit s.
func HasSuit(hand []Card, s Suit) bool {
	return slices.ContainsFunc(hand, func(c Card) bool { return c.Suit == s })
}

// OnlySuit reports whether every card in a non-empty hand is of suit s.
func OnlySuit(hand []Card, s Suit) bool {
	if len(hand) == 0 {
		return false
	}
	for _, c := range hand {
		if c.Suit != s {
			return false
		}
	}
	return true
}

// Remove returns hand without the first occurrence of c, and whether c was held.
// The input slice is not modified.
func Remove(hand []Card, c Card) ([]Card, bool) {
	i := slices.Index(hand, c)
	if i < 0 {
		return hand, false
	}
	out := make([]Card, 0, len(hand)-1)
	out = append(out, hand[:i]...)
	out = append(out, hand[i+1:]...)
	return out, true
}
