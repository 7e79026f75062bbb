package reducer

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/roach88/cardlog/internal/deck"
	"github.com/roach88/cardlog/internal/event"
)

// MaxRounds is the longest single-player game.
const MaxRounds = 13

// TricksForRound is the hand size for roundNo of a totalRounds game: the
// first round deals totalRounds cards and each later round one fewer. The
// count is capped so at least one card is left to turn for trump.
func TricksForRound(roundNo, totalRounds, seats int) int {
	n := totalRounds - roundNo + 1
	if seats > 0 {
		n = min(n, (52-1)/seats)
	}
	return max(n, 1)
}

// DealerFor returns the dealer of roundNo: the deal rotates one seat per round.
func DealerFor(order []string, roundNo int) string {
	if len(order) == 0 || roundNo < 1 {
		return ""
	}
	return order[(roundNo-1)%len(order)]
}

// streamKey derives the shuffle key for one round of one session.
func streamKey(seed string, roundNo int) uint64 {
	return xxhash.Sum64String(seed + "|" + strconv.Itoa(roundNo))
}

// Deal computes the deal for roundNo. The result depends only on its
// arguments, so replaying a session reproduces every hand exactly.
func Deal(seed string, roundNo int, order []string, dealerID string, totalRounds int) (event.Deal, error) {
	if seed == "" {
		return event.Deal{}, fmt.Errorf("deal round %d: empty seed", roundNo)
	}
	if roundNo < 1 || roundNo > totalRounds {
		return event.Deal{}, fmt.Errorf("deal round %d: out of range 1..%d", roundNo, totalRounds)
	}
	if len(order) == 0 {
		return event.Deal{}, fmt.Errorf("deal round %d: no seats", roundNo)
	}
	dealer := slices.Index(order, dealerID)
	if dealer < 0 {
		return event.Deal{}, fmt.Errorf("deal round %d: dealer %s is not seated", roundNo, dealerID)
	}

	cards := deck.New()
	rng := rand.New(rand.NewPCG(streamKey(seed, roundNo), uint64(roundNo)))
	deck.Shuffle(cards, rng)

	seats := len(order)
	perSeat := TricksForRound(roundNo, totalRounds, seats)
	hands := make(map[string][]deck.Card, seats)
	for _, id := range order {
		hands[id] = make([]deck.Card, 0, perSeat)
	}
	next := 0
	for range perSeat {
		for i := 1; i <= seats; i++ {
			id := order[(dealer+i)%seats]
			hands[id] = append(hands[id], cards[next])
			next++
		}
	}
	for _, h := range hands {
		deck.Sort(h)
	}

	d := event.Deal{
		RoundNo:  roundNo,
		DealerID: dealerID,
		Order:    slices.Clone(order),
		Trump:    deck.Spades,
		Hands:    hands,
	}
	if next < len(cards) {
		c := cards[next]
		d.Trump = c.Suit
		d.TrumpCard = &c
	}
	return d, nil
}
