package engine

import (
	"context"
	"fmt"

	"github.com/roach88/cardlog/internal/deck"
	"github.com/roach88/cardlog/internal/event"
	"github.com/roach88/cardlog/internal/state"
)

// BidFunc chooses a bid for seatID.
type BidFunc func(s state.AppState, seatID string) int

// PlayFunc chooses a card for seatID. It must return a legal card.
type PlayFunc func(s state.AppState, seatID string) deck.Card

// BotBid appends the bid chosen by decide for seatID.
func (in *Instance) BotBid(ctx context.Context, seatID string, decide BidFunc) (Result, error) {
	if decide == nil {
		return Result{}, fmt.Errorf("bot bid: nil decision function")
	}
	s := in.State()
	return in.Append(ctx, in.factory.New(event.Bid{PlayerID: seatID, Bid: decide(s, seatID)}))
}

// BotPlay appends the card chosen by decide for seatID.
func (in *Instance) BotPlay(ctx context.Context, seatID string, decide PlayFunc) (Result, error) {
	if decide == nil {
		return Result{}, fmt.Errorf("bot play: nil decision function")
	}
	s := in.State()
	return in.Append(ctx, in.factory.New(event.TrickPlayed{PlayerID: seatID, Card: decide(s, seatID)}))
}
