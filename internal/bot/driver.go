package bot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/cardlog/internal/engine"
	"github.com/roach88/cardlog/internal/event"
	"github.com/roach88/cardlog/internal/reducer"
	"github.com/roach88/cardlog/internal/state"
)

// Driver advances a single-player session one transition at a time,
// deciding for every seat that is not human.
type Driver struct {
	in     *engine.Instance
	bid    engine.BidFunc
	play   engine.PlayFunc
	humans []string
	reveal bool
	logger *slog.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithHumans marks seats the driver must wait for.
func WithHumans(ids ...string) DriverOption {
	return func(d *Driver) { d.humans = append(d.humans, ids...) }
}

// WithStrategy replaces the default heuristics.
func WithStrategy(bid engine.BidFunc, play engine.PlayFunc) DriverOption {
	return func(d *Driver) {
		if bid != nil {
			d.bid = bid
		}
		if play != nil {
			d.play = play
		}
	}
}

// WithRevealPause freezes each complete trick in the reveal phase before
// clearing it.
func WithRevealPause(on bool) DriverOption {
	return func(d *Driver) { d.reveal = on }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDriver returns a Driver for in.
func NewDriver(in *engine.Instance, opts ...DriverOption) *Driver {
	d := &Driver{
		in:     in,
		bid:    Bid,
		play:   Play,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Step performs one transition. It returns false when nothing can happen
// without a human: before the game starts, on a human's turn, or after the
// game is over.
func (d *Driver) Step(ctx context.Context) (bool, error) {
	s := d.in.State()
	sp := s.SP

	var (
		ps  []event.Payload
		err error
	)
	switch sp.Phase {
	case state.PhaseBidding:
		if sp.AllBid() {
			ps, err = reducer.StartPlay(s)
			break
		}
		seat := nextBidder(sp)
		if d.isHuman(seat) {
			return false, nil
		}
		return d.apply(d.in.BotBid(ctx, seat, d.bid))

	case state.PhasePlaying:
		if sp.TrickComplete() {
			if d.reveal {
				ps, err = reducer.RevealTrick(s)
			} else {
				ps, err = reducer.ResolveTrick(s)
			}
			break
		}
		seat, ok := sp.Turn()
		if !ok || d.isHuman(seat) {
			return false, nil
		}
		return d.apply(d.in.BotPlay(ctx, seat, d.play))

	case state.PhaseReveal:
		ps, err = reducer.AdvanceReveal(s)
	case state.PhaseFinalize:
		ps, err = reducer.FinalizeRound(s)
	case state.PhaseSummary:
		ps, err = reducer.AdvanceSummary(s)
	default:
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("step %s: %w", sp.Phase, err)
	}
	return d.apply(d.in.AppendPayloads(ctx, ps...))
}

// Run steps until the driver has to stop or maxSteps transitions happened.
// It returns the number of transitions.
func (d *Driver) Run(ctx context.Context, maxSteps int) (int, error) {
	n := 0
	for n < maxSteps {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ok, err := d.Step(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		n++
	}
	d.logger.Debug("driver stopped", "session", d.in.SessionID(), "steps", n, "phase", d.in.State().SP.Phase)
	return n, nil
}

func (d *Driver) apply(res engine.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	if res.Cancelled {
		d.logger.Info("driver write cancelled, continuing from fresh state", "session", d.in.SessionID())
	}
	return true, nil
}

func (d *Driver) isHuman(seat string) bool {
	return slices.Contains(d.humans, seat)
}

// nextBidder is the first seat without a bid, starting from the leader.
func nextBidder(sp state.SP) string {
	n := len(sp.Order)
	start := max(sp.SeatIndex(sp.LeaderID), 0)
	for i := 0; i < n; i++ {
		seat := sp.Order[(start+i)%n]
		if _, ok := sp.Bids[seat]; !ok {
			return seat
		}
	}
	return ""
}
