package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/cardlog/internal/app"
	"github.com/roach88/cardlog/internal/bot"
	"github.com/roach88/cardlog/internal/deck"
	"github.com/roach88/cardlog/internal/engine"
	"github.com/roach88/cardlog/internal/event"
	"github.com/roach88/cardlog/internal/reducer"
)

// StartOptions holds flags for the start command.
type StartOptions struct {
	*RootOptions
	Seed    string
	Rounds  int
	Players []string
}

// NewStartCommand creates the start command.
func NewStartCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StartOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Seed and deal a single-player game",
		Long: `Seed the session and deal round one in a single batch.

Every later deal is derived from the seed, so a game replays to the same
hands. Seats default to the session's players in order.

Examples:
  cardlog start --rounds 7
  cardlog start --seed friday --players p2,p1,p3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "deal seed (default random)")
	cmd.Flags().IntVar(&opts.Rounds, "rounds", reducer.MaxRounds, "number of rounds")
	cmd.Flags().StringSliceVar(&opts.Players, "players", nil, "seat order (default session players)")
	return cmd
}

func runStart(cmd *cobra.Command, o *StartOptions) error {
	f := o.formatter(cmd)
	return withSession(cmd.Context(), o.RootOptions, func(ctx context.Context, _ *app.App, in *engine.Instance) error {
		seats := o.Players
		if len(seats) == 0 {
			seats = in.State().Order
		}
		seed := o.Seed
		if seed == "" {
			seed = uuid.NewString()
		}

		ps, err := reducer.StartGame(seed, o.Rounds, seats)
		if err != nil {
			return f.Fail("start", WrapExitError(ExitCommandError, "start game", err))
		}
		res, err := in.AppendPayloads(ctx, ps...)
		if err != nil {
			return f.Fail("start", err)
		}
		out := AppendResult{Session: in.SessionID(), Height: res.Height, Events: len(ps), Cancelled: res.Cancelled}
		return f.Success(out, out.text(fmt.Sprintf("dealt round 1 of %d (seed %s)", o.Rounds, seed)))
	})
}

// NewBidCommand creates the bid command.
func NewBidCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bid <player> <tricks>",
		Short: "Record a bid for a seat",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return rootOpts.formatter(cmd).Fail("bid", WrapExitError(ExitCommandError, "bid must be a number", err))
			}
			return appendOne(cmd, rootOpts, event.Bid{PlayerID: args[0], Bid: n})
		},
	}
}

// NewPlayCommand creates the play command.
func NewPlayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "play <player> <card>",
		Short: "Play a card for a seat",
		Long: `Play a card for a seat, e.g. "cardlog play p1 hearts-12".

A completed trick is left on the table; run autoplay to resolve it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := deck.Parse(args[1])
			if err != nil {
				return rootOpts.formatter(cmd).Fail("play", WrapExitError(ExitCommandError, "invalid card", err))
			}
			return appendOne(cmd, rootOpts, event.TrickPlayed{PlayerID: args[0], Card: c})
		},
	}
}

func appendOne(cmd *cobra.Command, o *RootOptions, p event.Payload) error {
	f := o.formatter(cmd)
	return withSession(cmd.Context(), o, func(ctx context.Context, _ *app.App, in *engine.Instance) error {
		res, err := in.AppendPayloads(ctx, p)
		if err != nil {
			return f.Fail(string(p.EventType()), err)
		}
		out := AppendResult{Session: in.SessionID(), Height: res.Height, Events: 1, Cancelled: res.Cancelled}
		return f.Success(out, out.text(string(p.EventType())))
	})
}

// AutoplayOptions holds flags for the autoplay command.
type AutoplayOptions struct {
	*RootOptions
	Humans   []string
	MaxSteps int
	Reveal   bool
}

// AutoplayResult is the output of the autoplay command.
type AutoplayResult struct {
	Session string `json:"session"`
	Steps   int    `json:"steps"`
	Height  int64  `json:"height"`
	Phase   string `json:"phase"`
}

// NewAutoplayCommand creates the autoplay command.
func NewAutoplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AutoplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "autoplay",
		Short: "Let bots play until a human has to act",
		Long: `Advance the single-player game: bots bid and play for every seat not
named with --human, tricks are resolved, rounds are scored and dealt.
Stops on a human's turn, at the end of the game, or after --max-steps.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAutoplay(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.Humans, "human", nil, "seats played by people")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 1000, "maximum transitions")
	cmd.Flags().BoolVar(&opts.Reveal, "reveal", false, "pause on each completed trick")
	return cmd
}

func runAutoplay(cmd *cobra.Command, o *AutoplayOptions) error {
	f := o.formatter(cmd)
	return withSession(cmd.Context(), o.RootOptions, func(ctx context.Context, _ *app.App, in *engine.Instance) error {
		d := bot.NewDriver(in,
			bot.WithHumans(o.Humans...),
			bot.WithRevealPause(o.Reveal),
			bot.WithLogger(o.Logger),
		)
		steps, err := d.Run(ctx, o.MaxSteps)
		if err != nil {
			return f.Fail("autoplay", err)
		}
		out := AutoplayResult{
			Session: in.SessionID(),
			Steps:   steps,
			Height:  in.Height(),
			Phase:   string(in.State().SP.Phase),
		}
		text := fmt.Sprintf("%d steps, height %d, phase %s", out.Steps, out.Height, out.Phase)
		return f.Success(out, text)
	})
}
