package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/cardlog/internal/app"
	"github.com/roach88/cardlog/internal/engine"
	"github.com/roach88/cardlog/internal/event"
)

// withSession opens the data directory and the configured session for the
// duration of fn.
func withSession(ctx context.Context, o *RootOptions, fn func(ctx context.Context, a *app.App, in *engine.Instance) error) error {
	a, err := o.openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	in, err := a.OpenSession(ctx, o.Config.Session)
	if err != nil {
		return err
	}
	defer in.Close()

	return fn(ctx, a, in)
}

// AppendResult is the output of a write command.
type AppendResult struct {
	Session   string `json:"session"`
	Height    int64  `json:"height"`
	Events    int    `json:"events"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

func (r AppendResult) text(what string) string {
	if r.Cancelled {
		return fmt.Sprintf("%s cancelled by a concurrent reset (height %d)", what, r.Height)
	}
	return fmt.Sprintf("%s -> height %d", what, r.Height)
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "append <type> [payload-json]",
		Short: "Append one event to the session log",
		Long: `Append one event to the session log.

The payload is the event's JSON object; it defaults to {}.
The event is validated against the current state first; a rejected
event leaves the log untouched.

Examples:
  cardlog append player/added '{"id":"p1","name":"Alice"}'
  cardlog append score/added '{"playerId":"p1","delta":10}'
  cardlog append sp/reset`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := "{}"
			if len(args) == 2 {
				raw = args[1]
			}
			return runAppend(cmd, rootOpts, args[0], raw)
		},
	}
}

func runAppend(cmd *cobra.Command, o *RootOptions, tag, raw string) error {
	f := o.formatter(cmd)

	t := event.Type(tag)
	if !event.Known(t) {
		return f.Fail("append", NewExitError(ExitCommandError, fmt.Sprintf("unknown event type %q", tag)))
	}
	// Typed names are logged in composed form so equal-looking names match.
	raw = norm.NFC.String(raw)
	if !json.Valid([]byte(raw)) {
		return f.Fail("append", NewExitError(ExitCommandError, "payload is not valid JSON"))
	}
	p, err := event.DecodePayload(t, json.RawMessage(raw))
	if err != nil {
		return f.Fail("append", WrapExitError(ExitCommandError, "invalid payload", err))
	}

	return withSession(cmd.Context(), o, func(ctx context.Context, _ *app.App, in *engine.Instance) error {
		res, err := in.AppendPayloads(ctx, p)
		if err != nil {
			return f.Fail("append "+tag, err)
		}
		out := AppendResult{Session: in.SessionID(), Height: res.Height, Events: 1, Cancelled: res.Cancelled}
		return f.Success(out, out.text(tag))
	})
}

// StateOptions holds flags for the state command.
type StateOptions struct {
	*RootOptions
	At int64
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the session state",
		Long: `Show the session state at the current height, or at an earlier
height with --at. Looking at the past never changes the live session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd, opts)
		},
	}
	cmd.Flags().Int64Var(&opts.At, "at", -1, "height to fold to (default current)")
	return cmd
}

// StateView is the JSON form of the state command.
type StateView struct {
	Session string `json:"session"`
	Height  int64  `json:"height"`
	Mode    string `json:"mode"`
	Done    bool   `json:"completed"`
	State   any    `json:"state"`
}

func runState(cmd *cobra.Command, o *StateOptions) error {
	f := o.formatter(cmd)
	return withSession(cmd.Context(), o.RootOptions, func(ctx context.Context, _ *app.App, in *engine.Instance) error {
		s, h := in.State(), in.Height()
		if o.At >= 0 {
			var err error
			if s, err = in.PreviewAt(ctx, o.At); err != nil {
				return f.Fail("state", WrapExitError(ExitCommandError, "preview height "+strconv.FormatInt(o.At, 10), err))
			}
			h = o.At
		}
		view := StateView{
			Session: in.SessionID(),
			Height:  h,
			Mode:    string(s.Mode()),
			Done:    s.Completed(),
			State:   s,
		}
		return f.Success(view, renderState(in.SessionID(), h, s)...)
	})
}

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	From int64
	To   int64
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "List the events of the session log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(cmd, opts)
		},
	}
	cmd.Flags().Int64Var(&opts.From, "from", 1, "first height")
	cmd.Flags().Int64Var(&opts.To, "to", 0, "last height (default current)")
	return cmd
}

// LogEntry is one event with its height.
type LogEntry struct {
	Height int64       `json:"height"`
	Event  event.Event `json:"event"`
}

func runLog(cmd *cobra.Command, o *LogOptions) error {
	f := o.formatter(cmd)
	a, err := o.openApp()
	if err != nil {
		return f.Fail("log", err)
	}
	defer a.Close()

	ctx := cmd.Context()
	session := o.Config.Session
	to := o.To
	if to <= 0 {
		if to, err = a.Log().Height(ctx, session); err != nil {
			return f.Fail("log", err)
		}
	}
	from := max(o.From, 1)

	var events []event.Event
	if to >= from {
		if events, err = a.Log().ReadRange(ctx, session, from, to); err != nil {
			return f.Fail("log", err)
		}
	}

	entries := make([]LogEntry, len(events))
	lines := make([]string, 0, len(events))
	for i, e := range events {
		entries[i] = LogEntry{Height: from + int64(i), Event: e}
		line, err := renderEvent(entries[i])
		if err != nil {
			return f.Fail("log", err)
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = append(lines, fmt.Sprintf("session %s has no events", session))
	}
	return f.Success(entries, lines...)
}
