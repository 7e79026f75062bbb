package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cardlog/internal/engine"
	"github.com/roach88/cardlog/internal/reducer"
	"github.com/roach88/cardlog/internal/state"
	"github.com/roach88/cardlog/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	All bool // every session instead of the configured one
}

// ReplaySessionResult holds the replay result for a single session.
type ReplaySessionResult struct {
	Session       string  `json:"session"`
	Events        int64   `json:"events"`
	Fingerprint   string  `json:"fingerprint"`
	Deterministic bool    `json:"deterministic"`
	Snapshots     int     `json:"snapshots"`
	BadSnapshots  []int64 `json:"bad_snapshots,omitempty"`
}

// OK reports whether both checks passed.
func (r ReplaySessionResult) OK() bool {
	return r.Deterministic && len(r.BadSnapshots) == 0
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Sessions []ReplaySessionResult `json:"sessions"`
	AllOK    bool                  `json:"all_ok"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay session logs and verify snapshots",
		Long: `Fold each session log from height 0 twice and compare the state
fingerprints, then check every stored snapshot against a replay to its
height.

Exit codes:
  0 - Replays agree and every snapshot matches
  1 - A replay differed or a snapshot is stale or corrupt
  2 - Command error (unreadable data directory, etc.)

Examples:
  cardlog replay
  cardlog replay --all --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.All, "all", false, "replay every session")
	return cmd
}

func runReplay(cmd *cobra.Command, opts *ReplayOptions) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	a, err := opts.openApp()
	if err != nil {
		return f.Fail("replay", err)
	}
	defer a.Close()

	sessions := []string{opts.Config.Session}
	if opts.All {
		if sessions, err = a.Sessions(ctx); err != nil {
			return f.Fail("list sessions", err)
		}
	}

	result := ReplayResult{
		Sessions: make([]ReplaySessionResult, 0, len(sessions)),
		AllOK:    true,
	}
	for _, id := range sessions {
		f.VerboseLog("replaying %s", id)
		r, err := replaySession(ctx, a.Log(), id)
		if err != nil {
			return f.Fail("replay "+id, err)
		}
		result.Sessions = append(result.Sessions, r)
		if !r.OK() {
			result.AllOK = false
		}
	}

	if f.JSON() {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result)
}

// replaySession folds the full log twice and verifies every snapshot.
func replaySession(ctx context.Context, log store.Log, sessionID string) (ReplaySessionResult, error) {
	h, err := log.Height(ctx, sessionID)
	if err != nil {
		return ReplaySessionResult{}, err
	}
	r := ReplaySessionResult{Session: sessionID, Events: h}

	var prints [2]string
	for i := range prints {
		s := state.New()
		if h > 0 {
			events, err := log.ReadRange(ctx, sessionID, 1, h)
			if err != nil {
				return r, err
			}
			if s, err = reducer.Replay(events); err != nil {
				return r, fmt.Errorf("replay %d: %w", i+1, err)
			}
		}
		if prints[i], err = state.Fingerprint(s); err != nil {
			return r, err
		}
	}
	r.Fingerprint = prints[0]
	r.Deterministic = prints[0] == prints[1]

	checks, err := engine.VerifySnapshots(ctx, log, sessionID)
	if err != nil {
		return r, err
	}
	r.Snapshots = len(checks)
	for _, c := range checks {
		if !c.OK() {
			r.BadSnapshots = append(r.BadSnapshots, c.Height)
		}
	}
	return r, nil
}

func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	if !result.AllOK {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_REPLAY",
			Message: "replay verification failed",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}
	if !result.AllOK {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	return nil
}

func outputReplayText(cmd *cobra.Command, result ReplayResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d session(s)\n", len(result.Sessions))
	fmt.Fprintln(w)
	for _, r := range result.Sessions {
		status := "✓"
		if !r.OK() {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Session: %s\n", status, r.Session)
		fmt.Fprintf(w, "  Events: %d, snapshots: %d\n", r.Events, r.Snapshots)
		fmt.Fprintf(w, "  Fingerprint: %s\n", r.Fingerprint)
		if !r.Deterministic {
			fmt.Fprintln(w, "  Replays disagree")
		}
		for _, h := range r.BadSnapshots {
			fmt.Fprintf(w, "  Snapshot at height %d does not match replay\n", h)
		}
	}

	if !result.AllOK {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "✓ All sessions verified")
	return nil
}
