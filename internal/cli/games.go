package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cardlog/internal/archive"
)

// withArchiver opens the data directory and the configured archive.
func withArchiver(ctx context.Context, o *RootOptions, fn func(ctx context.Context, a *archive.Archiver) error) error {
	a, err := o.openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	arc, err := a.Archiver(o.Config.Archive)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open archive", err)
	}
	return fn(ctx, arc)
}

// RecordView is the JSON form of a game record in listings.
type RecordView struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Mode       string `json:"mode"`
	Completed  bool   `json:"completed"`
	Archived   bool   `json:"archived"`
	Events     int64  `json:"events"`
	CreatedAt  int64  `json:"createdAt"`
	FinishedAt int64  `json:"finishedAt"`
	Winner     string `json:"winner,omitempty"`
}

func viewOf(r archive.GameRecord) RecordView {
	return RecordView{
		ID:         r.ID,
		Title:      r.Title,
		Mode:       string(archive.DeriveGameMode(r)),
		Completed:  archive.IsCompleted(r),
		Archived:   r.Archived,
		Events:     r.LastSeq,
		CreatedAt:  r.CreatedAt,
		FinishedAt: r.FinishedAt,
		Winner:     r.Summary.Winner,
	}
}

// ArchiveOptions holds flags for the archive command.
type ArchiveOptions struct {
	*RootOptions
	Title string
}

// NewArchiveCommand creates the archive command.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive the current game and reset the session",
		Long: `Save the session's events as a game record and reset the session to
an empty log. A session with no players has nothing to archive and is
left alone. A game that was restored from a record is saved back into
that record.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "record title (default player names)")
	return cmd
}

func runArchive(cmd *cobra.Command, o *ArchiveOptions) error {
	f := o.formatter(cmd)
	return withArchiver(cmd.Context(), o.RootOptions, func(ctx context.Context, arc *archive.Archiver) error {
		rec, err := arc.ArchiveCurrentGameAndReset(ctx, o.Config.Session, archive.Meta{Title: o.Title})
		if err != nil {
			return f.Fail("archive", err)
		}
		if rec == nil {
			return f.Success(map[string]any{"archived": false}, "nothing to archive")
		}
		return f.Success(viewOf(*rec), fmt.Sprintf("archived %s as %q", rec.ID, rec.Title))
	})
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <record-id>",
		Short: "Replace the session with an archived game",
		Long: `Replace the session's log with the events of an archived game so it
can be continued. Completed games are read-only and are refused.

Exit codes:
  0 - Restored, or no record with that id
  3 - The game is completed and cannot be resumed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd, rootOpts, args[0])
		},
	}
}

func runRestore(cmd *cobra.Command, o *RootOptions, id string) error {
	f := o.formatter(cmd)
	return withArchiver(cmd.Context(), o, func(ctx context.Context, arc *archive.Archiver) error {
		ok, err := arc.RestoreGame(ctx, o.Config.Session, id)
		if err != nil {
			return f.Fail("restore", err)
		}
		if !ok {
			return f.Success(map[string]any{"restored": false, "id": id}, fmt.Sprintf("no game %s; nothing restored", id))
		}
		return f.Success(map[string]any{"restored": true, "id": id}, fmt.Sprintf("restored %s into session %s", id, o.Config.Session))
	})
}

// NewGamesCommand creates the games command group.
func NewGamesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "games",
		Short: "Manage archived games",
	}
	cmd.AddCommand(newGamesListCommand(rootOpts))
	cmd.AddCommand(newGamesDeleteCommand(rootOpts))
	cmd.AddCommand(newGamesHideCommand(rootOpts, "hide", true))
	cmd.AddCommand(newGamesHideCommand(rootOpts, "unhide", false))
	cmd.AddCommand(newGamesEnrichCommand(rootOpts))
	return cmd
}

func newGamesListCommand(o *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived games, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := o.formatter(cmd)
			return withArchiver(cmd.Context(), o, func(ctx context.Context, arc *archive.Archiver) error {
				recs, err := arc.ListGames(ctx)
				if err != nil {
					return f.Fail("list games", err)
				}
				views := []RecordView{}
				var lines []string
				for _, r := range recs {
					if r.Archived && !all {
						continue
					}
					views = append(views, viewOf(r))
					lines = append(lines, renderRecord(r))
				}
				if len(lines) == 0 {
					lines = []string{"no games"}
				}
				return f.Success(views, lines...)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include hidden games")
	return cmd
}

func newGamesDeleteCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <record-id>",
		Short: "Delete an archived game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := o.formatter(cmd)
			return withArchiver(cmd.Context(), o, func(ctx context.Context, arc *archive.Archiver) error {
				ok, err := arc.DeleteGame(ctx, args[0])
				if err != nil {
					return f.Fail("delete game", err)
				}
				if !ok {
					return f.Fail("delete game", NewExitError(ExitFailure, "no game "+args[0]))
				}
				return f.Success(map[string]any{"deleted": args[0]}, "deleted "+args[0])
			})
		},
	}
}

func newGamesHideCommand(o *RootOptions, use string, hidden bool) *cobra.Command {
	short := "Hide an archived game from the default listing"
	if !hidden {
		short = "Show a hidden game in the default listing again"
	}
	return &cobra.Command{
		Use:   use + " <record-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := o.formatter(cmd)
			return withArchiver(cmd.Context(), o, func(ctx context.Context, arc *archive.Archiver) error {
				ok, err := arc.SetArchived(ctx, args[0], hidden)
				if err != nil {
					return f.Fail(use, err)
				}
				if !ok {
					return f.Fail(use, NewExitError(ExitFailure, "no game "+args[0]))
				}
				return f.Success(map[string]any{"id": args[0], "archived": hidden}, use+" "+args[0])
			})
		},
	}
}

func newGamesEnrichCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enrich",
		Short: "Recompute summaries of every archived game",
		Long: `Replay every archived game and rewrite its summary and missing title.
Records whose summary is already current are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := o.formatter(cmd)
			return withArchiver(cmd.Context(), o, func(ctx context.Context, arc *archive.Archiver) error {
				n, err := arc.EnrichAll(ctx)
				if err != nil {
					return f.Fail("enrich", err)
				}
				return f.Success(map[string]any{"updated": n}, fmt.Sprintf("updated %d records", n))
			})
		},
	}
}
