package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/viewsync/internal/store"
)

// ResetOptions holds flags for the reset command.
type ResetOptions struct {
	*RootOptions
	Database string
	Session  string
	Force    bool
}

// ResetResult reports what reset removed.
type ResetResult struct {
	Session string `json:"session"`
	Entries int    `json:"entries"`
	Cursors int    `json:"cursors"`
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every value and cursor of a session",
		Long: `Delete a session's persisted channel values and cursors.

The next runtime on this session starts from an empty store with its applied
cursor at zero, so the control plane's command list is applied from the
start. Other sessions in the same database are untouched. Stop the runtime
first; a running one keeps its state in memory and writes it back.

Examples:
  viewsync reset --db ./viewsync.db --force
  viewsync reset --db ./viewsync.db --session demo --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", store.DefaultNamespace, "store namespace")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "confirm deletion")

	return cmd
}

func runReset(opts *ResetOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	if !opts.Force {
		return out.Fail(ExitCommandError, CodeArgs, "refusing to reset without --force",
			errors.New("reset deletes persisted state; pass --force to confirm"))
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open database", err)
	}
	defer st.Close()

	bucket := st.Namespace(opts.Session)
	entries, err := bucket.Entries(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to read session", err)
	}
	cursors, err := bucket.Cursors(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to read session", err)
	}
	if err := bucket.Clear(ctx); err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to reset session", err)
	}

	result := ResetResult{Session: bucket.Namespace(), Entries: len(entries), Cursors: len(cursors)}
	if opts.Format == "json" {
		return out.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reset session %s: removed %d value(s) and %d cursor(s)\n",
		result.Session, result.Entries, result.Cursors)
	return nil
}
