package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/viewsync/internal/channel"
	"github.com/roach88/viewsync/internal/config"
	"github.com/roach88/viewsync/internal/engine"
	"github.com/roach88/viewsync/internal/render"
	"github.com/roach88/viewsync/internal/state"
	"github.com/roach88/viewsync/internal/store"
	"github.com/roach88/viewsync/internal/wire"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Session  string
}

// InspectEntry summarizes one persisted channel value.
type InspectEntry struct {
	Key      string `json:"key"`
	Revision int64  `json:"revision"`
	Bytes    int    `json:"bytes"`
}

// InspectResult is everything persisted for one session.
type InspectResult struct {
	Session    string           `json:"session"`
	Namespaces []string         `json:"namespaces"`
	Entries    []InspectEntry   `json:"entries"`
	Cursors    map[string]int64 `json:"cursors"`
	State      state.Snapshot   `json:"state"`
	Commands   int              `json:"commands"`
	// Malformed counts command entries that do not decode.
	Malformed int `json:"malformed,omitempty"`
	Events    int `json:"events"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show what a database holds for a session",
		Long: `Show the persisted channel values, cursors and declarative state of a
session without starting a runtime. The database is only read.

Examples:
  viewsync inspect --db ./viewsync.db
  viewsync inspect --db ./viewsync.db --session demo --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", store.DefaultNamespace, "store namespace")

	return cmd
}

// openExisting opens a database that must already exist; store.Open would
// otherwise create an empty one.
func openExisting(path string) (*store.Store, error) {
	if path != ":memory:" && !config.Exists(path) {
		return nil, fmt.Errorf("database not found: %s", path)
	}
	return store.Open(path)
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	st, err := openExisting(opts.Database)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open database", err)
	}
	defer st.Close()

	result, err := inspectSession(ctx, st, opts.Session)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to read session", err)
	}

	if opts.Format == "json" {
		return out.Success(result)
	}
	writeInspectText(cmd.OutOrStdout(), result)
	return nil
}

// inspectSession reads a session's values through a memory-backed channel so
// decoding never writes to the database.
func inspectSession(ctx context.Context, st *store.Store, session string) (InspectResult, error) {
	bucket := st.Namespace(session)
	result := InspectResult{Session: bucket.Namespace()}

	var err error
	if result.Namespaces, err = st.Namespaces(ctx); err != nil {
		return InspectResult{}, err
	}
	if result.Cursors, err = bucket.Cursors(ctx); err != nil {
		return InspectResult{}, err
	}

	entries, err := bucket.Entries(ctx)
	if err != nil {
		return InspectResult{}, err
	}
	values := make(map[string]json.RawMessage, len(entries))
	result.Entries = make([]InspectEntry, len(entries))
	for i, e := range entries {
		result.Entries[i] = InspectEntry{Key: e.Key, Revision: e.Revision, Bytes: len(e.Value)}
		values[e.Key] = e.Value
	}

	ch, err := channel.Open(ctx, channel.NewMemoryBackend(values))
	if err != nil {
		return InspectResult{}, err
	}
	s, err := state.Load(ch, render.DefaultProfile())
	if err != nil {
		return InspectResult{}, err
	}
	result.State = s.Snapshot()

	raw, _ := ch.Get(wire.KeyCommands)
	cmds, malformed, err := wire.DecodeCommandList(raw)
	if err != nil {
		return InspectResult{}, err
	}
	result.Commands = len(cmds)
	result.Malformed = len(malformed)

	raw, _ = ch.Get(wire.KeyEvents)
	events, err := wire.DecodeEvents(raw)
	if err != nil {
		return InspectResult{}, err
	}
	result.Events = len(events)
	return result, nil
}

func writeInspectText(w io.Writer, r InspectResult) {
	fmt.Fprintf(w, "Session: %s\n", r.Session)
	fmt.Fprintf(w, "Namespaces: %v\n", r.Namespaces)
	fmt.Fprintf(w, "Commands: %d  Events: %d  Applied: %d\n", r.Commands, r.Events, r.Cursors[engine.CursorApplied])
	if r.Malformed > 0 {
		fmt.Fprintf(w, "Malformed commands: %d\n", r.Malformed)
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tREVISION\tBYTES")
	for _, e := range r.Entries {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", e.Key, e.Revision, e.Bytes)
	}
	_ = tw.Flush()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Sources (%d):\n", len(r.State.Sources))
	for _, s := range r.State.Sources {
		fmt.Fprintf(w, "  %s\n", s.ID)
	}
	fmt.Fprintf(w, "Layers (%d, bottom to top):\n", len(r.State.Layers))
	for _, l := range r.State.Layers {
		fmt.Fprintf(w, "  %s [%s]\n", l.ID, l.Kind)
	}
	fmt.Fprintf(w, "Controls (%d):\n", len(r.State.Controls))
	for _, c := range r.State.Controls {
		fmt.Fprintf(w, "  %s [%s]\n", c.ID, c.Kind)
	}
}
