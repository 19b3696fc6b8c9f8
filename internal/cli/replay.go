package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/viewsync/internal/channel"
	"github.com/roach88/viewsync/internal/config"
	"github.com/roach88/viewsync/internal/engine"
	"github.com/roach88/viewsync/internal/render"
	"github.com/roach88/viewsync/internal/render/headless"
	"github.com/roach88/viewsync/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database   string
	Session    string
	ConfigPath string
}

// ReplayResult describes the view a runtime would build from a database.
type ReplayResult struct {
	Session string              `json:"session"`
	Mount   engine.MountResult  `json:"mount"`
	Status  engine.Status       `json:"status"`
	Scene   *render.Scene       `json:"scene,omitempty"`
	Trace   []engine.TraceEvent `json:"trace"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild a view from a database without touching it",
		Long: `Rebuild a view from a session's persisted state offline.

The session's values and applied cursor are copied into memory, an engine
mounts a headless view on that copy, and the resulting restoration, replay
and scene are reported. Commands past the applied cursor are applied too,
as the runtime would on its next start. Nothing is written to the database.

Exit codes:
  0 - Every persisted source and layer was restored
  1 - One or more records failed to restore
  2 - Command error (database not found, etc.)

Examples:
  viewsync replay --db ./viewsync.db
  viewsync replay --db ./viewsync.db --session demo --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", store.DefaultNamespace, "store namespace")
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "TOML config supplying the renderer profile")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	profile := render.DefaultProfile()
	if opts.ConfigPath != "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return out.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
		}
		profile = cfg.Renderer
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open database", err)
	}
	defer st.Close()

	result, err := replaySession(ctx, st.Namespace(opts.Session), profile, slog.Default())
	if err != nil {
		return out.Fail(ExitCommandError, CodeReplay, "replay failed", err)
	}

	if opts.Format == "json" {
		if err := out.Success(result); err != nil {
			return err
		}
	} else {
		writeReplayText(cmd.OutOrStdout(), result, opts.Verbose)
	}

	if n := len(result.Mount.Restore.Failures); n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) failed to restore", n))
	}
	return nil
}

// replaySession mounts a view on an in-memory copy of bucket. The copy gets
// its own cursor store so the applied cursor in the database never moves.
func replaySession(ctx context.Context, bucket *store.Bucket, profile render.Profile, logger *slog.Logger) (ReplayResult, error) {
	values, err := bucket.Load(ctx)
	if err != nil {
		return ReplayResult{}, err
	}
	applied, err := bucket.LoadCursor(ctx, engine.CursorApplied)
	if err != nil {
		return ReplayResult{}, err
	}

	cursors := engine.NewMemoryCursors()
	if err := cursors.SaveCursor(ctx, engine.CursorApplied, applied); err != nil {
		return ReplayResult{}, err
	}

	ch, err := channel.Open(ctx, channel.NewMemoryBackend(values))
	if err != nil {
		return ReplayResult{}, err
	}

	result := ReplayResult{Session: bucket.Namespace(), Trace: []engine.TraceEvent{}}
	eng, err := engine.Open(ctx, ch, headless.New(profile, headless.WithIDGenerator(headless.SequentialIDs())),
		engine.WithCursorStore(cursors),
		engine.WithLogger(logger),
		engine.WithObserver(func(ev engine.TraceEvent) { result.Trace = append(result.Trace, ev) }),
	)
	if err != nil {
		return ReplayResult{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		<-eng.Done()
	}()
	go func() { _ = eng.Run(runCtx) }()

	if result.Mount, err = eng.Mount(runCtx); err != nil {
		return ReplayResult{}, err
	}
	if result.Status, err = eng.Status(runCtx); err != nil {
		return ReplayResult{}, err
	}
	scene, ok, err := eng.Scene(runCtx)
	if err != nil {
		return ReplayResult{}, err
	}
	if ok {
		result.Scene = &scene
	}

	// Trace is appended on the engine goroutine; Status above already
	// synchronized with it and nothing else is queued.
	return result, nil
}

func writeReplayText(w io.Writer, r ReplayResult, verbose bool) {
	m := r.Mount
	fmt.Fprintf(w, "Session: %s\n", r.Session)
	fmt.Fprintf(w, "Applied cursor: %d (observed %d)\n", r.Status.AppliedID, r.Status.ObservedID)
	fmt.Fprintf(w, "Restored: %d source(s), %d layer(s)\n", m.Restore.Sources, m.Restore.Layers)
	if len(m.Restore.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped (not native): %v\n", m.Restore.Skipped)
	}
	fmt.Fprintf(w, "Replayed: %d  Drained: %d\n", m.Replayed, m.Drained)

	if r.Scene != nil {
		fmt.Fprintln(w, "Layer order (bottom to top):")
		for _, l := range r.Scene.Layers {
			fmt.Fprintf(w, "  %s [%s]\n", l.ID, l.Kind)
		}
	}

	if verbose {
		fmt.Fprintln(w, "Trace:")
		for _, ev := range r.Trace {
			fmt.Fprintf(w, "  %s #%d %s %s=%s -> %s\n", ev.Phase, ev.CommandID, ev.Method, ev.Entity, ev.EntityID, ev.Outcome)
		}
	}

	if len(m.Restore.Failures) == 0 {
		fmt.Fprintln(w, "✓ Restoration complete")
		return
	}
	fmt.Fprintf(w, "✗ %d record(s) failed to restore:\n", len(m.Restore.Failures))
	for _, f := range m.Restore.Failures {
		fmt.Fprintf(w, "  %v\n", f)
	}
}
