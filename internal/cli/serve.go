package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/viewsync/internal/channel"
	"github.com/roach88/viewsync/internal/config"
	"github.com/roach88/viewsync/internal/engine"
	"github.com/roach88/viewsync/internal/eventlog"
	"github.com/roach88/viewsync/internal/observability"
	"github.com/roach88/viewsync/internal/render/headless"
	"github.com/roach88/viewsync/internal/server"
	"github.com/roach88/viewsync/internal/store"
	"github.com/roach88/viewsync/internal/transport"
	"github.com/roach88/viewsync/internal/wire"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
	Database   string
	Session    string
	Addr       string
	Codec      string
	NoMount    bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the runtime: engine, view and HTTP/WebSocket surface",
		Long: `Run the runtime until interrupted.

The runtime opens the session's persisted channel, mounts a headless view
(unless --no-mount or mount_on_start = false), and serves:

  GET  /health         liveness and version
  GET  /metrics        Prometheus metrics
  GET  /ws             channel transport for control-plane peers
  GET  /state          persisted sources, layers and controls
  GET  /view           engine status and live scene
  POST /view/mount     create and restore a view
  POST /view/unmount   tear the view down

Settings resolve as defaults, then --config (TOML), then VIEWSYNC_*
environment variables, then flags.

Examples:
  viewsync serve --db ./viewsync.db
  viewsync serve --config viewsync.toml --addr :9090 --codec msgpack`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to TOML config file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Session, "session", "", "store namespace")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&opts.Codec, "codec", "", "WebSocket frame codec (json|msgpack)")
	cmd.Flags().BoolVar(&opts.NoMount, "no-mount", false, "do not mount a view on start")

	return cmd
}

// resolveServeConfig loads the config file and environment, then applies
// the flags that were set.
func resolveServeConfig(cmd *cobra.Command, opts *ServeOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database = opts.Database
	}
	if flags.Changed("session") {
		cfg.Session = opts.Session
	}
	if flags.Changed("addr") {
		cfg.Addr = opts.Addr
	}
	if flags.Changed("codec") {
		cfg.Codec = opts.Codec
	}
	if opts.NoMount {
		cfg.MountOnStart = false
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cfg, err := resolveServeConfig(cmd, opts)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "failed to resolve config", err)
	}

	logger, err := observability.NewLogger(cmd.ErrOrStderr(), opts.logLevel(cfg.LogLevel), cfg.LogFormat)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "failed to configure logging", err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open runtime", err)
	}
	defer rt.Close()

	if err := rt.serve(ctx, cfg); err != nil {
		return WrapExitError(ExitCommandError, "server failed", err)
	}
	return nil
}

// runtime is everything serve wires together for one session.
type runtime struct {
	logger  *slog.Logger
	store   *store.Store
	ch      *channel.Local
	events  *eventlog.Log
	backend *headless.Backend
	engine  *engine.Engine
	server  *server.Server
}

// openRuntime opens the database, the session's channel, the event log and
// the engine, and builds the HTTP surface. Nothing runs until serve.
func openRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtime, error) {
	codec, err := transport.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	rt := &runtime{logger: logger, store: st}

	bucket := st.Namespace(cfg.Session)
	rt.ch, err = channel.Open(ctx, bucket)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.events, err = eventlog.Open(rt.ch,
		eventlog.WithLogger(logger),
		eventlog.WithObserver(func(ev wire.Event) { observability.RecordEvent(ev.Type) }),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.backend = headless.New(cfg.Renderer)
	rt.engine, err = engine.Open(ctx, rt.ch, rt.backend,
		engine.WithCursorStore(bucket),
		engine.WithEventLog(rt.events),
		engine.WithLogger(logger),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.server = server.New(rt.engine, transport.NewHandler(rt.ch, codec, logger), logger)
	logger.Info("runtime opened",
		"database", cfg.Database,
		"session", bucket.Namespace(),
		"codec", cfg.Codec,
		"profile", cfg.Renderer.Name,
	)
	return rt, nil
}

// start runs the engine loop and, when configured, mounts the first view.
// The returned channel receives Run's result.
func (rt *runtime) start(ctx context.Context, mount bool) (<-chan error, error) {
	runErr := make(chan error, 1)
	go func() { runErr <- rt.engine.Run(ctx) }()

	if !mount {
		return runErr, nil
	}
	res, err := rt.engine.Mount(ctx)
	if err != nil {
		return runErr, fmt.Errorf("mount on start: %w", err)
	}
	rt.logger.Info("view mounted",
		"view_id", res.ViewID,
		"replayed", res.Replayed,
		"drained", res.Drained,
		"restore_failures", len(res.Restore.Failures),
	)
	return runErr, nil
}

// serve runs the engine and the HTTP server until ctx ends, then waits for
// the engine to tear its view down.
func (rt *runtime) serve(ctx context.Context, cfg config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr, err := rt.start(ctx, cfg.MountOnStart)
	if err != nil {
		// A failed mount leaves the engine running without a view; the
		// control plane can retry through POST /view/mount.
		rt.logger.Error("initial mount failed", "error", err)
	}

	serveErr := rt.server.ListenAndServe(ctx, cfg.Addr)
	cancel()
	if rerr := <-runErr; rerr != nil && !errors.Is(rerr, context.Canceled) {
		return errors.Join(serveErr, rerr)
	}
	return serveErr
}

// Close releases the event log and the database.
func (rt *runtime) Close() error {
	if rt.events != nil {
		rt.events.Close()
	}
	if rt.store != nil {
		return rt.store.Close()
	}
	return nil
}
