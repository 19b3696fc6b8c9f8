package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/viewsync/internal/transport"
	"github.com/roach88/viewsync/internal/wire"
)

// PushOptions holds flags for the push command.
type PushOptions struct {
	*RootOptions
	URL     string
	Origin  string
	Codec   string
	Args    string
	Kwargs  string
	Timeout time.Duration
}

// PushResult is the output of a successful push.
type PushResult struct {
	Command wire.Command `json:"command"`
	// Total is the length of the command list after the push.
	Total int `json:"total"`
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PushOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "push <method>",
		Short: "Append a command to a running runtime",
		Long: `Append one command to the runtime's command list.

The command gets the next id after the highest one already on the channel.
push returns once the runtime has accepted the write and published the new
list back.

Examples:
  viewsync push addSource --args '["quakes"]' --kwargs '{"type":"geojson","data":{}}'
  viewsync push setOpacity --args '["quakes-layer", 0.5]'
  viewsync push flyTo --kwargs '{"center":[13.4,52.5],"zoom":9}' --url ws://host:8080/ws`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "ws://127.0.0.1:8080/ws", "runtime WebSocket URL")
	cmd.Flags().StringVar(&opts.Origin, "origin", "http://localhost/", "Origin header sent on connect")
	cmd.Flags().StringVar(&opts.Codec, "codec", transport.CodecJSON, "frame codec (json|msgpack)")
	cmd.Flags().StringVar(&opts.Args, "args", "", "positional arguments as a JSON array")
	cmd.Flags().StringVar(&opts.Kwargs, "kwargs", "", "keyword arguments as a JSON object")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "time to wait for the runtime")

	return cmd
}

// parsePushArguments decodes the --args and --kwargs JSON.
func parsePushArguments(rawArgs, rawKwargs string) ([]any, map[string]any, error) {
	var (
		args   []any
		kwargs map[string]any
	)
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return nil, nil, fmt.Errorf("--args must be a JSON array: %w", err)
		}
	}
	if strings.TrimSpace(rawKwargs) != "" {
		if err := json.Unmarshal([]byte(rawKwargs), &kwargs); err != nil {
			return nil, nil, fmt.Errorf("--kwargs must be a JSON object: %w", err)
		}
	}
	return args, kwargs, nil
}

func runPush(opts *PushOptions, method string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	args, kwargs, err := parsePushArguments(opts.Args, opts.Kwargs)
	if err != nil {
		return out.Fail(ExitCommandError, CodeArgs, "invalid command arguments", err)
	}
	codec, err := transport.CodecByName(opts.Codec)
	if err != nil {
		return out.Fail(ExitCommandError, CodeArgs, "invalid codec", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	out.VerboseLog("dialing %s", opts.URL)
	client, err := transport.Dial(ctx, opts.URL, opts.Origin, codec)
	if err != nil {
		return out.Fail(ExitCommandError, CodeDial, "failed to connect to runtime", err)
	}
	defer client.Close()

	pushed, err := client.AppendCommand(method, args, kwargs)
	if err != nil {
		return out.Fail(ExitCommandError, CodeDial, "failed to push command", err)
	}

	var total int
	err = client.WaitFor(ctx, wire.KeyCommands, func(raw json.RawMessage, ok bool) bool {
		if !ok {
			return false
		}
		cmds, malformed, derr := wire.DecodeCommandList(raw)
		if derr != nil {
			return false
		}
		total = len(cmds) + len(malformed)
		return slices.ContainsFunc(cmds, func(c wire.Command) bool { return c.ID == pushed.ID })
	})
	if err != nil {
		if errs := client.Errors(); len(errs) > 0 {
			err = fmt.Errorf("%w (runtime: %s)", err, strings.Join(errs, "; "))
		}
		return out.Fail(ExitCommandError, CodeDial, "runtime did not confirm the command", err)
	}

	result := PushResult{Command: pushed, Total: total}
	if opts.Format == "json" {
		return out.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pushed #%d %s (%d commands on channel)\n", pushed.ID, pushed.Method, total)
	return nil
}
