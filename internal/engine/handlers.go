package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/viewsync/internal/dispatch"
	"github.com/roach88/viewsync/internal/render"
	"github.com/roach88/viewsync/internal/wire"
)

// NewTable returns the dispatch table of every view method.
//
// Handlers mutate the live view first and write the persisted state only
// after the view accepted the change. Adds are idempotent against the live
// view; removes tolerate an entity the view never had. Every handler is a
// no-op when no view exists.
func NewTable(logger *slog.Logger) *dispatch.Table[*Env] {
	t := dispatch.New[*Env](dispatch.WithLogger(logger))

	t.MustRegister("addSource", dispatch.Registration[*Env]{
		Handler: addSource,
		Schema: `
			args: [string]
			kwargs: {type: string, ...}
		`,
	})
	t.MustRegister("removeSource", dispatch.Registration[*Env]{
		Handler: removeSource,
		Schema:  `args: [string]`,
	})
	t.MustRegister("addLayer", dispatch.Registration[*Env]{
		Handler: addLayer,
		Schema: `
			args: []
			kwargs: {
				id:         string
				type:       string
				before_id?: string
				...
			}
		`,
		Replay: replayAddLayer,
	})
	t.MustRegister("removeLayer", dispatch.Registration[*Env]{
		Handler: removeLayer,
		Schema:  `args: [string]`,
		Replay:  replayLiveLayer,
	})
	t.MustRegister("moveLayer", dispatch.Registration[*Env]{
		Handler: moveLayer,
		Schema:  `args: [string] | [string, string]`,
		Replay:  replayMoveLayer,
	})
	t.MustRegister("setVisibility", dispatch.Registration[*Env]{
		Handler: setVisibility,
		Schema:  `args: [string, bool]`,
		Replay:  replayLiveLayer,
	})
	t.MustRegister("setOpacity", dispatch.Registration[*Env]{
		Handler: setOpacity,
		Schema:  `args: [string, number & >=0 & <=1]`,
		Replay:  replayLiveLayer,
	})
	t.MustRegister("setFilter", dispatch.Registration[*Env]{
		Handler: setFilter,
		Schema:  `args: [string] | [string, _]`,
		Replay:  replayLiveLayer,
	})
	t.MustRegister("setPaintProperty", dispatch.Registration[*Env]{
		Handler: setPaintProperty,
		Schema:  `args: [string, string, _]`,
		Replay:  replayLiveLayer,
	})
	t.MustRegister("setLayoutProperty", dispatch.Registration[*Env]{
		Handler: setLayoutProperty,
		Schema:  `args: [string, string, _]`,
		Replay:  replayLiveLayer,
	})
	t.MustRegister("addControl", dispatch.Registration[*Env]{
		Handler: addControl,
		Schema: `
			args: [string]
			kwargs: {
				id?:       string
				position?: "top-left" | "top-right" | "bottom-left" | "bottom-right"
				options?:  {...}
			}
		`,
		Replay: replayAlways,
	})
	t.MustRegister("removeControl", dispatch.Registration[*Env]{
		Handler: removeControl,
		Schema:  `args: [string]`,
		Replay:  replayAlways,
	})
	t.MustRegister("flyTo", dispatch.Registration[*Env]{
		Handler: flyTo,
		Schema: `
			args: []
			kwargs: {
				center?:  [number, number]
				zoom?:    number
				bearing?: number
				pitch?:   number & >=0 & <=85
			}
		`,
		Replay: replayAlways,
	})
	t.MustRegister("fitBounds", dispatch.Registration[*Env]{
		Handler: fitBounds,
		Schema:  `args: [[[number, number], [number, number]]]`,
		Replay:  replayAlways,
	})

	return t
}

// Replay policies. Sources and native layers come back from the state
// store; controls, camera moves and anything touching a layer the store
// does not hold come back through replay. Policies run in history order
// against the new view, so a layer mutation replays only while its target
// is live there: a layer removed later in the history is on neither the
// view nor the store, and its mutations are skipped.

func replayAlways(*Env, wire.Command) bool { return true }

func replayAddLayer(env *Env, cmd wire.Command) bool {
	kind, _ := cmd.Kwargs["type"].(string)
	return !env.Profile.IsNative(kind)
}

func replayLiveLayer(env *Env, cmd wire.Command) bool {
	id, err := cmd.StringArg(0)
	return err == nil && replayedLayer(env, id)
}

func replayMoveLayer(env *Env, cmd wire.Command) bool {
	id, err := cmd.StringArg(0)
	if err != nil || env.View == nil || !env.View.HasLayer(id) {
		return false
	}
	if !env.State.HasLayer(id) {
		return true
	}
	before, err := cmd.StringArg(1)
	return err == nil && before != "" && replayedLayer(env, before)
}

// replayedLayer reports whether id is on the view without being persisted,
// which means an earlier replayed addLayer created it.
func replayedLayer(env *Env, id string) bool {
	return env.View != nil && env.View.HasLayer(id) && !env.State.HasLayer(id)
}

func addSource(ctx context.Context, env *Env, cmd wire.Command) error {
	if env.View == nil {
		return nil
	}
	id, err := cmd.StringArg(0)
	if err != nil {
		return err
	}
	if env.View.HasSource(id) {
		env.logger().Debug("source already on view", "source_id", id, "command_id", cmd.ID)
		return nil
	}

	rec := wire.SourceRecord{ID: id, Spec: wire.Spec(cmd.Kwargs).Clone()}
	if err := env.View.AddSource(ctx, rec); err != nil {
		return err
	}
	return env.State.AddSource(rec)
}

func removeSource(ctx context.Context, env *Env, cmd wire.Command) error {
	if env.View == nil {
		return nil
	}
	id, err := cmd.StringArg(0)
	if err != nil {
		return err
	}
	if env.View.HasSource(id) {
		if err := env.View.RemoveSource(ctx, id); err != nil {
			return err
		}
	}
	return env.State.RemoveSource(id)
}

func addLayer(ctx context.Context, env *Env, cmd wire.Command) error {
	if env.View == nil {
		return nil
	}
	spec := wire.Spec(cmd.Kwargs).Clone()
	beforeID, _ := spec["before_id"].(string)
	delete(spec, "before_id")
	id, _ := spec["id"].(string)
	kind, _ := spec["type"].(string)
	if id == "" {
		return fmt.Errorf("addLayer: missing id")
	}
	rec := wire.LayerRecord{ID: id, Kind: kind, Spec: spec}

	if env.View.HasLayer(id) {
		env.logger().Debug("layer already on view", "layer_id", id, "command_id", cmd.ID)
		return nil
	}

	switch {
	case beforeID != "" && !env.View.HasLayer(beforeID):
		env.logger().Warn("before layer not on view; adding on top",
			"layer_id", id, "before_id", beforeID, "command_id", cmd.ID)
		beforeID = ""
	case beforeID == "" && env.Profile.IsFoundation(rec):
		beforeID = firstOverlay(env)
	}

	if err := env.View.AddLayer(ctx, rec, beforeID); err != nil {
		return err
	}
	_, err := env.State.AddLayer(rec, beforeID)
	return err
}

// firstOverlay returns the lowest live layer outside the foundation
// partition, or "" when every live layer is foundation.
func firstOverlay(env *Env) string {
	for _, id := range env.View.LayerOrder() {
		rec := wire.LayerRecord{ID: id}
		rec.Kind, _ = env.View.LayerKind(id)
		if !env.Profile.IsFoundation(rec) {
			return id
		}
	}
	return ""
}

func removeLayer(ctx context.Context, env *Env, cmd wire.Command) error {
	if env.View == nil {
		return nil
	}
	id, err := cmd.StringArg(0)
	if err != nil {
		return err
	}
	if env.View.HasLayer(id) {
		if err := env.View.RemoveLayer(ctx, id); err != nil {
			return err
		}
	}
	return env.State.RemoveLayer(id)
}

func moveLayer(ctx context.Context, env *Env, cmd wire.Command) error {
	if env.View == nil {
		return nil
	}
	id, err := cmd.StringArg(0)
	if err != nil {
		return err
	}
	var beforeID string
	if len(cmd.Args) > 1 {
		if beforeID, err = cmd.StringArg(1); err != nil {
			return err
		}
	}
	if err := env.View.MoveLayer(ctx, id, beforeID); err != nil {
		return err
	}
	_, err = env.State.MoveLayer(id, beforeID)
	return err
}

func setVisibility(ctx context.Context, env *Env, cmd wire.Command) error {
	if env.View == nil {
		return nil
	}
	id, err := cmd.StringArg(0)
	if err != nil {
		return err
	}
	visible, err := cmd.BoolArg(1)
	if err != nil {
		return err
	}
	value := "none"
	if visible {
		value = "visible"
	}
	if err := env.View.SetLayoutProperty(ctx, id, "visibility", value); err != nil {
		return err
	}
	_, err = env.State.SetVisibility(id, visible)
	return err
}

func setOpacity(ctx context.Context, env *Env, cmd wire.Command) error {
	if env.View == nil {
		return nil
	}
	id, err := cmd.StringArg(0)
	if err != nil {
		return err
	}
	opacity, err := cmd.FloatArg(1)
	if err != nil {
		return err
	}
	kind, ok := env.View.LayerKind(id)
	if !ok {
		return fmt.Errorf("setOpacity %s: layer not found", id)
	}
	props := render.OpacityProperties(kind)
	prior := make([]any, len(props))
	for i, prop := range props {
		prior[i], _ = env.View.PaintProperty(id, prop)
	}
	for i, prop := range props {
		if err := env.View.SetPaintProperty(ctx, id, prop, opacity); err != nil {
			// Undo what was written so the view still matches the store.
			for j := i - 1; j >= 0; j-- {
				if rerr := env.View.SetPaintProperty(ctx, id, props[j], prior[j]); rerr != nil {
					env.logger().Warn("opacity rollback failed", "layer_id", id, "property", props[j], "error", rerr)
				}
			}
			return err
		}
	}
	_, err = env.State.SetOpacity(id, opacity)
	return err
}

func setFilter(ctx context.Context, env *Env, cmd wire.Command) error {
	if env.View == nil {
		return nil
	}
	id, err := cmd.StringArg(0)
	if err != nil {
		return err
	}
	filter, _ := cmd.Arg(1)
	if err := env.View.SetFilter(ctx, id, filter); err != nil {
		return err
	}
	_, err = env.State.SetFilter(id, filter)
	return err
}

func setPaintProperty(ctx context.Context, env *Env, cmd wire.Command) error {
	if env.View == nil {
		return nil
	}
	id, name, value, err := propertyArgs(cmd)
	if err != nil {
		return err
	}
	if err := env.View.SetPaintProperty(ctx, id, name, value); err != nil {
		return err
	}
	_, err = env.State.SetPaintProperty(id, name, value)
	return err
}

func setLayoutProperty(ctx context.Context, env *Env, cmd wire.Command) error {
	if env.View == nil {
		return nil
	}
	id, name, value, err := propertyArgs(cmd)
	if err != nil {
		return err
	}
	if err := env.View.SetLayoutProperty(ctx, id, name, value); err != nil {
		return err
	}
	_, err = env.State.SetLayoutProperty(id, name, value)
	return err
}

func propertyArgs(cmd wire.Command) (id, name string, value any, err error) {
	if id, err = cmd.StringArg(0); err != nil {
		return "", "", nil, err
	}
	if name, err = cmd.StringArg(1); err != nil {
		return "", "", nil, err
	}
	value, _ = cmd.Arg(2)
	return id, name, value, nil
}

func addControl(ctx context.Context, env *Env, cmd wire.Command) error {
	if env.View == nil {
		return nil
	}
	kind, err := cmd.StringArg(0)
	if err != nil {
		return err
	}
	id, err := cmd.StringKwarg("id")
	if err != nil {
		return err
	}
	if id == "" {
		id = kind
	}
	position, err := cmd.StringKwarg("position")
	if err != nil {
		return err
	}
	rec := wire.ControlRecord{ID: id, Kind: kind, Position: position}
	if opts, ok := cmd.Kwargs["options"].(map[string]any); ok {
		rec.Options = wire.Spec(opts).Clone()
	}

	if env.View.HasControl(id) {
		env.logger().Debug("control already on view", "control_id", id, "command_id", cmd.ID)
		return nil
	}
	if err := env.View.AddControl(ctx, rec); err != nil {
		return err
	}
	return env.State.AddControl(rec)
}

func removeControl(ctx context.Context, env *Env, cmd wire.Command) error {
	if env.View == nil {
		return nil
	}
	id, err := cmd.StringArg(0)
	if err != nil {
		return err
	}
	if env.View.HasControl(id) {
		if err := env.View.RemoveControl(ctx, id); err != nil {
			return err
		}
	}
	return env.State.RemoveControl(id)
}

func flyTo(ctx context.Context, env *Env, cmd wire.Command) error {
	if env.View == nil {
		return nil
	}
	cam := render.Camera{Animation: "fly"}
	if raw, ok := cmd.Kwargs["center"]; ok {
		center, err := floatList(raw)
		if err != nil {
			return fmt.Errorf("flyTo: center: %w", err)
		}
		cam.Center = center
	}
	cam.Zoom = floatKwarg(cmd, "zoom")
	cam.Bearing = floatKwarg(cmd, "bearing")
	cam.Pitch = floatKwarg(cmd, "pitch")
	return env.View.SetCamera(ctx, cam)
}

func fitBounds(ctx context.Context, env *Env, cmd wire.Command) error {
	if env.View == nil {
		return nil
	}
	raw, _ := cmd.Arg(0)
	corners, ok := raw.([]any)
	if !ok || len(corners) != 2 {
		return fmt.Errorf("fitBounds: expected [[west, south], [east, north]]")
	}
	bounds := make([][]float64, 0, 2)
	for _, corner := range corners {
		pt, err := floatList(corner)
		if err != nil {
			return fmt.Errorf("fitBounds: %w", err)
		}
		bounds = append(bounds, pt)
	}
	return env.View.SetCamera(ctx, render.Camera{Bounds: bounds, Animation: "fit"})
}

func floatList(v any) ([]float64, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	out := make([]float64, len(items))
	for i, item := range items {
		f, ok := wire.ToFloat(item)
		if !ok {
			return nil, fmt.Errorf("element %d: expected number, got %T", i, item)
		}
		out[i] = f
	}
	return out, nil
}

func floatKwarg(cmd wire.Command, key string) *float64 {
	f, ok := wire.ToFloat(cmd.Kwargs[key])
	if !ok {
		return nil
	}
	return &f
}
