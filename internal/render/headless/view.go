package headless

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/roach88/viewsync/internal/render"
	"github.com/roach88/viewsync/internal/wire"
)

// View is an in-memory scene graph.
type View struct {
	backend *Backend
	id      string
	emit    render.Emitter

	mu        sync.Mutex
	destroyed bool
	sources   map[string]wire.SourceRecord
	layers    []wire.LayerRecord
	controls  []wire.ControlRecord
	camera    render.Camera
	calls     []string
}

var (
	_ render.View      = (*View)(nil)
	_ render.Inspector = (*View)(nil)
)

func newView(b *Backend, id string, emit render.Emitter) *View {
	return &View{
		backend: b,
		id:      id,
		emit:    emit,
		sources: map[string]wire.SourceRecord{},
	}
}

// ID returns the view handle id.
func (v *View) ID() string { return v.id }

// begin checks injected failures and destruction, then locks the view and
// records the call. On success the caller must unlock v.mu.
func (v *View) begin(op, id string) error {
	if err := v.backend.failure(op, id); err != nil {
		return err
	}
	v.mu.Lock()
	if v.destroyed {
		v.mu.Unlock()
		return fmt.Errorf("%s %s: %w", op, id, ErrViewDestroyed)
	}
	v.calls = append(v.calls, op+":"+id)
	return nil
}

func (v *View) AddSource(_ context.Context, rec wire.SourceRecord) error {
	if err := v.begin("addSource", rec.ID); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if rec.ID == "" {
		return fmt.Errorf("addSource: empty id")
	}
	if _, ok := v.sources[rec.ID]; ok {
		return fmt.Errorf("addSource %s: source already exists", rec.ID)
	}
	v.sources[rec.ID] = rec.Clone()
	return nil
}

func (v *View) RemoveSource(_ context.Context, id string) error {
	if err := v.begin("removeSource", id); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if _, ok := v.sources[id]; !ok {
		return fmt.Errorf("removeSource %s: source not found", id)
	}
	for _, l := range v.layers {
		if layerSource(l) == id {
			return fmt.Errorf("removeSource %s: source is used by layer %s", id, l.ID)
		}
	}
	delete(v.sources, id)
	return nil
}

func (v *View) HasSource(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.sources[id]
	return ok
}

func (v *View) AddLayer(_ context.Context, rec wire.LayerRecord, beforeID string) error {
	if err := v.begin("addLayer", rec.ID); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if rec.ID == "" {
		return fmt.Errorf("addLayer: empty id")
	}
	if v.layerIndex(rec.ID) >= 0 {
		return fmt.Errorf("addLayer %s: layer already exists", rec.ID)
	}
	if src := layerSource(rec); src != "" {
		if _, ok := v.sources[src]; !ok {
			return fmt.Errorf("addLayer %s: source %q not found", rec.ID, src)
		}
	}

	pos := len(v.layers)
	if beforeID != "" {
		pos = v.layerIndex(beforeID)
		if pos < 0 {
			return fmt.Errorf("addLayer %s: before layer %q not found", rec.ID, beforeID)
		}
	}
	v.layers = slices.Insert(v.layers, pos, rec.Clone())
	return nil
}

func (v *View) RemoveLayer(_ context.Context, id string) error {
	if err := v.begin("removeLayer", id); err != nil {
		return err
	}
	defer v.mu.Unlock()

	i := v.layerIndex(id)
	if i < 0 {
		return fmt.Errorf("removeLayer %s: layer not found", id)
	}
	v.layers = slices.Delete(v.layers, i, i+1)
	return nil
}

func (v *View) HasLayer(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.layerIndex(id) >= 0
}

func (v *View) LayerKind(id string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.layerIndex(id)
	if i < 0 {
		return "", false
	}
	return v.layers[i].Kind, true
}

func (v *View) MoveLayer(_ context.Context, id, beforeID string) error {
	if err := v.begin("moveLayer", id); err != nil {
		return err
	}
	defer v.mu.Unlock()

	i := v.layerIndex(id)
	if i < 0 {
		return fmt.Errorf("moveLayer %s: layer not found", id)
	}
	if beforeID != "" && v.layerIndex(beforeID) < 0 {
		return fmt.Errorf("moveLayer %s: before layer %q not found", id, beforeID)
	}
	if beforeID == id {
		return nil
	}

	rec := v.layers[i]
	v.layers = slices.Delete(v.layers, i, i+1)
	pos := len(v.layers)
	if beforeID != "" {
		pos = v.layerIndex(beforeID)
	}
	v.layers = slices.Insert(v.layers, pos, rec)
	return nil
}

func (v *View) SetLayoutProperty(_ context.Context, layerID, name string, value any) error {
	return v.setProperty("setLayoutProperty", "layout", layerID, name, value)
}

func (v *View) SetPaintProperty(_ context.Context, layerID, name string, value any) error {
	return v.setProperty("setPaintProperty", "paint", layerID, name, value)
}

func (v *View) PaintProperty(layerID, name string) (any, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	i := v.layerIndex(layerID)
	if i < 0 {
		return nil, false
	}
	var paint map[string]any
	switch p := v.layers[i].Spec["paint"].(type) {
	case map[string]any:
		paint = p
	case wire.Spec:
		paint = p
	}
	value, ok := paint[name]
	return wire.CloneValue(value), ok
}

func (v *View) setProperty(op, group, layerID, name string, value any) error {
	if err := v.backend.failure(op, layerID+"/"+name); err != nil {
		return err
	}
	if err := v.begin(op, layerID); err != nil {
		return err
	}
	defer v.mu.Unlock()

	i := v.layerIndex(layerID)
	if i < 0 {
		return fmt.Errorf("%s %s: layer not found", op, layerID)
	}
	if v.layers[i].Spec == nil {
		v.layers[i].Spec = wire.Spec{}
	}
	props := v.layers[i].Spec.Object(group)
	if value == nil {
		delete(props, name)
		return nil
	}
	props[name] = wire.CloneValue(value)
	return nil
}

func (v *View) SetFilter(_ context.Context, layerID string, filter any) error {
	if err := v.begin("setFilter", layerID); err != nil {
		return err
	}
	defer v.mu.Unlock()

	i := v.layerIndex(layerID)
	if i < 0 {
		return fmt.Errorf("setFilter %s: layer not found", layerID)
	}
	if v.layers[i].Spec == nil {
		v.layers[i].Spec = wire.Spec{}
	}
	if filter == nil {
		delete(v.layers[i].Spec, "filter")
		return nil
	}
	v.layers[i].Spec["filter"] = wire.CloneValue(filter)
	return nil
}

func (v *View) AddControl(_ context.Context, rec wire.ControlRecord) error {
	if err := v.begin("addControl", rec.ID); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if rec.ID == "" {
		return fmt.Errorf("addControl: empty id")
	}
	if v.controlIndex(rec.ID) >= 0 {
		return fmt.Errorf("addControl %s: control already exists", rec.ID)
	}
	v.controls = append(v.controls, rec.Clone())
	return nil
}

func (v *View) RemoveControl(_ context.Context, id string) error {
	if err := v.begin("removeControl", id); err != nil {
		return err
	}
	defer v.mu.Unlock()

	i := v.controlIndex(id)
	if i < 0 {
		return fmt.Errorf("removeControl %s: control not found", id)
	}
	v.controls = slices.Delete(v.controls, i, i+1)
	return nil
}

func (v *View) HasControl(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.controlIndex(id) >= 0
}

func (v *View) SetCamera(_ context.Context, cam render.Camera) error {
	if err := v.begin("setCamera", ""); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if len(cam.Bounds) == 2 && len(cam.Bounds[0]) == 2 && len(cam.Bounds[1]) == 2 {
		v.camera.Center = []float64{
			(cam.Bounds[0][0] + cam.Bounds[1][0]) / 2,
			(cam.Bounds[0][1] + cam.Bounds[1][1]) / 2,
		}
		v.camera.Bounds = cam.Bounds
	}
	if len(cam.Center) == 2 {
		v.camera.Center = slices.Clone(cam.Center)
	}
	if cam.Zoom != nil {
		v.camera.Zoom = cam.Zoom
	}
	if cam.Bearing != nil {
		v.camera.Bearing = cam.Bearing
	}
	if cam.Pitch != nil {
		v.camera.Pitch = cam.Pitch
	}
	v.camera.Animation = cam.Animation
	return nil
}

func (v *View) LayerOrder() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, len(v.layers))
	for i, l := range v.layers {
		ids[i] = l.ID
	}
	return ids
}

// Scene returns a deep copy of the view contents. Sources are sorted by id.
func (v *View) Scene() render.Scene {
	v.mu.Lock()
	defer v.mu.Unlock()

	scene := render.Scene{
		ViewID:   v.id,
		Sources:  make([]wire.SourceRecord, 0, len(v.sources)),
		Layers:   make([]wire.LayerRecord, 0, len(v.layers)),
		Controls: make([]wire.ControlRecord, 0, len(v.controls)),
		Camera:   v.camera,
	}
	for _, s := range v.sources {
		scene.Sources = append(scene.Sources, s.Clone())
	}
	sort.Slice(scene.Sources, func(i, j int) bool { return scene.Sources[i].ID < scene.Sources[j].ID })
	for _, l := range v.layers {
		scene.Layers = append(scene.Layers, l.Clone())
	}
	for _, c := range v.controls {
		scene.Controls = append(scene.Controls, c.Clone())
	}
	return scene
}

// Layer returns a copy of the layer with id.
func (v *View) Layer(id string) (wire.LayerRecord, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.layerIndex(id)
	if i < 0 {
		return wire.LayerRecord{}, false
	}
	return v.layers[i].Clone(), true
}

// Calls returns every op that reached the scene graph as "op:id", in order.
func (v *View) Calls() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.calls)
}

// Emit simulates a user interaction. Events from a destroyed view are dropped.
func (v *View) Emit(eventType string, data any) bool {
	v.mu.Lock()
	destroyed := v.destroyed
	v.mu.Unlock()
	if destroyed || v.emit == nil {
		return false
	}
	v.emit(eventType, data)
	return true
}

func (v *View) destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.destroyed = true
}

func (v *View) layerIndex(id string) int {
	return slices.IndexFunc(v.layers, func(l wire.LayerRecord) bool { return l.ID == id })
}

func (v *View) controlIndex(id string) int {
	return slices.IndexFunc(v.controls, func(c wire.ControlRecord) bool { return c.ID == id })
}

func layerSource(rec wire.LayerRecord) string {
	s, _ := rec.Spec["source"].(string)
	return s
}
