// Package render defines the contract between the command engine and a
// concrete rendering backend.
//
// A Backend creates views and tears them down. The engine owns the View
// handle it receives from CreateView and hands it back to TeardownView; no
// backend keeps a global table of views.
package render

import (
	"context"

	"github.com/roach88/viewsync/internal/wire"
)

// Emitter delivers an interaction event from the view to the outbound event
// log. It may be called from any goroutine.
type Emitter func(eventType string, data any)

// Camera is a viewpoint change. Nil fields are left unchanged.
type Camera struct {
	Center  []float64   `json:"center,omitempty"`
	Zoom    *float64    `json:"zoom,omitempty"`
	Bearing *float64    `json:"bearing,omitempty"`
	Pitch   *float64    `json:"pitch,omitempty"`
	Bounds  [][]float64 `json:"bounds,omitempty"`
	// Animation is "fly" or "fit"; empty jumps.
	Animation string `json:"animation,omitempty"`
}

// View is one live presentation surface.
type View interface {
	ID() string

	AddSource(ctx context.Context, rec wire.SourceRecord) error
	RemoveSource(ctx context.Context, id string) error
	HasSource(id string) bool

	// AddLayer inserts rec before beforeID, or on top when beforeID is empty.
	AddLayer(ctx context.Context, rec wire.LayerRecord, beforeID string) error
	RemoveLayer(ctx context.Context, id string) error
	HasLayer(id string) bool
	// LayerKind returns the type of a live layer.
	LayerKind(id string) (string, bool)
	MoveLayer(ctx context.Context, id, beforeID string) error
	SetLayoutProperty(ctx context.Context, layerID, name string, value any) error
	SetPaintProperty(ctx context.Context, layerID, name string, value any) error
	// PaintProperty returns a live layer's paint property and whether it is set.
	PaintProperty(layerID, name string) (any, bool)
	// SetFilter replaces the layer filter; nil clears it.
	SetFilter(ctx context.Context, layerID string, filter any) error

	AddControl(ctx context.Context, rec wire.ControlRecord) error
	RemoveControl(ctx context.Context, id string) error
	HasControl(id string) bool

	SetCamera(ctx context.Context, cam Camera) error

	// LayerOrder returns layer ids bottom to top.
	LayerOrder() []string
}

// Backend creates and destroys views.
type Backend interface {
	CreateView(ctx context.Context, emit Emitter) (View, error)
	TeardownView(ctx context.Context, view View) error
	Profile() Profile
}

// Scene is a point-in-time copy of a view's contents.
type Scene struct {
	ViewID   string               `json:"view_id"`
	Sources  []wire.SourceRecord  `json:"sources"`
	Layers   []wire.LayerRecord   `json:"layers"`
	Controls []wire.ControlRecord `json:"controls"`
	Camera   Camera               `json:"camera"`
}

// Inspector is implemented by views that can report their scene.
type Inspector interface {
	Scene() Scene
}
