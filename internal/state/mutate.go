package state

import (
	"errors"
	"slices"

	"github.com/roach88/viewsync/internal/render"
	"github.com/roach88/viewsync/internal/wire"
)

// ErrEmptyID is returned when a record has no id.
var ErrEmptyID = errors.New("state: empty id")

// AddSource records src, replacing any source with the same id.
func (s *Store) AddSource(src wire.SourceRecord) error {
	if src.ID == "" {
		return ErrEmptyID
	}
	s.sources[src.ID] = src.Clone()
	return s.writeSources()
}

// RemoveSource deletes the source with id. Unknown ids are a no-op.
func (s *Store) RemoveSource(id string) error {
	if _, ok := s.sources[id]; !ok {
		return nil
	}
	delete(s.sources, id)
	return s.writeSources()
}

// AddLayer records rec before beforeID (or on top when beforeID is empty or
// not persisted). Non-native kinds are ignored and report false. A layer
// already recorded under the same id is replaced in place.
func (s *Store) AddLayer(rec wire.LayerRecord, beforeID string) (bool, error) {
	if rec.ID == "" {
		return false, ErrEmptyID
	}
	if !s.profile.IsNative(rec.Kind) {
		return false, nil
	}

	rec = rec.Clone()
	if i := s.layerIndex(rec.ID); i >= 0 {
		s.layers[i] = rec
		return true, s.writeLayers()
	}

	pos := len(s.layers)
	if beforeID != "" {
		if i := s.layerIndex(beforeID); i >= 0 {
			pos = i
		}
	}
	s.layers = slices.Insert(s.layers, pos, rec)
	return true, s.writeLayers()
}

// RemoveLayer deletes the layer with id. Unknown ids are a no-op.
func (s *Store) RemoveLayer(id string) error {
	i := s.layerIndex(id)
	if i < 0 {
		return nil
	}
	s.layers = slices.Delete(s.layers, i, i+1)
	return s.writeLayers()
}

// MoveLayer moves id before beforeID, or to the top when beforeID is empty.
// Returns false when either layer is not persisted.
func (s *Store) MoveLayer(id, beforeID string) (bool, error) {
	i := s.layerIndex(id)
	if i < 0 {
		return false, nil
	}
	if beforeID == id {
		return true, nil
	}
	if beforeID != "" && s.layerIndex(beforeID) < 0 {
		return false, nil
	}

	rec := s.layers[i]
	s.layers = slices.Delete(s.layers, i, i+1)
	pos := len(s.layers)
	if beforeID != "" {
		pos = s.layerIndex(beforeID)
	}
	s.layers = slices.Insert(s.layers, pos, rec)
	return true, s.writeLayers()
}

// SetVisibility writes layout.visibility ("visible" or "none").
func (s *Store) SetVisibility(id string, visible bool) (bool, error) {
	value := "none"
	if visible {
		value = "visible"
	}
	return s.SetLayoutProperty(id, "visibility", value)
}

// SetOpacity writes every opacity paint property of the layer's kind.
func (s *Store) SetOpacity(id string, opacity float64) (bool, error) {
	i := s.layerIndex(id)
	if i < 0 {
		return false, nil
	}
	paint := s.spec(i).Object("paint")
	for _, prop := range render.OpacityProperties(s.layers[i].Kind) {
		paint[prop] = opacity
	}
	return true, s.writeLayers()
}

// SetFilter replaces the layer filter; nil removes it.
func (s *Store) SetFilter(id string, filter any) (bool, error) {
	i := s.layerIndex(id)
	if i < 0 {
		return false, nil
	}
	spec := s.spec(i)
	if filter == nil {
		delete(spec, "filter")
	} else {
		spec["filter"] = wire.CloneValue(filter)
	}
	return true, s.writeLayers()
}

// SetPaintProperty writes paint.<name>; nil removes it.
func (s *Store) SetPaintProperty(id, name string, value any) (bool, error) {
	return s.setProperty(id, "paint", name, value)
}

// SetLayoutProperty writes layout.<name>; nil removes it.
func (s *Store) SetLayoutProperty(id, name string, value any) (bool, error) {
	return s.setProperty(id, "layout", name, value)
}

func (s *Store) setProperty(id, group, name string, value any) (bool, error) {
	i := s.layerIndex(id)
	if i < 0 {
		return false, nil
	}
	props := s.spec(i).Object(group)
	if value == nil {
		delete(props, name)
	} else {
		props[name] = wire.CloneValue(value)
	}
	return true, s.writeLayers()
}

// spec returns layer i's spec, allocating it when nil.
func (s *Store) spec(i int) wire.Spec {
	if s.layers[i].Spec == nil {
		s.layers[i].Spec = wire.Spec{}
	}
	return s.layers[i].Spec
}

// AddControl records rec, replacing any control with the same id.
// Controls are persisted for inspection only and never restored.
func (s *Store) AddControl(rec wire.ControlRecord) error {
	if rec.ID == "" {
		return ErrEmptyID
	}
	s.controls[rec.ID] = rec.Clone()
	return s.writeControls()
}

// RemoveControl deletes the control with id. Unknown ids are a no-op.
func (s *Store) RemoveControl(id string) error {
	if _, ok := s.controls[id]; !ok {
		return nil
	}
	delete(s.controls, id)
	return s.writeControls()
}
