package state

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/viewsync/internal/channel"
	"github.com/roach88/viewsync/internal/render"
	"github.com/roach88/viewsync/internal/wire"
)

// Snapshot is a copy of every persisted record.
type Snapshot struct {
	Sources  []wire.SourceRecord  `json:"sources" yaml:"sources"`
	Layers   []wire.LayerRecord   `json:"layers" yaml:"layers"`
	Controls []wire.ControlRecord `json:"controls" yaml:"controls"`
}

// Store holds the declarative state for one session.
// It is not safe for concurrent use; the engine goroutine owns it.
type Store struct {
	ch      channel.Channel
	profile render.Profile

	sources  map[string]wire.SourceRecord
	layers   []wire.LayerRecord
	controls map[string]wire.ControlRecord
}

// Load decodes the persisted records from ch.
func Load(ch channel.Channel, profile render.Profile) (*Store, error) {
	snap, err := Decode(ch)
	if err != nil {
		return nil, err
	}

	s := &Store{
		ch:       ch,
		profile:  profile,
		sources:  make(map[string]wire.SourceRecord, len(snap.Sources)),
		layers:   snap.Layers,
		controls: make(map[string]wire.ControlRecord, len(snap.Controls)),
	}
	for _, src := range snap.Sources {
		s.sources[src.ID] = src
	}
	for _, c := range snap.Controls {
		s.controls[c.ID] = c
	}
	return s, nil
}

// Decode reads the persisted records from ch without building a Store.
// Missing keys decode as empty.
func Decode(ch channel.Channel) (Snapshot, error) {
	snap := Snapshot{
		Sources:  []wire.SourceRecord{},
		Layers:   []wire.LayerRecord{},
		Controls: []wire.ControlRecord{},
	}

	var sources map[string]wire.SourceRecord
	if err := decodeKey(ch, wire.KeySources, &sources); err != nil {
		return Snapshot{}, err
	}
	for id, src := range sources {
		// The map key is authoritative for the id.
		src.ID = id
		snap.Sources = append(snap.Sources, src)
	}
	slices.SortFunc(snap.Sources, func(a, b wire.SourceRecord) int { return cmp.Compare(a.ID, b.ID) })

	var layers []wire.LayerRecord
	if err := decodeKey(ch, wire.KeyLayers, &layers); err != nil {
		return Snapshot{}, err
	}
	if layers != nil {
		snap.Layers = layers
	}

	var controls map[string]wire.ControlRecord
	if err := decodeKey(ch, wire.KeyControls, &controls); err != nil {
		return Snapshot{}, err
	}
	for id, c := range controls {
		c.ID = id
		snap.Controls = append(snap.Controls, c)
	}
	slices.SortFunc(snap.Controls, func(a, b wire.ControlRecord) int { return cmp.Compare(a.ID, b.ID) })

	return snap, nil
}

func decodeKey(ch channel.Channel, key string, into any) error {
	raw, ok := ch.Get(key)
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Seed stages snap into ch in the persisted format, replacing whatever was
// there. The caller commits.
func Seed(ch channel.Channel, snap Snapshot) error {
	sources := make(map[string]wire.SourceRecord, len(snap.Sources))
	for _, src := range snap.Sources {
		sources[src.ID] = src
	}
	controls := make(map[string]wire.ControlRecord, len(snap.Controls))
	for _, c := range snap.Controls {
		controls[c.ID] = c
	}
	layers := snap.Layers
	if layers == nil {
		layers = []wire.LayerRecord{}
	}

	if err := ch.Set(wire.KeySources, sources); err != nil {
		return err
	}
	if err := ch.Set(wire.KeyLayers, layers); err != nil {
		return err
	}
	return ch.Set(wire.KeyControls, controls)
}

// Profile returns the classification profile used for persistence decisions.
func (s *Store) Profile() render.Profile {
	return s.profile
}

// Snapshot returns a deep copy of the persisted records.
// Sources and controls are sorted by id; layers keep stored order.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Sources:  s.Sources(),
		Layers:   s.Layers(),
		Controls: s.Controls(),
	}
}

// Sources returns every source sorted by id.
func (s *Store) Sources() []wire.SourceRecord {
	out := make([]wire.SourceRecord, 0, len(s.sources))
	for _, id := range sortedKeys(s.sources) {
		out = append(out, s.sources[id].Clone())
	}
	return out
}

// Layers returns every persisted layer in stored order.
func (s *Store) Layers() []wire.LayerRecord {
	out := make([]wire.LayerRecord, len(s.layers))
	for i, l := range s.layers {
		out[i] = l.Clone()
	}
	return out
}

// Controls returns every control sorted by id.
func (s *Store) Controls() []wire.ControlRecord {
	out := make([]wire.ControlRecord, 0, len(s.controls))
	for _, id := range sortedKeys(s.controls) {
		out = append(out, s.controls[id].Clone())
	}
	return out
}

// Source returns the source with id.
func (s *Store) Source(id string) (wire.SourceRecord, bool) {
	rec, ok := s.sources[id]
	return rec.Clone(), ok
}

// Layer returns the persisted layer with id.
func (s *Store) Layer(id string) (wire.LayerRecord, bool) {
	i := s.layerIndex(id)
	if i < 0 {
		return wire.LayerRecord{}, false
	}
	return s.layers[i].Clone(), true
}

// HasLayer reports whether a layer with id is persisted.
func (s *Store) HasLayer(id string) bool {
	return s.layerIndex(id) >= 0
}

// Control returns the control with id.
func (s *Store) Control(id string) (wire.ControlRecord, bool) {
	rec, ok := s.controls[id]
	return rec.Clone(), ok
}

func (s *Store) layerIndex(id string) int {
	return slices.IndexFunc(s.layers, func(l wire.LayerRecord) bool { return l.ID == id })
}

func (s *Store) writeSources() error {
	if err := s.ch.Set(wire.KeySources, s.sources); err != nil {
		return fmt.Errorf("persist sources: %w", err)
	}
	return nil
}

func (s *Store) writeLayers() error {
	if err := s.ch.Set(wire.KeyLayers, s.layers); err != nil {
		return fmt.Errorf("persist layers: %w", err)
	}
	return nil
}

func (s *Store) writeControls() error {
	if err := s.ch.Set(wire.KeyControls, s.controls); err != nil {
		return fmt.Errorf("persist controls: %w", err)
	}
	return nil
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
