package wire

// Spec is a declarative JSON document describing a source, layer or control.
type Spec map[string]any

// SourceRecord is a persisted data source.
type SourceRecord struct {
	ID   string `json:"id"`
	Spec Spec   `json:"spec"`
}

// LayerRecord is a persisted render layer. Kind is the layer type
// ("circle", "raster", ...), which decides restoration eligibility.
type LayerRecord struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Spec Spec   `json:"spec"`
}

// ControlRecord is a UI control attached to the view.
type ControlRecord struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Position string `json:"position,omitempty"`
	Options  Spec   `json:"options,omitempty"`
}

// Clone returns a deep copy of the spec.
func (s Spec) Clone() Spec {
	if s == nil {
		return nil
	}
	out := make(Spec, len(s))
	for k, v := range s {
		out[k] = CloneValue(v)
	}
	return out
}

// Object returns the nested object stored under key, creating it when absent
// or when the existing value is not an object.
func (s Spec) Object(key string) map[string]any {
	if m, ok := s[key].(map[string]any); ok {
		return m
	}
	if m, ok := s[key].(Spec); ok {
		return map[string]any(m)
	}
	m := map[string]any{}
	s[key] = m
	return m
}

// Clone returns a deep copy of the record.
func (r LayerRecord) Clone() LayerRecord {
	r.Spec = r.Spec.Clone()
	return r
}

// Clone returns a deep copy of the record.
func (r SourceRecord) Clone() SourceRecord {
	r.Spec = r.Spec.Clone()
	return r
}

// Clone returns a deep copy of the record.
func (r ControlRecord) Clone() ControlRecord {
	r.Options = r.Options.Clone()
	return r
}

// CloneValue deep-copies JSON-shaped values (maps, slices, scalars).
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = CloneValue(elem)
		}
		return out
	case Spec:
		return val.Clone()
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = CloneValue(elem)
		}
		return out
	default:
		return val
	}
}
