package render

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/viewsync/internal/wire"
)

// Profile declares how a backend classifies layers.
type Profile struct {
	Name string `toml:"name" yaml:"name" json:"name"`
	// NativeKinds are layer kinds restorable from the state store.
	NativeKinds []string `toml:"native_kinds" yaml:"native_kinds" json:"native_kinds"`
	// FoundationKinds always render beneath overlay layers.
	FoundationKinds []string `toml:"foundation_kinds" yaml:"foundation_kinds" json:"foundation_kinds"`
	// FoundationPrefixes mark layers as foundation by id.
	FoundationPrefixes []string `toml:"foundation_prefixes" yaml:"foundation_prefixes" json:"foundation_prefixes"`
}

// DefaultProfile returns the MapLibre style profile.
func DefaultProfile() Profile {
	return Profile{
		Name: "maplibre",
		NativeKinds: []string{
			"background", "fill", "line", "symbol", "circle",
			"heatmap", "fill-extrusion", "raster", "hillshade",
		},
		FoundationKinds:    []string{"background"},
		FoundationPrefixes: []string{"basemap"},
	}
}

// Validate reports a profile that cannot classify layers.
func (p Profile) Validate() error {
	var errs []error
	if len(p.NativeKinds) == 0 {
		errs = append(errs, errors.New("profile: native_kinds must not be empty"))
	}
	for i, k := range p.NativeKinds {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, fmt.Errorf("profile: native_kinds[%d] is empty", i))
		}
	}
	for i, prefix := range p.FoundationPrefixes {
		if prefix == "" {
			// An empty prefix would classify every layer as foundation.
			errs = append(errs, fmt.Errorf("profile: foundation_prefixes[%d] is empty", i))
		}
	}
	return errors.Join(errs...)
}

// IsNative reports whether layers of kind are persisted and restored.
func (p Profile) IsNative(kind string) bool {
	return slices.Contains(p.NativeKinds, kind)
}

// IsFoundation reports whether rec belongs to the foundation partition.
func (p Profile) IsFoundation(rec wire.LayerRecord) bool {
	if slices.Contains(p.FoundationKinds, rec.Kind) {
		return true
	}
	for _, prefix := range p.FoundationPrefixes {
		if prefix != "" && strings.HasPrefix(rec.ID, prefix) {
			return true
		}
	}
	return false
}

// Partition splits layers into foundation and overlay, each in input order.
func (p Profile) Partition(layers []wire.LayerRecord) (foundation, overlay []wire.LayerRecord) {
	foundation = []wire.LayerRecord{}
	overlay = []wire.LayerRecord{}
	for _, l := range layers {
		if p.IsFoundation(l) {
			foundation = append(foundation, l)
		} else {
			overlay = append(overlay, l)
		}
	}
	return foundation, overlay
}

// opacityProperties maps layer kinds to the paint properties that carry
// their opacity.
var opacityProperties = map[string][]string{
	"background":     {"background-opacity"},
	"fill":           {"fill-opacity"},
	"line":           {"line-opacity"},
	"symbol":         {"icon-opacity", "text-opacity"},
	"circle":         {"circle-opacity"},
	"heatmap":        {"heatmap-opacity"},
	"fill-extrusion": {"fill-extrusion-opacity"},
	"raster":         {"raster-opacity"},
	"hillshade":      {"hillshade-exaggeration"},
}

// OpacityProperties returns the paint properties setOpacity writes for kind.
// Unknown kinds fall back to "<kind>-opacity".
func OpacityProperties(kind string) []string {
	if props, ok := opacityProperties[kind]; ok {
		return slices.Clone(props)
	}
	return []string{kind + "-opacity"}
}
