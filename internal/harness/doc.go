// Package harness runs end-to-end scenarios against the engine.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: scenario-name
//	description: "What this scenario validates"
//	store:                 # optional persisted state before the engine opens
//	  sources: [{id: s1, spec: {type: geojson}}]
//	  layers:  [{id: markers, kind: circle, spec: {source: s1}}]
//	  controls: [{id: navigation, kind: navigation}]
//	steps:
//	  - commands:          # appended to the command list and delivered
//	      - {id: 1, method: addSource, args: [s1], kwargs: {type: geojson}}
//	  - redeliver: true    # deliver the current list again
//	  - mount: true
//	  - unmount: true
//	  - restart: true      # stop the engine and reopen it on the same database
//	  - emit: {type: click, data: {lng: 1}}
//	  - fail: {op: addLayer, id: bad}
//	assertions:
//	  - type: render_order
//	    layers: [basemap-1, markers]
//	  - type: applied_id
//	    value: 2
//
// # Assertion Types
//
//   - render_order: live layer ids, bottom to top
//   - applied_id: the applied cursor
//   - entity_count: sources, layers or controls in the view (default) or store
//   - store_contains / store_absent: a persisted source, layer or control
//   - event_count: entries in the outbound event log
//   - trace_contains / trace_count: trace events matching the given fields
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory SQLite database, sequential view ids
// (view-1, view-2, ...) and a step clock for event timestamps, so the trace
// is byte-identical across runs and can be compared against golden files.
package harness
