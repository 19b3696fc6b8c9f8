// Package engine applies control-plane commands to a render view.
//
// Single-Writer Loop:
// Commands arrive as whole-list deliveries of the _commands channel key.
// The channel callback only enqueues the delivery; Run dequeues messages one
// at a time, so every view mutation, state write and cursor advance happens
// on one goroutine. Mount, Unmount and the read accessors travel the same
// inbox and wait for their turn.
//
// Command Flow:
//  1. Admit: ids at or below the observed high-water mark are never
//     re-applied. A redelivered id with different content is a collision and
//     the first-seen command wins.
//  2. Validate against the dispatch table schema.
//  3. Apply immediately when a view is ready, otherwise buffer in id order.
//  4. Commit the channel and advance the persisted applied cursor, whether
//     the handler succeeded, failed or the command was rejected.
//
// Mount Flow:
//  1. Create the view.
//  2. Restore sources (id order), then foundation layers, then overlay
//     layers from the state store. Failures are reported per entity and do
//     not stop restoration.
//  3. Replay applied history the store cannot express: controls, camera
//     moves, non-native layers and mutations of layers the store lacks.
//  4. Apply buffered commands in order, then mark the view ready.
package engine
