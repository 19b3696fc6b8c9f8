// Package channel implements the transport channel: a key/value document
// shared by the runtime and the control plane.
//
// Local writes are staged with Set and become visible to peers only after
// Commit, which persists the dirty keys to the Backend and publishes them to
// every attached sink. Remote writes arrive through Receive, are persisted
// immediately and fire the OnChange watchers registered for their key.
// Watchers never fire for local writes.
package channel
