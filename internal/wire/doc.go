// Package wire defines the values exchanged between the control plane and the
// presentation runtime over the transport channel.
//
// This package contains wire types and their encodings only. All other
// internal packages import wire; wire imports nothing internal.
//
// Key design constraints:
//   - Commands are identified by a monotonic int64 id assigned by the control plane
//   - Events carry a monotonic millisecond timestamp assigned by the runtime
//   - Persisted records (sources, layers, controls) are plain JSON documents
//   - All JSON tags use snake_case except where the control plane fixed the name
package wire
