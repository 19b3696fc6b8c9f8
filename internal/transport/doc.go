// Package transport carries the shared key/value document between the
// runtime and remote peers over WebSocket.
//
// The runtime side (Handler) sends each peer a snapshot of every committed
// key on connect, then an updates frame for every batch the channel
// commits or receives. Peers write keys with set frames, which land in the
// channel exactly as a remote write would. The control-plane side (Client)
// mirrors the document and appends commands.
//
// Frames are encoded as JSON text frames or MessagePack binary frames; both
// ends of a connection must agree on the codec.
package transport
