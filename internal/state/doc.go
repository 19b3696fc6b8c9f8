// Package state is the declarative state store: the persisted snapshot of
// sources, layers and controls that a fresh view is rebuilt from.
//
// Every mutation is written through to the transport channel immediately
// (Set only); the caller commits once per executed command. Layers whose
// kind is not native to the render profile are never recorded, and neither
// are mutations that target them.
package state
