// Package headless is an in-memory render backend. It keeps a scene graph of
// sources, layers and controls with the same failure modes as a real map
// renderer (duplicate ids, unknown before ids, sources still in use) and
// supports failure injection for tests.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/viewsync/internal/render"
)

// ErrViewDestroyed is returned by every operation on a torn-down view.
var ErrViewDestroyed = errors.New("view destroyed")

// ErrInjected is the default error for injected failures.
var ErrInjected = errors.New("injected failure")

// Backend creates headless views.
type Backend struct {
	profile render.Profile
	newID   func() string

	mu       sync.Mutex
	failures map[string]error
	live     map[string]*View
	created  int
}

var _ render.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithIDGenerator overrides the view id source.
func WithIDGenerator(fn func() string) Option {
	return func(b *Backend) { b.newID = fn }
}

// New returns a backend using profile.
func New(profile render.Profile, opts ...Option) *Backend {
	b := &Backend{
		profile:  profile,
		newID:    newViewID,
		failures: map[string]error{},
		live:     map[string]*View{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// newViewID returns a UUIDv7 string, time-ordered so view ids sort by
// creation.
func newViewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SequentialIDs returns a generator producing "view-1", "view-2", ...
func SequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("view-%d", n)
	}
}

// Profile returns the backend's layer classification profile.
func (b *Backend) Profile() render.Profile {
	return b.profile
}

// CreateView returns a new empty view.
func (b *Backend) CreateView(_ context.Context, emit render.Emitter) (render.View, error) {
	if err := b.failure("createView", ""); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	v := newView(b, b.newID(), emit)
	b.live[v.id] = v
	b.created++
	return v, nil
}

// TeardownView destroys view. Tearing down an unknown or already destroyed
// view is an error.
func (b *Backend) TeardownView(_ context.Context, view render.View) error {
	if view == nil {
		return errors.New("teardown: nil view")
	}

	b.mu.Lock()
	v, ok := b.live[view.ID()]
	if ok {
		delete(b.live, view.ID())
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("teardown %s: %w", view.ID(), ErrViewDestroyed)
	}
	v.destroy()
	return nil
}

// View returns the live view with id.
func (b *Backend) View(id string) (*View, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.live[id]
	return v, ok
}

// Live returns the number of views not yet torn down.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

// Created returns the number of views ever created.
func (b *Backend) Created() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.created
}

// Fail makes every future op on entity id fail with err (ErrInjected when
// nil). An empty id matches every entity. Ops are the View method names in
// lower camel case ("addLayer", "setPaintProperty", ...) plus "createView".
// Property setters also match the id "<layer>/<property>".
func (b *Backend) Fail(op, id string, err error) {
	if err == nil {
		err = ErrInjected
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op+":"+id] = err
}

// ClearFailures removes every injected failure.
func (b *Backend) ClearFailures() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = map[string]error{}
}

func (b *Backend) failure(op, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.failures[op+":"+id]; ok {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if err, ok := b.failures[op+":"]; ok {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	return nil
}
