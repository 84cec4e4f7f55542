// Package confirm implements the identity-bound two-choice approval step
// required before a scheduled post is persisted.
//
// A Control is deliberately long-lived: there is no timeout, and input from
// any identity other than the bound owner is silently ignored (the control
// neither changes state nor responds). Controls live in a process-local
// Registry keyed by id; a restart orphans pending controls, which matches
// how the interactive previews have always behaved.
package confirm

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type State int

const (
	Pending State = iota
	Confirmed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Control is one pending confirmation bound to a single owner identity.
type Control struct {
	id      string
	ownerID string

	mu    sync.Mutex
	state State
	done  chan struct{}
}

func New(ownerID string) *Control {
	return &Control{
		id:      uuid.NewString(),
		ownerID: ownerID,
		done:    make(chan struct{}),
	}
}

func (c *Control) ID() string      { return c.id }
func (c *Control) OwnerID() string { return c.ownerID }

func (c *Control) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Decide records the owner's choice. Calls from any other identity, or after
// a decision has been made, are no-ops and report false.
func (c *Control) Decide(userID string, confirmed bool) bool {
	if userID != c.ownerID {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Pending {
		return false
	}
	if confirmed {
		c.state = Confirmed
	} else {
		c.state = Cancelled
	}
	close(c.done)
	return true
}

// Wait blocks until a decision is made or ctx is done. There is no internal
// timeout; an unanswered control stays Pending until its context ends.
func (c *Control) Wait(ctx context.Context) (State, error) {
	select {
	case <-ctx.Done():
		return c.State(), ctx.Err()
	case <-c.done:
		return c.State(), nil
	}
}

// Registry routes transport component events to live controls.
type Registry struct {
	mu sync.Mutex
	m  map[string]*Control
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]*Control{}}
}

func (r *Registry) Add(c *Control) {
	r.mu.Lock()
	r.m[c.id] = c
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Control, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[id]
	return c, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.m, id)
	r.mu.Unlock()
}

// Decide routes a choice to the control with the given id. Unknown ids and
// foreign identities are silently ignored.
func (r *Registry) Decide(id, userID string, confirmed bool) bool {
	c, ok := r.Get(id)
	if !ok {
		return false
	}
	return c.Decide(userID, confirmed)
}
