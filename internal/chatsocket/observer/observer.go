// Package observer implements the state observer (spec.md §4.G): the
// one place outside the controller queue allowed its own short,
// possibly-awaited-from lock (spec.md §5's explicit exception), because
// AwaitOpen callers must be able to register interest and be notified
// without going through the controller queue themselves.
package observer

import (
	"context"
	"sync"

	"github.com/chat-core/wschat/internal/chatsocket/chaterrors"
	"github.com/chat-core/wschat/internal/chatsocket/chattypes"
)

// Observer tracks one ConnectionKind's current VisibleState and lets
// callers either poll it, block until it becomes Open, or subscribe to
// every future change.
type Observer struct {
	mu      sync.Mutex
	state   chattypes.VisibleState
	waiters map[chan struct{}]struct{}
	subs    map[chan chattypes.VisibleState]struct{}
}

// New returns an Observer starting at Closed.
func New() *Observer {
	return &Observer{
		state:   chattypes.Closed,
		waiters: make(map[chan struct{}]struct{}),
		subs:    make(map[chan chattypes.VisibleState]struct{}),
	}
}

// Set records a new VisibleState, waking every AwaitOpen waiter if the
// new state is Open and notifying every subscriber unconditionally.
func (o *Observer) Set(s chattypes.VisibleState) {
	o.mu.Lock()
	o.state = s
	if s == chattypes.Open {
		for w := range o.waiters {
			close(w)
		}
		o.waiters = make(map[chan struct{}]struct{})
	}
	subs := make([]chan chattypes.VisibleState, 0, len(o.subs))
	for c := range o.subs {
		subs = append(subs, c)
	}
	o.mu.Unlock()

	for _, c := range subs {
		select {
		case c <- s:
		default:
		}
	}
}

// State returns the current VisibleState.
func (o *Observer) State() chattypes.VisibleState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// AwaitOpen blocks until the state becomes Open or ctx is cancelled. If
// the state is already Open, it returns immediately. Cancellation
// reports chaterrors.ErrCancelled, never a timeout-specific error, per
// spec.md §4.F.
func (o *Observer) AwaitOpen(ctx context.Context) error {
	o.mu.Lock()
	if o.state == chattypes.Open {
		o.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	o.waiters[w] = struct{}{}
	o.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		o.mu.Lock()
		delete(o.waiters, w)
		o.mu.Unlock()
		return chaterrors.ErrCancelled
	}
}

// Subscribe returns a channel delivering every future Set call and an
// unsubscribe function. The channel buffers up to 4 states; once the
// buffer is full, further states are dropped rather than blocking Set.
func (o *Observer) Subscribe() (<-chan chattypes.VisibleState, func()) {
	c := make(chan chattypes.VisibleState, 4)
	o.mu.Lock()
	o.subs[c] = struct{}{}
	o.mu.Unlock()

	unsubscribe := func() {
		o.mu.Lock()
		delete(o.subs, c)
		o.mu.Unlock()
	}
	return c, unsubscribe
}
