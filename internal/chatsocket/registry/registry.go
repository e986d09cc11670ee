// Package registry implements the per-connection map of outstanding
// request-id to pending completion spec.md §4.B describes, including the
// 10-second timeout scheduling and the compare-and-swap single-completion
// guarantee (spec.md §3 invariant 4).
package registry

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chat-core/wschat/internal/chatsocket/chaterrors"
	"github.com/chat-core/wschat/internal/chatsocket/chattypes"
	"github.com/chat-core/wschat/internal/chatsocket/tuning"
)

var errTimeout = errors.New("registry: request timed out")

// Outcome is delivered exactly once per PendingRequest, to the dispatcher
// waiting on it.
type Outcome struct {
	Response *chattypes.Response
	Err      error
}

// PendingRequest tracks one outstanding request-id and guarantees that
// only one of its completion methods ever takes effect (spec.md §3
// invariant 4, §4.B's compare-and-swap requirement).
type PendingRequest struct {
	ID        uint64
	Info      chattypes.RequestInfo
	StartedAt time.Time

	done  atomic.Bool
	sink  chan Outcome
	timer *time.Timer
}

func (p *PendingRequest) complete(out Outcome) bool {
	if !p.done.CompareAndSwap(false, true) {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.sink <- out
	close(p.sink)
	return true
}

// CompleteSuccess classifies a 2xx status as success, anything else as an
// HttpError, per spec.md §4.B.
func (p *PendingRequest) CompleteSuccess(status int, headers map[string]string, body []byte) bool {
	if status >= 200 && status <= 299 {
		return p.complete(Outcome{Response: &chattypes.Response{Status: status, Headers: headers, Body: body}})
	}
	return p.complete(Outcome{Err: chaterrors.NewHttpError(status, headers, body, p.Info.URL)})
}

// CompleteNetworkFailure is a terminal error completion for socket-level
// failures (closed mid-flight, timeout).
func (p *PendingRequest) CompleteNetworkFailure(err error) bool {
	return p.complete(Outcome{Err: err})
}

// CompleteInvalid is a terminal error completion for malformed requests
// discovered at submit time.
func (p *PendingRequest) CompleteInvalid(err error) bool {
	return p.complete(Outcome{Err: err})
}

// Wait blocks until the request completes.
func (p *PendingRequest) Wait() Outcome {
	return <-p.sink
}

// Registry is the per-connection map of outstanding requests.
type Registry struct {
	mu      sync.Mutex
	pending map[uint64]*PendingRequest
	onTimer func(id uint64)
}

// New returns an empty registry. onTimeout is called (off the registry's
// own lock) whenever a request times out, so the controller can cycle
// the socket per spec.md §4.B.
func New(onTimeout func(id uint64)) *Registry {
	return &Registry{pending: make(map[uint64]*PendingRequest), onTimer: onTimeout}
}

// Insert creates a PendingRequest with a fresh CSPRNG-derived request id,
// registers the standard request timeout (spec.md §4.B), and returns it.
func (r *Registry) Insert(info chattypes.RequestInfo) *PendingRequest {
	return r.InsertWithTimeout(info, tuning.RequestTimeout)
}

// InsertWithTimeout is Insert with an explicit timeout, so tests can
// exercise the timeout path without waiting out the real default.
func (r *Registry) InsertWithTimeout(info chattypes.RequestInfo, timeout time.Duration) *PendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id uint64
	for {
		id = randomUint64()
		if _, exists := r.pending[id]; !exists {
			break
		}
	}

	p := &PendingRequest{
		ID:        id,
		Info:      info,
		StartedAt: time.Now(),
		sink:      make(chan Outcome, 1),
	}
	p.timer = time.AfterFunc(timeout, func() { r.timeout(id) })
	r.pending[id] = p
	return p
}

// Pop removes and returns the pending request for id, if any. A lookup
// miss (spec.md §3 invariant 3: astronomically unlikely id collision, or
// simply an unknown/duplicate response) returns ok=false and must not
// mutate any other state.
func (r *Registry) Pop(id uint64) (*PendingRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return p, ok
}

// DrainAll removes and returns every pending request, for use when the
// owning connection instance is dropped (spec.md §3 invariant 5).
func (r *Registry) DrainAll() []*PendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*PendingRequest, 0, len(r.pending))
	for id, p := range r.pending {
		out = append(out, p)
		delete(r.pending, id)
	}
	return out
}

// Len reports the number of outstanding requests (desiredstate rule 5,
// "hasPendingRequests").
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) timeout(id uint64) {
	p, ok := r.Pop(id)
	if !ok {
		return
	}
	p.CompleteNetworkFailure(chaterrors.NewNetworkFailure(p.Info.URL, errTimeout))
	if r.onTimer != nil {
		r.onTimer(id)
	}
}

func randomUint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand.Read on a supported platform does not fail; if it
		// somehow does, fall back to a time-derived value rather than
		// panicking mid-request.
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(b[:])
}
