// Package chattypes holds the data model shared by every chat-socket
// component (spec.md §3): connection kind and visible/desired state
// enums, unsubmitted-request tokens, and background keep-alive records.
// It has no dependency on any other chatsocket package so that transport,
// registry, connection, desiredstate, observer, controller and dispatcher
// can all import it without creating cycles.
package chattypes

import (
	"sync"
	"time"
)

// ConnectionKind distinguishes the two parallel sockets a client keeps
// open: one authenticated with account credentials, one anonymous.
type ConnectionKind int

const (
	Identified ConnectionKind = iota
	Unidentified
)

func (k ConnectionKind) String() string {
	switch k {
	case Identified:
		return "identified"
	case Unidentified:
		return "unidentified"
	default:
		return "unknown"
	}
}

// VisibleState is the externally observable connection state. It is
// monotonic only within the lifetime of one ConnectionInstance: a new
// instance always restarts at Connecting.
type VisibleState int

const (
	Closed VisibleState = iota
	Connecting
	Open
)

func (s VisibleState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// DesiredState is the evaluator's verdict: the socket should be open or
// closed, with a diagnostic reason string. Equality is by both fields.
type DesiredState struct {
	Open   bool
	Reason string
}

// OpenState builds a DesiredState with Open=true.
func OpenState(reason string) DesiredState { return DesiredState{Open: true, Reason: reason} }

// ClosedState builds a DesiredState with Open=false.
func ClosedState(reason string) DesiredState { return DesiredState{Open: false, Reason: reason} }

// Equal compares tag and reason, matching spec.md §3's equality rule.
func (d DesiredState) Equal(other DesiredState) bool {
	return d.Open == other.Open && d.Reason == other.Reason
}

func (d DesiredState) String() string {
	if d.Open {
		return "open(" + d.Reason + ")"
	}
	return "closed(" + d.Reason + ")"
}

// RequestToken is an opaque, process-unique value representing "a request
// the caller intends to submit soon." Its mere existence forces the
// socket open (desiredstate rule 6).
type RequestToken uint64

// TokenIssuer mints RequestTokens and tracks which ones are still
// unsubmitted. It is the "short critical section independent of the
// controller queue" spec.md §5 calls for.
type TokenIssuer struct {
	mu      sync.Mutex
	next    uint64
	pending map[RequestToken]struct{}
}

// NewTokenIssuer returns an empty issuer.
func NewTokenIssuer() *TokenIssuer {
	return &TokenIssuer{pending: make(map[RequestToken]struct{})}
}

// MakeUnsubmittedRequestToken mints a fresh token and marks it pending.
func (t *TokenIssuer) MakeUnsubmittedRequestToken() RequestToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	tok := RequestToken(t.next)
	t.pending[tok] = struct{}{}
	return tok
}

// Remove clears a token, whether because it was submitted or abandoned.
// Removing an unknown token is a no-op, matching the dispatcher's
// "unconditionally remove" contract (spec.md §4.E).
func (t *TokenIssuer) Remove(tok RequestToken) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, tok)
}

// HasPending reports whether any token is still unsubmitted
// (desiredstate rule 6).
func (t *TokenIssuer) HasPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending) > 0
}

// BackgroundKeepAliveReason is why the socket was granted extra
// background runtime, each with a fixed extension window.
type BackgroundKeepAliveReason int

const (
	DidReceivePush BackgroundKeepAliveReason = iota
	ReceiveMessage
	ReceiveResponse
)

// Window returns the fixed extension associated with the reason.
func (r BackgroundKeepAliveReason) Window() time.Duration {
	switch r {
	case DidReceivePush:
		return 20 * time.Second
	case ReceiveMessage:
		return 15 * time.Second
	case ReceiveResponse:
		return 5 * time.Second
	default:
		return 0
	}
}

func (r BackgroundKeepAliveReason) String() string {
	switch r {
	case DidReceivePush:
		return "didReceivePush"
	case ReceiveMessage:
		return "receiveMessage"
	case ReceiveResponse:
		return "receiveResponse"
	default:
		return "unknown"
	}
}

// BackgroundKeepAlive is the single active grant of background runtime,
// if any. At most one is active; it is overwritten only by a reason whose
// Until strictly extends the current one.
type BackgroundKeepAlive struct {
	Reason BackgroundKeepAliveReason
	Until  time.Time
}

// BackgroundKeepAliveState guards the single current grant with its own
// short critical section, so it is safe to use from any goroutine. The
// controller reads and writes its copy only from its queue goroutine,
// including the reconciles the 1Hz background ticker posts there.
type BackgroundKeepAliveState struct {
	mu      sync.Mutex
	current *BackgroundKeepAlive
}

// Extend records a new grant if it strictly extends the current one (or
// there is no current one). Returns whether the state changed.
func (s *BackgroundKeepAliveState) Extend(reason BackgroundKeepAliveReason, now time.Time) bool {
	until := now.Add(reason.Window())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && !until.After(s.current.Until) {
		return false
	}
	s.current = &BackgroundKeepAlive{Reason: reason, Until: until}
	return true
}

// Active reports whether a grant is currently in force.
func (s *BackgroundKeepAliveState) Active(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && now.Before(s.current.Until)
}

// Clear drops any current grant, e.g. once the connection closes.
func (s *BackgroundKeepAliveState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// RequestInfo is the minimal stand-in for the higher-level TSRequest
// object spec.md §1 names as out of scope: just enough for the
// dispatcher and connection instance to build a wire frame.
type RequestInfo struct {
	Method  string
	URL     string
	Headers map[string]string
	// Body is a preformed payload. If nil and JSONParams is non-nil, the
	// controller's SubmitRequest JSON-encodes JSONParams instead.
	Body       []byte
	JSONParams any
	// RequiresIdentified records whether this request must travel over
	// the Identified socket; the dispatcher asserts this matches the
	// ConnectionKind it was submitted to (spec.md §4.F).
	RequiresIdentified bool
}

// Response is the minimal stand-in for the HTTP-response shaping spec.md
// §1 names as out of scope.
type Response struct {
	Status  int
	Message string
	Headers map[string]string
	Body    []byte
}
