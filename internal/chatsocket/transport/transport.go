// Package transport defines the thin interface over a WebSocket that
// spec.md §4.A calls the transport adapter: connect, send a binary frame,
// receive an ordered event stream, ping, close. The concrete client
// implementation lives in the wsnet subpackage; wstest and wslegacy are
// fake servers speaking the same framing, not Transport implementations.
package transport

import (
	"context"
	"fmt"

	"github.com/chat-core/wschat/internal/chatsocket/chattypes"
)

// EventKind discriminates the variants of Event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventFrame
)

// Event is one item of the ordered event stream a Transport delivers.
// Exactly one of Err (Disconnected) or Frame (Frame) is meaningful for a
// given Kind.
type Event struct {
	Kind  EventKind
	Err   error
	Frame []byte
}

// Transport is the capability set spec.md §4.A requires. Implementations
// must deliver Events() in arrival order on a single logical stream;
// Close releases all resources and causes further sends to fail fast.
type Transport interface {
	// Connect dials the server. It does not return until the connection
	// either succeeds or fails; on success an EventConnected is also
	// published on Events() for symmetry with later Disconnected events.
	Connect(ctx context.Context) error

	// SendBinary writes one binary frame.
	SendBinary(ctx context.Context, data []byte) error

	// WritePing sends a transport-level ping (heartbeat, spec.md §4.C).
	WritePing(ctx context.Context) error

	// Events returns the ordered event stream. Close does not close it.
	Events() <-chan Event

	// Close releases all resources. Further sends fail fast.
	Close() error
}

// HandshakeError is returned by Connect when the WebSocket upgrade
// request itself is rejected with an HTTP status, as opposed to
// succeeding and later disconnecting. StatusCode 403 on an Identified
// connection attempt means the server has rejected the account's
// credentials (spec.md §4.D, "destroyed ... on HTTP 403").
type HandshakeError struct {
	StatusCode int
	err        error
}

// NewHandshakeError wraps cause with the HTTP status the handshake
// failed with.
func NewHandshakeError(statusCode int, cause error) *HandshakeError {
	return &HandshakeError{StatusCode: statusCode, err: cause}
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake rejected with status %d: %s", e.StatusCode, e.err)
}

func (e *HandshakeError) Unwrap() error { return e.err }

// Factory builds a Transport for one connection attempt of the given
// kind. It can fail (evaluator rule 7, "cannotBuild"), e.g. because the
// kind's login/password are not yet available.
type Factory func(kind chattypes.ConnectionKind) (Transport, error)
