// Package connection implements one ConnectionInstance (spec.md §4.C): the
// object that owns exactly one transport.Transport for its whole lifetime,
// decodes/encodes pkg/wire frames, dispatches responses into a
// registry.Registry, and surfaces server-pushed requests and lifecycle
// events to its owner (the controller) on a channel.
//
// The read/send-loop split and the active keep-alive ticker are grounded on
// sonirico/libws's WsConnection (net_websocket.go) and
// activeKeepAliveConnectionHandler (conn_keep_alive_active.go); frame
// encode/decode is grounded on the teacher's internal/client/websocket.go
// and internal/server/connection.go, generalized from protocol.Message to
// the request/response pkg/wire.Message shape.
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chat-core/wschat/internal/chatsocket/chaterrors"
	"github.com/chat-core/wschat/internal/chatsocket/chattypes"
	"github.com/chat-core/wschat/internal/chatsocket/logging"
	"github.com/chat-core/wschat/internal/chatsocket/registry"
	"github.com/chat-core/wschat/internal/chatsocket/transport"
	"github.com/chat-core/wschat/internal/chatsocket/tuning"
	"github.com/chat-core/wschat/pkg/wire"
)

// EventKind discriminates the variants of Event the Instance reports to
// its owner.
type EventKind int

const (
	// EventOpen fires once the transport reports EventConnected.
	EventOpen EventKind = iota
	// EventClosed fires once, the first time the instance stops for any
	// reason: transport disconnect, the transport's event stream closing,
	// or explicit Close. An undecodable frame is dropped and does not stop
	// the instance.
	EventClosed
	// EventServerRequest fires for every decoded WebSocketRequestMessage,
	// i.e. a server push such as PUT /api/v1/message.
	EventServerRequest
	// EventKeepAlive fires whenever a frame of a kind that should extend
	// the background keep-alive window arrives: ReceiveMessage for a
	// PUT /api/v1/message request, ReceiveResponse for a response to a
	// pending request. DidReceivePush is never reported here; the
	// controller records it itself in NotifyPush.
	EventKeepAlive
)

// Event is one item of the Instance's event stream.
type Event struct {
	Kind    EventKind
	Err     error
	Request *wire.RequestMessage
	Reason  chattypes.BackgroundKeepAliveReason
}

// Instance owns one transport for its whole life: a fresh reconnect always
// allocates a fresh Instance (spec.md §3's "a new instance always restarts
// at Connecting").
type Instance struct {
	ID   uuid.UUID
	Kind chattypes.ConnectionKind

	transport transport.Transport
	registry  *registry.Registry
	logger    logging.Logger

	shouldStayOpen func() bool

	events chan Event

	closeOnce sync.Once
	closed    chan struct{}

	mu                     sync.Mutex
	hasConnected           bool
	hasEmptiedInitialQueue bool
}

// New wraps t, an already-constructed transport, as a fresh ConnectionInstance.
// onRequestTimeout is forwarded to the instance's own registry so the
// controller learns when an in-flight request's timeout cycles the socket
// (spec.md §4.B). shouldStayOpen backs the heartbeat's controller query
// (spec.md §4.C): each tick asks it whether the socket should still be
// open; on true a ping is sent, on false the instance skips the ping and
// relies on the controller (which triggers its own reconciliation inside
// shouldStayOpen) to tear the instance down.
func New(kind chattypes.ConnectionKind, t transport.Transport, logger logging.Logger, onRequestTimeout func(id uint64), shouldStayOpen func() bool) *Instance {
	if logger == nil {
		logger = logging.Noop()
	}
	if shouldStayOpen == nil {
		shouldStayOpen = func() bool { return true }
	}
	id := uuid.New()
	return &Instance{
		ID:             id,
		Kind:           kind,
		transport:      t,
		registry:       registry.New(onRequestTimeout),
		logger:         logger.WithField("instance", id.String()).WithField("kind", kind.String()),
		shouldStayOpen: shouldStayOpen,
		events:         make(chan Event, 32),
		closed:         make(chan struct{}),
	}
}

// Events returns the instance's event stream. It is never closed; after
// EventClosed fires no further events are published.
func (inst *Instance) Events() <-chan Event { return inst.events }

// Registry exposes the per-instance pending-request map, for the
// dispatcher and controller to insert and look up requests against.
func (inst *Instance) Registry() *registry.Registry { return inst.registry }

// HasConnected reports whether the transport has ever reached
// EventConnected on this instance.
func (inst *Instance) HasConnected() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.hasConnected
}

// HasEmptiedInitialQueue reports whether GET /api/v1/queue/empty has been
// observed from the server on this instance. The desiredstate evaluator
// does not read it.
func (inst *Instance) HasEmptiedInitialQueue() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.hasEmptiedInitialQueue
}

// MarkInitialQueueEmptied records that the server signaled its initial
// queue is empty.
func (inst *Instance) MarkInitialQueueEmptied() {
	inst.mu.Lock()
	inst.hasEmptiedInitialQueue = true
	inst.mu.Unlock()
}

// Start dials the transport and begins the read loop on a new goroutine.
// It does not block past the dial itself.
func (inst *Instance) Start(ctx context.Context) error {
	if err := inst.transport.Connect(ctx); err != nil {
		return errors.Wrap(err, "connection: connect")
	}
	go inst.pump()
	go inst.heartbeat()
	return nil
}

// SendRequest encodes req as a WebSocketRequestMessage and writes it.
func (inst *Instance) SendRequest(ctx context.Context, req *wire.RequestMessage) error {
	data, err := (&wire.Message{Type: wire.MessageTypeRequest, Request: req}).Marshal()
	if err != nil {
		return errors.Wrap(err, "connection: marshal request")
	}
	return inst.transport.SendBinary(ctx, data)
}

// SendResponse encodes resp as a WebSocketResponseMessage and writes it,
// used to ack a server-pushed request (spec.md §4.C).
func (inst *Instance) SendResponse(ctx context.Context, resp *wire.ResponseMessage) error {
	data, err := (&wire.Message{Type: wire.MessageTypeResponse, Response: resp}).Marshal()
	if err != nil {
		return errors.Wrap(err, "connection: marshal response")
	}
	return inst.transport.SendBinary(ctx, data)
}

// Close tears down the transport and drains any still-pending requests
// with a network failure (spec.md §3 invariant 5). Safe to call more than
// once and from any goroutine.
func (inst *Instance) Close() {
	inst.closeWithErr(errors.New("connection: closed"))
}

// closeWithErr is Close's implementation, parameterized on the cause so
// the read pump can report why the instance stopped (a real transport
// disconnect vs. an explicit Close call).
func (inst *Instance) closeWithErr(err error) {
	inst.closeOnce.Do(func() {
		close(inst.closed)
		_ = inst.transport.Close()
		for _, p := range inst.registry.DrainAll() {
			p.CompleteNetworkFailure(chaterrors.NewNetworkFailure(p.Info.URL, err))
		}
		inst.publishClosed(Event{Kind: EventClosed, Err: err})
	})
}

func (inst *Instance) heartbeat() {
	ticker := time.NewTicker(tuning.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-inst.closed:
			return
		case <-ticker.C:
			if !inst.shouldStayOpen() {
				inst.logger.Debug("heartbeat found desired state closed, skipping ping")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), tuning.Heartbeat)
			err := inst.transport.WritePing(ctx)
			cancel()
			if err != nil {
				inst.logger.Warn("heartbeat ping failed", "error", err)
			}
		}
	}
}

func (inst *Instance) pump() {
	for {
		select {
		case <-inst.closed:
			return
		case ev, ok := <-inst.transport.Events():
			if !ok {
				inst.closeWithErr(errors.New("connection: transport event stream closed"))
				return
			}
			if ev.Kind == transport.EventDisconnected {
				cause := ev.Err
				if cause == nil {
					cause = errors.New("connection: transport disconnected")
				}
				inst.closeWithErr(cause)
				return
			}
			inst.handleTransportEvent(ev)
		}
	}
}

func (inst *Instance) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		inst.mu.Lock()
		inst.hasConnected = true
		inst.mu.Unlock()
		inst.publish(Event{Kind: EventOpen})
	case transport.EventFrame:
		inst.handleFrame(ev.Frame)
	}
}

func (inst *Instance) handleFrame(frame []byte) {
	var msg wire.Message
	if err := msg.Unmarshal(frame); err != nil {
		inst.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	switch msg.Type {
	case wire.MessageTypeResponse:
		inst.handleResponse(msg.Response)
	case wire.MessageTypeRequest:
		inst.publish(Event{Kind: EventServerRequest, Request: msg.Request})
		if msg.Request != nil && msg.Request.Verb == "PUT" && msg.Request.Path == "/api/v1/message" {
			inst.publish(Event{Kind: EventKeepAlive, Reason: chattypes.ReceiveMessage})
		}
	}
}

func (inst *Instance) handleResponse(resp *wire.ResponseMessage) {
	if resp == nil {
		return
	}
	p, ok := inst.registry.Pop(resp.RequestID)
	if !ok {
		inst.logger.Debug("response for unknown request id", "requestID", resp.RequestID)
		return
	}
	headers := headerSliceToMap(resp.Headers)
	p.CompleteSuccess(int(resp.Status), headers, resp.Body)
	inst.publish(Event{Kind: EventKeepAlive, Reason: chattypes.ReceiveResponse})
}

func (inst *Instance) publish(ev Event) {
	select {
	case inst.events <- ev:
	default:
		inst.logger.Warn("dropped event, buffer full", "kind", ev.Kind)
	}
}

// publishClosed delivers EventClosed with a guaranteed, blocking send.
// Every other event kind tolerates the best-effort drop above, but losing
// EventClosed would leave the controller believing a dropped instance is
// still current (spec.md §3 invariants 2 and 5), so it always waits for
// room instead of dropping.
func (inst *Instance) publishClosed(ev Event) {
	inst.events <- ev
}

// headerSliceToMap parses the wire format's repeated "Name:Value" strings
// (spec.md §6) into a map.
func headerSliceToMap(headers []string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		name, value, ok := splitHeader(h)
		if !ok {
			continue
		}
		out[name] = value
	}
	return out
}

func splitHeader(h string) (name, value string, ok bool) {
	for i := 0; i < len(h); i++ {
		if h[i] == ':' {
			return h[:i], h[i+1:], true
		}
	}
	return "", "", false
}
