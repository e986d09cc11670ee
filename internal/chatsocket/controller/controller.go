// Package controller implements the lifecycle controller (spec.md §4.E):
// the single-threaded cooperative work queue that owns one ConnectionKind's
// current instance, reconnect timer, connect watchdog, and background
// keep-alive ticker. Every mutation of that state happens on the queue
// goroutine; external inputs (pushes, app-state changes, server frames,
// submitted requests) all arrive as closures posted to it.
//
// The actor-loop shape is grounded on the teacher's internal/server/server.go
// ("one goroutine owns this connection's mutable state") generalized from
// one goroutine per TCP client to one goroutine per ConnectionKind.
package controller

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chat-core/wschat/internal/chatsocket/chaterrors"
	"github.com/chat-core/wschat/internal/chatsocket/chattypes"
	"github.com/chat-core/wschat/internal/chatsocket/collab"
	"github.com/chat-core/wschat/internal/chatsocket/connection"
	"github.com/chat-core/wschat/internal/chatsocket/desiredstate"
	"github.com/chat-core/wschat/internal/chatsocket/logging"
	"github.com/chat-core/wschat/internal/chatsocket/observer"
	"github.com/chat-core/wschat/internal/chatsocket/registry"
	"github.com/chat-core/wschat/internal/chatsocket/transport"
	"github.com/chat-core/wschat/internal/chatsocket/tuning"
	"github.com/chat-core/wschat/pkg/wire"
)

// Deps bundles a Controller's external collaborators (spec.md §1).
type Deps struct {
	Factory           transport.Factory
	Registration      collab.RegistrationManager
	AppState          collab.AppStateProvider
	OutageDetector    collab.OutageDetector
	EnvelopeProcessor collab.EnvelopeProcessor
	Logger            logging.Logger
}

type envelopeJob struct {
	instanceID      uuid.UUID
	requestID       uint64
	source          collab.EnvelopeSource
	serverTimestamp uint64
	envelope        []byte
}

// Controller owns one ConnectionKind's lifecycle.
type Controller struct {
	kind chattypes.ConnectionKind
	deps Deps

	logger logging.Logger

	queue    chan func()
	done     chan struct{}
	stopOnce sync.Once

	envelopeQueue chan envelopeJob

	// The remaining fields are touched exclusively by closures run on
	// queue, per spec.md §4.E; no other goroutine reads or writes them.
	current         *connection.Instance
	lastDesired     chattypes.DesiredState
	reconnectTimer  *time.Timer
	connectWatchdog *time.Timer
	backgroundTick  *time.Ticker
	keepAlive       chattypes.BackgroundKeepAliveState
	tokens          *chattypes.TokenIssuer
	observer        *observer.Observer
}

// New constructs a Controller for kind. Call Start to begin running it.
func New(kind chattypes.ConnectionKind, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Noop()
	}
	return &Controller{
		kind:          kind,
		deps:          deps,
		logger:        logger.WithField("kind", kind.String()),
		queue:         make(chan func(), 256),
		done:          make(chan struct{}),
		envelopeQueue: make(chan envelopeJob, 64),
		tokens:        chattypes.NewTokenIssuer(),
		observer:      observer.New(),
	}
}

// Observer exposes the kind's visible-state observer to the dispatcher and
// facade.
func (c *Controller) Observer() *observer.Observer { return c.observer }

// Tokens exposes the kind's unsubmitted-request-token issuer to the
// dispatcher (spec.md §4.F).
func (c *Controller) Tokens() *chattypes.TokenIssuer { return c.tokens }

// Start runs the queue goroutine and the envelope-processing goroutine,
// then schedules the first reconcile.
func (c *Controller) Start() {
	go c.run()
	go c.processEnvelopes()
	c.enqueue(c.applyDesiredState)
}

// Stop tears down the current instance, stops every timer, and shuts the
// queue goroutine down. Safe to call more than once.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.enqueue(func() {
			c.teardownCurrent()
			stopTimer(c.reconnectTimer)
			stopTimer(c.connectWatchdog)
			if c.backgroundTick != nil {
				c.backgroundTick.Stop()
			}
			close(c.done)
		})
	})
}

// Reconcile posts an apply_desired_state to the queue. External callers
// use this after changing shared AppStateProvider/RegistrationManager
// state, per spec.md §4.E's "external inputs post work items."
func (c *Controller) Reconcile() {
	c.enqueue(c.applyDesiredState)
}

// NotifyPush records a push-notification wakeup (spec.md §8 scenario 3):
// extend the background keep-alive window and reconcile.
func (c *Controller) NotifyPush() {
	c.enqueue(func() {
		c.keepAlive.Extend(chattypes.DidReceivePush, time.Now())
		c.applyDesiredState()
	})
}

func (c *Controller) run() {
	for {
		select {
		case fn := <-c.queue:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *Controller) enqueue(fn func()) {
	select {
	case c.queue <- fn:
	case <-c.done:
	}
}

// SubmitRequest inserts info into the current instance's registry and
// sends it over the wire, executed on the queue so it observes a
// consistent view of the current instance. It does not wait for the
// response; callers call PendingRequest.Wait() themselves, outside the
// queue, so a slow response never blocks the controller (spec.md §4.F).
func (c *Controller) SubmitRequest(info chattypes.RequestInfo) (*registry.PendingRequest, error) {
	type result struct {
		p   *registry.PendingRequest
		err error
	}
	resCh := make(chan result, 1)

	c.enqueue(func() {
		if c.current == nil {
			resCh <- result{err: chaterrors.NewNetworkFailure(info.URL, errors.New("no open socket"))}
			return
		}
		if info.Method == "" {
			resCh <- result{err: chaterrors.NewInvalidRequest(info.URL, errors.New("missing HTTP method"))}
			return
		}

		isParamBody := info.Body == nil && info.JSONParams != nil
		body := info.Body
		if isParamBody {
			encoded, err := json.Marshal(info.JSONParams)
			if err != nil {
				resCh <- result{err: chaterrors.NewInvalidRequest(info.URL, err)}
				return
			}
			body = encoded
		}

		reg := c.current.Registry()
		p := reg.Insert(info)
		err := c.current.SendRequest(context.Background(), &wire.RequestMessage{
			Verb:      info.Method,
			Path:      leadingSlashPath(info.URL),
			Body:      body,
			Headers:   headerMapToSlice(buildRequestHeaders(info.Headers, isParamBody)),
			RequestID: p.ID,
		})
		if err != nil {
			reg.Pop(p.ID)
			resCh <- result{err: chaterrors.NewNetworkFailure(info.URL, err)}
			return
		}
		resCh <- result{p: p}
	})

	select {
	case r := <-resCh:
		return r.p, r.err
	case <-c.done:
		return nil, chaterrors.NewNetworkFailure(info.URL, errors.New("controller stopped"))
	}
}

// --- queue-only logic below; never call these from outside a closure run
// on c.queue. ---

func (c *Controller) buildInputs() desiredstate.Inputs {
	return desiredstate.Inputs{
		AppReady:                c.deps.AppState.AppReady(),
		Registered:              c.deps.Registration.IsRegistered(),
		AppExpired:              c.deps.AppState.AppExpired(),
		CanUseSockets:           c.deps.AppState.CanUseSockets(),
		HasPendingReqs:          c.current != nil && c.current.Registry().Len() > 0,
		HasUnsubmittedReqTokens: c.tokens.HasPending(),
		CanBuildTransport:       true, // always true; a factory failure is handled in startNewInstance instead
		AppActive:               c.deps.AppState.AppActive(),
		HasBackgroundKeepAlive:  c.keepAlive.Active(time.Now()),
	}
}

// applyDesiredState is the reconcile procedure from spec.md §4.E.
func (c *Controller) applyDesiredState() {
	if !c.deps.AppState.AppReady() {
		return // defer until ready; some other input re-triggers reconcile later
	}

	in := c.buildInputs()
	desired := desiredstate.Evaluate(in)
	c.lastDesired = desired

	if desired.Open {
		c.reconcileOpen(desired)
	} else {
		c.reconcileClosed()
	}
}

func (c *Controller) reconcileOpen(desired chattypes.DesiredState) {
	if c.current == nil {
		ok, deregistered := c.startNewInstance()
		if deregistered {
			c.applyDesiredState()
			return
		}
		if !ok {
			stopTimer(c.reconnectTimer)
			c.reconnectTimer = time.AfterFunc(tuning.Reconnect, func() { c.enqueue(c.applyDesiredState) })
			return
		}
	}

	if c.observer.State() != chattypes.Open {
		stopTimer(c.reconnectTimer)
		c.reconnectTimer = time.AfterFunc(tuning.Reconnect, func() { c.enqueue(c.applyDesiredState) })
	}

	if !c.deps.AppState.AppActive() {
		c.ensureBackgroundTicker()
	}

	c.logger.Debug("reconciled open", "reason", desired.Reason)
}

func (c *Controller) reconcileClosed() {
	stopTimer(c.reconnectTimer)
	c.teardownCurrent()
	if c.backgroundTick != nil {
		c.backgroundTick.Stop()
		c.backgroundTick = nil
	}
}

// shouldStayOpen answers the connection instance's heartbeat query
// (spec.md §4.C): "asks the controller whether the socket should still be
// open". It round-trips to the queue goroutine to read the last desired
// state computed by applyDesiredState; when the answer is false it also
// triggers reconciliation itself, on the queue, before replying.
func (c *Controller) shouldStayOpen() bool {
	resCh := make(chan bool, 1)
	c.enqueue(func() {
		open := c.lastDesired.Open
		if !open {
			c.applyDesiredState()
		}
		resCh <- open
	})
	select {
	case open := <-resCh:
		return open
	case <-c.done:
		return false
	}
}

// startNewInstance builds a transport and a fresh connection.Instance,
// reports the outcome to the outage detector, and arms the 30s connect
// watchdog. It returns ok=false if the factory itself failed (evaluator
// rule 7, "cannotBuild") or the connect attempt failed. It returns
// deregistered=true when an identified connect attempt was rejected with
// HTTP 403 (spec.md §4.D): the caller must re-evaluate desired state
// rather than arm a reconnect timer, since the evaluator will now return
// Closed("!registered").
func (c *Controller) startNewInstance() (ok bool, deregistered bool) {
	t, err := c.deps.Factory(c.kind)
	if err != nil {
		c.logger.Warn("transport factory failed", "error", err)
		c.deps.OutageDetector.ReportConnectFailure(err)
		c.observer.Set(chattypes.Closed)
		return false, false
	}

	inst := connection.New(c.kind, t, c.logger, func(id uint64) { c.enqueue(c.cycle) }, c.shouldStayOpen)
	c.current = inst
	c.observer.Set(chattypes.Connecting)

	go c.forwardInstanceEvents(inst)

	if err := inst.Start(context.Background()); err != nil {
		c.logger.Warn("connect failed", "error", err)
		c.deps.OutageDetector.ReportConnectFailure(err)
		c.current = nil
		c.observer.Set(chattypes.Closed)

		var handshakeErr *transport.HandshakeError
		if c.kind == chattypes.Identified && stderrors.As(err, &handshakeErr) && handshakeErr.StatusCode == http.StatusForbidden {
			c.logger.Warn("identified socket rejected with 403, deregistering")
			c.deps.Registration.SetIsDeregistered(true)
			return false, true
		}
		return false, false
	}

	instanceID := inst.ID
	stopTimer(c.connectWatchdog)
	c.connectWatchdog = time.AfterFunc(tuning.ConnectWatchdog, func() {
		c.enqueue(func() {
			if c.current != nil && c.current.ID == instanceID && !c.current.HasConnected() {
				c.logger.Warn("connect watchdog fired", "instance", instanceID.String())
				c.cycle()
			}
		})
	})
	return true, false
}

func (c *Controller) ensureBackgroundTicker() {
	if c.backgroundTick != nil {
		return
	}
	c.backgroundTick = time.NewTicker(tuning.BackgroundReconciliation)
	ticker := c.backgroundTick
	go func() {
		for range ticker.C {
			c.enqueue(c.applyDesiredState)
		}
	}()
}

// cycle drops the current instance (draining its registry) and
// immediately reconciles, per spec.md §4.E's "Cycle" definition.
func (c *Controller) cycle() {
	c.teardownCurrent()
	c.applyDesiredState()
}

func (c *Controller) teardownCurrent() {
	stopTimer(c.connectWatchdog)
	if c.current != nil {
		c.current.Close()
		c.current = nil
	}
	c.keepAlive.Clear()
	c.observer.Set(chattypes.Closed)
}

func (c *Controller) forwardInstanceEvents(inst *connection.Instance) {
	for ev := range inst.Events() {
		ev := ev
		c.enqueue(func() { c.handleInstanceEvent(inst.ID, ev) })
		if ev.Kind == connection.EventClosed {
			return
		}
	}
}

func (c *Controller) handleInstanceEvent(instanceID uuid.UUID, ev connection.Event) {
	if c.current == nil || c.current.ID != instanceID {
		return // stale event from an instance we've already dropped
	}

	switch ev.Kind {
	case connection.EventOpen:
		stopTimer(c.reconnectTimer)
		stopTimer(c.connectWatchdog)
		c.deps.OutageDetector.ReportConnectSuccess()
		c.observer.Set(chattypes.Open)
		c.applyDesiredState()
	case connection.EventClosed:
		c.current = nil
		c.observer.Set(chattypes.Closed)
		c.applyDesiredState()
	case connection.EventKeepAlive:
		c.keepAlive.Extend(ev.Reason, time.Now())
		if ev.Reason == chattypes.ReceiveResponse {
			// spec.md §4.E's "Response handling": extend keep-alive, pop
			// registry entry, complete, reconcile. The pop/complete already
			// happened in connection.Instance.handleResponse before this
			// event was published; only the reconcile remains.
			c.applyDesiredState()
		}
	case connection.EventServerRequest:
		c.handleServerRequest(ev.Request)
	}
}

func (c *Controller) handleServerRequest(req *wire.RequestMessage) {
	if req == nil || c.current == nil {
		return
	}

	switch {
	case req.Verb == "PUT" && req.Path == "/api/v1/message":
		job := envelopeJob{
			instanceID:      c.current.ID,
			requestID:       req.RequestID,
			source:          envelopeSourceFor(c.kind),
			serverTimestamp: parseSignalTimestamp(req.Headers),
			envelope:        req.Body,
		}
		select {
		case c.envelopeQueue <- job:
		default:
			c.logger.Warn("envelope queue full, dropping push", "requestID", req.RequestID)
		}
	case req.Verb == "GET" && req.Path == "/api/v1/queue/empty":
		c.current.MarkInitialQueueEmptied()
		c.sendAck(c.current.ID, req.RequestID, 200, "OK")
		c.applyDesiredState()
	default:
		c.logger.Debug("unhandled server-pushed request", "verb", req.Verb, "path", req.Path)
		c.sendAck(c.current.ID, req.RequestID, 200, "OK")
	}
}

// processEnvelopes is the message-processing executor: one goroutine per
// Controller feeding collab.EnvelopeProcessor, independent of the
// controller queue, so a slow processor never blocks reconciliation. It is
// not shared between ConnectionKinds: each Controller runs its own.
func (c *Controller) processEnvelopes() {
	for job := range c.envelopeQueue {
		result := c.deps.EnvelopeProcessor.Process(context.Background(), job.source, job.serverTimestamp, job.envelope)
		job := job
		c.enqueue(func() {
			if result.Err != nil || !result.ShouldAck {
				return
			}
			c.sendAck(job.instanceID, job.requestID, 200, "OK")
		})
	}
}

func (c *Controller) sendAck(instanceID uuid.UUID, requestID uint64, status uint32, message string) {
	if c.current == nil || c.current.ID != instanceID {
		return
	}
	if err := c.current.SendResponse(context.Background(), &wire.ResponseMessage{
		RequestID: requestID,
		Status:    status,
		Message:   message,
	}); err != nil {
		c.logger.Warn("failed to send ack", "error", err)
	}
}

func envelopeSourceFor(kind chattypes.ConnectionKind) collab.EnvelopeSource {
	if kind == chattypes.Identified {
		return collab.EnvelopeSourceWebsocketIdentified
	}
	return collab.EnvelopeSourceWebsocketUnidentified
}

// parseSignalTimestamp reads the x-signal-timestamp header from the wire
// format's repeated "Name:Value" strings (spec.md §6).
func parseSignalTimestamp(headers []string) uint64 {
	const prefix = "x-signal-timestamp:"
	for _, h := range headers {
		if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
			continue
		}
		var v uint64
		for _, r := range h[len(prefix):] {
			if r < '0' || r > '9' {
				return 0
			}
			v = v*10 + uint64(r-'0')
		}
		return v
	}
	return 0
}

// Defaults applied to every outbound request per spec.md §4.C's "union of
// caller headers and defaulted User-Agent/Accept-Language".
const (
	defaultUserAgent  = "wschat-client/1.0"
	defaultAcceptLang = "en-US"
	contentTypeHeader = "Content-Type"
	jsonContentType   = "application/json"
)

// leadingSlashPath enforces spec.md §4.C's "path = leading slash + URL
// path+query (the requestor supplies relative URL with no scheme/host/
// leading slash)".
func leadingSlashPath(url string) string {
	if strings.HasPrefix(url, "/") {
		return url
	}
	return "/" + url
}

// buildRequestHeaders unions caller-supplied headers with the defaulted
// User-Agent/Accept-Language, and forces Content-Type: application/json
// only when isParamBody is true and the caller did not already set a
// Content-Type (spec.md §9: "forced only when the caller provided no
// body ... if the caller provides a body with a conflicting Content-Type,
// preserve caller's header (overwrite=false)").
func buildRequestHeaders(caller map[string]string, isParamBody bool) map[string]string {
	merged := make(map[string]string, len(caller)+3)
	for k, v := range caller {
		merged[k] = v
	}
	setHeaderDefault(merged, "User-Agent", defaultUserAgent)
	setHeaderDefault(merged, "Accept-Language", defaultAcceptLang)
	if isParamBody {
		setHeaderDefault(merged, contentTypeHeader, jsonContentType)
	}
	return merged
}

// setHeaderDefault sets name=value unless merged already has name under
// any case (overwrite=false).
func setHeaderDefault(merged map[string]string, name, value string) {
	for k := range merged {
		if strings.EqualFold(k, name) {
			return
		}
	}
	merged[name] = value
}

// headerMapToSlice renders a header map as the wire format's repeated
// "Name:Value" strings (spec.md §6).
func headerMapToSlice(h map[string]string) []string {
	if len(h) == 0 {
		return nil
	}
	out := make([]string, 0, len(h))
	for k, v := range h {
		out = append(out, k+":"+v)
	}
	return out
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
