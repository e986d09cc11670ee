// Package dispatcher implements the request dispatcher (spec.md §4.F):
// the public make_request entry point that pre-checks app expiry, asserts
// the request's authenticated-ness matches its ConnectionKind, posts to
// the owning controller's queue, and lets the caller's context cancel
// only its own wait — never the in-flight registry entry, since the
// underlying socket protocol has no cancel frame.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/chat-core/wschat/internal/chatsocket/chaterrors"
	"github.com/chat-core/wschat/internal/chatsocket/chattypes"
	"github.com/chat-core/wschat/internal/chatsocket/collab"
	"github.com/chat-core/wschat/internal/chatsocket/controller"
)

// Dispatcher is the per-ConnectionKind public make_request entry point.
type Dispatcher struct {
	kind       chattypes.ConnectionKind
	controller *controller.Controller
	appState   collab.AppStateProvider
	outage     collab.OutageDetector
}

// New returns a Dispatcher for one ConnectionKind's controller.
func New(kind chattypes.ConnectionKind, ctrl *controller.Controller, appState collab.AppStateProvider, outage collab.OutageDetector) *Dispatcher {
	return &Dispatcher{kind: kind, controller: ctrl, appState: appState, outage: outage}
}

// MakeRequest is spec.md §4.F's make_request. token, if non-zero, is an
// unsubmitted-request token minted by the caller before it had a built
// RequestInfo ready (desiredstate rule 6 keeps the socket open while it
// exists); it is unconditionally removed once this call returns, whether
// the request is ultimately submitted or rejected.
func (d *Dispatcher) MakeRequest(ctx context.Context, req chattypes.RequestInfo, token chattypes.RequestToken) (*chattypes.Response, error) {
	if token != 0 {
		defer d.controller.Tokens().Remove(token)
	}

	if d.appState.AppExpired() {
		return nil, &chaterrors.InvalidAppStateError{URL: req.URL}
	}

	if req.RequiresIdentified != (d.kind == chattypes.Identified) {
		return nil, chaterrors.NewInvalidRequest(req.URL, fmt.Errorf("request requires identified=%v, dispatched on %s", req.RequiresIdentified, d.kind))
	}

	p, err := d.controller.SubmitRequest(req)
	if err != nil {
		return nil, err
	}

	type result struct {
		resp *chattypes.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		out := p.Wait()
		done <- result{resp: out.Response, err: out.Err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			d.outage.ReportConnectSuccess()
		}
		return r.resp, r.err
	case <-ctx.Done():
		// Per spec.md §4.F: cancellation stops the caller from waiting but
		// never cancels the in-flight registry entry. The goroutine above
		// keeps running to completion; its result is simply discarded.
		return nil, ctx.Err()
	}
}
