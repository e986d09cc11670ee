// Package chatsocket is the public facade: a Manager wires one
// controller+dispatcher pair per ConnectionKind (spec.md §2's "two
// instances in practice") behind the handful of operations a host
// application actually calls. Grounded on the teacher's cmd/client and
// cmd/server wiring style of constructing a small number of concrete
// collaborators and handing them to the core type.
package chatsocket

import (
	"context"

	"github.com/chat-core/wschat/internal/chatsocket/chattypes"
	"github.com/chat-core/wschat/internal/chatsocket/collab"
	"github.com/chat-core/wschat/internal/chatsocket/controller"
	"github.com/chat-core/wschat/internal/chatsocket/dispatcher"
	"github.com/chat-core/wschat/internal/chatsocket/logging"
	"github.com/chat-core/wschat/internal/chatsocket/transport"
)

// Deps bundles the collaborators spec.md §1 lists as out of scope: the
// caller supplies real or reference implementations (see internal/chatsocket/collab
// for in-memory ones suitable for demos and tests).
type Deps struct {
	Factory           transport.Factory
	Registration      collab.RegistrationManager
	AppState          collab.AppStateProvider
	OutageDetector    collab.OutageDetector
	EnvelopeProcessor collab.EnvelopeProcessor
	Logger            logging.Logger
}

// kindHandle bundles one ConnectionKind's controller and dispatcher.
type kindHandle struct {
	controller *controller.Controller
	dispatcher *dispatcher.Dispatcher
}

// Manager is the top-level object a host application constructs: one per
// chat-server endpoint, internally running both the Identified and
// Unidentified sockets.
type Manager struct {
	kinds map[chattypes.ConnectionKind]*kindHandle
}

// New constructs a Manager and starts both ConnectionKind controllers.
// Call Stop to tear them down.
func New(deps Deps) *Manager {
	m := &Manager{kinds: make(map[chattypes.ConnectionKind]*kindHandle)}
	for _, kind := range []chattypes.ConnectionKind{chattypes.Identified, chattypes.Unidentified} {
		ctrl := controller.New(kind, controller.Deps{
			Factory:           deps.Factory,
			Registration:      deps.Registration,
			AppState:          deps.AppState,
			OutageDetector:    deps.OutageDetector,
			EnvelopeProcessor: deps.EnvelopeProcessor,
			Logger:            deps.Logger,
		})
		m.kinds[kind] = &kindHandle{
			controller: ctrl,
			dispatcher: dispatcher.New(kind, ctrl, deps.AppState, deps.OutageDetector),
		}
		ctrl.Start()
	}
	return m
}

// Stop tears both controllers down.
func (m *Manager) Stop() {
	for _, h := range m.kinds {
		h.controller.Stop()
	}
}

// MakeRequest is spec.md §4.F's make_request, routed to the controller
// for req.RequiresIdentified's matching ConnectionKind.
func (m *Manager) MakeRequest(ctx context.Context, req chattypes.RequestInfo, token chattypes.RequestToken) (*chattypes.Response, error) {
	kind := chattypes.Unidentified
	if req.RequiresIdentified {
		kind = chattypes.Identified
	}
	return m.kinds[kind].dispatcher.MakeRequest(ctx, req, token)
}

// MakeUnsubmittedRequestToken mints a token for kind's controller, forcing
// its socket open until the token is submitted via MakeRequest or removed
// (desiredstate rule 6).
func (m *Manager) MakeUnsubmittedRequestToken(kind chattypes.ConnectionKind) chattypes.RequestToken {
	ctrl := m.kinds[kind].controller
	tok := ctrl.Tokens().MakeUnsubmittedRequestToken()
	ctrl.Reconcile()
	return tok
}

// RemoveUnsubmittedRequestToken abandons a token minted by
// MakeUnsubmittedRequestToken without ever calling MakeRequest.
func (m *Manager) RemoveUnsubmittedRequestToken(kind chattypes.ConnectionKind, token chattypes.RequestToken) {
	m.kinds[kind].controller.Tokens().Remove(token)
}

// VisibleState returns kind's current observable connection state.
func (m *Manager) VisibleState(kind chattypes.ConnectionKind) chattypes.VisibleState {
	return m.kinds[kind].controller.Observer().State()
}

// AwaitOpen blocks until kind's socket is Open or ctx is cancelled
// (spec.md §4.G).
func (m *Manager) AwaitOpen(ctx context.Context, kind chattypes.ConnectionKind) error {
	return m.kinds[kind].controller.Observer().AwaitOpen(ctx)
}

// Subscribe streams every future VisibleState change for kind.
func (m *Manager) Subscribe(kind chattypes.ConnectionKind) (<-chan chattypes.VisibleState, func()) {
	return m.kinds[kind].controller.Observer().Subscribe()
}

// NotifyPush records a push-notification wakeup for kind (spec.md §8
// scenario 3), extending its background keep-alive window and
// reconciling.
func (m *Manager) NotifyPush(kind chattypes.ConnectionKind) {
	m.kinds[kind].controller.NotifyPush()
}

// Reconcile re-runs kind's desired-state evaluation, for use after the
// caller mutates shared AppStateProvider/RegistrationManager state
// (spec.md §4.E: "external inputs post work items").
func (m *Manager) Reconcile(kind chattypes.ConnectionKind) {
	m.kinds[kind].controller.Reconcile()
}
