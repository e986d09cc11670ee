// Package desiredstate implements the pure, thread-safe predicate
// (spec.md §4.D) that tells the lifecycle controller whether a
// ConnectionKind's socket should be open or closed, and why. It has no
// side effects and no dependency on the controller queue, so it is
// table-tested directly, grounded on the teacher's preference for small
// pure functions over its transport and protocol packages.
package desiredstate

import (
	"github.com/chat-core/wschat/internal/chatsocket/chattypes"
)

// Inputs bundles every observed fact the evaluator's ten priority rules
// read, in the same order those rules are checked.
type Inputs struct {
	AppReady                bool
	Registered              bool
	AppExpired              bool
	CanUseSockets           bool
	HasPendingReqs          bool
	HasUnsubmittedReqTokens bool
	CanBuildTransport       bool
	AppActive               bool
	HasBackgroundKeepAlive  bool
}

// Evaluate runs the ten ordered priority rules from spec.md §4.D. First
// match wins.
func Evaluate(in Inputs) chattypes.DesiredState {
	switch {
	case !in.AppReady:
		return chattypes.ClosedState("!appReady")
	case !in.Registered:
		return chattypes.ClosedState("!registered")
	case in.AppExpired:
		return chattypes.ClosedState("appExpired")
	case !in.CanUseSockets:
		return chattypes.ClosedState("!canAppUseSockets")
	case in.HasPendingReqs:
		return chattypes.OpenState("hasPendingRequests")
	case in.HasUnsubmittedReqTokens:
		return chattypes.OpenState("unsubmittedRequestTokens")
	case !in.CanBuildTransport:
		return chattypes.ClosedState("cannotBuild")
	case in.AppActive:
		return chattypes.OpenState("appActive")
	case in.HasBackgroundKeepAlive:
		return chattypes.OpenState("hasBackgroundKeepAlive")
	default:
		return chattypes.ClosedState("default")
	}
}
