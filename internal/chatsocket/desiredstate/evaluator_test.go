package desiredstate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chat-core/wschat/internal/chatsocket/chattypes"
)

// baseline returns Inputs that, taken together, fall through to the final
// "default" rule, so each test case only needs to override what it cares
// about.
func baseline() Inputs {
	return Inputs{
		AppReady:      true,
		Registered:    true,
		CanUseSockets: true,
		CanBuildTransport: true,
	}
}

func TestEvaluate_PriorityOrder(t *testing.T) {
	cases := []struct {
		name string
		in   Inputs
		want chattypes.DesiredState
	}{
		{"app not ready", override(baseline(), func(i *Inputs) { i.AppReady = false }), chattypes.ClosedState("!appReady")},
		{"not registered", override(baseline(), func(i *Inputs) { i.Registered = false }), chattypes.ClosedState("!registered")},
		{"app expired", override(baseline(), func(i *Inputs) { i.AppExpired = true }), chattypes.ClosedState("appExpired")},
		{"cannot use sockets", override(baseline(), func(i *Inputs) { i.CanUseSockets = false }), chattypes.ClosedState("!canAppUseSockets")},
		{"has pending requests", override(baseline(), func(i *Inputs) { i.HasPendingReqs = true }), chattypes.OpenState("hasPendingRequests")},
		{"unsubmitted tokens", override(baseline(), func(i *Inputs) { i.HasUnsubmittedReqTokens = true }), chattypes.OpenState("unsubmittedRequestTokens")},
		{"cannot build transport", override(baseline(), func(i *Inputs) { i.CanBuildTransport = false }), chattypes.ClosedState("cannotBuild")},
		{"app active", override(baseline(), func(i *Inputs) { i.AppActive = true }), chattypes.OpenState("appActive")},
		{"background keep-alive", override(baseline(), func(i *Inputs) { i.HasBackgroundKeepAlive = true }), chattypes.OpenState("hasBackgroundKeepAlive")},
		{"default", baseline(), chattypes.ClosedState("default")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, Evaluate(tc.in).Equal(tc.want), "Evaluate(%+v) = %v, want %v", tc.in, Evaluate(tc.in), tc.want)
		})
	}
}

func TestEvaluate_EarlierRuleBeatsLaterOne(t *testing.T) {
	in := baseline()
	in.AppReady = false
	in.AppActive = true // would otherwise win rule 8
	assert.True(t, Evaluate(in).Equal(chattypes.ClosedState("!appReady")))
}

func TestEvaluate_IsIdempotent(t *testing.T) {
	in := baseline()
	in.HasPendingReqs = true
	a := Evaluate(in)
	b := Evaluate(in)
	assert.True(t, a.Equal(b))
}

func override(in Inputs, f func(*Inputs)) Inputs {
	f(&in)
	return in
}
