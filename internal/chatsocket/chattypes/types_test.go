package chattypes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuerTracksPending(t *testing.T) {
	issuer := NewTokenIssuer()
	require.False(t, issuer.HasPending())

	tok := issuer.MakeUnsubmittedRequestToken()
	assert.True(t, issuer.HasPending())

	issuer.Remove(tok)
	assert.False(t, issuer.HasPending())

	issuer.Remove(tok) // removing an unknown token is a no-op
}

func TestBackgroundKeepAliveExtendsOnlyForward(t *testing.T) {
	var s BackgroundKeepAliveState
	now := time.Now()

	require.True(t, s.Extend(ReceiveResponse, now), "first Extend() should report a change")
	require.True(t, s.Active(now))

	// ReceiveResponse grants 5s; DidReceivePush grants 20s, a strict
	// extension, so it should win.
	assert.True(t, s.Extend(DidReceivePush, now))

	// ReceiveResponse again would shorten the window, so it must not win.
	assert.False(t, s.Extend(ReceiveResponse, now))

	future := now.Add(25 * time.Second)
	assert.False(t, s.Active(future))
}

func TestDesiredStateEquality(t *testing.T) {
	a := OpenState("appActive")
	b := OpenState("appActive")
	c := ClosedState("appActive")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c), "Open and Closed states should not be equal even with the same reason")
}
