package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chat-core/wschat/internal/chatsocket/chaterrors"
	"github.com/chat-core/wschat/internal/chatsocket/chattypes"
)

func TestRegistry_InsertAndPop(t *testing.T) {
	r := New(nil)
	p := r.Insert(chattypes.RequestInfo{Method: "GET", URL: "/api/v1/queue/empty"})
	require.Equal(t, 1, r.Len())

	got, ok := r.Pop(p.ID)
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_PopUnknownID(t *testing.T) {
	r := New(nil)
	_, ok := r.Pop(12345)
	assert.False(t, ok)
}

func TestRegistry_DrainAll(t *testing.T) {
	r := New(nil)
	r.Insert(chattypes.RequestInfo{URL: "/a"})
	r.Insert(chattypes.RequestInfo{URL: "/b"})
	require.Equal(t, 2, r.Len())

	drained := r.DrainAll()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, r.Len())
}

func TestPendingRequest_CompleteSuccessOnlyOnce(t *testing.T) {
	r := New(nil)
	p := r.Insert(chattypes.RequestInfo{URL: "/x"})

	first := p.CompleteSuccess(200, nil, []byte("ok"))
	second := p.CompleteSuccess(200, nil, []byte("ok again"))

	assert.True(t, first)
	assert.False(t, second, "second completion must be rejected by the compare-and-swap guard")

	out := p.Wait()
	require.NoError(t, out.Err)
	require.NotNil(t, out.Response)
	assert.Equal(t, 200, out.Response.Status)
}

func TestPendingRequest_CompleteSuccessNon2xxBecomesHttpError(t *testing.T) {
	r := New(nil)
	p := r.Insert(chattypes.RequestInfo{URL: "/x"})

	p.CompleteSuccess(429, map[string]string{"Retry-After": "5"}, nil)

	out := p.Wait()
	require.Error(t, out.Err)
	var httpErr *chaterrors.HttpError
	require.ErrorAs(t, out.Err, &httpErr)
}

func TestPendingRequest_CompetingCompletionsOnlyOneWins(t *testing.T) {
	r := New(nil)
	p := r.Insert(chattypes.RequestInfo{URL: "/x"})

	results := make(chan bool, 2)
	go func() { results <- p.CompleteSuccess(200, nil, nil) }()
	go func() { results <- p.CompleteNetworkFailure(assertErr) }()

	a, b := <-results, <-results
	assert.True(t, a != b, "exactly one of the two competing completions must win")
}

var assertErr = errTimeout

func TestRegistry_TimeoutFiresOnTimerAndCompletesNetworkFailure(t *testing.T) {
	fired := make(chan uint64, 1)
	r := New(func(id uint64) { fired <- id })

	p := r.InsertWithTimeout(chattypes.RequestInfo{URL: "/slow"}, 10*time.Millisecond)

	select {
	case id := <-fired:
		assert.Equal(t, p.ID, id)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onTimer callback")
	}

	out := p.Wait()
	require.Error(t, out.Err)
	var networkErr *chaterrors.NetworkFailureError
	require.ErrorAs(t, out.Err, &networkErr)
	_, stillPending := r.Pop(p.ID)
	assert.False(t, stillPending)
}
