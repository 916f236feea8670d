package highlight

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/annostream/errors"
	"github.com/c360/annostream/router"
)

// fakeTransport records every request and answers via a pluggable respond
// function.
type fakeTransport struct {
	mu       sync.Mutex
	calls    []fakeCall
	respond  func(call fakeCall) (*router.Reply, error)
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

type fakeCall struct {
	peerID  string
	action  string
	batch   batchRequest
	rawSent bool
}

func (f *fakeTransport) Request(_ context.Context, peerID, action string, payload any) (*router.Reply, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}

	call := fakeCall{peerID: peerID, action: action}
	if br, ok := payload.(batchRequest); ok {
		call.batch = br
		call.rawSent = true
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.respond != nil {
		return f.respond(call)
	}
	return &router.Reply{Success: true}, nil
}

func (f *fakeTransport) batchCalls() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.action == ActionApplyHighlights {
			out = append(out, c)
		}
	}
	return out
}

func makeUnits(n int) []Highlight {
	units := make([]Highlight, n)
	for i := range units {
		units[i] = Highlight{
			ID:         string(rune('a'+i%26)) + "-" + string(rune('0'+i/26)),
			CategoryID: "P1",
			Content:    "evidence",
			Color:      "#FFE082",
		}
	}
	return units
}

func fastCoordinator(transport PeerTransport, opts ...CoordinatorOption) *Coordinator {
	base := []CoordinatorOption{
		WithHighlightDelay(time.Millisecond),
		WithDeferRetry(5 * time.Millisecond),
	}
	return NewCoordinator(transport, append(base, opts...)...)
}

func TestDeliver_BatchingAndBatchInfo(t *testing.T) {
	transport := &fakeTransport{}
	c := fastCoordinator(transport)

	result, err := c.Deliver(context.Background(), "tab-1", makeUnits(45))
	require.NoError(t, err)
	assert.Equal(t, DeliveryResult{Sent: 45, Failed: 0, Total: 45}, result)

	batches := transport.batchCalls()
	require.Len(t, batches, 3)

	assert.Len(t, batches[0].batch.Units, 20)
	assert.Len(t, batches[1].batch.Units, 20)
	assert.Len(t, batches[2].batch.Units, 5)

	for i, call := range batches {
		assert.Equal(t, "tab-1", call.peerID)
		assert.Equal(t, i+1, call.batch.BatchInfo.BatchNumber)
		assert.Equal(t, 3, call.batch.BatchInfo.TotalBatches)
		assert.Equal(t, i == 2, call.batch.BatchInfo.IsLastBatch)
	}
}

func TestDeliver_EmptyInputSendsNothing(t *testing.T) {
	transport := &fakeTransport{}
	c := fastCoordinator(transport)

	result, err := c.Deliver(context.Background(), "tab-1", nil)
	require.NoError(t, err)
	assert.Equal(t, DeliveryResult{}, result)
	assert.Empty(t, transport.calls)
}

func TestDeliver_TransportFailureContinues(t *testing.T) {
	transport := &fakeTransport{}
	transport.respond = func(call fakeCall) (*router.Reply, error) {
		if call.batch.BatchInfo.BatchNumber == 2 {
			return nil, errors.ErrPeerUnreachable
		}
		return &router.Reply{Success: true}, nil
	}
	c := fastCoordinator(transport)

	result, err := c.Deliver(context.Background(), "tab-1", makeUnits(45))
	require.NoError(t, err, "a failed batch must not abort the run")
	assert.Equal(t, DeliveryResult{Sent: 25, Failed: 20, Total: 45}, result)

	// All three batches were attempted despite the middle failure
	require.Len(t, transport.batchCalls(), 3)
}

func TestDeliver_PeerRejectionCountsAsFailed(t *testing.T) {
	transport := &fakeTransport{}
	transport.respond = func(call fakeCall) (*router.Reply, error) {
		if call.batch.BatchInfo.IsLastBatch {
			return &router.Reply{Success: false, Error: "render failed"}, nil
		}
		return &router.Reply{Success: true}, nil
	}
	c := fastCoordinator(transport)

	result, err := c.Deliver(context.Background(), "tab-1", makeUnits(25))
	require.NoError(t, err)
	assert.Equal(t, DeliveryResult{Sent: 20, Failed: 5, Total: 25}, result)
}

func TestDeliver_ResultInvariant(t *testing.T) {
	transport := &fakeTransport{}
	transport.respond = func(call fakeCall) (*router.Reply, error) {
		if call.batch.BatchInfo.BatchNumber%2 == 0 {
			return nil, errors.ErrPeerTimeout
		}
		return &router.Reply{Success: true}, nil
	}
	c := fastCoordinator(transport, WithBatchSize(7))

	result, err := c.Deliver(context.Background(), "tab-1", makeUnits(50))
	require.NoError(t, err)
	assert.Equal(t, result.Total, result.Sent+result.Failed)
	assert.Equal(t, 50, result.Total)
}

func TestDeliver_RunsNeverOverlap(t *testing.T) {
	transport := &fakeTransport{}
	transport.respond = func(fakeCall) (*router.Reply, error) {
		time.Sleep(2 * time.Millisecond)
		return &router.Reply{Success: true}, nil
	}
	c := fastCoordinator(transport, WithBatchSize(5))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := c.Deliver(context.Background(), "tab-1", makeUnits(15))
			assert.NoError(t, err)
			assert.Equal(t, 15, result.Sent)
		}()
	}
	wg.Wait()

	// Serialized runs mean at most one request in flight at any moment
	assert.Equal(t, int32(1), transport.maxSeen.Load())
	assert.Len(t, transport.batchCalls(), 9)
}

func TestDeliver_DeferredRunCancelled(t *testing.T) {
	transport := &fakeTransport{}
	release := make(chan struct{})
	transport.respond = func(fakeCall) (*router.Reply, error) {
		<-release
		return &router.Reply{Success: true}, nil
	}
	c := fastCoordinator(transport, WithBatchSize(10))

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = c.Deliver(context.Background(), "tab-1", makeUnits(10))
	}()
	<-started
	// Give the first run time to take the in-flight slot
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := c.Deliver(ctx, "tab-2", makeUnits(8))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, DeliveryResult{Sent: 0, Failed: 8, Total: 8}, result)

	close(release)
}

func TestDeliver_TracksCompletedUnits(t *testing.T) {
	transport := &fakeTransport{}
	c := fastCoordinator(transport)

	_, err := c.Deliver(context.Background(), "tab-1", makeUnits(25))
	require.NoError(t, err)
	assert.Equal(t, 25, c.CompletedFor("tab-1"))
	assert.Equal(t, 0, c.CompletedFor("tab-2"))
}

func TestClearForPeer(t *testing.T) {
	transport := &fakeTransport{}
	c := fastCoordinator(transport)

	_, err := c.Deliver(context.Background(), "tab-1", makeUnits(5))
	require.NoError(t, err)
	require.Equal(t, 5, c.CompletedFor("tab-1"))

	require.NoError(t, c.ClearForPeer(context.Background(), "tab-1"))
	assert.Equal(t, 0, c.CompletedFor("tab-1"))

	// The clear notice went out on the wire
	var sawClear bool
	transport.mu.Lock()
	for _, call := range transport.calls {
		if call.action == ActionClearHighlights {
			sawClear = true
		}
	}
	transport.mu.Unlock()
	assert.True(t, sawClear)
}

func TestClearForPeer_GonePeerIsSuccess(t *testing.T) {
	transport := &fakeTransport{}
	transport.respond = func(call fakeCall) (*router.Reply, error) {
		if call.action == ActionClearHighlights {
			return nil, errors.ErrPeerUnreachable
		}
		return &router.Reply{Success: true}, nil
	}
	c := fastCoordinator(transport)

	assert.NoError(t, c.ClearForPeer(context.Background(), "gone-tab"))
}

func TestGetStatus(t *testing.T) {
	transport := &fakeTransport{}
	c := fastCoordinator(transport)

	status := c.GetStatus()
	assert.False(t, status.InFlight)
	assert.Equal(t, 0, status.CompletedUnits)

	_, err := c.Deliver(context.Background(), "tab-1", makeUnits(5))
	require.NoError(t, err)

	status = c.GetStatus()
	assert.False(t, status.InFlight)
	assert.Equal(t, 5, status.CompletedUnits)
}

func TestCoordinator_TransformUsesSessionColors(t *testing.T) {
	c := fastCoordinator(&fakeTransport{})

	raw := []byte(`{"P1": {"property": "Method", "values": [{"sentence": "s"}]}}`)
	units, _, err := c.Transform(raw)
	require.NoError(t, err)
	require.Len(t, units, 1)
	first := units[0].Color

	// Same category, same color across calls
	again, _, err := c.Transform(raw)
	require.NoError(t, err)
	assert.Equal(t, first, again[0].Color)

	// Reset starts a fresh color session
	c.ResetColorAssignment()
	assert.Equal(t, 0, c.GetStatus().AssignedColors)
}
