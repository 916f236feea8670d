package highlight

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/annostream/errors"
	"github.com/c360/annostream/metric"
	"github.com/c360/annostream/router"
)

// Delivery defaults
const (
	DefaultBatchSize      = 20
	DefaultHighlightDelay = 300 * time.Millisecond
	DefaultDeferRetry     = 500 * time.Millisecond
)

// PeerTransport is the send path the coordinator drives: one
// request/reply exchange with a single peer.
type PeerTransport interface {
	Request(ctx context.Context, peerID, action string, payload any) (*router.Reply, error)
}

// CoordinatorOption is a functional option for configuring the Coordinator
type CoordinatorOption func(*Coordinator)

// WithBatchSize sets the maximum units per batch
func WithBatchSize(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithHighlightDelay sets the pacing delay between batches
func WithHighlightDelay(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.highlightDelay = d
		}
	}
}

// WithDeferRetry sets the probe delay used when a delivery run arrives
// while another is in flight
func WithDeferRetry(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.deferRetry = d
		}
	}
}

// WithPalette overrides the color palette for this coordinator's sessions
func WithPalette(palette []string) CoordinatorOption {
	return func(c *Coordinator) {
		c.colors = NewColorAssigner(palette)
	}
}

// WithMinConfidence drops value records below the threshold during
// transformation
func WithMinConfidence(min float64) CoordinatorOption {
	return func(c *Coordinator) {
		c.minConfidence = min
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics registry for delivery counters
func WithMetrics(registry *metric.MetricsRegistry) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = registry
	}
}

// Coordinator owns one delivery pipeline: transformation, color
// assignment, and the batch delivery state machine. Delivery runs are
// serialized process-wide to bound peer-side rendering load.
type Coordinator struct {
	peers          PeerTransport
	batchSize      int
	highlightDelay time.Duration
	deferRetry     time.Duration
	minConfidence  float64
	colors         *ColorAssigner
	logger         *slog.Logger
	metrics        *metric.MetricsRegistry

	inFlight atomic.Bool

	mu        sync.Mutex
	completed map[string]map[string]struct{} // peer id -> completed unit ids
}

// NewCoordinator creates a coordinator over the given peer transport
func NewCoordinator(peers PeerTransport, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		peers:          peers,
		batchSize:      DefaultBatchSize,
		highlightDelay: DefaultHighlightDelay,
		deferRetry:     DefaultDeferRetry,
		colors:         NewColorAssigner(nil),
		logger:         slog.Default().With("component", "highlight-coordinator"),
		completed:      make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transform builds the ordered delivery unit list for an analysis result,
// using this coordinator's session color assignments.
func (c *Coordinator) Transform(raw json.RawMessage) ([]Highlight, TransformStats, error) {
	t := NewTransformer(c.colors,
		WithTransformMinConfidence(c.minConfidence),
		WithTransformLogger(c.logger))
	return t.Transform(raw)
}

// ResetColorAssignment clears category-to-color bindings. Called at the
// start of every new bulk analysis session so colors do not leak across
// unrelated documents.
func (c *Coordinator) ResetColorAssignment() {
	c.colors.Reset()
}

// Deliver pushes the unit list to a peer in bounded batches and reports
// the aggregate outcome. Every exit path reaches a terminal resolution:
// empty input, transport failure, peer failure, and success all resolve.
func (c *Coordinator) Deliver(ctx context.Context, peerID string, units []Highlight) (DeliveryResult, error) {
	if len(units) == 0 {
		return DeliveryResult{}, nil
	}

	// One run at a time, process-wide. A run arriving while another is
	// in flight is deferred with a fixed-delay probe, not dropped.
	for !c.inFlight.CompareAndSwap(false, true) {
		c.logger.Debug("Delivery in flight, deferring", "peer_id", peerID, "units", len(units))
		select {
		case <-ctx.Done():
			return DeliveryResult{Total: len(units), Failed: len(units)}, ctx.Err()
		case <-time.After(c.deferRetry):
		}
	}
	defer c.inFlight.Store(false)

	runID := uuid.NewString()
	start := time.Now()
	progress := newProgress(units)
	totalBatches := (len(units) + c.batchSize - 1) / c.batchSize

	c.logger.Info("Delivery run starting",
		"run_id", runID, "peer_id", peerID, "units", len(units), "batches", totalBatches)

	// The limiter paces batches: the first send is immediate, every
	// subsequent send waits out the highlight delay.
	limiter := rate.NewLimiter(rate.Every(c.highlightDelay), 1)

	for b := 0; b < totalBatches; b++ {
		if err := limiter.Wait(ctx); err != nil {
			remaining := len(units) - progress.cursor
			progress.fail(remaining)
			result := progress.result()
			c.finishRun(runID, peerID, result, start)
			return result, err
		}

		lo := b * c.batchSize
		hi := min(lo+c.batchSize, len(units))
		batch := units[lo:hi]

		payload := batchRequest{
			Units: batch,
			BatchInfo: BatchInfo{
				BatchNumber:  b + 1,
				TotalBatches: totalBatches,
				IsLastBatch:  b == totalBatches-1,
			},
		}

		reply, err := c.peers.Request(ctx, peerID, ActionApplyHighlights, payload)
		switch {
		case err != nil:
			// A single bad batch never aborts the run
			c.logger.Warn("Batch transport failure",
				"run_id", runID, "batch", b+1, "units", len(batch), "error", err)
			progress.fail(len(batch))
			c.recordBatch("transport_error", 0, len(batch))
		case !reply.Success:
			c.logger.Warn("Batch rejected by peer",
				"run_id", runID, "batch", b+1, "units", len(batch), "error", reply.Error)
			progress.fail(len(batch))
			c.recordBatch("peer_error", 0, len(batch))
		default:
			progress.sent(len(batch))
			c.markCompleted(peerID, batch)
			c.recordBatch("ok", len(batch), 0)
		}
	}

	result := progress.result()
	c.finishRun(runID, peerID, result, start)
	return result, nil
}

// ClearForPeer drops completed bookkeeping for a peer and issues a
// best-effort clear notice. A peer that is already gone counts as
// success; real transport errors are logged but still do not fail the
// bookkeeping.
func (c *Coordinator) ClearForPeer(ctx context.Context, peerID string) error {
	c.mu.Lock()
	delete(c.completed, peerID)
	c.mu.Unlock()

	reply, err := c.peers.Request(ctx, peerID, ActionClearHighlights, nil)
	if err != nil {
		if errors.IsPeerGone(err) {
			c.logger.Debug("Peer already gone on clear", "peer_id", peerID)
		} else {
			c.logger.Warn("Clear notice failed", "peer_id", peerID, "error", err)
		}
		return nil
	}
	if !reply.Success {
		c.logger.Debug("Peer declined clear", "peer_id", peerID, "error", reply.Error)
	}
	return nil
}

// GetStatus returns a read-only snapshot of coordinator state
func (c *Coordinator) GetStatus() Status {
	c.mu.Lock()
	completedUnits := 0
	for _, ids := range c.completed {
		completedUnits += len(ids)
	}
	c.mu.Unlock()

	return Status{
		InFlight:       c.inFlight.Load(),
		CompletedUnits: completedUnits,
		AssignedColors: c.colors.Size(),
	}
}

// CompletedFor returns how many unit ids have been confirmed for a peer
func (c *Coordinator) CompletedFor(peerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.completed[peerID])
}

func (c *Coordinator) markCompleted(peerID string, batch []Highlight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, ok := c.completed[peerID]
	if !ok {
		ids = make(map[string]struct{})
		c.completed[peerID] = ids
	}
	for _, unit := range batch {
		ids[unit.ID] = struct{}{}
	}
}

func (c *Coordinator) finishRun(runID, peerID string, result DeliveryResult, start time.Time) {
	c.logger.Info("Delivery run complete",
		"run_id", runID, "peer_id", peerID,
		"sent", result.Sent, "failed", result.Failed, "total", result.Total,
		"elapsed", time.Since(start))
	if c.metrics != nil {
		c.metrics.CoreMetrics().ObserveDeliveryDuration(time.Since(start))
	}
}

func (c *Coordinator) recordBatch(status string, sentUnits, failedUnits int) {
	if c.metrics == nil {
		return
	}
	core := c.metrics.CoreMetrics()
	core.RecordBatch(status)
	if sentUnits > 0 {
		core.RecordUnits("sent", sentUnits)
	}
	if failedUnits > 0 {
		core.RecordUnits("failed", failedUnits)
	}
}

// progress tracks one delivery run. Invariant: sentCount + failedCount ==
// cursor <= total, and the run terminates only when cursor == total.
type progress struct {
	total       int
	cursor      int
	sentCount   int
	failedCount int
}

func newProgress(units []Highlight) *progress {
	return &progress{total: len(units)}
}

func (p *progress) sent(n int) {
	p.sentCount += n
	p.cursor += n
}

func (p *progress) fail(n int) {
	p.failedCount += n
	p.cursor += n
}

func (p *progress) result() DeliveryResult {
	return DeliveryResult{Sent: p.sentCount, Failed: p.failedCount, Total: p.total}
}
