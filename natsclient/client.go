// Package natsclient provides a client for managing NATS connections with circuit breaker pattern.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/annostream/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Status holds runtime status information for the NATS client
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	Reconnects      int32
	RTT             time.Duration
}

// Client manages a NATS connection with circuit breaker pattern
type Client struct {
	url      string
	status   atomic.Value // stores ConnectionStatus
	failures atomic.Int32
	logger   Logger

	// NATS connection
	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	// Circuit breaker
	lastFailure      atomic.Value // stores time.Time
	backoff          atomic.Value // stores time.Duration
	circuitFailures  atomic.Int32
	circuitThreshold int32
	maxBackoff       time.Duration

	// Connection options
	maxReconnects  int
	reconnectWait  time.Duration
	pingInterval   time.Duration
	timeout        time.Duration
	drainTimeout   time.Duration
	requestTimeout time.Duration
	clientName     string

	// Callbacks
	onDisconnect   func(error)
	onReconnect    func()
	onHealthChange func(bool)

	// Health monitoring
	healthTicker   *time.Ticker
	healthInterval time.Duration
	healthDone     chan struct{}

	// Synchronization
	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:    url,
		logger: &defaultLogger{},
		// Sensible defaults
		maxReconnects:    -1, // infinite by default
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		healthInterval:   10 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		requestTimeout:   5 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debugf("Created NATS client for %s", url)

	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// GetConnection returns the current NATS connection
func (m *Client) GetConnection() *nats.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

// SetConnection sets the NATS connection (for testing)
func (m *Client) SetConnection(conn *nats.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = conn
	if conn != nil && conn.IsConnected() {
		m.setStatus(StatusConnected)
	}
}

// setStatus updates the connection status
func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the current failure count
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// recordFailure records a connection failure and manages circuit breaker
func (m *Client) recordFailure() {
	totalFailures := m.failures.Add(1)
	m.lastFailure.Store(time.Now())

	circuitFailures := m.circuitFailures.Add(1)
	m.logger.Debugf("Recorded failure %d (circuit failures: %d)", totalFailures, circuitFailures)

	if circuitFailures < m.circuitThreshold {
		return
	}

	currentBackoff := m.backoff.Load().(time.Duration)
	newBackoff := currentBackoff * 2
	if newBackoff > m.maxBackoff {
		newBackoff = m.maxBackoff
	}
	m.backoff.Store(newBackoff)
	m.circuitFailures.Store(0)

	currentStatus := m.Status()
	if currentStatus != StatusCircuitOpen {
		if m.status.CompareAndSwap(currentStatus, StatusCircuitOpen) {
			m.logger.Printf("Circuit breaker opened after %d failures, backing off for %v",
				circuitFailures, currentBackoff)
			time.AfterFunc(currentBackoff, m.testCircuit)
		}
	} else {
		m.logger.Printf("Circuit breaker still open, increased backoff to %v", newBackoff)
	}
}

// resetCircuit resets the circuit breaker state
func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(time.Second)
	m.lastFailure.Store(time.Time{})

	// Don't change status if we're connected
	if m.Status() == StatusCircuitOpen {
		m.setStatus(StatusDisconnected)
	}
}

// testCircuit attempts to close the circuit breaker
func (m *Client) testCircuit() {
	if m.Status() == StatusCircuitOpen {
		m.logger.Debugf("Circuit breaker test: moving from open to disconnected")
		m.setStatus(StatusDisconnected)
	}
}

// WaitForConnection waits for the connection to be established
func (m *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
			if m.IsHealthy() {
				return nil
			}
		}
	}
}

// GetStatus returns current status information
func (m *Client) GetStatus() *Status {
	lastFailure := m.lastFailure.Load().(time.Time)

	status := &Status{
		Status:          m.Status(),
		FailureCount:    m.failures.Load(),
		LastFailureTime: lastFailure,
	}

	if m.conn != nil && m.conn.IsConnected() {
		if rtt, err := m.conn.RTT(); err == nil {
			status.RTT = rtt
		}
	}

	return status
}

// buildConnectionOptions builds NATS connection options from client configuration
func (m *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
	}

	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}

	return opts
}

// Connect establishes connection to NATS server
func (m *Client) Connect(ctx context.Context) error {
	if m.Status() == StatusCircuitOpen {
		m.logger.Debugf("Circuit breaker is open, skipping connection attempt")
		return ErrCircuitOpen
	}

	m.setStatus(StatusConnecting)
	m.logger.Printf("Connecting to NATS at %s", m.url)

	conn, err := nats.Connect(m.url, m.buildConnectionOptions()...)
	if err != nil {
		m.setStatus(StatusDisconnected)
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "Connect", "connect to NATS")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		m.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "create JetStream context")
	}

	m.mu.Lock()
	m.conn = conn
	m.js = js
	m.mu.Unlock()

	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.startHealthMonitoring()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.logger.Printf("Connected to NATS at %s", m.url)
	return nil
}

// Close drains subscriptions and closes the connection
func (m *Client) Close(_ context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Load() {
		return nil
	}
	m.closed.Store(true)

	m.stopHealthMonitoring()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subs {
		_ = sub.Unsubscribe()
	}
	m.subs = nil

	if m.conn != nil {
		if err := m.conn.Drain(); err != nil {
			m.logger.Errorf("Drain failed, closing connection: %v", err)
			m.conn.Close()
		}
		m.conn = nil
	}

	m.setStatus(StatusDisconnected)
	return nil
}

// Subscribe subscribes to a NATS subject with a raw message handler.
// The handler receives the message so subscribers can reply in-line.
func (m *Client) Subscribe(_ context.Context, subject string, handler func(*nats.Msg)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || !m.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := m.conn.Subscribe(subject, handler)
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}

	m.subs = append(m.subs, sub)
	return nil
}

// Publish publishes a message to a NATS subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}

	return conn.Publish(subject, data)
}

// Request performs a request/reply exchange on a subject. A subject with
// no subscribers maps to errors.ErrPeerUnreachable and a reply that never
// arrives within the deadline maps to errors.ErrPeerTimeout, so callers
// can distinguish a departed peer from a slow one.
func (m *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}

	reqCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, m.requestTimeout)
		defer cancel()
	}

	msg, err := conn.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		switch {
		case stderrors.Is(err, nats.ErrNoResponders):
			return nil, fmt.Errorf("%w: %s", errors.ErrPeerUnreachable, subject)
		case stderrors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %s", errors.ErrPeerTimeout, subject)
		default:
			return nil, errors.WrapTransient(err, "Client", "Request", "request "+subject)
		}
	}

	return msg.Data, nil
}

// JetStream returns the JetStream context
func (m *Client) JetStream() (jetstream.JetStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.js == nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("JetStream not initialized"),
			"Client", "JetStream", "get JetStream context")
	}

	return m.js, nil
}

// CreateKeyValueBucket creates (or binds to an existing) JetStream KV bucket
func (m *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := m.JetStream()
	if err != nil {
		return nil, err
	}

	kv, err := js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrBucketExists) {
			return js.KeyValue(ctx, cfg.Bucket)
		}
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "create bucket "+cfg.Bucket)
	}

	return kv, nil
}

// GetKeyValueBucket binds to an existing JetStream KV bucket
func (m *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := m.JetStream()
	if err != nil {
		return nil, err
	}

	kv, err := js.KeyValue(ctx, name)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "GetKeyValueBucket", "get bucket "+name)
	}

	return kv, nil
}

// OnHealthChange sets a callback for health state changes
func (m *Client) OnHealthChange(fn func(bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHealthChange = fn
}

// handleDisconnect is called when the NATS connection is lost
func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	if err != nil {
		m.logger.Errorf("NATS disconnected: %v", err)
	}
	m.setStatus(StatusReconnecting)
	if m.onDisconnect != nil {
		m.onDisconnect(err)
	}
}

// handleReconnect is called when the NATS connection is re-established
func (m *Client) handleReconnect(_ *nats.Conn) {
	m.logger.Printf("NATS reconnected")
	m.setStatus(StatusConnected)
	m.resetCircuit()
	if m.onReconnect != nil {
		m.onReconnect()
	}
}

// handleClosed is called when the NATS connection is permanently closed
func (m *Client) handleClosed(_ *nats.Conn) {
	if !m.closed.Load() {
		m.logger.Errorf("NATS connection closed unexpectedly")
		m.setStatus(StatusDisconnected)
	}
}

// startHealthMonitoring begins periodic connection health checks
func (m *Client) startHealthMonitoring() {
	if m.healthInterval <= 0 {
		return
	}

	m.healthTicker = time.NewTicker(m.healthInterval)
	m.healthDone = make(chan struct{})

	go func() {
		wasHealthy := m.IsHealthy()
		for {
			select {
			case <-m.healthDone:
				return
			case <-m.healthTicker.C:
				isHealthy := m.IsHealthy()
				if isHealthy != wasHealthy && m.onHealthChange != nil {
					m.onHealthChange(isHealthy)
				}
				wasHealthy = isHealthy
			}
		}
	}()
}

// stopHealthMonitoring stops the health check goroutine
func (m *Client) stopHealthMonitoring() {
	if m.healthTicker != nil {
		m.healthTicker.Stop()
	}
	if m.healthDone != nil {
		close(m.healthDone)
		m.healthDone = nil
	}
}
