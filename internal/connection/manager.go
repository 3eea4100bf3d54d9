package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketlink/internal/event"
	"marketlink/internal/model"
)

// MessageHandler receives every inbound frame, synchronously from the receive
// loop. A panicking handler is recovered and reported; it never kills the
// loop.
type MessageHandler func(data []byte, receivedAt time.Time)

// ManagerStats provides a snapshot of manager internals.
type ManagerStats struct {
	State         model.ConnectionState
	Attempts      int
	BufferedSends int
}

// Manager owns one logical streaming connection: connect, heartbeat,
// reconnect with exponential backoff, and inbound dispatch. At most one real
// connection per venue credential is a caller-side contract; the Manager
// itself never opens more than one socket at a time.
type Manager struct {
	cfg    ManagerConfig
	bus    *event.Bus
	logger *slog.Logger

	handlerMu sync.RWMutex
	handler   MessageHandler

	mu          sync.Mutex
	state       model.ConnectionState
	attempts    int // Consecutive failed connect attempts
	noReconnect bool
	sendBuf     [][]byte
	client      Client
	cancel      context.CancelFunc

	sendFailed chan error
	wg         sync.WaitGroup

	// Dial seam for tests
	newClient func(ClientConfig, *slog.Logger) Client
}

// NewManager creates a connection manager. Connect must be called to start.
func NewManager(cfg ManagerConfig, bus *event.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:        cfg,
		bus:        bus,
		logger:     logger,
		state:      model.Disconnected,
		sendFailed: make(chan error, 1),
		newClient:  NewClient,
	}
}

// OnMessage registers the inbound frame handler. Call before Connect.
func (m *Manager) OnMessage(h MessageHandler) {
	m.handlerMu.Lock()
	m.handler = h
	m.handlerMu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns a snapshot of manager internals.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ManagerStats{
		State:         m.state,
		Attempts:      m.attempts,
		BufferedSends: len(m.sendBuf),
	}
}

// Connect starts the connection supervisor. It is idempotent: calling it
// while a session is active (Connecting, Connected, or Reconnecting) is a
// no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case model.Connecting, model.Connected, model.Reconnecting:
		m.mu.Unlock()
		return nil
	case model.ShuttingDown:
		m.mu.Unlock()
		return ErrShuttingDown
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.noReconnect = false
	m.attempts = 0
	m.state = model.Connecting
	m.mu.Unlock()

	m.publishState(model.Connecting, 0, nil)

	m.wg.Add(1)
	go m.run(runCtx)

	return nil
}

// Disconnect sets the do-not-reconnect flag, closes the socket, and joins the
// background loops before returning. Idempotent.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.state == model.Disconnected {
		m.mu.Unlock()
		return nil
	}
	m.noReconnect = true
	m.state = model.ShuttingDown
	cancel := m.cancel
	m.mu.Unlock()

	m.publishState(model.ShuttingDown, 0, nil)

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.setState(model.Disconnected, 0, nil)
	return nil
}

// Send forwards a message to the socket. If the connection is not up, the
// message is queued (bounded, oldest dropped first) for a flush on reconnect
// and ErrNotConnected is returned — the caller must not assume delivery.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	if m.state != model.Connected {
		if !m.noReconnect && m.state != model.ShuttingDown {
			m.bufferLocked(data)
		}
		m.mu.Unlock()
		return ErrNotConnected
	}
	client := m.client
	m.mu.Unlock()

	if err := client.Send(data); err != nil {
		// Transport failure: queue for the next session and wake the
		// supervisor so reconnection starts.
		m.mu.Lock()
		m.bufferLocked(data)
		m.mu.Unlock()

		select {
		case m.sendFailed <- err:
		default:
		}
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// bufferLocked appends to the offline send queue, dropping the oldest entry
// when full. Caller holds m.mu.
func (m *Manager) bufferLocked(data []byte) {
	if m.cfg.SendBufferSize > 0 && len(m.sendBuf) >= m.cfg.SendBufferSize {
		m.sendBuf = m.sendBuf[1:]
	}
	m.sendBuf = append(m.sendBuf, data)
}

// run is the connection supervisor: dial, serve, reconnect with backoff.
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		client := m.newClient(m.cfg.clientConfig(), m.logger)

		if err := client.Connect(ctx); err != nil {
			m.logger.Warn("connect failed", "error", err)
			if !m.backoff(ctx, err) {
				return
			}
			continue
		}

		m.mu.Lock()
		if m.noReconnect {
			m.mu.Unlock()
			client.Close()
			return
		}
		m.client = client
		m.attempts = 0 // Delay resets on any successful connection
		m.state = model.Connected
		buffered := m.sendBuf
		m.sendBuf = nil
		m.mu.Unlock()

		m.publishState(model.Connected, 0, nil)
		m.logger.Info("connected", "url", m.cfg.URL)

		m.flush(client, buffered)

		lostErr, shutdown := m.serve(ctx, client)
		client.Close()
		if shutdown {
			return
		}

		m.logger.Warn("connection lost", "error", lostErr)
		if !m.backoff(ctx, lostErr) {
			return
		}
	}
}

// flush re-sends messages queued while disconnected, in original order.
func (m *Manager) flush(client Client, buffered [][]byte) {
	for i, data := range buffered {
		if err := client.Send(data); err != nil {
			m.logger.Warn("flush failed, requeueing remainder", "sent", i, "error", err)
			m.mu.Lock()
			for _, rest := range buffered[i:] {
				m.bufferLocked(rest)
			}
			m.mu.Unlock()
			return
		}
	}
	if len(buffered) > 0 {
		m.logger.Info("flushed buffered messages", "count", len(buffered))
	}
}

// serve pumps inbound frames until the connection dies or shutdown begins.
func (m *Manager) serve(ctx context.Context, client Client) (lost error, shutdown bool) {
	// Drop any send failure left over from the previous session.
	select {
	case <-m.sendFailed:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return nil, true

		case err := <-client.Errors():
			return err, false

		case err := <-m.sendFailed:
			return err, false

		case msg, ok := <-client.Messages():
			if !ok {
				return ErrNotConnected, false
			}
			m.dispatch(msg)
		}
	}
}

// dispatch hands one frame to the registered handler, isolating panics.
func (m *Manager) dispatch(msg TimestampedMessage) {
	m.handlerMu.RLock()
	handler := m.handler
	m.handlerMu.RUnlock()

	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("message handler panic: %v", r)
			m.logger.Error("message handler failed", "panic", r)
			if m.bus != nil {
				m.bus.Publish(event.ErrorEvent{
					Time:      time.Now(),
					Component: "connection",
					Err:       err,
				})
			}
		}
	}()

	handler(msg.Data, msg.ReceivedAt)
}

// backoff records a failed attempt and waits the exponential delay before the
// next dial. It returns false when the supervisor should stop: shutdown, or
// the attempt limit is exhausted (published as a fatal error).
func (m *Manager) backoff(ctx context.Context, cause error) bool {
	m.mu.Lock()
	if m.noReconnect {
		m.mu.Unlock()
		return false
	}
	m.attempts++
	attempt := m.attempts
	m.state = model.Reconnecting
	m.mu.Unlock()

	if m.cfg.ReconnectMaxAttempts > 0 && attempt > m.cfg.ReconnectMaxAttempts {
		err := fmt.Errorf("reconnect attempts exhausted after %d tries: %w", attempt-1, cause)
		m.logger.Error("giving up on reconnection", "attempts", attempt-1, "error", cause)
		if m.bus != nil {
			m.bus.Publish(event.ErrorEvent{
				Time:      time.Now(),
				Component: "connection",
				Err:       err,
				Fatal:     true,
			})
		}
		m.setState(model.Disconnected, attempt, cause)
		return false
	}

	m.publishState(model.Reconnecting, attempt, cause)

	delay := BackoffDelay(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay, attempt)
	m.logger.Info("reconnecting", "attempt", attempt, "delay", delay)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
	}

	m.setState(model.Connecting, attempt, nil)
	return true
}

// BackoffDelay returns the reconnect delay before the given 1-based attempt:
// base doubled per consecutive failure, capped at max.
func BackoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// setState transitions the state and publishes the corresponding event.
func (m *Manager) setState(s model.ConnectionState, attempt int, err error) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	// Shutdown wins over supervisor transitions.
	if m.noReconnect && s != model.Disconnected {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.publishState(s, attempt, err)
}

func (m *Manager) publishState(s model.ConnectionState, attempt int, err error) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(event.ConnectionEvent{
		Time:    time.Now(),
		State:   s,
		Attempt: attempt,
		Err:     err,
	})
}
