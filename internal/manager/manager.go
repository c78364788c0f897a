package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitalmesh/vitalmesh-core/internal/device"
	"github.com/vitalmesh/vitalmesh-core/internal/eventbus"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/config"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/logging"
	"github.com/vitalmesh/vitalmesh-core/internal/telemetry"
	"github.com/vitalmesh/vitalmesh-core/internal/transport"
)

// connState tracks one device's connection lifecycle.
//
// mu guards every field and every state transition for the device,
// including retry timer arm/cancel, so at most one transition is in
// flight per device id. Blocking adapter calls run outside the lock;
// their results are applied only if generation still matches.
type connState struct {
	mu         sync.Mutex
	status     device.Status
	session    transport.Session
	retryTimer *time.Timer
	attempt    int
	generation uint64
}

// Stats holds manager counters.
type Stats struct {
	ConnectsTotal    uint64
	DisconnectsTotal uint64
	ReconnectsTotal  uint64
	FramesReceived   uint64
	DecodeErrors     uint64
	ActiveSessions   int
	PendingRetries   int
}

// Manager owns every device connection: it drives the per-device state
// machine, runs one read loop per live session, and feeds decoded
// frames to the event bus and retention buffers.
//
// Thread Safety: all methods are safe for concurrent use. Transitions
// for one device are serialized by that device's state lock.
type Manager struct {
	registry *device.Registry
	adapters map[device.Transport]transport.Adapter
	decoder  *telemetry.Decoder
	buffers  *telemetry.BufferSet
	bus      *eventbus.Bus
	cfg      config.TransportsConfig
	logger   *logging.Logger

	mu    sync.Mutex
	conns map[string]*connState

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup

	connectsTotal    atomic.Uint64
	disconnectsTotal atomic.Uint64
	reconnectsTotal  atomic.Uint64
	framesReceived   atomic.Uint64
	decodeErrors     atomic.Uint64
}

// Options collects the manager's collaborators.
type Options struct {
	Registry   *device.Registry
	Adapters   []transport.Adapter
	Decoder    *telemetry.Decoder
	Buffers    *telemetry.BufferSet
	Bus        *eventbus.Bus
	Transports config.TransportsConfig
	Logger     *logging.Logger
}

// New creates a connection manager. Each instance is independent; no
// global state is shared between managers.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = telemetry.NewDecoder()
	}

	adapters := make(map[device.Transport]transport.Adapter, len(opts.Adapters))
	for _, a := range opts.Adapters {
		adapters[a.Kind()] = a
	}

	return &Manager{
		registry: opts.Registry,
		adapters: adapters,
		decoder:  decoder,
		buffers:  opts.Buffers,
		bus:      opts.Bus,
		cfg:      opts.Transports,
		logger:   logger.With("component", "manager"),
		conns:    make(map[string]*connState),
		done:     make(chan struct{}),
	}
}

// Discover sweeps every registered adapter concurrently and merges the
// results into the registry. Discovery never mutates the registry until
// all sweeps finish; known devices keep their identity and state.
//
// A transport whose sweep fails is logged and skipped; the other
// transports' results still merge.
func (m *Manager) Discover(ctx context.Context) ([]device.Info, error) {
	if m.isClosed() {
		return nil, ErrShuttingDown
	}

	type sweep struct {
		kind  device.Transport
		infos []device.Info
		err   error
	}

	results := make(chan sweep, len(m.adapters))
	var wg sync.WaitGroup
	for kind, adapter := range m.adapters {
		wg.Add(1)
		go func(kind device.Transport, adapter transport.Adapter) {
			defer wg.Done()
			sweepCtx, cancel := context.WithTimeout(ctx, m.tuningFor(kind).DiscoveryTimeoutDuration())
			defer cancel()
			infos, err := adapter.Discover(sweepCtx)
			results <- sweep{kind: kind, infos: infos, err: err}
		}(kind, adapter)
	}
	wg.Wait()
	close(results)

	var discovered []device.Info
	for res := range results {
		if res.err != nil {
			m.logger.Warn("discovery sweep failed",
				"transport", string(res.kind), "error", res.err)
			continue
		}
		discovered = append(discovered, res.infos...)
	}

	// Merge phase: reconcile against the registry in one pass.
	merged := make([]device.Info, 0, len(discovered))
	for i := range discovered {
		info := discovered[i]
		if existing := m.findExisting(info); existing != nil {
			merged = append(merged, *existing)
			continue
		}
		if err := m.registry.Upsert(ctx, &info); err != nil {
			m.logger.Warn("discovered device rejected",
				"address", info.Address, "error", err)
			continue
		}
		merged = append(merged, info)
	}

	m.logger.Info("discovery complete",
		"transports", len(m.adapters), "devices", len(merged))
	return merged, nil
}

// findExisting matches a discovery result to an already-registered
// device by transport and address.
func (m *Manager) findExisting(info device.Info) *device.Info {
	for _, existing := range m.registry.ListByTransport(info.Transport) {
		if existing.Address == info.Address {
			e := existing
			return &e
		}
	}
	return nil
}

// Connect establishes a session to the device.
//
// Valid only from the disconnected and failed states. On success the
// device is connected with a fresh read loop; on failure it returns to
// disconnected and no automatic retry is scheduled — explicit connects
// never auto-retry.
func (m *Manager) Connect(ctx context.Context, id string) error {
	if m.isClosed() {
		return ErrShuttingDown
	}

	info, err := m.registry.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	adapter, ok := m.adapters[info.Transport]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoAdapter, info.Transport)
	}

	st := m.stateFor(id)

	st.mu.Lock()
	switch st.status {
	case device.StatusDisconnected, device.StatusFailed:
	default:
		defer st.mu.Unlock()
		return fmt.Errorf("%w: connect from %s", ErrInvalidTransition, st.status)
	}
	st.attempt = 0
	gen := st.generation
	m.setStatusLocked(id, st, device.StatusConnecting, "connect requested")
	st.mu.Unlock()

	sess, connErr := m.dial(ctx, adapter, *info)

	st.mu.Lock()
	defer st.mu.Unlock()
	if gen != st.generation {
		if sess != nil {
			go m.closeSession(sess)
		}
		return ErrSuperseded
	}

	if connErr != nil {
		m.setStatusLocked(id, st, device.StatusDisconnected, "connect failed: "+connErr.Error())
		return connErr
	}

	m.adoptSessionLocked(id, st, sess, "connect succeeded")
	return nil
}

// Disconnect tears the device's connection down.
//
// Valid from any non-terminal state: it cancels a pending retry timer,
// invalidates in-flight operations, and waits (bounded by ctx) for an
// in-flight send before releasing the session.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	if _, err := m.registry.Get(id); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	st := m.stateFor(id)

	st.mu.Lock()
	if st.status == device.StatusFailed {
		st.mu.Unlock()
		return fmt.Errorf("%w: disconnect from %s", ErrInvalidTransition, st.status)
	}
	if st.status == device.StatusDisconnected {
		st.mu.Unlock()
		return nil
	}

	st.generation++
	m.cancelRetryLocked(st)
	st.attempt = 0
	sess := st.session
	st.session = nil
	m.setStatusLocked(id, st, device.StatusDisconnected, "disconnect requested")
	st.mu.Unlock()

	m.disconnectsTotal.Add(1)
	if sess != nil {
		if err := sess.Close(ctx); err != nil {
			m.logger.Warn("session close failed", "device_id", id, "error", err)
		}
	}
	return nil
}

// dial runs one bounded connect attempt against the adapter.
func (m *Manager) dial(ctx context.Context, adapter transport.Adapter, info device.Info) (transport.Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.tuningFor(info.Transport).ConnectTimeoutDuration())
	defer cancel()
	return adapter.Connect(dialCtx, info)
}

// adoptSessionLocked installs a freshly opened session and starts its
// read loop. Caller holds st.mu.
func (m *Manager) adoptSessionLocked(id string, st *connState, sess transport.Session, reason string) {
	st.session = sess
	st.attempt = 0
	m.setStatusLocked(id, st, device.StatusConnected, reason)
	m.connectsTotal.Add(1)

	gen := st.generation
	m.wg.Add(1)
	go m.readLoop(id, gen, sess)
}

// readLoop consumes one session's frame stream until it closes. Each
// device's loop is an independent goroutine; the frame receive is its
// only suspension point, so one slow device never stalls another.
//
// Decode errors are local: log, drop the frame, keep reading.
func (m *Manager) readLoop(id string, gen uint64, sess transport.Session) {
	defer m.wg.Done()

	for frame := range sess.Frames() {
		m.framesReceived.Add(1)

		res, err := m.decoder.Decode(sess.Kind(), frame.Payload)
		if err != nil {
			m.decodeErrors.Add(1)
			m.logger.Debug("frame dropped",
				"device_id", id, "error", err)
			continue
		}

		switch {
		case res.Data != nil:
			res.Data.DeviceID = id
			if m.buffers != nil {
				m.buffers.For(id).Append(res.Data)
			}
			if pct, ok := res.Data.BatteryPercent(); ok {
				m.registry.SetBatteryLevel(id, pct)
			}
			if m.bus != nil {
				m.bus.PublishTelemetry(eventbus.TelemetryEvent{
					DeviceID:  id,
					Transport: sess.Kind(),
					Data:      res.Data,
				})
			}
		case res.Status != nil:
			if m.bus != nil {
				m.bus.PublishStatus(eventbus.StatusEvent{
					DeviceID: id,
					Kind:     eventbus.KindDeviceReport,
					Envelope: res.Status,
					At:       res.Status.Timestamp,
				})
			}
		}
	}

	m.handleLoss(id, gen)
}

// handleLoss reacts to a closed frame stream. A deliberate disconnect
// advanced the generation first, so only unsolicited losses get here
// with a current generation.
func (m *Manager) handleLoss(id string, gen uint64) {
	st := m.stateFor(id)

	st.mu.Lock()
	defer st.mu.Unlock()

	if gen != st.generation || st.status != device.StatusConnected {
		return
	}

	sess := st.session
	st.session = nil
	if sess != nil {
		go m.closeSession(sess)
	}

	if m.isClosed() {
		m.setStatusLocked(id, st, device.StatusDisconnected, "shutdown")
		return
	}

	tuning := m.tuningForDevice(id)
	if tuning.MaxReconnectAttempts <= 0 {
		m.setStatusLocked(id, st, device.StatusDisconnected, "connection lost")
		return
	}

	st.attempt = 0
	m.setStatusLocked(id, st, device.StatusReconnecting, "connection lost")
	m.armRetryLocked(id, st, tuning.ReconnectDelayDuration())
}

// armRetryLocked schedules the next reconnect attempt. Caller holds
// st.mu; any previously armed timer for this id is cancelled first, so
// at most one timer exists per device.
func (m *Manager) armRetryLocked(id string, st *connState, delay time.Duration) {
	m.cancelRetryLocked(st)
	gen := st.generation
	st.retryTimer = time.AfterFunc(delay, func() {
		m.retryAttempt(id, gen)
	})
}

// cancelRetryLocked stops and clears a pending retry timer. Caller
// holds st.mu.
func (m *Manager) cancelRetryLocked(st *connState) {
	if st.retryTimer != nil {
		st.retryTimer.Stop()
		st.retryTimer = nil
	}
}

// retryAttempt runs one automatic reconnect attempt. Exceeding the
// attempt cap moves the device to the terminal failed state with
// exactly one terminal status event; nothing further happens until an
// explicit Connect.
func (m *Manager) retryAttempt(id string, gen uint64) {
	info, err := m.registry.Get(id)
	if err != nil {
		return
	}
	adapter, ok := m.adapters[info.Transport]
	if !ok {
		return
	}
	tuning := m.tuningFor(info.Transport)

	st := m.stateFor(id)

	st.mu.Lock()
	if gen != st.generation || st.status != device.StatusReconnecting || m.isClosed() {
		st.mu.Unlock()
		return
	}
	st.retryTimer = nil
	st.attempt++
	attempt := st.attempt
	m.setStatusLocked(id, st, device.StatusConnecting,
		fmt.Sprintf("reconnect attempt %d/%d", attempt, tuning.MaxReconnectAttempts))
	st.mu.Unlock()

	sess, connErr := m.dial(context.Background(), adapter, *info)

	st.mu.Lock()
	defer st.mu.Unlock()
	if gen != st.generation {
		if sess != nil {
			go m.closeSession(sess)
		}
		return
	}

	if connErr != nil {
		if attempt >= tuning.MaxReconnectAttempts {
			m.cancelRetryLocked(st)
			st.attempt = 0
			m.setStatusLocked(id, st, device.StatusFailed,
				fmt.Sprintf("reconnect gave up after %d attempts", attempt))
			return
		}
		m.setStatusLocked(id, st, device.StatusReconnecting, "reconnect failed: "+connErr.Error())
		m.armRetryLocked(id, st, tuning.ReconnectDelayDuration())
		return
	}

	m.reconnectsTotal.Add(1)
	m.adoptSessionLocked(id, st, sess, "reconnected")
}

// Session returns the device's live session, or ErrNotConnected.
func (m *Manager) Session(id string) (transport.Session, error) {
	st := m.stateFor(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status != device.StatusConnected || st.session == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotConnected, id, st.status)
	}
	return st.session, nil
}

// Status returns the device's current connection state.
func (m *Manager) Status(id string) device.Status {
	st := m.stateFor(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status
}

// Stats returns manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	states := make([]*connState, 0, len(m.conns))
	for _, st := range m.conns {
		states = append(states, st)
	}
	m.mu.Unlock()

	var sessions, retries int
	for _, st := range states {
		st.mu.Lock()
		if st.session != nil {
			sessions++
		}
		if st.retryTimer != nil {
			retries++
		}
		st.mu.Unlock()
	}

	return Stats{
		ConnectsTotal:    m.connectsTotal.Load(),
		DisconnectsTotal: m.disconnectsTotal.Load(),
		ReconnectsTotal:  m.reconnectsTotal.Load(),
		FramesReceived:   m.framesReceived.Load(),
		DecodeErrors:     m.decodeErrors.Load(),
		ActiveSessions:   sessions,
		PendingRetries:   retries,
	}
}

// Close stops the manager: it cancels every retry timer, invalidates
// in-flight operations, closes every live session, and waits for the
// read loops to drain, bounded by ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.stopOnce.Do(func() {
		close(m.done)

		m.mu.Lock()
		ids := make([]string, 0, len(m.conns))
		for id := range m.conns {
			ids = append(ids, id)
		}
		m.mu.Unlock()

		for _, id := range ids {
			st := m.stateFor(id)
			st.mu.Lock()
			st.generation++
			m.cancelRetryLocked(st)
			sess := st.session
			st.session = nil
			if st.status != device.StatusDisconnected && st.status != device.StatusFailed {
				m.setStatusLocked(id, st, device.StatusDisconnected, "shutdown")
			}
			st.mu.Unlock()

			if sess != nil {
				if err := sess.Close(ctx); err != nil {
					m.logger.Warn("session close failed", "device_id", id, "error", err)
				}
			}
		}
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("manager close: %w", ctx.Err())
	}
}

// setStatusLocked applies a state transition: it updates the per-device
// state, persists through the registry, and publishes one status event.
// Caller holds st.mu.
func (m *Manager) setStatusLocked(id string, st *connState, next device.Status, reason string) {
	prev := st.status
	st.status = next

	if _, err := m.registry.SetStatus(context.Background(), id, next); err != nil {
		m.logger.Warn("status persist failed", "device_id", id, "error", err)
	}

	m.logger.Info("device state",
		"device_id", id, "from", string(prev), "to", string(next), "reason", reason)

	if m.bus != nil {
		m.bus.PublishStatus(eventbus.StatusEvent{
			DeviceID: id,
			Kind:     eventbus.KindStateChange,
			Previous: prev,
			Current:  next,
			Reason:   reason,
			At:       time.Now().UTC(),
		})
	}
}

// closeSession releases a session that lost its owner (stale result or
// unsolicited loss) without blocking a state lock.
func (m *Manager) closeSession(sess transport.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Close(ctx); err != nil {
		m.logger.Debug("orphan session close failed", "error", err)
	}
}

// stateFor returns the device's connection state, creating it on first
// use.
func (m *Manager) stateFor(id string) *connState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.conns[id]
	if !ok {
		st = &connState{status: device.StatusDisconnected}
		m.conns[id] = st
	}
	return st
}

// tuningFor returns the configuration snapshot for one transport.
func (m *Manager) tuningFor(kind device.Transport) config.TransportTuning {
	switch kind {
	case device.TransportWireless:
		return m.cfg.Wireless.Tuning
	case device.TransportSocket:
		return m.cfg.Socket.Tuning
	case device.TransportSerial:
		return m.cfg.Serial.Tuning
	default:
		return config.TransportTuning{}
	}
}

// tuningForDevice resolves the device's transport tuning via the
// registry.
func (m *Manager) tuningForDevice(id string) config.TransportTuning {
	info, err := m.registry.Get(id)
	if err != nil {
		return config.TransportTuning{}
	}
	return m.tuningFor(info.Transport)
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
