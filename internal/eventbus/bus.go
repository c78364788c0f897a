package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitalmesh/vitalmesh-core/internal/device"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/logging"
	"github.com/vitalmesh/vitalmesh-core/internal/telemetry"
)

// defaultQueueSize is the per-subscriber event buffer.
const defaultQueueSize = 64

// Status event kinds.
const (
	// KindStateChange marks a connection state transition observed by
	// the connection manager.
	KindStateChange = "state_change"

	// KindDeviceReport marks a status envelope reported by the device
	// itself over its transport.
	KindDeviceReport = "device_report"
)

// TelemetryEvent is one decoded measurement published to subscribers.
type TelemetryEvent struct {
	DeviceID  string
	Transport device.Transport
	Data      *telemetry.DeviceData
}

// StatusEvent is a device lifecycle or device-reported status change.
//
// Previous and Current are set for state changes; Envelope is set for
// device reports.
type StatusEvent struct {
	DeviceID string
	Kind     string
	Previous device.Status
	Current  device.Status
	Reason   string
	Envelope *telemetry.StatusEnvelope
	At       time.Time
}

// Stats holds bus counters.
type Stats struct {
	TelemetryPublished uint64
	StatusPublished    uint64
	EventsDropped      uint64
	TelemetrySubs      int
	StatusSubs         int
}

// Bus fans events out to subscribers over buffered channels.
//
// Delivery per subscriber is in publish order; because each device's
// read loop is the sole publisher for that device, per-device ordering
// holds end to end. A slow subscriber loses its own oldest events
// (bounded queue, drop-oldest) and never blocks the publisher or other
// subscribers.
//
// Thread Safety: all methods are safe for concurrent use.
type Bus struct {
	mu            sync.RWMutex
	closed        bool
	telemetrySubs map[uint64]*TelemetrySubscription
	statusSubs    map[uint64]*StatusSubscription

	nextID    atomic.Uint64
	queueSize int
	logger    *logging.Logger

	telemetryPublished atomic.Uint64
	statusPublished    atomic.Uint64
	eventsDropped      atomic.Uint64
}

// New creates an event bus. queueSize <= 0 selects the default
// per-subscriber buffer.
func New(queueSize int, logger *logging.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{
		telemetrySubs: make(map[uint64]*TelemetrySubscription),
		statusSubs:    make(map[uint64]*StatusSubscription),
		queueSize:     queueSize,
		logger:        logger.With("component", "eventbus"),
	}
}

// TelemetrySubscription is one subscriber's handle on the telemetry
// stream. Close releases it; the Events channel is closed afterwards.
type TelemetrySubscription struct {
	id     uint64
	bus    *Bus
	events chan TelemetryEvent
	once   sync.Once
}

// Events returns the subscriber's event channel.
func (s *TelemetrySubscription) Events() <-chan TelemetryEvent { return s.events }

// Close unregisters the subscription and closes its channel.
func (s *TelemetrySubscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.telemetrySubs, s.id)
		s.bus.mu.Unlock()
		close(s.events)
	})
}

// StatusSubscription is one subscriber's handle on the status stream.
type StatusSubscription struct {
	id     uint64
	bus    *Bus
	events chan StatusEvent
	once   sync.Once
}

// Events returns the subscriber's event channel.
func (s *StatusSubscription) Events() <-chan StatusEvent { return s.events }

// Close unregisters the subscription and closes its channel.
func (s *StatusSubscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.statusSubs, s.id)
		s.bus.mu.Unlock()
		close(s.events)
	})
}

// SubscribeTelemetry registers a telemetry subscriber. Returns nil
// after Close.
func (b *Bus) SubscribeTelemetry() *TelemetrySubscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	sub := &TelemetrySubscription{
		id:     b.nextID.Add(1),
		bus:    b,
		events: make(chan TelemetryEvent, b.queueSize),
	}
	b.telemetrySubs[sub.id] = sub
	return sub
}

// SubscribeStatus registers a status subscriber. Returns nil after
// Close.
func (b *Bus) SubscribeStatus() *StatusSubscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	sub := &StatusSubscription{
		id:     b.nextID.Add(1),
		bus:    b,
		events: make(chan StatusEvent, b.queueSize),
	}
	b.statusSubs[sub.id] = sub
	return sub
}

// PublishTelemetry fans a telemetry event out to every subscriber.
// Never blocks: a full subscriber queue drops its oldest event.
func (b *Bus) PublishTelemetry(ev TelemetryEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	b.telemetryPublished.Add(1)
	for _, sub := range b.telemetrySubs {
		if dropOldestTelemetry(sub.events, ev) {
			b.eventsDropped.Add(1)
			b.logger.Warn("telemetry subscriber queue full, dropped oldest",
				"device_id", ev.DeviceID)
		}
	}
}

// PublishStatus fans a status event out to every subscriber.
func (b *Bus) PublishStatus(ev StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	b.statusPublished.Add(1)
	for _, sub := range b.statusSubs {
		if dropOldestStatus(sub.events, ev) {
			b.eventsDropped.Add(1)
			b.logger.Warn("status subscriber queue full, dropped oldest",
				"device_id", ev.DeviceID)
		}
	}
}

// dropOldestTelemetry enqueues ev, evicting the oldest queued event
// when the buffer is full. Reports whether an eviction happened.
//
// The publisher holds the bus read lock and subscription channels are
// only closed under the write lock, so the send cannot race a close.
func dropOldestTelemetry(ch chan TelemetryEvent, ev TelemetryEvent) bool {
	dropped := false
	for {
		select {
		case ch <- ev:
			return dropped
		default:
			select {
			case <-ch:
				dropped = true
			default:
			}
		}
	}
}

// dropOldestStatus is dropOldestTelemetry for the status stream.
func dropOldestStatus(ch chan StatusEvent, ev StatusEvent) bool {
	dropped := false
	for {
		select {
		case ch <- ev:
			return dropped
		default:
			select {
			case <-ch:
				dropped = true
			default:
			}
		}
	}
}

// Stats returns current bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		TelemetryPublished: b.telemetryPublished.Load(),
		StatusPublished:    b.statusPublished.Load(),
		EventsDropped:      b.eventsDropped.Load(),
		TelemetrySubs:      len(b.telemetrySubs),
		StatusSubs:         len(b.statusSubs),
	}
}

// Close shuts the bus down and closes every subscriber channel.
// Publishes after Close are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true

	tSubs := make([]*TelemetrySubscription, 0, len(b.telemetrySubs))
	for _, sub := range b.telemetrySubs {
		tSubs = append(tSubs, sub)
	}
	sSubs := make([]*StatusSubscription, 0, len(b.statusSubs))
	for _, sub := range b.statusSubs {
		sSubs = append(sSubs, sub)
	}
	b.mu.Unlock()

	// Subscription.Close re-acquires the lock, so it runs after release.
	for _, sub := range tSubs {
		sub.Close()
	}
	for _, sub := range sSubs {
		sub.Close()
	}
}
