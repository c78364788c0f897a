package sink

import (
	"fmt"
	"sync"

	"github.com/vitalmesh/vitalmesh-core/internal/eventbus"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/logging"
	"github.com/vitalmesh/vitalmesh-core/internal/telemetry"
)

// Writer is the time-series surface the sink needs.
// Satisfied by *influxdb.Client.
type Writer interface {
	WriteTelemetry(data *telemetry.DeviceData, transport string)
	WriteConnectionEvent(deviceID, from, to, reason string)
}

// Sink drains the event bus into long-term time-series storage.
//
// Telemetry samples become points in the device_telemetry measurement;
// connection state changes land in connection_events. Device-reported
// status envelopes are not persisted, they are transient by nature.
//
// Thread Safety: All methods are safe for concurrent use.
type Sink struct {
	bus    *eventbus.Bus
	writer Writer
	logger *logging.Logger

	telemetrySub *eventbus.TelemetrySubscription
	statusSub    *eventbus.StatusSubscription

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a sink. Call Start to begin draining.
func New(bus *eventbus.Bus, writer Writer, logger *logging.Logger) (*Sink, error) {
	if bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if writer == nil {
		return nil, fmt.Errorf("writer is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Sink{
		bus:    bus,
		writer: writer,
		logger: logger.With("component", "sink"),
	}, nil
}

// Start subscribes to the bus and begins writing.
func (s *Sink) Start() error {
	s.telemetrySub = s.bus.SubscribeTelemetry()
	s.statusSub = s.bus.SubscribeStatus()
	if s.telemetrySub == nil || s.statusSub == nil {
		return fmt.Errorf("event bus is closed")
	}

	s.wg.Add(2)
	go s.drainTelemetry()
	go s.drainStatus()

	s.logger.Info("sink started")
	return nil
}

// Stop unsubscribes and waits for the drain loops.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		if s.telemetrySub != nil {
			s.telemetrySub.Close()
		}
		if s.statusSub != nil {
			s.statusSub.Close()
		}
		s.wg.Wait()
		s.logger.Info("sink stopped")
	})
}

func (s *Sink) drainTelemetry() {
	defer s.wg.Done()
	for ev := range s.telemetrySub.Events() {
		s.writer.WriteTelemetry(ev.Data, string(ev.Transport))
	}
}

func (s *Sink) drainStatus() {
	defer s.wg.Done()
	for ev := range s.statusSub.Events() {
		if ev.Kind != eventbus.KindStateChange {
			continue
		}
		s.writer.WriteConnectionEvent(ev.DeviceID,
			string(ev.Previous), string(ev.Current), ev.Reason)
	}
}
