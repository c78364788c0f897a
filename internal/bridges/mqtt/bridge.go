package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vitalmesh/vitalmesh-core/internal/eventbus"
	mqttclient "github.com/vitalmesh/vitalmesh-core/internal/infrastructure/mqtt"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/logging"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid command topic.
	minTopicParts = 3

	// commandTimeout bounds dispatch of an inbound broker command.
	commandTimeout = 5 * time.Second
)

// Publisher is the broker surface the bridge needs.
// Satisfied by *mqttclient.Client; narrowed for testing.
type Publisher interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqttclient.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// CommandSender delivers inbound broker commands to a device.
// Satisfied by *manager.Dispatcher.
type CommandSender interface {
	Send(ctx context.Context, deviceID, name string, payload json.RawMessage) error
}

// Bridge mirrors the internal event bus onto the MQTT broker and feeds
// broker commands back to connected devices.
//
// Outbound:
//   - decoded telemetry -> vitalmesh/telemetry/{id}
//   - state changes and device reports -> vitalmesh/device/{id}/status (retained)
//
// Inbound:
//   - vitalmesh/command/{id} -> CommandSender
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bus    *eventbus.Bus
	broker Publisher
	sender CommandSender
	qos    byte
	topics mqttclient.Topics
	logger *logging.Logger

	telemetrySub *eventbus.TelemetrySubscription
	statusSub    *eventbus.StatusSubscription

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Bus is the internal event bus to mirror.
	Bus *eventbus.Bus

	// Broker is the connected MQTT client.
	Broker Publisher

	// Sender handles inbound device commands. Optional; if nil the
	// bridge is publish-only and ignores the command topic.
	Sender CommandSender

	// QoS applies to all outbound publishes.
	QoS byte

	// Logger is optional structured logger.
	Logger *logging.Logger
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker client is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Bridge{
		bus:    opts.Bus,
		broker: opts.Broker,
		sender: opts.Sender,
		qos:    opts.QoS,
		logger: logger.With("component", "mqtt_bridge"),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start subscribes to the event bus and the inbound command topic and
// begins forwarding in both directions.
func (b *Bridge) Start() error {
	b.telemetrySub = b.bus.SubscribeTelemetry()
	b.statusSub = b.bus.SubscribeStatus()
	if b.telemetrySub == nil || b.statusSub == nil {
		return fmt.Errorf("event bus is closed")
	}

	if b.sender != nil {
		topic := b.topics.AllDeviceCommands()
		if err := b.broker.Subscribe(topic, b.qos, b.handleCommand); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		b.logger.Info("subscribed to commands", "topic", topic)
	}

	b.wg.Add(2)
	go b.pumpTelemetry()
	go b.pumpStatus()

	b.logger.Info("bridge started", "qos", b.qos)
	return nil
}

// Stop shuts the bridge down and waits for the forwarding loops.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.cancel()

		// Closing the subscriptions ends the pump loops.
		if b.telemetrySub != nil {
			b.telemetrySub.Close()
		}
		if b.statusSub != nil {
			b.statusSub.Close()
		}

		b.wg.Wait()
		b.logger.Info("bridge stopped")
	})
}

// pumpTelemetry forwards decoded samples to the broker.
func (b *Bridge) pumpTelemetry() {
	defer b.wg.Done()

	for ev := range b.telemetrySub.Events() {
		payload, err := json.Marshal(newTelemetryMessage(ev))
		if err != nil {
			b.logger.Warn("telemetry marshal failed", "device_id", ev.DeviceID, "error", err)
			continue
		}

		topic := b.topics.Telemetry(ev.DeviceID)
		if err := b.broker.Publish(topic, payload, b.qos, false); err != nil {
			b.logger.Debug("telemetry publish failed",
				"device_id", ev.DeviceID,
				"topic", topic,
				"error", err)
		}
	}
}

// pumpStatus forwards state changes and device reports, retained so a
// late subscriber sees each device's current state.
func (b *Bridge) pumpStatus() {
	defer b.wg.Done()

	for ev := range b.statusSub.Events() {
		payload, err := json.Marshal(newStatusMessage(ev))
		if err != nil {
			b.logger.Warn("status marshal failed", "device_id", ev.DeviceID, "error", err)
			continue
		}

		topic := b.topics.DeviceStatus(ev.DeviceID)
		if err := b.broker.Publish(topic, payload, b.qos, true); err != nil {
			b.logger.Debug("status publish failed",
				"device_id", ev.DeviceID,
				"topic", topic,
				"error", err)
		}
	}
}

// handleCommand processes one inbound broker command.
// Topic shape: vitalmesh/command/{device_id}
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	deviceID, err := deviceIDFromTopic(topic)
	if err != nil {
		b.logger.Warn("invalid command topic", "topic", topic, "error", err)
		return err
	}

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logger.Warn("invalid command payload", "device_id", deviceID, "error", err)
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if msg.Name == "" {
		b.logger.Warn("command missing name", "device_id", deviceID)
		return ErrInvalidCommand
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.sender.Send(ctx, deviceID, msg.Name, msg.Payload); err != nil {
		b.logger.Warn("command dispatch failed",
			"device_id", deviceID,
			"command", msg.Name,
			"error", err)
		return err
	}

	b.logger.Debug("command dispatched", "device_id", deviceID, "command", msg.Name)
	return nil
}

// deviceIDFromTopic extracts the device ID from a command topic.
func deviceIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts || parts[len(parts)-1] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return parts[len(parts)-1], nil
}
