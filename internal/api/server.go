// Package api provides the HTTP REST API and WebSocket server for VitalMesh.
//
// It exposes the device registry, discovery and connection control,
// telemetry snapshots, and a real-time WebSocket event stream to
// dashboards and clinical review tools.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vitalmesh/vitalmesh-core/internal/device"
	"github.com/vitalmesh/vitalmesh-core/internal/eventbus"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/config"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/logging"
	"github.com/vitalmesh/vitalmesh-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ConnectionManager is the device-control surface the API needs.
// Satisfied by *manager.Manager; narrowed for testing.
type ConnectionManager interface {
	Discover(ctx context.Context) ([]device.Info, error)
	Connect(ctx context.Context, id string) error
	Disconnect(ctx context.Context, id string) error
	Status(id string) device.Status
}

// CommandSender delivers commands to a connected device.
// Satisfied by *manager.Dispatcher.
type CommandSender interface {
	Send(ctx context.Context, deviceID, name string, payload json.RawMessage) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Manager  ConnectionManager
	Sender   CommandSender
	Buffers  *telemetry.BufferSet
	Bus      *eventbus.Bus
	Version  string
}

// Server is the HTTP API server for VitalMesh.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	registry *device.Registry
	manager  ConnectionManager
	sender   CommandSender
	buffers  *telemetry.BufferSet
	bus      *eventbus.Bus
	version  string

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("connection manager is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger.With("component", "api"),
		registry: deps.Registry,
		manager:  deps.Manager,
		sender:   deps.Sender,
		buffers:  deps.Buffers,
		bus:      deps.Bus,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, subscribes to the
// event bus for real-time broadcast, and launches the HTTP listener in
// a background goroutine. The server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.cfg.WebSocket, s.logger)
	go s.hub.Run(srvCtx)

	// Relay bus events to WebSocket subscribers.
	if s.bus != nil {
		s.relayBusEvents(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// relayBusEvents forwards bus telemetry and status events to WebSocket
// clients on the "telemetry" and "device.status" channels.
func (s *Server) relayBusEvents(ctx context.Context) {
	telemetrySub := s.bus.SubscribeTelemetry()
	statusSub := s.bus.SubscribeStatus()
	if telemetrySub == nil || statusSub == nil {
		s.logger.Warn("event bus closed; WebSocket relay disabled")
		return
	}

	go func() {
		defer telemetrySub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-telemetrySub.Events():
				if !ok {
					return
				}
				s.hub.Broadcast(ChannelTelemetry, map[string]any{
					"device_id": ev.DeviceID,
					"transport": string(ev.Transport),
					"data":      ev.Data,
				})
			}
		}
	}()

	go func() {
		defer statusSub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-statusSub.Events():
				if !ok {
					return
				}
				s.hub.Broadcast(ChannelDeviceStatus, map[string]any{
					"device_id": ev.DeviceID,
					"kind":      ev.Kind,
					"previous":  string(ev.Previous),
					"current":   string(ev.Current),
					"reason":    ev.Reason,
					"report":    ev.Envelope,
					"at":        ev.At.UTC().Format(time.RFC3339),
				})
			}
		}
	}()
}
