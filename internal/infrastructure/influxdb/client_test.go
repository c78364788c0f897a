package influxdb

import (
	"context"
	"testing"
	"time"

	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/config"
	"github.com/vitalmesh/vitalmesh-core/internal/telemetry"
)

func TestConnectDisabled(t *testing.T) {
	cfg := config.InfluxDBConfig{Enabled: false}

	client, err := Connect(cfg)
	if err != ErrDisabled {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
	if client != nil {
		t.Error("expected nil client when disabled")
	}
}

func TestWriteBeforeConnect(t *testing.T) {
	client := &Client{}
	data := &telemetry.DeviceData{
		DeviceID:  "dev-1",
		HeartRate: telemetry.Float64(72),
		Timestamp: time.Now(),
	}

	// Must be safe no-ops on a disconnected client.
	client.WriteTelemetry(data, "short_range_wireless")
	client.WriteConnectionEvent("dev-1", "connected", "reconnecting", "link lost")
	client.WritePoint("custom", nil, map[string]interface{}{"v": 1})
	client.Flush()
}

func TestTelemetryPointFields(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	data := &telemetry.DeviceData{
		DeviceID:       "inhaler-7",
		HeartRate:      telemetry.Float64(75),
		AirQuality:     telemetry.Float64(85),
		InhalerBattery: telemetry.Int(90),
		Timestamp:      ts,
	}

	point := telemetryPoint(data, "serial_link")
	if point == nil {
		t.Fatal("expected a point for populated sample")
	}
	if point.Name() != measurementTelemetry {
		t.Errorf("measurement = %q, want %q", point.Name(), measurementTelemetry)
	}
	if !point.Time().Equal(ts) {
		t.Errorf("point time = %v, want sample timestamp %v", point.Time(), ts)
	}

	tags := make(map[string]string)
	for _, tag := range point.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["device_id"] != "inhaler-7" {
		t.Errorf("device_id tag = %q", tags["device_id"])
	}
	if tags["transport"] != "serial_link" {
		t.Errorf("transport tag = %q", tags["transport"])
	}

	fields := make(map[string]interface{})
	for _, f := range point.FieldList() {
		fields[f.Key] = f.Value
	}
	if got := fields["heart_rate"]; got != 75.0 {
		t.Errorf("heart_rate = %v, want 75", got)
	}
	if got := fields["air_quality"]; got != 85.0 {
		t.Errorf("air_quality = %v, want 85", got)
	}
	if _, ok := fields["wearable_battery"]; ok {
		t.Error("unset metric should not produce a field")
	}
	if _, ok := fields["inhaler_battery"]; !ok {
		t.Error("inhaler_battery field missing")
	}
}

func TestTelemetryPointEmptySample(t *testing.T) {
	data := &telemetry.DeviceData{DeviceID: "dev-1", Timestamp: time.Now()}
	if point := telemetryPoint(data, "local_socket"); point != nil {
		t.Error("empty sample should not produce a point")
	}
}

func TestHealthCheckNotConnected(t *testing.T) {
	client := &Client{}
	if err := client.HealthCheck(context.Background()); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestCloseNotConnected(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close on disconnected client should be nil, got %v", err)
	}
}
