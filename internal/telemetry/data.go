package telemetry

import "time"

// DeviceData is the common telemetry record every transport's wire
// format normalises into.
//
// All measurement fields are optional; a valid record populates at
// least one of them. Records are never mutated after creation.
type DeviceData struct {
	HeartRate    *float64 `json:"heartRate,omitempty"`
	AirQuality   *float64 `json:"airQuality,omitempty"`
	InhalerUsage *float64 `json:"inhalerUsage,omitempty"`

	InhalerBattery  *int `json:"inhalerBattery,omitempty"`
	WearableBattery *int `json:"wearableBattery,omitempty"`

	// Timestamp is required. Wire formats that carry no timestamp are
	// stamped at decode time.
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is set by the read loop before publication; decoders
	// leave it empty.
	DeviceID string `json:"deviceId,omitempty"`
}

// Empty reports whether no measurement field is populated.
func (d *DeviceData) Empty() bool {
	return d.HeartRate == nil &&
		d.AirQuality == nil &&
		d.InhalerUsage == nil &&
		d.InhalerBattery == nil &&
		d.WearableBattery == nil
}

// BatteryPercent returns the reported battery level from whichever
// battery field is populated, or false if neither is.
func (d *DeviceData) BatteryPercent() (int, bool) {
	if d.InhalerBattery != nil {
		return *d.InhalerBattery, true
	}
	if d.WearableBattery != nil {
		return *d.WearableBattery, true
	}
	return 0, false
}

// StatusEnvelope is a non-telemetry message received on the socket
// transport. It routes to the status channel instead of telemetry.
type StatusEnvelope struct {
	// Type is one of "status", "error", or "heartbeat".
	Type string `json:"type"`

	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"data,omitempty"`
}

// Result is the outcome of decoding one frame: exactly one of Data or
// Status is non-nil.
type Result struct {
	Data   *DeviceData
	Status *StatusEnvelope
}

func float64Ptr(v float64) *float64 { return &v }
func intPtr(v int) *int             { return &v }

// Float64 returns a pointer to v. Exported for use by callers building
// DeviceData records in tests and simulators.
func Float64(v float64) *float64 { return float64Ptr(v) }

// Int returns a pointer to v.
func Int(v int) *int { return intPtr(v) }
