package telemetry

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vitalmesh/vitalmesh-core/internal/device"
)

// TLV type codes used by the short-range wireless wire format.
// Multi-byte values are little-endian.
const (
	tlvHeartRate  = 0x01 // u16
	tlvAirQuality = 0x02 // u16
	tlvUsageCount = 0x03 // u16
	tlvBattery    = 0x04 // u8
)

// Socket envelope types. Anything else is ErrUnknownEnvelope.
const (
	envelopeData      = "data"
	envelopeStatus    = "status"
	envelopeError     = "error"
	envelopeHeartbeat = "heartbeat"
)

// serialAliases maps abbreviated serial keys onto canonical field names.
var serialAliases = map[string]string{
	"hr":      "heartRate",
	"aq":      "airQuality",
	"usage":   "inhalerUsage",
	"battery": "inhalerBattery",
}

// Decoder turns raw transport frames into DeviceData records or status
// envelopes. It holds no state and is safe for concurrent use.
//
// Decode never panics: a malformed frame yields ErrMalformed and must
// not stop the caller's read loop.
type Decoder struct {
	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewDecoder creates a Decoder stamping records with the wall clock.
func NewDecoder() *Decoder {
	return &Decoder{now: time.Now}
}

// Decode parses one raw frame according to the transport's wire format.
//
// Exactly one of Result.Data and Result.Status is non-nil on success.
//
// Parameters:
//   - kind: Transport the frame arrived on (selects the wire format)
//   - payload: Raw frame bytes
//
// Returns:
//   - Result: Decoded telemetry record or status envelope
//   - error: ErrMalformed, ErrUnknownEnvelope, or ErrUnknownTransport
func (d *Decoder) Decode(kind device.Transport, payload []byte) (Result, error) {
	switch kind {
	case device.TransportWireless:
		return d.decodeTLV(payload)
	case device.TransportSocket:
		return d.decodeEnvelope(payload)
	case device.TransportSerial:
		return d.decodeSerial(payload)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownTransport, kind)
	}
}

// decodeTLV parses the wireless TLV stream:
// [type:1][length:1][value:length] repeated.
//
// Unrecognised type codes are skipped by their declared length rather
// than treated as errors, so newer firmware can add fields without
// breaking older cores.
func (d *Decoder) decodeTLV(payload []byte) (Result, error) {
	if len(payload) == 0 {
		return Result{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	data := &DeviceData{Timestamp: d.now().UTC()}

	for i := 0; i < len(payload); {
		if i+2 > len(payload) {
			return Result{}, fmt.Errorf("%w: truncated TLV header at offset %d", ErrMalformed, i)
		}
		recType := payload[i]
		recLen := int(payload[i+1])
		i += 2

		if i+recLen > len(payload) {
			return Result{}, fmt.Errorf("%w: TLV value overruns frame (type 0x%02X len %d)", ErrMalformed, recType, recLen)
		}
		value := payload[i : i+recLen]
		i += recLen

		switch recType {
		case tlvHeartRate, tlvAirQuality, tlvUsageCount:
			if recLen != 2 {
				return Result{}, fmt.Errorf("%w: TLV type 0x%02X expects 2 bytes, got %d", ErrMalformed, recType, recLen)
			}
			v := float64(binary.LittleEndian.Uint16(value))
			switch recType {
			case tlvHeartRate:
				data.HeartRate = float64Ptr(v)
			case tlvAirQuality:
				data.AirQuality = float64Ptr(v)
			case tlvUsageCount:
				data.InhalerUsage = float64Ptr(v)
			}
		case tlvBattery:
			if recLen != 1 {
				return Result{}, fmt.Errorf("%w: TLV battery expects 1 byte, got %d", ErrMalformed, recLen)
			}
			data.WearableBattery = intPtr(int(value[0]))
		default:
			// Forward-compatible skip: value already consumed above.
		}
	}

	if data.Empty() {
		return Result{}, fmt.Errorf("%w: no recognised TLV fields", ErrMalformed)
	}
	return Result{Data: data}, nil
}

// socketEnvelope mirrors the JSON wire format of the socket transport.
type socketEnvelope struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// decodeEnvelope parses the socket JSON envelope. Only type "data"
// yields telemetry; status, error, and heartbeat envelopes route to the
// status channel.
func (d *Decoder) decodeEnvelope(payload []byte) (Result, error) {
	var env socketEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	ts := d.parseTimestamp(env.Timestamp)

	switch env.Type {
	case envelopeData:
		data := fieldsFromMap(env.Data)
		data.Timestamp = ts
		if data.Empty() {
			return Result{}, fmt.Errorf("%w: data envelope with no measurement fields", ErrMalformed)
		}
		return Result{Data: data}, nil

	case envelopeStatus, envelopeError, envelopeHeartbeat:
		return Result{Status: &StatusEnvelope{
			Type:      env.Type,
			Timestamp: ts,
			Fields:    env.Data,
		}}, nil

	case "":
		return Result{}, fmt.Errorf("%w: envelope missing type", ErrMalformed)

	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownEnvelope, env.Type)
	}
}

// decodeSerial parses a serial text frame: JSON first, falling back to a
// comma-separated key:value list such as "hr:75,aq:85". Keys are aliased
// onto canonical field names before merging.
func (d *Decoder) decodeSerial(payload []byte) (Result, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return Result{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		var kvErr error
		fields, kvErr = parseKeyValueList(text)
		if kvErr != nil {
			return Result{}, kvErr
		}
	}

	data := fieldsFromMap(aliasKeys(fields))
	data.Timestamp = d.now().UTC()
	if data.Empty() {
		return Result{}, fmt.Errorf("%w: no recognised serial fields", ErrMalformed)
	}
	return Result{Data: data}, nil
}

// parseKeyValueList parses "k:v,k:v" into a map. Numeric-looking values
// parse as floats; others remain strings.
func parseKeyValueList(text string) (map[string]any, error) {
	fields := make(map[string]any)
	for _, pair := range strings.Split(text, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("%w: segment %q is not key:value", ErrMalformed, pair)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			return nil, fmt.Errorf("%w: empty key in %q", ErrMalformed, pair)
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			fields[key] = f
		} else {
			fields[key] = value
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no key:value segments", ErrMalformed)
	}
	return fields, nil
}

// aliasKeys rewrites abbreviated keys to canonical names, leaving
// already-canonical keys untouched.
func aliasKeys(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if canonical, ok := serialAliases[k]; ok {
			k = canonical
		}
		out[k] = v
	}
	return out
}

// fieldsFromMap extracts the known measurement fields from a decoded
// map. Unknown keys are ignored.
func fieldsFromMap(m map[string]any) *DeviceData {
	data := &DeviceData{}
	if v, ok := numericField(m, "heartRate"); ok {
		data.HeartRate = float64Ptr(v)
	}
	if v, ok := numericField(m, "airQuality"); ok {
		data.AirQuality = float64Ptr(v)
	}
	if v, ok := numericField(m, "inhalerUsage"); ok {
		data.InhalerUsage = float64Ptr(v)
	}
	if v, ok := numericField(m, "inhalerBattery"); ok {
		data.InhalerBattery = intPtr(int(v))
	}
	if v, ok := numericField(m, "wearableBattery"); ok {
		data.WearableBattery = intPtr(int(v))
	}
	return data
}

// numericField fetches m[key] as a float64, tolerating JSON numbers and
// numeric strings.
func numericField(m map[string]any, key string) (float64, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// parseTimestamp parses an RFC 3339 envelope timestamp, falling back to
// decode time for missing or unparseable values.
func (d *Decoder) parseTimestamp(s string) time.Time {
	if s != "" {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UTC()
		}
	}
	return d.now().UTC()
}
