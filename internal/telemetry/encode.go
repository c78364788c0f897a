package telemetry

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EncodeTLV serialises a DeviceData record into the wireless TLV wire
// format. Only set fields emit records; float measurements are truncated
// to the u16 range the format carries.
func EncodeTLV(data *DeviceData) []byte {
	var out []byte

	u16 := func(recType byte, v float64) {
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(v))
		out = append(out, recType, 2)
		out = append(out, buf...)
	}

	if data.HeartRate != nil {
		u16(tlvHeartRate, *data.HeartRate)
	}
	if data.AirQuality != nil {
		u16(tlvAirQuality, *data.AirQuality)
	}
	if data.InhalerUsage != nil {
		u16(tlvUsageCount, *data.InhalerUsage)
	}
	if data.WearableBattery != nil {
		out = append(out, tlvBattery, 1, byte(*data.WearableBattery))
	}
	return out
}

// EncodeSocketEnvelope serialises a DeviceData record as a socket
// "data" envelope.
func EncodeSocketEnvelope(data *DeviceData) ([]byte, error) {
	fields := make(map[string]any)
	if data.HeartRate != nil {
		fields["heartRate"] = *data.HeartRate
	}
	if data.AirQuality != nil {
		fields["airQuality"] = *data.AirQuality
	}
	if data.InhalerUsage != nil {
		fields["inhalerUsage"] = *data.InhalerUsage
	}
	if data.InhalerBattery != nil {
		fields["inhalerBattery"] = *data.InhalerBattery
	}
	if data.WearableBattery != nil {
		fields["wearableBattery"] = *data.WearableBattery
	}

	ts := data.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return json.Marshal(socketEnvelope{
		Type:      envelopeData,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Data:      fields,
	})
}

// EncodeSerialKV serialises a DeviceData record in the abbreviated
// comma-separated key:value form serial devices emit. Keys appear in a
// stable order.
func EncodeSerialKV(data *DeviceData) string {
	pairs := make(map[string]string)
	if data.HeartRate != nil {
		pairs["hr"] = formatNumber(*data.HeartRate)
	}
	if data.AirQuality != nil {
		pairs["aq"] = formatNumber(*data.AirQuality)
	}
	if data.InhalerUsage != nil {
		pairs["usage"] = formatNumber(*data.InhalerUsage)
	}
	if data.InhalerBattery != nil {
		pairs["battery"] = strconv.Itoa(*data.InhalerBattery)
	}

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", k, pairs[k]))
	}
	return strings.Join(parts, ",")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
