// Package mqtt wraps the Eclipse Paho client for the VitalMesh event
// bridge.
//
// Topic scheme:
//
//	vitalmesh/telemetry/{device_id}        decoded measurements
//	vitalmesh/device/{device_id}/status    connection state (retained)
//	vitalmesh/command/{device_id}          inbound commands
//	vitalmesh/system/status                node online/offline (retained, LWT)
//
// The client handles automatic reconnection with exponential backoff,
// subscription restoration after reconnect, Last Will and Testament for
// crash detection, and panic recovery around message handlers.
package mqtt
