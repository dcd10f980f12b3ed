package telemetry

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordStateTransition writes a lifecycle state change point.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - from: State name before the transition
//   - to: State name after the transition
func (c *Client) RecordStateTransition(from, to string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"device_id": c.deviceID,
			"from":      from,
			"to":        to,
		},
		map[string]interface{}{
			"value": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// RecordUptime writes an uptime/tick measurement.
//
// Parameters:
//   - uptimeSeconds: Seconds since the control loop started
//   - state: Current lifecycle state name
func (c *Client) RecordUptime(uptimeSeconds float64, state string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_uptime",
		map[string]string{
			"device_id": c.deviceID,
			"state":     state,
		},
		map[string]interface{}{
			"uptime_seconds": uptimeSeconds,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// RecordSessionEvent writes a realtime-session lifecycle event
// (opened, closed, error).
//
// Parameters:
//   - event: Event name ("opened", "closed", "error")
//   - transport: Transport in use ("mqtt" or "websocket")
func (c *Client) RecordSessionEvent(event, transport string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"session_events",
		map[string]string{
			"device_id": c.deviceID,
			"event":     event,
			"transport": transport,
		},
		map[string]interface{}{
			"value": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
