// Package telemetry provides optional fleet telemetry for Ember Core.
//
// This package manages:
//   - Connection to an InfluxDB v2 server with token auth
//   - Non-blocking, batched writes of device lifecycle metrics
//   - Connection health monitoring
//
// Telemetry is strictly optional: the control core reports through a narrow
// interface and a nil/disabled client means every report is a no-op. A device
// in the field must keep working when the telemetry server is unreachable,
// so writes never block and write errors only surface through a callback.
package telemetry
