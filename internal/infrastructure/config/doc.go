// Package config provides configuration loading for Ember Core.
//
// Configuration is loaded in three layers:
//  1. Hardcoded defaults
//  2. YAML file (configs/config.yaml by default)
//  3. Environment variable overrides (EMBER_* prefix)
//
// The loaded configuration is validated before use; the process refuses to
// start with an invalid configuration rather than limping along with one.
//
// Note that the realtime session endpoints (MQTT broker or WebSocket URL) are
// deliberately absent here: they are issued by the activation backend at
// runtime and only session tuning knobs (timeouts, keep-alive) live in the
// config file.
package config
