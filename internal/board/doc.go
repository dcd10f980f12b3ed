// Package board provides host-side implementations of the application's
// hardware collaborators for headless Linux deployments: a logging display
// and LED, a supervisor-based rebooter, an HTTP firmware downloader and a
// loopback audio pipeline stub.
//
// Real hardware variants implement the same interfaces against their
// drivers and swap in at wiring time.
package board
