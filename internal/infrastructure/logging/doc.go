// Package logging provides structured logging for Ember Core.
//
// It wraps the standard library's log/slog with:
//   - Configurable output format (JSON/text) and destination
//   - Default service and version fields on every record
//   - A Default() logger for early startup before config is loaded
//
// Consumer packages should not import this package directly for their
// dependencies; instead they declare a minimal local Logger interface
// (Debug/Info/Warn/Error) that *logging.Logger satisfies, keeping packages
// testable with fakes.
package logging
