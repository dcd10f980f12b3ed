package activation

import "errors"

var (
	// ErrActivationTimeout is returned by Activate when the server has not
	// yet seen the user confirm the code. Retried on a short delay.
	ErrActivationTimeout = errors.New("activation: confirmation pending")

	// ErrActivationFailed is returned for any non-retryable activation
	// failure.
	ErrActivationFailed = errors.New("activation: request failed")

	// ErrCheckVersionFailed is returned when the version check could not
	// reach or parse the backend.
	ErrCheckVersionFailed = errors.New("activation: version check failed")
)
