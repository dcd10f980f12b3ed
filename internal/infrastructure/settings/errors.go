package settings

import "errors"

// ErrKeyNotFound is returned when a requested setting does not exist.
var ErrKeyNotFound = errors.New("settings: key not found")
