// Package settings provides the persistent device settings store.
//
// This package manages:
//   - Namespaced string key/value pairs over SQLite
//   - Schema creation on first open
//   - WAL mode and busy timeout for safe concurrent access
//   - Connection health monitoring
//
// # Architecture
//
// The store is the device's non-volatile memory. Values that must survive
// power loss go here: the activation identity, the last validated firmware
// version, and the pending asset-download marker written by the backend.
//
// # Usage
//
//	store, err := settings.Open(settings.Config{Path: cfg.Settings.Path})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	url, err := store.GetString(ctx, "assets", "download_url")
//	if errors.Is(err, settings.ErrKeyNotFound) {
//	    // nothing pending
//	}
package settings
