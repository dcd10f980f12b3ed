package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store configuration constants.
const (
	// dirPermissions is the permission mode for the store directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the store file.
	filePermissions = 0600

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// connectionTimeout is the timeout for verifying store connectivity.
	connectionTimeout = 5 * time.Second
)

// Store is the persistent key/value settings store for the device.
//
// It plays the role of non-volatile storage on the device: activation
// identity, the validated firmware version, and the pending asset-download
// marker all live here and must survive reboots.
//
// Keys are scoped by namespace so unrelated subsystems cannot collide.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Store struct {
	db   *sql.DB
	path string
}

// Config contains settings store configuration options.
// These map to the settings section of config.yaml.
type Config struct {
	// Path is the filesystem path to the SQLite store file.
	// The directory will be created if it doesn't exist.
	Path string

	// WALMode enables Write-Ahead Logging for better concurrent access.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	BusyTimeout int
}

// Open creates a new settings store with the specified configuration.
//
// It performs the following setup:
//  1. Creates the store directory if it doesn't exist
//  2. Opens the store file (creates if not present)
//  3. Configures WAL mode and busy timeout
//  4. Creates the settings table if missing
//  5. Sets appropriate file permissions (0600)
//
// Parameters:
//   - cfg: Store configuration
//
// Returns:
//   - *Store: Ready store
//   - error: If opening or schema setup fails
func Open(cfg Config) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating settings directory: %w", err)
	}

	// Build connection string with pragmas
	// See: https://github.com/mattn/go-sqlite3#connection-string
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening settings store: %w", err)
	}

	// SQLite only supports one writer
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:   sqlDB,
		path: cfg.Path,
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying settings store: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}

	// Set file permissions (owner read/write only)
	// Ignore error - file might not exist yet on first run, will be set after first write
	_ = os.Chmod(cfg.Path, filePermissions)

	return s, nil
}

// ensureSchema creates the settings table if it does not exist.
func (s *Store) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS settings (
    namespace  TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (namespace, key)
)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating settings schema: %w", err)
	}
	return nil
}

// Close closes the settings store gracefully.
//
// Returns:
//   - error: If closing fails
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing settings store: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the store file.
func (s *Store) Path() string {
	return s.path
}

// GetString returns the value for key within namespace.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - namespace: Key namespace (e.g. "assets", "ota")
//   - key: Setting key
//
// Returns:
//   - string: The stored value
//   - error: ErrKeyNotFound if the key does not exist
func (s *Store) GetString(ctx context.Context, namespace, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// SetString stores value under key within namespace, replacing any
// previous value.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - namespace: Key namespace
//   - key: Setting key
//   - value: Value to store
//
// Returns:
//   - error: If the write fails
func (s *Store) SetString(ctx context.Context, namespace, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("writing setting %s/%s: %w", namespace, key, err)
	}
	return nil
}

// EraseKey removes key from namespace. Removing a missing key is not an error.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - namespace: Key namespace
//   - key: Setting key
//
// Returns:
//   - error: If the delete fails
func (s *Store) EraseKey(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM settings WHERE namespace = ? AND key = ?",
		namespace, key,
	)
	if err != nil {
		return fmt.Errorf("erasing setting %s/%s: %w", namespace, key, err)
	}
	return nil
}

// EraseNamespace removes every key in namespace.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - namespace: Key namespace to clear
//
// Returns:
//   - error: If the delete fails
func (s *Store) EraseNamespace(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM settings WHERE namespace = ?",
		namespace,
	)
	if err != nil {
		return fmt.Errorf("erasing namespace %s: %w", namespace, err)
	}
	return nil
}

// HealthCheck verifies the store is accessible and functioning.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Store) HealthCheck(ctx context.Context) error {
	var result int
	err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		return fmt.Errorf("settings store health check failed: %w", err)
	}
	return nil
}
