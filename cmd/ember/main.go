// Ember Core is the control core of the Ember voice assistant device: an
// event-driven loop coordinating activation, the realtime assistant session
// and the device lifecycle state machine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/embervoice/ember-core/internal/activation"
	"github.com/embervoice/ember-core/internal/app"
	"github.com/embervoice/ember-core/internal/board"
	"github.com/embervoice/ember-core/internal/device"
	"github.com/embervoice/ember-core/internal/infrastructure/config"
	"github.com/embervoice/ember-core/internal/infrastructure/logging"
	"github.com/embervoice/ember-core/internal/infrastructure/settings"
	"github.com/embervoice/ember-core/internal/infrastructure/telemetry"
	"github.com/embervoice/ember-core/internal/protocol"
)

// version is set at build time via -ldflags.
var version = "dev"

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", configPathDefault(), "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("ember-core", version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "ember-core:", err)
		os.Exit(1)
	}
}

// configPathDefault honours the EMBER_CONFIG environment variable.
func configPathDefault() string {
	if v := os.Getenv("EMBER_CONFIG"); v != "" {
		return v
	}
	return defaultConfigPath
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("starting ember core",
		"version", version,
		"device", cfg.Device.Name,
		"board", cfg.Device.Board,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := settings.Open(settings.Config{
		Path:        cfg.Settings.Path,
		WALMode:     cfg.Settings.WALMode,
		BusyTimeout: cfg.Settings.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening settings store: %w", err)
	}
	defer store.Close()

	clientID, err := loadClientID(ctx, store)
	if err != nil {
		return fmt.Errorf("loading device identity: %w", err)
	}

	backend := activation.NewHTTPBackend(activation.HTTPOptions{
		CheckVersionURL: cfg.Backend.CheckVersionURL,
		ActivationURL:   cfg.Backend.ActivationURL,
		Timeout:         cfg.GetBackendTimeout(),
		DeviceID:        cfg.Device.Name,
		ClientID:        clientID,
		Board:           cfg.Device.Board,
		AppVersion:      version,
		Logger:          logger,
	})

	var metrics *telemetry.Client
	if cfg.Telemetry.Enabled {
		metrics, err = telemetry.Connect(cfg.Telemetry, cfg.Device.Name)
		if err != nil && !errors.Is(err, telemetry.ErrDisabled) {
			logger.Warn("telemetry unavailable, continuing without it", "error", err)
		}
		if metrics != nil {
			defer metrics.Close()
		}
	}

	audio := board.NewLoopbackAudio(logger)
	display := board.NewConsoleDisplay(logger)
	power := board.NewHostPower(logger)
	rebooter := board.NewSupervisorRebooter(logger)
	upgrader := board.NewHTTPUpgrader(
		filepath.Join(filepath.Dir(cfg.Settings.Path), "firmware"),
		0,
		logger,
	)

	var application *app.Application
	led := board.NewConsoleLed(logger, func() string {
		if application == nil {
			return device.StateUnknown.String()
		}
		return application.DeviceState().String()
	})

	application, err = app.New(app.Options{
		Audio:     audio,
		Backend:   backend,
		Display:   display,
		Led:       led,
		Power:     power,
		Rebooter:  rebooter,
		Upgrader:  upgrader,
		Settings:  store,
		Telemetry: metrics,
		Logger:    logger,
		AecMode:   device.ParseAecMode(cfg.Device.AecMode),
		ProtocolOptions: protocol.Options{
			OpenTimeout: cfg.GetOpenTimeout(),
			KeepAlive:   cfg.GetKeepAlive(),
			DeviceID:    cfg.Device.Name,
			Logger:      logger,
		},
		ClockTickInterval: cfg.GetClockTickInterval(),
	})
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}

	// A host deployment has connectivity at process start; boards with
	// managed radios call NetworkUp from their connection manager instead.
	application.NetworkUp()

	return application.Run(ctx)
}

// loadClientID returns the persisted per-install identity, creating one on
// first boot.
func loadClientID(ctx context.Context, store *settings.Store) (string, error) {
	id, err := store.GetString(ctx, "identity", "client_id")
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, settings.ErrKeyNotFound) {
		return "", err
	}

	id = uuid.NewString()
	if err := store.SetString(ctx, "identity", "client_id", id); err != nil {
		return "", err
	}
	return id, nil
}
