package activation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/embervoice/ember-core/internal/device"
	"github.com/embervoice/ember-core/internal/infrastructure/settings"
)

// Settings keys used by the workflow.
const (
	settingsNamespaceAssets   = "assets"
	settingsKeyPendingAssets  = "pending_url"
	settingsNamespaceFirmware = "firmware"
	settingsKeyValidated      = "validated_version"
)

// Default retry tuning. Matches the device's fail-open startup policy:
// a backend that stays down must never brick the device.
const (
	defaultVersionCheckBackoff   = 10 * time.Second
	defaultVersionCheckAttempts  = 10
	defaultActivationAttempts    = 10
	defaultActivationShortDelay  = 3 * time.Second
	defaultActivationNormalDelay = 10 * time.Second
	defaultPollInterval          = time.Second
)

// Config wires the workflow to its collaborators.
//
// The workflow runs on its own worker and may block and sleep freely; every
// callback that touches device state must marshal itself onto the control
// loop (the application's closures do that).
type Config struct {
	// Backend is the device-management service. Required.
	Backend Backend

	// Settings persists the asset marker and validated firmware version.
	// Optional; nil skips persistence.
	Settings *settings.Store

	// DeviceState reads the current lifecycle state. Required. Polled at
	// bounded checkpoints; a forced Idle aborts the remaining wait.
	DeviceState func() device.State

	// DownloadAssets applies a staged asset bundle, reporting percentage
	// progress. Optional; nil skips the asset step.
	DownloadAssets func(url string, progress func(percent int)) error

	// Upgrade performs the firmware upgrade procedure. On success it
	// reboots and never returns. Required when the backend can offer
	// firmware.
	Upgrade func(url, version string) error

	// ShowActivationCode surfaces the pairing code to the user. Required.
	ShowActivationCode func(code, message string)

	// Alert surfaces a failure to the user. Required.
	Alert func(status, message, emotion string)

	// StartProtocol constructs and starts the realtime session from the
	// backend-issued configuration. Required.
	StartProtocol func() error

	// Done signals activation completion to the control loop. Required.
	Done func()

	// Logger receives workflow diagnostics. Defaults to a no-op logger.
	Logger Logger

	// VersionCheckBackoff is the initial retry delay, doubled per failure.
	VersionCheckBackoff time.Duration

	// VersionCheckAttempts caps version-check retries before proceeding
	// fail-open.
	VersionCheckAttempts int

	// ActivationAttempts caps confirmation polls per activation round.
	ActivationAttempts int

	// ActivationShortDelay is the poll delay after a pending (timeout)
	// reply.
	ActivationShortDelay time.Duration

	// ActivationNormalDelay is the poll delay after any other failure.
	ActivationNormalDelay time.Duration

	// PollInterval is the granularity of abort checks during sleeps.
	PollInterval time.Duration
}

// Workflow is the sequential startup procedure: asset check, version and
// activation loop, protocol startup, done signal.
//
// Triggered once by the first network-connected transition; runs on a
// dedicated worker goroutine.
type Workflow struct {
	cfg Config
}

// New validates the wiring and applies retry defaults.
func New(cfg Config) (*Workflow, error) {
	if cfg.Backend == nil {
		return nil, errors.New("activation: Backend is required")
	}
	if cfg.DeviceState == nil {
		return nil, errors.New("activation: DeviceState is required")
	}
	if cfg.ShowActivationCode == nil {
		return nil, errors.New("activation: ShowActivationCode is required")
	}
	if cfg.Alert == nil {
		return nil, errors.New("activation: Alert is required")
	}
	if cfg.StartProtocol == nil {
		return nil, errors.New("activation: StartProtocol is required")
	}
	if cfg.Done == nil {
		return nil, errors.New("activation: Done is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.VersionCheckBackoff <= 0 {
		cfg.VersionCheckBackoff = defaultVersionCheckBackoff
	}
	if cfg.VersionCheckAttempts <= 0 {
		cfg.VersionCheckAttempts = defaultVersionCheckAttempts
	}
	if cfg.ActivationAttempts <= 0 {
		cfg.ActivationAttempts = defaultActivationAttempts
	}
	if cfg.ActivationShortDelay <= 0 {
		cfg.ActivationShortDelay = defaultActivationShortDelay
	}
	if cfg.ActivationNormalDelay <= 0 {
		cfg.ActivationNormalDelay = defaultActivationNormalDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Workflow{cfg: cfg}, nil
}

// Run executes the startup procedure.
//
// Every step is abortable: a forced Idle (the user toggling out of
// activation) or context cancellation cuts the remaining waits short and
// falls through to normal startup with whatever state is known. A
// successful firmware upgrade reboots the device and Run never returns.
func (w *Workflow) Run(ctx context.Context) {
	w.checkAssets(ctx)
	w.versionLoop(ctx)

	if err := w.cfg.StartProtocol(); err != nil {
		w.cfg.Logger.Error("protocol startup failed", "error", err)
		w.cfg.Alert("error", "connection to server failed", "sad")
	}

	w.cfg.Done()
}

// checkAssets applies a staged asset bundle if one is marked pending.
// Failure alerts and keeps the marker so the next boot retries.
func (w *Workflow) checkAssets(ctx context.Context) {
	if w.cfg.Settings == nil || w.cfg.DownloadAssets == nil {
		return
	}

	url, err := w.cfg.Settings.GetString(ctx, settingsNamespaceAssets, settingsKeyPendingAssets)
	if err != nil {
		if !errors.Is(err, settings.ErrKeyNotFound) {
			w.cfg.Logger.Warn("reading asset marker", "error", err)
		}
		return
	}

	w.cfg.Logger.Info("applying staged asset bundle", "url", url)
	err = w.cfg.DownloadAssets(url, func(percent int) {
		w.cfg.Logger.Debug("asset download progress", "percent", percent)
	})
	if err != nil {
		w.cfg.Logger.Error("asset update failed", "error", err)
		w.cfg.Alert("error", "asset update failed", "sad")
		return
	}

	if err := w.cfg.Settings.EraseKey(ctx, settingsNamespaceAssets, settingsKeyPendingAssets); err != nil {
		w.cfg.Logger.Warn("clearing asset marker", "error", err)
	}
}

// versionLoop runs the version check and activation rounds until neither
// firmware nor activation is pending, retries are exhausted, or the user
// aborts.
func (w *Workflow) versionLoop(ctx context.Context) {
	backend := w.cfg.Backend
	failures := 0
	delay := w.cfg.VersionCheckBackoff

	for {
		if err := backend.CheckVersion(ctx); err != nil {
			failures++
			w.cfg.Logger.Warn("version check failed",
				"attempt", failures,
				"max_attempts", w.cfg.VersionCheckAttempts,
				"error", err,
			)
			if failures >= w.cfg.VersionCheckAttempts {
				w.cfg.Logger.Error("version check retries exhausted, continuing with last known state")
				return
			}
			if !w.sleepAbortable(ctx, delay) {
				return
			}
			delay *= 2
			continue
		}

		// Reset the backoff after any successful round trip.
		failures = 0
		delay = w.cfg.VersionCheckBackoff

		if backend.HasNewVersion() {
			url, version := backend.FirmwareURL(), backend.FirmwareVersion()
			w.cfg.Logger.Info("new firmware offered",
				"current", backend.CurrentVersion(),
				"offered", version,
			)
			if w.cfg.Upgrade != nil {
				// Success reboots and never returns. Failure falls
				// through to normal startup.
				if err := w.cfg.Upgrade(url, version); err != nil {
					w.cfg.Logger.Error("firmware upgrade failed", "error", err)
				}
			}
		}

		backend.MarkCurrentVersionValid()
		w.recordValidatedVersion(ctx, backend.CurrentVersion())

		if !backend.HasActivationCode() && !backend.HasActivationChallenge() {
			return
		}

		if !w.activationRound(ctx) {
			return
		}
		// Re-check: a confirmed activation changes what the backend
		// issues (session config, firmware policy).
	}
}

// activationRound shows the code and polls for confirmation. Returns false
// when the caller should stop looping (abort), true to re-check version.
func (w *Workflow) activationRound(ctx context.Context) bool {
	backend := w.cfg.Backend
	// Challenge-only rounds confirm silently; there is no code for the user
	// to enter.
	if backend.HasActivationCode() {
		w.cfg.ShowActivationCode(backend.ActivationCode(), backend.ActivationMessage())
	}

	for attempt := 1; attempt <= w.cfg.ActivationAttempts; attempt++ {
		err := backend.Activate(ctx)
		if err == nil {
			return true
		}

		delay := w.cfg.ActivationNormalDelay
		if errors.Is(err, ErrActivationTimeout) {
			delay = w.cfg.ActivationShortDelay
		} else {
			w.cfg.Logger.Warn("activation attempt failed",
				"attempt", attempt,
				"error", err,
			)
		}
		if !w.sleepAbortable(ctx, delay) {
			return false
		}
	}

	w.cfg.Logger.Warn("activation confirmation not received",
		"attempts", w.cfg.ActivationAttempts,
	)
	return true
}

// recordValidatedVersion persists the confirmed-good firmware version.
func (w *Workflow) recordValidatedVersion(ctx context.Context, version string) {
	if w.cfg.Settings == nil || version == "" {
		return
	}
	if err := w.cfg.Settings.SetString(ctx, settingsNamespaceFirmware, settingsKeyValidated, version); err != nil {
		w.cfg.Logger.Warn("persisting validated version", "error", err)
	}
}

// sleepAbortable sleeps d, checking for abort every PollInterval. Returns
// false when the wait was cut short by cancellation or a forced Idle.
func (w *Workflow) sleepAbortable(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		step := w.cfg.PollInterval
		if remaining < step {
			step = remaining
		}

		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		if w.cfg.DeviceState() == device.StateIdle {
			w.cfg.Logger.Info("startup wait aborted by user")
			return false
		}
	}
}

// PendingAssetURL reads the staged asset marker, if any.
func PendingAssetURL(ctx context.Context, store *settings.Store) (string, bool) {
	if store == nil {
		return "", false
	}
	url, err := store.GetString(ctx, settingsNamespaceAssets, settingsKeyPendingAssets)
	if err != nil {
		return "", false
	}
	return url, true
}

// MarkAssetsPending stages an asset bundle for the next startup.
func MarkAssetsPending(ctx context.Context, store *settings.Store, url string) error {
	if store == nil {
		return errors.New("activation: no settings store")
	}
	if url == "" {
		return errors.New("activation: empty asset url")
	}
	if err := store.SetString(ctx, settingsNamespaceAssets, settingsKeyPendingAssets, url); err != nil {
		return fmt.Errorf("activation: staging assets: %w", err)
	}
	return nil
}
