package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/embervoice/ember-core/internal/activation"
	"github.com/embervoice/ember-core/internal/device"
	"github.com/embervoice/ember-core/internal/eventloop"
	"github.com/embervoice/ember-core/internal/infrastructure/settings"
	"github.com/embervoice/ember-core/internal/infrastructure/telemetry"
	"github.com/embervoice/ember-core/internal/protocol"
)

// Logger is the minimal logging interface the app package needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopDisplay struct{}

func (noopDisplay) SetStatus(string)           {}
func (noopDisplay) SetEmotion(string)          {}
func (noopDisplay) SetChatMessage(_, _ string) {}
func (noopDisplay) ShowNotification(string)    {}
func (noopDisplay) DismissAlert()              {}
func (noopDisplay) UpdateStatusBar()           {}

type noopLed struct{}

func (noopLed) OnStateChanged() {}

type noopPower struct{}

func (noopPower) SetPowerSave(bool) {}

// Options wire the application to its collaborators. Audio and Backend are
// required; every other collaborator defaults to a no-op.
type Options struct {
	// Audio is the audio pipeline. Required.
	Audio AudioService

	// Backend is the device-management service. Required.
	Backend activation.Backend

	// Display is the user-facing status surface.
	Display Display

	// Led mirrors device state on the status LED.
	Led Led

	// Power switches the board power profile.
	Power PowerController

	// Rebooter restarts the device after an upgrade or server command.
	Rebooter Rebooter

	// Upgrader downloads and flashes firmware images.
	Upgrader FirmwareUpgrader

	// AssetDownloader applies a staged asset bundle. Optional.
	AssetDownloader func(url string, progress func(percent int)) error

	// Settings persists device identity and startup markers. Optional.
	Settings *settings.Store

	// Telemetry records fleet metrics. Optional.
	Telemetry *telemetry.Client

	// Logger receives application diagnostics.
	Logger Logger

	// AecMode is the initial echo cancellation mode.
	AecMode device.AecMode

	// ProtocolOptions tune the realtime channel.
	ProtocolOptions protocol.Options

	// ClockTickInterval is the periodic status tick. Default 10s.
	ClockTickInterval time.Duration

	// NewChannel overrides transport construction. The factory must wire
	// the given callbacks into the returned channel. Defaults to selecting
	// MQTT or WebSocket from the backend-issued configuration.
	NewChannel func(cb protocol.Callbacks) (protocol.Channel, error)
}

// Application is the root of the control core.
//
// It owns the single control loop, the device state machine, the protocol
// channel and all user-visible side effects. Everything outside the loop
// reaches shared state exclusively through event flags and scheduled tasks.
type Application struct {
	opts   Options
	logger Logger

	flags     *eventloop.FlagGroup
	scheduler *eventloop.Scheduler
	machine   *device.StateMachine

	audio    AudioService
	display  Display
	led      Led
	power    PowerController
	rebooter Rebooter
	upgrader FirmwareUpgrader

	// Control-loop-owned conversation state. listeningMode, aecMode and
	// aborted are touched only by handlers.
	listeningMode device.ListeningMode
	aecMode       device.AecMode
	aborted       bool

	// channel is assigned by the activation worker and read by handlers;
	// the pointer itself is guarded, the channel is loop-driven.
	channelMu sync.Mutex
	channel   protocol.Channel

	// Cross-context mailboxes paired with their flags.
	inboxMu       sync.Mutex
	errorMessage  string
	pendingWake   string
	vadSpeaking   bool

	mcpHandler    func(payload json.RawMessage)
	customHandler func(payload json.RawMessage)

	activationStarted bool
	runCtx            context.Context
	uptime            time.Duration
}

// New validates the wiring and builds the application in Starting state.
func New(opts Options) (*Application, error) {
	if opts.Audio == nil {
		return nil, errors.New("app: Audio is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("app: Backend is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Display == nil {
		opts.Display = noopDisplay{}
	}
	if opts.Led == nil {
		opts.Led = noopLed{}
	}
	if opts.Power == nil {
		opts.Power = noopPower{}
	}
	if opts.ClockTickInterval <= 0 {
		opts.ClockTickInterval = 10 * time.Second
	}

	flags := eventloop.NewFlagGroup()
	a := &Application{
		opts:      opts,
		logger:    opts.Logger,
		flags:     flags,
		scheduler: eventloop.NewScheduler(flags),
		machine:   device.NewStateMachine(device.StateStarting),
		audio:     opts.Audio,
		display:   opts.Display,
		led:       opts.Led,
		power:     opts.Power,
		rebooter:  opts.Rebooter,
		upgrader:  opts.Upgrader,
		aecMode:   opts.AecMode,
	}

	a.machine.AddListener(func(old, new device.State) {
		a.logger.Info("device state changed", "from", old.String(), "to", new.String())
		if opts.Telemetry != nil {
			opts.Telemetry.RecordStateTransition(old.String(), new.String())
		}
		a.flags.Set(eventloop.FlagStateChanged)
	})

	return a, nil
}

// Run drives the control loop until ctx is cancelled.
//
// It is the only goroutine that executes handlers and scheduled tasks; the
// loop suspends solely inside the flag wait.
func (a *Application) Run(ctx context.Context) error {
	a.runCtx = ctx

	if err := a.audio.Start(); err != nil {
		return fmt.Errorf("app: starting audio pipeline: %w", err)
	}
	defer a.audio.Stop()

	ticker := time.NewTicker(a.opts.ClockTickInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.flags.Set(eventloop.FlagClockTick)
			}
		}
	}()

	a.display.SetStatus("starting")
	a.logger.Info("control loop running")

	for {
		fl, err := a.flags.Wait(ctx)
		if err != nil {
			a.shutdown()
			return nil
		}
		a.dispatch(fl)
	}
}

// dispatch runs the handlers for one observed flag set, in fixed priority
// order. Work scheduled during a cycle lands in the next wake-up.
func (a *Application) dispatch(fl eventloop.Flag) {
	if fl.Has(eventloop.FlagError) {
		a.safe("error", a.handleError)
	}
	if fl.Has(eventloop.FlagNetworkConnected) {
		a.safe("network_connected", a.handleNetworkConnected)
	}
	if fl.Has(eventloop.FlagNetworkDisconnected) {
		a.safe("network_disconnected", a.handleNetworkDisconnected)
	}
	if fl.Has(eventloop.FlagActivationDone) {
		a.safe("activation_done", a.handleActivationDone)
	}
	if fl.Has(eventloop.FlagStateChanged) {
		a.safe("state_changed", a.handleStateChanged)
	}
	if fl.Has(eventloop.FlagToggleChat) {
		a.safe("toggle_chat", a.handleToggleChat)
	}
	if fl.Has(eventloop.FlagStartListening) {
		a.safe("start_listening", a.handleStartListening)
	}
	if fl.Has(eventloop.FlagStopListening) {
		a.safe("stop_listening", a.handleStopListening)
	}
	if fl.Has(eventloop.FlagSendAudio) {
		a.safe("send_audio", a.handleSendAudio)
	}
	if fl.Has(eventloop.FlagWakeWord) {
		a.safe("wake_word", a.handleWakeWord)
	}
	if fl.Has(eventloop.FlagVadChange) {
		a.safe("vad_change", a.handleVadChange)
	}
	if fl.Has(eventloop.FlagSchedule) {
		for _, task := range a.scheduler.Drain() {
			a.safe("scheduled_task", task)
		}
	}
	if fl.Has(eventloop.FlagClockTick) {
		a.safe("clock_tick", a.handleClockTick)
	}
}

// safe converts a handler panic into the error flag instead of crashing the
// loop.
func (a *Application) safe(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("handler panic recovered", "handler", name, "panic", r)
			a.RaiseError(fmt.Sprintf("internal error in %s handler", name))
		}
	}()
	fn()
}

// shutdown tears down the session on loop exit.
func (a *Application) shutdown() {
	if ch := a.getChannel(); ch != nil {
		ch.Shutdown()
		a.setChannel(nil)
	}
	a.logger.Info("control loop stopped")
}

// getChannel returns the current protocol channel, or nil before activation
// and after a protocol reset.
func (a *Application) getChannel() protocol.Channel {
	a.channelMu.Lock()
	defer a.channelMu.Unlock()
	return a.channel
}

func (a *Application) setChannel(ch protocol.Channel) {
	a.channelMu.Lock()
	a.channel = ch
	a.channelMu.Unlock()
}

// DeviceState returns the current lifecycle state. Never blocks.
func (a *Application) DeviceState() device.State {
	return a.machine.Current()
}

// Schedule queues fn to run exactly once on the control loop, strictly
// after Schedule returns.
func (a *Application) Schedule(fn func()) {
	a.scheduler.Schedule(fn)
}

// CanEnterSleepMode reports whether the device may power down: idle state,
// no open session, quiescent audio pipeline.
func (a *Application) CanEnterSleepMode() bool {
	if a.machine.Current() != device.StateIdle {
		return false
	}
	if ch := a.getChannel(); ch != nil && ch.IsAudioChannelOpened() {
		return false
	}
	return a.audio.IsIdle()
}

// ToggleChatState requests the toggle-conversation action.
func (a *Application) ToggleChatState() {
	a.flags.Set(eventloop.FlagToggleChat)
}

// StartListening requests the push-to-talk press action.
func (a *Application) StartListening() {
	a.flags.Set(eventloop.FlagStartListening)
}

// StopListening requests the push-to-talk release action.
func (a *Application) StopListening() {
	a.flags.Set(eventloop.FlagStopListening)
}

// WakeWordInvoke injects a wake word as if the detector had fired.
func (a *Application) WakeWordInvoke(word string) {
	a.inboxMu.Lock()
	a.pendingWake = word
	a.inboxMu.Unlock()
	a.flags.Set(eventloop.FlagWakeWord)
}

// NetworkUp signals that connectivity came up.
func (a *Application) NetworkUp() {
	a.flags.Set(eventloop.FlagNetworkConnected)
}

// NetworkDown signals that connectivity was lost.
func (a *Application) NetworkDown() {
	a.flags.Set(eventloop.FlagNetworkDisconnected)
}

// RaiseError records a failure message and wakes the loop. Safe from any
// goroutine, including transport callbacks.
func (a *Application) RaiseError(message string) {
	a.inboxMu.Lock()
	a.errorMessage = message
	a.inboxMu.Unlock()
	a.flags.Set(eventloop.FlagError)
}

// NotifySendQueueAvailable signals that encoded microphone packets are
// ready. Called by the audio pipeline.
func (a *Application) NotifySendQueueAvailable() {
	a.flags.Set(eventloop.FlagSendAudio)
}

// NotifyWakeWordDetected signals a wake word. Called by the audio pipeline.
func (a *Application) NotifyWakeWordDetected(word string) {
	a.WakeWordInvoke(word)
}

// NotifyVadChange signals a voice activity change. Called by the audio
// pipeline.
func (a *Application) NotifyVadChange(speaking bool) {
	a.inboxMu.Lock()
	a.vadSpeaking = speaking
	a.inboxMu.Unlock()
	a.flags.Set(eventloop.FlagVadChange)
}

// SetAecMode switches echo cancellation. An open session is closed because
// the listening mode it was negotiated with no longer applies.
func (a *Application) SetAecMode(mode device.AecMode) {
	a.Schedule(func() {
		a.aecMode = mode
		a.logger.Info("aec mode changed", "mode", mode.String())
		if ch := a.getChannel(); ch != nil && ch.IsAudioChannelOpened() {
			ch.CloseAudioChannel()
		}
	})
}

// SendMcpMessage forwards an MCP payload to the server. A silent no-op
// without a session.
func (a *Application) SendMcpMessage(payload json.RawMessage) {
	a.Schedule(func() {
		if ch := a.getChannel(); ch != nil {
			ch.SendMcpMessage(payload)
		}
	})
}

// SetMcpMessageHandler installs the receiver for inbound MCP payloads.
// Must be called before Run.
func (a *Application) SetMcpMessageHandler(fn func(payload json.RawMessage)) {
	a.mcpHandler = fn
}

// SetCustomMessageHandler installs the receiver for inbound custom
// payloads. Must be called before Run.
func (a *Application) SetCustomMessageHandler(fn func(payload json.RawMessage)) {
	a.customHandler = fn
}

// Reboot closes the session, stops audio and restarts the device.
func (a *Application) Reboot() {
	a.Schedule(func() {
		a.logger.Info("rebooting")
		if ch := a.getChannel(); ch != nil {
			ch.CloseAudioChannel()
			ch.Shutdown()
			a.setChannel(nil)
		}
		a.audio.Stop()
		if a.rebooter != nil {
			a.rebooter.Reboot()
		}
	})
}

// ResetProtocol discards the current session and transport. A new one is
// only constructed by a fresh activation run.
func (a *Application) ResetProtocol() {
	a.Schedule(func() {
		if ch := a.getChannel(); ch != nil {
			ch.Shutdown()
			a.setChannel(nil)
			a.logger.Info("protocol reset")
		}
	})
}

// takeErrorMessage consumes the pending error message.
func (a *Application) takeErrorMessage() string {
	a.inboxMu.Lock()
	defer a.inboxMu.Unlock()
	msg := a.errorMessage
	a.errorMessage = ""
	return msg
}

// takePendingWakeWord consumes the injected wake word, if any.
func (a *Application) takePendingWakeWord() string {
	a.inboxMu.Lock()
	defer a.inboxMu.Unlock()
	word := a.pendingWake
	a.pendingWake = ""
	return word
}

func (a *Application) vadState() bool {
	a.inboxMu.Lock()
	defer a.inboxMu.Unlock()
	return a.vadSpeaking
}

// conversationMode picks the listening mode for a new conversation: without
// echo cancellation the device must stop uploading while the assistant
// speaks, with it the turn can stay open.
func (a *Application) conversationMode() device.ListeningMode {
	if a.aecMode == device.AecOff {
		return device.ListeningModeAutoStop
	}
	return device.ListeningModeRealtime
}

// setListeningMode records the mode and enters Listening.
func (a *Application) setListeningMode(mode device.ListeningMode) {
	a.listeningMode = mode
	a.machine.TransitionTo(device.StateListening)
}

// abortSpeaking flags the current assistant turn as aborted and tells the
// server.
func (a *Application) abortSpeaking(reason device.AbortReason) {
	a.aborted = true
	if ch := a.getChannel(); ch != nil {
		ch.SendAbortSpeaking(reason)
	}
}

// alert surfaces a failure to the user. Control loop only.
func (a *Application) alert(status, message, emotion string) {
	a.logger.Warn("alert", "status", status, "message", message)
	a.display.SetEmotion(emotion)
	a.display.ShowNotification(message)
	a.audio.PlaySound(SoundExclamation)
}
