package board

import (
	"os"

	"github.com/embervoice/ember-core/internal/app"
)

// Logger is the minimal logging interface the board package needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ConsoleDisplay renders the display surface into the log stream.
type ConsoleDisplay struct {
	logger Logger
}

// NewConsoleDisplay creates a display that writes to the given logger.
func NewConsoleDisplay(logger Logger) *ConsoleDisplay {
	return &ConsoleDisplay{logger: logger}
}

var _ app.Display = (*ConsoleDisplay)(nil)

func (d *ConsoleDisplay) SetStatus(status string) {
	d.logger.Info("display status", "status", status)
}

func (d *ConsoleDisplay) SetEmotion(emotion string) {
	d.logger.Debug("display emotion", "emotion", emotion)
}

func (d *ConsoleDisplay) SetChatMessage(role, content string) {
	d.logger.Info("chat", "role", role, "content", content)
}

func (d *ConsoleDisplay) ShowNotification(message string) {
	d.logger.Warn("notification", "message", message)
}

func (d *ConsoleDisplay) DismissAlert() {
	d.logger.Debug("alert dismissed")
}

func (d *ConsoleDisplay) UpdateStatusBar() {
	d.logger.Debug("status bar refresh")
}

// ConsoleLed logs state changes instead of driving a LED.
type ConsoleLed struct {
	logger Logger
	state  func() string
}

// NewConsoleLed creates a LED stand-in. state supplies the label to log.
func NewConsoleLed(logger Logger, state func() string) *ConsoleLed {
	return &ConsoleLed{logger: logger, state: state}
}

var _ app.Led = (*ConsoleLed)(nil)

func (l *ConsoleLed) OnStateChanged() {
	l.logger.Debug("led refresh", "state", l.state())
}

// HostPower logs power profile switches; a host deployment has no power
// rail to drive.
type HostPower struct {
	logger Logger
}

// NewHostPower creates the host power controller.
func NewHostPower(logger Logger) *HostPower {
	return &HostPower{logger: logger}
}

var _ app.PowerController = (*HostPower)(nil)

func (p *HostPower) SetPowerSave(enabled bool) {
	p.logger.Debug("power profile", "power_save", enabled)
}

// SupervisorRebooter reboots by exiting the process; the service supervisor
// restarts it, which on a host deployment is the reboot.
type SupervisorRebooter struct {
	logger Logger
}

// NewSupervisorRebooter creates the host rebooter.
func NewSupervisorRebooter(logger Logger) *SupervisorRebooter {
	return &SupervisorRebooter{logger: logger}
}

var _ app.Rebooter = (*SupervisorRebooter)(nil)

func (r *SupervisorRebooter) Reboot() {
	r.logger.Info("exiting for supervisor restart")
	os.Exit(0)
}
