package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/embervoice/ember-core/internal/protocol"
)

// Logger is the minimal logging interface the activation package needs.
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

// HTTPOptions configure the HTTP backend client.
type HTTPOptions struct {
	// CheckVersionURL is the version/activation query endpoint.
	CheckVersionURL string

	// ActivationURL is the pairing confirmation endpoint.
	ActivationURL string

	// Timeout bounds each request.
	Timeout time.Duration

	// DeviceID identifies the physical device (typically its MAC).
	DeviceID string

	// ClientID is the per-install identity. Generated when empty.
	ClientID string

	// Board names the hardware variant.
	Board string

	// AppVersion is the running firmware version.
	AppVersion string

	// Logger receives client diagnostics. Defaults to a no-op logger.
	Logger Logger
}

// HTTPBackend talks to the device-management service over HTTP.
//
// Safe for use from the activation worker; the cached check result is
// guarded for the benefit of control-loop reads of the getters.
type HTTPBackend struct {
	opts   HTTPOptions
	client *http.Client

	mu       sync.Mutex
	firmware *firmwareInfo
	activate *activationInfo
	mqttCfg  *protocol.MqttConfig
	wsCfg    *protocol.WebsocketConfig
	srvTime  *time.Time
}

// compile-time interface check
var _ Backend = (*HTTPBackend)(nil)

type firmwareInfo struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

type activationInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Challenge string `json:"challenge"`
}

// checkVersionResponse is the backend's reply shape. Absent sections mean
// "nothing pending".
type checkVersionResponse struct {
	Firmware   *firmwareInfo             `json:"firmware"`
	Activation *activationInfo           `json:"activation"`
	Mqtt       *protocol.MqttConfig      `json:"mqtt"`
	Websocket  *protocol.WebsocketConfig `json:"websocket"`
	ServerTime *struct {
		Timestamp      int64 `json:"timestamp"`
		TimezoneOffset int   `json:"timezone_offset"`
	} `json:"server_time"`
}

// NewHTTPBackend creates a backend client. A missing ClientID is replaced
// with a freshly generated UUID; persist it across restarts by passing the
// stored value back in.
func NewHTTPBackend(opts HTTPOptions) *HTTPBackend {
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &HTTPBackend{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// ClientID returns the per-install identity in use.
func (b *HTTPBackend) ClientID() string {
	return b.opts.ClientID
}

// CheckVersion queries the backend and caches the parsed reply.
func (b *HTTPBackend) CheckVersion(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"uuid":  b.opts.ClientID,
		"board": b.opts.Board,
		"application": map[string]string{
			"version": b.opts.AppVersion,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckVersionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.opts.CheckVersionURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckVersionFailed, err)
	}
	b.setHeaders(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckVersionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrCheckVersionFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckVersionFailed, err)
	}

	var reply checkVersionResponse
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("%w: %w", ErrCheckVersionFailed, err)
	}

	b.mu.Lock()
	b.firmware = reply.Firmware
	b.activate = reply.Activation
	b.mqttCfg = reply.Mqtt
	b.wsCfg = reply.Websocket
	b.srvTime = nil
	if reply.ServerTime != nil {
		t := time.UnixMilli(reply.ServerTime.Timestamp).
			In(time.FixedZone("server", reply.ServerTime.TimezoneOffset*60))
		b.srvTime = &t
	}
	b.mu.Unlock()

	b.opts.Logger.Debug("version check complete",
		"has_firmware", reply.Firmware != nil,
		"has_activation", reply.Activation != nil,
	)
	return nil
}

// CurrentVersion returns the running firmware version.
func (b *HTTPBackend) CurrentVersion() string {
	return b.opts.AppVersion
}

// HasNewVersion reports whether the backend offered a newer firmware.
func (b *HTTPBackend) HasNewVersion() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.firmware == nil || b.firmware.URL == "" {
		return false
	}
	return versionNewer(b.firmware.Version, b.opts.AppVersion)
}

// FirmwareURL returns the download URL of the offered firmware.
func (b *HTTPBackend) FirmwareURL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.firmware == nil {
		return ""
	}
	return b.firmware.URL
}

// FirmwareVersion returns the version label of the offered firmware.
func (b *HTTPBackend) FirmwareVersion() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.firmware == nil {
		return ""
	}
	return b.firmware.Version
}

// MarkCurrentVersionValid confirms the running firmware as good. The flash
// rollback hook lives in the board support layer; here it only logs.
func (b *HTTPBackend) MarkCurrentVersionValid() {
	b.opts.Logger.Info("current firmware marked valid", "version", b.opts.AppVersion)
}

// HasActivationCode reports whether a pairing code is pending.
func (b *HTTPBackend) HasActivationCode() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activate != nil && b.activate.Code != ""
}

// HasActivationChallenge reports whether a challenge is pending.
func (b *HTTPBackend) HasActivationChallenge() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activate != nil && b.activate.Challenge != ""
}

// ActivationCode returns the pairing code to display.
func (b *HTTPBackend) ActivationCode() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activate == nil {
		return ""
	}
	return b.activate.Code
}

// ActivationMessage returns the instruction text accompanying the code.
func (b *HTTPBackend) ActivationMessage() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activate == nil {
		return ""
	}
	return b.activate.Message
}

// Activate polls the backend for pairing confirmation.
//
// The backend answers 202 while the user has not yet entered the code;
// that is surfaced as ErrActivationTimeout so callers can retry on the
// short schedule.
func (b *HTTPBackend) Activate(ctx context.Context) error {
	b.mu.Lock()
	var challenge string
	if b.activate != nil {
		challenge = b.activate.Challenge
	}
	b.mu.Unlock()

	body, err := json.Marshal(map[string]string{
		"device_id": b.opts.DeviceID,
		"client_id": b.opts.ClientID,
		"challenge": challenge,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.opts.ActivationURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}
	b.setHeaders(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		b.opts.Logger.Info("device activated")
		return nil
	case http.StatusAccepted:
		return ErrActivationTimeout
	default:
		return fmt.Errorf("%w: status %d", ErrActivationFailed, resp.StatusCode)
	}
}

// HasMqttConfig reports whether an MQTT configuration was issued.
func (b *HTTPBackend) HasMqttConfig() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mqttCfg != nil && b.mqttCfg.Endpoint != ""
}

// MqttConfig returns the issued MQTT configuration.
func (b *HTTPBackend) MqttConfig() protocol.MqttConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mqttCfg == nil {
		return protocol.MqttConfig{}
	}
	return *b.mqttCfg
}

// HasWebsocketConfig reports whether a WebSocket configuration was issued.
func (b *HTTPBackend) HasWebsocketConfig() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wsCfg != nil && b.wsCfg.URL != ""
}

// WebsocketConfig returns the issued WebSocket configuration.
func (b *HTTPBackend) WebsocketConfig() protocol.WebsocketConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wsCfg == nil {
		return protocol.WebsocketConfig{}
	}
	return *b.wsCfg
}

// HasServerTime reports whether a wall-clock reference was supplied.
func (b *HTTPBackend) HasServerTime() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.srvTime != nil
}

// ServerTime returns the backend wall-clock reference.
func (b *HTTPBackend) ServerTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.srvTime == nil {
		return time.Time{}
	}
	return *b.srvTime
}

// setHeaders stamps the identity headers on a backend request.
func (b *HTTPBackend) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Device-Id", b.opts.DeviceID)
	req.Header.Set("Client-Id", b.opts.ClientID)
}

// versionNewer reports whether candidate is a strictly newer dotted-numeric
// version than current. Non-numeric segments compare lexically.
func versionNewer(candidate, current string) bool {
	if candidate == "" || candidate == current {
		return false
	}
	ca := strings.Split(candidate, ".")
	cu := strings.Split(current, ".")
	for i := 0; i < len(ca) && i < len(cu); i++ {
		an, aerr := strconv.Atoi(ca[i])
		bn, berr := strconv.Atoi(cu[i])
		if aerr == nil && berr == nil {
			if an != bn {
				return an > bn
			}
			continue
		}
		if ca[i] != cu[i] {
			return ca[i] > cu[i]
		}
	}
	return len(ca) > len(cu)
}
