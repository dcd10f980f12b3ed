package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/embervoice/ember-core/internal/device"
	"github.com/embervoice/ember-core/internal/eventloop"
	"github.com/embervoice/ember-core/internal/protocol"
)

// ---- fakes ----

type fakeAudio struct {
	mu          sync.Mutex
	started     bool
	voice       bool
	wakeEnabled bool
	testing     bool
	afe         bool
	lastWake    string
	sendQueue   []*protocol.AudioPacket
	wakePackets []*protocol.AudioPacket
	decoded     []*protocol.AudioPacket
	sounds      []Sound
	resets      int
	encodes     int
}

func (f *fakeAudio) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeAudio) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
}

func (f *fakeAudio) PushPacketToDecodeQueue(p *protocol.AudioPacket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decoded = append(f.decoded, p)
}

func (f *fakeAudio) PopPacketFromSendQueue() *protocol.AudioPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendQueue) == 0 {
		return nil
	}
	p := f.sendQueue[0]
	f.sendQueue = f.sendQueue[1:]
	return p
}

func (f *fakeAudio) PopWakeWordPacket() *protocol.AudioPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.wakePackets) == 0 {
		return nil
	}
	p := f.wakePackets[0]
	f.wakePackets = f.wakePackets[1:]
	return p
}

func (f *fakeAudio) EncodeWakeWord() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.encodes++
}

func (f *fakeAudio) LastWakeWord() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastWake
}

func (f *fakeAudio) EnableVoiceProcessing(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voice = enabled
}

func (f *fakeAudio) EnableWakeWordDetection(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakeEnabled = enabled
}

func (f *fakeAudio) EnableAudioTesting(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.testing = enabled
}

func (f *fakeAudio) ResetDecoder() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeAudio) PlaySound(s Sound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sounds = append(f.sounds, s)
}

func (f *fakeAudio) IsIdle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.voice
}

func (f *fakeAudio) IsAudioProcessorRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voice
}

func (f *fakeAudio) IsAfeWakeWord() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.afe
}

type fakeChannel struct {
	mu         sync.Mutex
	cb         protocol.Callbacks
	openOK     bool
	failSends  bool
	opened     bool
	openCalls  int
	closeCalls int
	sentAudio  []*protocol.AudioPacket
	startModes []device.ListeningMode
	stopCalls  int
	aborts     []device.AbortReason
	wakeWords  []string
	mcp        []json.RawMessage
	shutdowns  int
}

func (f *fakeChannel) Start() error { return nil }

func (f *fakeChannel) OpenAudioChannel() bool {
	f.mu.Lock()
	f.openCalls++
	ok := f.openOK
	if ok {
		f.opened = true
	}
	cb := f.cb.OnAudioChannelOpened
	f.mu.Unlock()
	if ok && cb != nil {
		cb()
	}
	return ok
}

func (f *fakeChannel) CloseAudioChannel() {
	f.mu.Lock()
	if !f.opened {
		f.mu.Unlock()
		return
	}
	f.opened = false
	f.closeCalls++
	cb := f.cb.OnAudioChannelClosed
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (f *fakeChannel) IsAudioChannelOpened() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *fakeChannel) SendAudio(p *protocol.AudioPacket) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.opened || f.failSends {
		return false
	}
	f.sentAudio = append(f.sentAudio, p)
	return true
}

func (f *fakeChannel) SendStartListening(mode device.ListeningMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.opened {
		return
	}
	f.startModes = append(f.startModes, mode)
}

func (f *fakeChannel) SendStopListening() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.opened {
		return
	}
	f.stopCalls++
}

func (f *fakeChannel) SendAbortSpeaking(reason device.AbortReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.opened {
		return
	}
	f.aborts = append(f.aborts, reason)
}

func (f *fakeChannel) SendWakeWordDetected(word string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.opened {
		return
	}
	f.wakeWords = append(f.wakeWords, word)
}

func (f *fakeChannel) SendMcpMessage(payload json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.opened {
		return
	}
	f.mcp = append(f.mcp, payload)
}

func (f *fakeChannel) ServerSampleRate() int { return 24000 }

func (f *fakeChannel) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = false
	f.shutdowns++
}

type fakeDisplay struct {
	mu             sync.Mutex
	statuses       []string
	notifications  []string
	chat           []string
	emotions       []string
	dismissed      int
	statusBarTicks int
}

func (f *fakeDisplay) SetStatus(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, s)
}

func (f *fakeDisplay) SetEmotion(e string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emotions = append(f.emotions, e)
}

func (f *fakeDisplay) SetChatMessage(role, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chat = append(f.chat, role+": "+content)
}

func (f *fakeDisplay) ShowNotification(m string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, m)
}

func (f *fakeDisplay) DismissAlert() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed++
}

func (f *fakeDisplay) UpdateStatusBar() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusBarTicks++
}

type fakePower struct {
	mu    sync.Mutex
	calls []bool
}

func (f *fakePower) SetPowerSave(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, enabled)
}

// stubBackend satisfies the backend contract; scenarios inject the channel
// directly so the backend is never consulted.
type stubBackend struct{}

func (stubBackend) CheckVersion(context.Context) error { return nil }
func (stubBackend) CurrentVersion() string             { return "1.0.0" }
func (stubBackend) HasNewVersion() bool                { return false }
func (stubBackend) FirmwareURL() string                { return "" }
func (stubBackend) FirmwareVersion() string            { return "" }
func (stubBackend) MarkCurrentVersionValid()           {}
func (stubBackend) HasActivationCode() bool            { return false }
func (stubBackend) HasActivationChallenge() bool       { return false }
func (stubBackend) ActivationCode() string             { return "" }
func (stubBackend) ActivationMessage() string          { return "" }
func (stubBackend) Activate(context.Context) error     { return nil }
func (stubBackend) HasMqttConfig() bool                { return false }
func (stubBackend) MqttConfig() protocol.MqttConfig    { return protocol.MqttConfig{} }
func (stubBackend) HasWebsocketConfig() bool           { return false }
func (stubBackend) WebsocketConfig() protocol.WebsocketConfig {
	return protocol.WebsocketConfig{}
}
func (stubBackend) HasServerTime() bool   { return false }
func (stubBackend) ServerTime() time.Time { return time.Time{} }

type fakeUpgrader struct {
	err error
}

func (f *fakeUpgrader) Upgrade(url, version string, progress func(int, float64)) error {
	progress(50, 1<<20)
	progress(100, 1<<20)
	return f.err
}

type fakeRebooter struct {
	mu      sync.Mutex
	reboots int
}

func (f *fakeRebooter) Reboot() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reboots++
}

// ---- harness ----

type fixture struct {
	app      *Application
	audio    *fakeAudio
	display  *fakeDisplay
	channel  *fakeChannel
	power    *fakePower
	upgrader *fakeUpgrader
	rebooter *fakeRebooter
}

func newFixture(t *testing.T, aec device.AecMode) *fixture {
	t.Helper()
	f := &fixture{
		audio:    &fakeAudio{},
		display:  &fakeDisplay{},
		channel:  &fakeChannel{openOK: true},
		power:    &fakePower{},
		upgrader: &fakeUpgrader{},
		rebooter: &fakeRebooter{},
	}

	a, err := New(Options{
		Audio:             f.audio,
		Backend:           stubBackend{},
		Display:           f.display,
		Power:             f.power,
		Upgrader:          f.upgrader,
		Rebooter:          f.rebooter,
		AecMode:           aec,
		ClockTickInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	f.app = a
	f.channel.cb = a.protocolCallbacks()
	a.setChannel(f.channel)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Run(ctx)
	return f
}

// forceState transitions on the loop and waits for the side effects.
func (f *fixture) forceState(t *testing.T, s device.State) {
	t.Helper()
	f.app.machine.TransitionTo(s)
	f.waitState(t, s)
	f.sync(t)
}

// waitState polls until the device reaches s.
func (f *fixture) waitState(t *testing.T, s device.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.app.DeviceState() == s {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("device state = %v, want %v", f.app.DeviceState(), s)
}

// sync waits until the loop has processed everything queued so far.
func (f *fixture) sync(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	f.app.Schedule(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("control loop did not drain")
	}
}

// onLoop runs fn on the control loop and waits for it.
func (f *fixture) onLoop(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	f.app.Schedule(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task never ran")
	}
}

// ---- scenarios ----

// Idle + toggle + successful open + AEC off ends in Listening, AutoStop.
func TestToggleChat_IdleOpensListeningAutoStop(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.forceState(t, device.StateIdle)

	f.app.ToggleChatState()
	f.waitState(t, device.StateListening)
	f.sync(t)

	f.channel.mu.Lock()
	defer f.channel.mu.Unlock()
	if f.channel.openCalls != 1 {
		t.Errorf("open calls = %d, want 1", f.channel.openCalls)
	}
	if len(f.channel.startModes) != 1 || f.channel.startModes[0] != device.ListeningModeAutoStop {
		t.Errorf("start modes = %v, want [auto]", f.channel.startModes)
	}
}

func TestToggleChat_AecOnUsesRealtime(t *testing.T) {
	f := newFixture(t, device.AecOnServerSide)
	f.forceState(t, device.StateIdle)

	f.app.ToggleChatState()
	f.waitState(t, device.StateListening)
	f.sync(t)

	f.channel.mu.Lock()
	defer f.channel.mu.Unlock()
	if len(f.channel.startModes) != 1 || f.channel.startModes[0] != device.ListeningModeRealtime {
		t.Errorf("start modes = %v, want [realtime]", f.channel.startModes)
	}
}

func TestToggleChat_OpenFailureRevertsToIdle(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.channel.mu.Lock()
	f.channel.openOK = false
	f.channel.mu.Unlock()
	f.forceState(t, device.StateIdle)

	f.audio.mu.Lock()
	f.audio.wakeEnabled = false
	f.audio.mu.Unlock()

	f.app.ToggleChatState()
	time.Sleep(20 * time.Millisecond)
	f.waitState(t, device.StateIdle)
	f.sync(t)

	f.audio.mu.Lock()
	defer f.audio.mu.Unlock()
	if !f.audio.wakeEnabled {
		t.Error("wake word detection not re-armed after failed open")
	}
}

// tts start while Speaking clears the abort flag and stays in Speaking.
func TestTtsStart_WhileSpeakingClearsAbort(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.forceState(t, device.StateIdle)
	f.channel.OpenAudioChannel()
	f.forceState(t, device.StateSpeaking)
	f.onLoop(t, func() { f.app.aborted = true })

	f.channel.cb.OnIncomingJSON(mustParse(t, `{"type":"tts","state":"start"}`))
	f.sync(t)

	f.waitState(t, device.StateSpeaking)
	var aborted bool
	f.onLoop(t, func() { aborted = f.app.aborted })
	if aborted {
		t.Error("abort flag not cleared by tts start")
	}
}

// tts stop while Speaking: ManualStop ends in Idle, any other mode returns
// to Listening.
func TestTtsStop_ModeDecidesNextState(t *testing.T) {
	tests := []struct {
		name string
		mode device.ListeningMode
		want device.State
	}{
		{"manual stops", device.ListeningModeManualStop, device.StateIdle},
		{"auto keeps listening", device.ListeningModeAutoStop, device.StateListening},
		{"realtime keeps listening", device.ListeningModeRealtime, device.StateListening},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, device.AecOff)
			f.forceState(t, device.StateIdle)
			f.channel.OpenAudioChannel()
			f.forceState(t, device.StateSpeaking)
			f.onLoop(t, func() { f.app.listeningMode = tt.mode })

			f.channel.cb.OnIncomingJSON(mustParse(t, `{"type":"tts","state":"stop"}`))
			f.waitState(t, tt.want)
		})
	}
}

// Network loss mid-conversation closes the session; while idle it does
// nothing.
func TestNetworkDisconnected(t *testing.T) {
	t.Run("listening closes session", func(t *testing.T) {
		f := newFixture(t, device.AecOff)
		f.forceState(t, device.StateIdle)
		f.channel.OpenAudioChannel()
		f.forceState(t, device.StateListening)

		f.app.NetworkDown()
		f.waitState(t, device.StateIdle)
		f.sync(t)

		f.channel.mu.Lock()
		defer f.channel.mu.Unlock()
		if f.channel.closeCalls != 1 {
			t.Errorf("close calls = %d, want 1", f.channel.closeCalls)
		}
	})

	t.Run("idle is a no-op", func(t *testing.T) {
		f := newFixture(t, device.AecOff)
		f.forceState(t, device.StateIdle)
		f.channel.OpenAudioChannel()

		f.app.NetworkDown()
		f.sync(t)

		f.channel.mu.Lock()
		defer f.channel.mu.Unlock()
		if f.channel.closeCalls != 0 {
			t.Errorf("close calls = %d, want 0", f.channel.closeCalls)
		}
	})
}

// A failed flash restarts the audio pipeline and leaves Idle, never a
// device stuck in Upgrading with audio disabled.
func TestUpgradeFailure_RecoversAudioAndState(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.forceState(t, device.StateIdle)
	f.upgrader.err = errors.New("flash write failed")

	if err := f.app.upgradeFirmware("https://fw/2.bin", "2.0.0"); err == nil {
		t.Fatal("upgradeFirmware() succeeded, want error")
	}
	f.waitState(t, device.StateIdle)
	f.sync(t)

	f.audio.mu.Lock()
	started := f.audio.started
	f.audio.mu.Unlock()
	if !started {
		t.Error("audio pipeline not restarted after failed upgrade")
	}
	f.rebooter.mu.Lock()
	defer f.rebooter.mu.Unlock()
	if f.rebooter.reboots != 0 {
		t.Errorf("reboots = %d after failed upgrade", f.rebooter.reboots)
	}
}

func TestUpgradeSuccess_Reboots(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.forceState(t, device.StateIdle)

	if err := f.app.upgradeFirmware("https://fw/2.bin", "2.0.0"); err != nil {
		t.Fatalf("upgradeFirmware() error: %v", err)
	}

	f.rebooter.mu.Lock()
	defer f.rebooter.mu.Unlock()
	if f.rebooter.reboots != 1 {
		t.Errorf("reboots = %d, want 1", f.rebooter.reboots)
	}
}

// Sends without a session are silent no-ops.
func TestSendsWithoutChannelAreNoOps(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.app.setChannel(nil)
	f.forceState(t, device.StateIdle)

	f.app.SendMcpMessage(json.RawMessage(`{"x":1}`))
	f.app.StartListening()
	f.sync(t)

	if got := f.app.DeviceState(); got != device.StateIdle {
		t.Errorf("state = %v after sends without channel, want idle", got)
	}
}

func TestWakeWord_IdleOpensSessionAndReplaysBuffer(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.forceState(t, device.StateIdle)

	f.audio.mu.Lock()
	f.audio.wakePackets = []*protocol.AudioPacket{
		{Payload: []byte{1}}, {Payload: []byte{2}},
	}
	f.audio.mu.Unlock()

	f.app.NotifyWakeWordDetected("hey ember")
	f.waitState(t, device.StateListening)
	f.sync(t)

	f.channel.mu.Lock()
	defer f.channel.mu.Unlock()
	if len(f.channel.sentAudio) != 2 {
		t.Errorf("replayed packets = %d, want 2", len(f.channel.sentAudio))
	}
	if len(f.channel.wakeWords) != 1 || f.channel.wakeWords[0] != "hey ember" {
		t.Errorf("wake words = %v", f.channel.wakeWords)
	}
	f.audio.mu.Lock()
	defer f.audio.mu.Unlock()
	if f.audio.encodes != 1 {
		t.Errorf("EncodeWakeWord calls = %d, want 1", f.audio.encodes)
	}
}

func TestWakeWord_WhileSpeakingAborts(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.forceState(t, device.StateIdle)
	f.channel.OpenAudioChannel()
	f.forceState(t, device.StateSpeaking)

	f.app.NotifyWakeWordDetected("hey ember")
	f.sync(t)

	f.channel.mu.Lock()
	defer f.channel.mu.Unlock()
	if len(f.channel.aborts) != 1 || f.channel.aborts[0] != device.AbortReasonWakeWord {
		t.Errorf("aborts = %v, want [wake_word_detected]", f.channel.aborts)
	}
}

func TestStopListening_SendsStopAndIdles(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.forceState(t, device.StateIdle)
	f.channel.OpenAudioChannel()
	f.forceState(t, device.StateListening)

	f.app.StopListening()
	f.waitState(t, device.StateIdle)
	f.sync(t)

	f.channel.mu.Lock()
	defer f.channel.mu.Unlock()
	if f.channel.stopCalls != 1 {
		t.Errorf("stop calls = %d, want 1", f.channel.stopCalls)
	}
}

func TestSendAudio_DrainsQueueWhileListening(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.forceState(t, device.StateIdle)
	f.channel.OpenAudioChannel()
	f.forceState(t, device.StateListening)

	f.audio.mu.Lock()
	f.audio.sendQueue = []*protocol.AudioPacket{
		{Payload: []byte{1}}, {Payload: []byte{2}}, {Payload: []byte{3}},
	}
	f.audio.mu.Unlock()

	f.app.NotifySendQueueAvailable()
	f.sync(t)

	f.channel.mu.Lock()
	defer f.channel.mu.Unlock()
	if len(f.channel.sentAudio) != 3 {
		t.Errorf("sent packets = %d, want 3", len(f.channel.sentAudio))
	}
}

func TestProtocolError_RevertsToIdleAndAlerts(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.forceState(t, device.StateIdle)
	f.channel.OpenAudioChannel()
	f.forceState(t, device.StateListening)

	f.channel.cb.OnNetworkError("server unreachable")
	f.waitState(t, device.StateIdle)
	f.sync(t)

	f.display.mu.Lock()
	defer f.display.mu.Unlock()
	found := false
	for _, n := range f.display.notifications {
		if n == "server unreachable" {
			found = true
		}
	}
	if !found {
		t.Errorf("notifications = %v, want the error surfaced", f.display.notifications)
	}
}

func TestIncomingChat_UpdatesDisplay(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.forceState(t, device.StateIdle)

	f.channel.cb.OnIncomingJSON(mustParse(t, `{"type":"stt","text":"what time is it"}`))
	f.channel.cb.OnIncomingJSON(mustParse(t, `{"type":"llm","emotion":"thinking"}`))
	f.channel.cb.OnIncomingJSON(mustParse(t, `{"type":"tts","state":"sentence_start","text":"It is noon."}`))
	f.sync(t)

	f.display.mu.Lock()
	defer f.display.mu.Unlock()
	if len(f.display.chat) != 2 {
		t.Fatalf("chat lines = %v, want user + assistant", f.display.chat)
	}
	if f.display.chat[0] != "user: what time is it" {
		t.Errorf("chat[0] = %q", f.display.chat[0])
	}
	if f.display.chat[1] != "assistant: It is noon." {
		t.Errorf("chat[1] = %q", f.display.chat[1])
	}
}

func TestCanEnterSleepMode(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.forceState(t, device.StateIdle)

	if !f.app.CanEnterSleepMode() {
		t.Error("CanEnterSleepMode() = false when idle with closed session")
	}

	f.channel.OpenAudioChannel()
	f.sync(t)
	if f.app.CanEnterSleepMode() {
		t.Error("CanEnterSleepMode() = true with an open session")
	}
}

func TestHandlerPanicRaisesErrorInsteadOfCrashing(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.forceState(t, device.StateIdle)
	f.channel.OpenAudioChannel()
	f.forceState(t, device.StateListening)

	f.app.Schedule(func() { panic("boom") })
	// The panic converts into the error flag, which reverts to Idle on the
	// next cycle; the loop keeps running.
	f.waitState(t, device.StateIdle)
	f.sync(t)
}

// Activation done announces the running firmware version and drops to the
// low-power profile along with the success sound.
func TestActivationDone_NotifiesVersionAndDropsPower(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.forceState(t, device.StateActivating)

	f.app.flags.Set(eventloop.FlagActivationDone)
	f.waitState(t, device.StateIdle)
	f.sync(t)

	f.display.mu.Lock()
	notifications := append([]string(nil), f.display.notifications...)
	dismissed := f.display.dismissed
	f.display.mu.Unlock()
	found := false
	for _, n := range notifications {
		if n == "version 1.0.0" {
			found = true
		}
	}
	if !found {
		t.Errorf("notifications = %v, want the firmware version announced", notifications)
	}
	if dismissed == 0 {
		t.Error("standing alert not dismissed on activation done")
	}

	f.power.mu.Lock()
	calls := append([]bool(nil), f.power.calls...)
	f.power.mu.Unlock()
	if len(calls) == 0 || !calls[len(calls)-1] {
		t.Errorf("power calls = %v, want a final switch to power save", calls)
	}

	f.audio.mu.Lock()
	defer f.audio.mu.Unlock()
	found = false
	for _, s := range f.audio.sounds {
		if s == SoundSuccess {
			found = true
		}
	}
	if !found {
		t.Errorf("sounds = %v, want the success sound", f.audio.sounds)
	}
}

// Within one wake-up the handlers run in fixed priority order: the error
// pre-empts everything, the state change is rendered next, and user actions
// observe the post-error state.
func TestDispatch_PriorityWithinOneWake(t *testing.T) {
	audio := &fakeAudio{}
	display := &fakeDisplay{}
	channel := &fakeChannel{openOK: true}

	a, err := New(Options{
		Audio:   audio,
		Backend: stubBackend{},
		Display: display,
		AecMode: device.AecOff,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	channel.cb = a.protocolCallbacks()
	a.setChannel(channel)

	// One window, three pending events: a transition into Speaking, an
	// error and a conversation toggle.
	a.machine.TransitionTo(device.StateSpeaking)
	a.RaiseError("link reset")
	a.flags.Set(eventloop.FlagToggleChat)

	fl, err := a.flags.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	a.dispatch(fl)

	display.mu.Lock()
	emotions := append([]string(nil), display.emotions...)
	statuses := append([]string(nil), display.statuses...)
	display.mu.Unlock()
	if len(emotions) < 2 || emotions[0] != "sad" || emotions[1] != "neutral" {
		t.Errorf("emotions = %v, want the error alert rendered before the state change", emotions)
	}
	if len(statuses) == 0 || statuses[0] != "standby" {
		t.Errorf("statuses = %v, want the post-error state rendered", statuses)
	}

	// The toggle ran last: it saw the Idle the error handler left behind and
	// opened a fresh session instead of aborting a stale Speaking turn.
	if got := a.machine.Current(); got != device.StateListening {
		t.Errorf("state = %v, want listening", got)
	}
	channel.mu.Lock()
	defer channel.mu.Unlock()
	if channel.openCalls != 1 {
		t.Errorf("open calls = %d, want 1", channel.openCalls)
	}
	if len(channel.aborts) != 0 {
		t.Errorf("aborts = %v, want none", channel.aborts)
	}
}

// A failed send ends the drain so the rest of the queue survives a dead
// link; the no-session drop path keeps draining.
func TestSendAudio_StopsDrainOnSendFailure(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.forceState(t, device.StateIdle)
	f.channel.OpenAudioChannel()
	f.forceState(t, device.StateListening)

	f.channel.mu.Lock()
	f.channel.failSends = true
	f.channel.mu.Unlock()
	f.audio.mu.Lock()
	f.audio.sendQueue = []*protocol.AudioPacket{
		{Payload: []byte{1}}, {Payload: []byte{2}}, {Payload: []byte{3}},
	}
	f.audio.mu.Unlock()

	f.app.NotifySendQueueAvailable()
	f.sync(t)

	f.channel.mu.Lock()
	sent := len(f.channel.sentAudio)
	f.channel.mu.Unlock()
	if sent != 0 {
		t.Errorf("sent packets = %d, want 0", sent)
	}
	f.audio.mu.Lock()
	defer f.audio.mu.Unlock()
	if len(f.audio.sendQueue) != 2 {
		t.Errorf("queued packets = %d, want 2 left after the failed send", len(f.audio.sendQueue))
	}
}

func TestClockTick_RefreshesStatusBar(t *testing.T) {
	f := newFixture(t, device.AecOff)
	f.forceState(t, device.StateIdle)

	f.app.flags.Set(eventloop.FlagClockTick)
	f.sync(t)
	// The first sync can land in the same cycle as the tick; a second one
	// strictly follows the tick handler.
	f.sync(t)

	f.display.mu.Lock()
	defer f.display.mu.Unlock()
	if f.display.statusBarTicks == 0 {
		t.Error("clock tick did not refresh the status bar")
	}
}

func mustParse(t *testing.T, raw string) *protocol.Message {
	t.Helper()
	msg, err := protocol.ParseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseMessage(%s) error: %v", raw, err)
	}
	return msg
}
