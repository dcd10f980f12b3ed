package board

import (
	"sync"

	"github.com/embervoice/ember-core/internal/app"
	"github.com/embervoice/ember-core/internal/protocol"
)

// LoopbackAudio is a pipeline stand-in for deployments without a codec:
// queues work, flags track the enable states, and no samples ever flow.
// It exists so the control core runs end to end on a host and so external
// feeders (tests, tools) can inject packets.
type LoopbackAudio struct {
	mu          sync.Mutex
	started     bool
	voice       bool
	wakeEnabled bool
	testing     bool
	lastWake    string
	sendQueue   []*protocol.AudioPacket
	wakeQueue   []*protocol.AudioPacket

	logger Logger
}

// NewLoopbackAudio creates the stand-in pipeline.
func NewLoopbackAudio(logger Logger) *LoopbackAudio {
	return &LoopbackAudio{logger: logger}
}

var _ app.AudioService = (*LoopbackAudio)(nil)

func (a *LoopbackAudio) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = true
	a.logger.Info("loopback audio pipeline started")
	return nil
}

func (a *LoopbackAudio) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = false
	a.voice = false
	a.logger.Info("loopback audio pipeline stopped")
}

func (a *LoopbackAudio) PushPacketToDecodeQueue(packet *protocol.AudioPacket) {
	a.logger.Debug("dropping downlink frame", "bytes", len(packet.Payload))
}

func (a *LoopbackAudio) PopPacketFromSendQueue() *protocol.AudioPacket {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sendQueue) == 0 {
		return nil
	}
	packet := a.sendQueue[0]
	a.sendQueue = a.sendQueue[1:]
	return packet
}

func (a *LoopbackAudio) PopWakeWordPacket() *protocol.AudioPacket {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.wakeQueue) == 0 {
		return nil
	}
	packet := a.wakeQueue[0]
	a.wakeQueue = a.wakeQueue[1:]
	return packet
}

func (a *LoopbackAudio) EncodeWakeWord() {}

func (a *LoopbackAudio) LastWakeWord() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastWake
}

func (a *LoopbackAudio) EnableVoiceProcessing(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.voice = enabled
}

func (a *LoopbackAudio) EnableWakeWordDetection(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.wakeEnabled = enabled
}

func (a *LoopbackAudio) EnableAudioTesting(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.testing = enabled
}

func (a *LoopbackAudio) ResetDecoder() {}

func (a *LoopbackAudio) PlaySound(sound app.Sound) {
	a.logger.Info("playing sound", "sound", string(sound))
}

func (a *LoopbackAudio) IsIdle() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.voice
}

func (a *LoopbackAudio) IsAudioProcessorRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.voice
}

func (a *LoopbackAudio) IsAfeWakeWord() bool { return false }

// InjectSendPacket queues an uplink frame as if the encoder produced it.
func (a *LoopbackAudio) InjectSendPacket(packet *protocol.AudioPacket) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendQueue = append(a.sendQueue, packet)
}

// InjectWakeWord buffers wake-word audio and records the word.
func (a *LoopbackAudio) InjectWakeWord(word string, packets []*protocol.AudioPacket) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastWake = word
	a.wakeQueue = append(a.wakeQueue, packets...)
}
