package protocol

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/embervoice/ember-core/internal/device"
)

// fakeServer upgrades connections, answers the hello handshake and records
// everything else it receives.
type fakeServer struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	frames   []string
	binary   [][]byte
	lastAuth string
}

func (s *fakeServer) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.lastAuth = r.Header.Get("Authorization")
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.TextMessage:
			var peek struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal(data, &peek)
			if peek.Type == "hello" {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(
					`{"type":"hello","transport":"websocket","session_id":"sess-42",`+
						`"audio_params":{"sample_rate":24000,"frame_duration":60}}`))
				continue
			}
			s.mu.Lock()
			s.frames = append(s.frames, string(data))
			s.mu.Unlock()
		case websocket.BinaryMessage:
			s.mu.Lock()
			s.binary = append(s.binary, data)
			s.mu.Unlock()
		}
	}
}

func (s *fakeServer) textFrames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func (s *fakeServer) waitFrames(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frames := s.textFrames(); len(frames) >= n {
			return frames
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames, have %v", n, s.textFrames())
	return nil
}

func newTestChannel(t *testing.T) (*WebSocketChannel, *fakeServer) {
	t.Helper()
	server := &fakeServer{}
	ts := httptest.NewServer(http.HandlerFunc(server.handler))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ch := NewWebSocketChannel(
		WebsocketConfig{URL: url, Token: "test-token", Version: 1},
		Options{OpenTimeout: 2 * time.Second},
	)
	t.Cleanup(ch.Shutdown)
	return ch, server
}

func TestWebSocketChannel_OpenHandshake(t *testing.T) {
	ch, server := newTestChannel(t)

	opened := make(chan struct{}, 1)
	ch.SetCallbacks(Callbacks{
		OnAudioChannelOpened: func() { opened <- struct{}{} },
	})
	if err := ch.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if !ch.OpenAudioChannel() {
		t.Fatal("OpenAudioChannel() = false")
	}
	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("OnAudioChannelOpened never fired")
	}

	if !ch.IsAudioChannelOpened() {
		t.Error("IsAudioChannelOpened() = false after open")
	}
	if got := ch.ServerSampleRate(); got != 24000 {
		t.Errorf("ServerSampleRate() = %d, want 24000", got)
	}

	server.mu.Lock()
	auth := server.lastAuth
	server.mu.Unlock()
	if auth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want bearer token", auth)
	}
}

func TestWebSocketChannel_SendsCarrySessionID(t *testing.T) {
	ch, server := newTestChannel(t)
	ch.SetCallbacks(Callbacks{})
	if err := ch.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !ch.OpenAudioChannel() {
		t.Fatal("OpenAudioChannel() = false")
	}

	ch.SendStartListening(device.ListeningModeManualStop)
	ch.SendWakeWordDetected("hey ember")
	ch.SendStopListening()
	ch.SendAbortSpeaking(device.AbortReasonWakeWord)

	frames := server.waitFrames(t, 4)
	for i, frame := range frames {
		var msg map[string]any
		if err := json.Unmarshal([]byte(frame), &msg); err != nil {
			t.Fatalf("frame %d not JSON: %v", i, err)
		}
		if msg["session_id"] != "sess-42" {
			t.Errorf("frame %d session_id = %v, want sess-42", i, msg["session_id"])
		}
	}

	var start map[string]any
	_ = json.Unmarshal([]byte(frames[0]), &start)
	if start["type"] != "listen" || start["state"] != "start" || start["mode"] != "manual" {
		t.Errorf("start frame = %v", start)
	}

	var abort map[string]any
	_ = json.Unmarshal([]byte(frames[3]), &abort)
	if abort["type"] != "abort" || abort["reason"] != "wake_word_detected" {
		t.Errorf("abort frame = %v", abort)
	}
}

func TestWebSocketChannel_SendsWithoutSessionAreNoOps(t *testing.T) {
	ch, server := newTestChannel(t)
	ch.SetCallbacks(Callbacks{})
	if err := ch.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// No open session: every send is a silent no-op.
	ch.SendStartListening(device.ListeningModeAutoStop)
	ch.SendStopListening()
	ch.SendMcpMessage(json.RawMessage(`{}`))
	if ch.SendAudio(&AudioPacket{Payload: []byte{1, 2, 3}}) {
		t.Error("SendAudio() = true without a session")
	}

	time.Sleep(50 * time.Millisecond)
	if frames := server.textFrames(); len(frames) != 0 {
		t.Errorf("server received %v without a session", frames)
	}
}

func TestWebSocketChannel_AudioIsBinary(t *testing.T) {
	ch, server := newTestChannel(t)
	ch.SetCallbacks(Callbacks{})
	if err := ch.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !ch.OpenAudioChannel() {
		t.Fatal("OpenAudioChannel() = false")
	}

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	if !ch.SendAudio(&AudioPacket{Payload: payload}) {
		t.Fatal("SendAudio() = false with open session")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		server.mu.Lock()
		n := len(server.binary)
		server.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	if len(server.binary) != 1 || string(server.binary[0]) != string(payload) {
		t.Errorf("binary frames = %v, want one %v", server.binary, payload)
	}
}

func TestWebSocketChannel_CloseFiresCallback(t *testing.T) {
	ch, _ := newTestChannel(t)

	closed := make(chan struct{}, 1)
	ch.SetCallbacks(Callbacks{
		OnAudioChannelClosed: func() { closed <- struct{}{} },
	})
	if err := ch.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !ch.OpenAudioChannel() {
		t.Fatal("OpenAudioChannel() = false")
	}

	ch.CloseAudioChannel()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnAudioChannelClosed never fired")
	}
	if ch.IsAudioChannelOpened() {
		t.Error("IsAudioChannelOpened() = true after close")
	}
}

func TestWebSocketChannel_StartRequiresURL(t *testing.T) {
	ch := NewWebSocketChannel(WebsocketConfig{}, Options{})
	if err := ch.Start(); err == nil {
		t.Error("Start() with empty URL succeeded")
	}
}
