package call

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/doki/backend/internal/model/persona"
	"github.com/zhouzirui/doki/backend/internal/service/call"
	chatservice "github.com/zhouzirui/doki/backend/internal/service/chat"
	"github.com/zhouzirui/doki/backend/internal/storage"
)

type fakeStream struct {
	events chan call.Event
	mu     sync.Mutex
	sent   []call.MediaChunk
	once   sync.Once
}

func (s *fakeStream) Send(chunk call.MediaChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, chunk)
	return nil
}

func (s *fakeStream) Events() <-chan call.Event { return s.events }

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

func (s *fakeStream) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeConnector struct {
	mu      sync.Mutex
	configs []call.LiveConfig
	stream  *fakeStream
	dialErr error
}

func (c *fakeConnector) Connect(_ context.Context, cfg call.LiveConfig) (call.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs = append(c.configs, cfg)
	if err := c.dialErr; err != nil {
		c.dialErr = nil
		return nil, err
	}
	c.stream = &fakeStream{events: make(chan call.Event, 8)}
	return c.stream, nil
}

func (c *fakeConnector) attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.configs)
}

func (c *fakeConnector) last() (call.LiveConfig, *fakeStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.configs) == 0 {
		return call.LiveConfig{}, nil
	}
	return c.configs[len(c.configs)-1], c.stream
}

type message struct {
	Type    string  `json:"type"`
	State   string  `json:"state"`
	Error   string  `json:"error"`
	Message string  `json:"message"`
	Voice   string  `json:"voice"`
	StartAt float64 `json:"startAt"`
	Enabled bool    `json:"enabled"`
}

func setup(t *testing.T, key string) (*httptest.Server, *fakeConnector, string) {
	t.Helper()
	chatSvc, err := chatservice.NewService(storage.NewSessionStore(storage.NewMemoryKV(), "doki_sessions"))
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	store := persona.NewMemoryStore(persona.Seed())
	sungchan, _ := store.FindByID("sungchan")
	session, _, err := chatSvc.StartChat(sungchan)
	if err != nil {
		t.Fatalf("StartChat err: %v", err)
	}

	connector := &fakeConnector{}
	handler := New(chatSvc, store, connector, call.NewKeyCredentials(key), call.Config{
		Model:         "live-model",
		FrameSize:     2,
		VideoInterval: time.Hour,
	})

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, connector, session.ID
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/call/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// expect reads until a message of the given type (and state, if set) arrives.
func expect(t *testing.T, conn *websocket.Conn, typ, state string) message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s %s: %v", typ, state, err)
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type == typ && (state == "" || msg.State == state) {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func float32Frame(samples ...float32) string {
	raw := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(s))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestCallCredentialFlow(t *testing.T) {
	srv, connector, sessionID := setup(t, "")
	conn := dial(t, srv, sessionID)

	ready := expect(t, conn, "ready", "")
	if ready.Voice != "Zephyr" {
		t.Fatalf("expected persona voice, got %q", ready.Voice)
	}
	expect(t, conn, "state", string(call.StateNeedsCredential))

	send(t, conn, map[string]string{"type": "credential", "key": "user-key"})
	expect(t, conn, "state", string(call.StateConnecting))

	cfg, stream := connector.last()
	if cfg.APIKey != "user-key" || cfg.Voice != "Zephyr" || !strings.Contains(cfg.SystemInstruction, "Sungchan") {
		t.Fatalf("unexpected live config %+v", cfg)
	}

	stream.events <- call.Event{Type: call.EventOpened}
	expect(t, conn, "state", string(call.StateActive))

	send(t, conn, map[string]string{"type": "hangup"})
	expect(t, conn, "state", string(call.StateIdle))
}

func TestCallRejectedKeyIsForgotten(t *testing.T) {
	srv, connector, sessionID := setup(t, "env-key")
	connector.dialErr = fmt.Errorf("%w: 401 Unauthorized", call.ErrCredentialRequired)
	conn := dial(t, srv, sessionID)

	expect(t, conn, "state", string(call.StateConnecting))
	expect(t, conn, "state", string(call.StateNeedsCredential))

	send(t, conn, map[string]string{"type": "retry"})
	expect(t, conn, "state", string(call.StateNeedsCredential))
	if n := connector.attempts(); n != 1 {
		t.Fatalf("rejected key should not be reused, got %d connect attempts", n)
	}

	send(t, conn, map[string]string{"type": "credential", "key": "fresh-key"})
	expect(t, conn, "state", string(call.StateConnecting))
	if cfg, _ := connector.last(); cfg.APIKey != "fresh-key" {
		t.Fatalf("expected the new key, got %q", cfg.APIKey)
	}
}

func TestCallBridgesAudio(t *testing.T) {
	srv, connector, sessionID := setup(t, "env-key")
	conn := dial(t, srv, sessionID)
	expect(t, conn, "state", string(call.StateConnecting))

	_, stream := connector.last()
	stream.events <- call.Event{Type: call.EventOpened}
	expect(t, conn, "state", string(call.StateActive))

	send(t, conn, map[string]string{"type": "audio", "data": float32Frame(0.1, 0.2)})
	deadline := time.Now().Add(2 * time.Second)
	for stream.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if stream.sentCount() != 1 {
		t.Fatalf("expected one microphone frame upstream, got %d", stream.sentCount())
	}

	pcm := make([]byte, 4800)
	chunk := call.MediaChunk{Data: base64.StdEncoding.EncodeToString(pcm)}
	stream.events <- call.Event{Type: call.EventAudio, Audio: chunk}
	stream.events <- call.Event{Type: call.EventAudio, Audio: chunk}
	first := expect(t, conn, "audio", "")
	second := expect(t, conn, "audio", "")
	if got := second.StartAt - first.StartAt; got < 0.0999 || got > 0.1001 {
		t.Fatalf("second chunk should start 100ms after the first, got %v", got)
	}

	stream.events <- call.Event{Type: call.EventInterrupted}
	expect(t, conn, "stop", "")
}

func TestCallMute(t *testing.T) {
	srv, _, sessionID := setup(t, "env-key")
	conn := dial(t, srv, sessionID)
	expect(t, conn, "ready", "")

	send(t, conn, map[string]any{"type": "mute", "enabled": true})
	if msg := expect(t, conn, "mute", ""); !msg.Enabled {
		t.Fatal("expected mute acknowledgement")
	}
}

func TestCallSingleSlot(t *testing.T) {
	srv, _, sessionID := setup(t, "env-key")
	first := dial(t, srv, sessionID)
	expect(t, first, "ready", "")

	second := dial(t, srv, sessionID)
	msg := expect(t, second, "error", "")
	if !strings.Contains(msg.Message, "in progress") {
		t.Fatalf("unexpected error %q", msg.Message)
	}
}

func TestCallUnknownSession(t *testing.T) {
	srv, _, _ := setup(t, "env-key")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/call/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %+v", resp)
	}
}
