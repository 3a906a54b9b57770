package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/doki/backend/internal/model/chat"
	"github.com/zhouzirui/doki/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/doki/backend/internal/service/chat"
	"github.com/zhouzirui/doki/backend/internal/service/media"
	"github.com/zhouzirui/doki/backend/internal/storage"
)

type fakeSynth struct {
	voice string
	pcm   []byte
}

func (f *fakeSynth) GenerateSpeech(ctx context.Context, text, voice string) []byte {
	f.voice = voice
	return f.pcm
}

type fakeRecognizer struct {
	mime     string
	language string
	text     string
	err      error
}

func (f *fakeRecognizer) Recognize(ctx context.Context, audio []byte, mimeType, language string) (string, error) {
	f.mime = mimeType
	f.language = language
	return f.text, f.err
}

func setupRouter(t *testing.T, synth Synthesizer, recognizer media.SpeechRecognizer) (*chi.Mux, *chatservice.Service) {
	t.Helper()
	chatSvc, err := chatservice.NewService(storage.NewSessionStore(storage.NewMemoryKV(), "doki_sessions"))
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	r := chi.NewRouter()
	New(synth, recognizer, chatSvc, persona.NewMemoryStore(persona.Seed())).RegisterRoutes(r)
	return r, chatSvc
}

func synthesize(r http.Handler, body map[string]string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestSynthesizeReturnsWAV(t *testing.T) {
	synth := &fakeSynth{pcm: make([]byte, 480)}
	r, _ := setupRouter(t, synth, nil)

	rr := synthesize(r, map[string]string{"text": "xin chào"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") != "audio/wav" {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
	body := rr.Body.Bytes()
	if string(body[:4]) != "RIFF" || len(body) != 44+480 {
		t.Fatalf("unexpected wav of %d bytes", len(body))
	}
	if rate := binary.LittleEndian.Uint32(body[24:28]); rate != media.SpeechSampleRate {
		t.Fatalf("sample rate = %d", rate)
	}
}

func TestSynthesizeResolvesSessionVoice(t *testing.T) {
	synth := &fakeSynth{pcm: []byte{0, 0}}
	r, chatSvc := setupRouter(t, synth, nil)

	wonbin, _ := persona.NewMemoryStore(persona.Seed()).FindByID("wonbin")
	session, _, err := chatSvc.StartChat(wonbin)
	if err != nil {
		t.Fatalf("StartChat err: %v", err)
	}

	synthesize(r, map[string]string{"text": "hi", "sessionId": session.ID})
	if synth.voice != "Charon" {
		t.Fatalf("expected persona voice, got %q", synth.voice)
	}

	override := "Zephyr"
	if _, err := chatSvc.UpdatePreferences(session.ID, chat.Preferences{VoiceOverride: &override}); err != nil {
		t.Fatalf("UpdatePreferences err: %v", err)
	}
	synthesize(r, map[string]string{"text": "hi", "sessionId": session.ID})
	if synth.voice != "Zephyr" {
		t.Fatalf("expected override voice, got %q", synth.voice)
	}

	synthesize(r, map[string]string{"text": "hi", "sessionId": session.ID, "voice": "Puck"})
	if synth.voice != "Puck" {
		t.Fatalf("explicit voice should win, got %q", synth.voice)
	}
}

func TestSynthesizeErrors(t *testing.T) {
	r, _ := setupRouter(t, &fakeSynth{}, nil)

	if rr := synthesize(r, map[string]string{"text": "  "}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := synthesize(r, map[string]string{"text": "hi"}); rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when no audio, got %d", rr.Code)
	}

	unavailable, _ := setupRouter(t, nil, nil)
	if rr := synthesize(unavailable, map[string]string{"text": "hi"}); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func transcribeRequest(t *testing.T, filename, language string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write([]byte("audio")); err != nil {
		t.Fatalf("write audio err: %v", err)
	}
	if language != "" {
		_ = writer.WriteField("language", language)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close err: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestTranscribe(t *testing.T) {
	recognizer := &fakeRecognizer{text: "xin chào"}
	r, _ := setupRouter(t, nil, recognizer)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, transcribeRequest(t, "clip.webm", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if recognizer.mime != "audio/webm" || recognizer.language != media.DefaultLanguage {
		t.Fatalf("unexpected recognizer input mime=%s lang=%s", recognizer.mime, recognizer.language)
	}
	var got map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got["text"] != "xin chào" {
		t.Fatalf("unexpected text %q", got["text"])
	}
}

func TestTranscribeNoSpeechAndFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"silence", media.ErrNoSpeech, http.StatusOK},
		{"backend failure", errors.New("quota"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		r, _ := setupRouter(t, nil, &fakeRecognizer{err: tt.err})
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, transcribeRequest(t, "clip.wav", "en-US"))
		if rr.Code != tt.code {
			t.Fatalf("%s: expected %d, got %d", tt.name, tt.code, rr.Code)
		}
	}
}

func TestTranscribeRequiresAudio(t *testing.T) {
	r, _ := setupRouter(t, nil, &fakeRecognizer{})
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", bytes.NewReader(nil))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
