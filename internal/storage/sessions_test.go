package storage

import (
	"errors"
	"reflect"
	"testing"

	"github.com/zhouzirui/doki/backend/internal/model/chat"
)

func sampleSessions() []chat.Session {
	return []chat.Session{
		{
			ID:        "s1",
			PersonaID: "anton",
			Messages: []chat.Message{
				{ID: "m1", Role: chat.RolePersona, Content: "xin chào", CreatedAt: 1000},
				{ID: "m2", Role: chat.RoleUser, Content: "hi", CreatedAt: 1001},
				{ID: "m3", Role: chat.RolePersona, Content: "photo", CreatedAt: 1002, ImageRef: "data:image/png;base64,AAAA"},
			},
			LastUpdated:   1002,
			IntimacyMode:  true,
			VoiceOverride: "Puck",
			BubbleStyle:   chat.BubblePill,
			BubbleTheme:   chat.ThemeSunset,
		},
		{
			ID:          "s2",
			PersonaID:   "sohee",
			Messages:    []chat.Message{{ID: "m4", Role: chat.RolePersona, Content: "hello", CreatedAt: 900}},
			LastUpdated: 900,
		},
	}
}

func TestSessionStoreRoundTripFile(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	if err != nil {
		t.Fatalf("new file kv: %v", err)
	}
	store := NewSessionStore(kv, "doki_sessions")

	want := sampleSessions()
	if err := store.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := NewSessionStore(kv, "doki_sessions").Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestSessionStoreLoadEmpty(t *testing.T) {
	store := NewSessionStore(NewMemoryKV(), "doki_sessions")
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}
}

func TestSessionStoreCorruptData(t *testing.T) {
	kv := NewMemoryKV()
	_ = kv.Put("doki_sessions", []byte("{not json"))
	if _, err := NewSessionStore(kv, "doki_sessions").Load(); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestFileKVMissingKey(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	if err != nil {
		t.Fatalf("new file kv: %v", err)
	}
	if _, err := kv.Get("nothing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileKVOverwrite(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	if err != nil {
		t.Fatalf("new file kv: %v", err)
	}
	if err := kv.Put("a/b", []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := kv.Put("a/b", []byte("two")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := kv.Get("a/b")
	if err != nil || string(got) != "two" {
		t.Fatalf("expected two, got %q (%v)", got, err)
	}
}
