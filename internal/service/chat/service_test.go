package chat_test

import (
	"errors"
	"testing"
	"time"

	model "github.com/zhouzirui/doki/backend/internal/model/chat"
	"github.com/zhouzirui/doki/backend/internal/model/persona"
	chat "github.com/zhouzirui/doki/backend/internal/service/chat"
	"github.com/zhouzirui/doki/backend/internal/storage"
)

// frozenClock returns the same instant until advanced.
type frozenClock struct{ t time.Time }

func (c *frozenClock) Now() time.Time { return c.t }

func newService(t *testing.T) (*chat.Service, *storage.SessionStore, *frozenClock) {
	t.Helper()
	clock := &frozenClock{t: time.UnixMilli(1_700_000_000_000)}
	repo := storage.NewSessionStore(storage.NewMemoryKV(), "doki_sessions")
	svc, err := chat.NewService(repo, chat.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	return svc, repo, clock
}

func anton() persona.Persona {
	p, _ := persona.NewMemoryStore(persona.Seed()).FindByID("anton")
	return p
}

type failingRepo struct{ err error }

func (r failingRepo) Load() ([]model.Session, error) { return nil, nil }
func (r failingRepo) Save([]model.Session) error     { return r.err }

func TestStartChatCreatesGreetingSession(t *testing.T) {
	svc, _, _ := newService(t)
	p := anton()

	session, created, err := svc.StartChat(p)
	if err != nil {
		t.Fatalf("StartChat err: %v", err)
	}
	if !created {
		t.Fatalf("expected a new session")
	}
	if len(session.Messages) != 1 {
		t.Fatalf("expected only the greeting, got %d messages", len(session.Messages))
	}
	first := session.Messages[0]
	if first.Role != model.RolePersona || first.Content != p.Greeting {
		t.Fatalf("unexpected greeting: %+v", first)
	}
	if session.Style() != model.BubbleRounded || session.Theme() != model.ThemeClassic {
		t.Fatalf("unexpected defaults: %s/%s", session.Style(), session.Theme())
	}

	active, view := svc.Active()
	if active != session.ID || view != model.ViewChat {
		t.Fatalf("expected active chat view, got %q %s", active, view)
	}
}

func TestStartChatReusesExistingSession(t *testing.T) {
	svc, _, _ := newService(t)
	p := anton()

	first, _, err := svc.StartChat(p)
	if err != nil {
		t.Fatalf("StartChat err: %v", err)
	}
	second, created, err := svc.StartChat(p)
	if err != nil {
		t.Fatalf("StartChat err: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected the existing session to be reused")
	}
	if got := len(svc.List()); got != 1 {
		t.Fatalf("expected exactly one session, got %d", got)
	}
}

func TestStartChatRequiresPersona(t *testing.T) {
	svc, _, _ := newService(t)
	if _, _, err := svc.StartChat(persona.Persona{}); !errors.Is(err, chat.ErrPersonaRequired) {
		t.Fatalf("expected ErrPersonaRequired, got %v", err)
	}
}

func TestAppendMessagesKeepCreationOrder(t *testing.T) {
	svc, _, _ := newService(t)
	session, _, _ := svc.StartChat(anton())

	const n = 10
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RolePersona
		}
		if _, err := svc.AppendMessage(session.ID, model.Message{Role: role, Content: "msg"}); err != nil {
			t.Fatalf("AppendMessage err: %v", err)
		}
	}

	got, err := svc.Get(session.ID)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if len(got.Messages) != n+1 {
		t.Fatalf("expected %d messages, got %d", n+1, len(got.Messages))
	}
	for i := 1; i < len(got.Messages); i++ {
		if got.Messages[i].CreatedAt <= got.Messages[i-1].CreatedAt {
			t.Fatalf("message %d not strictly after %d", i, i-1)
		}
	}
	if got.LastUpdated != got.Messages[len(got.Messages)-1].CreatedAt {
		t.Fatalf("lastUpdated not refreshed")
	}
}

func TestAppendMessageValidation(t *testing.T) {
	svc, _, _ := newService(t)
	session, _, _ := svc.StartChat(anton())

	if _, err := svc.AppendMessage(session.ID, model.Message{Role: "bot", Content: "x"}); !errors.Is(err, chat.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := svc.AppendMessage(session.ID, model.Message{Role: model.RoleUser, Content: "  "}); !errors.Is(err, chat.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := svc.AppendMessage("missing", model.Message{Role: model.RoleUser, Content: "x"}); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestToggleIntimacyTwiceRestoresConfiguration(t *testing.T) {
	svc, _, _ := newService(t)
	session, _, _ := svc.StartChat(anton())

	voice := "Zephyr"
	theme := model.ThemeOcean
	before, err := svc.UpdatePreferences(session.ID, model.Preferences{VoiceOverride: &voice, BubbleTheme: &theme})
	if err != nil {
		t.Fatalf("UpdatePreferences err: %v", err)
	}

	once, err := svc.ToggleIntimacy(session.ID)
	if err != nil || !once.IntimacyMode {
		t.Fatalf("expected intimacy on, got %v (%v)", once.IntimacyMode, err)
	}
	twice, err := svc.ToggleIntimacy(session.ID)
	if err != nil {
		t.Fatalf("ToggleIntimacy err: %v", err)
	}

	if twice.IntimacyMode != before.IntimacyMode ||
		twice.VoiceOverride != before.VoiceOverride ||
		twice.BubbleStyle != before.BubbleStyle ||
		twice.BubbleTheme != before.BubbleTheme ||
		len(twice.Messages) != len(before.Messages) {
		t.Fatalf("configuration changed: before %+v after %+v", before, twice)
	}
}

func TestMutationsRefreshLastUpdated(t *testing.T) {
	svc, _, clock := newService(t)
	session, _, _ := svc.StartChat(anton())

	clock.t = clock.t.Add(time.Minute)
	style := model.BubbleSharp
	updated, err := svc.UpdatePreferences(session.ID, model.Preferences{BubbleStyle: &style})
	if err != nil {
		t.Fatalf("UpdatePreferences err: %v", err)
	}
	if updated.LastUpdated != clock.t.UnixMilli() {
		t.Fatalf("expected lastUpdated %d, got %d", clock.t.UnixMilli(), updated.LastUpdated)
	}

	// same instant: still strictly increasing
	again, _ := svc.ToggleIntimacy(session.ID)
	if again.LastUpdated <= updated.LastUpdated {
		t.Fatalf("lastUpdated did not advance")
	}
}

func TestUpdatePreferencesRejectsUnknownValues(t *testing.T) {
	svc, _, _ := newService(t)
	session, _, _ := svc.StartChat(anton())

	bad := model.BubbleStyle("zigzag")
	if _, err := svc.UpdatePreferences(session.ID, model.Preferences{BubbleStyle: &bad}); !errors.Is(err, chat.ErrInvalidPreference) {
		t.Fatalf("expected ErrInvalidPreference, got %v", err)
	}
}

func TestListSortedByRecency(t *testing.T) {
	svc, _, clock := newService(t)
	store := persona.NewMemoryStore(persona.Seed())

	var ids []string
	for _, id := range []string{"anton", "wonbin", "sohee"} {
		p, _ := store.FindByID(id)
		clock.t = clock.t.Add(time.Second)
		s, _, _ := svc.StartChat(p)
		ids = append(ids, s.ID)
	}

	clock.t = clock.t.Add(time.Second)
	if _, err := svc.AppendMessage(ids[0], model.Message{Role: model.RoleUser, Content: "hello again"}); err != nil {
		t.Fatalf("AppendMessage err: %v", err)
	}

	list := svc.List()
	if list[0].ID != ids[0] || list[1].ID != ids[2] || list[2].ID != ids[1] {
		t.Fatalf("unexpected order: %s %s %s", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestDeleteActiveSessionReturnsToGallery(t *testing.T) {
	svc, _, _ := newService(t)
	session, _, _ := svc.StartChat(anton())

	if err := svc.DeleteSession(session.ID); err != nil {
		t.Fatalf("DeleteSession err: %v", err)
	}
	active, view := svc.Active()
	if active != "" || view != model.ViewGallery {
		t.Fatalf("expected gallery view, got %q %s", active, view)
	}
	if _, err := svc.Get(session.ID); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDeleteInactiveSessionKeepsPointer(t *testing.T) {
	svc, _, _ := newService(t)
	store := persona.NewMemoryStore(persona.Seed())
	a, _ := store.FindByID("anton")
	b, _ := store.FindByID("wonbin")

	first, _, _ := svc.StartChat(a)
	second, _, _ := svc.StartChat(b)

	if err := svc.DeleteSession(first.ID); err != nil {
		t.Fatalf("DeleteSession err: %v", err)
	}
	if active, _ := svc.Active(); active != second.ID {
		t.Fatalf("active pointer changed to %q", active)
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	svc, repo, _ := newService(t)
	session, _, _ := svc.StartChat(anton())
	if _, err := svc.AppendMessage(session.ID, model.Message{Role: model.RoleUser, Content: "nhớ mình không?"}); err != nil {
		t.Fatalf("AppendMessage err: %v", err)
	}
	if _, err := svc.ToggleIntimacy(session.ID); err != nil {
		t.Fatalf("ToggleIntimacy err: %v", err)
	}

	reloaded, err := chat.NewService(repo)
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	got, err := reloaded.Get(session.ID)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if len(got.Messages) != 2 || !got.IntimacyMode {
		t.Fatalf("state not persisted: %+v", got)
	}
}

func TestFailedSaveLeavesStateUntouched(t *testing.T) {
	svc, err := chat.NewService(failingRepo{err: errors.New("disk full")})
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	if _, _, err := svc.StartChat(anton()); err == nil {
		t.Fatalf("expected persist error")
	}
	if len(svc.List()) != 0 {
		t.Fatalf("session leaked into memory after failed save")
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	svc, _, _ := newService(t)
	updates, cancel := svc.Subscribe()
	defer cancel()

	session, _, _ := svc.StartChat(anton())
	if _, err := svc.AppendMessage(session.ID, model.Message{Role: model.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage err: %v", err)
	}

	var sawMessage bool
	for i := 0; i < 3; i++ {
		select {
		case u := <-updates:
			if u.Kind == chat.UpdateMessage && u.Message != nil && u.Message.Content == "hi" {
				sawMessage = true
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for update")
		}
	}
	if !sawMessage {
		t.Fatalf("message update not observed")
	}
}

func TestActivityTracking(t *testing.T) {
	svc, _, _ := newService(t)
	session, _, _ := svc.StartChat(anton())

	endA := svc.BeginActivity(session.ID, chat.ActivityReplying)
	endB := svc.BeginActivity(session.ID, chat.ActivityReplying)
	if got := svc.Activity(session.ID); len(got) != 1 || got[0] != chat.ActivityReplying {
		t.Fatalf("unexpected activity: %v", got)
	}

	endA()
	endA()
	if got := svc.Activity(session.ID); len(got) != 1 {
		t.Fatalf("second request still pending, got %v", got)
	}
	endB()
	if got := svc.Activity(session.ID); len(got) != 0 {
		t.Fatalf("expected no activity, got %v", got)
	}
}
