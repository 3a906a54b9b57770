package chat

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/zhouzirui/doki/backend/internal/model/chat"
	"github.com/zhouzirui/doki/backend/internal/model/persona"
)

var (
	ErrPersonaRequired   = errors.New("persona id is required")
	ErrSessionNotFound   = errors.New("session not found")
	ErrEmptyMessage      = errors.New("message must have content or an image")
	ErrInvalidRole       = errors.New("invalid message role")
	ErrInvalidPreference = errors.New("invalid preference")
)

// Repository persists the full session list.
type Repository interface {
	Load() ([]chat.Session, error)
	Save([]chat.Session) error
}

// Activity marks a long-running request the client should show as pending.
type Activity string

const (
	ActivityReplying Activity = "replying"
	ActivityImaging  Activity = "imaging"
)

// UpdateKind classifies an Update.
type UpdateKind string

const (
	UpdateSession  UpdateKind = "session"
	UpdateMessage  UpdateKind = "message"
	UpdateDeleted  UpdateKind = "deleted"
	UpdateActivity UpdateKind = "activity"
	UpdateActive   UpdateKind = "active"
)

// Update is pushed to subscribers after every state change.
type Update struct {
	Kind      UpdateKind    `json:"kind"`
	SessionID string        `json:"sessionId,omitempty"`
	Session   *chat.Session `json:"session,omitempty"`
	Message   *chat.Message `json:"message,omitempty"`
	Activity  []Activity    `json:"activity,omitempty"`
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service owns the session list, the active-session pointer and transient activity.
// All mutations go through one method per operation and are persisted before they
// become visible.
type Service struct {
	mu       sync.RWMutex
	repo     Repository
	sessions []chat.Session
	activeID string
	activity map[string]map[Activity]int

	subMu  sync.Mutex
	subs   map[int]chan Update
	nextID int

	now func() time.Time
}

// NewService loads the persisted list once.
func NewService(repo Repository, opts ...Option) (*Service, error) {
	s := &Service{
		repo:     repo,
		activity: make(map[string]map[Activity]int),
		subs:     make(map[int]chan Update),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	sessions, err := repo.Load()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	s.sessions = sessions
	return s, nil
}

// List returns sessions newest activity first.
func (s *Service) List() []chat.Session {
	s.mu.RLock()
	out := make([]chat.Session, len(s.sessions))
	for i, session := range s.sessions {
		out[i] = session.Clone()
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUpdated > out[j].LastUpdated
	})
	return out
}

// Get retrieves a session by identifier.
func (s *Service) Get(sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(sessionID)
	if idx < 0 {
		return chat.Session{}, ErrSessionNotFound
	}
	return s.sessions[idx].Clone(), nil
}

// FindByPersona returns the most recently updated session for a persona.
func (s *Service) FindByPersona(personaID string) (chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOfPersona(personaID)
	if idx < 0 {
		return chat.Session{}, false
	}
	return s.sessions[idx].Clone(), true
}

// StartChat opens the persona's session, creating it with the greeting on first contact.
// The returned flag reports whether a session was created. The session becomes active.
func (s *Service) StartChat(p persona.Persona) (chat.Session, bool, error) {
	if strings.TrimSpace(p.ID) == "" {
		return chat.Session{}, false, ErrPersonaRequired
	}

	s.mu.Lock()
	if idx := s.indexOfPersona(p.ID); idx >= 0 {
		s.activeID = s.sessions[idx].ID
		session := s.sessions[idx].Clone()
		s.mu.Unlock()

		s.publish(Update{Kind: UpdateActive, SessionID: session.ID})
		return session, false, nil
	}

	now := s.now().UnixMilli()
	session := chat.Session{
		ID:        uuid.NewString(),
		PersonaID: p.ID,
		Messages: []chat.Message{{
			ID:        uuid.NewString(),
			Role:      chat.RolePersona,
			Content:   p.Greeting,
			CreatedAt: now,
		}},
		LastUpdated: now,
		BubbleStyle: chat.BubbleRounded,
		BubbleTheme: chat.ThemeClassic,
	}

	next := make([]chat.Session, 0, len(s.sessions)+1)
	next = append(next, session)
	next = append(next, s.sessions...)
	if err := s.commitLocked(next); err != nil {
		s.mu.Unlock()
		return chat.Session{}, false, err
	}
	s.activeID = session.ID
	s.mu.Unlock()

	glog.Infof("[chat] created session=%s persona=%s", session.ID, p.ID)
	s.publish(Update{Kind: UpdateSession, SessionID: session.ID, Session: ptr(session.Clone())})
	s.publish(Update{Kind: UpdateActive, SessionID: session.ID})
	return session.Clone(), true, nil
}

// AppendMessage adds a message to the end of the transcript. ID and CreatedAt are assigned
// here; CreatedAt is forced strictly above the previous message so order follows creation.
func (s *Service) AppendMessage(sessionID string, msg chat.Message) (chat.Message, error) {
	if !msg.Role.Valid() {
		return chat.Message{}, ErrInvalidRole
	}
	if strings.TrimSpace(msg.Content) == "" && msg.ImageRef == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	idx := s.indexOf(sessionID)
	if idx < 0 {
		s.mu.Unlock()
		return chat.Message{}, ErrSessionNotFound
	}

	session := s.sessions[idx].Clone()
	now := s.now().UnixMilli()
	if last, ok := session.LastMessage(); ok && now <= last.CreatedAt {
		now = last.CreatedAt + 1
	}
	msg.ID = uuid.NewString()
	msg.CreatedAt = now
	session.Messages = append(session.Messages, msg)
	session.LastUpdated = now

	if err := s.replaceLocked(idx, session); err != nil {
		s.mu.Unlock()
		return chat.Message{}, err
	}
	s.mu.Unlock()

	s.publish(Update{Kind: UpdateMessage, SessionID: sessionID, Message: ptr(msg)})
	return msg, nil
}

// UpdatePreferences applies a partial display/voice update.
func (s *Service) UpdatePreferences(sessionID string, prefs chat.Preferences) (chat.Session, error) {
	if err := prefs.Validate(); err != nil {
		return chat.Session{}, fmt.Errorf("%w: %v", ErrInvalidPreference, err)
	}

	return s.mutate(sessionID, func(session *chat.Session) {
		prefs.Apply(session)
	})
}

// ToggleIntimacy flips intimacy mode and touches nothing else.
func (s *Service) ToggleIntimacy(sessionID string) (chat.Session, error) {
	return s.mutate(sessionID, func(session *chat.Session) {
		session.IntimacyMode = !session.IntimacyMode
	})
}

// DeleteSession removes a session. Deleting the active one clears the pointer,
// which sends the client back to the gallery.
func (s *Service) DeleteSession(sessionID string) error {
	s.mu.Lock()
	idx := s.indexOf(sessionID)
	if idx < 0 {
		s.mu.Unlock()
		return ErrSessionNotFound
	}

	next := make([]chat.Session, 0, len(s.sessions)-1)
	next = append(next, s.sessions[:idx]...)
	next = append(next, s.sessions[idx+1:]...)
	if err := s.commitLocked(next); err != nil {
		s.mu.Unlock()
		return err
	}

	clearedActive := s.activeID == sessionID
	if clearedActive {
		s.activeID = ""
	}
	delete(s.activity, sessionID)
	s.mu.Unlock()

	glog.Infof("[chat] deleted session=%s", sessionID)
	s.publish(Update{Kind: UpdateDeleted, SessionID: sessionID})
	if clearedActive {
		s.publish(Update{Kind: UpdateActive})
	}
	return nil
}

// SetActive points the client at a session; an empty id returns to the gallery.
func (s *Service) SetActive(sessionID string) error {
	s.mu.Lock()
	if sessionID != "" && s.indexOf(sessionID) < 0 {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	s.activeID = sessionID
	s.mu.Unlock()

	s.publish(Update{Kind: UpdateActive, SessionID: sessionID})
	return nil
}

// Active returns the active session id and the view the client should render.
func (s *Service) Active() (string, chat.View) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeID == "" {
		return "", chat.ViewGallery
	}
	return s.activeID, chat.ViewChat
}

// BeginActivity marks a pending request on a session and returns the func that ends it.
func (s *Service) BeginActivity(sessionID string, activity Activity) func() {
	s.mu.Lock()
	if s.activity[sessionID] == nil {
		s.activity[sessionID] = make(map[Activity]int)
	}
	s.activity[sessionID][activity]++
	current := s.activityLocked(sessionID)
	s.mu.Unlock()
	s.publish(Update{Kind: UpdateActivity, SessionID: sessionID, Activity: current})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if counts := s.activity[sessionID]; counts != nil {
				counts[activity]--
				if counts[activity] <= 0 {
					delete(counts, activity)
				}
				if len(counts) == 0 {
					delete(s.activity, sessionID)
				}
			}
			current := s.activityLocked(sessionID)
			s.mu.Unlock()
			s.publish(Update{Kind: UpdateActivity, SessionID: sessionID, Activity: current})
		})
	}
}

// Activity lists the pending requests of a session.
func (s *Service) Activity(sessionID string) []Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activityLocked(sessionID)
}

// Subscribe registers an observer. Slow observers miss updates rather than block writers.
func (s *Service) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 32)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) publish(update Update) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- update:
		default:
			glog.Warningf("[chat] subscriber %d is full, dropping %s update", id, update.Kind)
		}
	}
}

func (s *Service) mutate(sessionID string, apply func(*chat.Session)) (chat.Session, error) {
	s.mu.Lock()
	idx := s.indexOf(sessionID)
	if idx < 0 {
		s.mu.Unlock()
		return chat.Session{}, ErrSessionNotFound
	}

	session := s.sessions[idx].Clone()
	apply(&session)
	now := s.now().UnixMilli()
	if now <= session.LastUpdated {
		now = session.LastUpdated + 1
	}
	session.LastUpdated = now

	if err := s.replaceLocked(idx, session); err != nil {
		s.mu.Unlock()
		return chat.Session{}, err
	}
	s.mu.Unlock()

	s.publish(Update{Kind: UpdateSession, SessionID: sessionID, Session: ptr(session.Clone())})
	return session.Clone(), nil
}

func (s *Service) replaceLocked(idx int, session chat.Session) error {
	next := make([]chat.Session, len(s.sessions))
	copy(next, s.sessions)
	next[idx] = session
	return s.commitLocked(next)
}

// commitLocked persists next and only then swaps it in.
func (s *Service) commitLocked(next []chat.Session) error {
	if err := s.repo.Save(next); err != nil {
		glog.Errorf("[chat] failed to persist sessions: %v", err)
		return fmt.Errorf("persist sessions: %w", err)
	}
	s.sessions = next
	return nil
}

func (s *Service) indexOf(sessionID string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == sessionID {
			return i
		}
	}
	return -1
}

// indexOfPersona picks the most recently updated session when the stored list holds duplicates.
func (s *Service) indexOfPersona(personaID string) int {
	best := -1
	for i := range s.sessions {
		if s.sessions[i].PersonaID != personaID {
			continue
		}
		if best < 0 || s.sessions[i].LastUpdated > s.sessions[best].LastUpdated {
			best = i
		}
	}
	return best
}

func (s *Service) activityLocked(sessionID string) []Activity {
	counts := s.activity[sessionID]
	if len(counts) == 0 {
		return nil
	}
	out := make([]Activity, 0, len(counts))
	for a := range counts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ptr[T any](v T) *T {
	return &v
}
