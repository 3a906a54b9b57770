package storage

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/golang/glog"

	"github.com/zhouzirui/doki/backend/internal/model/chat"
)

// SessionStore serializes the whole session list under a single namespaced key.
type SessionStore struct {
	kv  KV
	key string
}

// NewSessionStore binds the session list to key inside kv.
func NewSessionStore(kv KV, key string) *SessionStore {
	return &SessionStore{kv: kv, key: key}
}

// Load returns the persisted list, or an empty list when nothing was saved yet.
func (s *SessionStore) Load() ([]chat.Session, error) {
	data, err := s.kv.Get(s.key)
	if errors.Is(err, ErrNotFound) {
		return []chat.Session{}, nil
	}
	if err != nil {
		return nil, err
	}

	var sessions []chat.Session
	if err := sonic.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.key, err)
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}
	for i := range sessions {
		if sessions[i].Messages == nil {
			sessions[i].Messages = []chat.Message{}
		}
	}

	glog.Infof("[store] loaded %d sessions from %s", len(sessions), s.key)
	return sessions, nil
}

// Save rewrites the full list.
func (s *SessionStore) Save(sessions []chat.Session) error {
	if sessions == nil {
		sessions = []chat.Session{}
	}
	data, err := sonic.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.key, err)
	}
	if err := s.kv.Put(s.key, data); err != nil {
		return err
	}
	glog.V(2).Infof("[store] saved %d sessions (%d bytes)", len(sessions), len(data))
	return nil
}
