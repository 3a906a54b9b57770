package call

import "sync"

// Slot 保证进程内同时只有一路通话
type Slot struct {
	mu      sync.Mutex
	current *Session
}

// TryAcquire 为 s 占用通话位，被其他会话占用时失败
func (s *Slot) TryAcquire(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current != session {
		return ErrCallInProgress
	}
	s.current = session
	return nil
}

// Release 释放 session 持有的通话位
func (s *Slot) Release(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == session {
		s.current = nil
	}
}

// Current 返回当前持有通话位的会话
func (s *Slot) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
