package ai

import "sync"

// Session owns the Message Log of one run. The log only grows: there is no way to edit or
// remove an entry once appended, and every read hands out deep copies.
type Session struct {
	runID string

	mu   sync.RWMutex
	msgs []Message
}

func NewSession(runID string, seed Message) *Session {
	s := &Session{runID: runID, msgs: make([]Message, 0, 16)}
	s.msgs = append(s.msgs, CloneMessage(seed))
	return s
}

func (s *Session) RunID() string {
	if s == nil {
		return ""
	}
	return s.runID
}

func (s *Session) Append(msgs ...Message) {
	if s == nil || len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	for _, m := range msgs {
		s.msgs = append(s.msgs, CloneMessage(m))
	}
	s.mu.Unlock()
}

func (s *Session) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Tail returns the last n messages in log order. n larger than the log returns all of it.
func (s *Session) Tail(n int) []Message {
	if s == nil || n <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.msgs) {
		n = len(s.msgs)
	}
	return CloneMessages(s.msgs[len(s.msgs)-n:])
}

func (s *Session) Snapshot() []Message {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CloneMessages(s.msgs)
}

// Last returns the newest message, or false on an empty log.
func (s *Session) Last() (Message, bool) {
	tail := s.Tail(1)
	if len(tail) == 0 {
		return Message{}, false
	}
	return tail[0], true
}
