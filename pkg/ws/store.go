package ws

import (
	"slices"
	"sync"
)

// Store накапливает входящие сообщения по correlation id в порядке прихода.
// Последовательности только дополняются; Reset очищает всё сразу.
type Store struct {
	messages map[string][]*Message
	mu       sync.RWMutex
}

func NewStore() *Store {
	return &Store{messages: make(map[string][]*Message)}
}

func (s *Store) Append(correlationID string, msg *Message) {
	s.mu.Lock()
	s.messages[correlationID] = append(s.messages[correlationID], msg)
	s.mu.Unlock()
}

// Get returns a snapshot of the sequence for correlationID, nil if none arrived.
func (s *Store) Get(correlationID string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.messages[correlationID])
}

func (s *Store) Len(correlationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.messages[correlationID])
}

func (s *Store) Reset() {
	s.mu.Lock()
	s.messages = make(map[string][]*Message)
	s.mu.Unlock()
}

func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.messages))
	for id := range s.messages {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	slices.Sort(ids)

	return ids
}
