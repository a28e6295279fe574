// Package store holds the ordered local message sequence of the active
// conversation. Records are appended or swapped whole, never edited in place.
package store

import (
	"sync"

	"actionit/backend/conversation/models"
)

type Store struct {
	mu       sync.RWMutex
	messages []models.Message
	index    map[string]int
	subs     map[int]chan []models.Message
	nextSub  int
}

func New() *Store {
	return &Store{
		index: make(map[string]int),
		subs:  make(map[int]chan []models.Message),
	}
}

// AddLocal appends msg to the end of the sequence and returns it. A record
// already stored under msg.ID is swapped in place instead.
func (s *Store) AddLocal(msg models.Message) models.Message {
	s.mu.Lock()
	if pos, ok := s.index[msg.ID]; ok {
		s.messages[pos] = msg
	} else {
		s.index[msg.ID] = len(s.messages)
		s.messages = append(s.messages, msg)
	}
	s.mu.Unlock()

	s.notify()
	return msg
}

// Replace swaps the record stored under id for msg, keeping its position.
// The stored id follows msg.ID.
func (s *Store) Replace(id string, msg models.Message) bool {
	s.mu.Lock()
	pos, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.index, id)
	s.messages[pos] = msg
	s.index[msg.ID] = pos
	s.mu.Unlock()

	s.notify()
	return true
}

// Remove drops the record with the given id
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	pos, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.messages = append(s.messages[:pos:pos], s.messages[pos+1:]...)
	s.reindex()
	s.mu.Unlock()

	s.notify()
	return true
}

// Clear empties the sequence
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.index = make(map[string]int)
	s.mu.Unlock()

	s.notify()
}

func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[id]
	if !ok {
		return models.Message{}, false
	}
	return s.messages[pos], true
}

// FindByClientID returns the record reconciled under clientID, matching
// either its ClientID or its ID.
func (s *Store) FindByClientID(clientID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pos, ok := s.index[clientID]; ok {
		return s.messages[pos], true
	}
	for _, m := range s.messages {
		if m.ClientID == clientID {
			return m, true
		}
	}
	return models.Message{}, false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Snapshot returns a copy of the sequence in insertion order
func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []models.Message {
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Subscribe delivers a snapshot after every mutation. Slow readers only see
// the latest snapshot. The returned func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan []models.Message, func()) {
	ch := make(chan []models.Message, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.messages))
	for i, m := range s.messages {
		s.index[m.ID] = i
	}
}

// notify pushes the current snapshot, replacing any undelivered one
func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
