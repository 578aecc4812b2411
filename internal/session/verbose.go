// Package session keeps per-chat preferences that live only for the process lifetime.
package session

import "sync"

// VerboseStore holds the per-chat verbose flag.
type VerboseStore interface {
	Get(chatID int64) bool
	Set(chatID int64, on bool)
}

type MemoryStore struct {
	mu   sync.RWMutex
	def  bool
	flag map[int64]bool
}

var _ VerboseStore = (*MemoryStore)(nil)

// NewMemoryStore returns a store where unset chats report def.
func NewMemoryStore(def bool) *MemoryStore {
	return &MemoryStore{def: def, flag: make(map[int64]bool)}
}

func (s *MemoryStore) Get(chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if on, ok := s.flag[chatID]; ok {
		return on
	}
	return s.def
}

func (s *MemoryStore) Set(chatID int64, on bool) {
	s.mu.Lock()
	s.flag[chatID] = on
	s.mu.Unlock()
}
