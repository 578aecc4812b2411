package session

import (
	"sync"
	"testing"
)

func TestMemoryStore_Default(t *testing.T) {
	if NewMemoryStore(false).Get(1) {
		t.Error("default false should report false")
	}
	if !NewMemoryStore(true).Get(1) {
		t.Error("default true should report true")
	}
}

func TestMemoryStore_SetIsPerChat(t *testing.T) {
	s := NewMemoryStore(false)
	s.Set(1, true)
	if !s.Get(1) {
		t.Error("chat 1 should be on")
	}
	if s.Get(2) {
		t.Error("chat 2 should keep the default")
	}
	s.Set(1, false)
	if s.Get(1) {
		t.Error("chat 1 should be off after reset")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStore(false)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			s.Set(id, true)
		}(int64(i))
		go func(id int64) {
			defer wg.Done()
			_ = s.Get(id)
		}(int64(i))
	}
	wg.Wait()
	for i := 0; i < 50; i++ {
		if !s.Get(int64(i)) {
			t.Fatalf("chat %d lost its flag", i)
		}
	}
}
