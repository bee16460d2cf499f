package common

import (
	"errors"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Switchboard is a concurrency-safe PauseView that operators can flip at
// runtime to halt individual modules.
type Switchboard struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewSwitchboard() *Switchboard {
	return &Switchboard{paused: make(map[string]bool)}
}

func (s *Switchboard) SetPaused(module string, paused bool) {
	if s == nil || module == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused[module] = paused
}

func (s *Switchboard) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[module]
}
