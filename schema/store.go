package schema

import "sync/atomic"

// Store holds the current Model. Readers call Load per request; a reload
// builds a new Model and swaps it in without blocking them.
type Store struct {
	model atomic.Pointer[Model]
}

// NewStore returns a store holding m.
func NewStore(m *Model) *Store {
	s := &Store{}
	s.model.Store(m)
	return s
}

// Load returns the current model.
func (s *Store) Load() *Model {
	return s.model.Load()
}

// Swap replaces the current model and returns the previous one.
func (s *Store) Swap(m *Model) *Model {
	return s.model.Swap(m)
}
