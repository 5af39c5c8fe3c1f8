package cart

import "sync"

// Store is an observable container for one cart's State.
// All mutation goes through Dispatch; there is no field-level access.
type Store struct {
	dispatchMu sync.Mutex // serializes reduce + notify so listeners see states in order

	mu        sync.RWMutex
	state     *State
	listeners map[int]func(*State)
	nextID    int
}

// NewStore creates a store holding initial, or an empty cart when nil.
func NewStore(initial *State) *Store {
	if initial == nil {
		initial = NewState()
	}
	return &Store{
		state:     initial,
		listeners: make(map[int]func(*State)),
	}
}

// State returns the current snapshot.
func (s *Store) State() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Dispatch reduces a into the current state and notifies listeners when the
// state pointer changed. Actions apply strictly in call order.
// Listeners must not call Dispatch.
func (s *Store) Dispatch(a Action) *State {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	prev := s.state
	next := Reduce(prev, a)
	s.state = next
	listeners := make([]func(*State), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	if next != prev {
		for _, l := range listeners {
			l(next)
		}
	}
	return next
}

// Subscribe registers fn to run after every state change and returns a
// function removing it.
func (s *Store) Subscribe(fn func(*State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}
