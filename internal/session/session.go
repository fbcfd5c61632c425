// Package session tracks the signed-in user and tells listeners when it changes.
package session

import (
	"strings"
	"sync"
)

// Change is delivered to listeners on sign-in, sign-out and user switch.
type Change struct {
	OwnerID  string
	SignedIn bool
	// Previous is the owner before the change, empty if there was none.
	Previous string
}

type Listener func(Change)

// Session is the process-wide authentication state. Credentials are handled
// elsewhere; Session only records whose tasks are shown.
type Session struct {
	mu        sync.RWMutex
	ownerID   string
	nextID    int
	listeners map[int]Listener
}

func New() *Session {
	return &Session{listeners: make(map[int]Listener)}
}

// Current returns the signed-in owner.
func (s *Session) Current() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownerID, s.ownerID != ""
}

// SignIn switches to ownerID. Signing in as the current owner is a no-op.
func (s *Session) SignIn(ownerID string) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		s.SignOut()
		return
	}
	s.set(ownerID)
}

func (s *Session) SignOut() {
	s.set("")
}

// OnChange registers fn and returns a func removing it. Listeners run
// synchronously on the goroutine that changed the session.
func (s *Session) OnChange(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) set(ownerID string) {
	s.mu.Lock()
	prev := s.ownerID
	if prev == ownerID {
		s.mu.Unlock()
		return
	}
	s.ownerID = ownerID
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	ch := Change{OwnerID: ownerID, SignedIn: ownerID != "", Previous: prev}
	for _, l := range listeners {
		l(ch)
	}
}
