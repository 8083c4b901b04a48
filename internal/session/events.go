package session

import (
	"sync"
	"time"

	"github.com/jun/docshare/internal/model"
)

// EventKind distinguishes why the session changed.
type EventKind string

const (
	LoggedIn  EventKind = "logged_in"
	LoggedOut EventKind = "logged_out"
	// SessionExpired means the server rejected the session; the UI should
	// prompt for credentials again.
	SessionExpired EventKind = "session_expired"
)

// Event is delivered to subscribers after the session changed.
type Event struct {
	Kind     EventKind
	Identity model.Identity
	At       time.Time
}

type events struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

// Subscribe registers fn for session events and returns a function that
// removes it. fn is called synchronously, outside the session lock.
func (m *Manager) Subscribe(fn func(Event)) (cancel func()) {
	return m.events.add(fn)
}

func (e *events) add(fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[int]func(Event))
	}
	id := e.next
	e.next++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *events) emit(ev Event) {
	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
