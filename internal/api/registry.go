package api

import (
	"sync"
)

// ownerSession is the per-owner stack: a thread store bound to that owner
// plus the runtime that sequences turns on it.
type ownerSession struct {
	threads ThreadService
	runtime RuntimeService
}

// SessionFactory builds the stack for an owner the registry has not seen
// yet. Implementations typically wire a ThreadStore over the shared durable
// store and a Runtime over the shared completion service.
type SessionFactory func(ownerID string) (ThreadService, RuntimeService, error)

// Registry hands out per-owner sessions, creating them lazily on first use.
// Authentication happens upstream; the registry trusts the owner id it is
// given.
type Registry struct {
	mu       sync.Mutex
	factory  SessionFactory
	sessions map[string]*ownerSession
}

func NewRegistry(factory SessionFactory) *Registry {
	return &Registry{
		factory:  factory,
		sessions: make(map[string]*ownerSession),
	}
}

func (r *Registry) session(ownerID string) (*ownerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[ownerID]; ok {
		return s, nil
	}
	threads, rt, err := r.factory(ownerID)
	if err != nil {
		return nil, err
	}
	s := &ownerSession{threads: threads, runtime: rt}
	r.sessions[ownerID] = s
	return s, nil
}
