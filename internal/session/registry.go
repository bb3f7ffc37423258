package session

import (
	"sync"
	"time"
)

// Registry defaults.
const (
	DefaultIdleTimeout    = 30 * time.Minute
	DefaultMaxControllers = 1000
)

// Registry hands out one Controller per caller key, creating them on first
// use. Controllers unused for the idle timeout are evicted, and when the
// registry is full the least recently used one makes room.
type Registry struct {
	newController func() *Controller
	idleTimeout   time.Duration
	maxSize       int
	now           func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	c        *Controller
	lastUsed time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIdleTimeout sets how long an unused controller is kept.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithMaxControllers caps the number of live controllers.
func WithMaxControllers(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxSize = n
		}
	}
}

// WithRegistryClock sets the time source used for idle tracking.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a registry that builds controllers with newController.
func NewRegistry(newController func() *Controller, opts ...RegistryOption) *Registry {
	r := &Registry{
		newController: newController,
		idleTimeout:   DefaultIdleTimeout,
		maxSize:       DefaultMaxControllers,
		now:           time.Now,
		entries:       make(map[string]*registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the controller for key, creating it if needed.
func (r *Registry) Get(key string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.evictIdleLocked(now)

	if e, ok := r.entries[key]; ok {
		e.lastUsed = now
		return e.c
	}
	for len(r.entries) >= r.maxSize {
		r.evictOldestLocked()
	}
	e := &registryEntry{c: r.newController(), lastUsed: now}
	r.entries[key] = e
	return e.c
}

// Lookup returns the controller for key without creating one.
func (r *Registry) Lookup(key string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.evictIdleLocked(now)

	e, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	e.lastUsed = now
	return e.c, true
}

// Drop resets and forgets the controller for key.
func (r *Registry) Drop(key string) {
	r.mu.Lock()
	e, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()
	if ok {
		e.c.Reset()
	}
}

// Len returns the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) evictIdleLocked(now time.Time) {
	for key, e := range r.entries {
		if now.Sub(e.lastUsed) >= r.idleTimeout {
			delete(r.entries, key)
			e.c.Reset()
		}
	}
}

func (r *Registry) evictOldestLocked() {
	var (
		oldestKey string
		oldest    *registryEntry
	)
	for key, e := range r.entries {
		if oldest == nil || e.lastUsed.Before(oldest.lastUsed) {
			oldestKey, oldest = key, e
		}
	}
	if oldest != nil {
		delete(r.entries, oldestKey)
		oldest.c.Reset()
	}
}
