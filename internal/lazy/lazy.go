// Package lazy provides thread-safe memoization containers with optional
// TTL-based invalidation. Two flavors exist: Opportunistic, where concurrent
// callers may race to initialize and the last completing write wins, and
// Pessimistic, where a single caller initializes while the rest block and a
// failure is cached until the next reset.
package lazy

import (
	"sync"
	"sync/atomic"
	"time"
)

// slot holds one initialized value together with its initialization time.
type slot[T any] struct {
	value T
	err   error
	at    time.Time
}

// Opportunistic memoizes the result of init. Get retries the initializer on
// every call until one succeeds; a failed initialization leaves the container
// uninitialized. Concurrent Get calls may both run the initializer.
type Opportunistic[T any] struct {
	init func() (T, error)
	ttl  time.Duration
	cur  atomic.Pointer[slot[T]]
	now  func() time.Time
}

// NewOpportunistic creates an opportunistic container around init.
func NewOpportunistic[T any](init func() (T, error)) *Opportunistic[T] {
	return &Opportunistic[T]{init: init, now: time.Now}
}

// ReinitializeAfter discards the cached value once ttl has elapsed since the
// last successful initialization. A zero ttl disables expiry.
func (l *Opportunistic[T]) ReinitializeAfter(ttl time.Duration) *Opportunistic[T] {
	l.ttl = ttl
	return l
}

// Get returns the memoized value, initializing it if needed. On failure the
// container stays uninitialized and a later Get retries.
func (l *Opportunistic[T]) Get() (T, error) {
	if s := l.cur.Load(); s != nil && !l.expired(s) {
		return s.value, nil
	}
	value, err := l.init()
	if err != nil {
		var zero T
		return zero, err
	}
	// Last completing writer wins; racing initializations are acceptable.
	l.cur.Store(&slot[T]{value: value, at: l.now()})
	return value, nil
}

// Reset discards the cached value so the next Get reinitializes.
func (l *Opportunistic[T]) Reset() {
	l.cur.Store(nil)
}

func (l *Opportunistic[T]) expired(s *slot[T]) bool {
	return l.ttl > 0 && l.now().Sub(s.at) >= l.ttl
}

// Pessimistic memoizes the result of init under a mutex. Exactly one caller
// runs the initializer; concurrent Get calls block until it completes. A
// failed initialization is cached and returned to all callers until Reset or
// TTL expiry.
type Pessimistic[T any] struct {
	init func() (T, error)
	ttl  time.Duration
	mu   sync.Mutex
	cur  *slot[T]
	now  func() time.Time
}

// NewPessimistic creates a pessimistic container around init.
func NewPessimistic[T any](init func() (T, error)) *Pessimistic[T] {
	return &Pessimistic[T]{init: init, now: time.Now}
}

// ReinitializeAfter discards the cached value or error once ttl has elapsed
// since the last initialization attempt. A zero ttl disables expiry.
func (l *Pessimistic[T]) ReinitializeAfter(ttl time.Duration) *Pessimistic[T] {
	l.ttl = ttl
	return l
}

// Get returns the memoized value, initializing it if needed. A cached
// initialization failure is returned as-is until Reset or TTL expiry.
func (l *Pessimistic[T]) Get() (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cur != nil && l.ttl > 0 && l.now().Sub(l.cur.at) >= l.ttl {
		l.cur = nil
	}
	if l.cur == nil {
		value, err := l.init()
		l.cur = &slot[T]{value: value, err: err, at: l.now()}
	}
	return l.cur.value, l.cur.err
}

// Reset discards the cached value or error so the next Get reinitializes.
func (l *Pessimistic[T]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cur = nil
}
