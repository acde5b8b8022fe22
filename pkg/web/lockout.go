package web

import (
	"sync"
	"time"
)

const (
	lockoutWindow   = 5 * time.Minute
	lockoutAttempts = 5
)

// lockout tracks failed logins per source address: five failures inside
// the window lock the source out until the window rolls past its first
// failure.
type lockout struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

func newLockout() *lockout {
	return &lockout{failures: make(map[string][]time.Time)}
}

func (l *lockout) locked(source string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.prune(source)) >= lockoutAttempts
}

func (l *lockout) fail(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures[source] = append(l.prune(source), time.Now())
}

func (l *lockout) reset(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.failures, source)
}

// prune drops failures older than the window. Caller holds the lock.
func (l *lockout) prune(source string) []time.Time {
	cutoff := time.Now().Add(-lockoutWindow)

	kept := l.failures[source][:0]

	for _, t := range l.failures[source] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) == 0 {
		delete(l.failures, source)
		return nil
	}

	l.failures[source] = kept

	return kept
}
