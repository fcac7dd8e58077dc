package engine

import "sync"

// lockMap is keyed mutual exclusion over message ids. Acquisition never
// blocks: a held key means another cycle owns the message and the caller
// backs off as a suppressed duplicate.
type lockMap struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLockMap() *lockMap {
	return &lockMap{held: map[string]struct{}{}}
}

func (l *lockMap) TryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

func (l *lockMap) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}
