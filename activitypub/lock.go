package activitypub

import "sync"

// Locker serializes work on a named resource, e.g. "actor:https://..." or
// "status:https://...". Locks are created on demand and removed once the
// last holder releases them.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*lockEntry)}
}

// Acquire blocks until the named lock is held and returns the release func.
func (l *Locker) Acquire(name string) func() {
	l.mu.Lock()
	entry, ok := l.locks[name]
	if !ok {
		entry = &lockEntry{}
		l.locks[name] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, name)
		}
		l.mu.Unlock()
	}
}

// defaultLocker guards actor and status rows across concurrent inbox
// deliveries in the running process.
var defaultLocker = NewLocker()
