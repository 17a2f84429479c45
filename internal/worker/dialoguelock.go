package worker

import (
	"sync"

	"github.com/google/uuid"
)

// dialogueLockEvictionSize bounds the lock map: above it, unlocked entries
// are purged lazily.
const dialogueLockEvictionSize = 500

// dialogueLocks is the worker's dialogue_id -> mutex map. Any
// follow-up or inbound handling for the same dialogue serializes on the
// entry returned by lock/unlock, which is also what makes the
// checkVersion=false Dialogue.Save path from internal/domain/dialogue safe:
// the mutex already excludes concurrent writers for that dialogue.
type dialogueLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*sync.Mutex
}

func newDialogueLocks() dialogueLocks {
	return dialogueLocks{entries: make(map[uuid.UUID]*sync.Mutex)}
}

// lock returns (and creates if needed) the mutex for id, already locked.
// Call the returned unlock function to release it.
func (l *dialogueLocks) lock(id uuid.UUID) (unlock func()) {
	l.mu.Lock()
	m, ok := l.entries[id]
	if !ok {
		m = &sync.Mutex{}
		l.entries[id] = m
	}
	l.mu.Unlock()

	// Lock the entry before evicting: eviction only removes mutexes that
	// TryLock succeeds on, so locking first guarantees this one survives
	// regardless of how many other goroutines race the eviction pass.
	m.Lock()

	l.mu.Lock()
	l.evictLocked()
	l.mu.Unlock()

	return m.Unlock
}

// evictLocked purges unlocked entries once the map grows past
// dialogueLockEvictionSize. Must be called with l.mu held. TryLock on an
// entry currently held by another goroutine fails and that entry survives;
// entries with no current holder are removed, bounding memory without ever
// dropping a lock a caller is relying on.
func (l *dialogueLocks) evictLocked() {
	if len(l.entries) <= dialogueLockEvictionSize {
		return
	}
	for id, m := range l.entries {
		if m.TryLock() {
			m.Unlock()
			delete(l.entries, id)
		}
	}
}
