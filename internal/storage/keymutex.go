package storage

import "sync"

// keyMutex serializes get-or-create work per natural key within one process.
// The database uniqueness constraints remain the real guarantee across
// processes; this only narrows the window where two goroutines both take the
// insert-then-reselect path for the same key. Entries are reference counted
// and dropped when the last holder releases, so the map is bounded by the
// number of keys in flight, not by the number of keys ever seen.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires the mutex for key, creating it on first use. The returned
// function releases it.
func (km *keyMutex) Lock(key string) func() {
	km.mu.Lock()
	lock, ok := km.locks[key]
	if !ok {
		lock = &keyLock{}
		km.locks[key] = lock
	}
	lock.refs++
	km.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		km.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}
