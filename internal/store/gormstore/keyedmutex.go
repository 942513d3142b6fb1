package gormstore

import "sync"

// keyedMutex serializes read-modify-write cycles per account id. Unrelated
// accounts never contend; two updates for the same account execute one at a
// time in lock-acquisition order.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// lock blocks until the key is exclusively held and returns the unlock func.
func (keyed *keyedMutex) lock(key string) func() {
	keyed.mu.Lock()
	entry, ok := keyed.locks[key]
	if !ok {
		entry = &keyedLock{}
		keyed.locks[key] = entry
	}
	entry.refs++
	keyed.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		keyed.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(keyed.locks, key)
		}
		keyed.mu.Unlock()
	}
}
