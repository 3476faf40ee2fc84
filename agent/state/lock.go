package state

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex hands out one mutex per key. An entry lives only while some
// caller holds or waits on it.
type KeyedMutex struct {
	locks *xsync.MapOf[string, *lockEntry]
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: xsync.NewMapOf[string, *lockEntry]()}
}

// Lock blocks until the key is free and returns its unlock func. The unlock
// func must be called exactly once.
func (k *KeyedMutex) Lock(key string) func() {
	entry, _ := k.locks.Compute(key, func(e *lockEntry, loaded bool) (*lockEntry, bool) {
		if !loaded {
			e = &lockEntry{}
		}
		e.refs++
		return e, false
	})
	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.locks.Compute(key, func(e *lockEntry, loaded bool) (*lockEntry, bool) {
			if !loaded {
				return e, true
			}
			e.refs--
			return e, e.refs == 0
		})
	}
}

// Len reports how many keys are currently held or awaited.
func (k *KeyedMutex) Len() int {
	return k.locks.Size()
}
