package engine

import (
	"context"

	"github.com/sasha-s/go-deadlock"
)

// keyedLocks serializes work per execution id. Entries are dropped once no goroutine holds or
// waits for them.
type keyedLocks struct {
	mu      deadlock.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{entries: make(map[string]*lockEntry)}
}

// Lock blocks until the key is free or ctx is done, and returns the release func.
func (l *keyedLocks) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}

	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry)

		return nil, ctx.Err()
	}

	return func() {
		<-entry.sem
		l.release(key, entry)
	}, nil
}

func (l *keyedLocks) release(key string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *keyedLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}
