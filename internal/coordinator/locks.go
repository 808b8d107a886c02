package coordinator

import (
	"sync"

	"github.com/google/uuid"
)

// sessionLocks provides per-session mutual exclusion: every mutating
// operation against one session id serializes, while operations on different
// sessions never contend. There is no global lock around the critical
// sections themselves, only around the lock table.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *sessionLocks) get(id uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// drop removes a session's lock entry once the session is terminal. A late
// caller recreates the entry, which is harmless: post-end operations fail
// state validation anyway.
func (l *sessionLocks) drop(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, id)
}
