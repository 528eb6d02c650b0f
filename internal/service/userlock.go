package service

import (
	"sync"

	"github.com/gofrs/uuid/v5"
)

// UserLocks is a keyed mutex: one writer per user inside this process. The
// engine and the validator share one instance so an in-process unlock and a
// correction of the same user never interleave. Cross-process serialization
// is the advisory lock taken by the repository.
type UserLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewUserLocks returns an empty lock set.
func NewUserLocks() *UserLocks { return &UserLocks{m: make(map[uuid.UUID]*userLock)} }

// Lock blocks until id is free and returns its unlock func.
func (l *UserLocks) Lock(id uuid.UUID) func() {
	l.mu.Lock()
	e, ok := l.m[id]
	if !ok {
		e = &userLock{}
		l.m[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}

func (l *UserLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
