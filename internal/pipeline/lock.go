package pipeline

import (
	"context"
	"sync"
)

// Locker gives one caller at a time exclusive rights to run an audio record.
// TryLock never waits: ok is false when the record is already held.
type Locker interface {
	TryLock(ctx context.Context, audioID int64) (unlock func(), ok bool, err error)
}

// LocalLocker is an in-process Locker for single-instance deployments
type LocalLocker struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// NewLocalLocker creates an empty in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[int64]struct{})}
}

// TryLock implements Locker. The returned unlock is safe to call more than once.
func (l *LocalLocker) TryLock(_ context.Context, audioID int64) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[audioID]; busy {
		return nil, false, nil
	}
	l.held[audioID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, audioID)
			l.mu.Unlock()
		})
	}, true, nil
}

// Held reports whether audioID is currently locked.
func (l *LocalLocker) Held(audioID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[audioID]
	return ok
}
