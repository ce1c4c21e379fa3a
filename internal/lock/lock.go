package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotAcquired = errors.New("practitioner lock not acquired")

// Locker serializes critical sections per practitioner. fn runs only while
// the lock is held and the lock is released after fn returns, even if the
// caller's context was cancelled in the meantime.
type Locker interface {
	WithPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	wait time.Duration

	mu    sync.Mutex
	locks map[uuid.UUID]*keyLock
}

// NewLocalLocker creates a locker that waits at most wait for a busy key.
// A zero wait blocks until the caller's context is done.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{
		wait:  wait,
		locks: make(map[uuid.UUID]*keyLock),
	}
}

func (l *LocalLocker) WithPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error {
	kl := l.ref(practitionerID)

	var timeout <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(practitionerID)
		return ctx.Err()
	case <-timeout:
		l.unref(practitionerID)
		return ErrNotAcquired
	}

	defer func() {
		<-kl.ch
		l.unref(practitionerID)
	}()

	return fn(ctx)
}

func (l *LocalLocker) ref(id uuid.UUID) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.locks[id]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[id] = kl
	}
	kl.refs++
	return kl
}

func (l *LocalLocker) unref(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl := l.locks[id]
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, id)
	}
}
