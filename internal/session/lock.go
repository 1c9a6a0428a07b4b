package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrLockTimeout    = errors.New("session: timed out waiting for the update lock")
	ErrSessionGone    = errors.New("session: session is gone")
	ErrUnknownSession = errors.New("session: unknown session")
)

type waiter struct {
	ready   chan struct{}
	granted bool
	gone    bool
}

// UpdateLock serializes access to one session's widget tree. Waiters are
// served in arrival order and the lock is handed directly to the next waiter
// on release, so nobody can barge in between two queued turns.
type UpdateLock struct {
	mu      sync.Mutex
	held    bool
	closed  bool
	waiters []*waiter
}

// Acquire blocks until the lock is held, ctx ends, or timeout elapses.
// A timeout of zero waits for ctx alone.
func (l *UpdateLock) Acquire(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrSessionGone
	}
	if !l.held && len(l.waiters) == 0 {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{}, 1)}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-w.ready:
		if w.gone {
			return ErrSessionGone
		}
		return nil
	case <-ctx.Done():
		return l.abandon(w, ctx.Err())
	case <-expired:
		return l.abandon(w, ErrLockTimeout)
	}
}

// abandon withdraws a waiter. If the lock was handed over in the meantime it
// is passed on, since the caller will not use it.
func (l *UpdateLock) abandon(w *waiter, err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w.gone {
		return ErrSessionGone
	}
	if w.granted {
		l.releaseLocked()
		return err
	}
	for i, x := range l.waiters {
		if x == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			break
		}
	}
	return err
}

// Release hands the lock to the next waiter, if any.
func (l *UpdateLock) Release() {
	l.mu.Lock()
	l.releaseLocked()
	l.mu.Unlock()
}

func (l *UpdateLock) releaseLocked() {
	if len(l.waiters) == 0 {
		l.held = false
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	next.granted = true
	next.ready <- struct{}{}
}

// Close fails every current and future waiter with ErrSessionGone. The
// current holder keeps the lock until it releases it.
func (l *UpdateLock) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for _, w := range l.waiters {
		w.gone = true
		w.ready <- struct{}{}
	}
	l.waiters = nil
}

// Waiting returns the number of queued waiters.
func (l *UpdateLock) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// Held reports whether somebody holds the lock.
func (l *UpdateLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
