package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is an in-process Locker for single-node deployments and tests.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
	wait  time.Duration
}

type localSlot struct {
	held chan struct{}
	refs int
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{
		slots: make(map[string]*localSlot),
		wait:  wait,
	}
}

func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s := l.ref(key)
	defer l.unref(key)

	err := retry(ctx, l.wait, func() (bool, error) {
		select {
		case s.held <- struct{}{}:
			return true, nil
		default:
			return false, nil
		}
	})
	if err != nil {
		return err
	}
	defer func() { <-s.held }()

	return fn(ctx)
}

func (l *LocalLocker) ref(key string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &localSlot{held: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
