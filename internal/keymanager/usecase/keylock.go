package usecase

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// keyLock hands out one mutex per key and forgets it once no caller holds or
// waits for it.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock function.
func (k *keyLock) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// generateOnce joins concurrent generations of the same key. fn runs detached
// from the cancellation of whichever caller started it, so one caller going
// away does not fail the others waiting on the shared result.
func generateOnce[T any](
	ctx context.Context,
	group *singleflight.Group,
	key domain.RecordKey,
	fn func(context.Context, domain.RecordKey) (T, error),
) (T, error) {
	detached := context.WithoutCancel(ctx)
	ch := group.DoChan(key.String(), func() (any, error) {
		return fn(detached, key)
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}
