package adapter

import (
	"context"
	"time"
)

// Locker is a short-lived mutual exclusion primitive shared by all
// dispatcher instances. TryLock returns domain.ErrAlreadyRunning when the
// key is held by someone else.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
