// Package lock provides the single named mutual-exclusion lock that
// serialises index mutations across every indexer in the cluster.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
)

// ErrLeaseLost is the cause of a lease context that ended because the lock
// could no longer be proven held.
var ErrLeaseLost = errors.New("lock lease lost")

// Locker acquires the lock, waiting at most until ctx is done.
type Locker interface {
	Acquire(ctx context.Context) (*Lease, error)
}

// Lease is a held lock. Work done under the lock runs on Context, which
// keeps the values of the context Acquire was called with but not its
// cancellation, and ends once the lease is released or lost.
type Lease struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	once    sync.Once
	release func()
}

func newLease(parent context.Context, release func()) *Lease {
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(parent))
	return &Lease{ctx: ctx, cancel: cancel, release: release}
}

func (l *Lease) Context() context.Context { return l.ctx }

// Lost reports whether the lock was lost while held.
func (l *Lease) Lost() bool {
	return errors.Is(context.Cause(l.ctx), ErrLeaseLost)
}

// Release gives the lock up. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.cancel(context.Canceled)
		l.release()
	})
}

func unavailable(name string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("lock %q: %w", name, apperrors.ErrLockUnavailable)
}

// Local is an in-process Locker for single-node builds and tests.
type Local struct {
	name string
	ch   chan struct{}
}

func NewLocal(name string) *Local {
	return &Local{name: name, ch: make(chan struct{}, 1)}
}

func (l *Local) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return nil, unavailable(l.name, ctx.Err())
	}
	return newLease(ctx, func() { <-l.ch }), nil
}

// Store is the part of the Redis client the lock runs on.
// *redis.Client implements it.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ExpireIfEquals(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DeleteIfEquals(ctx context.Context, key, value string) (bool, error)
}

// Redis is a token lock on one Redis key. SET NX PX takes it, a watchdog
// extends the lease every third of the TTL while the token still matches,
// and a compare-and-delete releases it. When the lease cannot be extended
// in time the lease context is cancelled with ErrLeaseLost, before any
// other holder could have taken the key.
type Redis struct {
	store  Store
	key    string
	ttl    time.Duration
	poll   time.Duration
	logger *slog.Logger
}

// NewRedis creates a lock on key. ttl bounds how long a crashed holder can
// block others.
func NewRedis(store Store, key string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		store:  store,
		key:    key,
		ttl:    ttl,
		poll:   min(25*time.Millisecond, ttl/4),
		logger: slog.Default().With("component", "index-lock", "lock", key),
	}
}

func (l *Redis) Acquire(ctx context.Context) (*Lease, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	t := time.NewTicker(l.poll)
	defer t.Stop()
	for {
		acquired := time.Now()
		ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
		if err != nil && ctx.Err() == nil {
			l.logger.Warn("lock attempt failed", "error", err)
		}
		if ok {
			return l.hold(ctx, token, acquired), nil
		}
		select {
		case <-ctx.Done():
			return nil, unavailable(l.key, ctx.Err())
		case <-t.C:
		}
	}
}

func (l *Redis) hold(ctx context.Context, token string, acquired time.Time) *Lease {
	done := make(chan struct{})
	lease := newLease(ctx, func() {
		<-done
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ok, err := l.store.DeleteIfEquals(rctx, l.key, token)
		switch {
		case err != nil:
			l.logger.Error("lock release failed", "error", err)
		case !ok:
			l.logger.Warn("lock lease expired before release")
		}
	})
	go l.keepAlive(lease, token, acquired, done)
	return lease
}

// keepAlive extends the lease until it is released. The lease counts as
// lost once the key holds another token, or once the last confirmed
// extension is so old that the key may expire before the next attempt.
func (l *Redis) keepAlive(lease *Lease, token string, renewed time.Time, done chan<- struct{}) {
	defer close(done)
	every := l.ttl / 3
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-lease.ctx.Done():
			return
		case <-t.C:
		}
		attempt := time.Now()
		ctx, cancel := context.WithTimeout(lease.ctx, every)
		ok, err := l.store.ExpireIfEquals(ctx, l.key, token, l.ttl)
		cancel()
		switch {
		case lease.ctx.Err() != nil:
			return
		case err == nil && ok:
			renewed = attempt
		case err == nil:
			l.logger.Error("lock held by another owner, abandoning lease")
			lease.cancel(ErrLeaseLost)
			return
		default:
			l.logger.Warn("lock renewal failed", "error", err, "since_renewal", time.Since(renewed))
			if time.Since(renewed)+every >= l.ttl {
				l.logger.Error("lock lease expiring without renewal, abandoning lease")
				lease.cancel(ErrLeaseLost)
				return
			}
		}
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
