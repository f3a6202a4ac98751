// Package distlock provides the cross-process mutual exclusion used to keep
// at most one scheduled run in flight. Redis is preferred; PostgreSQL
// advisory locks are the fallback when no Redis is configured.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mckuadrat/wa-broadcast/internal/pkg/logger"
)

// DistLock is a non-blocking, owner-checked lock.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Renewable is a lock held through an expiring lease. WithLock keeps the
// lease alive for as long as fn runs.
type Renewable interface {
	DistLock
	TTL() time.Duration
	// Extend resets the lease to ttl. It reports false once the lock is lost.
	Extend(ctx context.Context, ttl time.Duration) (bool, error)
}

type leaseKey struct{}

type lease struct {
	lost atomic.Bool
}

// LeaseLost reports whether the lock guarding ctx could not be renewed.
// Work started under WithLock should stop at its next safe point.
func LeaseLost(ctx context.Context) bool {
	l, ok := ctx.Value(leaseKey{}).(*lease)
	return ok && l.lost.Load()
}

// NewLock picks Redis when redisClient is non-nil, otherwise a PG advisory lock.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// WithLock runs fn only if the lock could be taken. ran reports whether fn ran.
func WithLock(ctx context.Context, l DistLock, fn func(ctx context.Context) error) (ran bool, err error) {
	ok, err := l.Acquire(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() {
		// release even if ctx was cancelled mid-run
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := l.Release(relCtx); rerr != nil && err == nil {
			err = fmt.Errorf("release lock: %w", rerr)
		}
	}()

	if r, ok := l.(Renewable); ok && r.TTL() > 0 {
		ls := &lease{}
		ctx = context.WithValue(ctx, leaseKey{}, ls)
		stop := make(chan struct{})
		done := make(chan struct{})
		go heartbeat(ctx, r, ls, stop, done)
		defer func() {
			close(stop)
			<-done
		}()
	}
	return true, fn(ctx)
}

// heartbeat extends the lease every ttl/3 until stop is closed or the lock
// is found lost. A failed Extend call is retried on the next tick.
func heartbeat(ctx context.Context, r Renewable, ls *lease, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ttl := r.TTL()
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			extCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ttl/3)
			held, err := r.Extend(extCtx, ttl)
			cancel()
			if err != nil {
				logger.Warn("lock renewal failed", "error", err)
				continue
			}
			if !held {
				ls.lost.Store(true)
				logger.Error("lock lease lost while held")
				return
			}
		}
	}
}

// PGAdvisoryLock implements DistLock with pg_try_advisory_lock. Advisory
// locks are session-scoped, so the lock pins one pooled connection from
// Acquire until Release.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewPGAdvisoryLock derives a stable lock ID from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock without blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return false, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release unlocks and returns the pinned connection to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil
	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return errors.Join(err, conn.Close())
}
