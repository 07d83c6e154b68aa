// Package lock provides the per-account mutual exclusion used by every
// balance mutation. A Locker is a single-attempt primitive over some shared
// store; Controller adds bounded waiting and scoped release on top of it.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/growshop/ledger/internal/models"
)

// ErrNotAcquired is returned by a Locker when the key is already held.
var ErrNotAcquired = errors.New("lock: already held")

// Handle proves ownership of a key until Release or expiry.
type Handle struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Locker is implementable atop any store with atomic compare-and-set or
// expiring keys.
type Locker interface {
	// Acquire makes one attempt to take key for ttl.
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error)
	// Release frees key only if h still owns it.
	Release(ctx context.Context, h *Handle) error
}

// AccountKey is the lock key for one account.
func AccountKey(k models.AccountKey) string {
	return fmt.Sprintf("ledger:lock:%s:%s", k.Platform, k.UserID)
}

func newToken() string {
	return uuid.NewString()
}

// Options bound how long a caller holds and waits for a lock.
type Options struct {
	// TTL is set once at acquire and never renewed. A critical section that
	// outlives it loses exclusivity; the store's row lock and version check
	// still reject a conflicting balance write. Keep it well above the
	// slowest commit.
	TTL           time.Duration
	WaitTimeout   time.Duration
	RetryInterval time.Duration
}

// DefaultOptions mirror the ledger.lock_* configuration defaults.
func DefaultOptions() Options {
	return Options{
		TTL:           10 * time.Second,
		WaitTimeout:   5 * time.Second,
		RetryInterval: 25 * time.Millisecond,
	}
}

// Controller is the account-level concurrency controller.
type Controller struct {
	locker Locker
	opts   Options
	logger *slog.Logger
}

func NewController(locker Locker, opts Options, logger *slog.Logger) *Controller {
	defaults := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = defaults.TTL
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaults.WaitTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaults.RetryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		locker: locker,
		opts:   opts,
		logger: logger.With("component", "lock"),
	}
}

// Acquire waits up to the configured timeout for key. It fails with
// models.ErrLockTimeout instead of blocking forever.
func (c *Controller) Acquire(ctx context.Context, key string) (*Handle, error) {
	deadline := time.NewTimer(c.opts.WaitTimeout)
	defer deadline.Stop()

	var lastErr error
	for {
		h, err := c.locker.Acquire(ctx, key, c.opts.TTL)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			lastErr = err
			c.logger.Warn("lock acquire attempt failed", "key", key, "error", err)
		}

		retry := time.NewTimer(c.opts.RetryInterval)
		select {
		case <-ctx.Done():
			retry.Stop()
			return nil, fmt.Errorf("%w: %s: %v", models.ErrLockTimeout, key, ctx.Err())
		case <-deadline.C:
			retry.Stop()
			if lastErr != nil {
				return nil, fmt.Errorf("%w: %s: %v", models.ErrLockTimeout, key, lastErr)
			}
			return nil, fmt.Errorf("%w: %s", models.ErrLockTimeout, key)
		case <-retry.C:
		}
	}
}

// Release frees h. A lock that already expired is not an error.
func (c *Controller) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	return c.locker.Release(ctx, h)
}

// WithLock runs fn while holding key. The lock is released on every exit
// path of fn, panics included; the panic is re-raised after release.
func (c *Controller) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	h, err := c.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Release(context.WithoutCancel(ctx), h); err != nil {
			c.logger.Error("lock release failed", "key", key, "error", err)
		}
	}()

	start := time.Now()
	err = fn(ctx)
	if held := time.Since(start); held > c.opts.TTL {
		c.logger.Warn("lock held past its ttl", "key", key, "held", held, "ttl", c.opts.TTL)
	}
	return err
}
