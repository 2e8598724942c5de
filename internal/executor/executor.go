// Package executor runs ledger instructions on behalf of the service layer:
// it rejects expired and replayed requests, serialises units that touch the
// same records through the lock manager, and drives the processor.
//
// Replay reservations live in the same lock manager as record locks, so a
// multi-node deployment backed by Redis shares one replay table.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/ledger"
)

// Request describes one instruction submission.
type Request struct {
	// ID is the caller's idempotency key. Empty means a fresh id.
	ID string
	// Expires is when a signed request stops being valid. Zero means the
	// request was built in-process and never expires.
	Expires time.Time
	Program domain.Address
	Signers domain.Signers
	// Keys name the records the instruction touches; each is locked for the
	// life of the unit.
	Keys []string
}

// Options tune lock handling and replay protection.
type Options struct {
	LockTTL         time.Duration
	LockWait        time.Duration
	ReplayTTL       time.Duration
	CleanupInterval time.Duration
}

// DefaultOptions are used for zero fields.
var DefaultOptions = Options{
	LockTTL:         10 * time.Second,
	LockWait:        2 * time.Second,
	ReplayTTL:       10 * time.Minute,
	CleanupInterval: 30 * time.Second,
}

const (
	lockRetryInterval = 25 * time.Millisecond
	replayKeyPrefix   = "replay:"
)

// sweeper is implemented by lock managers that hold expired leases in
// memory until swept.
type sweeper interface {
	Sweep() int
}

// Executor submits requests to a ledger.Processor.
type Executor struct {
	proc   *ledger.Processor
	locks  domain.LockManager
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

// New creates an Executor.
func New(proc *ledger.Processor, locks domain.LockManager, opts Options, logger *slog.Logger) *Executor {
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultOptions.LockTTL
	}
	if opts.LockWait < 0 {
		opts.LockWait = 0
	}
	if opts.ReplayTTL <= 0 {
		opts.ReplayTTL = DefaultOptions.ReplayTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultOptions.CleanupInterval
	}
	return &Executor{
		proc:   proc,
		locks:  locks,
		opts:   opts,
		now:    time.Now,
		logger: logger.With(slog.String("component", "executor")),
	}
}

// Processor exposes the underlying processor for read-only views.
func (e *Executor) Processor() *ledger.Processor { return e.proc }

// Execute runs fn as one atomic unit and returns the request id it ran
// under. An expired request fails with domain.ErrExpired and a replayed id
// with domain.ErrDuplicate; a rejected unit releases its id so the caller
// may retry.
func (e *Executor) Execute(ctx context.Context, req Request, fn func(*ledger.Context) error) (string, error) {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	log := e.logger.With(slog.String("request_id", id), slog.String("program", req.Program.Short()))

	if err := e.checkExpiry(req.Expires); err != nil {
		return id, fmt.Errorf("executor: request %s: %w", id, err)
	}
	forget, err := e.reserve(ctx, id)
	if err != nil {
		return id, err
	}

	release, err := e.lockAll(ctx, req.Keys)
	if err != nil {
		forget()
		return id, err
	}
	defer release()

	start := time.Now()
	if err := e.proc.Execute(ctx, req.Program, req.Signers, fn); err != nil {
		forget()
		log.Info("unit rejected",
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return id, err
	}
	log.Debug("unit committed", slog.Duration("took", time.Since(start)))
	return id, nil
}

// checkExpiry accepts a zero expiry, or one in the future no further out
// than the replay window. A request that outlives its reservation could be
// replayed once the reservation lapses.
func (e *Executor) checkExpiry(expires time.Time) error {
	if expires.IsZero() {
		return nil
	}
	now := e.now()
	if !now.Before(expires) {
		return fmt.Errorf("expired at %s: %w", expires.UTC().Format(time.RFC3339), domain.ErrExpired)
	}
	if left := expires.Sub(now); left > e.opts.ReplayTTL {
		return domain.Errorf(domain.KindConfiguration, "expires in %s, beyond the %s replay window", left.Round(time.Second), e.opts.ReplayTTL)
	}
	return nil
}

// reserve claims id for the replay window. The returned func releases the
// claim.
func (e *Executor) reserve(ctx context.Context, id string) (func(), error) {
	forget, err := e.locks.Acquire(ctx, replayKeyPrefix+id, e.opts.ReplayTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		return nil, fmt.Errorf("executor: request %s: %w", id, domain.ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("executor: reserve %s: %w", id, err)
	}
	return forget, nil
}

// lockAll acquires every key in sorted order so two units never wait on
// each other in opposite orders.
func (e *Executor) lockAll(ctx context.Context, keys []string) (func(), error) {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	var held []func()
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, k := range sorted {
		unlock, err := e.acquire(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, unlock)
	}
	return release, nil
}

func (e *Executor) acquire(ctx context.Context, key string) (func(), error) {
	deadline := time.Now().Add(e.opts.LockWait)
	for {
		unlock, err := e.locks.Acquire(ctx, key, e.opts.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || time.Now().After(deadline) {
			return nil, fmt.Errorf("executor: lock %s: %w", key, err)
		}
		timer := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("executor: lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// Run sweeps expired leases from in-memory lock managers until ctx is
// cancelled. Redis expires its own keys.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	sw, ok := e.locks.(sweeper)
	ticker := time.NewTicker(e.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !ok {
				continue
			}
			if n := sw.Sweep(); n > 0 {
				e.logger.Debug("swept expired leases", slog.Int("count", n))
			}
		}
	}
}
