package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/custodex/internal/domain"
)

// Processor runs instructions as atomic units against a LedgerStore. Every
// state change made inside Execute is committed together or not at all.
type Processor struct {
	store  domain.LedgerStore
	rent   Rent
	now    func() time.Time
	logger *slog.Logger
}

// NewProcessor creates a Processor. A zero rent rate falls back to
// DefaultLamportsPerByte.
func NewProcessor(store domain.LedgerStore, rent Rent, logger *slog.Logger) *Processor {
	if rent.LamportsPerByte == 0 {
		rent.LamportsPerByte = DefaultLamportsPerByte
	}
	return &Processor{
		store:  store,
		rent:   rent,
		now:    time.Now,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// SetClock replaces the time source. Tests use it to pin timestamps.
func (p *Processor) SetClock(now func() time.Time) { p.now = now }

// Rent returns the storage deposit schedule.
func (p *Processor) Rent() Rent { return p.rent }

// Execute runs fn as program with the given verified signers. If fn returns
// an error every write it made is discarded.
func (p *Processor) Execute(ctx context.Context, program domain.Address, signers domain.Signers, fn func(*Context) error) error {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ic := newContext(ctx, tx, program, signers, p.now().UTC(), p.rent)
	if err := fn(ic); err != nil {
		p.logger.Debug("instruction rejected",
			slog.String("program", program.Short()),
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

// View runs fn against a consistent snapshot and discards any writes.
func (p *Processor) View(ctx context.Context, fn func(*Context) error) error {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	return fn(newContext(ctx, tx, SystemProgramID, nil, p.now().UTC(), p.rent))
}
