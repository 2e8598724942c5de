package domain

import "context"

// LedgerStore opens atomic units of work over the account ledger.
type LedgerStore interface {
	Begin(ctx context.Context) (LedgerTx, error)
}

// LedgerTx is one atomic unit. Writes are visible to later reads in the same
// unit and to nobody else until Commit. Rollback discards everything; it is
// safe to call after Commit.
type LedgerTx interface {
	// Get returns ErrNotFound when the address holds no account.
	Get(ctx context.Context, addr Address) (Account, error)
	Put(ctx context.Context, acct Account) error
	Delete(ctx context.Context, addr Address) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
