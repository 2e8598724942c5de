package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/custodex/internal/domain"
)

// serializationFailure is SQLSTATE 40001.
const serializationFailure = "40001"

// LedgerStore implements domain.LedgerStore. Each unit is one serializable
// transaction and every account it reads is row-locked until commit.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Begin opens a serializable transaction.
func (s *LedgerStore) Begin(ctx context.Context) (domain.LedgerTx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin ledger tx: %w", err)
	}
	return &ledgerTx{tx: tx}, nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) Get(ctx context.Context, addr domain.Address) (domain.Account, error) {
	const query = `
		SELECT owner, lamports, space, data, updated_at
		FROM accounts WHERE address = $1 FOR UPDATE`
	var (
		owner    []byte
		lamports int64
		acct     = domain.Account{Address: addr}
	)
	err := t.tx.QueryRow(ctx, query, addr.Bytes()).Scan(&owner, &lamports, &acct.Space, &acct.Data, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, wrapConflict("get account", err)
	}
	if len(owner) != len(acct.Owner) {
		return domain.Account{}, fmt.Errorf("postgres: account %s has %d-byte owner", addr, len(owner))
	}
	acct.Owner = domain.BytesToAddress(owner)
	acct.Lamports = uint64(lamports)
	return acct, nil
}

func (t *ledgerTx) Put(ctx context.Context, acct domain.Account) error {
	if acct.Lamports > math.MaxInt64 {
		return domain.Errorf(domain.KindArithmetic, "account %s balance %d exceeds storable range", acct.Address.Short(), acct.Lamports)
	}
	const query = `
		INSERT INTO accounts (address, owner, lamports, space, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE SET
			owner = EXCLUDED.owner,
			lamports = EXCLUDED.lamports,
			space = EXCLUDED.space,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`
	_, err := t.tx.Exec(ctx, query,
		acct.Address.Bytes(), acct.Owner.Bytes(), int64(acct.Lamports), acct.Space, acct.Data, acct.UpdatedAt,
	)
	if err != nil {
		return wrapConflict("put account", err)
	}
	return nil
}

func (t *ledgerTx) Delete(ctx context.Context, addr domain.Address) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM accounts WHERE address = $1`, addr.Bytes())
	if err != nil {
		return wrapConflict("delete account", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return wrapConflict("commit ledger tx", err)
	}
	return nil
}

// Rollback is a no-op after Commit.
func (t *ledgerTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback ledger tx: %w", err)
	}
	return nil
}

// wrapConflict reports serialization failures as domain.ErrLockHeld so the
// caller retries the request instead of treating it as a protocol error.
func wrapConflict(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == serializationFailure {
		return fmt.Errorf("postgres: %s: serialization conflict: %w", op, domain.ErrLockHeld)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
