package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/custodex/internal/domain"
)

// ReceiptStore implements domain.ReceiptStore using PostgreSQL.
type ReceiptStore struct {
	pool *pgxpool.Pool
}

// NewReceiptStore creates a ReceiptStore backed by pool.
func NewReceiptStore(pool *pgxpool.Pool) *ReceiptStore {
	return &ReceiptStore{pool: pool}
}

const receiptSelectCols = `id, marketplace, listing, mint, maker, taker,
	price, proceeds, fee, reward, settled_at`

func scanReceipt(row pgx.Row) (domain.SettlementReceipt, error) {
	var (
		r                                domain.SettlementReceipt
		mkt, listing, mint, maker, taker []byte
		price, proceeds, feeAmt, reward  int64
	)
	if err := row.Scan(&r.ID, &mkt, &listing, &mint, &maker, &taker,
		&price, &proceeds, &feeAmt, &reward, &r.SettledAt); err != nil {
		return r, err
	}
	for _, b := range [][]byte{mkt, listing, mint, maker, taker} {
		if len(b) != len(domain.Address{}) {
			return r, fmt.Errorf("receipt %s: malformed address column", r.ID)
		}
	}
	r.Marketplace = domain.BytesToAddress(mkt)
	r.Listing = domain.BytesToAddress(listing)
	r.Mint = domain.BytesToAddress(mint)
	r.Maker = domain.BytesToAddress(maker)
	r.Taker = domain.BytesToAddress(taker)
	r.Price, r.Proceeds, r.Fee, r.Reward = uint64(price), uint64(proceeds), uint64(feeAmt), uint64(reward)
	return r, nil
}

func scanReceipts(rows pgx.Rows) ([]domain.SettlementReceipt, error) {
	defer rows.Close()
	var out []domain.SettlementReceipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Insert stores a receipt. Re-inserting the same id is ignored.
func (s *ReceiptStore) Insert(ctx context.Context, r domain.SettlementReceipt) error {
	const query = `
		INSERT INTO settlement_receipts (` + receiptSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.Marketplace.Bytes(), r.Listing.Bytes(), r.Mint.Bytes(), r.Maker.Bytes(), r.Taker.Bytes(),
		int64(r.Price), int64(r.Proceeds), int64(r.Fee), int64(r.Reward), r.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert receipt %s: %w", r.ID, err)
	}
	return nil
}

// GetByID returns one receipt or domain.ErrNotFound.
func (s *ReceiptStore) GetByID(ctx context.Context, id string) (domain.SettlementReceipt, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+receiptSelectCols+` FROM settlement_receipts WHERE id = $1`, id)
	r, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r, fmt.Errorf("postgres: receipt %s: %w", id, domain.ErrNotFound)
		}
		return r, fmt.Errorf("postgres: get receipt %s: %w", id, err)
	}
	return r, nil
}

// ListByMarketplace returns a root's receipts, newest first.
func (s *ReceiptStore) ListByMarketplace(ctx context.Context, mkt domain.Address, opts domain.ListOpts) ([]domain.SettlementReceipt, error) {
	query, args := appendWindow(
		`SELECT `+receiptSelectCols+` FROM settlement_receipts WHERE marketplace = $1`,
		[]any{mkt.Bytes()}, "settled_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipts: %w", err)
	}
	out, err := scanReceipts(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan receipts: %w", err)
	}
	return out, nil
}

// ListBefore returns every receipt settled strictly before the cutoff.
func (s *ReceiptStore) ListBefore(ctx context.Context, before time.Time) ([]domain.SettlementReceipt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+receiptSelectCols+` FROM settlement_receipts WHERE settled_at < $1 ORDER BY settled_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipts before: %w", err)
	}
	out, err := scanReceipts(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan receipts: %w", err)
	}
	return out, nil
}

// DeleteBefore removes receipts settled strictly before the cutoff.
func (s *ReceiptStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM settlement_receipts WHERE settled_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete receipts before: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.ReceiptStore = (*ReceiptStore)(nil)
