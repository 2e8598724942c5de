package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// ReceiptStore persists settlement receipts after their unit commits.
type ReceiptStore interface {
	Insert(ctx context.Context, r SettlementReceipt) error
	GetByID(ctx context.Context, id string) (SettlementReceipt, error)
	ListByMarketplace(ctx context.Context, marketplace Address, opts ListOpts) ([]SettlementReceipt, error)
	ListBefore(ctx context.Context, before time.Time) ([]SettlementReceipt, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
