// Package memory holds in-process audit and receipt stores used with the
// in-memory ledger backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/custodex/internal/domain"
)

// AuditStore keeps audit entries in a slice.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	})
	return nil
}

func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if inWindow(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	return page(out, opts), nil
}

// ReceiptStore keeps settlement receipts in a map.
type ReceiptStore struct {
	mu       sync.Mutex
	receipts map[string]domain.SettlementReceipt
}

// NewReceiptStore creates an empty ReceiptStore.
func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{receipts: make(map[string]domain.SettlementReceipt)}
}

func (s *ReceiptStore) Insert(_ context.Context, r domain.SettlementReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[r.ID]; !ok {
		s.receipts[r.ID] = r
	}
	return nil
}

func (s *ReceiptStore) GetByID(_ context.Context, id string) (domain.SettlementReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return r, fmt.Errorf("memory: receipt %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

func (s *ReceiptStore) ListByMarketplace(_ context.Context, mkt domain.Address, opts domain.ListOpts) ([]domain.SettlementReceipt, error) {
	out := s.filter(func(r domain.SettlementReceipt) bool {
		return r.Marketplace == mkt && inWindow(r.SettledAt, opts)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.After(out[j].SettledAt) })
	return page(out, opts), nil
}

func (s *ReceiptStore) ListBefore(_ context.Context, before time.Time) ([]domain.SettlementReceipt, error) {
	out := s.filter(func(r domain.SettlementReceipt) bool { return r.SettledAt.Before(before) })
	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.Before(out[j].SettledAt) })
	return out, nil
}

func (s *ReceiptStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.receipts {
		if r.SettledAt.Before(before) {
			delete(s.receipts, id)
			n++
		}
	}
	return n, nil
}

func (s *ReceiptStore) filter(keep func(domain.SettlementReceipt) bool) []domain.SettlementReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SettlementReceipt
	for _, r := range s.receipts {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

var (
	_ domain.AuditStore   = (*AuditStore)(nil)
	_ domain.ReceiptStore = (*ReceiptStore)(nil)
)
