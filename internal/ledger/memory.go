package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/custodex/internal/domain"
)

// MemoryStore is an in-process LedgerStore. One transaction runs at a time;
// writes are staged and applied on Commit.
type MemoryStore struct {
	sem      chan struct{}
	mu       sync.RWMutex
	accounts map[domain.Address]domain.Account
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sem:      make(chan struct{}, 1),
		accounts: make(map[domain.Address]domain.Account),
	}
}

// Begin waits for any running transaction to finish.
func (s *MemoryStore) Begin(ctx context.Context) (domain.LedgerTx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memTx{store: s, staged: make(map[domain.Address]*domain.Account)}, nil
}

// Snapshot returns a copy of every committed account, ordered by address.
func (s *MemoryStore) Snapshot() []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Compare(out[j].Address) < 0 })
	return out
}

type memTx struct {
	store  *MemoryStore
	staged map[domain.Address]*domain.Account // nil value marks a delete
	done   bool
}

func (t *memTx) Get(_ context.Context, addr domain.Address) (domain.Account, error) {
	if a, ok := t.staged[addr]; ok {
		if a == nil {
			return domain.Account{}, domain.ErrNotFound
		}
		return a.Clone(), nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	a, ok := t.store.accounts[addr]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a.Clone(), nil
}

func (t *memTx) Put(_ context.Context, acct domain.Account) error {
	c := acct.Clone()
	t.staged[acct.Address] = &c
	return nil
}

func (t *memTx) Delete(ctx context.Context, addr domain.Address) error {
	if _, err := t.Get(ctx, addr); err != nil {
		return err
	}
	t.staged[addr] = nil
	return nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return nil
	}
	t.store.mu.Lock()
	for addr, a := range t.staged {
		if a == nil {
			delete(t.store.accounts, addr)
			continue
		}
		t.store.accounts[addr] = *a
	}
	t.store.mu.Unlock()
	t.finish()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *memTx) finish() {
	t.done = true
	t.staged = nil
	<-t.store.sem
}
