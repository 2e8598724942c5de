// Package local implements the cache interfaces in process memory for
// single-node deployments and tests.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/custodex/internal/domain"
)

type lease struct {
	token   string
	expires time.Time
}

// LockManager implements domain.LockManager with an expiring in-memory
// lease table.
type LockManager struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{leases: make(map[string]lease), now: time.Now}
}

// Acquire takes the lease for key or fails with domain.ErrLockHeld. The
// returned unlock is safe to call more than once and never releases a lease
// that expired and was taken by someone else.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if l, ok := lm.leases[key]; ok && now.Before(l.expires) {
		return nil, domain.ErrLockHeld
	}
	token := uuid.New().String()
	lm.leases[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if l, ok := lm.leases[key]; ok && l.token == token {
				delete(lm.leases, key)
			}
		})
	}, nil
}

// Sweep drops expired leases and returns how many it removed.
func (lm *LockManager) Sweep() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	n := 0
	for key, l := range lm.leases {
		if !now.Before(l.expires) {
			delete(lm.leases, key)
			n++
		}
	}
	return n
}

var _ domain.LockManager = (*LockManager)(nil)
