package repository

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Claudio-code/rinha-de-backend-2024/internal/errors"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/models"
)

// MemoryStore implements LedgerStore in memory. Each account carries its own
// mutex, so the atomic unit serializes writers per account without blocking
// other accounts. The account map is fixed after construction.
type MemoryStore struct {
	accts  map[int]*memoryAccount
	nextID int64
}

type memoryAccount struct {
	mu   sync.Mutex
	acct models.Account
	log  []models.Transaction
}

// NewMemoryStore builds a store seeded with the given accounts, or with the
// fixed SeedAccounts population when none are given.
func NewMemoryStore(accounts ...models.Account) *MemoryStore {
	if len(accounts) == 0 {
		accounts = SeedAccounts
	}
	accts := make(map[int]*memoryAccount, len(accounts))
	for _, a := range accounts {
		accts[a.ID] = &memoryAccount{acct: a}
	}
	return &MemoryStore{accts: accts}
}

func (s *MemoryStore) GetAccount(ctx context.Context, id int) (*models.Account, error) {
	ma, ok := s.accts[id]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	ma.mu.Lock()
	defer ma.mu.Unlock()
	cp := ma.acct
	return &cp, nil
}

func (s *MemoryStore) ListRecentTransactions(ctx context.Context, id, limit int) ([]models.Transaction, error) {
	ma, ok := s.accts[id]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	ma.mu.Lock()
	defer ma.mu.Unlock()

	recent := make([]models.Transaction, 0, limit)
	for i := len(ma.log) - 1; i >= 0 && len(recent) < limit; i-- {
		recent = append(recent, ma.log[i])
	}
	return recent, nil
}

func (s *MemoryStore) ApplyTransaction(ctx context.Context, id int, fn ApplyFn) (*models.Account, *models.Transaction, error) {
	ma, ok := s.accts[id]
	if !ok {
		return nil, nil, errors.ErrAccountNotFound
	}
	ma.mu.Lock()
	defer ma.mu.Unlock()

	current := ma.acct
	newBalance, rec, err := fn(&current)
	if err != nil {
		return nil, nil, err
	}

	rec.ID = atomic.AddInt64(&s.nextID, 1)
	ma.acct.Balance = newBalance
	ma.log = append(ma.log, *rec)

	cp := ma.acct
	recCp := *rec
	return &cp, &recCp, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
