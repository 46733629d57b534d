package repository

import (
	"context"

	"github.com/Claudio-code/rinha-de-backend-2024/internal/models"
)

// ApplyFn runs inside the store's per-account atomic unit with the account as
// currently persisted. It returns the new balance and the record to append, or
// an error to abort the unit with no side effect.
type ApplyFn func(acct *models.Account) (int64, *models.Transaction, error)

// LedgerStore is the durable storage boundary for account balances and the
// append-only transaction log.
//
// ApplyTransaction is the concurrency primitive: the account is loaded under
// exclusive per-account protection, fn decides the outcome, and the balance
// write plus the record append commit as one indivisible unit or not at all.
// Transactions on different accounts never block one another. A detected lost
// update surfaces as errors.ErrConflict and may be retried by the caller.
type LedgerStore interface {
	GetAccount(ctx context.Context, id int) (*models.Account, error)
	ListRecentTransactions(ctx context.Context, id, limit int) ([]models.Transaction, error)
	ApplyTransaction(ctx context.Context, id int, fn ApplyFn) (*models.Account, *models.Transaction, error)
	Ping(ctx context.Context) error
	Close() error
}

// SeedAccounts is the fixed account population, created once at bootstrap and
// never destroyed during normal operation.
var SeedAccounts = []models.Account{
	{ID: 1, Name: "o barato sela", Limit: 100000},
	{ID: 2, Name: "zan corp ltda", Limit: 80000},
	{ID: 3, Name: "les cruders", Limit: 1000000},
	{ID: 4, Name: "padaria joia de cocaia", Limit: 10000000},
	{ID: 5, Name: "kid mais", Limit: 500000},
}
