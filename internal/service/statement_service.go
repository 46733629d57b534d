package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Claudio-code/rinha-de-backend-2024/internal/cache"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/errors"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/metrics"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/models"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/repository"
)

// StatementService produces the combined balance + recent history view.
type StatementService interface {
	BuildStatement(ctx context.Context, accountID int) (*models.Statement, error)
}

// statementTransactionCount is the fixed "most recent N" bound of the view.
const statementTransactionCount = 10

type StatementServiceImpl struct {
	store   repository.LedgerStore
	cache   *cache.StatementCache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewStatementService(store repository.LedgerStore, statementCache *cache.StatementCache, m *metrics.Metrics, logger *zap.Logger) *StatementServiceImpl {
	return &StatementServiceImpl{
		store:   store,
		cache:   statementCache,
		metrics: m,
		logger:  logger,
	}
}

// BuildStatement serves a cached statement when one is fresh, otherwise reads
// balance and recent transactions from the store concurrently. Staleness of
// the cached path is bounded by the cache TTL plus invalidation on every
// accepted transaction.
func (s *StatementServiceImpl) BuildStatement(ctx context.Context, accountID int) (*models.Statement, error) {
	if st, ok := s.cache.Get(ctx, accountID); ok {
		s.metrics.ObserveStatement("cache")
		return st, nil
	}

	var (
		acct   *models.Account
		recent []models.Transaction
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		acct, err = s.store.GetAccount(gctx, accountID)
		return err
	})
	g.Go(func() error {
		var err error
		recent, err = s.store.ListRecentTransactions(gctx, accountID, statementTransactionCount)
		return err
	})

	if err := g.Wait(); err != nil {
		if errors.IsNotFound(err) {
			s.logger.Warn("statement for unknown account",
				zap.Int("account_id", accountID),
			)
			return nil, err
		}
		s.logger.Error("failed to build statement",
			zap.Int("account_id", accountID),
			zap.Error(err),
		)
		return nil, err
	}

	if recent == nil {
		recent = []models.Transaction{}
	}

	st := &models.Statement{
		Balance: models.StatementBalance{
			Total: acct.Balance,
			AsOf:  time.Now().UTC(),
			Limit: acct.Limit,
		},
		Transactions: recent,
	}

	s.cache.Set(ctx, accountID, st)
	s.metrics.ObserveStatement("store")
	return st, nil
}
