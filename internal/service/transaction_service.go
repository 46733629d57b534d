package service

import (
	"context"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Claudio-code/rinha-de-backend-2024/internal/cache"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/errors"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/metrics"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/models"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/repository"
)

// TransactionService is the sole authority for mutating balances.
type TransactionService interface {
	Apply(ctx context.Context, accountID int, kind string, amount int64, description string) (*models.TransactionResult, error)
}

const (
	// maxApplyAttempts bounds retries of the atomic unit on store conflicts.
	maxApplyAttempts = 3
	conflictBackoff  = 10 * time.Millisecond

	minDescriptionLen = 1
	maxDescriptionLen = 10
)

type TransactionServiceImpl struct {
	store   repository.LedgerStore
	cache   *cache.StatementCache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewTransactionService(store repository.LedgerStore, statementCache *cache.StatementCache, m *metrics.Metrics, logger *zap.Logger) *TransactionServiceImpl {
	return &TransactionServiceImpl{
		store:   store,
		cache:   statementCache,
		metrics: m,
		logger:  logger,
	}
}

// Apply validates the transaction, enforces the overdraft invariant and
// commits the balance mutation plus the log record as one atomic unit.
//
// Rejections (invalid input, unknown account, inconsistent balance) are
// terminal and leave no trace in storage. Only store conflicts are retried,
// bounded by maxApplyAttempts, before giving up as store-unavailable.
func (s *TransactionServiceImpl) Apply(ctx context.Context, accountID int, kind string, amount int64, description string) (*models.TransactionResult, error) {
	start := time.Now()

	if err := validateTransaction(kind, amount, description); err != nil {
		s.logger.Warn("invalid transaction",
			zap.Int("account_id", accountID),
			zap.Error(err),
		)
		s.metrics.ObserveTransaction(kind, metrics.OutcomeInvalid, time.Since(start))
		return nil, err
	}

	// The acceptance instant: recorded even if the commit lands later.
	occurredAt := time.Now().UTC()

	apply := func(acct *models.Account) (int64, *models.Transaction, error) {
		candidate := acct.Balance
		if kind == models.KindCredit {
			candidate += amount
		} else {
			candidate -= amount
		}
		if candidate < -acct.Limit {
			return 0, nil, errors.ErrInconsistentBalance
		}
		rec := &models.Transaction{
			AccountID:   accountID,
			Amount:      amount,
			Kind:        kind,
			Description: description,
			OccurredAt:  occurredAt,
		}
		return candidate, rec, nil
	}

	var acct *models.Account
	var err error
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		acct, _, err = s.store.ApplyTransaction(ctx, accountID, apply)
		if !errors.IsConflict(err) {
			break
		}
		s.logger.Warn("store conflict applying transaction, retrying",
			zap.Int("account_id", accountID),
			zap.Int("attempt", attempt),
		)
		s.metrics.ObserveConflictRetry()
		select {
		case <-ctx.Done():
			err = errors.NewStoreError("apply", ctx.Err())
		case <-time.After(conflictBackoff):
			continue
		}
		break
	}

	if errors.IsConflict(err) {
		err = errors.NewStoreError("apply", err)
	}
	if err != nil {
		outcome := classifyOutcome(err)
		switch outcome {
		case metrics.OutcomeInconsistent:
			s.logger.Warn("transaction rejected: would exceed overdraft limit",
				zap.Int("account_id", accountID),
				zap.String("tipo", kind),
				zap.Int64("valor", amount),
			)
		case metrics.OutcomeNotFound:
			s.logger.Warn("transaction on unknown account",
				zap.Int("account_id", accountID),
			)
		default:
			s.logger.Error("failed to apply transaction",
				zap.Int("account_id", accountID),
				zap.Error(err),
			)
		}
		s.metrics.ObserveTransaction(kind, outcome, time.Since(start))
		return nil, err
	}

	// Drop the cached statement so the next read sees this transaction.
	s.cache.Invalidate(ctx, accountID)

	s.logger.Info("transaction applied",
		zap.Int("account_id", accountID),
		zap.String("tipo", kind),
		zap.Int64("valor", amount),
		zap.Int64("saldo", acct.Balance),
	)
	s.metrics.ObserveTransaction(kind, metrics.OutcomeAccepted, time.Since(start))

	return &models.TransactionResult{
		Limit:   acct.Limit,
		Balance: acct.Balance,
	}, nil
}

// validateTransaction checks the structural rules before any storage access.
func validateTransaction(kind string, amount int64, description string) error {
	if kind != models.KindCredit && kind != models.KindDebit {
		return errors.NewValidationError("tipo", `must be "c" or "d"`)
	}
	if amount <= 0 {
		return errors.NewValidationError("valor", "must be a positive integer")
	}
	if n := utf8.RuneCountInString(description); n < minDescriptionLen || n > maxDescriptionLen {
		return errors.NewValidationError("descricao", "must be 1 to 10 characters")
	}
	return nil
}

func classifyOutcome(err error) string {
	switch {
	case errors.IsInconsistentBalance(err):
		return metrics.OutcomeInconsistent
	case errors.IsNotFound(err):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeUnavailable
	}
}
