package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/Claudio-code/rinha-de-backend-2024/internal/errors"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/metrics"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/models"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/repository"
)

func newEngine(store repository.LedgerStore) *TransactionServiceImpl {
	return NewTransactionService(store, nil, metrics.New("test"), zap.NewNop())
}

// mustBalance fetches the current balance or fails the test.
func mustBalance(t *testing.T, store repository.LedgerStore, id int) int64 {
	t.Helper()
	acct, err := store.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount(%d) err=%v", id, err)
	}
	return acct.Balance
}

func recordCount(t *testing.T, store repository.LedgerStore, id int) int {
	t.Helper()
	recs, err := store.ListRecentTransactions(context.Background(), id, 1000)
	if err != nil {
		t.Fatalf("ListRecentTransactions(%d) err=%v", id, err)
	}
	return len(recs)
}

func TestApplyValidation(t *testing.T) {
	store := repository.NewMemoryStore(models.Account{ID: 1, Name: "test", Limit: 100})
	svc := newEngine(store)

	cases := []struct {
		name        string
		kind        string
		amount      int64
		description string
	}{
		{"unknown kind", "x", 10, "desc"},
		{"uppercase kind", "C", 10, "desc"},
		{"zero amount", models.KindCredit, 0, "desc"},
		{"negative amount", models.KindDebit, -5, "desc"},
		{"empty description", models.KindCredit, 10, ""},
		{"description too long", models.KindCredit, 10, strings.Repeat("a", 11)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Apply(context.Background(), 1, tc.kind, tc.amount, tc.description)
			if !errors.IsInvalidTransaction(err) {
				t.Fatalf("want ErrInvalidTransaction, got %v", err)
			}
		})
	}

	// Rejected input must never touch storage.
	if n := recordCount(t, store, 1); n != 0 {
		t.Fatalf("records=%d want=0", n)
	}
	if bal := mustBalance(t, store, 1); bal != 0 {
		t.Fatalf("balance=%d want=0", bal)
	}
}

func TestApplyDescriptionBoundary(t *testing.T) {
	store := repository.NewMemoryStore(models.Account{ID: 1, Name: "test", Limit: 100})
	svc := newEngine(store)

	// Length exactly 10 is the accepted maximum.
	if _, err := svc.Apply(context.Background(), 1, models.KindCredit, 10, strings.Repeat("a", 10)); err != nil {
		t.Fatalf("10-char description should be accepted, got %v", err)
	}
	if _, err := svc.Apply(context.Background(), 1, models.KindCredit, 10, strings.Repeat("a", 11)); !errors.IsInvalidTransaction(err) {
		t.Fatalf("11-char description: want ErrInvalidTransaction, got %v", err)
	}
	if n := recordCount(t, store, 1); n != 1 {
		t.Fatalf("records=%d want=1", n)
	}
}

func TestApplyCreditAndDebit(t *testing.T) {
	store := repository.NewMemoryStore(models.Account{ID: 1, Name: "test", Limit: 1000})
	svc := newEngine(store)

	res, err := svc.Apply(context.Background(), 1, models.KindCredit, 100, "salario")
	if err != nil {
		t.Fatal(err)
	}
	if res.Balance != 100 || res.Limit != 1000 {
		t.Fatalf("got=%+v want balance=100 limit=1000", res)
	}

	res, err = svc.Apply(context.Background(), 1, models.KindDebit, 30, "mercado")
	if err != nil {
		t.Fatal(err)
	}
	if res.Balance != 70 {
		t.Fatalf("balance=%d want=70", res.Balance)
	}

	recs, err := store.ListRecentTransactions(context.Background(), 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("records=%d want=2", len(recs))
	}
	// Newest first.
	if recs[0].Kind != models.KindDebit || recs[0].Amount != 30 || recs[0].Description != "mercado" {
		t.Fatalf("newest record=%+v", recs[0])
	}
	if recs[0].OccurredAt.IsZero() {
		t.Fatal("record missing occurred-at timestamp")
	}
}

func TestApplyRejectionBoundary(t *testing.T) {
	store := repository.NewMemoryStore(models.Account{ID: 1, Name: "test", Limit: 100})
	svc := newEngine(store)

	// A debit of limit+1 from zero violates the invariant.
	_, err := svc.Apply(context.Background(), 1, models.KindDebit, 101, "d")
	if !errors.IsInconsistentBalance(err) {
		t.Fatalf("want ErrInconsistentBalance, got %v", err)
	}
	if bal := mustBalance(t, store, 1); bal != 0 {
		t.Fatalf("balance=%d want=0 after rejection", bal)
	}
	if n := recordCount(t, store, 1); n != 0 {
		t.Fatalf("records=%d want=0 after rejection", n)
	}

	// A debit of exactly the limit lands on -limit and is accepted.
	res, err := svc.Apply(context.Background(), 1, models.KindDebit, 100, "d")
	if err != nil {
		t.Fatal(err)
	}
	if res.Balance != -100 {
		t.Fatalf("balance=%d want=-100", res.Balance)
	}
}

func TestApplyUnknownAccount(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newEngine(store)

	_, err := svc.Apply(context.Background(), 99, models.KindCredit, 10, "desc")
	if !errors.IsNotFound(err) {
		t.Fatalf("want ErrAccountNotFound, got %v", err)
	}
}

func TestApplyNoLostUpdates(t *testing.T) {
	store := repository.NewMemoryStore(models.Account{ID: 1, Name: "test", Limit: 0})
	svc := newEngine(store)

	const workers = 50
	const amount = 10

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Apply(context.Background(), 1, models.KindCredit, amount, "c"); err != nil {
				t.Errorf("concurrent credit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if bal := mustBalance(t, store, 1); bal != workers*amount {
		t.Fatalf("balance=%d want=%d", bal, workers*amount)
	}
	if n := recordCount(t, store, 1); n != workers {
		t.Fatalf("records=%d want=%d", n, workers)
	}
}

func TestApplyInvariantUnderConcurrentDebits(t *testing.T) {
	store := repository.NewMemoryStore(models.Account{ID: 1, Name: "test", Limit: 100})
	svc := newEngine(store)

	// From balance 0 with limit 100, exactly 3 debits of 30 can land (-90);
	// every further debit would breach -limit regardless of interleaving.
	const workers = 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Apply(context.Background(), 1, models.KindDebit, 30, "d")
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			if !errors.IsInconsistentBalance(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 3 {
		t.Fatalf("accepted=%d want=3", accepted)
	}
	if bal := mustBalance(t, store, 1); bal != -90 {
		t.Fatalf("balance=%d want=-90", bal)
	}
	if bal := mustBalance(t, store, 1); bal < -100 {
		t.Fatalf("invariant violated: balance=%d below -limit", bal)
	}
	if n := recordCount(t, store, 1); n != 3 {
		t.Fatalf("records=%d want=3", n)
	}
}

// conflictingStore fails ApplyTransaction with ErrConflict a fixed number of
// times before delegating to the wrapped store.
type conflictingStore struct {
	repository.LedgerStore
	mu        sync.Mutex
	conflicts int
}

func (s *conflictingStore) ApplyTransaction(ctx context.Context, id int, fn repository.ApplyFn) (*models.Account, *models.Transaction, error) {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return nil, nil, errors.ErrConflict
	}
	s.mu.Unlock()
	return s.LedgerStore.ApplyTransaction(ctx, id, fn)
}

func TestApplyRetriesOnConflict(t *testing.T) {
	inner := repository.NewMemoryStore(models.Account{ID: 1, Name: "test", Limit: 100})
	store := &conflictingStore{LedgerStore: inner, conflicts: 2}
	svc := newEngine(store)

	res, err := svc.Apply(context.Background(), 1, models.KindCredit, 10, "c")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if res.Balance != 10 {
		t.Fatalf("balance=%d want=10", res.Balance)
	}
}

func TestApplyGivesUpAfterBoundedRetries(t *testing.T) {
	inner := repository.NewMemoryStore(models.Account{ID: 1, Name: "test", Limit: 100})
	store := &conflictingStore{LedgerStore: inner, conflicts: 1000}
	svc := newEngine(store)

	_, err := svc.Apply(context.Background(), 1, models.KindCredit, 10, "c")
	if !errors.IsStoreUnavailable(err) {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
	if n := recordCount(t, inner, 1); n != 0 {
		t.Fatalf("records=%d want=0", n)
	}
}
