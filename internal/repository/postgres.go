package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/Claudio-code/rinha-de-backend-2024/internal/errors"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/models"
)

// PostgresStore implements LedgerStore on PostgreSQL. The atomic unit is a
// READ COMMITTED transaction holding a SELECT ... FOR UPDATE row lock on the
// account, so writers on the same account serialize while other accounts
// proceed in parallel.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InitSchema creates the ledger tables and seeds the fixed accounts. It is
// idempotent and safe to run on every startup.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS clientes (
			id INTEGER PRIMARY KEY,
			nome TEXT NOT NULL,
			limite BIGINT NOT NULL,
			saldo BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS transacoes (
			id BIGSERIAL PRIMARY KEY,
			cliente_id INTEGER NOT NULL REFERENCES clientes (id),
			valor BIGINT NOT NULL,
			tipo CHAR(1) NOT NULL,
			descricao VARCHAR(10) NOT NULL,
			realizada_em TIMESTAMP WITH TIME ZONE NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transacoes_cliente_recente
			ON transacoes (cliente_id, realizada_em DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}

	for _, acct := range SeedAccounts {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO clientes (id, nome, limite, saldo) VALUES ($1, $2, $3, 0)
			ON CONFLICT (id) DO NOTHING`,
			acct.ID, acct.Name, acct.Limit,
		)
		if err != nil {
			return fmt.Errorf("failed to seed account %d: %w", acct.ID, err)
		}
	}

	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id int) (*models.Account, error) {
	query := `SELECT id, nome, limite, saldo FROM clientes WHERE id = $1`

	acct := &models.Account{}
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&acct.ID, &acct.Name, &acct.Limit, &acct.Balance)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		return nil, classifyStoreError("get account", err)
	}
	return acct, nil
}

func (s *PostgresStore) ListRecentTransactions(ctx context.Context, id, limit int) ([]models.Transaction, error) {
	query := `SELECT id, cliente_id, valor, tipo, descricao, realizada_em
		FROM transacoes
		WHERE cliente_id = $1
		ORDER BY realizada_em DESC, id DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, id, limit)
	if err != nil {
		return nil, classifyStoreError("list recent transactions", err)
	}
	defer rows.Close()

	transactions := make([]models.Transaction, 0, limit)
	for rows.Next() {
		var t models.Transaction
		err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Kind, &t.Description, &t.OccurredAt)
		if err != nil {
			return nil, classifyStoreError("scan transaction", err)
		}
		transactions = append(transactions, t)
	}
	if err = rows.Err(); err != nil {
		return nil, classifyStoreError("iterate transactions", err)
	}
	return transactions, nil
}

func (s *PostgresStore) ApplyTransaction(ctx context.Context, id int, fn ApplyFn) (*models.Account, *models.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, nil, classifyStoreError("begin", err)
	}

	// Ensure rollback on error
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	acct := &models.Account{}
	err = tx.QueryRowContext(ctx,
		`SELECT id, nome, limite, saldo FROM clientes WHERE id = $1 FOR UPDATE`, id).
		Scan(&acct.ID, &acct.Name, &acct.Limit, &acct.Balance)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, errors.ErrAccountNotFound
		}
		return nil, nil, classifyStoreError("lock account", err)
	}

	newBalance, rec, err := fn(acct)
	if err != nil {
		// Business rejection: rolled back by the deferred Rollback, nothing persisted.
		return nil, nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE clientes SET saldo = $1 WHERE id = $2`, newBalance, id); err != nil {
		return nil, nil, classifyStoreError("update balance", err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO transacoes (cliente_id, valor, tipo, descricao, realizada_em)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		rec.AccountID, rec.Amount, rec.Kind, rec.Description, rec.OccurredAt,
	).Scan(&rec.ID)
	if err != nil {
		return nil, nil, classifyStoreError("append transaction", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, classifyStoreError("commit", err)
	}

	// Nullify tx to avoid rollback in defer
	tx = nil

	acct.Balance = newBalance
	return acct, rec, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classifyStoreError("ping", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// classifyStoreError maps serialization failures and deadlocks to ErrConflict
// so the engine can retry the atomic unit; everything else is reported as a
// store availability problem.
func classifyStoreError(op string, err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "40001", "40P01":
			return errors.ErrConflict
		}
	}
	return errors.NewStoreError(op, err)
}
