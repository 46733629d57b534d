package models

import (
	"encoding/json"
	"time"
)

// Transaction kinds as they appear on the wire.
const (
	KindCredit = "c"
	KindDebit  = "d"
)

// Account is one of the five fixed ledger accounts. Balance is stored in whole
// integer currency units and may go negative down to -Limit.
type Account struct {
	ID      int    `json:"id"`
	Name    string `json:"nome"`
	Limit   int64  `json:"limite"`
	Balance int64  `json:"saldo"`
}

// Transaction is one immutable entry of the append-only log. The store assigns
// ID on insert; OccurredAt is the instant the engine accepted the transaction.
type Transaction struct {
	ID          int64     `json:"-"`
	AccountID   int       `json:"-"`
	Amount      int64     `json:"valor"`
	Kind        string    `json:"tipo"`
	Description string    `json:"descricao"`
	OccurredAt  time.Time `json:"realizada_em"`
}

// TransactionRequest is the POST /clientes/{id}/transacoes body. Amount is
// decoded as json.Number so non-integer values can be rejected explicitly.
type TransactionRequest struct {
	Amount      json.Number `json:"valor"`
	Kind        string      `json:"tipo"`
	Description string      `json:"descricao"`
}

// TransactionResult is the successful outcome of applying a transaction.
type TransactionResult struct {
	Limit   int64 `json:"limite"`
	Balance int64 `json:"saldo"`
}

// StatementBalance is the balance section of a statement.
type StatementBalance struct {
	Total int64     `json:"total"`
	AsOf  time.Time `json:"data_extrato"`
	Limit int64     `json:"limite"`
}

// Statement combines the current balance with the most recent transactions,
// newest first.
type Statement struct {
	Balance      StatementBalance `json:"saldo"`
	Transactions []Transaction    `json:"ultimas_transacoes"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
