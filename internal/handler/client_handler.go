package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Claudio-code/rinha-de-backend-2024/internal/errors"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/models"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/service"
	u "github.com/Claudio-code/rinha-de-backend-2024/internal/utils"
)

// ClientHandler is the HTTP gateway over the transaction engine and the
// statement builder. It owns shape validation and the error→status mapping;
// business rules live in the services.
type ClientHandler struct {
	transactions service.TransactionService
	statements   service.StatementService
	logger       *zap.Logger
}

func NewClientHandler(transactions service.TransactionService, statements service.StatementService, logger *zap.Logger) *ClientHandler {
	return &ClientHandler{
		transactions: transactions,
		statements:   statements,
		logger:       logger,
	}
}

func (h *ClientHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/clientes/{id}/transacoes", h.CreateTransaction).Methods(http.MethodPost)
	router.HandleFunc("/clientes/{id}/extrato", h.GetStatement).Methods(http.MethodGet)
}

func (h *ClientHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDFromPath(r)
	if !ok {
		u.WriteError(w, http.StatusNotFound, "account not found", "")
		return
	}

	var req models.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("malformed transaction request", zap.Error(err))
		u.WriteError(w, http.StatusUnprocessableEntity, "invalid request payload", err.Error())
		return
	}

	// Amounts are whole integer units: "1.2" must be rejected, not truncated.
	amount, err := req.Amount.Int64()
	if err != nil {
		u.WriteError(w, http.StatusUnprocessableEntity, "invalid amount", "valor must be a positive integer")
		return
	}

	result, err := h.transactions.Apply(r.Context(), accountID, req.Kind, amount, req.Description)
	if err != nil {
		h.handleServiceError(w, err, "create transaction")
		return
	}

	u.WriteJSON(w, http.StatusOK, result)
}

func (h *ClientHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDFromPath(r)
	if !ok {
		u.WriteError(w, http.StatusNotFound, "account not found", "")
		return
	}

	statement, err := h.statements.BuildStatement(r.Context(), accountID)
	if err != nil {
		h.handleServiceError(w, err, "build statement")
		return
	}

	u.WriteJSON(w, http.StatusOK, statement)
}

// accountIDFromPath parses the {id} path variable. Non-numeric ids are treated
// the same as ids outside the known set: the account does not exist.
func accountIDFromPath(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		return 0, false
	}
	return id, true
}

func (h *ClientHandler) handleServiceError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.IsNotFound(err):
		u.WriteError(w, http.StatusNotFound, "account not found", "")
	case errors.IsInvalidTransaction(err):
		u.WriteError(w, http.StatusUnprocessableEntity, "invalid transaction", err.Error())
	case errors.IsInconsistentBalance(err):
		u.WriteError(w, http.StatusUnprocessableEntity, "inconsistent balance", "transaction would exceed the overdraft limit")
	case errors.IsStoreUnavailable(err):
		u.WriteError(w, http.StatusServiceUnavailable, "ledger unavailable", "try again later")
	default:
		h.logger.Error("internal server error during "+operation, zap.Error(err))
		u.WriteError(w, http.StatusInternalServerError, "internal server error", "")
	}
}
