package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dvloznov/bizledger/internal/api/middleware"
	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/dvloznov/bizledger/internal/reconcile"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Reconciler is implemented by reconcile.Service.
type Reconciler interface {
	Link(ctx context.Context, req domain.LinkRequest) (*domain.PaymentResult, error)
	UpdateAmount(ctx context.Context, paymentID string, amount decimal.Decimal) (*domain.PaymentResult, error)
	Unlink(ctx context.Context, paymentID string) (*domain.Transaction, error)
	Recompute(ctx context.Context, transactionID string) (*domain.Transaction, error)
	Transaction(ctx context.Context, id string) (*reconcile.TransactionDetail, error)
}

// ReconciliationHandler handles payments and the transactions they settle.
type ReconciliationHandler struct {
	svc Reconciler
	log zerolog.Logger
}

// NewReconciliationHandler creates a new reconciliation handler.
func NewReconciliationHandler(svc Reconciler, log zerolog.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{svc: svc, log: log}
}

// LinkPayment handles POST /api/payments
func (h *ReconciliationHandler) LinkPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.svc.Link(r.Context(), req)
	if err != nil {
		writeErr(w, h.log, err, "Failed to link payment")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, res)
}

// UpdatePayment handles PATCH /api/payments/{id}
func (h *ReconciliationHandler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount *decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Amount == nil {
		middleware.WriteError(w, http.StatusBadRequest, "amount is required")
		return
	}

	res, err := h.svc.UpdateAmount(r.Context(), mux.Vars(r)["id"], *req.Amount)
	if err != nil {
		writeErr(w, h.log, err, "Failed to update payment")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// UnlinkPayment handles DELETE /api/payments/{id}
func (h *ReconciliationHandler) UnlinkPayment(w http.ResponseWriter, r *http.Request) {
	txn, err := h.svc.Unlink(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, h.log, err, "Failed to unlink payment")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"transaction": txn})
}

// GetTransaction handles GET /api/transactions/{id}
func (h *ReconciliationHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.Transaction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, h.log, err, "Failed to get transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, detail)
}

// RecomputeTransaction handles POST /api/transactions/{id}/recompute
func (h *ReconciliationHandler) RecomputeTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.svc.Recompute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, h.log, err, "Failed to recompute transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"transaction": txn})
}
