// Package api wires the HTTP handlers into a router.
package api

import (
	"net/http"

	"github.com/dvloznov/bizledger/internal/api/handlers"
	"github.com/dvloznov/bizledger/internal/api/middleware"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Handlers groups everything the router serves. Runs may have a nil lister
// and DB may be nil.
type Handlers struct {
	Statements     *handlers.StatementsHandler
	Reconciliation *handlers.ReconciliationHandler
	Jobs           *handlers.JobsHandler
	Runs           *handlers.RunsHandler
	DB             handlers.Pinger
}

// NewRouter registers every route and applies the middleware chain.
func NewRouter(h Handlers, log zerolog.Logger) http.Handler {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/bank-statements/upload", h.Statements.Upload).Methods(http.MethodPost)
	api.HandleFunc("/businesses/{businessId}/bank-records", h.Statements.ListBankRecords).Methods(http.MethodGet)

	api.HandleFunc("/payments", h.Reconciliation.LinkPayment).Methods(http.MethodPost)
	api.HandleFunc("/payments/{id}", h.Reconciliation.UpdatePayment).Methods(http.MethodPatch)
	api.HandleFunc("/payments/{id}", h.Reconciliation.UnlinkPayment).Methods(http.MethodDelete)
	api.HandleFunc("/transactions/{id}", h.Reconciliation.GetTransaction).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}/recompute", h.Reconciliation.RecomputeTransaction).Methods(http.MethodPost)

	api.HandleFunc("/businesses/{businessId}/auto-reconcile", h.Jobs.EnqueueAutoReconcile).Methods(http.MethodPost)
	api.HandleFunc("/jobs", h.Jobs.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", h.Jobs.GetJob).Methods(http.MethodGet)

	api.HandleFunc("/businesses/{businessId}/ingestion-runs", h.Runs.ListRuns).Methods(http.MethodGet)

	r.HandleFunc("/health", handlers.Health(h.DB)).Methods(http.MethodGet)

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(r),
			),
		),
	)
}
