// Package api exposes the engine's operations over HTTP for admin panels.
// Panels are thin consumers: they read settlement records and invoke the
// batch/status/tranche operations, and contain no business rules.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmcallister/fareledger/internal/payout"
	"github.com/jmcallister/fareledger/internal/service"
	"github.com/jmcallister/fareledger/internal/settle"
)

// NewRouter creates the chi router with all API routes mounted.
func NewRouter(
	store service.Storage,
	aggregator *settle.Aggregator,
	machine *payout.Machine,
	processor *payout.Processor,
	scheduler *payout.Scheduler,
) http.Handler {
	h := &Handlers{
		store:      store,
		aggregator: aggregator,
		machine:    machine,
		processor:  processor,
		scheduler:  scheduler,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Route("/api/v1", func(r chi.Router) {
		// Transaction feed.
		r.Post("/transactions", h.IngestTransactions)

		// Settlements.
		r.Get("/settlements", h.ListSettlements)
		r.Get("/settlements/{id}", h.GetSettlement)
		r.Post("/settlements/aggregate", h.AggregateSettlement)
		r.Post("/settlements/{id}/status", h.UpdateStatus)
		r.Post("/settlements/{id}/tranches", h.ScheduleTranches)
		r.Get("/settlements/{id}/tranches", h.ListTranches)

		// Payouts.
		r.Post("/payouts/batch", h.ProcessBatch)

		// Tranches.
		r.Post("/tranches/run", h.RunDueTranches)
		r.Post("/tranches/{settlementID}/{index}/cancel", h.CancelTranche)
	})

	return r
}
