package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/payout"
	"github.com/jmcallister/fareledger/internal/service"
	"github.com/jmcallister/fareledger/internal/settle"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	store      service.Storage
	aggregator *settle.Aggregator
	machine    *payout.Machine
	processor  *payout.Processor
	scheduler  *payout.Scheduler
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errStatus maps engine errors onto HTTP statuses.
func errStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrStaleStatus),
		errors.Is(err, common.ErrDuplicatePeriod),
		errors.Is(err, common.ErrSettlementFrozen),
		errors.Is(err, common.ErrNotPending),
		errors.Is(err, common.ErrTrancheNotCancellable):
		return http.StatusConflict
	case errors.Is(err, common.ErrNegativeNetPayout),
		errors.Is(err, common.ErrUnresolvedRate),
		errors.Is(err, common.ErrInvalidTransition),
		errors.Is(err, common.ErrInvalidRevenueLine):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

// --- transaction feed ---

type ingestRequest struct {
	Transactions []model.RevenueTransaction `json:"transactions"`
}

// IngestTransactions lands revenue transactions from the booking feed.
// Delivery is at-least-once; re-posting a transaction is a no-op.
func (h *Handlers) IngestTransactions(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Transactions) == 0 {
		writeError(w, http.StatusBadRequest, "transactions is required")
		return
	}

	if err := h.store.SaveRevenueTransactions(r.Context(), req.Transactions); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"ingested": len(req.Transactions)})
}

// --- settlements ---

// ListSettlements returns settlements matching query filters. Amounts are
// integer minor currency units, as everywhere on this API.
func (h *Handlers) ListSettlements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), 50)
	page := parseIntDefault(q.Get("page"), 1)
	filter := service.SettlementFilter{
		ProviderID: q.Get("provider"),
		Status:     model.PaymentStatus(q.Get("status")),
		From:       parseTime(q.Get("from")),
		To:         parseTime(q.Get("to")),
		Limit:      limit,
		Offset:     (page - 1) * limit,
	}

	settlements, err := h.store.ListSettlements(r.Context(), filter)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"settlements": settlements,
		"page":        page,
		"limit":       limit,
	})
}

func (h *Handlers) GetSettlement(w http.ResponseWriter, r *http.Request) {
	settlement, err := h.store.GetSettlement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

type aggregateRequest struct {
	ProviderID  string    `json:"provider_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Bonuses     struct {
		Completion model.Money `json:"completion"`
		Rating     model.Money `json:"rating"`
		Volume     model.Money `json:"volume"`
		Referral   model.Money `json:"referral"`
	} `json:"bonuses"`
}

// AggregateSettlement closes a provider's period from the persisted
// revenue feed. Idempotent: re-posting an aggregated period returns the
// existing settlement.
func (h *Handlers) AggregateSettlement(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "provider_id is required")
		return
	}

	settlement, err := h.aggregator.AggregateFromStore(r.Context(),
		req.ProviderID, req.PeriodStart, req.PeriodEnd,
		model.BonusBreakdown{
			Completion: req.Bonuses.Completion,
			Rating:     req.Bonuses.Rating,
			Volume:     req.Bonuses.Volume,
			Referral:   req.Bonuses.Referral,
		})
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

type statusRequest struct {
	Expected          model.PaymentStatus `json:"expected"`
	Next              model.PaymentStatus `json:"next"`
	ExternalReference string              `json:"external_reference,omitempty"`
	FailureReason     string              `json:"failure_reason,omitempty"`
}

// UpdateStatus applies one guarded transition. The caller must present the
// status it believes is current; a concurrent transition wins and this
// request gets 409.
func (h *Handlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	err := h.machine.Transition(r.Context(), id, req.Expected, req.Next, service.StatusMetadata{
		ExternalReference: req.ExternalReference,
		FailureReason:     req.FailureReason,
	})
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	settlement, err := h.store.GetSettlement(r.Context(), id)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

// --- payouts ---

type batchRequest struct {
	SettlementIDs []string            `json:"settlement_ids"`
	Method        model.PaymentMethod `json:"method"`
}

// ProcessBatch pays each selected settlement independently and returns the
// partitioned outcome; a failed item never aborts the rest.
func (h *Handlers) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.SettlementIDs) == 0 {
		writeError(w, http.StatusBadRequest, "settlement_ids is required")
		return
	}
	if req.Method == "" {
		req.Method = model.MethodBankTransfer
	}

	result, err := h.processor.ProcessBatch(r.Context(), req.SettlementIDs, req.Method, nil)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- tranches ---

type scheduleRequest struct {
	CompletionTime time.Time `json:"completion_time"`
}

func (h *Handlers) ScheduleTranches(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.CompletionTime.IsZero() {
		req.CompletionTime = time.Now().UTC()
	}

	settlement, err := h.store.GetSettlement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	tranches, err := h.scheduler.Schedule(r.Context(), settlement, req.CompletionTime)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tranches": tranches})
}

func (h *Handlers) ListTranches(w http.ResponseWriter, r *http.Request) {
	tranches, err := h.store.ListTranchesBySettlement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tranches": tranches})
}

type runTranchesRequest struct {
	Now    time.Time           `json:"now,omitempty"`
	Method model.PaymentMethod `json:"method,omitempty"`
}

func (h *Handlers) RunDueTranches(w http.ResponseWriter, r *http.Request) {
	var req runTranchesRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if req.Now.IsZero() {
		req.Now = time.Now().UTC()
	}
	if req.Method == "" {
		req.Method = model.MethodBankTransfer
	}

	result, err := h.scheduler.ExecuteDueTranches(r.Context(), req.Now, req.Method)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) CancelTranche(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "tranche index must be an integer")
		return
	}

	settlementID := chi.URLParam(r, "settlementID")
	if err := h.scheduler.CancelTranche(r.Context(), settlementID, index, req.Reason); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	tranche, err := h.store.GetTranche(r.Context(), settlementID, index)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tranche)
}
