// Package handler exposes the payout ledger over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"refledger/internal/payout/models"
	"refledger/internal/payout/service"
	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
	"refledger/pkg/pagination"
	"refledger/pkg/platform/httputil"
	"refledger/pkg/requestcontext"
)

// Service defines the payout operations the handler needs.
type Service interface {
	Calculate(ctx context.Context, partnerID domain.PartnerID, periodStart, periodEnd time.Time) (*models.PayoutLedgerEntry, error)
	Approve(ctx context.Context, payoutID domain.PayoutID, providedFingerprint, reason string) (*models.PayoutLedgerEntry, error)
	MarkProcessing(ctx context.Context, payoutID domain.PayoutID) (*models.PayoutLedgerEntry, error)
	MarkPaid(ctx context.Context, payoutID domain.PayoutID, paymentMethod, paymentReference string) (*models.PayoutLedgerEntry, error)
	CreateAdjustment(ctx context.Context, originalID domain.PayoutID, amount float64, reason string) (*models.PayoutLedgerEntry, error)
	GetPayout(ctx context.Context, payoutID domain.PayoutID) (*models.PayoutLedgerEntry, error)
	ListByPartner(ctx context.Context, partnerID domain.PartnerID, page pagination.Page) (pagination.Result[*models.PayoutLedgerEntry], error)
	ListByStatus(ctx context.Context, status models.PayoutStatus, page pagination.Page) (pagination.Result[*models.PayoutLedgerEntry], error)
	History(ctx context.Context, partnerID domain.PartnerID) (*service.History, error)
}

// Handler handles payout endpoints.
type Handler struct {
	payouts Service
	logger  *slog.Logger
}

// New creates a payout Handler.
func New(payouts Service, logger *slog.Logger) *Handler {
	return &Handler{payouts: payouts, logger: logger}
}

// Register mounts payout routes. All of them are administrative.
func (h *Handler) Register(r chi.Router) {
	r.Post("/partners/{partnerID}/payouts/calculate", h.handleCalculate)
	r.Get("/partners/{partnerID}/payouts", h.handleListByPartner)
	r.Get("/partners/{partnerID}/payouts/history", h.handleHistory)
	r.Get("/payouts", h.handleListByStatus)
	r.Get("/payouts/{payoutID}", h.handleGet)
	r.Post("/payouts/{payoutID}/approve", h.handleApprove)
	r.Post("/payouts/{payoutID}/processing", h.handleMarkProcessing)
	r.Post("/payouts/{payoutID}/paid", h.handleMarkPaid)
	r.Post("/payouts/{payoutID}/adjustments", h.handleCreateAdjustment)
}

type calculateRequest struct {
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`

	start time.Time
	end   time.Time
}

func (req *calculateRequest) Validate() error {
	var err error
	if req.start, err = parsePeriod(req.PeriodStart); err != nil {
		return dErrors.New(dErrors.CodeValidation, "period_start must be an RFC 3339 date")
	}
	if req.end, err = parsePeriod(req.PeriodEnd); err != nil {
		return dErrors.New(dErrors.CodeValidation, "period_end must be an RFC 3339 date")
	}
	if req.end.Before(req.start) {
		return dErrors.New(dErrors.CodeValidation, "period end cannot precede period start")
	}
	return nil
}

func parsePeriod(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partnerID, err := domain.ParsePartnerID(chi.URLParam(r, "partnerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[calculateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	entry, err := h.payouts.Calculate(ctx, partnerID, req.start, req.end)
	if err != nil {
		h.logError(ctx, "payout calculation failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

type approveRequest struct {
	SnapshotFingerprint string `json:"snapshot_fingerprint"`
	Reason              string `json:"reason,omitempty"`
}

func (req *approveRequest) Validate() error {
	req.SnapshotFingerprint = strings.TrimSpace(req.SnapshotFingerprint)
	if req.SnapshotFingerprint == "" {
		return dErrors.New(dErrors.CodeValidation, "snapshot_fingerprint is required")
	}
	return nil
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payoutID, err := domain.ParsePayoutID(chi.URLParam(r, "payoutID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[approveRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	entry, err := h.payouts.Approve(ctx, payoutID, req.SnapshotFingerprint, req.Reason)
	if err != nil {
		h.logError(ctx, "payout approval failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleMarkProcessing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payoutID, err := domain.ParsePayoutID(chi.URLParam(r, "payoutID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entry, err := h.payouts.MarkProcessing(ctx, payoutID)
	if err != nil {
		h.logError(ctx, "mark processing failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

type markPaidRequest struct {
	PaymentMethod    string `json:"payment_method"`
	PaymentReference string `json:"payment_reference,omitempty"`
}

func (req *markPaidRequest) Validate() error {
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if req.PaymentMethod == "" {
		return dErrors.New(dErrors.CodeValidation, "payment_method is required")
	}
	return nil
}

func (h *Handler) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payoutID, err := domain.ParsePayoutID(chi.URLParam(r, "payoutID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[markPaidRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	entry, err := h.payouts.MarkPaid(ctx, payoutID, req.PaymentMethod, req.PaymentReference)
	if err != nil {
		h.logError(ctx, "mark paid failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

type adjustmentRequest struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

func (req *adjustmentRequest) Validate() error {
	return models.ValidateAdjustment(req.Amount, req.Reason)
}

func (h *Handler) handleCreateAdjustment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payoutID, err := domain.ParsePayoutID(chi.URLParam(r, "payoutID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[adjustmentRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	entry, err := h.payouts.CreateAdjustment(ctx, payoutID, req.Amount, req.Reason)
	if err != nil {
		h.logError(ctx, "create adjustment failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payoutID, err := domain.ParsePayoutID(chi.URLParam(r, "payoutID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entry, err := h.payouts.GetPayout(ctx, payoutID)
	if err != nil {
		h.logError(ctx, "get payout failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleListByPartner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partnerID, err := domain.ParsePartnerID(chi.URLParam(r, "partnerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.payouts.ListByPartner(ctx, partnerID, pagination.FromQuery(r.URL.Query()))
	if err != nil {
		h.logError(ctx, "list payouts failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListByStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := models.PayoutStatus(r.URL.Query().Get("status"))
	if status == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "status query parameter is required"))
		return
	}

	result, err := h.payouts.ListByStatus(ctx, status, pagination.FromQuery(r.URL.Query()))
	if err != nil {
		h.logError(ctx, "list payouts failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partnerID, err := domain.ParsePartnerID(chi.URLParam(r, "partnerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	history, err := h.payouts.History(ctx, partnerID)
	if err != nil {
		h.logError(ctx, "payout history failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, history)
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
}
