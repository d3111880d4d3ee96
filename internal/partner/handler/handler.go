// Package handler exposes partner and cafe administration over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"refledger/internal/partner/models"
	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
	"refledger/pkg/pagination"
	"refledger/pkg/platform/httputil"
	"refledger/pkg/requestcontext"
)

// Service defines the partner operations the handler needs.
type Service interface {
	CreatePartner(ctx context.Context, name, businessNumber, contactEmail string) (*models.Partner, error)
	GetPartner(ctx context.Context, partnerID domain.PartnerID) (*models.Partner, error)
	ListPartners(ctx context.Context, page pagination.Page) (pagination.Result[*models.Partner], error)
	UpdatePartnerStatus(ctx context.Context, partnerID domain.PartnerID, next models.PartnerStatus) (*models.Partner, error)
	CreateCafe(ctx context.Context, partnerID domain.PartnerID, name string, rate float64) (*models.Cafe, error)
	GetCafe(ctx context.Context, cafeID domain.CafeID) (*models.Cafe, error)
	ListCafes(ctx context.Context, partnerID domain.PartnerID, page pagination.Page) (pagination.Result[*models.Cafe], error)
	UpdateCafe(ctx context.Context, cafeID domain.CafeID, rate *float64, status *models.CafeStatus) (*models.Cafe, error)
}

// Handler handles partner administration endpoints.
type Handler struct {
	partners Service
	logger   *slog.Logger
}

// New creates a partner Handler.
func New(partners Service, logger *slog.Logger) *Handler {
	return &Handler{partners: partners, logger: logger}
}

// Register mounts partner routes on the given router. Admin authentication
// is applied by the caller; these routes assume an actor in context.
func (h *Handler) Register(r chi.Router) {
	r.Post("/partners", h.handleCreatePartner)
	r.Get("/partners", h.handleListPartners)
	r.Get("/partners/{partnerID}", h.handleGetPartner)
	r.Patch("/partners/{partnerID}/status", h.handleUpdatePartnerStatus)

	r.Post("/partners/{partnerID}/cafes", h.handleCreateCafe)
	r.Get("/partners/{partnerID}/cafes", h.handleListCafes)
	r.Get("/cafes/{cafeID}", h.handleGetCafe)
	r.Patch("/cafes/{cafeID}", h.handleUpdateCafe)
}

type createPartnerRequest struct {
	Name           string `json:"name"`
	BusinessNumber string `json:"business_number"`
	ContactEmail   string `json:"contact_email"`
}

func (req *createPartnerRequest) Validate() error {
	req.Name = strings.TrimSpace(req.Name)
	req.BusinessNumber = strings.TrimSpace(req.BusinessNumber)
	req.ContactEmail = strings.TrimSpace(req.ContactEmail)
	if req.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if req.BusinessNumber == "" {
		return dErrors.New(dErrors.CodeValidation, "business_number is required")
	}
	return nil
}

func (h *Handler) handleCreatePartner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[createPartnerRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	partner, err := h.partners.CreatePartner(ctx, req.Name, req.BusinessNumber, req.ContactEmail)
	if err != nil {
		h.logError(ctx, "create partner failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, partner)
}

func (h *Handler) handleListPartners(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page := pagination.FromQuery(r.URL.Query())

	result, err := h.partners.ListPartners(ctx, page)
	if err != nil {
		h.logError(ctx, "list partners failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetPartner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partnerID, err := domain.ParsePartnerID(chi.URLParam(r, "partnerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	partner, err := h.partners.GetPartner(ctx, partnerID)
	if err != nil {
		h.logError(ctx, "get partner failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, partner)
}

type updatePartnerStatusRequest struct {
	Status models.PartnerStatus `json:"status"`
}

func (req *updatePartnerStatusRequest) Validate() error {
	switch req.Status {
	case models.PartnerStatusActive, models.PartnerStatusInactive, models.PartnerStatusSuspended:
		return nil
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown partner status %q", req.Status)
	}
}

func (h *Handler) handleUpdatePartnerStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partnerID, err := domain.ParsePartnerID(chi.URLParam(r, "partnerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[updatePartnerStatusRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	partner, err := h.partners.UpdatePartnerStatus(ctx, partnerID, req.Status)
	if err != nil {
		h.logError(ctx, "update partner status failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, partner)
}

type createCafeRequest struct {
	Name           string  `json:"name"`
	CommissionRate float64 `json:"commission_rate"`
}

func (req *createCafeRequest) Validate() error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	return models.ValidateRate(req.CommissionRate)
}

func (h *Handler) handleCreateCafe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partnerID, err := domain.ParsePartnerID(chi.URLParam(r, "partnerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[createCafeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	cafe, err := h.partners.CreateCafe(ctx, partnerID, req.Name, req.CommissionRate)
	if err != nil {
		h.logError(ctx, "create cafe failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, cafe)
}

func (h *Handler) handleListCafes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partnerID, err := domain.ParsePartnerID(chi.URLParam(r, "partnerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.partners.ListCafes(ctx, partnerID, pagination.FromQuery(r.URL.Query()))
	if err != nil {
		h.logError(ctx, "list cafes failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetCafe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cafeID, err := domain.ParseCafeID(chi.URLParam(r, "cafeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	cafe, err := h.partners.GetCafe(ctx, cafeID)
	if err != nil {
		h.logError(ctx, "get cafe failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cafe)
}

type updateCafeRequest struct {
	CommissionRate *float64           `json:"commission_rate,omitempty"`
	Status         *models.CafeStatus `json:"status,omitempty"`
}

func (req *updateCafeRequest) Validate() error {
	if req.CommissionRate == nil && req.Status == nil {
		return dErrors.New(dErrors.CodeValidation, "at least one of commission_rate or status is required")
	}
	if req.CommissionRate != nil {
		if err := models.ValidateRate(*req.CommissionRate); err != nil {
			return err
		}
	}
	if req.Status != nil {
		switch *req.Status {
		case models.CafeStatusActive, models.CafeStatusInactive:
		default:
			return dErrors.Newf(dErrors.CodeValidation, "unknown cafe status %q", *req.Status)
		}
	}
	return nil
}

func (h *Handler) handleUpdateCafe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cafeID, err := domain.ParseCafeID(chi.URLParam(r, "cafeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[updateCafeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	cafe, err := h.partners.UpdateCafe(ctx, cafeID, req.CommissionRate, req.Status)
	if err != nil {
		h.logError(ctx, "update cafe failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cafe)
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
}
