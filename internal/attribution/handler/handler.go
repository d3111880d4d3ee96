// Package handler exposes the attribution engine over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"refledger/internal/attribution/models"
	"refledger/internal/attribution/service"
	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
	"refledger/pkg/platform/httputil"
	"refledger/pkg/requestcontext"
)

// Service defines the attribution operations the handler needs.
type Service interface {
	Attribute(ctx context.Context, userID string, linkID domain.LinkID, amount float64, metadata map[string]string) (*models.Conversion, error)
	FindFallbackAttribution(ctx context.Context, withinDays int) (*models.Conversion, error)
	GetConversion(ctx context.Context, id domain.ConversionID) (*models.Conversion, error)
	GetAttribution(ctx context.Context, userID string) (*models.Conversion, error)
}

// Handler handles attribution endpoints.
type Handler struct {
	attribution Service
	logger      *slog.Logger
}

// New creates an attribution Handler.
func New(attribution Service, logger *slog.Logger) *Handler {
	return &Handler{attribution: attribution, logger: logger}
}

// Register mounts attribution routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/attributions", h.handleAttribute)
	r.Get("/attributions/fallback", h.handleFallback)
	r.Get("/attributions/users/{userID}", h.handleGetByUser)
	r.Get("/conversions/{conversionID}", h.handleGetConversion)
}

type attributeRequest struct {
	UserID   string            `json:"user_id"`
	LinkID   string            `json:"link_id"`
	Amount   float64           `json:"amount"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (req *attributeRequest) Validate() error {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	if strings.TrimSpace(req.LinkID) == "" {
		return dErrors.New(dErrors.CodeValidation, "link_id is required")
	}
	if req.Amount < 0 {
		return dErrors.New(dErrors.CodeValidation, "amount cannot be negative")
	}
	return nil
}

func (h *Handler) handleAttribute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[attributeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	linkID, err := domain.ParseLinkID(req.LinkID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	conversion, err := h.attribution.Attribute(ctx, req.UserID, linkID, req.Amount, req.Metadata)
	if err != nil {
		if existing, ok := service.ExistingAttribution(err); ok {
			httputil.WriteJSON(w, http.StatusConflict, map[string]any{
				"error":                string(dErrors.CodeConflict),
				"error_description":    dErrors.MessageOf(err),
				"existing_attribution": existing,
			})
			return
		}
		h.logError(ctx, "attribute failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, conversion)
}

func (h *Handler) handleFallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	withinDays := 0
	if raw := r.URL.Query().Get("within_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "within_days must be a positive integer"))
			return
		}
		withinDays = n
	}

	conversion, err := h.attribution.FindFallbackAttribution(ctx, withinDays)
	if err != nil {
		h.logError(ctx, "fallback attribution failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, conversion)
}

func (h *Handler) handleGetByUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	conversion, err := h.attribution.GetAttribution(ctx, userID)
	if err != nil {
		h.logError(ctx, "get attribution failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, conversion)
}

func (h *Handler) handleGetConversion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversionID, err := domain.ParseConversionID(chi.URLParam(r, "conversionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	conversion, err := h.attribution.GetConversion(ctx, conversionID)
	if err != nil {
		h.logError(ctx, "get conversion failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, conversion)
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
}
