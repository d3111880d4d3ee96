// Package handler exposes the link registry over HTTP: admin link
// management plus the public redirect endpoint that records clicks.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"refledger/internal/link/models"
	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
	"refledger/pkg/pagination"
	"refledger/pkg/platform/httputil"
	"refledger/pkg/requestcontext"
)

// Service defines the link operations the handler needs.
type Service interface {
	CreateLink(ctx context.Context, cafeID domain.CafeID, targetURL string, utm models.UTM, ttlDays int) (*models.Link, error)
	GetLink(ctx context.Context, linkID domain.LinkID) (*models.Link, error)
	ListLinks(ctx context.Context, cafeID domain.CafeID, page pagination.Page) (pagination.Result[*models.Link], error)
	RevokeLink(ctx context.Context, linkID domain.LinkID) (*models.Link, error)
	RecordClick(ctx context.Context, shortCode string) (*models.ClickResult, error)
}

// Handler handles link endpoints.
type Handler struct {
	links  Service
	logger *slog.Logger
}

// New creates a link Handler.
func New(links Service, logger *slog.Logger) *Handler {
	return &Handler{links: links, logger: logger}
}

// RegisterAdmin mounts the management routes. The caller wraps them with
// admin authentication.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/cafes/{cafeID}/links", h.handleCreateLink)
	r.Get("/cafes/{cafeID}/links", h.handleListLinks)
	r.Get("/links/{linkID}", h.handleGetLink)
	r.Post("/links/{linkID}/revoke", h.handleRevokeLink)
}

// RegisterPublic mounts the unauthenticated redirect route.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/r/{shortCode}", h.handleRedirect)
}

type createLinkRequest struct {
	TargetURL   string `json:"target_url"`
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	TTLDays     int    `json:"ttl_days"`
}

func (req *createLinkRequest) Validate() error {
	req.TargetURL = strings.TrimSpace(req.TargetURL)
	if req.TargetURL == "" {
		return dErrors.New(dErrors.CodeValidation, "target_url is required")
	}
	if req.TTLDays <= 0 {
		return dErrors.New(dErrors.CodeValidation, "ttl_days must be positive")
	}
	return nil
}

func (h *Handler) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cafeID, err := domain.ParseCafeID(chi.URLParam(r, "cafeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[createLinkRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	utm := models.UTM{Source: req.UTMSource, Medium: req.UTMMedium, Campaign: req.UTMCampaign}
	link, err := h.links.CreateLink(ctx, cafeID, req.TargetURL, utm, req.TTLDays)
	if err != nil {
		h.logError(ctx, "create link failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, link)
}

func (h *Handler) handleListLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cafeID, err := domain.ParseCafeID(chi.URLParam(r, "cafeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.links.ListLinks(ctx, cafeID, pagination.FromQuery(r.URL.Query()))
	if err != nil {
		h.logError(ctx, "list links failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	linkID, err := domain.ParseLinkID(chi.URLParam(r, "linkID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	link, err := h.links.GetLink(ctx, linkID)
	if err != nil {
		h.logError(ctx, "get link failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, link)
}

func (h *Handler) handleRevokeLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	linkID, err := domain.ParseLinkID(chi.URLParam(r, "linkID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	link, err := h.links.RevokeLink(ctx, linkID)
	if err != nil {
		h.logError(ctx, "revoke link failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, link)
}

// handleRedirect records the click and issues a 302 to the target URL with
// the link's UTM parameters appended.
func (h *Handler) handleRedirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shortCode := chi.URLParam(r, "shortCode")

	result, err := h.links.RecordClick(ctx, shortCode)
	if err != nil {
		h.logError(ctx, "record click failed", err)
		httputil.WriteError(w, err)
		return
	}

	http.Redirect(w, r, targetWithUTM(result.Link), http.StatusFound)
}

func targetWithUTM(link *models.Link) string {
	u := link.TargetURL
	params := make([]string, 0, 3)
	if link.UTM.Source != "" {
		params = append(params, "utm_source="+link.UTM.Source)
	}
	if link.UTM.Medium != "" {
		params = append(params, "utm_medium="+link.UTM.Medium)
	}
	if link.UTM.Campaign != "" {
		params = append(params, "utm_campaign="+link.UTM.Campaign)
	}
	if len(params) == 0 {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + strings.Join(params, "&")
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
}
