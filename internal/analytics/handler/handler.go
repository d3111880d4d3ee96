// Package handler exposes analytics queries over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"refledger/internal/analytics/service"
	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
	"refledger/pkg/platform/httputil"
	"refledger/pkg/requestcontext"
)

// Service defines the analytics operations the handler needs.
type Service interface {
	LinkStats(ctx context.Context, linkID domain.LinkID) (*service.LinkStats, error)
	Trend(ctx context.Context, scope service.Scope, granularity service.Granularity, start, end time.Time) ([]service.TrendBucket, error)
}

// Handler handles analytics endpoints.
type Handler struct {
	analytics Service
	logger    *slog.Logger
}

// New creates an analytics Handler.
func New(analytics Service, logger *slog.Logger) *Handler {
	return &Handler{analytics: analytics, logger: logger}
}

// Register mounts analytics routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/links/{linkID}/stats", h.handleLinkStats)
	r.Get("/analytics/trends", h.handleTrend)
}

func (h *Handler) handleLinkStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	linkID, err := domain.ParseLinkID(chi.URLParam(r, "linkID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	stats, err := h.analytics.LinkStats(ctx, linkID)
	if err != nil {
		h.logError(ctx, "link stats failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleTrend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	scope, err := scopeFromQuery(q.Get("link_id"), q.Get("cafe_id"), q.Get("partner_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	start, err := parseDate(q.Get("start"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "start must be an RFC 3339 date"))
		return
	}
	end, err := parseDate(q.Get("end"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "end must be an RFC 3339 date"))
		return
	}
	granularity := service.Granularity(q.Get("granularity"))
	if granularity == "" {
		granularity = service.GranularityDay
	}

	buckets, err := h.analytics.Trend(ctx, scope, granularity, start, end)
	if err != nil {
		h.logError(ctx, "trend query failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"buckets": buckets})
}

func scopeFromQuery(linkID, cafeID, partnerID string) (service.Scope, error) {
	var scope service.Scope
	set := 0
	if linkID != "" {
		id, err := domain.ParseLinkID(linkID)
		if err != nil {
			return scope, err
		}
		scope.LinkID = id
		set++
	}
	if cafeID != "" {
		id, err := domain.ParseCafeID(cafeID)
		if err != nil {
			return scope, err
		}
		scope.CafeID = id
		set++
	}
	if partnerID != "" {
		id, err := domain.ParsePartnerID(partnerID)
		if err != nil {
			return scope, err
		}
		scope.PartnerID = id
		set++
	}
	if set != 1 {
		return scope, dErrors.New(dErrors.CodeBadRequest, "exactly one of link_id, cafe_id, or partner_id is required")
	}
	return scope, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
}
