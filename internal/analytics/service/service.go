// Package service provides the read-only conversion ledger: per-link
// performance rollups and time-bucketed conversion trends.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	attrmodels "refledger/internal/attribution/models"
	linkmodels "refledger/internal/link/models"
	partnermodels "refledger/internal/partner/models"
	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
	"refledger/pkg/platform/sentinel"
)

// Granularity selects the trend bucket width.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

func (g Granularity) Valid() bool {
	switch g {
	case GranularityDay, GranularityWeek, GranularityMonth:
		return true
	}
	return false
}

// LinkStats is the all-time rollup for a single link. ConversionRate is 0
// when the link has no clicks.
type LinkStats struct {
	LinkID         domain.LinkID `json:"link_id"`
	ShortCode      string        `json:"short_code"`
	Clicks         int64         `json:"clicks"`
	Conversions    int           `json:"conversions"`
	Revenue        float64       `json:"revenue"`
	Commission     float64       `json:"commission"`
	ConversionRate float64       `json:"conversion_rate"`
}

// TrendBucket aggregates conversions falling into one time bucket.
type TrendBucket struct {
	PeriodStart time.Time `json:"period_start"`
	Conversions int       `json:"conversions"`
	Revenue     float64   `json:"revenue"`
	Commission  float64   `json:"commission"`
}

// Scope selects which links a trend query aggregates over. Exactly one
// field must be set.
type Scope struct {
	LinkID    domain.LinkID
	CafeID    domain.CafeID
	PartnerID domain.PartnerID
}

// LinkDirectory resolves links and expands cafe scopes.
type LinkDirectory interface {
	FindByID(ctx context.Context, id domain.LinkID) (*linkmodels.Link, error)
	ListAllByCafe(ctx context.Context, cafeID domain.CafeID) ([]*linkmodels.Link, error)
}

// CafeDirectory expands partner scopes.
type CafeDirectory interface {
	ListAllByPartner(ctx context.Context, partnerID domain.PartnerID) ([]*partnermodels.Cafe, error)
}

// ConversionReader lists conversions for aggregation.
type ConversionReader interface {
	ListByLinks(ctx context.Context, linkIDs []domain.LinkID, start, end time.Time) ([]*attrmodels.Conversion, error)
}

// Service is the analytics read side.
type Service struct {
	links       LinkDirectory
	cafes       CafeDirectory
	conversions ConversionReader
	logger      *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New constructs the analytics service.
func New(links LinkDirectory, cafes CafeDirectory, conversions ConversionReader, opts ...Option) *Service {
	s := &Service{links: links, cafes: cafes, conversions: conversions}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// LinkStats computes the all-time rollup for one link.
func (s *Service) LinkStats(ctx context.Context, linkID domain.LinkID) (*LinkStats, error) {
	link, err := s.links.FindByID(ctx, linkID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "link not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load link")
	}

	conversions, err := s.conversions.ListByLinks(ctx, []domain.LinkID{linkID}, time.Time{}, farFuture())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load conversions")
	}

	stats := &LinkStats{
		LinkID:      link.ID,
		ShortCode:   link.ShortCode,
		Clicks:      link.Clicks,
		Conversions: len(conversions),
	}
	for _, c := range conversions {
		stats.Revenue += c.Amount
		stats.Commission += c.CommissionAmount
	}
	if stats.Clicks > 0 {
		stats.ConversionRate = float64(stats.Conversions) / float64(stats.Clicks)
	}
	return stats, nil
}

// Trend buckets conversions in [start, end] by the given granularity over
// the scope's links. Buckets with no conversions are omitted.
func (s *Service) Trend(ctx context.Context, scope Scope, granularity Granularity, start, end time.Time) ([]TrendBucket, error) {
	if !granularity.Valid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown granularity %q", granularity)
	}
	if end.Before(start) {
		return nil, dErrors.New(dErrors.CodeValidation, "end must not precede start")
	}

	linkIDs, err := s.expandScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(linkIDs) == 0 {
		return []TrendBucket{}, nil
	}

	conversions, err := s.conversions.ListByLinks(ctx, linkIDs, start, end)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load conversions")
	}

	buckets := make(map[time.Time]*TrendBucket)
	for _, c := range conversions {
		key := truncate(c.AttributedAt.UTC(), granularity)
		b, ok := buckets[key]
		if !ok {
			b = &TrendBucket{PeriodStart: key}
			buckets[key] = b
		}
		b.Conversions++
		b.Revenue += c.Amount
		b.Commission += c.CommissionAmount
	}

	out := make([]TrendBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, nil
}

func (s *Service) expandScope(ctx context.Context, scope Scope) ([]domain.LinkID, error) {
	switch {
	case !scope.LinkID.IsNil():
		if _, err := s.links.FindByID(ctx, scope.LinkID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeNotFound, "link not found")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load link")
		}
		return []domain.LinkID{scope.LinkID}, nil

	case !scope.CafeID.IsNil():
		return s.linksForCafe(ctx, scope.CafeID)

	case !scope.PartnerID.IsNil():
		cafes, err := s.cafes.ListAllByPartner(ctx, scope.PartnerID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load cafes")
		}
		var linkIDs []domain.LinkID
		for _, cafe := range cafes {
			ids, err := s.linksForCafe(ctx, cafe.ID)
			if err != nil {
				return nil, err
			}
			linkIDs = append(linkIDs, ids...)
		}
		return linkIDs, nil

	default:
		return nil, dErrors.New(dErrors.CodeBadRequest, "one of link_id, cafe_id, or partner_id is required")
	}
}

func (s *Service) linksForCafe(ctx context.Context, cafeID domain.CafeID) ([]domain.LinkID, error) {
	links, err := s.links.ListAllByCafe(ctx, cafeID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load links")
	}
	ids := make([]domain.LinkID, len(links))
	for i, link := range links {
		ids[i] = link.ID
	}
	return ids, nil
}

// truncate floors t to the start of its bucket. Weeks start on Monday.
func truncate(t time.Time, g Granularity) time.Time {
	switch g {
	case GranularityWeek:
		day := t.Truncate(24 * time.Hour)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(24 * time.Hour)
	}
}

func farFuture() time.Time {
	return time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
}
