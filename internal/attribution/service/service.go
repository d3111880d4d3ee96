// Package service implements first-touch attribution: binding a user to the
// referral link they converted through, permanently.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	attrmetrics "refledger/internal/attribution/metrics"
	"refledger/internal/attribution/models"
	linkmodels "refledger/internal/link/models"
	partnermodels "refledger/internal/partner/models"
	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
	"refledger/pkg/platform/audit"
	"refledger/pkg/platform/fingerprint"
	"refledger/pkg/platform/sentinel"
	"refledger/pkg/platform/tx"
	"refledger/pkg/requestcontext"
)

// ConversionStore persists conversions. CreateIfUserUnattributed relies on
// the store's unique constraint on user_id as the race backstop.
type ConversionStore interface {
	CreateIfUserUnattributed(ctx context.Context, conversion *models.Conversion) error
	FindByID(ctx context.Context, id domain.ConversionID) (*models.Conversion, error)
	FindByUser(ctx context.Context, userID string) (*models.Conversion, error)
	FindLatestByClientHashes(ctx context.Context, ipHash, uaHash string, since time.Time) (*models.Conversion, error)
}

// LinkDirectory resolves links for rate lookup.
type LinkDirectory interface {
	FindByID(ctx context.Context, id domain.LinkID) (*linkmodels.Link, error)
}

// CafeDirectory resolves cafes for rate lookup.
type CafeDirectory interface {
	FindByID(ctx context.Context, id domain.CafeID) (*partnermodels.Cafe, error)
}

// Service is the attribution engine.
type Service struct {
	conversions  ConversionStore
	links        LinkDirectory
	cafes        CafeDirectory
	fallbackDays int
	auditor      *audit.Recorder
	metrics      *attrmetrics.Metrics
	logger       *slog.Logger
	tx           tx.Runner
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditRecorder(recorder *audit.Recorder) Option {
	return func(s *Service) { s.auditor = recorder }
}

func WithMetrics(m *attrmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTxRunner(runner tx.Runner) Option {
	return func(s *Service) { s.tx = runner }
}

// WithFallbackWindow overrides the default trailing window for fallback
// attribution lookups.
func WithFallbackWindow(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.fallbackDays = days
		}
	}
}

// New constructs the attribution service.
func New(conversions ConversionStore, links LinkDirectory, cafes CafeDirectory, opts ...Option) *Service {
	s := &Service{
		conversions:  conversions,
		links:        links,
		cafes:        cafes,
		fallbackDays: 7,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tx == nil {
		s.tx = tx.NewMemoryRunner()
	}
	return s
}

// AlreadyAttributedError carries the existing conversion so callers can
// surface it alongside the conflict.
type AlreadyAttributedError struct {
	Existing *models.Conversion
}

func (e *AlreadyAttributedError) Error() string {
	return "user is already attributed"
}

// Attribute binds userID to the given link. First-touch is absolute: if a
// conversion for the user already exists, the call fails with a conflict
// wrapping the existing attribution, no matter how old it is.
func (s *Service) Attribute(ctx context.Context, userID string, linkID domain.LinkID, amount float64, metadata map[string]string) (*models.Conversion, error) {
	if linkID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "link_id is required")
	}

	if existing, err := s.conversions.FindByUser(ctx, userID); err == nil {
		return nil, s.alreadyAttributed(existing)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing attribution")
	}

	link, err := s.links.FindByID(ctx, linkID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "link not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load link")
	}
	cafe, err := s.cafes.FindByID(ctx, link.CafeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "cafe not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load cafe")
	}

	conversion, err := models.NewConversion(
		domain.NewConversionID(),
		userID,
		link.ID,
		cafe.ID,
		cafe.PartnerID,
		fingerprint.HashString(requestcontext.ClientIP(ctx)),
		fingerprint.HashString(requestcontext.UserAgent(ctx)),
		amount,
		cafe.CommissionRate,
		metadata,
		requestcontext.Now(ctx),
	)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.conversions.CreateIfUserUnattributed(txCtx, conversion); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return sentinel.ErrConflict
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create conversion")
		}
		s.auditor.Record(txCtx, audit.Entry{
			EntityType: "conversion",
			EntityID:   conversion.ID.String(),
			Action:     audit.ActionConversionAttributed,
			After:      conversion,
		})
		return nil
	})
	if err != nil {
		// Lost the race against a concurrent attribution of the same user.
		if errors.Is(err, sentinel.ErrConflict) {
			if existing, ferr := s.conversions.FindByUser(ctx, userID); ferr == nil {
				return nil, s.alreadyAttributed(existing)
			}
			return nil, dErrors.New(dErrors.CodeConflict, "user is already attributed")
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ConversionsAttributed.Inc()
	}
	return conversion, nil
}

func (s *Service) alreadyAttributed(existing *models.Conversion) error {
	if s.metrics != nil {
		s.metrics.AttributionRejects.Inc()
	}
	return dErrors.Wrap(&AlreadyAttributedError{Existing: existing}, dErrors.CodeConflict, "user is already attributed")
}

// ExistingAttribution unwraps the conversion attached to an
// already-attributed conflict, if any.
func ExistingAttribution(err error) (*models.Conversion, bool) {
	var aae *AlreadyAttributedError
	if errors.As(err, &aae) {
		return aae.Existing, true
	}
	return nil, false
}

// FindFallbackAttribution recovers an attribution when the primary channel
// is missing: it matches the caller's hashed IP and user agent against
// conversions attributed within the trailing window. Most recent wins.
// This is best-effort recovery and never creates a conversion.
func (s *Service) FindFallbackAttribution(ctx context.Context, withinDays int) (*models.Conversion, error) {
	if withinDays <= 0 {
		withinDays = s.fallbackDays
	}
	ipHash := fingerprint.HashString(requestcontext.ClientIP(ctx))
	uaHash := fingerprint.HashString(requestcontext.UserAgent(ctx))
	since := requestcontext.Now(ctx).AddDate(0, 0, -withinDays)

	conversion, err := s.conversions.FindLatestByClientHashes(ctx, ipHash, uaHash, since)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.RecordFallback(false)
			return nil, dErrors.New(dErrors.CodeNotFound, "no matching attribution in window")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "fallback attribution lookup failed")
	}
	s.metrics.RecordFallback(true)
	return conversion, nil
}

// GetConversion retrieves a conversion by ID.
func (s *Service) GetConversion(ctx context.Context, id domain.ConversionID) (*models.Conversion, error) {
	conversion, err := s.conversions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "conversion not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load conversion")
	}
	return conversion, nil
}

// GetAttribution retrieves the conversion bound to a user, if any.
func (s *Service) GetAttribution(ctx context.Context, userID string) (*models.Conversion, error) {
	conversion, err := s.conversions.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user has no attribution")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load attribution")
	}
	return conversion, nil
}
