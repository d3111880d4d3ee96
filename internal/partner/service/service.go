// Package service orchestrates partner and cafe administration.
package service

import (
	"context"
	"errors"
	"log/slog"

	"refledger/internal/partner/models"
	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
	"refledger/pkg/pagination"
	"refledger/pkg/platform/audit"
	"refledger/pkg/platform/sentinel"
	"refledger/pkg/platform/tx"
	"refledger/pkg/requestcontext"
)

// PartnerStore persists partners. CreateIfBusinessNumberAvailable relies on
// the store's unique constraint, not a read-then-write check.
type PartnerStore interface {
	CreateIfBusinessNumberAvailable(ctx context.Context, partner *models.Partner) error
	FindByID(ctx context.Context, id domain.PartnerID) (*models.Partner, error)
	List(ctx context.Context, page pagination.Page) ([]*models.Partner, int, error)
	// Execute atomically validates and mutates one partner. The store holds
	// its lock (mutex or SELECT ... FOR UPDATE) across both callbacks.
	Execute(ctx context.Context, id domain.PartnerID, validate func(*models.Partner) error, mutate func(*models.Partner)) (*models.Partner, error)
}

// CafeStore persists cafes.
type CafeStore interface {
	Create(ctx context.Context, cafe *models.Cafe) error
	FindByID(ctx context.Context, id domain.CafeID) (*models.Cafe, error)
	ListByPartner(ctx context.Context, partnerID domain.PartnerID, page pagination.Page) ([]*models.Cafe, int, error)
	Execute(ctx context.Context, id domain.CafeID, validate func(*models.Cafe) error, mutate func(*models.Cafe)) (*models.Cafe, error)
}

// Service orchestrates partner lifecycle management.
type Service struct {
	partners PartnerStore
	cafes    CafeStore
	auditor  *audit.Recorder
	logger   *slog.Logger
	tx       tx.Runner
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditRecorder(recorder *audit.Recorder) Option {
	return func(s *Service) { s.auditor = recorder }
}

func WithTxRunner(runner tx.Runner) Option {
	return func(s *Service) { s.tx = runner }
}

// New constructs a Service.
func New(partners PartnerStore, cafes CafeStore, opts ...Option) *Service {
	s := &Service{partners: partners, cafes: cafes}
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

// CreatePartner registers a new partner organization.
func (s *Service) CreatePartner(ctx context.Context, name, businessNumber, contactEmail string) (*models.Partner, error) {
	var partner *models.Partner
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		p, err := models.NewPartner(domain.NewPartnerID(), name, businessNumber, contactEmail, requestcontext.Now(txCtx))
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
				return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
			}
			return err
		}
		if err := s.partners.CreateIfBusinessNumberAvailable(txCtx, p); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "business number must be unique")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create partner")
		}
		s.auditor.Record(txCtx, audit.Entry{
			EntityType: "partner",
			EntityID:   p.ID.String(),
			Action:     audit.ActionPartnerCreated,
			After:      p,
		})
		partner = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return partner, nil
}

// GetPartner retrieves a partner by ID.
func (s *Service) GetPartner(ctx context.Context, partnerID domain.PartnerID) (*models.Partner, error) {
	if partnerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "partner_id is required")
	}
	partner, err := s.partners.FindByID(ctx, partnerID)
	if err != nil {
		return nil, wrapPartnerErr(err)
	}
	return partner, nil
}

// ListPartners returns a page of partners ordered by creation time.
func (s *Service) ListPartners(ctx context.Context, page pagination.Page) (pagination.Result[*models.Partner], error) {
	items, total, err := s.partners.List(ctx, page)
	if err != nil {
		return pagination.Result[*models.Partner]{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list partners")
	}
	return pagination.NewResult(items, total, page), nil
}

// UpdatePartnerStatus applies an administrative status transition.
func (s *Service) UpdatePartnerStatus(ctx context.Context, partnerID domain.PartnerID, next models.PartnerStatus) (*models.Partner, error) {
	if partnerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "partner_id is required")
	}

	now := requestcontext.Now(ctx)
	var before models.PartnerStatus
	var partner *models.Partner
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		p, err := s.partners.Execute(txCtx, partnerID,
			func(p *models.Partner) error {
				before = p.Status
				return p.CanTransitionTo(next)
			},
			func(p *models.Partner) {
				p.ApplyStatus(next, now)
			},
		)
		if err != nil {
			return wrapPartnerErr(err)
		}
		s.auditor.Record(txCtx, audit.Entry{
			EntityType: "partner",
			EntityID:   p.ID.String(),
			Action:     audit.ActionPartnerStatusChanged,
			Before:     map[string]any{"status": before},
			After:      map[string]any{"status": p.Status},
		})
		partner = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "partner status changed",
		"partner_id", partnerID,
		"from", before,
		"to", partner.Status,
	)
	return partner, nil
}

// CreateCafe registers a cafe under a partner.
func (s *Service) CreateCafe(ctx context.Context, partnerID domain.PartnerID, name string, rate float64) (*models.Cafe, error) {
	partner, err := s.GetPartner(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if !partner.IsActive() {
		return nil, dErrors.Newf(dErrors.CodeConflict, "partner is %s", partner.Status)
	}

	var cafe *models.Cafe
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := models.NewCafe(domain.NewCafeID(), partnerID, name, rate, requestcontext.Now(txCtx))
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
				return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
			}
			return err
		}
		if err := s.cafes.Create(txCtx, c); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create cafe")
		}
		s.auditor.Record(txCtx, audit.Entry{
			EntityType: "cafe",
			EntityID:   c.ID.String(),
			Action:     audit.ActionCafeCreated,
			After:      c,
		})
		cafe = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cafe, nil
}

// GetCafe retrieves a cafe by ID.
func (s *Service) GetCafe(ctx context.Context, cafeID domain.CafeID) (*models.Cafe, error) {
	if cafeID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "cafe_id is required")
	}
	cafe, err := s.cafes.FindByID(ctx, cafeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "cafe not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load cafe")
	}
	return cafe, nil
}

// ListCafes returns a page of a partner's cafes.
func (s *Service) ListCafes(ctx context.Context, partnerID domain.PartnerID, page pagination.Page) (pagination.Result[*models.Cafe], error) {
	if _, err := s.GetPartner(ctx, partnerID); err != nil {
		return pagination.Result[*models.Cafe]{}, err
	}
	items, total, err := s.cafes.ListByPartner(ctx, partnerID, page)
	if err != nil {
		return pagination.Result[*models.Cafe]{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list cafes")
	}
	return pagination.NewResult(items, total, page), nil
}

// UpdateCafe changes rate and/or status. Nil fields keep current values.
func (s *Service) UpdateCafe(ctx context.Context, cafeID domain.CafeID, rate *float64, status *models.CafeStatus) (*models.Cafe, error) {
	if cafeID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "cafe_id is required")
	}
	if rate == nil && status == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "nothing to update")
	}

	now := requestcontext.Now(ctx)
	var before models.Cafe
	var cafe *models.Cafe
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := s.cafes.Execute(txCtx, cafeID,
			func(c *models.Cafe) error {
				before = *c
				if rate != nil {
					if err := models.ValidateRate(*rate); err != nil {
						return err
					}
				}
				if status != nil && !status.Valid() {
					return dErrors.Newf(dErrors.CodeValidation, "unknown cafe status %q", *status)
				}
				return nil
			},
			func(c *models.Cafe) {
				c.ApplyUpdate(rate, status, now)
			},
		)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "cafe not found")
			}
			return err
		}
		s.auditor.Record(txCtx, audit.Entry{
			EntityType: "cafe",
			EntityID:   c.ID.String(),
			Action:     audit.ActionCafeUpdated,
			Before:     &before,
			After:      c,
		})
		cafe = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cafe, nil
}

func wrapPartnerErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "partner not found")
	}
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "partner store failure")
}
