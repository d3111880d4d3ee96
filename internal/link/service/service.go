// Package service implements the link registry: short code issuance,
// resolution, and click tracking.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mssola/useragent"

	"refledger/internal/link/cache"
	linkmetrics "refledger/internal/link/metrics"
	"refledger/internal/link/models"
	"refledger/internal/link/shortcode"
	partnermodels "refledger/internal/partner/models"
	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
	"refledger/pkg/pagination"
	"refledger/pkg/platform/audit"
	"refledger/pkg/platform/fingerprint"
	"refledger/pkg/platform/sentinel"
	"refledger/pkg/platform/tx"
	"refledger/pkg/requestcontext"
)

// LinkStore persists links. CreateIfCodeAvailable relies on the short-code
// unique constraint; IncrementClicks must be a single atomic operation
// against the store, never a read-then-write.
type LinkStore interface {
	CreateIfCodeAvailable(ctx context.Context, link *models.Link) error
	FindByCode(ctx context.Context, shortCode string) (*models.Link, error)
	FindByID(ctx context.Context, id domain.LinkID) (*models.Link, error)
	ListByCafe(ctx context.Context, cafeID domain.CafeID, page pagination.Page) ([]*models.Link, int, error)
	IncrementClicks(ctx context.Context, shortCode string) (*models.Link, error)
	Execute(ctx context.Context, id domain.LinkID, validate func(*models.Link) error, mutate func(*models.Link)) (*models.Link, error)
	MarkExpired(ctx context.Context, now int64) (int, error)
}

// CafeDirectory is the slice of the partner domain the registry needs: link
// creation verifies the owning cafe exists and is active.
type CafeDirectory interface {
	FindByID(ctx context.Context, id domain.CafeID) (*partnermodels.Cafe, error)
}

// Service is the link registry.
type Service struct {
	links   LinkStore
	cafes   CafeDirectory
	codes   *shortcode.Generator
	cache   cache.Cache
	auditor *audit.Recorder
	metrics *linkmetrics.Metrics
	logger  *slog.Logger
	tx      tx.Runner
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditRecorder(recorder *audit.Recorder) Option {
	return func(s *Service) { s.auditor = recorder }
}

func WithMetrics(m *linkmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithTxRunner(runner tx.Runner) Option {
	return func(s *Service) { s.tx = runner }
}

// New constructs the link registry service.
func New(links LinkStore, cafes CafeDirectory, codes *shortcode.Generator, opts ...Option) *Service {
	s := &Service{links: links, cafes: cafes, codes: codes}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.tx == nil {
		s.tx = tx.NewMemoryRunner()
	}
	return s
}

// CreateLink issues a new short code for a cafe. Collisions retry up to the
// configured bound; exhausting it returns a distinct conflict error.
func (s *Service) CreateLink(ctx context.Context, cafeID domain.CafeID, targetURL string, utm models.UTM, ttlDays int) (*models.Link, error) {
	cafe, err := s.cafes.FindByID(ctx, cafeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "cafe not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load cafe")
	}
	if !cafe.IsActive() {
		return nil, dErrors.New(dErrors.CodeConflict, "cafe is not active")
	}

	var link *models.Link
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		for attempt := 0; attempt < s.codes.MaxAttempts(); attempt++ {
			code, err := s.codes.Generate()
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "short code generation failed")
			}
			l, err := models.NewLink(domain.NewLinkID(), cafeID, code, targetURL, utm, ttlDays, requestcontext.Now(txCtx))
			if err != nil {
				if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
					return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
				}
				return err
			}
			if err := s.links.CreateIfCodeAvailable(txCtx, l); err != nil {
				if errors.Is(err, sentinel.ErrConflict) {
					if s.metrics != nil {
						s.metrics.CodeRetries.Inc()
					}
					continue
				}
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create link")
			}
			link = l
			break
		}
		if link == nil {
			return dErrors.Newf(dErrors.CodeConflict, "short code space exhausted after %d attempts", s.codes.MaxAttempts())
		}
		s.auditor.Record(txCtx, audit.Entry{
			EntityType: "link",
			EntityID:   link.ID.String(),
			Action:     audit.ActionLinkCreated,
			After:      link,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.LinksCreated.Inc()
	}
	return link, nil
}

// ResolveLink looks up a short code for redirection. Status and expiry are
// evaluated dynamically; a stored ACTIVE status does not save a link whose
// expiry timestamp has passed.
func (s *Service) ResolveLink(ctx context.Context, shortCode string) (*models.Link, error) {
	link, err := s.loadByCode(ctx, shortCode)
	if err != nil {
		return nil, err
	}
	if err := link.Resolvable(requestcontext.Now(ctx)); err != nil {
		return nil, err
	}
	return link, nil
}

func (s *Service) loadByCode(ctx context.Context, shortCode string) (*models.Link, error) {
	if shortCode == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "short code is required")
	}
	if link, ok := s.cache.Get(ctx, shortCode); ok {
		s.metrics.RecordCacheLookup(true)
		return link, nil
	}
	s.metrics.RecordCacheLookup(false)

	link, err := s.links.FindByCode(ctx, shortCode)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "link not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load link")
	}
	if link.Status == models.LinkStatusActive && !link.IsExpired(requestcontext.Now(ctx)) {
		s.cache.Set(ctx, link)
	}
	return link, nil
}

// RecordClick atomically increments the click counter and returns the
// pseudonymized identity material for downstream attribution. A missing
// referer is accepted silently; the click still counts.
func (s *Service) RecordClick(ctx context.Context, shortCode string) (*models.ClickResult, error) {
	link, err := s.loadByCode(ctx, shortCode)
	if err != nil {
		return nil, err
	}
	if err := link.Resolvable(requestcontext.Now(ctx)); err != nil {
		return nil, err
	}

	clientIP := requestcontext.ClientIP(ctx)
	clientUA := requestcontext.UserAgent(ctx)

	var updated *models.Link
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		l, err := s.links.IncrementClicks(txCtx, shortCode)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "link not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record click")
		}
		s.auditor.Record(txCtx, audit.Entry{
			EntityType: "link",
			EntityID:   l.ID.String(),
			Action:     audit.ActionClickRecorded,
			Before:     map[string]any{"clicks": l.Clicks - 1},
			After:      map[string]any{"clicks": l.Clicks},
			Metadata:   clickMetadata(clientUA),
		})
		updated = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ClicksRecorded.Inc()
	}
	return &models.ClickResult{
		Link:   updated,
		Clicks: updated.Clicks,
		IPHash: fingerprint.HashString(clientIP),
		UAHash: fingerprint.HashString(clientUA),
	}, nil
}

// clickMetadata derives coarse device facts from the raw user agent for the
// audit trail. The raw string itself is never stored, only its hash.
func clickMetadata(rawUA string) map[string]any {
	if rawUA == "" {
		return nil
	}
	ua := useragent.New(rawUA)
	browser, version := ua.Browser()
	return map[string]any{
		"browser": browser,
		"version": version,
		"os":      ua.OS(),
		"mobile":  ua.Mobile(),
		"bot":     ua.Bot(),
	}
}

// GetLink retrieves a link by ID.
func (s *Service) GetLink(ctx context.Context, linkID domain.LinkID) (*models.Link, error) {
	if linkID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "link_id is required")
	}
	link, err := s.links.FindByID(ctx, linkID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "link not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load link")
	}
	return link, nil
}

// ListLinks returns a page of a cafe's links.
func (s *Service) ListLinks(ctx context.Context, cafeID domain.CafeID, page pagination.Page) (pagination.Result[*models.Link], error) {
	if cafeID.IsNil() {
		return pagination.Result[*models.Link]{}, dErrors.New(dErrors.CodeBadRequest, "cafe_id is required")
	}
	items, total, err := s.links.ListByCafe(ctx, cafeID, page)
	if err != nil {
		return pagination.Result[*models.Link]{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list links")
	}
	return pagination.NewResult(items, total, page), nil
}

// RevokeLink administratively revokes an active link.
func (s *Service) RevokeLink(ctx context.Context, linkID domain.LinkID) (*models.Link, error) {
	if linkID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "link_id is required")
	}

	now := requestcontext.Now(ctx)
	var before models.LinkStatus
	var link *models.Link
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		l, err := s.links.Execute(txCtx, linkID,
			func(l *models.Link) error {
				before = l.Status
				if l.Status != models.LinkStatusActive {
					return dErrors.Newf(dErrors.CodeStateMismatch, "link must be ACTIVE to revoke, is %s", l.Status)
				}
				return nil
			},
			func(l *models.Link) {
				l.Status = models.LinkStatusRevoked
				l.UpdatedAt = now
			},
		)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "link not found")
			}
			return err
		}
		s.auditor.Record(txCtx, audit.Entry{
			EntityType: "link",
			EntityID:   l.ID.String(),
			Action:     audit.ActionLinkRevoked,
			Before:     map[string]any{"status": before},
			After:      map[string]any{"status": l.Status},
		})
		link = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, link.ShortCode)
	return link, nil
}

// ExpireDue bulk-flips stored status to EXPIRED for links past their expiry
// timestamp. Resolution never depends on this sweep; it only keeps stored
// status aligned with reality for listings.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	n, err := s.links.MarkExpired(ctx, requestcontext.Now(ctx).Unix())
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire links")
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired links swept", "count", n)
	}
	return n, nil
}
