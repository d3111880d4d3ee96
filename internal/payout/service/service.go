// Package service implements the payout ledger: period calculation with
// snapshot fingerprints, the approval state machine, and compensating
// adjustments.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks PayoutStore,ConversionSource

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	attrmodels "refledger/internal/attribution/models"
	"refledger/internal/notify"
	payoutmetrics "refledger/internal/payout/metrics"
	"refledger/internal/payout/models"
	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
	"refledger/pkg/pagination"
	"refledger/pkg/platform/audit"
	"refledger/pkg/platform/fingerprint"
	"refledger/pkg/platform/sentinel"
	"refledger/pkg/platform/tx"
	"refledger/pkg/requestcontext"
)

const defaultApproveTimeout = 10 * time.Second

// PayoutStore persists ledger entries. Create relies on the store's unique
// constraint on (partner, period, PAYOUT type); Execute reads the entry
// under lock, validates, mutates, and writes back in the caller's
// transaction.
type PayoutStore interface {
	Create(ctx context.Context, entry *models.PayoutLedgerEntry) error
	FindByID(ctx context.Context, id domain.PayoutID) (*models.PayoutLedgerEntry, error)
	FindPayoutByPeriod(ctx context.Context, partnerID domain.PartnerID, periodStart, periodEnd time.Time) (*models.PayoutLedgerEntry, error)
	Execute(ctx context.Context, id domain.PayoutID, validate func(*models.PayoutLedgerEntry) error, mutate func(*models.PayoutLedgerEntry)) (*models.PayoutLedgerEntry, error)
	ListByPartner(ctx context.Context, partnerID domain.PartnerID, page pagination.Page) ([]*models.PayoutLedgerEntry, int, error)
	ListByStatus(ctx context.Context, status models.PayoutStatus, page pagination.Page) ([]*models.PayoutLedgerEntry, int, error)
	ListAllByPartner(ctx context.Context, partnerID domain.PartnerID) ([]*models.PayoutLedgerEntry, error)
}

// ConversionSource gathers the conversions a period payout aggregates.
type ConversionSource interface {
	ListByPartnerInPeriod(ctx context.Context, partnerID domain.PartnerID, start, end time.Time) ([]*attrmodels.Conversion, error)
}

// Service is the payout ledger engine.
type Service struct {
	payouts        PayoutStore
	conversions    ConversionSource
	notifier       notify.Notifier
	approveTimeout time.Duration
	auditor        *audit.Recorder
	metrics        *payoutmetrics.Metrics
	tracer         trace.Tracer
	logger         *slog.Logger
	tx             tx.Runner
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditRecorder(recorder *audit.Recorder) Option {
	return func(s *Service) { s.auditor = recorder }
}

func WithMetrics(m *payoutmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithTxRunner(runner tx.Runner) Option {
	return func(s *Service) { s.tx = runner }
}

// WithApproveTimeout bounds the serializable approval transaction.
func WithApproveTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.approveTimeout = d
		}
	}
}

// New constructs the payout service.
func New(payouts PayoutStore, conversions ConversionSource, opts ...Option) *Service {
	s := &Service{
		payouts:        payouts,
		conversions:    conversions,
		notifier:       notify.Noop{},
		approveTimeout: defaultApproveTimeout,
		tracer:         otel.Tracer("refledger/payout"),
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

// Calculate builds or refreshes the DRAFT payout entry for a partner's
// period. Calling it repeatedly is idempotent: once the entry has left
// DRAFT, the existing entry is returned untouched.
func (s *Service) Calculate(ctx context.Context, partnerID domain.PartnerID, periodStart, periodEnd time.Time) (*models.PayoutLedgerEntry, error) {
	ctx, span := s.tracer.Start(ctx, "payout.Calculate",
		trace.WithAttributes(attribute.String("partner_id", partnerID.String())))
	defer span.End()

	if partnerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "partner_id is required")
	}
	if periodEnd.Before(periodStart) {
		return nil, dErrors.New(dErrors.CodeValidation, "period end cannot precede period start")
	}

	existing, err := s.payouts.FindPayoutByPeriod(ctx, partnerID, periodStart, periodEnd)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing payout")
	}
	if existing != nil && existing.Status != models.StatusDraft {
		// Recalculation is only legal while DRAFT; surface the entry as-is.
		return existing, nil
	}

	snap, err := s.buildSnapshot(ctx, partnerID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var entry *models.PayoutLedgerEntry
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if existing != nil {
			updated, err := s.payouts.Execute(txCtx, existing.ID,
				func(e *models.PayoutLedgerEntry) error { return e.RequireStatus(models.StatusDraft) },
				func(e *models.PayoutLedgerEntry) { e.ApplySnapshot(snap, now) },
			)
			if err != nil {
				return err
			}
			s.auditor.Record(txCtx, audit.Entry{
				EntityType: "payout",
				EntityID:   updated.ID.String(),
				Action:     audit.ActionPayoutRecalculated,
				Before:     map[string]any{"fingerprint": existing.SnapshotFingerprint},
				After:      updated,
			})
			entry = updated
			return nil
		}

		draft := models.NewDraft(domain.NewPayoutID(), partnerID, periodStart, periodEnd, snap, now)
		if err := s.payouts.Create(txCtx, draft); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return sentinel.ErrConflict
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create payout")
		}
		s.auditor.Record(txCtx, audit.Entry{
			EntityType: "payout",
			EntityID:   draft.ID.String(),
			Action:     audit.ActionPayoutCalculated,
			After:      draft,
		})
		entry = draft
		return nil
	})
	if err != nil {
		// Lost a race to create the period entry; surface whatever won.
		if errors.Is(err, sentinel.ErrConflict) {
			if winner, ferr := s.payouts.FindPayoutByPeriod(ctx, partnerID, periodStart, periodEnd); ferr == nil {
				return winner, nil
			}
			return nil, dErrors.New(dErrors.CodeConflict, "payout for period already exists")
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PayoutsCalculated.Inc()
	}
	return entry, nil
}

// buildSnapshot gathers the period's conversions in deterministic order and
// derives totals and the fingerprint.
func (s *Service) buildSnapshot(ctx context.Context, partnerID domain.PartnerID, start, end time.Time) (models.Snapshot, error) {
	conversions, err := s.conversions.ListByPartnerInPeriod(ctx, partnerID, start, end)
	if err != nil {
		return models.Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to gather conversions")
	}

	snap := models.Snapshot{
		ConversionIDs:    make([]domain.ConversionID, len(conversions)),
		TotalConversions: len(conversions),
	}
	for i, c := range conversions {
		snap.ConversionIDs[i] = c.ID
		snap.TotalRevenue += c.Amount
		snap.TotalCommission += c.CommissionAmount
	}
	snap.Fingerprint = fingerprint.Snapshot(snap.ConversionIDs)
	return snap, nil
}

// Approve flips a DRAFT entry to APPROVED. The caller's fingerprint must
// match the stored one, and the stored one must match a fresh recomputation
// from the stored conversion-id set; either mismatch is an integrity
// failure that leaves the entry untouched. The flip runs under serializable
// isolation so concurrent approvals cannot both succeed.
func (s *Service) Approve(ctx context.Context, payoutID domain.PayoutID, providedFingerprint, reason string) (*models.PayoutLedgerEntry, error) {
	ctx, span := s.tracer.Start(ctx, "payout.Approve",
		trace.WithAttributes(attribute.String("payout_id", payoutID.String())))
	defer span.End()

	if payoutID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "payout_id is required")
	}
	if providedFingerprint == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "snapshot_fingerprint is required")
	}
	approver := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)
	start := time.Now()

	var entry *models.PayoutLedgerEntry
	err := s.tx.RunSerializable(ctx, s.approveTimeout, func(txCtx context.Context) error {
		updated, err := s.payouts.Execute(txCtx, payoutID,
			func(e *models.PayoutLedgerEntry) error {
				if err := e.RequireStatus(models.StatusDraft); err != nil {
					return err
				}
				if providedFingerprint != e.SnapshotFingerprint {
					return dErrors.New(dErrors.CodeIntegrityViolation,
						"provided fingerprint does not match stored snapshot")
				}
				if e.RecomputeFingerprint() != e.SnapshotFingerprint {
					return dErrors.New(dErrors.CodeIntegrityViolation,
						"stored snapshot fails fingerprint recomputation")
				}
				return nil
			},
			func(e *models.PayoutLedgerEntry) {
				e.Status = models.StatusApproved
				e.ApprovedBy = approver
				e.ApprovedAt = &now
				e.ApprovalReason = reason
				e.UpdatedAt = now
			},
		)
		if err != nil {
			return err
		}
		s.auditor.Record(txCtx, audit.Entry{
			EntityType: "payout",
			EntityID:   updated.ID.String(),
			Action:     audit.ActionPayoutApproved,
			Actor:      approver,
			Before:     map[string]any{"status": models.StatusDraft},
			After:      map[string]any{"status": updated.Status, "fingerprint": updated.SnapshotFingerprint},
		})
		entry = updated
		return nil
	})
	if s.metrics != nil {
		s.metrics.ApprovalDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, s.translateApproveErr(ctx, err)
	}

	if s.metrics != nil {
		s.metrics.StatusTransitions.WithLabelValues(string(models.StatusApproved)).Inc()
	}
	s.notifier.Publish(ctx, notify.EventApproved, statusEvent(entry))
	return entry, nil
}

func (s *Service) translateApproveErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "payout not found")
	case errors.Is(err, sentinel.ErrConflict):
		// Serialization failure: the concurrent winner already advanced the
		// entry, so the loser reports a state mismatch.
		return dErrors.New(dErrors.CodeStateMismatch, "payout was modified concurrently")
	case dErrors.HasCode(err, dErrors.CodeIntegrityViolation):
		if s.metrics != nil {
			s.metrics.IntegrityFailures.Inc()
		}
		s.logger.ErrorContext(ctx, "payout snapshot verification failed", "error", err)
		return err
	default:
		return err
	}
}

// MarkProcessing flips an APPROVED entry to PROCESSING.
func (s *Service) MarkProcessing(ctx context.Context, payoutID domain.PayoutID) (*models.PayoutLedgerEntry, error) {
	now := requestcontext.Now(ctx)
	entry, err := s.transition(ctx, payoutID, models.StatusApproved, audit.ActionPayoutProcessing,
		func(e *models.PayoutLedgerEntry) {
			e.Status = models.StatusProcessing
			e.UpdatedAt = now
		})
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(ctx, notify.EventProcessing, statusEvent(entry))
	return entry, nil
}

// MarkPaid flips a PROCESSING entry to PAID, recording how it was paid.
func (s *Service) MarkPaid(ctx context.Context, payoutID domain.PayoutID, paymentMethod, paymentReference string) (*models.PayoutLedgerEntry, error) {
	if paymentMethod == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "payment_method is required")
	}
	now := requestcontext.Now(ctx)
	entry, err := s.transition(ctx, payoutID, models.StatusProcessing, audit.ActionPayoutPaid,
		func(e *models.PayoutLedgerEntry) {
			e.Status = models.StatusPaid
			e.PaymentMethod = paymentMethod
			e.PaymentReference = paymentReference
			e.PaidAt = &now
			e.UpdatedAt = now
		})
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(ctx, notify.EventPaid, statusEvent(entry))
	return entry, nil
}

func (s *Service) transition(ctx context.Context, payoutID domain.PayoutID, required models.PayoutStatus, action audit.Action, mutate func(*models.PayoutLedgerEntry)) (*models.PayoutLedgerEntry, error) {
	if payoutID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "payout_id is required")
	}

	var entry *models.PayoutLedgerEntry
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		updated, err := s.payouts.Execute(txCtx, payoutID,
			func(e *models.PayoutLedgerEntry) error { return e.RequireStatus(required) },
			mutate,
		)
		if err != nil {
			return err
		}
		s.auditor.Record(txCtx, audit.Entry{
			EntityType: "payout",
			EntityID:   updated.ID.String(),
			Action:     action,
			Before:     map[string]any{"status": required},
			After:      map[string]any{"status": updated.Status},
		})
		entry = updated
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "payout not found")
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.StatusTransitions.WithLabelValues(string(entry.Status)).Inc()
	}
	return entry, nil
}

// CreateAdjustment appends a compensating entry against a PAID payout and
// flips the original to ADJUSTED in the same transaction. Negative amounts
// are clawbacks.
func (s *Service) CreateAdjustment(ctx context.Context, originalID domain.PayoutID, amount float64, reason string) (*models.PayoutLedgerEntry, error) {
	ctx, span := s.tracer.Start(ctx, "payout.CreateAdjustment",
		trace.WithAttributes(attribute.String("payout_id", originalID.String())))
	defer span.End()

	if originalID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "payout_id is required")
	}
	if err := models.ValidateAdjustment(amount, reason); err != nil {
		return nil, err
	}
	approver := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	var adjustment *models.PayoutLedgerEntry
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		original, err := s.payouts.Execute(txCtx, originalID,
			func(e *models.PayoutLedgerEntry) error {
				if e.Type != models.TypePayout {
					return dErrors.New(dErrors.CodeValidation, "adjustments must reference a payout entry")
				}
				return e.RequireStatus(models.StatusPaid)
			},
			func(e *models.PayoutLedgerEntry) {
				e.Status = models.StatusAdjusted
				e.UpdatedAt = now
			},
		)
		if err != nil {
			return err
		}

		adj := models.NewAdjustment(domain.NewPayoutID(), original, amount, reason, approver, now)
		if err := s.payouts.Create(txCtx, adj); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create adjustment")
		}

		s.auditor.Record(txCtx, audit.Entry{
			EntityType: "payout",
			EntityID:   original.ID.String(),
			Action:     audit.ActionPayoutAdjusted,
			Actor:      approver,
			Before:     map[string]any{"status": models.StatusPaid},
			After:      map[string]any{"status": original.Status, "adjustment_id": adj.ID.String()},
		})
		s.auditor.Record(txCtx, audit.Entry{
			EntityType: "payout",
			EntityID:   adj.ID.String(),
			Action:     audit.ActionAdjustmentCreated,
			Actor:      approver,
			After:      adj,
		})
		adjustment = adj
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "payout not found")
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.AdjustmentsCreated.WithLabelValues(string(adjustment.Type)).Inc()
	}
	return adjustment, nil
}

// GetPayout retrieves a ledger entry by ID.
func (s *Service) GetPayout(ctx context.Context, payoutID domain.PayoutID) (*models.PayoutLedgerEntry, error) {
	entry, err := s.payouts.FindByID(ctx, payoutID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "payout not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payout")
	}
	return entry, nil
}

// ListByPartner returns a page of a partner's ledger entries.
func (s *Service) ListByPartner(ctx context.Context, partnerID domain.PartnerID, page pagination.Page) (pagination.Result[*models.PayoutLedgerEntry], error) {
	if partnerID.IsNil() {
		return pagination.Result[*models.PayoutLedgerEntry]{}, dErrors.New(dErrors.CodeBadRequest, "partner_id is required")
	}
	items, total, err := s.payouts.ListByPartner(ctx, partnerID, page)
	if err != nil {
		return pagination.Result[*models.PayoutLedgerEntry]{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list payouts")
	}
	return pagination.NewResult(items, total, page), nil
}

// ListByStatus returns a page of ledger entries in a given status.
func (s *Service) ListByStatus(ctx context.Context, status models.PayoutStatus, page pagination.Page) (pagination.Result[*models.PayoutLedgerEntry], error) {
	if !status.Valid() {
		return pagination.Result[*models.PayoutLedgerEntry]{}, dErrors.Newf(dErrors.CodeValidation, "unknown payout status %q", status)
	}
	items, total, err := s.payouts.ListByStatus(ctx, status, page)
	if err != nil {
		return pagination.Result[*models.PayoutLedgerEntry]{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list payouts")
	}
	return pagination.NewResult(items, total, page), nil
}

// History separates a partner's ledger into payouts and corrections and
// sums net-paid: commission of every payout that reached payment (PAID or
// later ADJUSTED) plus every correction amount. Net-paid can be negative.
type History struct {
	Payouts     []*models.PayoutLedgerEntry `json:"payouts"`
	Corrections []*models.PayoutLedgerEntry `json:"corrections"`
	Summary     HistorySummary              `json:"summary"`
}

type HistorySummary struct {
	TotalPaid      float64 `json:"total_paid"`
	TotalCorrected float64 `json:"total_corrected"`
	NetPaid        float64 `json:"net_paid"`
}

// History returns the full payout/correction history for a partner.
func (s *Service) History(ctx context.Context, partnerID domain.PartnerID) (*History, error) {
	if partnerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "partner_id is required")
	}
	entries, err := s.payouts.ListAllByPartner(ctx, partnerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payout history")
	}

	h := &History{
		Payouts:     []*models.PayoutLedgerEntry{},
		Corrections: []*models.PayoutLedgerEntry{},
	}
	for _, e := range entries {
		if e.Type.IsCorrection() {
			h.Corrections = append(h.Corrections, e)
			h.Summary.TotalCorrected += e.TotalCommission
			continue
		}
		h.Payouts = append(h.Payouts, e)
		if e.Status == models.StatusPaid || e.Status == models.StatusAdjusted {
			h.Summary.TotalPaid += e.TotalCommission
		}
	}
	h.Summary.NetPaid = h.Summary.TotalPaid + h.Summary.TotalCorrected
	return h, nil
}

func statusEvent(e *models.PayoutLedgerEntry) map[string]any {
	return map[string]any{
		"payout_id":  e.ID.String(),
		"partner_id": e.PartnerID.String(),
		"status":     string(e.Status),
		"type":       string(e.Type),
		"commission": e.TotalCommission,
	}
}
