package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"refledger/internal/payout/models"
	"refledger/pkg/domain"
	"refledger/pkg/pagination"
	"refledger/pkg/platform/sentinel"
	txcontext "refledger/pkg/platform/tx"
)

const uniqueViolation = "23505"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresPayoutStore persists ledger entries in PostgreSQL. The partial
// unique index on (partner_id, period_start, period_end) for PAYOUT-type
// rows backs the one-payout-per-period constraint.
type PostgresPayoutStore struct {
	db *sql.DB
}

// NewPostgresPayoutStore constructs a PostgreSQL-backed payout store.
func NewPostgresPayoutStore(db *sql.DB) *PostgresPayoutStore {
	return &PostgresPayoutStore{db: db}
}

func (s *PostgresPayoutStore) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const payoutColumns = `id, partner_id, period_start, period_end, type, status, snapshot_fingerprint, conversion_ids, total_conversions, total_revenue, total_commission, approved_by, approved_at, approval_reason, payment_method, payment_reference, paid_at, reference_ledger_id, adjustment_reason, created_at, updated_at`

func (s *PostgresPayoutStore) Create(ctx context.Context, e *models.PayoutLedgerEntry) error {
	ids := make([]uuid.UUID, len(e.ConversionIDs))
	for i, id := range e.ConversionIDs {
		ids[i] = uuid.UUID(id)
	}
	var ref *uuid.UUID
	if e.ReferenceLedgerID != nil {
		u := uuid.UUID(*e.ReferenceLedgerID)
		ref = &u
	}

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO payout_ledger_entries (`+payoutColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, uuid.UUID(e.ID), uuid.UUID(e.PartnerID), e.PeriodStart, e.PeriodEnd,
		string(e.Type), string(e.Status), e.SnapshotFingerprint, pq.Array(ids),
		e.TotalConversions, e.TotalRevenue, e.TotalCommission,
		nullIfEmpty(e.ApprovedBy), e.ApprovedAt, nullIfEmpty(e.ApprovalReason),
		nullIfEmpty(e.PaymentMethod), nullIfEmpty(e.PaymentReference), e.PaidAt,
		ref, nullIfEmpty(e.AdjustmentReason), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create payout entry: %w", err)
	}
	return nil
}

func (s *PostgresPayoutStore) FindByID(ctx context.Context, id domain.PayoutID) (*models.PayoutLedgerEntry, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+payoutColumns+` FROM payout_ledger_entries WHERE id = $1
	`, uuid.UUID(id))
	return scanEntry(row)
}

func (s *PostgresPayoutStore) FindPayoutByPeriod(ctx context.Context, partnerID domain.PartnerID, periodStart, periodEnd time.Time) (*models.PayoutLedgerEntry, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+payoutColumns+` FROM payout_ledger_entries
		WHERE partner_id = $1 AND period_start = $2 AND period_end = $3 AND type = $4
	`, uuid.UUID(partnerID), periodStart, periodEnd, string(models.TypePayout))
	return scanEntry(row)
}

func (s *PostgresPayoutStore) Execute(ctx context.Context, id domain.PayoutID, validate func(*models.PayoutLedgerEntry) error, mutate func(*models.PayoutLedgerEntry)) (*models.PayoutLedgerEntry, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+payoutColumns+` FROM payout_ledger_entries WHERE id = $1 FOR UPDATE
	`, uuid.UUID(id))
	entry, err := scanEntry(row)
	if err != nil {
		return nil, err
	}
	if err := validate(entry); err != nil {
		return nil, err
	}
	mutate(entry)

	ids := make([]uuid.UUID, len(entry.ConversionIDs))
	for i, cid := range entry.ConversionIDs {
		ids[i] = uuid.UUID(cid)
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		UPDATE payout_ledger_entries SET
			status = $2, snapshot_fingerprint = $3, conversion_ids = $4,
			total_conversions = $5, total_revenue = $6, total_commission = $7,
			approved_by = $8, approved_at = $9, approval_reason = $10,
			payment_method = $11, payment_reference = $12, paid_at = $13,
			updated_at = $14
		WHERE id = $1
	`, uuid.UUID(entry.ID), string(entry.Status), entry.SnapshotFingerprint, pq.Array(ids),
		entry.TotalConversions, entry.TotalRevenue, entry.TotalCommission,
		nullIfEmpty(entry.ApprovedBy), entry.ApprovedAt, nullIfEmpty(entry.ApprovalReason),
		nullIfEmpty(entry.PaymentMethod), nullIfEmpty(entry.PaymentReference), entry.PaidAt,
		entry.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update payout entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresPayoutStore) ListByPartner(ctx context.Context, partnerID domain.PartnerID, page pagination.Page) ([]*models.PayoutLedgerEntry, int, error) {
	return s.list(ctx, `partner_id = $1`, uuid.UUID(partnerID), page)
}

func (s *PostgresPayoutStore) ListByStatus(ctx context.Context, status models.PayoutStatus, page pagination.Page) ([]*models.PayoutLedgerEntry, int, error) {
	return s.list(ctx, `status = $1`, string(status), page)
}

func (s *PostgresPayoutStore) list(ctx context.Context, where string, arg any, page pagination.Page) ([]*models.PayoutLedgerEntry, int, error) {
	var total int
	if err := s.q(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payout_ledger_entries WHERE `+where, arg,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payout entries: %w", err)
	}

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM payout_ledger_entries
		WHERE `+where+`
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, arg, page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list payout entries: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *PostgresPayoutStore) ListAllByPartner(ctx context.Context, partnerID domain.PartnerID) ([]*models.PayoutLedgerEntry, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM payout_ledger_entries
		WHERE partner_id = $1
		ORDER BY created_at, id
	`, uuid.UUID(partnerID))
	if err != nil {
		return nil, fmt.Errorf("list payout entries: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]*models.PayoutLedgerEntry, error) {
	defer rows.Close()
	var entries []*models.PayoutLedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*models.PayoutLedgerEntry, error) {
	var e models.PayoutLedgerEntry
	var id, partnerID uuid.UUID
	var ledgerType, status string
	var ids []uuid.UUID
	var approvedBy, approvalReason, paymentMethod, paymentReference, adjustmentReason sql.NullString
	var approvedAt, paidAt sql.NullTime
	var ref uuid.NullUUID

	err := row.Scan(&id, &partnerID, &e.PeriodStart, &e.PeriodEnd,
		&ledgerType, &status, &e.SnapshotFingerprint, pq.Array(&ids),
		&e.TotalConversions, &e.TotalRevenue, &e.TotalCommission,
		&approvedBy, &approvedAt, &approvalReason,
		&paymentMethod, &paymentReference, &paidAt,
		&ref, &adjustmentReason, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan payout entry: %w", err)
	}

	e.ID = domain.PayoutID(id)
	e.PartnerID = domain.PartnerID(partnerID)
	e.Type = models.LedgerType(ledgerType)
	e.Status = models.PayoutStatus(status)
	if len(ids) > 0 {
		e.ConversionIDs = make([]domain.ConversionID, len(ids))
		for i, cid := range ids {
			e.ConversionIDs[i] = domain.ConversionID(cid)
		}
	}
	e.ApprovedBy = approvedBy.String
	e.ApprovalReason = approvalReason.String
	e.PaymentMethod = paymentMethod.String
	e.PaymentReference = paymentReference.String
	e.AdjustmentReason = adjustmentReason.String
	if approvedAt.Valid {
		t := approvedAt.Time
		e.ApprovedAt = &t
	}
	if paidAt.Valid {
		t := paidAt.Time
		e.PaidAt = &t
	}
	if ref.Valid {
		r := domain.PayoutID(ref.UUID)
		e.ReferenceLedgerID = &r
	}
	return &e, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
