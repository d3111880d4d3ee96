package models

import (
	"strings"
	"time"

	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
	"refledger/pkg/platform/fingerprint"
)

// PayoutStatus is the ledger entry state machine:
// DRAFT → APPROVED → PROCESSING → PAID, with PAID → ADJUSTED as the only
// side branch (triggered by adjustment creation, never directly).
type PayoutStatus string

const (
	StatusDraft      PayoutStatus = "DRAFT"
	StatusApproved   PayoutStatus = "APPROVED"
	StatusProcessing PayoutStatus = "PROCESSING"
	StatusPaid       PayoutStatus = "PAID"
	StatusAdjusted   PayoutStatus = "ADJUSTED"
)

func (s PayoutStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusApproved, StatusProcessing, StatusPaid, StatusAdjusted:
		return true
	}
	return false
}

// LedgerType distinguishes period payouts from correction entries.
type LedgerType string

const (
	TypePayout     LedgerType = "PAYOUT"
	TypeAdjustment LedgerType = "ADJUSTMENT"
	TypeClawback   LedgerType = "CLAWBACK"
)

// IsCorrection reports whether the ledger type is an appended correction
// rather than a period payout.
func (t LedgerType) IsCorrection() bool {
	return t == TypeAdjustment || t == TypeClawback
}

// PayoutLedgerEntry is a row in the financial ledger. PAYOUT entries
// aggregate a period's conversions behind a snapshot fingerprint;
// ADJUSTMENT and CLAWBACK entries are compensating records referencing a
// PAID original. Entries are never deleted; corrections are appended.
type PayoutLedgerEntry struct {
	ID                  domain.PayoutID       `json:"id"`
	PartnerID           domain.PartnerID      `json:"partner_id"`
	PeriodStart         time.Time             `json:"period_start"`
	PeriodEnd           time.Time             `json:"period_end"`
	Type                LedgerType            `json:"type"`
	Status              PayoutStatus          `json:"status"`
	SnapshotFingerprint string                `json:"snapshot_fingerprint"`
	ConversionIDs       []domain.ConversionID `json:"conversion_ids"`
	TotalConversions    int                   `json:"total_conversions"`
	TotalRevenue        float64               `json:"total_revenue"`
	TotalCommission     float64               `json:"total_commission"`
	ApprovedBy          string                `json:"approved_by,omitempty"`
	ApprovedAt          *time.Time            `json:"approved_at,omitempty"`
	ApprovalReason      string                `json:"approval_reason,omitempty"`
	PaymentMethod       string                `json:"payment_method,omitempty"`
	PaymentReference    string                `json:"payment_reference,omitempty"`
	PaidAt              *time.Time            `json:"paid_at,omitempty"`
	ReferenceLedgerID   *domain.PayoutID      `json:"reference_ledger_id,omitempty"`
	AdjustmentReason    string                `json:"adjustment_reason,omitempty"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

var transitions = map[PayoutStatus]PayoutStatus{
	StatusDraft:      StatusApproved,
	StatusApproved:   StatusProcessing,
	StatusProcessing: StatusPaid,
	StatusPaid:       StatusAdjusted,
}

// RequireStatus fails with a state mismatch reporting both the required and
// actual status.
func (e *PayoutLedgerEntry) RequireStatus(required PayoutStatus) error {
	if e.Status != required {
		return dErrors.Newf(dErrors.CodeStateMismatch,
			"payout must be %s, is %s", required, e.Status)
	}
	return nil
}

// CanTransitionTo verifies the requested flip is the single legal successor
// of the current status.
func (e *PayoutLedgerEntry) CanTransitionTo(next PayoutStatus) error {
	if transitions[e.Status] != next {
		return dErrors.Newf(dErrors.CodeStateMismatch,
			"cannot transition payout from %s to %s", e.Status, next)
	}
	return nil
}

// RecomputeFingerprint derives the snapshot fingerprint from the stored
// conversion-id set. It must equal SnapshotFingerprint for any entry that
// has not been recalculated while DRAFT.
func (e *PayoutLedgerEntry) RecomputeFingerprint() string {
	return fingerprint.Snapshot(e.ConversionIDs)
}

// Snapshot is the conversion aggregate a DRAFT entry carries.
type Snapshot struct {
	ConversionIDs    []domain.ConversionID
	TotalConversions int
	TotalRevenue     float64
	TotalCommission  float64
	Fingerprint      string
}

// ApplySnapshot overwrites the entry's snapshot fields. Legal only while
// DRAFT; the caller enforces that under lock.
func (e *PayoutLedgerEntry) ApplySnapshot(snap Snapshot, now time.Time) {
	e.ConversionIDs = snap.ConversionIDs
	e.TotalConversions = snap.TotalConversions
	e.TotalRevenue = snap.TotalRevenue
	e.TotalCommission = snap.TotalCommission
	e.SnapshotFingerprint = snap.Fingerprint
	e.UpdatedAt = now
}

// NewDraft constructs a DRAFT payout entry for a period.
func NewDraft(id domain.PayoutID, partnerID domain.PartnerID, periodStart, periodEnd time.Time, snap Snapshot, now time.Time) *PayoutLedgerEntry {
	return &PayoutLedgerEntry{
		ID:                  id,
		PartnerID:           partnerID,
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		Type:                TypePayout,
		Status:              StatusDraft,
		SnapshotFingerprint: snap.Fingerprint,
		ConversionIDs:       snap.ConversionIDs,
		TotalConversions:    snap.TotalConversions,
		TotalRevenue:        snap.TotalRevenue,
		TotalCommission:     snap.TotalCommission,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// ValidateAdjustment checks the adjustment inputs: a non-zero amount and a
// meaningful reason.
func ValidateAdjustment(amount float64, reason string) error {
	if amount == 0 {
		return dErrors.New(dErrors.CodeValidation, "adjustment amount cannot be zero")
	}
	if len(strings.TrimSpace(reason)) < 10 {
		return dErrors.New(dErrors.CodeValidation, "adjustment reason must be at least 10 characters")
	}
	return nil
}

// NewAdjustment constructs a pre-approved compensating entry against a PAID
// original. Negative amounts are clawbacks. The entry carries no
// conversions; the amount is its only commission total.
func NewAdjustment(id domain.PayoutID, original *PayoutLedgerEntry, amount float64, reason, approver string, now time.Time) *PayoutLedgerEntry {
	ledgerType := TypeAdjustment
	if amount < 0 {
		ledgerType = TypeClawback
	}
	ref := original.ID
	approvedAt := now
	return &PayoutLedgerEntry{
		ID:                  id,
		PartnerID:           original.PartnerID,
		PeriodStart:         original.PeriodStart,
		PeriodEnd:           original.PeriodEnd,
		Type:                ledgerType,
		Status:              StatusApproved,
		SnapshotFingerprint: fingerprint.Snapshot(nil),
		TotalConversions:    0,
		TotalCommission:     amount,
		ApprovedBy:          approver,
		ApprovedAt:          &approvedAt,
		ReferenceLedgerID:   &ref,
		AdjustmentReason:    strings.TrimSpace(reason),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}
