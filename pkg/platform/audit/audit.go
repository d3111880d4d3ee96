// Package audit is the append-only audit trail binding. Every state-changing
// operation in the core records a before/after snapshot through a Recorder.
//
// The one hard rule: an audit failure never blocks or rolls back the business
// operation it describes. Recorder swallows store errors, logs them to the
// operational log, and returns a zero log ID. Correctness degrades to
// observability loss, never to a lost business write.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"refledger/pkg/domain"
	"refledger/pkg/requestcontext"
)

// Action names a state-changing operation in the audit trail.
type Action string

const (
	ActionPartnerCreated       Action = "partner_created"
	ActionPartnerStatusChanged Action = "partner_status_changed"
	ActionCafeCreated          Action = "cafe_created"
	ActionCafeUpdated          Action = "cafe_updated"
	ActionLinkCreated          Action = "link_created"
	ActionLinkRevoked          Action = "link_revoked"
	ActionClickRecorded        Action = "click_recorded"
	ActionConversionAttributed Action = "conversion_attributed"
	ActionPayoutCalculated     Action = "payout_calculated"
	ActionPayoutRecalculated   Action = "payout_recalculated"
	ActionPayoutApproved       Action = "payout_approved"
	ActionPayoutProcessing     Action = "payout_processing"
	ActionPayoutPaid           Action = "payout_paid"
	ActionPayoutAdjusted       Action = "payout_adjusted"
	ActionAdjustmentCreated    Action = "adjustment_created"
)

// Record is one append-only audit row. Never updated or deleted.
type Record struct {
	ID         domain.AuditLogID
	EntityType string
	EntityID   string
	Action     Action
	Actor      string
	Before     json.RawMessage
	After      json.RawMessage
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Store persists audit records. Implementations must be tx-aware: when the
// context carries a transaction, the append joins it so the audit row and
// the business write commit together.
type Store interface {
	Append(ctx context.Context, record *Record) error
}

// Entry is the caller-facing shape; Before/After are marshaled to JSON by
// the Recorder.
type Entry struct {
	EntityType string
	EntityID   string
	Action     Action
	Actor      string
	Before     any
	After      any
	Metadata   map[string]any
}

// Recorder writes audit entries and absorbs failures.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder constructs a Recorder. A nil logger falls back to slog.Default.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Record appends an audit record. Returns the log ID, or the zero ID when
// the append failed or no store is configured; it never returns an error.
func (r *Recorder) Record(ctx context.Context, entry Entry) domain.AuditLogID {
	if r == nil || r.store == nil {
		return domain.AuditLogID{}
	}

	record := &Record{
		ID:         domain.NewAuditLogID(),
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Actor:      entry.Actor,
		Metadata:   entry.Metadata,
		CreatedAt:  requestcontext.Now(ctx),
	}
	if record.Actor == "" {
		record.Actor = requestcontext.Actor(ctx)
	}

	var err error
	if record.Before, err = marshalSnapshot(entry.Before); err != nil {
		r.logFailure(ctx, entry, err)
		return domain.AuditLogID{}
	}
	if record.After, err = marshalSnapshot(entry.After); err != nil {
		r.logFailure(ctx, entry, err)
		return domain.AuditLogID{}
	}

	if err := r.store.Append(ctx, record); err != nil {
		r.logFailure(ctx, entry, err)
		return domain.AuditLogID{}
	}
	return record.ID
}

func marshalSnapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (r *Recorder) logFailure(ctx context.Context, entry Entry, err error) {
	r.logger.ErrorContext(ctx, "audit record failed",
		"entity_type", entry.EntityType,
		"entity_id", entry.EntityID,
		"action", entry.Action,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}
