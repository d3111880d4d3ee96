// Package postgres persists audit records in the audit_logs table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"refledger/pkg/domain"
	audit "refledger/pkg/platform/audit"
	txcontext "refledger/pkg/platform/tx"
)

// Store implements audit.Store over PostgreSQL. Appends are tx-aware: when
// the context carries a transaction the insert joins it, wrapped in a
// savepoint so a failed audit insert cannot poison the enclosing business
// transaction (the Recorder swallows the error; the business write must
// still be able to commit).
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL-backed audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const insertQuery = `
	INSERT INTO audit_logs (id, entity_type, entity_id, action, actor, before_state, after_state, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// Append writes one audit record.
func (s *Store) Append(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("audit record is required")
	}

	metadata, err := marshalMetadata(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	args := []any{
		uuid.UUID(record.ID),
		record.EntityType,
		record.EntityID,
		string(record.Action),
		record.Actor,
		nullJSON(record.Before),
		nullJSON(record.After),
		metadata,
		record.CreatedAt,
	}

	if tx, ok := txcontext.From(ctx); ok {
		return appendInSavepoint(ctx, tx, args)
	}
	if _, err := s.db.ExecContext(ctx, insertQuery, args...); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// Record aliases audit.Record so the insert arg builder and tests read
// naturally in this package.
type Record = audit.Record

func appendInSavepoint(ctx context.Context, tx *sql.Tx, args []any) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT audit_append"); err != nil {
		return fmt.Errorf("audit savepoint: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertQuery, args...); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT audit_append"); rbErr != nil {
			return fmt.Errorf("append audit record: %w (savepoint rollback: %v)", err, rbErr)
		}
		return fmt.Errorf("append audit record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT audit_append"); err != nil {
		return fmt.Errorf("audit savepoint release: %w", err)
	}
	return nil
}

func marshalMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// FindByEntity returns the audit trail for one entity, newest first. Query
// surface for operators; the core never reads its own trail.
func (s *Store) FindByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, action, actor, before_state, after_state, metadata, created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record := &Record{}
		var id uuid.UUID
		var action string
		var before, after, metadata []byte
		if err := rows.Scan(&id, &record.EntityType, &record.EntityID, &action, &record.Actor, &before, &after, &metadata, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		record.ID = domain.AuditLogID(id)
		record.Action = audit.Action(action)
		record.Before = before
		record.After = after
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
