package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"refledger/internal/attribution/models"
	"refledger/pkg/domain"
	"refledger/pkg/platform/sentinel"
	txcontext "refledger/pkg/platform/tx"
)

const uniqueViolation = "23505"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresConversionStore persists conversions in PostgreSQL.
type PostgresConversionStore struct {
	db *sql.DB
}

// NewPostgresConversionStore constructs a PostgreSQL-backed conversion store.
func NewPostgresConversionStore(db *sql.DB) *PostgresConversionStore {
	return &PostgresConversionStore{db: db}
}

func (s *PostgresConversionStore) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const conversionColumns = `id, user_id, link_id, cafe_id, partner_id, ip_hash, ua_hash, amount, commission_rate, commission_amount, metadata, attributed_at`

func (s *PostgresConversionStore) CreateIfUserUnattributed(ctx context.Context, c *models.Conversion) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal conversion metadata: %w", err)
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO conversions (`+conversionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, uuid.UUID(c.ID), c.UserID, uuid.UUID(c.LinkID), uuid.UUID(c.CafeID), uuid.UUID(c.PartnerID),
		c.IPHash, c.UAHash, c.Amount, c.CommissionRate, c.CommissionAmount, metadata, c.AttributedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create conversion: %w", err)
	}
	return nil
}

func (s *PostgresConversionStore) FindByID(ctx context.Context, id domain.ConversionID) (*models.Conversion, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+conversionColumns+` FROM conversions WHERE id = $1
	`, uuid.UUID(id))
	return scanConversion(row)
}

func (s *PostgresConversionStore) FindByUser(ctx context.Context, userID string) (*models.Conversion, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+conversionColumns+` FROM conversions WHERE user_id = $1
	`, userID)
	return scanConversion(row)
}

func (s *PostgresConversionStore) FindLatestByClientHashes(ctx context.Context, ipHash, uaHash string, since time.Time) (*models.Conversion, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+conversionColumns+` FROM conversions
		WHERE ip_hash = $1 AND ua_hash = $2 AND attributed_at >= $3
		ORDER BY attributed_at DESC, id DESC
		LIMIT 1
	`, ipHash, uaHash, since)
	return scanConversion(row)
}

func (s *PostgresConversionStore) ListByPartnerInPeriod(ctx context.Context, partnerID domain.PartnerID, start, end time.Time) ([]*models.Conversion, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+conversionColumns+` FROM conversions
		WHERE partner_id = $1 AND attributed_at >= $2 AND attributed_at <= $3
		ORDER BY attributed_at, id
	`, uuid.UUID(partnerID), start, end)
	if err != nil {
		return nil, fmt.Errorf("list conversions by partner: %w", err)
	}
	return collectConversions(rows)
}

func (s *PostgresConversionStore) ListByLinks(ctx context.Context, linkIDs []domain.LinkID, start, end time.Time) ([]*models.Conversion, error) {
	ids := make([]uuid.UUID, len(linkIDs))
	for i, id := range linkIDs {
		ids[i] = uuid.UUID(id)
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+conversionColumns+` FROM conversions
		WHERE link_id = ANY($1) AND attributed_at >= $2 AND attributed_at <= $3
		ORDER BY attributed_at, id
	`, pq.Array(ids), start, end)
	if err != nil {
		return nil, fmt.Errorf("list conversions by links: %w", err)
	}
	return collectConversions(rows)
}

func collectConversions(rows *sql.Rows) ([]*models.Conversion, error) {
	defer rows.Close()
	var conversions []*models.Conversion
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, err
		}
		conversions = append(conversions, c)
	}
	return conversions, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanConversion(row scannable) (*models.Conversion, error) {
	var c models.Conversion
	var id, linkID, cafeID, partnerID uuid.UUID
	var metadata []byte
	err := row.Scan(&id, &c.UserID, &linkID, &cafeID, &partnerID,
		&c.IPHash, &c.UAHash, &c.Amount, &c.CommissionRate, &c.CommissionAmount,
		&metadata, &c.AttributedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan conversion: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal conversion metadata: %w", err)
		}
	}
	c.ID = domain.ConversionID(id)
	c.LinkID = domain.LinkID(linkID)
	c.CafeID = domain.CafeID(cafeID)
	c.PartnerID = domain.PartnerID(partnerID)
	return &c, nil
}
