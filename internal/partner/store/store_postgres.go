package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"refledger/internal/partner/models"
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

// PostgresPartnerStore persists partners in PostgreSQL.
type PostgresPartnerStore struct {
	db *sql.DB
}

// NewPostgresPartnerStore constructs a PostgreSQL-backed partner store.
func NewPostgresPartnerStore(db *sql.DB) *PostgresPartnerStore {
	return &PostgresPartnerStore{db: db}
}

func (s *PostgresPartnerStore) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresPartnerStore) CreateIfBusinessNumberAvailable(ctx context.Context, partner *models.Partner) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO partners (id, name, business_number, contact_email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.UUID(partner.ID), partner.Name, partner.BusinessNumber, partner.ContactEmail, string(partner.Status), partner.CreatedAt, partner.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create partner: %w", err)
	}
	return nil
}

func (s *PostgresPartnerStore) FindByID(ctx context.Context, id domain.PartnerID) (*models.Partner, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, name, business_number, contact_email, status, created_at, updated_at
		FROM partners WHERE id = $1
	`, uuid.UUID(id))
	return scanPartner(row)
}

func (s *PostgresPartnerStore) List(ctx context.Context, page pagination.Page) ([]*models.Partner, int, error) {
	var total int
	if err := s.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM partners`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count partners: %w", err)
	}

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, name, business_number, contact_email, status, created_at, updated_at
		FROM partners
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`, page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list partners: %w", err)
	}
	defer rows.Close()

	var partners []*models.Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, 0, err
		}
		partners = append(partners, p)
	}
	return partners, total, rows.Err()
}

// Execute validates and mutates one partner under SELECT ... FOR UPDATE.
// Must run inside a transaction (the service's tx runner provides one);
// without a transaction the row lock would be released immediately.
func (s *PostgresPartnerStore) Execute(ctx context.Context, id domain.PartnerID, validate func(*models.Partner) error, mutate func(*models.Partner)) (*models.Partner, error) {
	q := s.q(ctx)
	row := q.QueryRowContext(ctx, `
		SELECT id, name, business_number, contact_email, status, created_at, updated_at
		FROM partners WHERE id = $1
		FOR UPDATE
	`, uuid.UUID(id))
	partner, err := scanPartner(row)
	if err != nil {
		return nil, err
	}
	if err := validate(partner); err != nil {
		return nil, err
	}
	mutate(partner)
	_, err = q.ExecContext(ctx, `
		UPDATE partners SET name = $2, contact_email = $3, status = $4, updated_at = $5
		WHERE id = $1
	`, uuid.UUID(partner.ID), partner.Name, partner.ContactEmail, string(partner.Status), partner.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update partner: %w", err)
	}
	return partner, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPartner(row rowScanner) (*models.Partner, error) {
	var p models.Partner
	var id uuid.UUID
	var status string
	err := row.Scan(&id, &p.Name, &p.BusinessNumber, &p.ContactEmail, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan partner: %w", err)
	}
	p.ID = domain.PartnerID(id)
	p.Status = models.PartnerStatus(status)
	return &p, nil
}

// PostgresCafeStore persists cafes in PostgreSQL.
type PostgresCafeStore struct {
	db *sql.DB
}

// NewPostgresCafeStore constructs a PostgreSQL-backed cafe store.
func NewPostgresCafeStore(db *sql.DB) *PostgresCafeStore {
	return &PostgresCafeStore{db: db}
}

func (s *PostgresCafeStore) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresCafeStore) Create(ctx context.Context, cafe *models.Cafe) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO cafes (id, partner_id, name, commission_rate, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.UUID(cafe.ID), uuid.UUID(cafe.PartnerID), cafe.Name, cafe.CommissionRate, string(cafe.Status), cafe.CreatedAt, cafe.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create cafe: %w", err)
	}
	return nil
}

func (s *PostgresCafeStore) FindByID(ctx context.Context, id domain.CafeID) (*models.Cafe, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, partner_id, name, commission_rate, status, created_at, updated_at
		FROM cafes WHERE id = $1
	`, uuid.UUID(id))
	return scanCafe(row)
}

func (s *PostgresCafeStore) ListByPartner(ctx context.Context, partnerID domain.PartnerID, page pagination.Page) ([]*models.Cafe, int, error) {
	var total int
	if err := s.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM cafes WHERE partner_id = $1`, uuid.UUID(partnerID)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cafes: %w", err)
	}

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, partner_id, name, commission_rate, status, created_at, updated_at
		FROM cafes
		WHERE partner_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, uuid.UUID(partnerID), page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list cafes: %w", err)
	}
	defer rows.Close()

	var cafes []*models.Cafe
	for rows.Next() {
		c, err := scanCafe(rows)
		if err != nil {
			return nil, 0, err
		}
		cafes = append(cafes, c)
	}
	return cafes, total, rows.Err()
}

// ListAllByPartner returns every cafe for a partner; payout calculation and
// analytics expansion use it.
func (s *PostgresCafeStore) ListAllByPartner(ctx context.Context, partnerID domain.PartnerID) ([]*models.Cafe, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, partner_id, name, commission_rate, status, created_at, updated_at
		FROM cafes WHERE partner_id = $1
		ORDER BY id
	`, uuid.UUID(partnerID))
	if err != nil {
		return nil, fmt.Errorf("list cafes: %w", err)
	}
	defer rows.Close()

	var cafes []*models.Cafe
	for rows.Next() {
		c, err := scanCafe(rows)
		if err != nil {
			return nil, err
		}
		cafes = append(cafes, c)
	}
	return cafes, rows.Err()
}

func (s *PostgresCafeStore) Execute(ctx context.Context, id domain.CafeID, validate func(*models.Cafe) error, mutate func(*models.Cafe)) (*models.Cafe, error) {
	q := s.q(ctx)
	row := q.QueryRowContext(ctx, `
		SELECT id, partner_id, name, commission_rate, status, created_at, updated_at
		FROM cafes WHERE id = $1
		FOR UPDATE
	`, uuid.UUID(id))
	cafe, err := scanCafe(row)
	if err != nil {
		return nil, err
	}
	if err := validate(cafe); err != nil {
		return nil, err
	}
	mutate(cafe)
	_, err = q.ExecContext(ctx, `
		UPDATE cafes SET name = $2, commission_rate = $3, status = $4, updated_at = $5
		WHERE id = $1
	`, uuid.UUID(cafe.ID), cafe.Name, cafe.CommissionRate, string(cafe.Status), cafe.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update cafe: %w", err)
	}
	return cafe, nil
}

func scanCafe(row rowScanner) (*models.Cafe, error) {
	var c models.Cafe
	var id, partnerID uuid.UUID
	var status string
	err := row.Scan(&id, &partnerID, &c.Name, &c.CommissionRate, &status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan cafe: %w", err)
	}
	c.ID = domain.CafeID(id)
	c.PartnerID = domain.PartnerID(partnerID)
	c.Status = models.CafeStatus(status)
	return &c, nil
}
