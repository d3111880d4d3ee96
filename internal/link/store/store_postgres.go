package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"refledger/internal/link/models"
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

// PostgresLinkStore persists links in PostgreSQL.
type PostgresLinkStore struct {
	db *sql.DB
}

// NewPostgresLinkStore constructs a PostgreSQL-backed link store.
func NewPostgresLinkStore(db *sql.DB) *PostgresLinkStore {
	return &PostgresLinkStore{db: db}
}

func (s *PostgresLinkStore) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const linkColumns = `id, cafe_id, short_code, target_url, utm_source, utm_medium, utm_campaign, clicks, status, expires_at, created_at, updated_at`

func (s *PostgresLinkStore) CreateIfCodeAvailable(ctx context.Context, link *models.Link) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO links (`+linkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, uuid.UUID(link.ID), uuid.UUID(link.CafeID), link.ShortCode, link.TargetURL,
		link.UTM.Source, link.UTM.Medium, link.UTM.Campaign,
		link.Clicks, string(link.Status), link.ExpiresAt, link.CreatedAt, link.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create link: %w", err)
	}
	return nil
}

func (s *PostgresLinkStore) FindByCode(ctx context.Context, shortCode string) (*models.Link, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+linkColumns+` FROM links WHERE short_code = $1
	`, shortCode)
	return scanLink(row)
}

func (s *PostgresLinkStore) FindByID(ctx context.Context, id domain.LinkID) (*models.Link, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+linkColumns+` FROM links WHERE id = $1
	`, uuid.UUID(id))
	return scanLink(row)
}

func (s *PostgresLinkStore) ListByCafe(ctx context.Context, cafeID domain.CafeID, page pagination.Page) ([]*models.Link, int, error) {
	var total int
	if err := s.q(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM links WHERE cafe_id = $1
	`, uuid.UUID(cafeID)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count links: %w", err)
	}

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+linkColumns+` FROM links
		WHERE cafe_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, uuid.UUID(cafeID), page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var links []*models.Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, 0, err
		}
		links = append(links, link)
	}
	return links, total, rows.Err()
}

func (s *PostgresLinkStore) ListAllByCafe(ctx context.Context, cafeID domain.CafeID) ([]*models.Link, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+linkColumns+` FROM links WHERE cafe_id = $1 ORDER BY id
	`, uuid.UUID(cafeID))
	if err != nil {
		return nil, fmt.Errorf("list links by cafe: %w", err)
	}
	defer rows.Close()

	var links []*models.Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// IncrementClicks bumps the counter in a single UPDATE so concurrent clicks
// never lose increments.
func (s *PostgresLinkStore) IncrementClicks(ctx context.Context, shortCode string) (*models.Link, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		UPDATE links SET clicks = clicks + 1
		WHERE short_code = $1
		RETURNING `+linkColumns+`
	`, shortCode)
	return scanLink(row)
}

func (s *PostgresLinkStore) Execute(ctx context.Context, id domain.LinkID, validate func(*models.Link) error, mutate func(*models.Link)) (*models.Link, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+linkColumns+` FROM links WHERE id = $1 FOR UPDATE
	`, uuid.UUID(id))
	link, err := scanLink(row)
	if err != nil {
		return nil, err
	}
	if err := validate(link); err != nil {
		return nil, err
	}
	mutate(link)

	_, err = s.q(ctx).ExecContext(ctx, `
		UPDATE links SET target_url = $2, clicks = $3, status = $4, updated_at = $5
		WHERE id = $1
	`, uuid.UUID(link.ID), link.TargetURL, link.Clicks, string(link.Status), link.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update link: %w", err)
	}
	return link, nil
}

func (s *PostgresLinkStore) MarkExpired(ctx context.Context, now int64) (int, error) {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE links SET status = $1, updated_at = $2
		WHERE status = $3 AND expires_at < $2
	`, string(models.LinkStatusExpired), time.Unix(now, 0).UTC(), string(models.LinkStatusActive))
	if err != nil {
		return 0, fmt.Errorf("mark expired links: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark expired links: %w", err)
	}
	return int(n), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLink(row scannable) (*models.Link, error) {
	var link models.Link
	var id, cafeID uuid.UUID
	var status string
	err := row.Scan(&id, &cafeID, &link.ShortCode, &link.TargetURL,
		&link.UTM.Source, &link.UTM.Medium, &link.UTM.Campaign,
		&link.Clicks, &status, &link.ExpiresAt, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan link: %w", err)
	}
	link.ID = domain.LinkID(id)
	link.CafeID = domain.CafeID(cafeID)
	link.Status = models.LinkStatus(status)
	return &link, nil
}
