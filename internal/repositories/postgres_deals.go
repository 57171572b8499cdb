package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const pgUniqueViolation = "23505"

const dealColumns = `id, source, external_post_id, title, price, url, thumbnail_url, category,
	posted_at, fetched_at, created_at, updated_at`

// PostgresDeals is the relational backend of the deal store.
type PostgresDeals struct {
	pool *pgxpool.Pool
}

func NewPostgresDeals(ctx context.Context, connString string) (*PostgresDeals, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresDeals{pool: pool}, nil
}

func (s *PostgresDeals) Close() {
	s.pool.Close()
}

func (s *PostgresDeals) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS deals (
			id               TEXT PRIMARY KEY,
			source           TEXT NOT NULL,
			external_post_id TEXT,
			title            TEXT NOT NULL DEFAULT '',
			price            TEXT NOT NULL DEFAULT '',
			url              TEXT NOT NULL DEFAULT '',
			thumbnail_url    TEXT NOT NULL DEFAULT '',
			category         TEXT NOT NULL DEFAULT '',
			posted_at        TIMESTAMPTZ,
			fetched_at       TIMESTAMPTZ NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_deals_identity ON deals (source, external_post_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate deals table: %w", err)
	}
	return nil
}

func (s *PostgresDeals) FindBySourceAndExternalID(ctx context.Context, source models.Source, externalID string) (*models.DealRecord, error) {
	if externalID == "" {
		return nil, nil
	}

	row := s.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE source = $1 AND external_post_id = $2`,
		string(source), externalID)

	record, err := scanDeal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *PostgresDeals) Create(ctx context.Context, item models.DealItem) (*models.DealRecord, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO deals (id, source, external_post_id, title, price, url, thumbnail_url, category, posted_at, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+dealColumns,
		uuid.NewString(), string(item.Source), nullString(item.ExternalPostID), item.Title, item.Price, item.URL,
		item.ThumbnailURL, item.Category, nullTime(item.PostedAt), item.FetchedAt.UTC(),
	)

	record, err := scanDeal(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, errors.Wrapf(models.ErrDuplicateDeal, "%s/%s", item.Source, item.ExternalPostID)
		}
		return nil, err
	}
	return record, nil
}

// Update writes the fields present on item; empty fields keep their stored value.
func (s *PostgresDeals) Update(ctx context.Context, id string, item models.DealItem) (*models.DealRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE deals SET
			title         = COALESCE(NULLIF($2, ''), title),
			price         = COALESCE(NULLIF($3, ''), price),
			url           = COALESCE(NULLIF($4, ''), url),
			thumbnail_url = COALESCE(NULLIF($5, ''), thumbnail_url),
			category      = COALESCE(NULLIF($6, ''), category),
			posted_at     = COALESCE($7, posted_at),
			fetched_at    = COALESCE($8, fetched_at),
			updated_at    = NOW()
		WHERE id = $1
		RETURNING `+dealColumns,
		id, item.Title, item.Price, item.URL, item.ThumbnailURL, item.Category,
		nullTime(item.PostedAt), nullTime(item.FetchedAt),
	)

	record, err := scanDeal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(models.ErrDealNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *PostgresDeals) Count(ctx context.Context, source models.Source) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM deals WHERE source = $1`, string(source)).Scan(&count)
	return count, err
}

func (s *PostgresDeals) RemoveOlderThan(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM deals WHERE fetched_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanDeal(row pgx.Row) (*models.DealRecord, error) {
	var (
		record     models.DealRecord
		source     string
		externalID *string
		postedAt   *time.Time
	)
	err := row.Scan(&record.ID, &source, &externalID, &record.Title, &record.Price, &record.URL,
		&record.ThumbnailURL, &record.Category, &postedAt, &record.FetchedAt, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	record.Source = models.Source(source)
	if externalID != nil {
		record.ExternalPostID = *externalID
	}
	if postedAt != nil {
		record.PostedAt = *postedAt
	}
	return &record, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
