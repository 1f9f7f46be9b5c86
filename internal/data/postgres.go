package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
)

var pgMigrations = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
		seq BIGSERIAL,
		owner_id BIGINT NOT NULL,
		phone TEXT NOT NULL,
		blob TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (owner_id, phone)
	)`,
	`CREATE TABLE IF NOT EXISTS filters (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		phone TEXT NOT NULL,
		kind TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_filters_credential ON filters(owner_id, phone)`,
}

// pgStore implements CredentialRepo and FilterRepo on PostgreSQL
type pgStore struct {
	pool *pgxpool.Pool
}

// PGConfig configures the pgx pool
type PGConfig struct {
	URL      string
	MaxConns int32
}

// NewPostgresStore connects, applies migrations and returns the store
func NewPostgresStore(ctx context.Context, cfg PGConfig) (Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &pgStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *pgStore) migrate(ctx context.Context) error {
	for _, stmt := range pgMigrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

const pgUpsert = `
	INSERT INTO credentials (owner_id, phone, blob, created_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (owner_id, phone) DO UPDATE SET blob = EXCLUDED.blob
`

// Put creates or replaces a credential
func (s *pgStore) Put(ctx context.Context, cred *domain.Credential) error {
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}
	if _, err := s.pool.Exec(ctx, pgUpsert, int64(cred.Owner), cred.Phone, cred.Blob, cred.CreatedAt); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// PutWithinQuota holds a per-owner advisory lock while counting and upserting
func (s *pgStore) PutWithinQuota(ctx context.Context, cred *domain.Credential, max int) error {
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(cred.Owner)); err != nil {
			return fmt.Errorf("failed to lock owner: %w", err)
		}
		var others int
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM credentials WHERE owner_id = $1 AND phone <> $2`,
			int64(cred.Owner), cred.Phone,
		).Scan(&others)
		if err != nil {
			return fmt.Errorf("failed to count credentials: %w", err)
		}
		if others >= max {
			return domain.NewError(domain.KindQuotaExceeded, fmt.Sprintf("limit of %d sessions reached", max))
		}
		if _, err := tx.Exec(ctx, pgUpsert, int64(cred.Owner), cred.Phone, cred.Blob, cred.CreatedAt); err != nil {
			return fmt.Errorf("failed to save credential: %w", err)
		}
		return nil
	})
}

// Get returns the credential or nil if missing
func (s *pgStore) Get(ctx context.Context, owner domain.OwnerID, phone string) (*domain.Credential, error) {
	var cred domain.Credential
	var ownerID int64
	err := s.pool.QueryRow(ctx, `
		SELECT owner_id, phone, blob, created_at
		FROM credentials
		WHERE owner_id = $1 AND phone = $2
	`, int64(owner), phone).Scan(&ownerID, &cred.Phone, &cred.Blob, &cred.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}
	cred.Owner = domain.OwnerID(ownerID)
	return &cred, nil
}

// ListByOwner lists credentials in creation order
func (s *pgStore) ListByOwner(ctx context.Context, owner domain.OwnerID) ([]*domain.Credential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT owner_id, phone, blob, created_at
		FROM credentials
		WHERE owner_id = $1
		ORDER BY seq
	`, int64(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*domain.Credential
	for rows.Next() {
		var cred domain.Credential
		var ownerID int64
		if err := rows.Scan(&ownerID, &cred.Phone, &cred.Blob, &cred.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		cred.Owner = domain.OwnerID(ownerID)
		creds = append(creds, &cred)
	}
	return creds, rows.Err()
}

// CountByOwner counts credentials of an owner
func (s *pgStore) CountByOwner(ctx context.Context, owner domain.OwnerID) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM credentials WHERE owner_id = $1`, int64(owner)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count credentials: %w", err)
	}
	return n, nil
}

// Delete removes a credential
func (s *pgStore) Delete(ctx context.Context, owner domain.OwnerID, phone string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM credentials WHERE owner_id = $1 AND phone = $2`, int64(owner), phone)
	if err != nil {
		return false, fmt.Errorf("failed to delete credential: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Add appends a filter and sets its ID
func (s *pgStore) Add(ctx context.Context, f *domain.Filter) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO filters (owner_id, phone, kind, value, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, int64(f.Owner), f.Phone, string(f.Kind), f.Value, f.CreatedAt).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("failed to add filter: %w", err)
	}
	return nil
}

// List returns the filters of a credential in insertion order
func (s *pgStore) List(ctx context.Context, ref domain.CredentialRef) ([]*domain.Filter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, phone, kind, value, created_at
		FROM filters
		WHERE owner_id = $1 AND phone = $2
		ORDER BY id
	`, int64(ref.Owner), ref.Phone)
	if err != nil {
		return nil, fmt.Errorf("failed to list filters: %w", err)
	}
	defer rows.Close()

	var filters []*domain.Filter
	for rows.Next() {
		var f domain.Filter
		var ownerID int64
		var kind string
		if err := rows.Scan(&f.ID, &ownerID, &f.Phone, &kind, &f.Value, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan filter: %w", err)
		}
		f.Owner = domain.OwnerID(ownerID)
		f.Kind = domain.FilterKind(kind)
		filters = append(filters, &f)
	}
	return filters, rows.Err()
}

// DeleteByCredential drops every filter of a credential
func (s *pgStore) DeleteByCredential(ctx context.Context, ref domain.CredentialRef) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM filters WHERE owner_id = $1 AND phone = $2`, int64(ref.Owner), ref.Phone)
	if err != nil {
		return 0, fmt.Errorf("failed to delete filters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close closes the pool
func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}
