package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	owner_id INTEGER NOT NULL,
	phone TEXT NOT NULL,
	blob TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (owner_id, phone)
);
CREATE TABLE IF NOT EXISTS filters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id INTEGER NOT NULL,
	phone TEXT NOT NULL,
	kind TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_filters_credential ON filters(owner_id, phone);
`

// sqliteStore implements CredentialRepo and FilterRepo on an embedded SQLite file
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at dbPath.
// ":memory:" opens a private in-memory database.
func NewSQLiteStore(dbPath string) (Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

const sqliteUpsert = `
	INSERT INTO credentials (owner_id, phone, blob, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(owner_id, phone) DO UPDATE SET blob = excluded.blob
`

// Put creates or replaces a credential
func (s *sqliteStore) Put(ctx context.Context, cred *domain.Credential) error {
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, sqliteUpsert, int64(cred.Owner), cred.Phone, cred.Blob, cred.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// PutWithinQuota counts the owner's other credentials and upserts in one transaction
func (s *sqliteStore) PutWithinQuota(ctx context.Context, cred *domain.Credential, max int) error {
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var others int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials WHERE owner_id = ? AND phone <> ?`,
		int64(cred.Owner), cred.Phone,
	).Scan(&others)
	if err != nil {
		return fmt.Errorf("failed to count credentials: %w", err)
	}
	if others >= max {
		return domain.NewError(domain.KindQuotaExceeded, fmt.Sprintf("limit of %d sessions reached", max))
	}

	if _, err := tx.ExecContext(ctx, sqliteUpsert, int64(cred.Owner), cred.Phone, cred.Blob, cred.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credential: %w", err)
	}
	return nil
}

// Get returns the credential or nil if missing
func (s *sqliteStore) Get(ctx context.Context, owner domain.OwnerID, phone string) (*domain.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT owner_id, phone, blob, created_at
		FROM credentials
		WHERE owner_id = ? AND phone = ?
	`, int64(owner), phone)

	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}
	return cred, nil
}

// ListByOwner lists credentials in creation order
func (s *sqliteStore) ListByOwner(ctx context.Context, owner domain.OwnerID) ([]*domain.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, phone, blob, created_at
		FROM credentials
		WHERE owner_id = ?
		ORDER BY rowid
	`, int64(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*domain.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// CountByOwner counts credentials of an owner
func (s *sqliteStore) CountByOwner(ctx context.Context, owner domain.OwnerID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials WHERE owner_id = ?`, int64(owner)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count credentials: %w", err)
	}
	return n, nil
}

// Delete removes a credential
func (s *sqliteStore) Delete(ctx context.Context, owner domain.OwnerID, phone string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE owner_id = ? AND phone = ?`, int64(owner), phone)
	if err != nil {
		return false, fmt.Errorf("failed to delete credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete credential: %w", err)
	}
	return n > 0, nil
}

// Add appends a filter and sets its ID
func (s *sqliteStore) Add(ctx context.Context, f *domain.Filter) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO filters (owner_id, phone, kind, value, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, int64(f.Owner), f.Phone, string(f.Kind), f.Value, f.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to add filter: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read filter id: %w", err)
	}
	f.ID = id
	return nil
}

// List returns the filters of a credential in insertion order
func (s *sqliteStore) List(ctx context.Context, ref domain.CredentialRef) ([]*domain.Filter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, phone, kind, value, created_at
		FROM filters
		WHERE owner_id = ? AND phone = ?
		ORDER BY id
	`, int64(ref.Owner), ref.Phone)
	if err != nil {
		return nil, fmt.Errorf("failed to list filters: %w", err)
	}
	defer rows.Close()

	var filters []*domain.Filter
	for rows.Next() {
		var f domain.Filter
		var owner, createdAt int64
		var kind string
		if err := rows.Scan(&f.ID, &owner, &f.Phone, &kind, &f.Value, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan filter: %w", err)
		}
		f.Owner = domain.OwnerID(owner)
		f.Kind = domain.FilterKind(kind)
		f.CreatedAt = time.Unix(createdAt, 0)
		filters = append(filters, &f)
	}
	return filters, rows.Err()
}

// DeleteByCredential drops every filter of a credential
func (s *sqliteStore) DeleteByCredential(ctx context.Context, ref domain.CredentialRef) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM filters WHERE owner_id = ? AND phone = ?`, int64(ref.Owner), ref.Phone)
	if err != nil {
		return 0, fmt.Errorf("failed to delete filters: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*domain.Credential, error) {
	var cred domain.Credential
	var owner, createdAt int64
	if err := row.Scan(&owner, &cred.Phone, &cred.Blob, &createdAt); err != nil {
		return nil, err
	}
	cred.Owner = domain.OwnerID(owner)
	cred.CreatedAt = time.Unix(createdAt, 0)
	return &cred, nil
}
