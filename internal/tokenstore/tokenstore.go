// Package tokenstore persists CPSK tokens in SQLite so the router's
// capability grants survive a restart.
package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lumencanvas/clasp/pkg/security"
)

// ErrNotFound is returned when no token row exists for the given id.
var ErrNotFound = errors.New("clasp: token not found")

// Store persists CPSK token grants in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("clasp: token store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create token store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite token store: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("token store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS tokens (
	token_id TEXT PRIMARY KEY,
	subject TEXT NOT NULL,
	scopes TEXT NOT NULL,
	expires_at_unix_ms INTEGER,
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tokens_subject ON tokens(subject);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run token store migrations: %w", err)
	}
	return nil
}

// Put inserts or replaces a token record.
func (s *Store) Put(ctx context.Context, token string, info security.TokenInfo) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("clasp: token id is required")
	}
	scopesStr := encodeScopes(info.Scopes)
	var expires sql.NullInt64
	if info.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: info.ExpiresAt.UnixMilli(), Valid: true}
	}
	const q = `
INSERT INTO tokens (token_id, subject, scopes, expires_at_unix_ms, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(token_id) DO UPDATE SET subject=excluded.subject, scopes=excluded.scopes, expires_at_unix_ms=excluded.expires_at_unix_ms
`
	_, err := s.db.ExecContext(ctx, q, token, info.Subject, scopesStr, expires, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	slog.Debug("token persisted", "token_id", token, "subject", info.Subject)
	return nil
}

// Get retrieves a token record by its id.
func (s *Store) Get(ctx context.Context, token string) (security.TokenInfo, error) {
	const q = `SELECT subject, scopes, expires_at_unix_ms FROM tokens WHERE token_id = ?`
	row := s.db.QueryRowContext(ctx, q, token)
	var subject, scopesStr string
	var expires sql.NullInt64
	if err := row.Scan(&subject, &scopesStr, &expires); err != nil {
		if err == sql.ErrNoRows {
			return security.TokenInfo{}, ErrNotFound
		}
		return security.TokenInfo{}, fmt.Errorf("scan token: %w", err)
	}
	info := security.TokenInfo{TokenID: token, Subject: subject, Scopes: decodeScopes(scopesStr)}
	if expires.Valid {
		t := time.UnixMilli(expires.Int64)
		info.ExpiresAt = &t
	}
	return info, nil
}

// Delete removes a token record, returning whether it existed.
func (s *Store) Delete(ctx context.Context, token string) (bool, error) {
	const q = `DELETE FROM tokens WHERE token_id = ?`
	res, err := s.db.ExecContext(ctx, q, token)
	if err != nil {
		return false, fmt.Errorf("delete token: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// List returns every persisted token id.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token_id FROM tokens ORDER BY created_at_unix_ms`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan token id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// LoadAll returns every persisted token keyed by its id, for seeding a
// CpskValidator on startup.
func (s *Store) LoadAll(ctx context.Context) (map[string]security.TokenInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token_id, subject, scopes, expires_at_unix_ms FROM tokens`)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	defer rows.Close()
	out := make(map[string]security.TokenInfo)
	for rows.Next() {
		var id, subject, scopesStr string
		var expires sql.NullInt64
		if err := rows.Scan(&id, &subject, &scopesStr, &expires); err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		info := security.TokenInfo{TokenID: id, Subject: subject, Scopes: decodeScopes(scopesStr)}
		if expires.Valid {
			t := time.UnixMilli(expires.Int64)
			info.ExpiresAt = &t
		}
		out[id] = info
	}
	return out, rows.Err()
}

func encodeScopes(scopes []security.Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = s.String()
	}
	return strings.Join(parts, ";")
}

func decodeScopes(s string) []security.Scope {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	out := make([]security.Scope, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if scope, err := security.ParseScope(p); err == nil {
			out = append(out, scope)
		}
	}
	return out
}
