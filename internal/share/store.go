package share

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schemaFS embed.FS

var (
	ErrNotFound  = errors.New("share not found")
	ErrDuplicate = errors.New("share alias already exists")
)

// Share maps a public alias to the artifact it points at.
type Share struct {
	Alias     string    `json:"alias"`
	SessionID string    `json:"sessionId"`
	TargetURL string    `json:"targetUrl"`
	ShortURL  string    `json:"shortUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store keeps shares in SQLite.
type Store struct {
	db *sql.DB
}

// OpenDB opens (or creates) the SQLite database at path. ":memory:" gives a
// private in-memory database.
func OpenDB(path string) (*sql.DB, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening share database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring share database: %w", err)
	}
	return db, nil
}

// NewStore runs the schema against db.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Create(ctx context.Context, sh Share) error {
	if sh.CreatedAt.IsZero() {
		sh.CreatedAt = time.Now()
	}
	if _, err := s.Get(ctx, sh.Alias); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicate, sh.Alias)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shares (alias, session_id, target_url, short_url, created_at) VALUES (?, ?, ?, ?, ?)`,
		sh.Alias, sh.SessionID, sh.TargetURL, sh.ShortURL, sh.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert share %s: %w", sh.Alias, err)
	}
	return nil
}

func (s *Store) SetShortURL(ctx context.Context, alias, shortURL string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE shares SET short_url = ? WHERE alias = ?`, shortURL, alias)
	if err != nil {
		return fmt.Errorf("update share %s: %w", alias, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, alias)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, alias string) (*Share, error) {
	var (
		sh      Share
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT alias, session_id, target_url, short_url, created_at FROM shares WHERE alias = ?`, alias,
	).Scan(&sh.Alias, &sh.SessionID, &sh.TargetURL, &sh.ShortURL, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, alias)
	}
	if err != nil {
		return nil, fmt.Errorf("get share %s: %w", alias, err)
	}
	sh.CreatedAt = time.UnixMilli(created)
	return &sh, nil
}

// ListBySession returns the shares of a session, oldest first.
func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]Share, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT alias, session_id, target_url, short_url, created_at FROM shares WHERE session_id = ? ORDER BY created_at, alias`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	var out []Share
	for rows.Next() {
		var (
			sh      Share
			created int64
		)
		if err := rows.Scan(&sh.Alias, &sh.SessionID, &sh.TargetURL, &sh.ShortURL, &created); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		sh.CreatedAt = time.UnixMilli(created)
		out = append(out, sh)
	}
	return out, rows.Err()
}

// DeleteBySession removes every share of a session and returns how many
// were removed.
func (s *Store) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM shares WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete shares: %w", err)
	}
	return res.RowsAffected()
}
