// Package tokendb stores per-user OAuth tokens in a SQLite database, for
// deployments serving many users from one process.
package tokendb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	"golang.org/x/oauth2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlLoadToken = `SELECT access_token, refresh_token, token_type, expiry
		FROM tokens WHERE user_id = ?`

	sqlUpsertToken = `INSERT INTO tokens
		(user_id, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		 access_token = excluded.access_token,
		 refresh_token = excluded.refresh_token,
		 token_type = excluded.token_type,
		 expiry = excluded.expiry,
		 updated_at = excluded.updated_at`

	sqlDeleteToken = `DELETE FROM tokens WHERE user_id = ?`

	sqlCountTokens = `SELECT COUNT(*) FROM tokens`
)

// Store is a TokenPersister backed by SQLite. It is the sole writer to its
// database file.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (or creates) the database at dbPath and applies migrations.
// The database uses WAL mode with synchronous=FULL.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tokendb: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("token database ready", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// migrate applies pending schema migrations with the goose Provider API.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("tokendb: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("tokendb: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("tokendb: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadToken returns the user's token, or (nil, nil) if none is stored.
func (s *Store) LoadToken(ctx context.Context, userID string) (*oauth2.Token, error) {
	var (
		tok    oauth2.Token
		expiry int64
	)

	err := s.db.QueryRowContext(ctx, sqlLoadToken, userID).
		Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokendb: loading token: %w", err)
	}

	if expiry != 0 {
		tok.Expiry = time.Unix(0, expiry).UTC()
	}

	return &tok, nil
}

// SaveToken inserts or replaces the user's token.
func (s *Store) SaveToken(ctx context.Context, userID string, tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return errors.New("tokendb: refusing to save an empty token")
	}

	var expiry int64
	if !tok.Expiry.IsZero() {
		expiry = tok.Expiry.UnixNano()
	}

	_, err := s.db.ExecContext(ctx, sqlUpsertToken,
		userID, tok.AccessToken, tok.RefreshToken, tok.TokenType, expiry, s.nowFunc().UnixNano())
	if err != nil {
		return fmt.Errorf("tokendb: saving token: %w", err)
	}

	s.logger.Debug("token saved", slog.Time("expiry", tok.Expiry))

	return nil
}

// DeleteToken removes the user's token. Deleting a missing token is not an
// error.
func (s *Store) DeleteToken(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, sqlDeleteToken, userID)
	if err != nil {
		return fmt.Errorf("tokendb: deleting token: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("token deleted")
	}

	return nil
}

// Count returns the number of stored tokens.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, sqlCountTokens).Scan(&n); err != nil {
		return 0, fmt.Errorf("tokendb: counting tokens: %w", err)
	}

	return n, nil
}
