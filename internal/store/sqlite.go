// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides account, VIP, and settings persistence with automatic schema creation

package store

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

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			account_id TEXT PRIMARY KEY,
			phone      TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_accounts_session ON accounts(session_id);

		CREATE TABLE IF NOT EXISTS vip (
			account_id TEXT PRIMARY KEY,
			level      INTEGER NOT NULL,
			is_default INTEGER NOT NULL DEFAULT 0,
			granted_at TEXT NOT NULL,
			FOREIGN KEY (account_id) REFERENCES accounts(account_id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS session_settings (
			session_id TEXT PRIMARY KEY,
			mode       TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (mode IN ('public', 'self'))
		);

		CREATE TABLE IF NOT EXISTS group_features (
			group_id   TEXT NOT NULL,
			feature    TEXT NOT NULL,
			enabled    INTEGER NOT NULL,
			updated_at TEXT NOT NULL,

			PRIMARY KEY (group_id, feature)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// UpsertAccount creates or updates an account keyed by its normalized phone.
// A missing ID is generated.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, account *Account) error {
	account.Phone = NormalizePhone(account.Phone)
	if account.Phone == "" {
		return fmt.Errorf("upserting account: phone is required")
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO accounts (account_id, phone, session_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET session_id = excluded.session_id
		RETURNING account_id
	`
	err := s.db.QueryRowContext(ctx, query,
		account.ID,
		account.Phone,
		account.SessionID,
		account.CreatedAt.Format(time.RFC3339),
	).Scan(&account.ID)
	if err != nil {
		return classify(fmt.Errorf("upserting account: %w", err))
	}

	s.logger.Debug("upserted account", "account_id", account.ID, "phone", account.Phone)
	return nil
}

// GetUserByPhone looks up an account by phone handle. Returns nil, nil if absent.
func (s *SQLiteStore) GetUserByPhone(ctx context.Context, phone string) (*Account, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return nil, nil
	}

	query := `SELECT account_id, phone, session_id, created_at FROM accounts WHERE phone = ?`

	var a Account
	var createdAt string
	err := s.db.QueryRowContext(ctx, query, phone).Scan(&a.ID, &a.Phone, &a.SessionID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("getting account by phone: %w", err))
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

// IsVIP returns the VIP status of an account. Unknown accounts are not VIP.
func (s *SQLiteStore) IsVIP(ctx context.Context, accountID string) (VIPStatus, error) {
	query := `SELECT level, is_default FROM vip WHERE account_id = ?`

	var status VIPStatus
	var isDefault int
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(&status.Level, &isDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return VIPStatus{}, nil
	}
	if err != nil {
		return VIPStatus{}, classify(fmt.Errorf("checking vip: %w", err))
	}
	status.IsVIP = true
	status.IsDefault = isDefault != 0
	return status, nil
}

// SetVIP grants or updates VIP status for an account.
func (s *SQLiteStore) SetVIP(ctx context.Context, accountID string, level int, isDefault bool) error {
	query := `
		INSERT INTO vip (account_id, level, is_default, granted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET level = excluded.level, is_default = excluded.is_default
	`
	_, err := s.db.ExecContext(ctx, query, accountID, level, boolToInt(isDefault), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return classify(fmt.Errorf("setting vip: %w", err))
	}

	s.logger.Debug("set vip", "account_id", accountID, "level", level, "is_default", isDefault)
	return nil
}

// RevokeVIP removes VIP status. Returns ErrNotFound if the account was not VIP.
func (s *SQLiteStore) RevokeVIP(ctx context.Context, accountID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vip WHERE account_id = ?`, accountID)
	if err != nil {
		return classify(fmt.Errorf("revoking vip: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SessionMode returns the stored mode for a session, defaulting to public.
func (s *SQLiteStore) SessionMode(ctx context.Context, sessionID string) (SessionMode, error) {
	var mode string
	err := s.db.QueryRowContext(ctx, `SELECT mode FROM session_settings WHERE session_id = ?`, sessionID).Scan(&mode)
	if errors.Is(err, sql.ErrNoRows) {
		return ModePublic, nil
	}
	if err != nil {
		return ModePublic, classify(fmt.Errorf("getting session mode: %w", err))
	}
	return SessionMode(mode), nil
}

// SetSessionMode stores the mode for a session.
func (s *SQLiteStore) SetSessionMode(ctx context.Context, sessionID string, mode SessionMode) error {
	query := `
		INSERT INTO session_settings (session_id, mode, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET mode = excluded.mode, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, sessionID, string(mode), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return classify(fmt.Errorf("setting session mode: %w", err))
	}
	return nil
}

// FeatureEnabled returns the toggle for a group feature, or ErrNotFound if unset.
func (s *SQLiteStore) FeatureEnabled(ctx context.Context, groupID, feature string) (bool, error) {
	query := `SELECT enabled FROM group_features WHERE group_id = ? AND feature = ?`

	var enabled int
	err := s.db.QueryRowContext(ctx, query, groupID, feature).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, classify(fmt.Errorf("getting feature: %w", err))
	}
	return enabled != 0, nil
}

// SetFeature stores the toggle for a group feature.
func (s *SQLiteStore) SetFeature(ctx context.Context, groupID, feature string, enabled bool) error {
	query := `
		INSERT INTO group_features (group_id, feature, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(group_id, feature) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, groupID, feature, boolToInt(enabled), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return classify(fmt.Errorf("setting feature: %w", err))
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// classify wraps busy/locked database errors with ErrTransient so callers can retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked") {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
