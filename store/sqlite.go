package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a SQLite database. It exists so the module
// runs end to end without an external database; production deployments
// supply their own Store implementation over the real relational schema.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	image TEXT NOT NULL DEFAULT '',
	email_verified INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	token TEXT NOT NULL UNIQUE,
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	is_active INTEGER NOT NULL DEFAULT 1,
	last_activity INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity);
CREATE TABLE IF NOT EXISTS oauth_accounts (
	user_id TEXT NOT NULL REFERENCES users(id),
	provider TEXT NOT NULL,
	provider_account_id TEXT NOT NULL,
	access_token TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at INTEGER,
	token_type TEXT NOT NULL DEFAULT '',
	scope TEXT NOT NULL DEFAULT '',
	id_token TEXT NOT NULL DEFAULT '',
	session_state TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, provider)
);
`

// NewSQLite opens (and bootstraps) a SQLite-backed Store.
// If dbPath is empty or ":memory:", an in-memory database is used.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	// In-memory SQLite loses its schema when the pool opens a second
	// connection; WAL helps file-backed concurrency instead.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var verified sql.NullInt64
	var created, updated int64
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Image, &verified, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to scan user: %w", err)
	}
	if verified.Valid {
		t := time.Unix(verified.Int64, 0)
		u.EmailVerified = &t
	}
	u.CreatedAt = time.Unix(created, 0)
	u.UpdatedAt = time.Unix(updated, 0)
	return &u, nil
}

const userColumns = `id, email, name, image, email_verified, created_at, updated_at`

func (s *SQLite) UserByID(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *SQLite) UserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (s *SQLite) RecentUsers(ctx context.Context, limit int) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query recent users: %w", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CreateUser inserts a user row.
func (s *SQLite) CreateUser(ctx context.Context, u User) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, image, email_verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.Image, unixOrNil(u.EmailVerified), u.CreatedAt.Unix(), u.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: failed to create user: %w", err)
	}
	return nil
}

// UpdateUserName updates a user's display name.
func (s *SQLite) UpdateUserName(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: failed to update user: %w", err)
	}
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var sess Session
	var active int64
	var lastActivity, expires, created int64
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.IPAddress, &sess.UserAgent,
		&active, &lastActivity, &expires, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to scan session: %w", err)
	}
	sess.IsActive = active != 0
	sess.LastActivity = time.Unix(lastActivity, 0)
	sess.ExpiresAt = time.Unix(expires, 0)
	sess.CreatedAt = time.Unix(created, 0)
	return &sess, nil
}

const sessionColumns = `id, user_id, token, ip_address, user_agent, is_active, last_activity, expires_at, created_at`

func (s *SQLite) SessionByToken(ctx context.Context, token string) (*Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token = ?`, token))
}

func (s *SQLite) SessionsByUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY last_activity DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query user sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *SQLite) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE is_active = 1
		ORDER BY last_activity DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query recent sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]Session, error) {
	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// CreateSession inserts a session row.
func (s *SQLite) CreateSession(ctx context.Context, sess Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.LastActivity.IsZero() {
		sess.LastActivity = sess.CreatedAt
	}
	active := 0
	if sess.IsActive {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token, ip_address, user_agent, is_active, last_activity, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Token, sess.IPAddress, sess.UserAgent,
		active, sess.LastActivity.Unix(), sess.ExpiresAt.Unix(), sess.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: failed to create session: %w", err)
	}
	return nil
}

func scanOAuthAccount(row interface{ Scan(...any) error }) (*OAuthAccount, error) {
	var acct OAuthAccount
	var expires sql.NullInt64
	var updated int64
	err := row.Scan(&acct.UserID, &acct.Provider, &acct.ProviderAccountID,
		&acct.AccessToken, &acct.RefreshToken, &expires,
		&acct.TokenType, &acct.Scope, &acct.IDToken, &acct.SessionState, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to scan oauth account: %w", err)
	}
	if expires.Valid {
		t := time.Unix(expires.Int64, 0)
		acct.ExpiresAt = &t
	}
	return &acct, nil
}

const oauthColumns = `user_id, provider, provider_account_id, access_token, refresh_token, expires_at, token_type, scope, id_token, session_state, updated_at`

func (s *SQLite) OAuthAccount(ctx context.Context, userID, provider string) (*OAuthAccount, error) {
	return scanOAuthAccount(s.db.QueryRowContext(ctx,
		`SELECT `+oauthColumns+` FROM oauth_accounts WHERE user_id = ? AND provider = ?`,
		userID, provider))
}

func (s *SQLite) OAuthAccountsByUser(ctx context.Context, userID string) ([]OAuthAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+oauthColumns+` FROM oauth_accounts WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query user oauth accounts: %w", err)
	}
	defer rows.Close()
	return collectOAuthAccounts(rows)
}

func (s *SQLite) RecentOAuthAccounts(ctx context.Context, limit int) ([]OAuthAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+oauthColumns+` FROM oauth_accounts ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query recent oauth accounts: %w", err)
	}
	defer rows.Close()
	return collectOAuthAccounts(rows)
}

func collectOAuthAccounts(rows *sql.Rows) ([]OAuthAccount, error) {
	var accounts []OAuthAccount
	for rows.Next() {
		acct, err := scanOAuthAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acct)
	}
	return accounts, rows.Err()
}

// SaveOAuthAccount inserts or replaces a linked provider account row.
func (s *SQLite) SaveOAuthAccount(ctx context.Context, acct OAuthAccount) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_accounts (user_id, provider, provider_account_id, access_token, refresh_token, expires_at, token_type, scope, id_token, session_state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			provider_account_id = excluded.provider_account_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			token_type = excluded.token_type,
			scope = excluded.scope,
			id_token = excluded.id_token,
			session_state = excluded.session_state,
			updated_at = excluded.updated_at`,
		acct.UserID, acct.Provider, acct.ProviderAccountID, acct.AccessToken, acct.RefreshToken,
		unixOrNil(acct.ExpiresAt), acct.TokenType, acct.Scope, acct.IDToken, acct.SessionState,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: failed to save oauth account: %w", err)
	}
	return nil
}
