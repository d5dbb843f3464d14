package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"robolearn/internal/adapters/storage"
	domain "robolearn/internal/domain/identity"
)

const userColumns = "id, email, password_hash, email_confirmed_at, metadata, failed_logins, locked_until, created_at"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new identity store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves a user by ID.
// PRE: id is non-empty
// POST: Returns the user or domain.ErrNotFound
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM identity_user WHERE id = ?", id)
	return scanOne(row.Scan, id)
}

// GetByEmail retrieves a user by (normalized) email.
// PRE: email is non-empty
// POST: Returns the user or domain.ErrNotFound
func (s *SQLiteStore) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	email = domain.NormalizeEmail(email)
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM identity_user WHERE email = ?", email)
	return scanOne(row.Scan, email)
}

// Create inserts a new user.
// PRE: u has been validated
// POST: User persisted, or ErrEmailTaken if the email is in use
func (s *SQLiteStore) Create(ctx context.Context, u domain.User) error {
	meta, err := encodeMetadata(u.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO identity_user ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		u.ID, domain.NormalizeEmail(u.Email), u.PasswordHash, storage.NullTime(u.EmailConfirmedAt), meta,
		u.FailedLogins, storage.NullTime(u.LockedUntil), storage.FormatTime(u.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Save updates an existing user's mutable fields.
// PRE: u exists
// POST: Password, confirmation, metadata and lockout state persisted
func (s *SQLiteStore) Save(ctx context.Context, u domain.User) error {
	meta, err := encodeMetadata(u.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE identity_user SET password_hash = ?, email_confirmed_at = ?, metadata = ?, failed_logins = ?, locked_until = ?
		 WHERE id = ?`,
		u.PasswordHash, storage.NullTime(u.EmailConfirmedAt), meta, u.FailedLogins, storage.NullTime(u.LockedUntil), u.ID)
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", u.ID, domain.ErrNotFound)
	}
	return nil
}

// MarkCodeUsed records a spent link code.
// PRE: jti is non-empty
// POST: Returns true the first time a jti is seen, false afterwards
func (s *SQLiteStore) MarkCodeUsed(ctx context.Context, jti string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO used_link_code (jti, used_at) VALUES (?, ?) ON CONFLICT(jti) DO NOTHING",
		jti, storage.FormatTime(now))
	if err != nil {
		return false, fmt.Errorf("mark code used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanOne(scan func(dest ...any) error, key string) (domain.User, error) {
	u, err := scanUser(scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, fmt.Errorf("user %s: %w", key, domain.ErrNotFound)
	}
	return u, err
}

// scanUser extracts a User from a row scanner function.
func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	var confirmedAt, lockedUntil sql.NullString
	var meta, createdAt string
	if err := scan(&u.ID, &u.Email, &u.PasswordHash, &confirmedAt, &meta, &u.FailedLogins, &lockedUntil, &createdAt); err != nil {
		return domain.User{}, err
	}
	u.EmailConfirmedAt = storage.ParseNullTime(confirmedAt)
	u.LockedUntil = storage.ParseNullTime(lockedUntil)
	u.CreatedAt, _ = storage.ParseTime(createdAt)
	u.Metadata = map[string]any{}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &u.Metadata); err != nil {
			return domain.User{}, fmt.Errorf("decode metadata for %s: %w", u.ID, err)
		}
	}
	return u, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
