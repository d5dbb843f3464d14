package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"robolearn/internal/adapters/storage"
	domain "robolearn/internal/domain/account"
)

const accountColumns = "a.id, a.user_id, a.account_type, a.full_name, a.parent_id, a.requested_parent_email, a.is_verified, a.created_at"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new account store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves an Account by its ID.
// PRE: id is non-empty
// POST: Returns the entity or domain.ErrNotFound
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Account, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM account a WHERE a.id = ?", id)
	return scanOne(row.Scan, id)
}

// GetByUserID retrieves the Account owned by an identity.
// PRE: userID is non-empty
// POST: Returns the entity or domain.ErrNotFound
func (s *SQLiteStore) GetByUserID(ctx context.Context, userID string) (domain.Account, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM account a WHERE a.user_id = ?", userID)
	return scanOne(row.Scan, userID)
}

// GetParentByEmail joins through identity_user to find a parent profile by login email.
// PRE: email is non-empty
// POST: Returns the parent or domain.ErrNotFound (also when the email belongs to a student)
func (s *SQLiteStore) GetParentByEmail(ctx context.Context, email string) (domain.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM account a JOIN identity_user u ON u.id = a.user_id WHERE u.email = ? AND a.account_type = ?",
		email, string(domain.TypeParent))
	return scanOne(row.Scan, email)
}

// Save persists an Account to the database.
// PRE: entity has been validated
// POST: Entity is persisted (insert or update); user_id and created_at never change
func (s *SQLiteStore) Save(ctx context.Context, entity domain.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account (id, user_id, account_type, full_name, parent_id, requested_parent_email, is_verified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   account_type=excluded.account_type, full_name=excluded.full_name, parent_id=excluded.parent_id,
		   requested_parent_email=excluded.requested_parent_email, is_verified=excluded.is_verified`,
		entity.ID, entity.UserID, string(entity.Type), entity.FullName, storage.NullString(entity.ParentID),
		entity.RequestedParentEmail, boolToInt(entity.IsVerified), storage.FormatTime(entity.CreatedAt))
	if err != nil {
		return fmt.Errorf("save account %s: %w", entity.ID, err)
	}
	return nil
}

// ListByParent returns the students linked to a parent, oldest first.
// PRE: parentID is non-empty
// POST: Returns zero or more students
func (s *SQLiteStore) ListByParent(ctx context.Context, parentID string) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM account a WHERE a.parent_id = ? ORDER BY a.created_at ASC", parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// ListUnlinkedByRequestedParentEmail returns students with no parent who named this email at signup.
// PRE: email is non-empty
// POST: Returns zero or more unlinked students, oldest first
func (s *SQLiteStore) ListUnlinkedByRequestedParentEmail(ctx context.Context, email string) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM account a WHERE a.parent_id IS NULL AND a.account_type = ? AND a.requested_parent_email = ? ORDER BY a.created_at ASC",
		string(domain.TypeStudent), strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// Count returns the number of accounts matching the filter.
// PRE: none
// POST: Returns the count
func (s *SQLiteStore) Count(ctx context.Context, filter ListFilter) (int, error) {
	var b strings.Builder
	var args []any
	b.WriteString("SELECT COUNT(*) FROM account WHERE 1=1")
	if filter.Type != "" {
		b.WriteString(" AND account_type = ?")
		args = append(args, filter.Type)
	}
	if filter.Verified != nil {
		b.WriteString(" AND is_verified = ?")
		args = append(args, boolToInt(*filter.Verified))
	}
	var n int
	err := s.db.QueryRowContext(ctx, b.String(), args...).Scan(&n)
	return n, err
}

func scanOne(scan func(dest ...any) error, key string) (domain.Account, error) {
	a, err := scanAccount(scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("account %s: %w", key, domain.ErrNotFound)
	}
	return a, err
}

func scanAll(rows *sql.Rows) ([]domain.Account, error) {
	var results []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// scanAccount extracts an Account from a row scanner function.
func scanAccount(scan func(dest ...any) error) (domain.Account, error) {
	var a domain.Account
	var accountType, createdAt string
	var parentID sql.NullString
	var verified int
	if err := scan(&a.ID, &a.UserID, &accountType, &a.FullName, &parentID, &a.RequestedParentEmail, &verified, &createdAt); err != nil {
		return domain.Account{}, err
	}
	a.Type = domain.Type(accountType)
	a.ParentID = parentID.String
	a.IsVerified = verified != 0
	a.CreatedAt, _ = storage.ParseTime(createdAt)
	return a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
