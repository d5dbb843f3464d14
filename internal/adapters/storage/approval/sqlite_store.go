package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"robolearn/internal/adapters/storage"
	domain "robolearn/internal/domain/approval"
)

const requestColumns = "id, student_profile_id, parent_profile_id, status, requested_at, responded_at, parent_notes"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new approval store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves a request by its ID.
// PRE: id is non-empty
// POST: Returns the request or domain.ErrNotFound
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Request, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM student_approval WHERE id = ?", id)
	r, err := scanRequest(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Request{}, fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	return r, err
}

// Create inserts a pending request.
// PRE: r has been validated and is pending
// POST: Request persisted, or ErrAlreadyPending when the student has an open request
func (s *SQLiteStore) Create(ctx context.Context, r domain.Request) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var open int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM student_approval WHERE student_profile_id = ? AND status = ?",
		r.StudentProfileID, string(domain.StatusPending)).Scan(&open); err != nil {
		return err
	}
	if open > 0 {
		return domain.ErrAlreadyPending
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO student_approval ("+requestColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.StudentProfileID, r.ParentProfileID, string(r.Status),
		storage.FormatTime(r.RequestedAt), storage.NullTime(r.RespondedAt), storage.NullString(r.ParentNotes))
	if err != nil {
		return fmt.Errorf("insert approval %s: %w", r.ID, err)
	}
	return tx.Commit()
}

// ListByParent returns every request addressed to a parent, newest first.
// PRE: parentProfileID is non-empty
// POST: Returns zero or more requests ordered by requested_at descending
func (s *SQLiteStore) ListByParent(ctx context.Context, parentProfileID string) ([]domain.Request, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+requestColumns+" FROM student_approval WHERE parent_profile_id = ? ORDER BY requested_at DESC, id DESC",
		parentProfileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Request
	for rows.Next() {
		r, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// HasPending reports whether the student has an undecided request.
func (s *SQLiteStore) HasPending(ctx context.Context, studentProfileID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM student_approval WHERE student_profile_id = ? AND status = ?",
		studentProfileID, string(domain.StatusPending)).Scan(&n)
	return n > 0, err
}

// HasRequest reports whether the student has ever been sent a request.
func (s *SQLiteStore) HasRequest(ctx context.Context, studentProfileID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM student_approval WHERE student_profile_id = ?", studentProfileID).Scan(&n)
	return n > 0, err
}

// Decide persists a decision made by Request.Decide.
// The update only matches a row that is still pending, so of two concurrent decisions the second
// affects no rows and gets ErrAlreadyDecided. Approval also verifies the student in the same transaction.
// PRE: r.Status is approved or denied, r.RespondedAt is set
// POST: Request and student verification committed together, or nothing changed
func (s *SQLiteStore) Decide(ctx context.Context, r domain.Request) error {
	var verify bool
	switch r.Status {
	case domain.StatusApproved:
		verify = true
	case domain.StatusDenied:
	default:
		return domain.ErrInvalidDecision
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE student_approval SET status = ?, responded_at = ?, parent_notes = ? WHERE id = ? AND status = ?",
		string(r.Status), storage.FormatTime(r.RespondedAt), storage.NullString(r.ParentNotes),
		r.ID, string(domain.StatusPending))
	if err != nil {
		return fmt.Errorf("decide approval %s: %w", r.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrAlreadyDecided
	}

	if verify {
		if _, err := tx.ExecContext(ctx,
			"UPDATE account SET is_verified = 1, parent_id = COALESCE(parent_id, ?) WHERE id = ?",
			r.ParentProfileID, r.StudentProfileID); err != nil {
			return fmt.Errorf("verify student %s: %w", r.StudentProfileID, err)
		}
	}
	return tx.Commit()
}

// scanRequest extracts a Request from a row scanner function.
func scanRequest(scan func(dest ...any) error) (domain.Request, error) {
	var r domain.Request
	var status, requestedAt string
	var respondedAt, notes sql.NullString
	if err := scan(&r.ID, &r.StudentProfileID, &r.ParentProfileID, &status, &requestedAt, &respondedAt, &notes); err != nil {
		return domain.Request{}, err
	}
	r.Status = domain.Status(status)
	r.RequestedAt, _ = storage.ParseTime(requestedAt)
	r.RespondedAt = storage.ParseNullTime(respondedAt)
	r.ParentNotes = notes.String
	return r, nil
}
