package approval

import (
	"errors"
	"strings"
	"time"
)

// MaxNotesLength bounds the free-text parent notes.
const MaxNotesLength = 1000

// Status is the lifecycle state of a Request.
type Status string

// Request statuses
const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Decision is a parent's answer to a pending Request.
type Decision string

// Decisions
const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

// Domain errors
var (
	ErrNotFound        = errors.New("approval request not found")
	ErrAlreadyDecided  = errors.New("approval request has already been decided")
	ErrAlreadyPending  = errors.New("student already has a pending approval request")
	ErrInvalidDecision = errors.New("decision must be one of: approved, denied")
	ErrInvalidStatus   = errors.New("status must be one of: pending, approved, denied")
	ErrSelfApproval    = errors.New("student and parent must be different accounts")
	ErrEmptyStudentID  = errors.New("student profile ID is required")
	ErrEmptyParentID   = errors.New("parent profile ID is required")
	ErrNotesTooLong    = errors.New("notes cannot exceed 1000 characters")
)

// ParseDecision converts a raw string into a Decision.
// PRE: none
// POST: Returns the Decision or ErrInvalidDecision
func ParseDecision(s string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case DecisionApproved:
		return DecisionApproved, nil
	case DecisionDenied:
		return DecisionDenied, nil
	}
	return "", ErrInvalidDecision
}

// Status returns the terminal status a decision moves a request to.
// POST: ErrInvalidDecision for anything but the declared decisions
func (d Decision) Status() (Status, error) {
	switch d {
	case DecisionApproved:
		return StatusApproved, nil
	case DecisionDenied:
		return StatusDenied, nil
	}
	return "", ErrInvalidDecision
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusDenied:
		return Status(s), nil
	}
	return "", ErrInvalidStatus
}

// Request asks a parent to confirm a student's link to them.
type Request struct {
	ID               string
	StudentProfileID string
	ParentProfileID  string
	Status           Status
	RequestedAt      time.Time
	RespondedAt      time.Time // zero while pending
	ParentNotes      string
}

// New creates a pending Request.
// PRE: studentID and parentID are non-empty and different
// POST: Returns a pending Request stamped with now
func New(id, studentID, parentID string, now time.Time) (Request, error) {
	r := Request{
		ID:               id,
		StudentProfileID: studentID,
		ParentProfileID:  parentID,
		Status:           StatusPending,
		RequestedAt:      now,
	}
	return r, r.Validate()
}

// Validate checks if the Request has valid data.
// PRE: Request struct is populated
// POST: Returns nil if valid, error otherwise
func (r *Request) Validate() error {
	if r.StudentProfileID == "" {
		return ErrEmptyStudentID
	}
	if r.ParentProfileID == "" {
		return ErrEmptyParentID
	}
	if r.StudentProfileID == r.ParentProfileID {
		return ErrSelfApproval
	}
	if _, err := ParseStatus(string(r.Status)); err != nil {
		return err
	}
	if len(r.ParentNotes) > MaxNotesLength {
		return ErrNotesTooLong
	}
	return nil
}

// IsPending returns true if the request is awaiting a decision.
// INVARIANT: Request fields are not mutated
func (r *Request) IsPending() bool {
	return r.Status == StatusPending
}

// Decide applies a parent's decision.
// PRE: Request is pending
// POST: Status is the decision's status, RespondedAt is now, notes stored
func (r *Request) Decide(d Decision, notes string, now time.Time) error {
	if !r.IsPending() {
		return ErrAlreadyDecided
	}
	status, err := d.Status()
	if err != nil {
		return err
	}
	notes = strings.TrimSpace(notes)
	if len(notes) > MaxNotesLength {
		return ErrNotesTooLong
	}
	r.Status = status
	r.RespondedAt = now
	r.ParentNotes = notes
	return nil
}
