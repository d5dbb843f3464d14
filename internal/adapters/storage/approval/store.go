package approval

import (
	"context"

	domain "robolearn/internal/domain/approval"
)

// Store persists student approval requests.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.Request, error)
	// Create inserts a new pending request; ErrAlreadyPending if the student already has one.
	Create(ctx context.Context, r domain.Request) error
	ListByParent(ctx context.Context, parentProfileID string) ([]domain.Request, error)
	HasPending(ctx context.Context, studentProfileID string) (bool, error)
	// HasRequest reports whether the student has any request, decided or not.
	HasRequest(ctx context.Context, studentProfileID string) (bool, error)
	// Decide writes a decided request and, on approval, verifies the student, atomically.
	Decide(ctx context.Context, r domain.Request) error
}
