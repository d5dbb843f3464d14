package outbox

import (
	"context"

	domain "robolearn/internal/domain/outbox"
)

// Store defines the interface for outbox entry persistence.
type Store interface {
	// GetByID retrieves an outbox entry by its ID.
	// PRE: id is non-empty
	// POST: Returns the entry or domain.ErrNotFound
	GetByID(ctx context.Context, id string) (domain.Entry, error)

	// Save persists an outbox entry to the database.
	// PRE: entity has been validated
	// POST: Entity is persisted (insert or update)
	Save(ctx context.Context, e domain.Entry) error

	// ListPending returns entries that still need delivery (pending or retrying).
	// PRE: limit > 0
	// POST: Returns up to limit entries ordered by created_at
	ListPending(ctx context.Context, limit int) ([]domain.Entry, error)

	// ListFailed returns entries that ran out of attempts.
	// PRE: limit > 0
	// POST: Returns up to limit failed entries, most recently attempted first
	ListFailed(ctx context.Context, limit int) ([]domain.Entry, error)

	// DeleteDone removes delivered entries last attempted before the cutoff.
	DeleteDone(ctx context.Context, before string) (int64, error)
}
