package identity

import (
	"context"
	"errors"
	"time"

	domain "robolearn/internal/domain/identity"
)

// ErrEmailTaken is returned by Create when another user owns the email.
var ErrEmailTaken = errors.New("email already registered")

// Store persists identity users and spent link codes.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	Create(ctx context.Context, u domain.User) error
	Save(ctx context.Context, u domain.User) error
	// MarkCodeUsed records a link code id; it returns false if the code was already spent.
	MarkCodeUsed(ctx context.Context, jti string, now time.Time) (bool, error)
}
