package account

import (
	"context"

	domain "robolearn/internal/domain/account"
)

// Store persists Account state.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.Account, error)
	GetByUserID(ctx context.Context, userID string) (domain.Account, error)
	// GetParentByEmail finds the parent profile whose identity has the given email.
	GetParentByEmail(ctx context.Context, email string) (domain.Account, error)
	Save(ctx context.Context, value domain.Account) error
	ListByParent(ctx context.Context, parentID string) ([]domain.Account, error)
	// ListUnlinkedByRequestedParentEmail returns students waiting for a parent with that email to register.
	ListUnlinkedByRequestedParentEmail(ctx context.Context, email string) ([]domain.Account, error)
	Count(ctx context.Context, filter ListFilter) (int, error)
}

// ListFilter carries filtering parameters for Count.
type ListFilter struct {
	Type     string
	Verified *bool
}
