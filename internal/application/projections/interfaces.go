package projections

import (
	"context"

	"robolearn/internal/domain/account"
	"robolearn/internal/domain/approval"
	"robolearn/internal/domain/identity"
)

// AccountReader interface for account queries.
type AccountReader interface {
	GetByID(ctx context.Context, id string) (account.Account, error)
	GetByUserID(ctx context.Context, userID string) (account.Account, error)
	ListByParent(ctx context.Context, parentID string) ([]account.Account, error)
}

// ApprovalLister interface for approval request queries.
type ApprovalLister interface {
	ListByParent(ctx context.Context, parentProfileID string) ([]approval.Request, error)
}

// UserLookup resolves identity users (for email addresses).
type UserLookup interface {
	GetByID(ctx context.Context, id string) (identity.User, error)
}
