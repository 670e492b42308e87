package auth

import (
	"context"

	"github.com/authz-engine/tokenauth/pkg/types"
)

// Directory looks up users by username.
//
// Implementations must load roles eagerly: a returned record always has a
// non-nil Roles slice. A missing user is reported as ErrUserNotFound so it
// can be told apart from the directory being unavailable.
type Directory interface {
	FindByUsername(ctx context.Context, username string) (*types.UserRecord, error)
}

// UserStore is a Directory that can also create users
type UserStore interface {
	Directory

	// CreateUser stores a new user and returns it with its assigned ID.
	// Returns ErrUsernameTaken if the username exists.
	CreateUser(ctx context.Context, user *types.UserRecord) (*types.UserRecord, error)
}
