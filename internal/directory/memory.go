// Package directory provides user directory implementations
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/authz-engine/tokenauth/internal/auth"
	"github.com/authz-engine/tokenauth/pkg/types"
)

// MemoryDirectory implements auth.UserStore in memory (for testing and single-node use)
type MemoryDirectory struct {
	mu     sync.RWMutex
	users  map[string]*types.UserRecord
	nextID int64
}

// NewMemoryDirectory creates a new in-memory user directory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:  make(map[string]*types.UserRecord),
		nextID: 1,
	}
}

// FindByUsername retrieves a user by exact username
func (d *MemoryDirectory) FindByUsername(ctx context.Context, username string) (*types.UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, exists := d.users[username]
	if !exists {
		return nil, auth.ErrUserNotFound
	}
	return cloneRecord(user), nil
}

// CreateUser stores a new user and assigns its ID
func (d *MemoryDirectory) CreateUser(ctx context.Context, user *types.UserRecord) (*types.UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.users[user.Username]; exists {
		return nil, auth.ErrUsernameTaken
	}

	stored := cloneRecord(user)
	stored.ID = d.nextID
	stored.CreatedAt = time.Now().UTC()
	d.nextID++

	d.users[stored.Username] = stored
	return cloneRecord(stored), nil
}

// SetRoles replaces the roles of a user. Together with SetDisabled and
// DeleteUser it forms the admin surface shared with the Postgres directory.
func (d *MemoryDirectory) SetRoles(ctx context.Context, username string, roles ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, exists := d.users[username]
	if !exists {
		return auth.ErrUserNotFound
	}
	user.Roles = append([]string{}, roles...)
	return nil
}

// SetDisabled enables or disables a user
func (d *MemoryDirectory) SetDisabled(ctx context.Context, username string, disabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, exists := d.users[username]
	if !exists {
		return auth.ErrUserNotFound
	}
	user.Disabled = disabled
	return nil
}

// DeleteUser removes a user
func (d *MemoryDirectory) DeleteUser(ctx context.Context, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.users[username]; !exists {
		return auth.ErrUserNotFound
	}
	delete(d.users, username)
	return nil
}

// Ping always succeeds
func (d *MemoryDirectory) Ping(ctx context.Context) error {
	return nil
}

// cloneRecord copies a record so callers never share role slices with the store
func cloneRecord(user *types.UserRecord) *types.UserRecord {
	copied := *user
	copied.Roles = append([]string{}, user.Roles...)
	return &copied
}
