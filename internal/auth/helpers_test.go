package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/authz-engine/tokenauth/pkg/types"
)

// stubDirectory is an in-memory Directory with error injection
type stubDirectory struct {
	mu     sync.Mutex
	users  map[string]*types.UserRecord
	nextID int64
	err    error
	calls  int
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{users: make(map[string]*types.UserRecord), nextID: 1}
}

func (d *stubDirectory) FindByUsername(ctx context.Context, username string) (*types.UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	if d.err != nil {
		return nil, d.err
	}
	user, ok := d.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (d *stubDirectory) CreateUser(ctx context.Context, user *types.UserRecord) (*types.UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return nil, d.err
	}
	if _, ok := d.users[user.Username]; ok {
		return nil, ErrUsernameTaken
	}
	stored := *user
	stored.ID = d.nextID
	d.nextID++
	d.users[stored.Username] = &stored
	copied := stored
	return &copied, nil
}

func (d *stubDirectory) put(user *types.UserRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.Username] = user
}

func (d *stubDirectory) lookups() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	return hash
}
