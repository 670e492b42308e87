package directory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authz-engine/tokenauth/internal/auth"
	"github.com/authz-engine/tokenauth/pkg/types"
)

func TestMemoryDirectory_CreateAndFind(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()

	created, err := dir.CreateUser(ctx, &types.UserRecord{
		Username:     "alice",
		PasswordHash: "hash",
		Roles:        []string{"USER"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	second, err := dir.CreateUser(ctx, &types.UserRecord{Username: "bob", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.ID)

	found, err := dir.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "hash", found.PasswordHash)
	assert.Equal(t, []string{"USER"}, found.Roles)

	t.Run("roles are always resolved", func(t *testing.T) {
		bob, err := dir.FindByUsername(ctx, "bob")
		require.NoError(t, err)
		assert.NotNil(t, bob.Roles)
		assert.Empty(t, bob.Roles)
		assert.True(t, bob.RolesResolved())
	})

	t.Run("lookup is exact", func(t *testing.T) {
		_, err := dir.FindByUsername(ctx, "Alice")
		assert.ErrorIs(t, err, auth.ErrUserNotFound)
	})
}

func TestMemoryDirectory_DuplicateUsername(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()

	_, err := dir.CreateUser(ctx, &types.UserRecord{Username: "alice", PasswordHash: "first"})
	require.NoError(t, err)

	_, err = dir.CreateUser(ctx, &types.UserRecord{Username: "alice", PasswordHash: "second"})
	assert.ErrorIs(t, err, auth.ErrUsernameTaken)

	found, err := dir.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "first", found.PasswordHash)
}

func TestMemoryDirectory_ReturnsCopies(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()

	input := &types.UserRecord{Username: "alice", Roles: []string{"USER"}}
	_, err := dir.CreateUser(ctx, input)
	require.NoError(t, err)

	input.Roles[0] = "ADMIN"

	found, err := dir.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	found.Roles[0] = "ROOT"

	again, err := dir.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"USER"}, again.Roles)
}

func TestMemoryDirectory_Mutations(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()

	_, err := dir.CreateUser(ctx, &types.UserRecord{Username: "alice", Roles: []string{"USER"}})
	require.NoError(t, err)

	require.NoError(t, dir.SetRoles(ctx, "alice", "USER", "ADMIN"))
	require.NoError(t, dir.SetDisabled(ctx, "alice", true))

	found, err := dir.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"USER", "ADMIN"}, found.Roles)
	assert.True(t, found.Disabled)

	require.NoError(t, dir.SetRoles(ctx, "alice"))
	found, err = dir.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, found.Roles)
	assert.Empty(t, found.Roles)

	require.NoError(t, dir.DeleteUser(ctx, "alice"))
	_, err = dir.FindByUsername(ctx, "alice")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	assert.ErrorIs(t, dir.SetRoles(ctx, "ghost", "USER"), auth.ErrUserNotFound)
	assert.ErrorIs(t, dir.SetDisabled(ctx, "ghost", true), auth.ErrUserNotFound)
	assert.ErrorIs(t, dir.DeleteUser(ctx, "ghost"), auth.ErrUserNotFound)
	assert.NoError(t, dir.Ping(ctx))
}

func TestMemoryDirectory_ConcurrentCreate(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := dir.CreateUser(ctx, &types.UserRecord{Username: fmt.Sprintf("user%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for i := 0; i < 50; i++ {
		user, err := dir.FindByUsername(ctx, fmt.Sprintf("user%d", i))
		require.NoError(t, err)
		assert.False(t, seen[user.ID], "ids must be unique")
		seen[user.ID] = true
	}
}

func TestMemoryDirectory_SatisfiesUserStore(t *testing.T) {
	var _ auth.UserStore = NewMemoryDirectory()
	var _ auth.UserStore = (*PostgresDirectory)(nil)
}
