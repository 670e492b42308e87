package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"simple", "alice", false},
		{"dots and dashes", "alice.smith-2", false},
		{"unicode", "ålice", false},
		{"empty", "", true},
		{"comma", "alice,bob", true},
		{"space", "alice smith", true},
		{"tab", "alice\tsmith", true},
		{"control character", "alice\x00", true},
		{"too long", strings.Repeat("a", 65), true},
		{"max length", strings.Repeat("a", 64), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRegistration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRegistration(t *testing.T) {
	tests := []struct {
		name    string
		req     Registration
		wantErr bool
	}{
		{"valid", Registration{Username: "alice", Password: "secret1", Email: "alice@x.com"}, false},
		{"no email", Registration{Username: "alice", Password: "secret1"}, false},
		{"short password", Registration{Username: "alice", Password: "short"}, true},
		{"long password", Registration{Username: "alice", Password: strings.Repeat("p", 73)}, true},
		{"bad email", Registration{Username: "alice", Password: "secret1", Email: "not-an-email"}, true},
		{"display name email", Registration{Username: "alice", Password: "secret1", Email: "Alice <alice@x.com>"}, true},
		{"bad username", Registration{Username: "a,b", Password: "secret1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRegistration(tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRegistration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	dir := newStubDirectory()
	passwords := NewBcryptPasswords(bcrypt.MinCost)
	registrar := NewRegistrar(dir, passwords, []string{"USER"}, nil, nil)

	t.Run("creates user with default roles", func(t *testing.T) {
		p, err := registrar.Register(ctx, Registration{Username: "alice", Password: "secret1", Email: "alice@x.com"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.ID)
		assert.Equal(t, "alice", p.Username)
		assert.Equal(t, []string{"USER"}, p.Roles)

		stored, err := dir.FindByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice@x.com", stored.Email)
		assert.NotEqual(t, "secret1", stored.PasswordHash)
		assert.True(t, passwords.Verify("secret1", stored.PasswordHash))
	})

	t.Run("registered user can authenticate", func(t *testing.T) {
		verifier := NewCredentialVerifier(dir, passwords, nil, nil)
		p, err := verifier.Authenticate(ctx, "alice", "secret1")
		require.NoError(t, err)
		assert.Equal(t, "alice", p.Username)
	})

	t.Run("duplicate username", func(t *testing.T) {
		_, err := registrar.Register(ctx, Registration{Username: "alice", Password: "another1"})
		assert.ErrorIs(t, err, ErrUsernameTaken)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := registrar.Register(ctx, Registration{Username: "bad,name", Password: "secret1"})
		assert.ErrorIs(t, err, ErrInvalidRegistration)
	})

	t.Run("store failure", func(t *testing.T) {
		failing := newStubDirectory()
		failing.err = errors.New("disk full")
		r := NewRegistrar(failing, passwords, nil, nil, nil)

		_, err := r.Register(ctx, Registration{Username: "bob", Password: "secret1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})

	t.Run("no default roles yields empty role set", func(t *testing.T) {
		r := NewRegistrar(newStubDirectory(), passwords, nil, nil, nil)
		p, err := r.Register(ctx, Registration{Username: "carol", Password: "secret1"})
		require.NoError(t, err)
		assert.NotNil(t, p.Roles)
		assert.Empty(t, p.Roles)
	})
}
