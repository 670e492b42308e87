package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authz-engine/tokenauth/internal/auth/jwt"
	"github.com/authz-engine/tokenauth/pkg/types"
)

const testSecret = "test-secret-key-for-middleware-tests"

func setupTestGate(t *testing.T) (*Gate, *jwt.Codec, *stubDirectory) {
	t.Helper()

	codec, err := jwt.NewCodec(&jwt.Config{Secret: testSecret})
	require.NoError(t, err)

	dir := newStubDirectory()
	dir.put(&types.UserRecord{ID: 1, Username: "alice", Roles: []string{"USER"}})

	return NewGate(codec, dir, nil, nil), codec, dir
}

func issue(t *testing.T, codec *jwt.Codec, id int64, username string) string {
	t.Helper()
	token, err := codec.Encode(&types.Principal{ID: id, Username: username})
	require.NoError(t, err)
	return token
}

// serve runs the gate and reports whether the next handler ran and with which principal
func serve(gate *Gate, header string) (called bool, principal *types.Principal) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		principal, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	gate.Handler(next).ServeHTTP(w, req)
	return called, principal
}

func TestGateHandler(t *testing.T) {
	gate, codec, dir := setupTestGate(t)
	token := issue(t, codec, 1, "alice")

	t.Run("valid token", func(t *testing.T) {
		called, p := serve(gate, "Bearer "+token)
		assert.True(t, called)
		require.NotNil(t, p)
		assert.Equal(t, int64(1), p.ID)
		assert.Equal(t, "alice", p.Username)
		assert.Equal(t, []string{"USER"}, p.Roles)
	})

	t.Run("surrounding whitespace is trimmed", func(t *testing.T) {
		_, p := serve(gate, "Bearer   "+token+"  ")
		require.NotNil(t, p)
		assert.Equal(t, "alice", p.Username)
	})

	t.Run("roles are reloaded from the directory", func(t *testing.T) {
		dir.put(&types.UserRecord{ID: 1, Username: "alice", Roles: []string{"USER", "ADMIN"}})
		t.Cleanup(func() {
			dir.put(&types.UserRecord{ID: 1, Username: "alice", Roles: []string{"USER"}})
		})

		_, p := serve(gate, "Bearer "+token)
		require.NotNil(t, p)
		assert.Equal(t, []string{"USER", "ADMIN"}, p.Roles)
	})

	unauthenticated := []struct {
		name   string
		header string
	}{
		{"missing authorization header", ""},
		{"wrong scheme", "Token abc"},
		{"basic scheme", "Basic dXNlcjpwYXNz"},
		{"lowercase scheme", "bearer " + token},
		{"scheme without space", "Bearer" + token},
		{"empty token", "Bearer "},
		{"whitespace token", "Bearer    "},
		{"garbage token", "Bearer invalid.jwt.token"},
		{"tampered token", "Bearer " + token + "x"},
	}

	for _, tt := range unauthenticated {
		t.Run(tt.name, func(t *testing.T) {
			called, p := serve(gate, tt.header)
			assert.True(t, called, "gate must always forward the request")
			assert.Nil(t, p)
		})
	}
}

func TestGateRejectsInvalidTokensBeforeDirectoryLookup(t *testing.T) {
	gate, _, dir := setupTestGate(t)

	serve(gate, "Bearer invalid.jwt.token")
	serve(gate, "Token abc")
	assert.Equal(t, 0, dir.lookups())
}

func TestGateExpiredToken(t *testing.T) {
	gate, _, _ := setupTestGate(t)

	past := time.Now().Add(-8 * 24 * time.Hour)
	oldCodec, err := jwt.NewCodec(&jwt.Config{
		Secret: testSecret,
		Now:    func() time.Time { return past },
	})
	require.NoError(t, err)

	called, p := serve(gate, "Bearer "+issue(t, oldCodec, 1, "alice"))
	assert.True(t, called)
	assert.Nil(t, p)
}

func TestGateForeignSecret(t *testing.T) {
	gate, _, _ := setupTestGate(t)

	foreign, err := jwt.NewCodec(&jwt.Config{Secret: "some-other-secret"})
	require.NoError(t, err)

	called, p := serve(gate, "Bearer "+issue(t, foreign, 1, "alice"))
	assert.True(t, called)
	assert.Nil(t, p)
}

func TestGateDirectoryOutcomes(t *testing.T) {
	t.Run("unknown user", func(t *testing.T) {
		gate, codec, _ := setupTestGate(t)
		_, p := serve(gate, "Bearer "+issue(t, codec, 99, "ghost"))
		assert.Nil(t, p)
	})

	t.Run("username reassigned to another id", func(t *testing.T) {
		gate, codec, _ := setupTestGate(t)
		_, p := serve(gate, "Bearer "+issue(t, codec, 2, "alice"))
		assert.Nil(t, p)
	})

	t.Run("disabled user", func(t *testing.T) {
		gate, codec, dir := setupTestGate(t)
		dir.put(&types.UserRecord{ID: 5, Username: "mallory", Disabled: true, Roles: []string{"ADMIN"}})

		called, p := serve(gate, "Bearer "+issue(t, codec, 5, "mallory"))
		assert.True(t, called)
		assert.Nil(t, p)
	})

	t.Run("directory unavailable", func(t *testing.T) {
		gate, codec, dir := setupTestGate(t)
		token := issue(t, codec, 1, "alice")
		dir.err = errors.New("connection reset")

		called, p := serve(gate, "Bearer "+token)
		assert.True(t, called)
		assert.Nil(t, p)
	})

	t.Run("unresolved roles", func(t *testing.T) {
		gate, codec, dir := setupTestGate(t)
		dir.put(&types.UserRecord{ID: 6, Username: "lazy"})

		called, p := serve(gate, "Bearer "+issue(t, codec, 6, "lazy"))
		assert.True(t, called)
		assert.Nil(t, p)
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"Bearer  abc ", "abc", true},
		{"Bearer a b", "a b", true},
		{"Bearer ", "", false},
		{"Bearer", "", false},
		{"bearer abc", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			token, ok := ExtractBearerToken(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.token, token)
		})
	}
}
