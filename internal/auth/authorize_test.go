package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/authz-engine/tokenauth/pkg/types"
)

func TestEvaluate(t *testing.T) {
	user := &types.Principal{ID: 1, Username: "alice", Roles: []string{"USER"}}
	admin := &types.Principal{ID: 2, Username: "root", Roles: []string{"USER", "ADMIN"}}
	noRoles := &types.Principal{ID: 3, Username: "carol", Roles: []string{}}
	disabled := &types.Principal{ID: 4, Username: "mallory", Roles: []string{"ADMIN"}, Disabled: true}

	tests := []struct {
		name      string
		principal *types.Principal
		req       Requirement
		want      Decision
	}{
		{"public anonymous", nil, Public(), Allow},
		{"public user", user, Public(), Allow},
		{"authenticated anonymous", nil, Authenticated(), DenyUnauthenticated},
		{"authenticated no roles", noRoles, Authenticated(), Allow},
		{"any role anonymous", nil, AnyRole("USER"), DenyUnauthenticated},
		{"any role match", user, AnyRole("USER"), Allow},
		{"any role one of many", user, AnyRole("ADMIN", "USER"), Allow},
		{"any role missing", user, AnyRole("ADMIN"), DenyForbidden},
		{"any role case-sensitive", user, AnyRole("user"), DenyForbidden},
		{"any role empty list", noRoles, AnyRole(), Allow},
		{"all roles match", admin, AllRoles("USER", "ADMIN"), Allow},
		{"all roles partial", user, AllRoles("USER", "ADMIN"), DenyForbidden},
		{"disabled principal", disabled, AnyRole("ADMIN"), DenyUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.principal, tt.req))
		})
	}
}

func TestRequirementString(t *testing.T) {
	assert.Equal(t, "public", Public().String())
	assert.Equal(t, "authenticated", Authenticated().String())
	assert.Equal(t, "any(USER,ADMIN)", AnyRole("USER", "ADMIN").String())
	assert.Equal(t, "all(USER,ADMIN)", AllRoles("USER", "ADMIN").String())
	assert.True(t, Public().IsPublic())
	assert.False(t, AnyRole("USER").IsPublic())
	assert.Equal(t, []string{"USER"}, AnyRole("USER").Roles())
}

func TestRequireRoles(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireRoles(AnyRole("USER"), nil)(ok)

	t.Run("no principal", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/users/alice", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
		assert.Contains(t, w.Body.String(), "unauthorized")
	})

	t.Run("missing role", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/users/alice", nil)
		req = req.WithContext(WithPrincipal(req.Context(), &types.Principal{ID: 1, Username: "carol", Roles: []string{}}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "forbidden")
	})

	t.Run("role present", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/users/alice", nil)
		req = req.WithContext(WithPrincipal(req.Context(), &types.Principal{ID: 1, Username: "alice", Roles: []string{"USER"}}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGetPrincipal(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)

	_, err := GetPrincipal(req.Context())
	assert.ErrorIs(t, err, ErrUnauthorized)

	ctx := WithPrincipal(req.Context(), &types.Principal{ID: 1, Username: "alice"})
	p, err := GetPrincipal(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "alice", p.Username)
}
