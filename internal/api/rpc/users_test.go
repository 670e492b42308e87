package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/authz-engine/tokenauth/internal/auth"
	"github.com/authz-engine/tokenauth/internal/auth/jwt"
	"github.com/authz-engine/tokenauth/internal/directory"
	"github.com/authz-engine/tokenauth/internal/server"
	"github.com/authz-engine/tokenauth/internal/server/middleware"
	"github.com/authz-engine/tokenauth/pkg/types"
)

const testSecret = "rpc-test-secret-that-is-long-enough-for-hs512-signing-keys-okay!!"

type testUsers struct {
	client    *UserClient
	codec     *jwt.Codec
	directory *directory.MemoryDirectory
}

// startUsers serves the Users service behind the authenticating gRPC host
func startUsers(t *testing.T) *testUsers {
	t.Helper()

	codec, err := jwt.NewCodec(&jwt.Config{Secret: testSecret})
	require.NoError(t, err)
	dir := directory.NewMemoryDirectory()

	policies := server.DefaultPolicies()
	for method, req := range UserPolicies() {
		policies[method] = req
	}
	authenticator := middleware.NewAuthenticator(auth.NewGate(codec, dir, nil, nil), policies, auth.Authenticated(), nil, nil)

	srv, err := server.New(server.DefaultConfig(), authenticator, nil)
	require.NoError(t, err)
	NewUserService(dir, nil).Register(srv)

	lis := bufconn.Listen(1024 * 1024)
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testUsers{client: NewUserClient(conn), codec: codec, directory: dir}
}

func (tu *testUsers) tokenFor(t *testing.T, username string, roles ...string) string {
	t.Helper()

	user, err := tu.directory.CreateUser(context.Background(), &types.UserRecord{
		Username: username,
		Roles:    roles,
	})
	require.NoError(t, err)

	token, err := tu.codec.Encode(user.Principal())
	require.NoError(t, err)
	return token
}

func callContext(t *testing.T, token string) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func TestMe(t *testing.T) {
	tu := startUsers(t)
	token := tu.tokenFor(t, "alice", "USER", "AUDITOR")
	noRoles := tu.tokenFor(t, "bob")

	t.Run("authenticated", func(t *testing.T) {
		resp, err := tu.client.Me(callContext(t, token))
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{
			"id":    float64(1),
			"name":  "alice",
			"roles": []interface{}{"USER", "AUDITOR"},
		}, resp.AsMap())
	})

	t.Run("no roles needed", func(t *testing.T) {
		resp, err := tu.client.Me(callContext(t, noRoles))
		require.NoError(t, err)
		assert.Equal(t, "bob", resp.AsMap()["name"])
		assert.Empty(t, resp.AsMap()["roles"])
	})

	t.Run("no token", func(t *testing.T) {
		_, err := tu.client.Me(callContext(t, ""))
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := tu.client.Me(callContext(t, "not.a.token"))
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})
}

func TestGetUser(t *testing.T) {
	tu := startUsers(t)
	userToken := tu.tokenFor(t, "alice", "USER")
	otherToken := tu.tokenFor(t, "carol", "AUDITOR")

	t.Run("found", func(t *testing.T) {
		resp, err := tu.client.GetUser(callContext(t, userToken), "carol")
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"id": float64(2), "name": "carol"}, resp.AsMap())
	})

	t.Run("not found", func(t *testing.T) {
		_, err := tu.client.GetUser(callContext(t, userToken), "ghost")
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := tu.client.GetUser(callContext(t, userToken), "")
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("missing role", func(t *testing.T) {
		_, err := tu.client.GetUser(callContext(t, otherToken), "alice")
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("no token", func(t *testing.T) {
		_, err := tu.client.GetUser(callContext(t, ""), "alice")
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("role revoked after issuance", func(t *testing.T) {
		require.NoError(t, tu.directory.SetRoles(context.Background(), "alice"))
		_, err := tu.client.GetUser(callContext(t, userToken), "carol")
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("disabled after issuance", func(t *testing.T) {
		require.NoError(t, tu.directory.SetDisabled(context.Background(), "carol", true))
		_, err := tu.client.GetUser(callContext(t, otherToken), "alice")
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})
}

func TestUserPolicies(t *testing.T) {
	policies := UserPolicies()
	assert.Equal(t, "authenticated", policies[MeMethod].String())
	assert.Equal(t, "any(USER)", policies[GetUserMethod].String())
}
