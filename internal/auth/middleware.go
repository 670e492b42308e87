// Package auth provides authentication middleware for HTTP handlers
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/authz-engine/tokenauth/internal/auth/jwt"
	"github.com/authz-engine/tokenauth/internal/metrics"
	"github.com/authz-engine/tokenauth/pkg/types"
)

// BearerPrefix is the Authorization header scheme marker, including its trailing space
const BearerPrefix = "Bearer "

// Gate outcomes recorded in metrics
const (
	OutcomeAnonymous      = "anonymous"
	OutcomeRejectedToken  = "rejected_token"
	OutcomeUnknownUser    = "unknown_user"
	OutcomeDisabled       = "disabled"
	OutcomeDirectoryError = "directory_error"
	OutcomeAuthenticated  = "authenticated"
)

// TokenDecoder verifies bearer tokens
type TokenDecoder interface {
	IsValid(token string) bool
	Decode(token string) (*jwt.Claims, error)
}

// Gate converts a bearer token into an authenticated principal for the rest
// of the request. It never rejects a request: when authentication fails the
// request continues without a principal and route authorization decides.
type Gate struct {
	tokens    TokenDecoder
	directory Directory
	logger    *zap.Logger
	metrics   metrics.Metrics
}

// NewGate creates a new authentication gate
func NewGate(tokens TokenDecoder, directory Directory, logger *zap.Logger, m metrics.Metrics) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &Gate{
		tokens:    tokens,
		directory: directory,
		logger:    logger,
		metrics:   m,
	}
}

// Handler returns an HTTP middleware handler. The next handler is always called.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, g.Authenticate(r))
	})
}

// Authenticate returns r unchanged when it cannot be authenticated, or a copy
// whose context carries the principal.
func (g *Gate) Authenticate(r *http.Request) *http.Request {
	ctx, ok := g.AuthenticateHeader(r.Context(), r.Header.Get("Authorization"))
	if !ok {
		return r
	}
	return r.WithContext(ctx)
}

// AuthenticateHeader runs the gate over a raw Authorization header value.
// It reports whether the returned context carries a principal.
func (g *Gate) AuthenticateHeader(ctx context.Context, header string) (context.Context, bool) {
	principal, outcome := g.resolve(ctx, header)
	g.metrics.RecordGateOutcome(outcome)
	if principal == nil {
		return ctx, false
	}
	return WithPrincipal(ctx, principal), true
}

func (g *Gate) resolve(ctx context.Context, header string) (*types.Principal, string) {
	token, ok := ExtractBearerToken(header)
	if !ok {
		return nil, OutcomeAnonymous
	}

	// Cheap check before paying for a directory round trip
	if !g.tokens.IsValid(token) {
		return nil, OutcomeRejectedToken
	}

	claims, err := g.tokens.Decode(token)
	if err != nil {
		return nil, OutcomeRejectedToken
	}

	// Reload the user so roles and the disabled flag are current
	user, err := g.directory.FindByUsername(ctx, claims.Username)
	if errors.Is(err, ErrUserNotFound) {
		g.logger.Info("Token subject no longer exists",
			zap.String("username", claims.Username))
		return nil, OutcomeUnknownUser
	}
	if err != nil {
		g.logger.Warn("User directory lookup failed during authentication",
			zap.String("username", claims.Username),
			zap.Error(err))
		return nil, OutcomeDirectoryError
	}

	if user.ID != claims.UserID {
		// The username was reassigned after the token was issued
		g.logger.Warn("Token subject id does not match directory",
			zap.String("username", claims.Username),
			zap.Int64("token_user_id", claims.UserID),
			zap.Int64("directory_user_id", user.ID))
		return nil, OutcomeUnknownUser
	}

	if !user.RolesResolved() {
		g.logger.DPanic("Directory returned user without resolved roles",
			zap.String("username", user.Username),
			zap.Int64("user_id", user.ID),
			zap.Error(ErrRolesUnresolved))
		return nil, OutcomeDirectoryError
	}

	if user.Disabled {
		g.logger.Info("Disabled user presented a valid token",
			zap.String("username", user.Username),
			zap.Int64("user_id", user.ID))
		return nil, OutcomeDisabled
	}

	return user.Principal(), OutcomeAuthenticated
}

// ExtractBearerToken returns the token following the "Bearer " marker.
// Headers without the marker, or with nothing after it, yield false.
func ExtractBearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, BearerPrefix) {
		return "", false
	}

	token := strings.TrimSpace(header[len(BearerPrefix):])
	if token == "" {
		return "", false
	}

	return token, true
}
