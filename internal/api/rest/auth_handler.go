package rest

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/authz-engine/tokenauth/internal/audit"
	"github.com/authz-engine/tokenauth/internal/auth"
	"github.com/authz-engine/tokenauth/internal/metrics"
	"github.com/authz-engine/tokenauth/internal/ratelimit"
	"github.com/authz-engine/tokenauth/pkg/types"
)

// Authenticator verifies username/password credentials
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*types.Principal, error)
}

// Registerer creates new accounts
type Registerer interface {
	Register(ctx context.Context, req auth.Registration) (*types.Principal, error)
}

// TokenIssuer mints bearer tokens for authenticated principals
type TokenIssuer interface {
	Encode(p *types.Principal) (string, error)
	ExpiresAt(token string) (time.Time, error)
}

// AuthHandler handles login and registration requests
type AuthHandler struct {
	verifier  Authenticator
	registrar Registerer
	tokens    TokenIssuer
	limiter   ratelimit.Limiter
	auditor   audit.Logger
	metrics   metrics.Metrics
	logger    *zap.Logger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(
	verifier Authenticator,
	registrar Registerer,
	tokens TokenIssuer,
	limiter ratelimit.Limiter,
	auditor audit.Logger,
	m metrics.Metrics,
	logger *zap.Logger,
) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	if limiter == nil {
		limiter = ratelimit.NewNoopLimiter()
	}
	if auditor == nil {
		auditor = audit.NewNoopLogger()
	}

	return &AuthHandler{
		verifier:  verifier,
		registrar: registrar,
		tokens:    tokens,
		limiter:   limiter,
		auditor:   auditor,
		metrics:   m,
		logger:    logger,
	}
}

// Login handles POST /api/login
//   - 200 with the token in the body and the Authorization header
//   - 400 for a malformed body
//   - 401 for unknown users and wrong passwords alike
//   - 403 for disabled accounts
//   - 429 when the username/client pair is throttled
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid login request",
			zap.Error(err),
			zap.String("remote_addr", c.ClientIP()))
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "username and password are required")
		return
	}

	throttleKey := ratelimit.LoginKey(req.Username, c.ClientIP())
	allowed, remaining, resetTime, err := h.limiter.Allow(c.Request.Context(), throttleKey)
	if err != nil {
		h.logger.Error("Login throttle check failed",
			zap.String("username", req.Username),
			zap.Error(err))
		abortWithError(c, http.StatusServiceUnavailable, codeUnavailable, "login temporarily unavailable")
		return
	}
	if remaining >= 0 {
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}
	if !allowed {
		h.metrics.RecordThrottled()
		h.logger.Warn("Login throttled",
			zap.String("username", req.Username),
			zap.String("remote_addr", c.ClientIP()),
			zap.Time("reset_time", resetTime))
		h.recordEvent(c, audit.EventTypeLoginThrottled, req.Username, 0, "rate_limited")
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(resetTime)))
		abortWithError(c, http.StatusTooManyRequests, codeRateLimited, "too many login attempts")
		return
	}

	principal, err := h.verifier.Authenticate(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.recordEvent(c, audit.EventTypeLoginFailed, req.Username, 0, "invalid_credentials")
		abortWithError(c, http.StatusUnauthorized, codeInvalidCredentials, "invalid username or password")
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, codeInternal, "an error occurred while processing the request")
		return
	}

	if !principal.Enabled() {
		h.logger.Info("Login refused for disabled account",
			zap.String("username", principal.Username),
			zap.Int64("user_id", principal.ID))
		h.recordEvent(c, audit.EventTypeLoginRefused, principal.Username, principal.ID, "account_disabled")
		abortWithError(c, http.StatusForbidden, codeAccountDisabled, "account is disabled")
		return
	}

	token, err := h.tokens.Encode(principal)
	if err != nil {
		h.logger.Error("Token issuance failed",
			zap.String("username", principal.Username),
			zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, codeInternal, "an error occurred while processing the request")
		return
	}
	expiresAt, err := h.tokens.ExpiresAt(token)
	if err != nil {
		h.logger.Error("Issued token failed verification",
			zap.String("username", principal.Username),
			zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, codeInternal, "an error occurred while processing the request")
		return
	}
	h.metrics.RecordTokenIssued()
	h.recordEvent(c, audit.EventTypeLoginSucceeded, principal.Username, principal.ID, "")

	if err := h.limiter.Reset(c.Request.Context(), throttleKey); err != nil {
		h.logger.Warn("Failed to reset login throttle",
			zap.String("username", principal.Username),
			zap.Error(err))
	}

	c.Header("Authorization", auth.BearerPrefix+token)
	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
		User:      types.NewUserDto(principal),
	})
}

// Register handles POST /api/register
//   - 201 with the new user's UserDto
//   - 400 for invalid input
//   - 409 when the username is taken
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "request body must be a JSON object")
		return
	}

	principal, err := h.registrar.Register(c.Request.Context(), auth.Registration{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
	})
	switch {
	case errors.Is(err, auth.ErrInvalidRegistration):
		h.recordEvent(c, audit.EventTypeRegistrationRejected, req.Username, 0, "invalid")
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	case errors.Is(err, auth.ErrUsernameTaken):
		h.recordEvent(c, audit.EventTypeRegistrationRejected, req.Username, 0, "username_taken")
		abortWithError(c, http.StatusConflict, codeUsernameTaken, "username is already taken")
		return
	case err != nil:
		abortWithError(c, http.StatusInternalServerError, codeInternal, "an error occurred while processing the request")
		return
	}

	h.recordEvent(c, audit.EventTypeUserRegistered, principal.Username, principal.ID, "")
	c.JSON(http.StatusCreated, types.NewUserDto(principal))
}

// recordEvent records a security event for the current request
func (h *AuthHandler) recordEvent(c *gin.Context, eventType audit.EventType, username string, userID int64, reason string) {
	h.auditor.Log(c.Request.Context(), &audit.Event{
		EventType: eventType,
		Username:  username,
		UserID:    userID,
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Reason:    reason,
	})
}

func retryAfterSeconds(resetTime time.Time) int {
	seconds := int(math.Ceil(time.Until(resetTime).Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
