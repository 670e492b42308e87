package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/authz-engine/tokenauth/internal/metrics"
	"github.com/authz-engine/tokenauth/pkg/types"
)

// Login results recorded in metrics
const (
	LoginSuccess            = "success"
	LoginInvalidCredentials = "invalid_credentials"
	LoginDirectoryError     = "directory_error"
	LoginUnresolvedRoles    = "unresolved_roles"
)

// CredentialVerifier checks a username/password pair against the user directory
type CredentialVerifier struct {
	directory Directory
	passwords PasswordVerifier
	logger    *zap.Logger
	metrics   metrics.Metrics
}

// NewCredentialVerifier creates a new credential verifier
func NewCredentialVerifier(directory Directory, passwords PasswordVerifier, logger *zap.Logger, m metrics.Metrics) *CredentialVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &CredentialVerifier{
		directory: directory,
		passwords: passwords,
		logger:    logger,
		metrics:   m,
	}
}

// Authenticate returns the principal for a valid username/password pair.
//
// Unknown users and wrong passwords both yield ErrInvalidCredentials. A
// disabled user with correct credentials still succeeds here; refusing
// disabled principals is the caller's decision.
func (v *CredentialVerifier) Authenticate(ctx context.Context, username, password string) (*types.Principal, error) {
	start := time.Now()

	principal, result, err := v.authenticate(ctx, username, password)
	v.metrics.RecordLogin(result, time.Since(start))

	return principal, err
}

func (v *CredentialVerifier) authenticate(ctx context.Context, username, password string) (*types.Principal, string, error) {
	if username == "" || password == "" {
		return nil, LoginInvalidCredentials, ErrInvalidCredentials
	}

	user, err := v.directory.FindByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		// Burn the same bcrypt time as a real comparison
		v.passwords.Verify(password, v.passwords.DummyHash())
		v.logger.Info("Login failed",
			zap.String("username", username),
			zap.String("reason", "unknown user"))
		return nil, LoginInvalidCredentials, ErrInvalidCredentials
	}
	if err != nil {
		v.logger.Error("User directory lookup failed",
			zap.String("username", username),
			zap.Error(err))
		return nil, LoginDirectoryError, fmt.Errorf("lookup user: %w", err)
	}

	if !v.passwords.Verify(password, user.PasswordHash) {
		v.logger.Info("Login failed",
			zap.String("username", username),
			zap.String("reason", "password mismatch"))
		return nil, LoginInvalidCredentials, ErrInvalidCredentials
	}

	if !user.RolesResolved() {
		v.logger.Error("Directory returned user without resolved roles",
			zap.String("username", username),
			zap.Int64("user_id", user.ID))
		return nil, LoginUnresolvedRoles, ErrRolesUnresolved
	}

	v.logger.Info("Credentials verified",
		zap.String("username", username),
		zap.Int64("user_id", user.ID),
		zap.Bool("disabled", user.Disabled))

	return user.Principal(), LoginSuccess, nil
}
