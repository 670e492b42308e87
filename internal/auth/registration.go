package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/authz-engine/tokenauth/internal/metrics"
	"github.com/authz-engine/tokenauth/pkg/types"
)

const (
	maxUsernameLength = 64
	minPasswordLength = 6
	maxPasswordLength = 72 // bcrypt ignores anything longer
)

// Registration results recorded in metrics
const (
	RegistrationCreated = "created"
	RegistrationInvalid = "invalid"
	RegistrationTaken   = "taken"
	RegistrationError   = "error"
)

// Registration is a request to create a new user
type Registration struct {
	Username string
	Password string
	Email    string
}

// Registrar creates users with hashed passwords and default roles
type Registrar struct {
	store        UserStore
	hasher       PasswordHasher
	defaultRoles []string
	logger       *zap.Logger
	metrics      metrics.Metrics
}

// NewRegistrar creates a new registrar. New users receive defaultRoles.
func NewRegistrar(store UserStore, hasher PasswordHasher, defaultRoles []string, logger *zap.Logger, m metrics.Metrics) *Registrar {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	roles := make([]string, len(defaultRoles))
	copy(roles, defaultRoles)
	return &Registrar{
		store:        store,
		hasher:       hasher,
		defaultRoles: roles,
		logger:       logger,
		metrics:      m,
	}
}

// Register validates the request, hashes the password and stores the user
func (r *Registrar) Register(ctx context.Context, req Registration) (*types.Principal, error) {
	if err := ValidateRegistration(req); err != nil {
		r.metrics.RecordRegistration(RegistrationInvalid)
		return nil, err
	}

	hash, err := r.hasher.Hash(req.Password)
	if err != nil {
		r.metrics.RecordRegistration(RegistrationError)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	roles := make([]string, len(r.defaultRoles))
	copy(roles, r.defaultRoles)

	user, err := r.store.CreateUser(ctx, &types.UserRecord{
		Username:     req.Username,
		PasswordHash: hash,
		Email:        req.Email,
		Roles:        roles,
	})
	if errors.Is(err, ErrUsernameTaken) {
		r.metrics.RecordRegistration(RegistrationTaken)
		return nil, err
	}
	if err != nil {
		r.metrics.RecordRegistration(RegistrationError)
		r.logger.Error("Failed to create user",
			zap.String("username", req.Username),
			zap.Error(err))
		return nil, fmt.Errorf("create user: %w", err)
	}

	r.metrics.RecordRegistration(RegistrationCreated)
	r.logger.Info("User registered",
		zap.String("username", user.Username),
		zap.Int64("user_id", user.ID),
		zap.Strings("roles", user.Roles))

	return user.Principal(), nil
}

// ValidateRegistration checks username, password and email
func ValidateRegistration(req Registration) error {
	if err := ValidateUsername(req.Username); err != nil {
		return err
	}

	if len(req.Password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters long", ErrInvalidRegistration, minPasswordLength)
	}
	if len(req.Password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes long", ErrInvalidRegistration, maxPasswordLength)
	}

	if req.Email != "" {
		addr, err := mail.ParseAddress(req.Email)
		if err != nil || addr.Address != req.Email {
			return fmt.Errorf("%w: invalid email address", ErrInvalidRegistration)
		}
	}

	return nil
}

// ValidateUsername rejects usernames that cannot round-trip through a token
// subject: empty, too long, containing the subject separator, whitespace or
// control characters.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidRegistration)
	}
	if len(username) > maxUsernameLength {
		return fmt.Errorf("%w: username must be at most %d bytes long", ErrInvalidRegistration, maxUsernameLength)
	}
	if strings.Contains(username, ",") {
		return fmt.Errorf("%w: username must not contain ','", ErrInvalidRegistration)
	}
	for _, r := range username {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return fmt.Errorf("%w: username contains invalid characters", ErrInvalidRegistration)
		}
	}
	return nil
}
