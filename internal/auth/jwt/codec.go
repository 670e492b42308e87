// Package jwt provides signed bearer token encoding and verification
package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/authz-engine/tokenauth/pkg/types"
)

const (
	// Issuer identifies tokens minted by this service
	Issuer = "tokenauth"

	// DefaultLifetime is how long an issued token stays valid
	DefaultLifetime = 7 * 24 * time.Hour

	// subjectSeparator splits "<id>,<username>". IDs are base-10 integers,
	// so the first separator always ends the id.
	subjectSeparator = ","

	// HS512 keys shorter than the hash output weaken the MAC
	recommendedSecretLength = 64
)

var (
	// ErrMissingSecret is returned when the codec is built without a signing secret
	ErrMissingSecret = errors.New("jwt secret is required")

	// ErrInvalidSignature is returned when the token MAC does not verify
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrMalformedToken is returned when the token or its claims cannot be parsed
	ErrMalformedToken = errors.New("malformed token")

	// ErrExpiredToken is returned when the token is past its expiration time
	ErrExpiredToken = errors.New("token has expired")

	// ErrUnsupportedToken is returned when the token uses an algorithm other than HS512
	ErrUnsupportedToken = errors.New("unsupported token")

	errIssuerMismatch = errors.New("issuer mismatch")
)

// Claims represents the claims carried by a token. UserID and Username are
// parsed from the subject after verification and are not serialized.
type Claims struct {
	jwt.RegisteredClaims

	UserID   int64  `json:"-"`
	Username string `json:"-"`
}

// Config contains configuration for the token codec
type Config struct {
	// Secret is the HMAC key. Never log it.
	Secret string

	// Lifetime is added to the issue time to compute expiration
	Lifetime time.Duration

	Logger *zap.Logger

	// Now overrides the clock (for testing only)
	Now func() time.Time
}

// Codec encodes principals into HS512-signed tokens and verifies them.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	secret   []byte
	lifetime time.Duration
	logger   *zap.Logger
	now      func() time.Time
	parser   *jwt.Parser
}

// NewCodec creates a new token codec
func NewCodec(cfg *Config) (*Codec, error) {
	if cfg == nil || cfg.Secret == "" {
		return nil, ErrMissingSecret
	}

	c := &Codec{
		secret:   []byte(cfg.Secret),
		lifetime: cfg.Lifetime,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if c.lifetime <= 0 {
		c.lifetime = DefaultLifetime
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}

	if len(c.secret) < recommendedSecretLength {
		c.logger.Warn("JWT secret is shorter than recommended for HS512",
			zap.Int("recommended_bytes", recommendedSecretLength))
	}

	c.parser = jwt.NewParser(
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	return c, nil
}

// Lifetime returns the validity period of issued tokens
func (c *Codec) Lifetime() time.Duration {
	return c.lifetime
}

// Encode issues a signed token for the principal. The token carries only
// identity; roles are reloaded from the directory on every request.
func (c *Codec) Encode(p *types.Principal) (string, error) {
	if p == nil {
		return "", fmt.Errorf("principal is required")
	}
	if p.Username == "" {
		return "", fmt.Errorf("principal username is required")
	}

	now := c.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   formatSubject(p.ID, p.Username),
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.lifetime)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// Decode verifies the token and returns its claims. Failures are logged and
// returned as one of ErrInvalidSignature, ErrMalformedToken, ErrExpiredToken
// or ErrUnsupportedToken.
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	claims, err := c.parse(tokenString)
	if err != nil {
		c.logFailure(err)
		return nil, err
	}
	return claims, nil
}

// IsValid reports whether the token verifies, without exposing its claims
func (c *Codec) IsValid(tokenString string) bool {
	_, err := c.Decode(tokenString)
	return err == nil
}

// ExpiresAt returns the expiration time of a valid token
func (c *Codec) ExpiresAt(tokenString string) (time.Time, error) {
	claims, err := c.Decode(tokenString)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt.Time, nil
}

func (c *Codec) parse(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}

	claims := &Claims{}
	if _, err := c.parser.ParseWithClaims(tokenString, claims, c.keyFunc); err != nil {
		return nil, classify(err)
	}

	id, username, err := parseSubject(claims.Subject)
	if err != nil {
		return nil, err
	}
	claims.UserID = id
	claims.Username = username

	return claims, nil
}

// keyFunc pins the algorithm to HS512 (prevents algorithm confusion attacks)
func (c *Codec) keyFunc(token *jwt.Token) (interface{}, error) {
	if token.Method != jwt.SigningMethodHS512 {
		return nil, fmt.Errorf("%w: signing method %v", ErrUnsupportedToken, token.Header["alg"])
	}
	return c.secret, nil
}

func (c *Codec) logFailure(err error) {
	fields := []zap.Field{
		zap.String("reason", Reason(err)),
		zap.Error(err),
	}
	if errors.Is(err, errIssuerMismatch) {
		c.logger.Error("Token issued by a foreign issuer", fields...)
		return
	}
	c.logger.Warn("Token verification failed", fields...)
}

// classify maps parser errors onto the codec's error kinds
func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnsupportedToken), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrUnsupportedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %w", ErrMalformedToken, errIssuerMismatch)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpiredToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}

// Reason returns a short label for a decode error, suitable for logs and metrics
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrUnsupportedToken):
		return "unsupported"
	case errors.Is(err, errIssuerMismatch):
		return "issuer_mismatch"
	default:
		return "malformed"
	}
}

func formatSubject(id int64, username string) string {
	return strconv.FormatInt(id, 10) + subjectSeparator + username
}

func parseSubject(subject string) (int64, string, error) {
	rawID, username, found := strings.Cut(subject, subjectSeparator)
	if !found {
		return 0, "", fmt.Errorf("%w: subject must have two fields", ErrMalformedToken)
	}

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: subject id: %v", ErrMalformedToken, err)
	}
	if username == "" {
		return 0, "", fmt.Errorf("%w: subject username is empty", ErrMalformedToken)
	}

	return id, username, nil
}
