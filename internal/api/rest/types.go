// Package rest provides REST API types and request/response structures
package rest

import (
	"time"

	"github.com/authz-engine/tokenauth/internal/auth"
	"github.com/authz-engine/tokenauth/pkg/types"
)

// ErrorResponse represents an API error response
type ErrorResponse = auth.ErrorResponse

// LoginRequest represents a username/password login
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the issued token. The token is also returned in the
// Authorization response header.
type LoginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      types.UserDto `json:"user"`
}

// RegisterRequest represents a new account registration
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// MeResponse describes the authenticated principal
type MeResponse struct {
	ID    int64    `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// Error codes returned in ErrorResponse.Error
const (
	codeInvalidRequest     = "invalid_request"
	codeInvalidCredentials = "invalid_credentials"
	codeAccountDisabled    = "account_disabled"
	codeRateLimited        = "rate_limit_exceeded"
	codeUsernameTaken      = "username_taken"
	codeNotFound           = "not_found"
	codeUnauthorized       = "unauthorized"
	codeForbidden          = "forbidden"
	codeUnavailable        = "service_unavailable"
	codeInternal           = "internal_error"
)
