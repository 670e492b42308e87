// Package types provides shared types for the token authentication service
package types

import (
	"time"
)

// Principal represents the authenticated identity carried through a request.
// Roles are always loaded from the user directory, never from a token.
type Principal struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Disabled bool     `json:"disabled"`
}

// Enabled reports whether the principal may be treated as authenticated
func (p *Principal) Enabled() bool {
	return p != nil && !p.Disabled
}

// HasRole checks if the principal has a specific role
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks if the principal has any of the specified roles
func (p *Principal) HasAnyRole(roles ...string) bool {
	for _, required := range roles {
		if p.HasRole(required) {
			return true
		}
	}
	return false
}

// HasAllRoles checks if the principal has all of the specified roles
func (p *Principal) HasAllRoles(roles ...string) bool {
	for _, required := range roles {
		if !p.HasRole(required) {
			return false
		}
	}
	return true
}

// UserRecord is a user as stored by the user directory.
//
// Roles must be resolved eagerly by the directory: nil means the roles were
// never loaded, an empty slice means the user has no roles.
type UserRecord struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email,omitempty"`
	Disabled     bool      `json:"disabled"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
}

// Principal converts the record into a Principal. The returned principal
// owns a copy of the role slice.
func (u *UserRecord) Principal() *Principal {
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)
	return &Principal{
		ID:       u.ID,
		Username: u.Username,
		Roles:    roles,
		Disabled: u.Disabled,
	}
}

// RolesResolved reports whether the directory loaded the record's roles
func (u *UserRecord) RolesResolved() bool {
	return u.Roles != nil
}

// UserDto is the public view of a user returned by the API
type UserDto struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NewUserDto builds the public view of a principal
func NewUserDto(p *Principal) UserDto {
	return UserDto{ID: p.ID, Name: p.Username}
}
