package auth

import "errors"

var (
	// ErrInvalidCredentials is returned when the username is unknown or the
	// password does not match. The two causes are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound is returned by a Directory when no user has the username
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameTaken is returned by a UserStore when the username already exists
	ErrUsernameTaken = errors.New("username already taken")

	// ErrRolesUnresolved is returned when a directory hands back a user whose
	// roles were never loaded. This is a programming or configuration error.
	ErrRolesUnresolved = errors.New("user roles were not resolved by the directory")

	// ErrInvalidRegistration is returned when registration input fails validation
	ErrInvalidRegistration = errors.New("invalid registration")

	// ErrUnauthorized is returned when no authenticated principal is present
	ErrUnauthorized = errors.New("unauthorized")
)
