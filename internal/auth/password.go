// Package auth provides password authentication utilities
package auth

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBCryptCost is the cost parameter for bcrypt hashing
const DefaultBCryptCost = bcrypt.DefaultCost

// PasswordVerifier compares a plaintext candidate with a stored hash
type PasswordVerifier interface {
	Verify(password, hash string) bool

	// DummyHash returns a hash no password matches, costing the same to
	// verify as a stored hash. Unknown-user logins are compared against it.
	DummyHash() string
}

// PasswordHasher produces a storable hash of a plaintext password
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// BcryptPasswords hashes and verifies passwords with bcrypt
type BcryptPasswords struct {
	Cost int

	dummyOnce sync.Once
	dummyHash string
}

// NewBcryptPasswords creates a bcrypt hasher/verifier. A zero cost uses DefaultBCryptCost.
func NewBcryptPasswords(cost int) *BcryptPasswords {
	if cost == 0 {
		cost = DefaultBCryptCost
	}
	return &BcryptPasswords{Cost: cost}
}

// Hash hashes a password using bcrypt
func (b *BcryptPasswords) Hash(password string) (string, error) {
	return HashPassword(password, b.Cost)
}

// Verify verifies a password against a bcrypt hash
func (b *BcryptPasswords) Verify(password, hash string) bool {
	return VerifyPassword(password, hash)
}

// HashPassword hashes a password using bcrypt with the given cost
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(hash), nil
}

// VerifyPassword verifies a password against a bcrypt hash using constant-time comparison
// Returns true if the password matches the hash, false otherwise
func VerifyPassword(password, hash string) bool {
	if password == "" || hash == "" {
		return false
	}

	// bcrypt.CompareHashAndPassword uses constant-time comparison internally
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// DummyHash returns a hash at the configured cost that no password matches.
// It is generated on first use.
func (b *BcryptPasswords) DummyHash() string {
	b.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("tokenauth-unknown-user"), b.Cost)
		if err == nil {
			b.dummyHash = string(hash)
		}
	})
	return b.dummyHash
}
