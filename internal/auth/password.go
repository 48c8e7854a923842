package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost stays at the library default; raise it together with the
// seeded admin hash in migrations/seeds.
const bcryptCost = bcrypt.DefaultCost

// bcrypt reads at most 72 bytes of input. Longer passwords are rejected
// outright rather than silently truncated.
const maxPasswordBytes = 72

var (
	errEmptyPassword   = errors.New("auth: password is empty")
	errPasswordTooLong = errors.New("auth: password exceeds 72 bytes")
)

// HashPassword derives the storable hash of a plaintext password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}
	if len(password) > maxPasswordBytes {
		return "", errPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks a plaintext password against the stored hash. The
// error is the same for a missing hash and a mismatch, so login failures
// never reveal whether the account carries a credential at all.
func VerifyPassword(hash, password string) error {
	if hash == "" || password == "" {
		return bcrypt.ErrMismatchedHashAndPassword
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
