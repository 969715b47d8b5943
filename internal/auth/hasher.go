package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost matches the work factor the account base was created with.
const bcryptCost = 12

// PasswordHasher is the one-way hashing contract the service depends on.
// Hash fails on an empty plaintext; Compare fails (rather than returning
// false) when either input is absent, so callers must guarantee an account
// has a password before verifying.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Compare(plaintext, digest string) (bool, error)
}

type bcryptHasher struct {
	cost int
}

func NewPasswordHasher() PasswordHasher {
	return bcryptHasher{cost: bcryptCost}
}

func (h bcryptHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("password must not be empty")
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	return string(digest), nil
}

func (h bcryptHasher) Compare(plaintext, digest string) (bool, error) {
	if plaintext == "" {
		return false, errors.New("password must not be empty")
	}
	if digest == "" {
		return false, errors.New("account has no password hash")
	}

	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("compare password: %w", err)
	}

	return true, nil
}
