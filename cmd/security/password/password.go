// Package password treats stored credentials as opaque verifiers.
//
// Two modes exist:
//   - plain: byte equality against the stored credential (legacy data)
//   - argon2id: PHC-encoded Argon2id hashes
//
// The LOGIN wire contract does not depend on the mode; swapping plain for
// argon2id changes only what REGISTER writes and LOGIN compares.
package password

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrInvalidHash      = errors.New("invalid password hash")
)

const (
	minPasswordLen = 6
	maxPasswordLen = 256
)

// Verifier turns a plaintext password into a stored credential and checks a
// candidate against one.
type Verifier interface {
	// Derive returns the credential to store for a new password.
	Derive(plain string) (string, error)
	// Verify reports whether plain matches the stored credential.
	Verify(stored, plain string) (bool, error)
}

// New returns the verifier for a mode string ("plain" or "argon2id").
// Unknown modes fall back to plain, matching the legacy data set.
func New(mode string) Verifier {
	if strings.EqualFold(strings.TrimSpace(mode), "argon2id") {
		return Argon2id{Params: DefaultParams()}
	}
	return Plain{}
}

func validateLength(plain string) error {
	if len(plain) < minPasswordLen {
		return ErrPasswordTooShort
	}
	if len(plain) > maxPasswordLen {
		return ErrPasswordTooLong
	}
	return nil
}

// Plain stores the password as-is and compares in constant time.
type Plain struct{}

func (Plain) Derive(plain string) (string, error) {
	if err := validateLength(plain); err != nil {
		return "", err
	}
	return plain, nil
}

func (Plain) Verify(stored, plain string) (bool, error) {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(plain)) == 1, nil
}
