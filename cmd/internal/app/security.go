package app

import (
	"errors"
	"strings"
)

// ValidateSecurityConfig enforces parley's security policy at startup.
//
// Fail-fast is intentional: silently falling back to plaintext credential
// storage in production is unacceptable.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireHashedPasswords {
		return nil
	}

	if !strings.EqualFold(strings.TrimSpace(cfg.PasswordMode), "argon2id") {
		return errors.New("security policy: PARLEY_REQUIRE_HASHED_PASSWORDS=true but PARLEY_PASSWORD_MODE is not argon2id")
	}
	return nil
}
