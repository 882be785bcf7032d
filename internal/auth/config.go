// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package auth

import (
	"fmt"
	"time"
)

// MinSecretLength is the shortest accepted HMAC secret.
const MinSecretLength = 32

// Config holds API authentication settings.
type Config struct {
	// Mode is "jwt" or "none".
	Mode Mode `koanf:"mode"`

	// JWTSecret signs and verifies HS256 tokens.
	JWTSecret string `koanf:"jwt_secret"`

	// Issuer is written to and required in the iss claim.
	Issuer string `koanf:"issuer"`

	// TokenTTL is the default lifetime of minted tokens.
	TokenTTL time.Duration `koanf:"token_ttl"`

	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration `koanf:"leeway"`

	// AnonymousRole is granted to every request in "none" mode.
	AnonymousRole Role `koanf:"anonymous_role"`
}

// DefaultConfig returns production defaults. JWTSecret has no default.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeJWT,
		Issuer:        "vigil",
		TokenTTL:      24 * time.Hour,
		Leeway:        30 * time.Second,
		AnonymousRole: RoleViewer,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeJWT:
		if len(c.JWTSecret) < MinSecretLength {
			return fmt.Errorf("security.auth.jwt_secret must be at least %d characters in jwt mode", MinSecretLength)
		}
		if c.TokenTTL <= 0 {
			return fmt.Errorf("security.auth.token_ttl must be positive")
		}
	case ModeNone:
		if _, err := ParseRole(string(c.AnonymousRole)); err != nil {
			return fmt.Errorf("security.auth.anonymous_role: %w", err)
		}
	default:
		return fmt.Errorf("security.auth.mode must be jwt or none, got %q", c.Mode)
	}
	if c.Leeway < 0 {
		return fmt.Errorf("security.auth.leeway cannot be negative")
	}
	return nil
}
