package auth

import (
	"context"

	"edchat/internal/config"
)

// Validator bundles the JWT secret and the revocation blacklist behind a
// single Validate call, so the session layer does not reach into config.
type Validator struct {
	cfg       config.AuthConfig
	blacklist TokenBlacklist
}

// NewValidator creates a Validator. blacklist may be nil, in which case
// revocation is not checked.
func NewValidator(cfg config.AuthConfig, blacklist TokenBlacklist) *Validator {
	return &Validator{cfg: cfg, blacklist: blacklist}
}

// Validate parses and verifies a presented token.
func (v *Validator) Validate(ctx context.Context, token string) (*Claims, error) {
	return ValidateToken(ctx, token, v.cfg.JWTSecretKey, v.blacklist)
}
