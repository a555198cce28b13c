package model

import (
	"errors"
	"fmt"
)

// Configuration-class failures. A session that hits one of these aborts
// before any evaluator is dispatched.
var (
	ErrUnknownClaimType = errors.New("unknown claim type")
	ErrMissingClaimID   = errors.New("missing claim id")
	ErrInvalidAmount    = errors.New("invalid claim amount")
	ErrNoEvaluators     = errors.New("no evaluators selected")
)

// ConfigError reports a claim or configuration problem detected before dispatch.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Err.Error()
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps err as a configuration error on field.
func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Err: err}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// ValidateClaim checks the claim fields the engine itself depends on.
func ValidateClaim(c ClaimInput) error {
	if c.ID == "" {
		return NewConfigError("claim.id", ErrMissingClaimID)
	}
	if !c.Type.Valid() {
		return NewConfigError("claim.type", fmt.Errorf("%w: %q", ErrUnknownClaimType, c.Type))
	}
	if c.Amount.IsNegative() {
		return NewConfigError("claim.amount", fmt.Errorf("%w: %s is negative", ErrInvalidAmount, c.Amount))
	}
	return nil
}
