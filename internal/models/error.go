package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound   = errors.New("resource not found")
	ErrConflict   = errors.New("resource already exists")
	ErrBadRequest = errors.New("bad request")

	// Engine errors. Rate-limit and lockdown denials are not errors: they
	// travel as RateLimitResult and BreachResult fields.
	ErrStoreUnavailable = errors.New("backing store unavailable")
	ErrPolicyNotFound   = errors.New("rate limit policy not found")
	ErrInvalidKey       = errors.New("invalid rate limit key")
)
