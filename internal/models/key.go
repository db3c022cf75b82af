package models

import "fmt"

// KeyKind distinguishes what a rate-limit key identifies
type KeyKind string

const (
	KeyKindIP        KeyKind = "ip"
	KeyKindEmail     KeyKind = "email"
	KeyKindComposite KeyKind = "composite"
)

// RateLimitKey addresses one bounded attempt history: an IP, a normalized
// secondary identifier, or a composite, scoped to a protected action.
type RateLimitKey struct {
	Kind   KeyKind
	Value  string
	Action Action
}

// Validate rejects malformed keys before they reach the store
func (k RateLimitKey) Validate() error {
	switch k.Kind {
	case KeyKindIP, KeyKindEmail, KeyKindComposite:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidKey, k.Kind)
	}
	if k.Value == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidKey)
	}
	if k.Action == "" {
		return fmt.Errorf("%w: missing action", ErrInvalidKey)
	}
	return nil
}

// String renders the storage key
func (k RateLimitKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Kind, k.Action, k.Value)
}
