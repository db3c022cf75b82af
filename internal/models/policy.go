package models

import (
	"fmt"
	"time"
)

// Action identifies a protected mutation endpoint. The set is closed:
// adding an action means adding a policy for it in config.
type Action string

const (
	ActionLogin              Action = "login"
	ActionRegistration       Action = "registration"
	ActionPasswordReset      Action = "password_reset"
	ActionResendVerification Action = "resend_verification"
	ActionAIChat             Action = "ai_chat"
)

// Actions lists every protected action. Order is stable for config loading.
func Actions() []Action {
	return []Action{
		ActionLogin,
		ActionRegistration,
		ActionPasswordReset,
		ActionResendVerification,
		ActionAIChat,
	}
}

// RateLimitPolicy is configuration for one protected action, not runtime state
type RateLimitPolicy struct {
	MaxAttempts              int
	Window                   time.Duration
	Lockout                  time.Duration
	ProgressiveDelaySchedule []time.Duration // monotonically non-decreasing
}

// Validate rejects policies that would make the evaluator misbehave
func (p RateLimitPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", p.MaxAttempts)
	}
	if p.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", p.Window)
	}
	if p.Lockout <= 0 {
		return fmt.Errorf("lockout must be positive, got %s", p.Lockout)
	}
	for i := 1; i < len(p.ProgressiveDelaySchedule); i++ {
		if p.ProgressiveDelaySchedule[i] < p.ProgressiveDelaySchedule[i-1] {
			return fmt.Errorf("progressive delay schedule must be non-decreasing at index %d", i)
		}
	}
	return nil
}

// DelayFor returns the progressive delay for the n-th attempt in the window.
// The last schedule entry acts as the cap.
func (p RateLimitPolicy) DelayFor(n int) time.Duration {
	if len(p.ProgressiveDelaySchedule) == 0 || n < 0 {
		return 0
	}
	if n >= len(p.ProgressiveDelaySchedule) {
		n = len(p.ProgressiveDelaySchedule) - 1
	}
	return p.ProgressiveDelaySchedule[n]
}

// SuspicionThresholds configure the abuse heuristic scorer
type SuspicionThresholds struct {
	MaxAttemptsPerWindow        int
	MaxUniqueSecondaryPerWindow int
	MaxFailureRatio             float64
}

// Validate rejects threshold sets that could never trigger or always trigger
func (t SuspicionThresholds) Validate() error {
	if t.MaxAttemptsPerWindow <= 0 {
		return fmt.Errorf("max attempts per window must be positive, got %d", t.MaxAttemptsPerWindow)
	}
	if t.MaxUniqueSecondaryPerWindow <= 0 {
		return fmt.Errorf("max unique secondary per window must be positive, got %d", t.MaxUniqueSecondaryPerWindow)
	}
	if t.MaxFailureRatio <= 0 || t.MaxFailureRatio > 1 {
		return fmt.Errorf("max failure ratio must be in (0, 1], got %f", t.MaxFailureRatio)
	}
	return nil
}

// ActionPolicy bundles the limiter policy and suspicion thresholds for one action
type ActionPolicy struct {
	Policy     RateLimitPolicy
	Thresholds SuspicionThresholds
}

// PolicySet maps every protected action to its policy
type PolicySet map[Action]ActionPolicy

// Get returns the policy for an action, or ErrPolicyNotFound
func (ps PolicySet) Get(action Action) (ActionPolicy, error) {
	ap, ok := ps[action]
	if !ok {
		return ActionPolicy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, action)
	}
	return ap, nil
}

// Validate checks every action has a valid policy. Called once at startup;
// a failure here aborts initialization rather than surfacing per request.
func (ps PolicySet) Validate() error {
	for _, action := range Actions() {
		ap, ok := ps[action]
		if !ok {
			return fmt.Errorf("%w: %s", ErrPolicyNotFound, action)
		}
		if err := ap.Policy.Validate(); err != nil {
			return fmt.Errorf("policy for %s: %w", action, err)
		}
		if err := ap.Thresholds.Validate(); err != nil {
			return fmt.Errorf("thresholds for %s: %w", action, err)
		}
	}
	return nil
}
