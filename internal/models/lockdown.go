package models

import (
	"time"

	"github.com/google/uuid"
)

// BreachEventType names a class of observed security event
type BreachEventType string

const (
	BreachRepeatedFailedAuth  BreachEventType = "repeated_failed_auth"
	BreachCredentialStuffing  BreachEventType = "credential_stuffing"
	BreachInjectionAttempt    BreachEventType = "injection_attempt"
	BreachDataExfiltration    BreachEventType = "data_exfiltration_pattern"
	BreachAnomalousTraffic    BreachEventType = "anomalous_traffic"
)

// BreachContext carries the signals available when a breach event is scored
type BreachContext struct {
	IPAddress    string
	UserID       string
	UserAgent    string
	AttemptCount int
	PayloadSize  int
	Endpoint     string
}

// BreachResult is the outcome of scoring one security event
type BreachResult struct {
	BreachDetected    bool
	LockdownTriggered bool
	Score             int // clamped to [0, 100]
}

// Lockdown is an active hard block. Created and owned solely by the lockdown
// controller; read-only to everything else. It is never un-triggered by a
// subsequent successful request, only by TTL expiry or explicit admin unblock.
type Lockdown struct {
	ID          uuid.UUID `json:"id"`
	IPAddress   string    `json:"ip_address"`
	UserID      string    `json:"user_id,omitempty"`
	Reason      string    `json:"reason"`
	Score       int       `json:"score"`
	TriggeredAt time.Time `json:"triggered_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
