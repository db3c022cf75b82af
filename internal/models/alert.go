package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Alert severities
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert types raised by the engine
const (
	AlertTypeIPRegistrationLimit = "ip_registration_limit"
	AlertTypeEmailRateLimit      = "email_rate_limit"
	AlertTypeSuspiciousActivity  = "suspicious_activity"
	AlertTypeAutoLockdown        = "auto_lockdown"
	AlertTypeBreachDetected      = "breach_detected"
)

// SecurityAlert is a persisted security event. Mutable only through resolution:
// once resolved it never transitions back to unresolved.
type SecurityAlert struct {
	ID          uuid.UUID     `db:"id"`
	Type        string        `db:"alert_type"`
	Severity    string        `db:"severity"`
	Title       string        `db:"title"`
	Description string        `db:"description"`
	Metadata    AlertMetadata `db:"metadata"`
	IPAddress   *string       `db:"ip_address"`
	Email       *string       `db:"email"`
	CreatedAt   time.Time     `db:"created_at"`
	Resolved    bool          `db:"resolved"`
	ResolvedBy  *string       `db:"resolved_by"`
	ResolvedAt  *time.Time    `db:"resolved_at"`
	Notes       *string       `db:"notes"`
}

// AlertFilter narrows ListAlerts queries. Zero values mean "no constraint".
type AlertFilter struct {
	Type     string
	Severity string
	Resolved *bool
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// AlertMetadata holds additional context for an alert
type AlertMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AlertMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AlertMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*am = AlertMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AlertMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(am)
}
