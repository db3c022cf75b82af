package models

import "time"

// AttemptOutcome classifies the result of an evaluated attempt
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
)

// AttemptRecord is a single entry in the attempt ledger. Immutable once written.
type AttemptRecord struct {
	Timestamp   time.Time      `json:"timestamp"`
	Key         string         `json:"key"`
	SecondaryID string         `json:"secondary_id,omitempty"`
	Outcome     AttemptOutcome `json:"outcome"`
	UserAgent   string         `json:"user_agent,omitempty"`
}

// Failed reports whether the attempt was a failure
func (r AttemptRecord) Failed() bool {
	return r.Outcome == OutcomeFailure
}

// AttemptContext carries per-request metadata into RecordAttempt
type AttemptContext struct {
	SecondaryID string
	UserAgent   string
}

// RateLimitResult is the decision returned by the sliding-window evaluator
type RateLimitResult struct {
	Allowed            bool
	Remaining          int
	RetryAfter         time.Duration // non-zero only when denied
	ProgressiveDelay   time.Duration
	TotalHits          int
	SuspiciousActivity bool
}

// SuspicionStats aggregates what the heuristic scorer saw in the window
type SuspicionStats struct {
	TotalAttempts        int
	UniqueSecondaryCount int
	FailedCount          int
}
