package models

import "time"

// ReputationSourceAlertHistory marks entries recomputed from alert counts
const ReputationSourceAlertHistory = "alert_history"

// ReputationEntry is a cached badness score for an IP address
type ReputationEntry struct {
	IPAddress   string        `json:"ip_address"`
	Score       int           `json:"score"` // 0 (clean) to 100 (hostile)
	Source      string        `json:"source"`
	LastChecked time.Time     `json:"last_checked"`
	TTL         time.Duration `json:"ttl"`
}

// Stale reports whether the entry needs a recompute at the given time
func (e ReputationEntry) Stale(now time.Time) bool {
	return now.Sub(e.LastChecked) > e.TTL
}

// ClampScore bounds a score to [0, 100]
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
