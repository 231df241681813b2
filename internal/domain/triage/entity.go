package triage

import "time"

// AdviceID identifier type
type AdviceID string

// Advice is an AI-generated remediation suggestion for one stored
// finding, kept for auditing and retrieval.
type Advice struct {
	ID          AdviceID  `json:"id"`
	ScanID      string    `json:"scan_id"`
	Fingerprint string    `json:"fingerprint"`
	Model       string    `json:"model,omitempty"`
	Result      string    `json:"result"` // JSON string from the provider
	CreatedAt   time.Time `json:"created_at"`
}
