package model

import "time"

// ApplicationRecord is the idempotency token for a (candidate, job) pair.
// It is written once after a successful send and never updated.
type ApplicationRecord struct {
	CandidateID     string    `json:"candidateId"`
	JobID           string    `json:"jobId"`
	JobTitle        string    `json:"jobTitle,omitempty"`
	Category        string    `json:"category,omitempty"`
	AppliedAt       time.Time `json:"appliedAt"`
	MatchScore      float64   `json:"matchScore"`
	KeywordScore    float64   `json:"keywordScore"`
	MatchedKeywords []string  `json:"matchedKeywords"`
}
