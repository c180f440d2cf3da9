package model

import (
	"strings"
	"time"
)

const (
	MaterialEmail = "email"
	MaterialCV    = "cv"
)

// CandidateProfile is the account a dispatch run works on behalf of.
type CandidateProfile struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Title            string      `json:"title"`
	Bio              string      `json:"bio"`
	Email            string      `json:"email"`
	CVPath           string      `json:"cvPath,omitempty"`
	CVURL            string      `json:"cvUrl,omitempty"`
	PhotoPath        string      `json:"photoPath,omitempty"`
	AutoApplyEnabled bool        `json:"autoApplyEnabled"`
	LastAutoApply    Cursor      `json:"-"`
	ProfileEmbedding Embedding   `json:"profileEmbedding"`
	MatchStats       *MatchStats `json:"matchStats,omitempty"`
}

// MissingMaterial lists the outbound material an application cannot be sent without.
// A CV is satisfied by either an uploaded document or a link.
func (c *CandidateProfile) MissingMaterial() []string {
	var missing []string
	if strings.TrimSpace(c.Email) == "" {
		missing = append(missing, MaterialEmail)
	}
	if strings.TrimSpace(c.CVPath) == "" && strings.TrimSpace(c.CVURL) == "" {
		missing = append(missing, MaterialCV)
	}
	return missing
}

// MatchStats is a point-in-time estimate. It is overwritten on every computation.
type MatchStats struct {
	TotalJobs        int       `json:"totalJobs"`
	TotalWithContact int       `json:"totalWithContact"`
	MatchingJobs     int       `json:"matchingJobs"`
	UpdatedAt        time.Time `json:"updatedAt"`
	ThresholdUsed    float64   `json:"thresholdUsed"`
	Complete         bool      `json:"complete"`
}
