// Package outreach hands applications and run summaries to the mail workers.
// Composition and SMTP transport happen on the other side of the channel.
package outreach

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spigell/auto-applier/internal/model"
)

const (
	ChannelApplication = "CMD_SEND_APPLICATION"
	ChannelRunSummary  = "CMD_SEND_RUN_SUMMARY"

	unknownCategory = "Unknown"
)

// Sender delivers an application to an employer.
type Sender interface {
	SendApplication(ctx context.Context, msg Application) error
}

// Notifier tells the candidate what a run did.
type Notifier interface {
	SendRunSummary(ctx context.Context, msg RunSummary) error
}

// Messenger is implemented by every transport.
type Messenger interface {
	Sender
	Notifier
}

// Application is the payload of CMD_SEND_APPLICATION.
type Application struct {
	RunID           string    `json:"runId"`
	CandidateID     string    `json:"candidateId"`
	CandidateName   string    `json:"candidateName"`
	CandidateTitle  string    `json:"candidateTitle"`
	CandidateBio    string    `json:"candidateBio"`
	ReplyTo         string    `json:"replyTo"`
	CVPath          string    `json:"cvPath,omitempty"`
	CVURL           string    `json:"cvUrl,omitempty"`
	PhotoPath       string    `json:"photoPath,omitempty"`
	JobID           string    `json:"jobId"`
	JobTitle        string    `json:"jobTitle"`
	JobLocation     string    `json:"jobLocation"`
	JobURL          string    `json:"jobUrl"`
	To              string    `json:"to"`
	Subject         string    `json:"subject"`
	MatchScore      float64   `json:"matchScore"`
	KeywordScore    float64   `json:"keywordScore"`
	MatchedKeywords []string  `json:"matchedKeywords"`
	CreatedAt       time.Time `json:"createdAt"`
}

// RunSummary is the payload of CMD_SEND_RUN_SUMMARY.
type RunSummary struct {
	RunID       string         `json:"runId"`
	CandidateID string         `json:"candidateId"`
	To          string         `json:"to"`
	Subject     string         `json:"subject"`
	Total       int            `json:"total"`
	ByCategory  map[string]int `json:"byCategory"`
	JobIDs      []string       `json:"jobIds"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Subject is the employer-facing subject line.
func Subject(candidateTitle, jobTitle string) string {
	title := strings.TrimSpace(candidateTitle)
	if title == "" {
		title = "Candidate"
	}
	return fmt.Sprintf("Application: %s for %s", title, strings.TrimSpace(jobTitle))
}

// NewApplication builds the message for one (candidate, job) pair.
func NewApplication(runID string, c *model.CandidateProfile, job *model.JobPosting, rec model.ApplicationRecord) Application {
	return Application{
		RunID:           runID,
		CandidateID:     c.ID,
		CandidateName:   c.Name,
		CandidateTitle:  c.Title,
		CandidateBio:    c.Bio,
		ReplyTo:         c.Email,
		CVPath:          c.CVPath,
		CVURL:           c.CVURL,
		PhotoPath:       c.PhotoPath,
		JobID:           job.ID,
		JobTitle:        job.Title,
		JobLocation:     job.Location,
		JobURL:          job.SourceURL,
		To:              strings.TrimSpace(job.ContactEmail),
		Subject:         Subject(c.Title, job.Title),
		MatchScore:      rec.MatchScore,
		KeywordScore:    rec.KeywordScore,
		MatchedKeywords: rec.MatchedKeywords,
		CreatedAt:       rec.AppliedAt,
	}
}

// CountByCategory groups applied postings by category. Blank categories count as "Unknown".
func CountByCategory(records []model.ApplicationRecord) map[string]int {
	counts := make(map[string]int)
	for _, rec := range records {
		category := strings.TrimSpace(rec.Category)
		if category == "" {
			category = unknownCategory
		}
		counts[category]++
	}
	return counts
}

// NewRunSummary builds the candidate-facing summary of a live run.
func NewRunSummary(runID string, c *model.CandidateProfile, records []model.ApplicationRecord, now time.Time) RunSummary {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.JobID)
	}
	sort.Strings(ids)

	return RunSummary{
		RunID:       runID,
		CandidateID: c.ID,
		To:          c.Email,
		Subject:     fmt.Sprintf("Auto apply summary - %d applications", len(records)),
		Total:       len(records),
		ByCategory:  CountByCategory(records),
		JobIDs:      ids,
		CreatedAt:   now,
	}
}
