package model

import (
	"strings"
	"time"
)

// Embedding is a stored vector together with the digest of the text it was computed from
// and the model that produced it.
type Embedding struct {
	Vector []float32 `json:"vector,omitempty"`
	Hash   string    `json:"hash,omitempty"`
	Model  string    `json:"model,omitempty"`
}

// Empty reports whether there is no usable vector.
func (e Embedding) Empty() bool { return len(e.Vector) == 0 }

// JobPosting is a single scraped job. Only the embedding fields are ever written by this module.
type JobPosting struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	Location     string    `json:"location"`
	ContactEmail string    `json:"contactEmail,omitempty"`
	SourceURL    string    `json:"sourceUrl"`
	CreatedAt    time.Time `json:"createdAt"`
	Embedding    Embedding `json:"embedding"`
}

// HasContact reports whether the posting has a destination an application can be sent to.
func (j *JobPosting) HasContact() bool {
	return strings.TrimSpace(j.ContactEmail) != ""
}

// PublicJob is the subset of a posting that is safe to expose to dashboard clients.
type PublicJob struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Location    string    `json:"location"`
	SourceURL   string    `json:"sourceUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	HasContact  bool      `json:"hasContact"`
}

func (j *JobPosting) Public() PublicJob {
	return PublicJob{
		ID:          j.ID,
		Title:       j.Title,
		Description: j.Description,
		Category:    j.Category,
		Location:    j.Location,
		SourceURL:   j.SourceURL,
		CreatedAt:   j.CreatedAt,
		HasContact:  j.HasContact(),
	}
}
