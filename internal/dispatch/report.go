package dispatch

import (
	"time"

	"github.com/spigell/auto-applier/internal/filtering"
	"github.com/spigell/auto-applier/internal/matching"
)

type State string

const (
	StateIdle        State = "idle"
	StateScanning    State = "scanning"
	StateMatching    State = "matching"
	StateDispatching State = "dispatching"
	StateFinalizing  State = "finalizing"
	StateDone        State = "done"
)

type StopReason string

const (
	StopExhausted  StopReason = "exhausted"
	StopTimeBudget StopReason = "time_budget"
	StopItemCap    StopReason = "item_cap"
	StopAborted    StopReason = "aborted"
)

// AppliedJob describes a posting the run sent to, or would have sent to in a dry run.
type AppliedJob struct {
	JobID           string          `json:"jobId"`
	Title           string          `json:"title"`
	Category        string          `json:"category"`
	Similarity      float64         `json:"similarity"`
	KeywordScore    float64         `json:"keywordScore"`
	MatchedKeywords []string        `json:"matchedKeywords"`
	Reason          matching.Reason `json:"reason"`
}

// Report is the outcome of a single run. It is returned even when the run aborts.
type Report struct {
	RunID       string     `json:"runId"`
	CandidateID string     `json:"candidateId"`
	DryRun      bool       `json:"dryRun"`
	State       State      `json:"state"`
	StopReason  StopReason `json:"stopReason"`

	Scanned         int `json:"scanned"`
	Matched         int `json:"matched"`
	Sent            int `json:"sent"`
	AlreadyApplied  int `json:"alreadyApplied"`
	MissingContact  int `json:"missingContact"`
	SkippedOld      int `json:"skippedOld"`
	NotMatched      int `json:"notMatched"`
	MissingMaterial int `json:"missingMaterial"`
	Pages           int `json:"pages"`
	Fallbacks       int `json:"fallbacks"`

	Applied []AppliedJob       `json:"applied"`
	Filters []filtering.Status `json:"filters"`
	Notes   []string           `json:"notes,omitempty"`

	Cursor     string    `json:"cursor"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (r *Report) note(msg string) {
	for _, n := range r.Notes {
		if n == msg {
			return
		}
	}
	r.Notes = append(r.Notes, msg)
}

// dispatched is what the item cap is compared against. Dry runs count would-be sends.
func (r *Report) dispatched() int {
	return len(r.Applied)
}
