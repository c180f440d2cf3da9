package embedding

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/spigell/auto-applier/internal/model"
)

// MaxTextLength is the number of characters kept after normalization.
const MaxTextLength = 4000

// NormalizeText joins the non-empty parts with a newline, collapses whitespace runs
// into single spaces and truncates the result to MaxTextLength characters.
func NormalizeText(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			kept = append(kept, part)
		}
	}

	text := strings.Join(strings.Fields(strings.Join(kept, "\n")), " ")

	runes := []rune(text)
	if len(runes) > MaxTextLength {
		text = strings.TrimSpace(string(runes[:MaxTextLength]))
	}
	return text
}

// Hash returns the hex sha256 digest of already normalized text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum[:])
}

// JobText is the text a posting's embedding is computed from.
func JobText(job *model.JobPosting) string {
	return NormalizeText(job.Title, job.Description)
}

// CandidateText is the text a profile embedding is computed from.
func CandidateText(c *model.CandidateProfile) string {
	return NormalizeText(c.Title, c.Bio)
}

// Valid reports whether stored can be reused for text under the configured model tag.
func Valid(stored model.Embedding, text, modelTag string) bool {
	if stored.Empty() {
		return false
	}
	return stored.Hash == Hash(text) && stored.Model == modelTag
}
