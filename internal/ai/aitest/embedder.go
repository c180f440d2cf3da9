// Package aitest provides an in-memory embedder for tests of packages that depend on ai.Embedder.
package aitest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/spigell/auto-applier/internal/ai"
)

const defaultDimensions = 16

// Embedder returns deterministic bag-of-words vectors and records every call.
type Embedder struct {
	mu sync.Mutex

	ModelTag string
	// Vectors overrides the vector returned for an exact input text.
	Vectors map[string][]float32
	// Errs is consumed one entry per call before falling back to Err.
	Errs []error
	Err  error

	Calls   int
	Batches [][]string
}

var _ ai.Embedder = (*Embedder)(nil)

func NewEmbedder(model string) *Embedder {
	return &Embedder{ModelTag: model, Vectors: map[string][]float32{}}
}

func (e *Embedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Calls++
	e.Batches = append(e.Batches, append([]string(nil), texts...))

	if len(e.Errs) > 0 {
		err := e.Errs[0]
		e.Errs = e.Errs[1:]
		if err != nil {
			return nil, err
		}
	} else if e.Err != nil {
		return nil, e.Err
	}

	if len(texts) == 0 {
		return nil, ai.ErrEmptyInput
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := e.Vectors[text]; ok {
			vectors[i] = v
			continue
		}
		vectors[i] = BagOfWords(text)
	}
	return vectors, nil
}

func (e *Embedder) Model() string { return e.ModelTag }

func (e *Embedder) Provider() string { return "fake" }

// CallCount is safe to use while other goroutines embed.
func (e *Embedder) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Calls
}

// BagOfWords hashes lowercase words into a fixed number of buckets.
func BagOfWords(text string) []float32 {
	v := make([]float32, defaultDimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		v[h.Sum32()%defaultDimensions]++
	}
	return v
}
