package ai

import (
	"context"
	"errors"
)

// ErrEmptyInput is returned when an embedding call is made without any text.
var ErrEmptyInput = errors.New("no input texts")

// Embedder turns texts into vectors. A call with one text is the single mode,
// a call with several texts is the batched mode. Results are returned in input order.
// Implementations do not cache and do not retry.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model is the tag stored next to every vector produced by this embedder.
	Model() string
	Provider() string
}

// EmbedOne is a helper for the single mode.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("provider returned an empty embedding")
	}
	return vectors[0], nil
}
