package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/spigell/auto-applier/internal/ai"
)

const (
	Provider     = "gemini"
	defaultModel = "text-embedding-004"
	taskType     = "SEMANTIC_SIMILARITY"
)

type embedAPI interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Embedder wraps the Google GenAI client to compute text embeddings.
type Embedder struct {
	models    embedAPI
	modelName string
}

var _ ai.Embedder = (*Embedder)(nil)

// NewEmbedder creates a new Embedder configured for the Gemini API backend.
func NewEmbedder(ctx context.Context, apiKey, model string) (*Embedder, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newEmbedder(client.Models, model), nil
}

func newEmbedder(models embedAPI, model string) *Embedder {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	return &Embedder{models: models, modelName: model}
}

// Embed sends all texts in a single request and returns one vector per text.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e == nil || e.models == nil {
		return nil, errors.New("gemini embedder is not initialized")
	}
	if len(texts) == 0 {
		return nil, ai.ErrEmptyInput
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	resp, err := e.models.EmbedContent(ctx, e.modelName, contents, &genai.EmbedContentConfig{TaskType: taskType})
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("gemini api returned %d embeddings for %d inputs", got, len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, embedding := range resp.Embeddings {
		if embedding == nil || len(embedding.Values) == 0 {
			return nil, fmt.Errorf("gemini api returned an empty embedding at position %d", i)
		}
		vectors[i] = embedding.Values
	}

	return vectors, nil
}

func (e *Embedder) Model() string {
	if e == nil {
		return ""
	}
	return e.modelName
}

func (e *Embedder) Provider() string { return Provider }
