package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/spigell/auto-applier/internal/ai"
)

const (
	Provider       = "ollama"
	defaultModel   = "nomic-embed-text"
	defaultTimeout = 60 * time.Second
)

// Config describes a local or remote Ollama server.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Embedder computes embeddings with the Ollama embed endpoint.
type Embedder struct {
	api       *api.Client
	modelName string
}

var _ ai.Embedder = (*Embedder)(nil)

// NewEmbedder creates an Embedder. A nil httpClient gets one with cfg.Timeout.
func NewEmbedder(cfg Config, httpClient *http.Client) (*Embedder, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("ollama base url is required")
	}

	u, err := url.ParseRequestURI(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	return &Embedder{api: api.NewClient(u, httpClient), modelName: model}, nil
}

// Embed sends all texts in one request and returns one vector per text.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ai.ErrEmptyInput
	}

	resp, err := e.api.Embed(ctx, &api.EmbedRequest{Model: e.modelName, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	for i, vector := range resp.Embeddings {
		if len(vector) == 0 {
			return nil, fmt.Errorf("ollama returned an empty embedding at position %d", i)
		}
	}

	return resp.Embeddings, nil
}

func (e *Embedder) Model() string { return e.modelName }

func (e *Embedder) Provider() string { return Provider }
