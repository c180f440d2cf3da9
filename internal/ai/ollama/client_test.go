package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, input []string)) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "nomic-embed-text" {
			http.Error(w, "unexpected model "+req.Model, http.StatusBadRequest)
			return
		}
		handler(w, req.Input)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestEmbedderEmbed(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, input []string) {
		embeddings := make([][]float32, len(input))
		for i := range input {
			embeddings[i] = []float32{float32(i + 1), 0.5}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": "nomic-embed-text", "embeddings": embeddings})
	})

	embedder, err := NewEmbedder(Config{BaseURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vectors, err := embedder.Embed(context.Background(), []string{"site engineer", "qa/qc inspector", "planner"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}
	if vectors[2][0] != 3 {
		t.Fatalf("expected order to be preserved, got %v", vectors)
	}
	if embedder.Model() != defaultModel || embedder.Provider() != Provider {
		t.Fatalf("unexpected model/provider: %s/%s", embedder.Model(), embedder.Provider())
	}
}

func TestEmbedderCountMismatch(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ []string) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": "nomic-embed-text", "embeddings": [][]float32{{1}}})
	})

	embedder, err := NewEmbedder(Config{BaseURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := embedder.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestEmbedderServerError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ []string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model crashed"}`))
	})

	embedder, err := NewEmbedder(Config{BaseURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := embedder.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatalf("expected error from failing server")
	}
}

func TestNewEmbedderValidation(t *testing.T) {
	if _, err := NewEmbedder(Config{}, nil); err == nil {
		t.Fatalf("expected error for empty base url")
	}
	if _, err := NewEmbedder(Config{BaseURL: "not a url"}, nil); err == nil {
		t.Fatalf("expected error for invalid base url")
	}
}
