package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bchauvel/lexia/internal/core/domain"
)

func TestGeneratorBuildsContextPrompt(t *testing.T) {
	var capturedPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		capturedPrompt, _ = payload["prompt"].(string)
		_, _ = w.Write([]byte(`{"response":"{\"introduction\":\"La rupture conventionnelle est encadrée.\",\"legal_framework\":\"Article L1237-11 du code du travail.\",\"application\":\"...\",\"exceptions\":\"\",\"recommendations\":[\"Consulter la convention collective.\"]}"}`))
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed", nil)
	gen := NewGenerator(client)
	sections, err := gen.GenerateSections(context.Background(), "Quels délais de préavis ?", []domain.SearchHit{
		{Title: "Article L1237-11", DocumentType: domain.TypeStatute, LegalDomain: domain.DomainTravail, Text: "texte de l'article", CombinedScore: 0.91},
	})
	if err != nil {
		t.Fatalf("GenerateSections() error = %v", err)
	}
	if !strings.Contains(capturedPrompt, "Quels délais de préavis ?") || !strings.Contains(capturedPrompt, "texte de l'article") {
		t.Fatalf("unexpected prompt: %s", capturedPrompt)
	}
	if sections.LegalFramework != "Article L1237-11 du code du travail." {
		t.Fatalf("unexpected sections: %+v", sections)
	}
	if len(sections.Recommendations) != 1 {
		t.Fatalf("expected one recommendation, got %v", sections.Recommendations)
	}
}

func TestGeneratorRejectsMalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"pas du json"}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "gen", "embed", nil))
	if _, err := gen.GenerateSections(context.Background(), "q", nil); err == nil {
		t.Fatal("expected parse error for non-JSON response")
	}
}

func TestEmbedChecksDimension(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", nil), 768)
	_, err := embedder.Embed(context.Background(), []string{"texte"})
	if !domain.IsKind(err, domain.ErrEmbedding) {
		t.Fatalf("expected embedding error for wrong dimension, got %v", err)
	}

	embedder = NewEmbedder(New(server.URL, "gen", "embed", nil), 3)
	vectors, err := embedder.Embed(context.Background(), []string{"texte"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 1 || len(vectors[0]) != 3 {
		t.Fatalf("unexpected vectors: %v", vectors)
	}
}

func TestEmbedChecksCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1]]}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", nil), 0)
	if _, err := embedder.Embed(context.Background(), []string{"a", "b"}); !domain.IsKind(err, domain.ErrEmbedding) {
		t.Fatalf("expected embedding error for count mismatch, got %v", err)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", nil), 0)
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}
