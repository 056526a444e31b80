package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bchauvel/lexia/internal/core/domain"
)

func TestUpsertSkipsChunksWithoutEmbedding(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/legal_chunks" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode upsert: %v", err)
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "legal_chunks")
	err := c.UpsertChunks(context.Background(), []domain.Chunk{
		{ID: "chunk-1", DocumentID: "doc-1", Text: "a", Embedding: []float32{0.1, 0.2}},
		{ID: "chunk-2", DocumentID: "doc-1", Text: "b", EmbeddingFailed: true},
	})
	if err != nil {
		t.Fatalf("UpsertChunks() error = %v", err)
	}

	points, _ := captured["points"].([]any)
	if len(points) != 1 {
		t.Fatalf("expected the failed chunk skipped, got %d points", len(points))
	}
	point, _ := points[0].(map[string]any)
	if point["id"] != "chunk-1" {
		t.Fatalf("point must be keyed by chunk id, got %v", point["id"])
	}
}

func TestSearchTranslatesFilter(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode search: %v", err)
		}
		w.Write([]byte(`{"result":[
			{"id":"chunk-1","score":0.82,"payload":{
				"document_id":"doc-1","text":"texte","legal_domain":"travail",
				"document_type":"statute","is_current":true,"effective_ts":1767225600}}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "legal_chunks")
	hits, err := c.Search(context.Background(), []float32{0.1, 0.2}, 20, domain.SearchFilter{
		LegalDomain: domain.DomainTravail,
		OnlyCurrent: true,
		EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	filter, _ := captured["filter"].(map[string]any)
	must, _ := filter["must"].([]any)
	if len(must) != 3 {
		t.Fatalf("expected 3 filter clauses, got %d: %v", len(must), must)
	}

	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	hit := hits[0]
	if hit.ChunkID != "chunk-1" || hit.DocumentID != "doc-1" {
		t.Fatalf("unexpected hit identity: %+v", hit)
	}
	if !hit.HasVector || hit.HasKeyword {
		t.Fatalf("vector hit flags wrong: %+v", hit)
	}
	if want := (0.82 + 1) / 2; hit.VectorScore != want {
		t.Fatalf("cosine not normalized: got %f want %f", hit.VectorScore, want)
	}
	if hit.EffectiveDate.Year() != 2026 {
		t.Fatalf("effective date not decoded: %v", hit.EffectiveDate)
	}
}

func TestNormalizeCosineBounds(t *testing.T) {
	if got := normalizeCosine(1); got != 1 {
		t.Fatalf("cos 1 should map to 1, got %f", got)
	}
	if got := normalizeCosine(-1); got != 0 {
		t.Fatalf("cos -1 should map to 0, got %f", got)
	}
	if got := normalizeCosine(0); got != 0.5 {
		t.Fatalf("cos 0 should map to 0.5, got %f", got)
	}
}

func TestDeleteByDocumentUsesFilter(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/legal_chunks/points/delete" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode delete: %v", err)
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "legal_chunks")
	if err := c.DeleteByDocument(context.Background(), "doc-1"); err != nil {
		t.Fatalf("DeleteByDocument() error = %v", err)
	}
	if _, ok := captured["filter"]; !ok {
		t.Fatalf("expected a filter delete, got %v", captured)
	}
}

func TestScrollIDsFollowsPagination(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(`{"result":{"points":[{"id":"a"},{"id":"b"}],"next_page_offset":"b"}}`))
			return
		}
		w.Write([]byte(`{"result":{"points":[{"id":"c"}],"next_page_offset":null}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "legal_chunks")
	ids, err := c.ScrollIDs(context.Background(), 2)
	if err != nil {
		t.Fatalf("ScrollIDs() error = %v", err)
	}
	if len(ids) != 3 || ids[2] != "c" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if calls != 2 {
		t.Fatalf("expected 2 scroll calls, got %d", calls)
	}
}
