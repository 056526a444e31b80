package judilibre

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bchauvel/lexia/internal/core/domain"
	"github.com/bchauvel/lexia/internal/core/ports"
)

type staticTokens struct{ invalidated int }

func (s *staticTokens) Token(context.Context, string) (string, error) { return "tok", nil }
func (s *staticTokens) Invalidate(string)                             { s.invalidated++ }
func (s *staticTokens) Acquire(context.Context, string) error         { return nil }
func (s *staticTokens) TryAcquire(string) error                       { return nil }
func (s *staticTokens) Delay(string, time.Time)                       {}

func TestCursorBuildsSearchRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("query") != "licenciement" {
			t.Errorf("query param: %q", q.Get("query"))
		}
		if q.Get("page") != "0" || q.Get("page_size") != "2" {
			t.Errorf("pagination params: page=%q page_size=%q", q.Get("page"), q.Get("page_size"))
		}
		if q.Get("date_start") != "2025-06-01" {
			t.Errorf("date_start: %q", q.Get("date_start"))
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization: %q", got)
		}
		json.NewEncoder(w).Encode(searchResponse{Results: []decision{
			{
				ID:           "JURITEXT001",
				Jurisdiction: "Cour de cassation",
				Chamber:      "Chambre sociale",
				Number:       "21-15.742",
				Solution:     "Cassation",
				DecisionDate: "2026-01-20",
				Text:         "La cour casse et annule.",
				URL:          "https://www.courdecassation.fr/decision/JURITEXT001",
			},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL, &staticTokens{}, nil, 2, "")
	cur, err := c.Fetch(context.Background(), ports.FetchParams{
		Query: "licenciement",
		Since: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	batch, done, err := cur.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if done {
		t.Fatal("expected cursor not done while the page had results")
	}
	if len(batch) != 1 {
		t.Fatalf("expected one decision, got %d", len(batch))
	}

	doc := batch[0]
	if doc.DocumentType != domain.TypeCaseLaw {
		t.Fatalf("expected case_law type, got %s", doc.DocumentType)
	}
	if doc.Title != "Cour de cassation, Chambre sociale, 2026-01-20, 21-15.742" {
		t.Fatalf("unexpected title: %q", doc.Title)
	}
	if doc.SourceMetadata["solution"] != "Cassation" {
		t.Fatalf("unexpected metadata: %+v", doc.SourceMetadata)
	}
	if want := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC); !doc.PublishedDate.Equal(want) {
		t.Fatalf("decision date %v, want %v", doc.PublishedDate, want)
	}

	wm := cur.Position()
	if wm.Source != "judilibre" || wm.LastID != "JURITEXT001" || wm.LastPage != 1 {
		t.Fatalf("unexpected watermark: %+v", wm)
	}
}

func TestCursorFallsBackToSummary(t *testing.T) {
	doc, ok := normalizeDecision(decision{
		ID:           "JURITEXT002",
		DecisionDate: "2026-02-01",
		Summary:      "Résumé de la décision.",
	})
	if !ok {
		t.Fatal("expected summary-only decision to normalize")
	}
	if doc.RawText != "Résumé de la décision." {
		t.Fatalf("unexpected text: %q", doc.RawText)
	}
}

func TestCursorDropsEmptyDecisions(t *testing.T) {
	if _, ok := normalizeDecision(decision{ID: "X"}); ok {
		t.Fatal("expected decision without text to be dropped")
	}
	if _, ok := normalizeDecision(decision{Text: "corps"}); ok {
		t.Fatal("expected decision without id to be dropped")
	}
}

func TestCursorExhaustsOnShortPage(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(searchResponse{Results: nil})
	}))
	defer srv.Close()

	c := New(srv.URL, &staticTokens{}, nil, 10, "")
	cur, _ := c.Fetch(context.Background(), ports.FetchParams{Query: "bail"})

	if _, done, err := cur.Next(context.Background()); err != nil || !done {
		t.Fatalf("expected immediate exhaustion: done=%v err=%v", done, err)
	}
	if _, done, _ := cur.Next(context.Background()); !done {
		t.Fatal("expected done to stay true")
	}
	if calls != 1 {
		t.Fatalf("expected a single upstream call, got %d", calls)
	}
}

func TestFetchFallsBackToConfiguredImportQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("query"); got != "rupture du contrat de travail" {
			t.Errorf("expected the configured import query, got %q", got)
		}
		json.NewEncoder(w).Encode(searchResponse{Results: nil})
	}))
	defer srv.Close()

	c := New(srv.URL, &staticTokens{}, nil, 10, "rupture du contrat de travail")
	cur, err := c.Fetch(context.Background(), ports.FetchParams{})
	if err != nil {
		t.Fatalf("fetch without explicit query: %v", err)
	}
	if _, _, err := cur.Next(context.Background()); err != nil {
		t.Fatalf("next: %v", err)
	}
}

func TestFetchRequiresQuery(t *testing.T) {
	c := New("http://unused", &staticTokens{}, nil, 10, "")
	if _, err := c.Fetch(context.Background(), ports.FetchParams{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
