package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bchauvel/lexia/internal/core/domain"
	"github.com/bchauvel/lexia/internal/core/ports"
)

type queryFake struct {
	answer domain.AnswerCandidate
	err    error

	lastQuestion string
	lastFilter   domain.SearchFilter
}

func (f *queryFake) Answer(_ context.Context, question string, filter domain.SearchFilter, _ int) (domain.AnswerCandidate, error) {
	f.lastQuestion = question
	f.lastFilter = filter
	return f.answer, f.err
}

type docsFake struct {
	doc domain.EnrichedDocument
	err error
}

func (f docsFake) GetByID(context.Context, string) (domain.EnrichedDocument, error) {
	return f.doc, f.err
}

func (f docsFake) LatestVersion(context.Context, string) (int, error) { return 1, nil }

type queueFake struct {
	err       error
	published []string
}

func (f *queueFake) PublishImportRequested(_ context.Context, source string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, source)
	return nil
}

func (f *queueFake) SubscribeImportRequested(context.Context, func(context.Context, string) error) error {
	return nil
}

type importerStub struct{}

func (importerStub) RunImport(_ context.Context, source string) (ports.ImportStats, error) {
	return ports.ImportStats{Source: source}, nil
}

func (importerStub) Sources() []string { return []string{"legifrance", "judilibre", "webscrape"} }

func newTestRouter(query *queryFake, queue *queueFake, docs docsFake) http.Handler {
	return NewRouter(query, importerStub{}, queue, docs, nil, slog.New(slog.DiscardHandler), "api").Handler()
}

func TestQueryReturnsAnswer(t *testing.T) {
	query := &queryFake{answer: domain.AnswerCandidate{
		Introduction: "La période d'essai…",
		Confidence:   0.88,
		Sources:      []domain.SourceCitation{{Title: "Article L1221-19"}},
	}}
	handler := newTestRouter(query, &queueFake{}, docsFake{})

	payload, _ := json.Marshal(map[string]any{"question": "durée de la période d'essai", "domain": "travail"})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(payload))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var got domain.AnswerCandidate
	if err := json.Unmarshal(res.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Introduction == "" || got.Confidence != 0.88 {
		t.Fatalf("unexpected answer: %+v", got)
	}
	if query.lastFilter.LegalDomain != domain.DomainTravail {
		t.Fatalf("domain filter not passed through: %q", query.lastFilter.LegalDomain)
	}
}

func TestQueryRequiresQuestion(t *testing.T) {
	handler := newTestRouter(&queryFake{}, &queueFake{}, docsFake{})

	payload, _ := json.Marshal(map[string]any{"question": "   "})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(payload))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestQueryMapsInvalidInputTo400(t *testing.T) {
	query := &queryFake{err: domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("bad query"))}
	handler := newTestRouter(query, &queueFake{}, docsFake{})

	payload, _ := json.Marshal(map[string]any{"question": "test"})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(payload))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestQueryRejectsGet(t *testing.T) {
	handler := newTestRouter(&queryFake{}, &queueFake{}, docsFake{})

	req := httptest.NewRequest(http.MethodGet, "/v1/query", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestGetDocumentByIDReturns404ForNotFound(t *testing.T) {
	docs := docsFake{err: domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New("id=missing"))}
	handler := newTestRouter(&queryFake{}, &queueFake{}, docs)

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestGetDocumentByIDReturnsDocument(t *testing.T) {
	docs := docsFake{doc: domain.EnrichedDocument{
		ID:          "d1",
		LegalDomain: domain.DomainFiscal,
		Raw:         domain.RawDocument{Title: "BOFIP TVA"},
	}}
	handler := newTestRouter(&queryFake{}, &queueFake{}, docs)

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/d1", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var got domain.EnrichedDocument
	if err := json.Unmarshal(res.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != "d1" || got.LegalDomain != domain.DomainFiscal {
		t.Fatalf("unexpected document: %+v", got)
	}
}

func TestRunIngestQueuesAllSourcesByDefault(t *testing.T) {
	queue := &queueFake{}
	handler := newTestRouter(&queryFake{}, queue, docsFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest/run", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if len(queue.published) != 1 || queue.published[0] != "" {
		t.Fatalf("expected a single broadcast publish, got %v", queue.published)
	}
	var body struct {
		Status  string   `json:"status"`
		Sources []string `json:"sources"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "queued" || len(body.Sources) != 3 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestRunIngestRejectsUnknownSource(t *testing.T) {
	queue := &queueFake{}
	handler := newTestRouter(&queryFake{}, queue, docsFake{})

	payload, _ := json.Marshal(map[string]string{"source": "doctrine"})
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest/run", bytes.NewReader(payload))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if len(queue.published) != 0 {
		t.Fatal("unknown source must not be queued")
	}
}

func TestRunIngestMapsQueueFailureTo503(t *testing.T) {
	queue := &queueFake{err: domain.WrapError(domain.ErrTemporary, "nats publish", errors.New("no servers"))}
	handler := newTestRouter(&queryFake{}, queue, docsFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest/run", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestRouter(&queryFake{}, &queueFake{}, docsFake{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	handler := newTestRouter(&queryFake{}, &queueFake{}, docsFake{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if got := res.Header().Get(requestIDHeader); got != "req-42" {
		t.Fatalf("expected request id echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}
}
