package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bchauvel/lexia/internal/core/domain"
	"github.com/bchauvel/lexia/internal/core/ports"
	"github.com/bchauvel/lexia/internal/observability/metrics"
)

type Router struct {
	queryService ports.LegalQueryService
	importer     ports.LegalImporter
	queue        ports.MessageQueue
	documents    ports.DocumentReader
	metrics      *metrics.HTTPServerMetrics
	logger       *slog.Logger
	service      string
}

func NewRouter(
	queryService ports.LegalQueryService,
	importer ports.LegalImporter,
	queue ports.MessageQueue,
	documents ports.DocumentReader,
	m *metrics.HTTPServerMetrics,
	logger *slog.Logger,
	service string,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		queryService: queryService,
		importer:     importer,
		queue:        queue,
		documents:    documents,
		metrics:      m,
		logger:       logger,
		service:      service,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/query", rt.query)
	mux.HandleFunc("/v1/ingest/run", rt.runIngest)
	mux.HandleFunc("/v1/documents/", rt.getDocumentByID)

	var handler http.Handler = mux
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(rt.logger, handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) query(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Question     string `json:"question"`
		LegalDomain  string `json:"domain"`
		DocumentType string `json:"document_type"`
		Limit        int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	start := time.Now()
	answer, err := rt.queryService.Answer(r.Context(), req.Question, domain.SearchFilter{
		LegalDomain:  domain.LegalDomain(req.LegalDomain),
		DocumentType: domain.DocumentType(req.DocumentType),
	}, req.Limit)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordQuery(rt.service, answer.Referral, answer.Confidence, len(answer.Sources), time.Since(start))
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) runIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Source string `json:"source"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}

	sources := rt.importer.Sources()
	if req.Source != "" {
		if !containsSource(sources, req.Source) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown source: " + req.Source})
			return
		}
		sources = []string{req.Source}
	}

	if err := rt.queue.PublishImportRequested(r.Context(), req.Source); err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "queued",
		"sources": sources,
	})
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	doc, err := rt.documents.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func containsSource(sources []string, name string) bool {
	for _, s := range sources {
		if s == name {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
