package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRetrievalAndGatingDefaults(t *testing.T) {
	t.Setenv("LEXIA_CONFIG", "")
	t.Setenv("HYBRID_VECTOR_WEIGHT", "")
	t.Setenv("HYBRID_KEYWORD_WEIGHT", "")
	t.Setenv("HYBRID_KEYWORD_ONLY_SCORE", "")
	t.Setenv("CONFIDENCE_THRESHOLD", "")
	t.Setenv("ANSWER_TOP_K", "")
	t.Setenv("QUERY_TIMEOUT", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hybrid.VectorWeight != 0.7 {
		t.Fatalf("expected default vector weight 0.7, got %v", cfg.Hybrid.VectorWeight)
	}
	if cfg.Hybrid.KeywordWeight != 0.3 {
		t.Fatalf("expected default keyword weight 0.3, got %v", cfg.Hybrid.KeywordWeight)
	}
	if cfg.Hybrid.KeywordOnlyScore != 0.5 {
		t.Fatalf("expected default keyword-only score 0.5, got %v", cfg.Hybrid.KeywordOnlyScore)
	}
	if cfg.ConfidenceThreshold != 0.75 {
		t.Fatalf("expected default confidence threshold 0.75, got %v", cfg.ConfidenceThreshold)
	}
	if cfg.AnswerTopK != 3 {
		t.Fatalf("expected default answer top k 3, got %d", cfg.AnswerTopK)
	}
	if cfg.QueryTimeout != 20*time.Second {
		t.Fatalf("expected default query timeout 20s, got %v", cfg.QueryTimeout)
	}
}

func TestLoadUpstreamDefaults(t *testing.T) {
	t.Setenv("LEGIFRANCE_BASE_URL", "")
	t.Setenv("LEGIFRANCE_CLIENT_ID", "")
	t.Setenv("JUDILIBRE_BASE_URL", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	lf, ok := cfg.Upstreams["legifrance"]
	if !ok {
		t.Fatal("expected legifrance upstream to be registered by default")
	}
	if lf.BaseURL != "https://api.piste.gouv.fr/dila/legifrance/lf-engine-app" {
		t.Fatalf("unexpected legifrance base url %q", lf.BaseURL)
	}
	if lf.RequestsPerSecond != 2 || lf.DailyCap != 2000 {
		t.Fatalf("unexpected legifrance quota %+v", lf)
	}
	if lf.ImportQuery == "" {
		t.Fatal("expected a default legifrance import query")
	}
	jl, ok := cfg.Upstreams["judilibre"]
	if !ok {
		t.Fatal("expected judilibre upstream to be registered by default")
	}
	if jl.RequestsPerSecond != 1 || jl.DailyCap != 1000 {
		t.Fatalf("unexpected judilibre quota %+v", jl)
	}
	if len(cfg.ScrapeSites) == 0 {
		t.Fatal("expected a default scrape site")
	}
}

func TestLoadParsesEnvOverrides(t *testing.T) {
	t.Setenv("HYBRID_VECTOR_WEIGHT", "0.6")
	t.Setenv("HYBRID_KEYWORD_WEIGHT", "0.4")
	t.Setenv("ANSWER_TOP_K", "5")
	t.Setenv("QUERY_TIMEOUT", "45s")
	t.Setenv("LEGIFRANCE_CLIENT_ID", "client-abc")
	t.Setenv("LEGIFRANCE_IMPORT_QUERY", "bail commercial")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hybrid.VectorWeight != 0.6 {
		t.Fatalf("expected vector weight override, got %v", cfg.Hybrid.VectorWeight)
	}
	if cfg.Hybrid.KeywordWeight != 0.4 {
		t.Fatalf("expected keyword weight override, got %v", cfg.Hybrid.KeywordWeight)
	}
	if cfg.AnswerTopK != 5 {
		t.Fatalf("expected answer top k 5, got %d", cfg.AnswerTopK)
	}
	if cfg.QueryTimeout != 45*time.Second {
		t.Fatalf("expected query timeout 45s, got %v", cfg.QueryTimeout)
	}
	if cfg.Upstreams["legifrance"].ClientID != "client-abc" {
		t.Fatalf("expected legifrance client id override, got %q", cfg.Upstreams["legifrance"].ClientID)
	}
	if cfg.Upstreams["legifrance"].ImportQuery != "bail commercial" {
		t.Fatalf("expected legifrance import query override, got %q", cfg.Upstreams["legifrance"].ImportQuery)
	}
}

func TestLoadReadsYAMLFileWithEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lexia.yaml")
	body := []byte(`
api_port: "9999"
confidence_threshold: 0.8
hybrid:
  vector_weight: 0.65
scrape_sites:
  - name: service-public
    index_url: https://www.service-public.fr/particuliers
    document_type: administrative
    item_tag: div
    item_class: fiche
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("API_PORT", "")
	t.Setenv("CONFIDENCE_THRESHOLD", "")
	t.Setenv("HYBRID_VECTOR_WEIGHT", "0.9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIPort != "9999" {
		t.Fatalf("expected file api port, got %q", cfg.APIPort)
	}
	if cfg.ConfidenceThreshold != 0.8 {
		t.Fatalf("expected file confidence threshold 0.8, got %v", cfg.ConfidenceThreshold)
	}
	// Environment wins over the file.
	if cfg.Hybrid.VectorWeight != 0.9 {
		t.Fatalf("expected env to override file vector weight, got %v", cfg.Hybrid.VectorWeight)
	}
	if len(cfg.ScrapeSites) != 1 || cfg.ScrapeSites[0].Name != "service-public" {
		t.Fatalf("expected the configured scrape site, got %+v", cfg.ScrapeSites)
	}
	if cfg.Hybrid.KeywordWeight != 0.3 {
		t.Fatalf("expected untouched keyword weight default, got %v", cfg.Hybrid.KeywordWeight)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
