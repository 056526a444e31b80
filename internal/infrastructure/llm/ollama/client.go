package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bchauvel/lexia/internal/core/domain"
	"github.com/bchauvel/lexia/internal/core/ports"
	"github.com/bchauvel/lexia/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	executor   *resilience.Executor
	httpClient *http.Client
}

func New(baseURL, genModel, embedModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		executor:   executor,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type Embedder struct {
	client    *Client
	dimension int
}

// NewEmbedder wraps the client as a ports.Embedder. A non-zero dimension
// is enforced on every returned vector, since the vector index rejects
// mismatched sizes much later and much less clearly.
func NewEmbedder(client *Client, dimension int) *Embedder {
	return &Embedder{client: client, dimension: dimension}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := e.client.execute(ctx, "embed", func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbedding, "embed batch", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, domain.WrapError(domain.ErrEmbedding, "embed batch",
			fmt.Errorf("got %d vectors for %d texts", len(response.Embeddings), len(texts)))
	}
	for i, vec := range response.Embeddings {
		if e.dimension > 0 && len(vec) != e.dimension {
			return nil, domain.WrapError(domain.ErrEmbedding, "embed batch",
				fmt.Errorf("vector %d has dimension %d, want %d", i, len(vec), e.dimension))
		}
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, domain.WrapError(domain.ErrEmbedding, "embed query", fmt.Errorf("empty embedding result"))
	}
	return vectors[0], nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

// GenerateSections asks the model for the structured answer sections,
// strictly from the supplied context.
func (g *Generator) GenerateSections(ctx context.Context, question string, hits []domain.SearchHit) (ports.AnswerSections, error) {
	respText, err := g.client.generateJSON(ctx, buildSectionsPrompt(question, hits))
	if err != nil {
		return ports.AnswerSections{}, err
	}

	var sections ports.AnswerSections
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &sections); err != nil {
		return ports.AnswerSections{}, fmt.Errorf("parse sections json: %w", err)
	}
	if sections.Recommendations == nil {
		sections.Recommendations = []string{}
	}
	return sections, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}

	var response struct {
		Response string `json:"response"`
	}
	err := c.execute(ctx, "generate", func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", reqBody, &response, "generate")
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, "ollama."+operation, fn, classifyOllamaError)
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
