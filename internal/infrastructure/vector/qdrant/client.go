package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bchauvel/lexia/internal/core/domain"
)

// Client talks to the qdrant REST API. Points are keyed by chunk id, so
// a relational row and its vector can always be matched one to one.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// UpsertChunks indexes the embedded chunks. Chunks without an embedding
// are skipped here and stay relational-only.
func (c *Client) UpsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		points = append(points, point{
			ID:      chunk.ID,
			Vector:  chunk.Embedding,
			Payload: chunkPayload(chunk),
		})
	}
	if len(points) == 0 {
		return nil
	}

	if err := c.ensureCollection(ctx, len(points[0].Vector)); err != nil {
		return err
	}

	reqBody := map[string]any{"points": points}
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	return c.do(ctx, http.MethodPut, url, reqBody, nil, "upsert")
}

func chunkPayload(chunk domain.Chunk) map[string]any {
	p := map[string]any{
		"document_id":   chunk.DocumentID,
		"position":      chunk.Position,
		"text":          chunk.Text,
		"title":         chunk.Payload.Title,
		"legal_domain":  string(chunk.Payload.LegalDomain),
		"document_type": string(chunk.Payload.DocumentType),
		"is_current":    chunk.Payload.IsCurrent,
	}
	if chunk.Payload.SourceURL != "" {
		p["source_url"] = chunk.Payload.SourceURL
	}
	if !chunk.Payload.EffectiveDate.IsZero() {
		// Numeric timestamp so qdrant range filters apply.
		p["effective_ts"] = chunk.Payload.EffectiveDate.Unix()
	}
	if chunk.Payload.Hierarchy != "" {
		p["hierarchy"] = chunk.Payload.Hierarchy
	}
	for k, v := range chunk.Payload.Extra {
		p["x_"+k] = v
	}
	return p
}

// Search runs a vector query with the filter translated to a qdrant
// payload filter, one round trip.
func (c *Client) Search(ctx context.Context, queryVector []float32, limit int, filter domain.SearchFilter) ([]domain.SearchHit, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		reqBody["filter"] = f
	}

	var searchResp struct {
		Result []struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPost, url, reqBody, &searchResp, "search"); err != nil {
		return nil, err
	}

	out := make([]domain.SearchHit, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		hit := domain.SearchHit{
			ChunkID:      r.ID,
			DocumentID:   getString(r.Payload, "document_id"),
			Title:        getString(r.Payload, "title"),
			Text:         getString(r.Payload, "text"),
			SourceURL:    getString(r.Payload, "source_url"),
			DocumentType: domain.DocumentType(getString(r.Payload, "document_type")),
			LegalDomain:  domain.LegalDomain(getString(r.Payload, "legal_domain")),
			IsCurrent:    getBool(r.Payload, "is_current"),
			VectorScore:  normalizeCosine(r.Score),
			HasVector:    true,
		}
		if ts, ok := getNumber(r.Payload, "effective_ts"); ok {
			hit.EffectiveDate = time.Unix(int64(ts), 0).UTC()
		}
		out = append(out, hit)
	}
	return out, nil
}

// normalizeCosine maps cosine similarity from [-1,1] into [0,1] so vector
// and keyword scores combine on the same scale.
func normalizeCosine(score float64) float64 {
	n := (score + 1) / 2
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

func buildFilter(filter domain.SearchFilter) map[string]any {
	var must []map[string]any
	if filter.LegalDomain != "" {
		must = append(must, matchClause("legal_domain", string(filter.LegalDomain)))
	}
	if filter.DocumentType != "" {
		must = append(must, matchClause("document_type", string(filter.DocumentType)))
	}
	if filter.OnlyCurrent {
		must = append(must, matchClause("is_current", true))
	}
	if !filter.EffectiveFrom.IsZero() || !filter.EffectiveTo.IsZero() {
		rng := map[string]any{}
		if !filter.EffectiveFrom.IsZero() {
			rng["gte"] = filter.EffectiveFrom.Unix()
		}
		if !filter.EffectiveTo.IsZero() {
			rng["lte"] = filter.EffectiveTo.Unix()
		}
		must = append(must, map[string]any{"key": "effective_ts", "range": rng})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func matchClause(key string, value any) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

// DeleteByDocument drops every point belonging to a document.
func (c *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	reqBody := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{matchClause("document_id", documentID)},
		},
	}
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, c.collection)
	return c.do(ctx, http.MethodPost, url, reqBody, nil, "delete")
}

// DeletePoints drops specific points by id, used by reconciliation.
func (c *Client) DeletePoints(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	reqBody := map[string]any{"points": ids}
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, c.collection)
	return c.do(ctx, http.MethodPost, url, reqBody, nil, "delete")
}

// ScrollIDs pages through every point id in the collection.
func (c *Client) ScrollIDs(ctx context.Context, batchSize int) ([]string, error) {
	if batchSize <= 0 {
		batchSize = 256
	}

	var all []string
	var offset any
	for {
		reqBody := map[string]any{
			"limit":        batchSize,
			"with_payload": false,
			"with_vector":  false,
		}
		if offset != nil {
			reqBody["offset"] = offset
		}

		var scrollResp struct {
			Result struct {
				Points []struct {
					ID string `json:"id"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		url := fmt.Sprintf("%s/collections/%s/points/scroll", c.baseURL, c.collection)
		if err := c.do(ctx, http.MethodPost, url, reqBody, &scrollResp, "scroll"); err != nil {
			return nil, err
		}

		for _, p := range scrollResp.Result.Points {
			all = append(all, p.ID)
		}
		if scrollResp.Result.NextPageOffset == nil || len(scrollResp.Result.Points) == 0 {
			return all, nil
		}
		offset = scrollResp.Result.NextPageOffset
	}
}

func (c *Client) do(ctx context.Context, method, url string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if m := strings.TrimSpace(string(msg)); m != "" {
			return fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, m)
		}
		return fmt.Errorf("qdrant %s status: %s", operation, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ensure collection request: %w", err)
	}
	defer resp.Body.Close()

	// 200/201 for create, 409 if already exists (depends on version/config).
	if resp.StatusCode == http.StatusConflict {
		c.markCollectionEnsured(vectorSize)
		return nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return fmt.Errorf("qdrant ensure collection status: %s: %s", resp.Status, msg)
		}
		return fmt.Errorf("qdrant ensure collection status: %s", resp.Status)
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func getString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getBool(payload map[string]any, key string) bool {
	b, _ := payload[key].(bool)
	return b
}

func getNumber(payload map[string]any, key string) (float64, bool) {
	n, ok := payload[key].(float64)
	return n, ok
}
