package legifrance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bchauvel/lexia/internal/core/domain"
	"github.com/bchauvel/lexia/internal/core/ports"
	"github.com/bchauvel/lexia/internal/infrastructure/resilience"
)

const upstreamName = "legifrance"

// Client is the source connector for the Légifrance PISTE/DILA API
// (statutes and codes). It normalizes consult results into RawDocuments.
type Client struct {
	baseURL     string
	tokens      ports.TokenProvider
	executor    *resilience.Executor
	httpClient  *http.Client
	pageSize    int
	importQuery string
}

// New builds the connector. importQuery is the configured search used by
// import runs that do not name their own query.
func New(baseURL string, tokens ports.TokenProvider, executor *resilience.Executor, pageSize int, importQuery string) *Client {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		tokens:      tokens,
		executor:    executor,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		pageSize:    pageSize,
		importQuery: importQuery,
	}
}

func (c *Client) Name() string { return upstreamName }

func (c *Client) DocumentType() domain.DocumentType { return domain.TypeStatute }

// Fetch returns a cursor over code articles matching the query, starting
// after the position recorded in params. The cursor issues no requests
// until its first Next call.
func (c *Client) Fetch(_ context.Context, params ports.FetchParams) (ports.PageCursor, error) {
	query := strings.TrimSpace(params.Query)
	if query == "" {
		query = strings.TrimSpace(c.importQuery)
	}
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "legifrance fetch", errors.New("query is required"))
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	return &cursor{
		client:   c,
		query:    query,
		since:    params.Since,
		page:     params.Page,
		pageSize: pageSize,
		lastID:   params.AfterID,
		lastDate: params.Since,
	}, nil
}

type cursor struct {
	client   *Client
	query    string
	since    time.Time
	page     int
	pageSize int
	lastID   string
	lastDate time.Time
	done     bool
}

func (cu *cursor) Position() domain.Watermark {
	return domain.Watermark{
		Source:   upstreamName,
		LastID:   cu.lastID,
		LastDate: cu.lastDate,
		LastPage: cu.page,
	}
}

func (cu *cursor) Next(ctx context.Context) ([]domain.RawDocument, bool, error) {
	if cu.done {
		return nil, true, nil
	}

	var resp searchResponse
	err := cu.client.call(ctx, "consult/code", searchRequest{
		Recherche: searchQuery{
			Champ:      cu.query,
			PageNumber: cu.page + 1,
			PageSize:   cu.pageSize,
		},
	}, &resp)
	if err != nil {
		return nil, false, err
	}
	cu.page++

	batch := make([]domain.RawDocument, 0, len(resp.Results))
	for _, item := range resp.Results {
		doc, ok := normalizeArticle(item, cu.query)
		if !ok {
			continue
		}
		if !cu.since.IsZero() && doc.PublishedDate.Before(cu.since) {
			continue
		}
		batch = append(batch, doc)
		cu.lastID = doc.SourceID
		if doc.PublishedDate.After(cu.lastDate) {
			cu.lastDate = doc.PublishedDate
		}
	}

	if len(resp.Results) < cu.pageSize {
		cu.done = true
	}
	return batch, cu.done && len(batch) == 0, nil
}

type searchQuery struct {
	Champ      string `json:"champ"`
	PageNumber int    `json:"pageNumber"`
	PageSize   int    `json:"pageSize"`
}

type searchRequest struct {
	Recherche searchQuery `json:"recherche"`
}

type searchResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Text    string `json:"text"`
	Date    string `json:"date"`
	URL     string `json:"url"`
	Context string `json:"context"`
	Code    struct {
		Title string `json:"title"`
	} `json:"code"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

func normalizeArticle(item searchResult, query string) (domain.RawDocument, bool) {
	if item.ID == "" || strings.TrimSpace(item.Text) == "" {
		return domain.RawDocument{}, false
	}
	published, _ := time.Parse("2006-01-02", item.Date)
	return domain.RawDocument{
		Source:        upstreamName,
		SourceID:      item.ID,
		Title:         item.Title,
		RawText:       item.Text,
		DocumentType:  domain.TypeStatute,
		PublishedDate: published,
		EffectiveDate: published,
		SourceURL:     item.URL,
		SourceMetadata: map[string]string{
			"code":    item.Code.Title,
			"section": item.Context,
			"query":   query,
		},
		IngestedAt: time.Now().UTC(),
	}, true
}

// call performs one authenticated POST against the API, spending the rate
// budget first and re-authenticating exactly once on 401.
func (c *Client) call(ctx context.Context, path string, payload, out any) error {
	attempt := func(ctx context.Context) error {
		if err := c.tokens.Acquire(ctx, upstreamName); err != nil {
			return err
		}
		token, err := c.tokens.Token(ctx, upstreamName)
		if err != nil {
			return err
		}

		err = c.postJSON(ctx, path, token, payload, out)
		if isUnauthorized(err) {
			c.tokens.Invalidate(upstreamName)
			token, err = c.tokens.Token(ctx, upstreamName)
			if err != nil {
				return err
			}
			err = c.postJSON(ctx, path, token, payload, out)
		}
		return err
	}

	if c.executor == nil {
		return attempt(ctx)
	}
	return c.executor.Execute(ctx, "legifrance."+path, attempt, classifyUpstreamError)
}

func (c *Client) postJSON(ctx context.Context, path, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.UpstreamError{Upstream: upstreamName, Operation: path, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.tokens.Delay(upstreamName, retryAfter(resp))
		return &domain.UpstreamError{Upstream: upstreamName, Operation: path, StatusCode: resp.StatusCode, Retryable: true}
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &domain.UpstreamError{
			Upstream:   upstreamName,
			Operation:  path,
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode >= 500,
			Err:        fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg))),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func retryAfter(resp *http.Response) time.Time {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if d, err := time.ParseDuration(s + "s"); err == nil {
			return time.Now().Add(d)
		}
	}
	return time.Now().Add(time.Second)
}

func isUnauthorized(err error) bool {
	var ue *domain.UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == http.StatusUnauthorized
}

func classifyUpstreamError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if domain.IsKind(err, domain.ErrAuth) || domain.IsKind(err, domain.ErrQuotaExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if domain.IsRetryableUpstream(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
