package judilibre

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bchauvel/lexia/internal/core/domain"
	"github.com/bchauvel/lexia/internal/core/ports"
	"github.com/bchauvel/lexia/internal/infrastructure/resilience"
)

const upstreamName = "judilibre"

// Client is the source connector for the Judilibre API (Cour de cassation
// case law, served through the PISTE gateway).
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
		pageSize = 10
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

func (c *Client) DocumentType() domain.DocumentType { return domain.TypeCaseLaw }

func (c *Client) Fetch(_ context.Context, params ports.FetchParams) (ports.PageCursor, error) {
	query := strings.TrimSpace(params.Query)
	if query == "" {
		query = strings.TrimSpace(c.importQuery)
	}
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "judilibre fetch", errors.New("query is required"))
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

	query := url.Values{}
	query.Set("query", cu.query)
	query.Set("page", strconv.Itoa(cu.page))
	query.Set("page_size", strconv.Itoa(cu.pageSize))
	query.Set("sort", "date")
	query.Set("order", "desc")
	if !cu.since.IsZero() {
		query.Set("date_start", cu.since.Format("2006-01-02"))
	}

	var resp searchResponse
	if err := cu.client.call(ctx, "search?"+query.Encode(), &resp); err != nil {
		return nil, false, err
	}
	cu.page++

	batch := make([]domain.RawDocument, 0, len(resp.Results))
	for _, item := range resp.Results {
		doc, ok := normalizeDecision(item)
		if !ok {
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

type decision struct {
	ID           string `json:"id"`
	Jurisdiction string `json:"jurisdiction"`
	Chamber      string `json:"chamber"`
	Number       string `json:"number"`
	Solution     string `json:"solution"`
	DecisionDate string `json:"decision_date"`
	Text         string `json:"text"`
	Summary      string `json:"summary"`
	URL          string `json:"url"`
}

type searchResponse struct {
	Results []decision `json:"results"`
	Total   int        `json:"total"`
}

func normalizeDecision(d decision) (domain.RawDocument, bool) {
	text := d.Text
	if strings.TrimSpace(text) == "" {
		text = d.Summary
	}
	if d.ID == "" || strings.TrimSpace(text) == "" {
		return domain.RawDocument{}, false
	}
	decided, _ := time.Parse("2006-01-02", d.DecisionDate)
	title := strings.TrimSpace(strings.Join([]string{d.Jurisdiction, d.Chamber, d.DecisionDate, d.Number}, ", "))
	return domain.RawDocument{
		Source:        upstreamName,
		SourceID:      d.ID,
		Title:         strings.Trim(title, ", "),
		RawText:       text,
		DocumentType:  domain.TypeCaseLaw,
		PublishedDate: decided,
		EffectiveDate: decided,
		SourceURL:     d.URL,
		SourceMetadata: map[string]string{
			"jurisdiction": d.Jurisdiction,
			"chamber":      d.Chamber,
			"solution":     d.Solution,
			"number":       d.Number,
		},
		IngestedAt: time.Now().UTC(),
	}, true
}

func (c *Client) call(ctx context.Context, pathAndQuery string, out any) error {
	attempt := func(ctx context.Context) error {
		if err := c.tokens.Acquire(ctx, upstreamName); err != nil {
			return err
		}
		token, err := c.tokens.Token(ctx, upstreamName)
		if err != nil {
			return err
		}

		err = c.getJSON(ctx, pathAndQuery, token, out)
		if isUnauthorized(err) {
			c.tokens.Invalidate(upstreamName)
			token, err = c.tokens.Token(ctx, upstreamName)
			if err != nil {
				return err
			}
			err = c.getJSON(ctx, pathAndQuery, token, out)
		}
		return err
	}

	if c.executor == nil {
		return attempt(ctx)
	}
	return c.executor.Execute(ctx, "judilibre.search", attempt, classifyUpstreamError)
}

func (c *Client) getJSON(ctx context.Context, pathAndQuery, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+pathAndQuery, nil)
	if err != nil {
		return fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.UpstreamError{Upstream: upstreamName, Operation: "search", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.tokens.Delay(upstreamName, retryAfter(resp))
		return &domain.UpstreamError{Upstream: upstreamName, Operation: "search", StatusCode: resp.StatusCode, Retryable: true}
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &domain.UpstreamError{
			Upstream:   upstreamName,
			Operation:  "search",
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode >= 500,
			Err:        fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg))),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode search response: %w", err)
	}
	return nil
}

func retryAfter(resp *http.Response) time.Time {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if seconds, err := strconv.Atoi(s); err == nil {
			return time.Now().Add(time.Duration(seconds) * time.Second)
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
