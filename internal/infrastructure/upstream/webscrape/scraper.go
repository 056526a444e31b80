package webscrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/bchauvel/lexia/internal/core/domain"
	"github.com/bchauvel/lexia/internal/core/ports"
	"github.com/bchauvel/lexia/internal/infrastructure/resilience"
)

// Site describes one scraped publication index. Pages list article-like
// blocks; each block carries a title, a date and a link to the full text,
// which may be an HTML page or a PDF.
type Site struct {
	Name         string
	IndexURL     string
	DocumentType domain.DocumentType
	// ItemTag and ItemClass select the repeated block on the index page,
	// e.g. <article class="deliberation">.
	ItemTag   string
	ItemClass string
}

const maxDownloadBytes = 20 << 20

// Scraper is the source connector for sites without a structured API.
// It reads a publication index page, walks its article blocks and pulls
// the linked full text.
type Scraper struct {
	site       Site
	executor   *resilience.Executor
	httpClient *http.Client
}

func New(site Site, executor *resilience.Executor) *Scraper {
	if site.ItemTag == "" {
		site.ItemTag = "article"
	}
	if site.DocumentType == "" {
		site.DocumentType = domain.TypeAdministrative
	}
	return &Scraper{
		site:       site,
		executor:   executor,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *Scraper) Name() string { return s.site.Name }

func (s *Scraper) DocumentType() domain.DocumentType { return s.site.DocumentType }

func (s *Scraper) Fetch(_ context.Context, params ports.FetchParams) (ports.PageCursor, error) {
	return &cursor{
		scraper:  s,
		since:    params.Since,
		lastID:   params.AfterID,
		lastDate: params.Since,
	}, nil
}

// cursor yields the whole index in one batch. Scraped indexes are small
// and carry no server-side pagination we can rely on.
type cursor struct {
	scraper  *Scraper
	since    time.Time
	lastID   string
	lastDate time.Time
	done     bool
}

func (cu *cursor) Position() domain.Watermark {
	return domain.Watermark{
		Source:   cu.scraper.site.Name,
		LastID:   cu.lastID,
		LastDate: cu.lastDate,
	}
}

func (cu *cursor) Next(ctx context.Context) ([]domain.RawDocument, bool, error) {
	if cu.done {
		return nil, true, nil
	}
	cu.done = true

	items, err := cu.scraper.fetchIndex(ctx)
	if err != nil {
		return nil, false, err
	}

	batch := make([]domain.RawDocument, 0, len(items))
	for _, item := range items {
		if !cu.since.IsZero() && !item.date.IsZero() && !item.date.After(cu.since) {
			continue
		}
		doc, err := cu.scraper.resolve(ctx, item)
		if err != nil {
			continue
		}
		batch = append(batch, doc)
		cu.lastID = doc.SourceID
		if doc.PublishedDate.After(cu.lastDate) {
			cu.lastDate = doc.PublishedDate
		}
	}
	return batch, len(batch) == 0, nil
}

type indexItem struct {
	id    string
	title string
	date  time.Time
	link  string
	text  string
}

func (s *Scraper) fetchIndex(ctx context.Context) ([]indexItem, error) {
	var items []indexItem
	attempt := func(ctx context.Context) error {
		body, _, err := s.download(ctx, s.site.IndexURL)
		if err != nil {
			return err
		}
		root, err := html.Parse(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("parse index page: %w", err)
		}
		items = s.collectItems(root)
		return nil
	}

	if s.executor == nil {
		if err := attempt(ctx); err != nil {
			return nil, err
		}
		return items, nil
	}
	if err := s.executor.Execute(ctx, "scrape."+s.site.Name, attempt, classifyScrapeError); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Scraper) collectItems(root *html.Node) []indexItem {
	var items []indexItem
	for node := range root.Descendants() {
		if node.Type != html.ElementNode || node.Data != s.site.ItemTag {
			continue
		}
		if s.site.ItemClass != "" && !hasClass(node, s.site.ItemClass) {
			continue
		}
		item := indexItem{
			id:    attr(node, "id"),
			title: firstText(node, "h2", "h3"),
			link:  absoluteLink(s.site.IndexURL, firstAttr(node, "a", "href")),
			text:  innerText(node),
		}
		if raw := firstText(node, "time"); raw != "" {
			item.date = parseFrenchDate(raw)
		} else if raw := textByClass(node, "date"); raw != "" {
			item.date = parseFrenchDate(raw)
		}
		if item.id == "" {
			item.id = item.link
		}
		if item.id == "" && item.title == "" {
			continue
		}
		items = append(items, item)
	}
	return items
}

// resolve fetches the full text behind an index item. HTML pages are
// flattened to text; PDF links go through the pdf reader. When the link
// is missing or fails, the index block's own text is kept.
func (s *Scraper) resolve(ctx context.Context, item indexItem) (domain.RawDocument, error) {
	text := item.text
	if item.link != "" {
		if full, err := s.fetchFullText(ctx, item.link); err == nil && full != "" {
			text = full
		}
	}
	if strings.TrimSpace(text) == "" {
		return domain.RawDocument{}, errors.New("empty document body")
	}
	return domain.RawDocument{
		Source:        s.site.Name,
		SourceID:      s.site.Name + ":" + item.id,
		Title:         item.title,
		RawText:       text,
		DocumentType:  s.site.DocumentType,
		PublishedDate: item.date,
		EffectiveDate: item.date,
		SourceURL:     item.link,
		SourceMetadata: map[string]string{
			"site": s.site.Name,
		},
		IngestedAt: time.Now().UTC(),
	}, nil
}

func (s *Scraper) fetchFullText(ctx context.Context, link string) (string, error) {
	body, contentType, err := s.download(ctx, link)
	if err != nil {
		return "", err
	}
	if strings.Contains(contentType, "application/pdf") || strings.HasSuffix(strings.ToLower(link), ".pdf") {
		return extractPDFText(body)
	}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse document page: %w", err)
	}
	if main := findElement(root, "main"); main != nil {
		return innerText(main), nil
	}
	if body := findElement(root, "body"); body != nil {
		return innerText(body), nil
	}
	return innerText(root), nil
}

func (s *Scraper) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create scrape request: %w", err)
	}
	req.Header.Set("User-Agent", "lexia-ingest/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", &domain.UpstreamError{Upstream: s.site.Name, Operation: "download", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, "", &domain.UpstreamError{
			Upstream:   s.site.Name,
			Operation:  "download",
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read scrape response: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf strings.Builder
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func classifyScrapeError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if domain.IsRetryableUpstream(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
