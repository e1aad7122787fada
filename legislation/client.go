// Package legislation is the gateway to the external UK legislation service.
// Two endpoints carry the same REST contract: a preferred private primary and
// a public fallback. A process-wide health manager decides which is active
// and a factory binds fresh clients to the active endpoint at call time.
package legislation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Sentinel failures consumers branch on. The verification core degrades
// connection and timeout failures to unverified; the review engine tolerates
// amendment errors but surfaces legislation not-found.
var (
	ErrConnection = errors.New("legislation: connection error")
	ErrTimeout    = errors.New("legislation: timeout")
	ErrNotFound   = errors.New("legislation: not found")
)

type (
	// ServiceError is a non-2xx, non-404 reply from the service.
	ServiceError struct {
		Status int
		Body   string
	}

	// ClientOptions configures a gateway client.
	ClientOptions struct {
		// BaseURL is the endpoint root. Required.
		BaseURL string
		// HTTPClient defaults to a fresh client with no global timeout;
		// per-call deadlines come from Timeout.
		HTTPClient *http.Client
		// Timeout bounds each call. Defaults to 30s; the verification path
		// uses a reduced 15s client.
		Timeout time.Duration
		// Limiter throttles outbound calls when set.
		Limiter *rate.Limiter
	}

	// Client speaks the JSON-over-HTTP contract of the legislation service.
	// Calls never retry across endpoints; failover is the health manager's
	// job.
	Client struct {
		base    string
		http    *http.Client
		timeout time.Duration
		limiter *rate.Limiter
	}

	// SearchFilters narrows a legislation search.
	SearchFilters struct {
		Query    string `json:"query,omitempty"`
		Type     string `json:"type,omitempty"`
		YearFrom int    `json:"year_from,omitempty"`
		YearTo   int    `json:"year_to,omitempty"`
		Offset   int    `json:"offset,omitempty"`
		Limit    int    `json:"limit,omitempty"`
	}

	// Legislation is one act or instrument.
	Legislation struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Type   string `json:"type"`
		Year   int    `json:"year"`
		Number int    `json:"number"`
		URI    string `json:"uri"`
	}

	// Section is one provision of a legislation item.
	Section struct {
		ID      string `json:"id"`
		Number  string `json:"number"`
		Title   string `json:"title"`
		Content string `json:"content"`
	}

	// Amendment records one change made to a legislation item.
	Amendment struct {
		ID         string `json:"id"`
		AffectedID string `json:"affected_id"`
		Type       string `json:"type"`
		Year       int    `json:"year"`
		Note       string `json:"note"`
	}

	// Note is one explanatory-note fragment.
	Note struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Content string `json:"content"`
	}

	// SearchResult is the tolerant envelope the service returns from every
	// search endpoint. Unknown fields are ignored; Extra keeps the raw
	// top-level keys so callers can apply their own success heuristics.
	SearchResult struct {
		Total   int               `json:"total"`
		Results []json.RawMessage `json:"results"`
		Extra   map[string]any    `json:"-"`
	}

	// Statistics is the dataset-statistics snapshot.
	Statistics struct {
		Collections map[string]CollectionStat `json:"collections"`
	}

	// CollectionStat summarises one dataset collection.
	CollectionStat struct {
		Count       int    `json:"count"`
		LastUpdated string `json:"last_updated"`
	}
)

// Error implements error.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("legislation: service error (status %d)", e.Status)
}

// DefaultTimeout bounds a gateway call unless the options say otherwise.
const DefaultTimeout = 30 * time.Second

// VerificationTimeout is the reduced deadline used on the verification path.
const VerificationTimeout = 15 * time.Second

// NewClient validates the options and builds a Client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("legislation: base url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{base: opts.BaseURL, http: hc, timeout: timeout, limiter: opts.Limiter}, nil
}

// SearchLegislation searches the legislation corpus.
func (c *Client) SearchLegislation(ctx context.Context, f SearchFilters) (*SearchResult, error) {
	return c.search(ctx, "/search", f)
}

// GetLegislation looks an item up by its (type, year, number) triple.
func (c *Client) GetLegislation(ctx context.Context, typ string, year, number int) (*Legislation, error) {
	var out Legislation
	req := map[string]any{"type": typ, "year": year, "number": number}
	if err := c.post(ctx, "/legislation/get", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSections fetches the provisions of a legislation item.
func (c *Client) GetSections(ctx context.Context, legislationID string) ([]Section, error) {
	var out struct {
		Sections []Section `json:"sections"`
	}
	req := map[string]any{"id": legislationID}
	if err := c.post(ctx, "/sections", req, &out); err != nil {
		return nil, err
	}
	return out.Sections, nil
}

// GetFullText fetches the full text of a legislation item.
func (c *Client) GetFullText(ctx context.Context, legislationID string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	req := map[string]any{"id": legislationID}
	if err := c.post(ctx, "/fulltext", req, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// SearchSections searches provisions across the corpus.
func (c *Client) SearchSections(ctx context.Context, query string) (*SearchResult, error) {
	return c.search(ctx, "/sections/search", map[string]any{"query": query})
}

// SearchAmendments searches recorded amendments.
func (c *Client) SearchAmendments(ctx context.Context, query string) (*SearchResult, error) {
	return c.search(ctx, "/amendments/search", map[string]any{"query": query})
}

// SearchExplanatoryNotes searches explanatory notes.
func (c *Client) SearchExplanatoryNotes(ctx context.Context, query string) (*SearchResult, error) {
	return c.search(ctx, "/explanatory-notes/search", map[string]any{"query": query})
}

// GetStatistics fetches the dataset-statistics snapshot.
func (c *Client) GetStatistics(ctx context.Context) (*Statistics, error) {
	var out Statistics
	if err := c.post(ctx, "/statistics", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health probes the endpoint. A nil error means healthy.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.post(ctx, "/health", map[string]any{}, &out)
}

func (c *Client) search(ctx context.Context, path string, body any) (*SearchResult, error) {
	var raw map[string]any
	if err := c.post(ctx, path, body, &raw); err != nil {
		return nil, err
	}
	out := &SearchResult{Extra: raw}
	if total, ok := raw["total"].(float64); ok {
		out.Total = int(total)
	}
	if results, ok := raw["results"].([]any); ok {
		for _, r := range results {
			b, err := json.Marshal(r)
			if err != nil {
				continue
			}
			out.Results = append(out.Results, b)
		}
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("legislation: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("legislation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ServiceError{Status: resp.StatusCode, Body: string(snippet)}
	}

	if out == nil {
		return nil
	}
	// Tolerant parsing: unknown fields are ignored, missing optionals stay
	// zero-valued.
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("legislation: decode response: %w", err)
	}
	return nil
}

func classifyTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}
