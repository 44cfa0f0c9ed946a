// Package scraper provides the client for the paper Scraper service.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/researchgenie/ai-service/internal/domain"
)

// Default values for the scraper client.
const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
	defaultBaseDelay  = 500 * time.Millisecond
	defaultRateLimit  = 10.0
	defaultBurstSize  = 10
	defaultUserAgent  = "ResearchGenie-AIService/1.0"

	// backoffJitter is the fraction of the computed delay randomized in
	// both directions to avoid retry storms.
	backoffJitter = 0.2

	// maxResponseSize caps scraper response bodies at 10 MB.
	maxResponseSize = 10 << 20
)

// serviceName labels transport errors raised by this client.
const serviceName = "scraper"

// Config contains configuration options for the scraper client.
type Config struct {
	// BaseURL is the base URL of the Scraper service.
	BaseURL string

	// Timeout is the per-attempt request timeout.
	// Defaults to defaultTimeout if zero.
	Timeout time.Duration

	// MaxRetries is the maximum number of retries on transient failures.
	MaxRetries int

	// RetryBaseDelay is the base delay for exponential backoff.
	// Defaults to defaultBaseDelay if zero.
	RetryBaseDelay time.Duration

	// RateLimit is the maximum requests per second.
	// Defaults to defaultRateLimit if zero.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	// Defaults to defaultBurstSize if zero.
	BurstSize int

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string
}

// Client fetches paper records from the Scraper service. It owns the retry,
// backoff and timeout policy for that one dependency and is safe for
// concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	config     Config
	logger     zerolog.Logger
}

// NewClient creates a scraper client with the given configuration.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = defaultBaseDelay
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = defaultBurstSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.BurstSize),
		config:  cfg,
		logger:  logger.With().Str("component", "scraper-client").Logger(),
	}
}

// scrapeRequest is the JSON body sent to the Scraper service.
type scrapeRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// scrapeResponse is the JSON body returned by the Scraper service.
type scrapeResponse struct {
	Papers []scrapedPaper `json:"papers"`
}

// scrapedPaper is one paper record on the wire.
type scrapedPaper struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Abstract string            `json:"abstract"`
	Authors  []string          `json:"authors,omitempty"`
	Year     int               `json:"year,omitempty"`
	Venue    string            `json:"venue,omitempty"`
	URL      string            `json:"url,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FetchPapers sends the query to the Scraper service and returns the papers
// in the order the scraper produced them. Transient failures (network errors,
// timeouts, 429 and 5xx responses) are retried with exponential backoff and
// jitter; 4xx responses fail immediately. Failures surface as
// *domain.TransportError with the attempt count and last cause.
func (c *Client) FetchPapers(ctx context.Context, query string, maxResults int) ([]domain.PaperRecord, error) {
	body, err := json.Marshal(scrapeRequest{Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, fmt.Errorf("scraper: failed to marshal request: %w", err)
	}

	endpoint := c.config.BaseURL + "/scrape"

	var lastErr *domain.TransportError
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt, lastErr.RetryAfter)
			c.logger.Debug().
				Int("attempt", attempt).
				Dur("delay", delay).
				Str("kind", string(lastErr.Kind)).
				Msg("retrying scrape request")
			if err := waitFor(ctx, delay); err != nil {
				lastErr.Attempts = attempt
				return nil, lastErr
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &domain.TransportError{
				Service:  serviceName,
				Kind:     domain.KindTimeout,
				Attempts: attempt + 1,
				Message:  "rate limiter wait cancelled",
				Cause:    err,
			}
		}

		papers, terr := c.doFetch(ctx, endpoint, body)
		if terr == nil {
			return papers, nil
		}
		if !terr.Retryable() {
			terr.Attempts = attempt + 1
			return nil, terr
		}
		lastErr = terr
	}

	lastErr.Attempts = c.config.MaxRetries + 1
	return nil, lastErr
}

// doFetch performs a single scrape request attempt.
func (c *Client) doFetch(ctx context.Context, endpoint string, body []byte) ([]domain.PaperRecord, *domain.TransportError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.TransportError{
			Service: serviceName,
			Kind:    domain.KindClientError,
			Message: "failed to create request",
			Cause:   err,
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := domain.KindConnectionFailed
		if errors.Is(err, context.DeadlineExceeded) {
			kind = domain.KindTimeout
		}
		return nil, &domain.TransportError{
			Service: serviceName,
			Kind:    kind,
			Message: "request failed",
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &domain.TransportError{
			Service: serviceName,
			Kind:    domain.KindConnectionFailed,
			Message: "failed to read response body",
			Cause:   err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp, respBody)
	}

	var scraped scrapeResponse
	if err := json.Unmarshal(respBody, &scraped); err != nil {
		return nil, &domain.TransportError{
			Service:    serviceName,
			Kind:       domain.KindServerError,
			StatusCode: resp.StatusCode,
			Message:    "failed to decode response",
			Cause:      err,
		}
	}

	return convertPapers(scraped.Papers), nil
}

// classifyStatus maps a non-200 response to a transport error.
func classifyStatus(resp *http.Response, body []byte) *domain.TransportError {
	terr := &domain.TransportError{
		Service:    serviceName,
		StatusCode: resp.StatusCode,
		Message:    truncateBody(body),
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		terr.Kind = domain.KindRateLimited
		terr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 500:
		terr.Kind = domain.KindServerError
	default:
		terr.Kind = domain.KindClientError
	}
	return terr
}

// convertPapers maps wire records to domain records, preserving order.
// Papers without an id get a positional one so ids stay unique per batch.
func convertPapers(scraped []scrapedPaper) []domain.PaperRecord {
	papers := make([]domain.PaperRecord, 0, len(scraped))
	for i, sp := range scraped {
		id := sp.ID
		if id == "" {
			id = fmt.Sprintf("paper-%d", i+1)
		}

		meta := make(map[string]string, len(sp.Metadata)+4)
		for k, v := range sp.Metadata {
			meta[k] = v
		}
		if len(sp.Authors) > 0 {
			meta["authors"] = joinAuthors(sp.Authors)
		}
		if sp.Year > 0 {
			meta["year"] = strconv.Itoa(sp.Year)
		}
		if sp.Venue != "" {
			meta["venue"] = sp.Venue
		}
		if sp.URL != "" {
			meta["url"] = sp.URL
		}

		papers = append(papers, domain.PaperRecord{
			ID:       id,
			Title:    sp.Title,
			Abstract: sp.Abstract,
			Metadata: meta,
		})
	}
	return papers
}

// joinAuthors renders the author list as a single metadata value.
func joinAuthors(authors []string) string {
	out := ""
	for i, a := range authors {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}

// backoffDelay computes the wait before the given retry attempt:
// exponential growth from the base delay with jitter in both directions,
// never shorter than a provider-supplied retry hint.
func (c *Client) backoffDelay(attempt int, retryAfter time.Duration) time.Duration {
	delay := c.config.RetryBaseDelay * time.Duration(1<<(attempt-1))
	jitter := 1 - backoffJitter + 2*backoffJitter*rand.Float64()
	delay = time.Duration(float64(delay) * jitter)
	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}

// parseRetryAfter parses a Retry-After header as seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// truncateBody shortens an error body for inclusion in an error message.
func truncateBody(body []byte) string {
	const maxLen = 256
	s := string(body)
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}

// waitFor waits for the specified duration, respecting context cancellation.
func waitFor(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
