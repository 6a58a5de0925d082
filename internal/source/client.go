// Package source implements read access to the external wiki corpus.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/wiki-mirror/internal/metrics"
	"github.com/JakeFAU/wiki-mirror/internal/mirror"
)

// maxErrorBody caps how much of a failed response is kept on the error.
const maxErrorBody = 4 << 10

// RemoteFetchError reports a non-2xx response from the source.
type RemoteFetchError struct {
	Status int
	Body   string
}

func (e *RemoteFetchError) Error() string {
	return fmt.Sprintf("source responded %d: %s", e.Status, e.Body)
}

// Config captures the parameters for the source client.
type Config struct {
	// BaseURL is the project list endpoint, e.g. https://scrapbox.io/api/pages/project.
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// RPS limits outgoing requests; zero or negative disables limiting.
	RPS   float64
	Burst int
}

// Client is a stateless HTTP client for the list and detail endpoints.
// It never retries; retries are owned by the workflow step runner.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// New creates a Client.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("source base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse source base url: %w", err)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   base,
		userAgent: cfg.UserAgent,
		http:      httpClient,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger,
	}, nil
}

// ListPage fetches one chunk of the list sorted by updated, newest first.
func (c *Client) ListPage(ctx context.Context, skip, limit int) (mirror.ListPage, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "updated")

	var out mirror.ListPage
	if err := c.getJSON(ctx, c.baseURL+"?"+q.Encode(), &out); err != nil {
		return mirror.ListPage{}, fmt.Errorf("list pages skip=%d limit=%d: %w", skip, limit, err)
	}
	return out, nil
}

// FetchDetail fetches the full content of one page. A 404 yields mirror.ErrNotFound.
func (c *Client) FetchDetail(ctx context.Context, title string) (mirror.MirroredContent, error) {
	var out mirror.MirroredContent
	err := c.getJSON(ctx, c.baseURL+"/"+url.PathEscape(title), &out)
	if err != nil {
		var remote *RemoteFetchError
		if errors.As(err, &remote) && remote.Status == http.StatusNotFound {
			return mirror.MirroredContent{}, fmt.Errorf("fetch %q: %w", title, mirror.ErrNotFound)
		}
		return mirror.MirroredContent{}, fmt.Errorf("fetch %q: %w", title, err)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RemoteFetchError{Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(d)
	}
	return nil
}
