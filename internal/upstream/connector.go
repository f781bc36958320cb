// Package upstream implements the outbound HTTP contract the registries use
// to talk to the third-party services being proxied.
package upstream

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/raeldev/apihub/internal/fault"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"

// Connector performs the raw network calls against an upstream service.
// Every call is bounded by the context deadline plus the connector's own
// timeout, and failures come back as typed faults rather than crashes.
type Connector interface {
	// FetchPage retrieves a page body as text (nonce scraping).
	FetchPage(ctx context.Context, pageURL string) (string, error)

	// PostForm sends a URL-encoded form and returns the raw response body.
	PostForm(ctx context.Context, postURL string, fields url.Values, headers map[string]string) ([]byte, error)

	// GetBytes downloads a binary asset (task pipeline source/result).
	GetBytes(ctx context.Context, assetURL string) ([]byte, error)
}

// HTTPConnector is the production Connector backed by net/http.
type HTTPConnector struct {
	client    *http.Client
	userAgent string
	referer   string
	maxBody   int64
}

// Option configures the HTTPConnector.
type Option func(*HTTPConnector)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPConnector) {
		c.client.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPConnector) { c.client = client }
}

// WithReferer sets Origin/Referer headers sent on form posts. The scraped
// chat upstreams reject posts without them.
func WithReferer(referer string) Option {
	return func(c *HTTPConnector) { c.referer = referer }
}

// WithMaxBodySize caps the number of response bytes read.
func WithMaxBodySize(n int64) Option {
	return func(c *HTTPConnector) { c.maxBody = n }
}

// NewHTTPConnector creates a connector with a 30 second default timeout.
func NewHTTPConnector(opts ...Option) *HTTPConnector {
	c := &HTTPConnector{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: defaultUserAgent,
		maxBody:   20 << 20,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPage retrieves a page body as text.
func (c *HTTPConnector) FetchPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fault.Wrap(fault.KindInvalidParameter, err, "build request for %s", pageURL)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// PostForm sends a URL-encoded form and returns the raw response body.
func (c *HTTPConnector) PostForm(ctx context.Context, postURL string, fields url.Values, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, strings.NewReader(fields.Encode()))
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidParameter, err, "build request for %s", postURL)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
		req.Header.Set("Origin", strings.TrimSuffix(c.referer, "/"))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.do(req)
}

// GetBytes downloads a binary asset.
func (c *HTTPConnector) GetBytes(ctx context.Context, assetURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidParameter, err, "build request for %s", assetURL)
	}
	req.Header.Set("User-Agent", c.userAgent)

	return c.do(req)
}

func (c *HTTPConnector) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, fault.Wrap(fault.KindUpstreamUnavailable, err, "upstream call to %s timed out", req.URL.Host)
		}
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, err, "upstream call to %s failed", req.URL.Host)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, err, "read response from %s", req.URL.Host)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := fault.KindUpstreamUnavailable
		if resp.StatusCode == http.StatusForbidden {
			// 403 from the chat upstream means the nonce is dead.
			kind = fault.KindAuthExpired
		}
		return nil, fault.New(kind, "upstream %s returned %d", req.URL.Host, resp.StatusCode).
			WithMeta("status", resp.StatusCode)
	}

	return body, nil
}
