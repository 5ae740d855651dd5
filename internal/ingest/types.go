package ingest

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/david/bid-intel/internal/keypool"
)

// FetchedDocument is a fully read response body.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	FetchedAt   time.Time
	Headers     http.Header
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, params url.Values) (*FetchedDocument, error)
}

// ContentFetcher retrieves URLs taken from feed content.
type ContentFetcher interface {
	Fetcher
	Head(ctx context.Context, rawURL string) (http.Header, error)
}

// KeyedFetcher adds credential rotation on top of ContentFetcher.
type KeyedFetcher interface {
	ContentFetcher
	FetchWithKey(ctx context.Context, rawURL string, params url.Values, pool KeyPool) (*FetchedDocument, error)
}

// JSONPoster sends JSON POST queries under the fetcher's retry policy.
type JSONPoster interface {
	PostJSON(ctx context.Context, rawURL string, payload any) (*FetchedDocument, error)
}

// KeyPool is the subset of keypool.Pool the fetcher relies on.
type KeyPool interface {
	Acquire() (*keypool.Credential, error)
	ReportSuccess(c *keypool.Credential)
	ReportDisabled(c *keypool.Credential)
	Release(c *keypool.Credential)
	Size() int
}

// FetchConfig controls timeouts and the retry policy.
type FetchConfig struct {
	Timeout        time.Duration // whole request, default 60s
	ConnectTimeout time.Duration // dial, default 5s
	ReadTimeout    time.Duration // response headers, default 20s
	MaxRetries     int           // extra attempts after the first, default 3
	BackoffBase    time.Duration // default 500ms
	BackoffFactor  float64       // default 2.0
	MaxBodyBytes   int64         // default 10MB
	UserAgent      string
	Accept         string
	// BlockPrivate refuses to dial loopback and private ranges. Enable it for
	// URLs taken from feed content.
	BlockPrivate bool
}

func (c FetchConfig) withDefaults() FetchConfig {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 20 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "bid-intel/1.0 (opportunity intelligence)"
	}
	if c.Accept == "" {
		c.Accept = "application/json, text/html;q=0.9, */*;q=0.8"
	}
	return c
}
