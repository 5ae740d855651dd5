package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/david/bid-intel/internal/metrics"
	"go.uber.org/zap"
)

var blockedPrefixStrings = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var blockedPrefixes = func() []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(blockedPrefixStrings))
	for _, s := range blockedPrefixStrings {
		if p, err := netip.ParsePrefix(s); err == nil {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}()

// retryStatusCodes are retried with backoff. 429 is deliberately absent: the
// caller reschedules rate-limited work.
var retryStatusCodes = map[int]bool{
	500: true,
	502: true,
	503: true,
	504: true,
}

// keyDisabledMarkers identify a 403 that means the key itself was revoked
// (api.data.gov returns API_KEY_DISABLED).
var keyDisabledMarkers = []string{
	"api_key_disabled",
	"key is disabled",
	"api key has been disabled",
}

// DefaultFetchConfig is the retry policy used for feed calls.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{MaxRetries: 3}.withDefaults()
}

// ResilientFetcher retries transient failures with exponential backoff and
// jitter, classifies terminal statuses, and rotates API keys on a disabled
// key response.
type ResilientFetcher struct {
	client *http.Client
	cfg    FetchConfig
	log    *zap.Logger
}

func NewResilientFetcher(cfg FetchConfig, log *zap.Logger) *ResilientFetcher {
	cfg = cfg.withDefaults()
	dial := (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	if cfg.BlockPrivate {
		dial = safeDialContext(cfg.ConnectTimeout)
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dial,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
	if cfg.BlockPrivate {
		client.CheckRedirect = safeCheckRedirect
	}
	return NewResilientFetcherWithClient(client, cfg, log)
}

// NewResilientFetcherWithClient uses client as is, which lets tests point the
// fetcher at httptest servers.
func NewResilientFetcherWithClient(client *http.Client, cfg FetchConfig, log *zap.Logger) *ResilientFetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &ResilientFetcher{
		client: client,
		cfg:    cfg.withDefaults(),
		log:    log.Named("fetcher"),
	}
}

// Fetch issues an unauthenticated GET with retries.
func (f *ResilientFetcher) Fetch(ctx context.Context, rawURL string, params url.Values) (*FetchedDocument, error) {
	doc, err := f.get(ctx, rawURL, params)
	if errors.Is(err, errKeyDisabled) {
		return nil, &FetchError{URL: redactURL(rawURL), StatusCode: http.StatusForbidden, Err: ErrFetchFailed}
	}
	return doc, err
}

// FetchWithKey acquires a credential from pool and sends it as api_key. A
// 403 carrying a key-disabled marker disables that credential and re-issues
// the request with the next one. The loop runs at most pool.Size() times.
// Each 200 counts against exactly one credential; any other outcome hands
// the reserved unit back.
func (f *ResilientFetcher) FetchWithKey(ctx context.Context, rawURL string, params url.Values, pool KeyPool) (*FetchedDocument, error) {
	attempts := pool.Size()
	var lastErr error

	for i := 0; i < attempts; i++ {
		cred, err := pool.Acquire()
		if err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("%w (last upstream error: %v)", err, lastErr)
			}
			return nil, err
		}

		p := cloneValues(params)
		p.Set("api_key", cred.Key)

		doc, err := f.get(ctx, rawURL, p)
		if err == nil {
			pool.ReportSuccess(cred)
			return doc, nil
		}
		if errors.Is(err, errKeyDisabled) {
			pool.ReportDisabled(cred)
			lastErr = err
			f.log.Warn("credential disabled upstream, rotating",
				zap.Int("credential", cred.Index),
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", attempts))
			continue
		}
		pool.Release(cred)
		return nil, err
	}

	return nil, &FetchError{
		URL:        redactURL(rawURL),
		StatusCode: http.StatusForbidden,
		Err:        fmt.Errorf("%w: every credential reported disabled", ErrFetchFailed),
	}
}

// Head issues a single HEAD request and returns the response headers.
func (f *ResilientFetcher) Head(ctx context.Context, rawURL string) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Method: http.MethodHead, URL: redactURL(rawURL), Err: fmt.Errorf("%w: %v", ErrFetchFailed, err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Method: http.MethodHead, URL: redactURL(rawURL), StatusCode: resp.StatusCode, Err: ErrFetchFailed}
	}
	return resp.Header, nil
}

// PostJSON sends payload as a JSON body under the same retry policy as
// Fetch. Used for search APIs that take POST queries.
func (f *ResilientFetcher) PostJSON(ctx context.Context, rawURL string, payload any) (*FetchedDocument, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	doc, err := f.do(ctx, http.MethodPost, rawURL, nil, body)
	if errors.Is(err, errKeyDisabled) {
		return nil, &FetchError{URL: redactURL(rawURL), StatusCode: http.StatusForbidden, Err: ErrFetchFailed}
	}
	return doc, err
}

func (f *ResilientFetcher) get(ctx context.Context, rawURL string, params url.Values) (*FetchedDocument, error) {
	return f.do(ctx, http.MethodGet, rawURL, params, nil)
}

func (f *ResilientFetcher) do(ctx context.Context, method, rawURL string, params url.Values, payload []byte) (*FetchedDocument, error) {
	target, err := buildURL(rawURL, params)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	host := target.Host
	safeURL := redactURL(target.String())

	start := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := f.backoff(attempt)
			f.log.Debug("retrying fetch",
				zap.String("url", safeURL),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target.String(), reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", f.cfg.UserAgent)
		req.Header.Set("Accept", f.cfg.Accept)
		req.Header.Set("Cache-Control", "no-cache")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := f.client.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if isTransient(err) {
				metrics.FetchAttempts.WithLabelValues(host, "transient").Inc()
				lastErr = err
				continue
			}
			metrics.FetchAttempts.WithLabelValues(host, "error").Inc()
			return nil, &FetchError{Method: method, URL: safeURL, Err: fmt.Errorf("%w: %v", ErrFetchFailed, err)}
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
		resp.Body.Close()
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			metrics.FetchAttempts.WithLabelValues(host, "transient").Inc()
			lastErr = readErr
			continue
		}

		switch status := resp.StatusCode; {
		case status >= 200 && status <= 299:
			metrics.FetchAttempts.WithLabelValues(host, "ok").Inc()
			return &FetchedDocument{
				URL:         safeURL,
				StatusCode:  status,
				ContentType: resp.Header.Get("Content-Type"),
				Body:        body,
				FetchedAt:   time.Now(),
				Headers:     resp.Header,
			}, nil
		case status == http.StatusUnauthorized:
			metrics.FetchAttempts.WithLabelValues(host, "unauthorized").Inc()
			return nil, &FetchError{Method: method, URL: safeURL, StatusCode: status, Err: ErrInvalidCredential}
		case status == http.StatusForbidden && hasKeyDisabledMarker(body):
			metrics.FetchAttempts.WithLabelValues(host, "key_disabled").Inc()
			return nil, &FetchError{Method: method, URL: safeURL, StatusCode: status, Err: errKeyDisabled}
		case status == http.StatusNotFound:
			metrics.FetchAttempts.WithLabelValues(host, "not_found").Inc()
			return nil, &FetchError{Method: method, URL: safeURL, StatusCode: status, Err: ErrNotFound}
		case status == http.StatusTooManyRequests:
			metrics.FetchAttempts.WithLabelValues(host, "rate_limited").Inc()
			return nil, &FetchError{Method: method, URL: safeURL, StatusCode: status, Err: ErrRateLimited}
		case retryStatusCodes[status]:
			metrics.FetchAttempts.WithLabelValues(host, "retry_status").Inc()
			lastErr = fmt.Errorf("status code %d", status)
			continue
		default:
			metrics.FetchAttempts.WithLabelValues(host, "error").Inc()
			return nil, &FetchError{Method: method, URL: safeURL, StatusCode: status, Err: ErrFetchFailed}
		}
	}

	return nil, &FetchError{
		Method: method,
		URL:    safeURL,
		Err:    fmt.Errorf("%w: max retries exceeded: %v", ErrFetchFailed, lastErr),
	}
}

// backoff is base * factor^(attempt-1) plus up to 10% jitter.
func (f *ResilientFetcher) backoff(attempt int) time.Duration {
	d := float64(f.cfg.BackoffBase) * math.Pow(f.cfg.BackoffFactor, float64(attempt-1))
	jitter := rand.Float64() * 0.1 * d
	return time.Duration(d + jitter)
}

func buildURL(rawURL string, params url.Values) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			q.Del(k)
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func hasKeyDisabledMarker(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, m := range keyDisabledMarkers {
		if bytes.Contains(lower, []byte(m)) {
			return true
		}
	}
	return false
}

// isTransient reports network failures worth another attempt.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

// safeDialContext refuses private, loopback and link-local destinations.
func safeDialContext(timeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		for _, ip := range ips {
			if isPrivateIP(ip.IP) {
				return nil, fmt.Errorf("blocked private IP: %s", ip.IP)
			}
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("host %s resolved to no addresses", host)
		}
		// Dial the vetted address so a second lookup cannot swap it.
		return d.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
	}
}

func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsLinkLocalMulticast() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return true
	}
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

func safeCheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	if req.URL == nil {
		return fmt.Errorf("invalid redirect URL")
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect scheme blocked")
	}
	host := strings.ToLower(req.URL.Hostname())
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".local") {
		return fmt.Errorf("redirect to internal host blocked")
	}
	return nil
}
