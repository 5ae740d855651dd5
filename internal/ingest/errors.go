package ingest

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrFetchFailed covers transient failures that survived every retry and
	// unexpected upstream statuses.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrInvalidCredential is returned for 401 responses. Never retried.
	ErrInvalidCredential = errors.New("invalid API credential")
	// ErrRateLimited is returned for 429 responses; the caller reschedules.
	ErrRateLimited = errors.New("rate limited by upstream")
	// ErrNotFound marks an absent entity or an explicit not-found body.
	ErrNotFound = errors.New("not found")

	errKeyDisabled = errors.New("API key disabled by provider")
)

// FetchError carries the upstream status for a failed fetch. The URL never
// includes the api_key parameter.
type FetchError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	method := e.Method
	if method == "" {
		method = "GET"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", method, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", method, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt with the same inputs could
// succeed.
func (e *FetchError) Retryable() bool {
	return errors.Is(e.Err, ErrFetchFailed) || errors.Is(e.Err, ErrRateLimited)
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
