package ingest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/david/bid-intel/internal/keypool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestFetcher(t *testing.T, srv *httptest.Server, retries int) *ResilientFetcher {
	t.Helper()
	return NewResilientFetcherWithClient(srv.Client(), FetchConfig{
		MaxRetries:  retries,
		BackoffBase: time.Millisecond,
	}, zaptest.NewLogger(t))
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 3)
	doc, err := f.Fetch(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(doc.Body))
	assert.Equal(t, "application/json", doc.ContentType)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestFetch_ExhaustedRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 3)
	_, err := f.Fetch(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Retryable())
}

func TestFetch_TerminalStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, "", ErrInvalidCredential},
		{"rate limited", http.StatusTooManyRequests, "", ErrRateLimited},
		{"not found", http.StatusNotFound, "", ErrNotFound},
		{"bad request", http.StatusBadRequest, "", ErrFetchFailed},
		{"plain forbidden", http.StatusForbidden, "forbidden", ErrFetchFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			f := newTestFetcher(t, srv, 3)
			_, err := f.Fetch(context.Background(), srv.URL, nil)
			assert.ErrorIs(t, err, tt.want)
			assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "terminal statuses are not retried")

			var fe *FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.status, fe.StatusCode)
		})
	}
}

func TestFetch_ContextCancelAbortsBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewResilientFetcherWithClient(srv.Client(), FetchConfig{
		MaxRetries:  3,
		BackoffBase: 10 * time.Second,
	}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := f.Fetch(ctx, srv.URL, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestFetchWithKey_RotatesOnceOnDisabledKey(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Query().Get("api_key") == "first" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":"API_KEY_DISABLED","message":"An API key was supplied, but it has been disabled."}}`))
			return
		}
		_, _ = w.Write([]byte(`{"totalRecords":0}`))
	}))
	defer srv.Close()

	pool, err := keypool.New([]string{"first", "second"}, 10)
	require.NoError(t, err)

	f := newTestFetcher(t, srv, 3)
	doc, err := f.FetchWithKey(context.Background(), srv.URL, url.Values{"limit": {"1"}}, pool)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doc.StatusCode)
	assert.NotContains(t, doc.URL, "second")
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "one rotation, one retried request")

	status := pool.Status()
	require.Len(t, status, 2)
	assert.True(t, status[0].Disabled)
	assert.Equal(t, 0, status[0].UsedToday)
	assert.False(t, status[1].Disabled)
	assert.Equal(t, 1, status[1].UsedToday)
}

func TestFetchWithKey_BoundedByPoolSize(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("Your key is disabled"))
	}))
	defer srv.Close()

	pool, err := keypool.New([]string{"a", "b", "c"}, 10)
	require.NoError(t, err)

	f := newTestFetcher(t, srv, 3)
	_, err = f.FetchWithKey(context.Background(), srv.URL, nil, pool)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	_, err = pool.Acquire()
	assert.ErrorIs(t, err, keypool.ErrAllKeysExhausted)
}

func TestFetchWithKey_RedactsKeyInErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	pool, err := keypool.New([]string{"super-secret"}, 10)
	require.NoError(t, err)

	f := newTestFetcher(t, srv, 0)
	_, err = f.FetchWithKey(context.Background(), srv.URL, nil, pool)
	require.ErrorIs(t, err, ErrInvalidCredential)
	assert.NotContains(t, err.Error(), "super-secret")
}

func TestFetchWithKey_FailedCallReturnsQuota(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	pool, err := keypool.New([]string{"only"}, 1)
	require.NoError(t, err)
	f := newTestFetcher(t, srv, 0)

	_, err = f.FetchWithKey(context.Background(), srv.URL, nil, pool)
	require.Error(t, err)
	assert.Equal(t, 0, pool.Status()[0].InFlight)
	assert.Equal(t, 0, pool.Status()[0].UsedToday)

	fail.Store(false)
	_, err = f.FetchWithKey(context.Background(), srv.URL, nil, pool)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Status()[0].UsedToday)

	_, err = f.FetchWithKey(context.Background(), srv.URL, nil, pool)
	assert.ErrorIs(t, err, keypool.ErrQuotaExceeded)
}

func TestHead_ReturnsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Disposition", `attachment; filename="SOW.pdf"`)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 0)
	h, err := f.Head(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, `attachment; filename="SOW.pdf"`, h.Get("Content-Disposition"))
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"192.168.0.10", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"::1", true},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isPrivateIP(net.ParseIP(tt.ip)), tt.ip)
	}
}
