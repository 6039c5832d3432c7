package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/einthusan-addon/internal/catalog"
	collyfetcher "github.com/JakeFAU/einthusan-addon/internal/fetcher/colly"
	"github.com/JakeFAU/einthusan-addon/internal/policy/concurrency"
)

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      maxAttempts,
		BackoffStep:      time.Millisecond,
		BackoffMax:       5 * time.Millisecond,
		RateLimitDelay:   time.Millisecond,
		RateLimitRetries: 3,
	}
}

func newTestClient(t *testing.T, baseURL string, policy RetryPolicy, permits Permits) *Client {
	t.Helper()
	fetcher := collyfetcher.New(collyfetcher.Config{UserAgent: "upstream-test", Timeout: 2 * time.Second})
	c, err := New(Config{BaseURL: baseURL, Retry: policy}, fetcher, permits, nil, nil)
	require.NoError(t, err)
	return c
}

// sequenceServer replies with the given statuses in order, then 200 "ok".
func sequenceServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(hits.Add(1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			_, _ = io.WriteString(w, http.StatusText(statuses[n-1]))
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestClientRetriesServerErrors(t *testing.T) {
	t.Parallel()
	srv, hits := sequenceServer(t, http.StatusServiceUnavailable, http.StatusBadGateway)
	c := newTestClient(t, srv.URL, fastPolicy(4), nil)

	body, err := c.Get(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
	require.Equal(t, int32(3), hits.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()
	srv, hits := sequenceServer(t, http.StatusNotFound)
	c := newTestClient(t, srv.URL, fastPolicy(4), nil)

	_, err := c.Get(context.Background(), srv.URL+"/missing")
	var fe *catalog.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, http.StatusNotFound, fe.Status)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.Equal(t, 1, fe.Attempts)
	require.Equal(t, int32(1), hits.Load())
}

func TestClientExhaustsAttempts(t *testing.T) {
	t.Parallel()
	srv, hits := sequenceServer(t, 500, 500, 500, 500, 500, 500)
	c := newTestClient(t, srv.URL, fastPolicy(3), nil)

	_, err := c.Get(context.Background(), srv.URL)
	var fe *catalog.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, http.StatusInternalServerError, fe.Status)
	require.Equal(t, 3, fe.Attempts)
	require.Equal(t, int32(3), hits.Load())
}

func TestClientRateLimitUsesSeparateBudget(t *testing.T) {
	t.Parallel()
	srv, hits := sequenceServer(t, http.StatusTooManyRequests, http.StatusTooManyRequests)
	// A single ordinary attempt still succeeds after two throttled replies.
	c := newTestClient(t, srv.URL, fastPolicy(1), nil)

	body, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
	require.Equal(t, int32(3), hits.Load())
}

func TestClientRateLimitMarkerInBody(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "<html><body>rate limit exceeded, slow down</body></html>")
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv.URL, fastPolicy(4), nil)

	_, err := c.Get(context.Background(), srv.URL)
	require.Error(t, err)
	require.True(t, errors.Is(err, catalog.ErrRateLimited))
	var fe *catalog.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, 4, fe.Attempts, "one attempt plus three rate-limit retries")
	require.Equal(t, int32(4), hits.Load())
}

func TestClientNonReplayableMethodsGetOneAttempt(t *testing.T) {
	t.Parallel()
	srv, hits := sequenceServer(t, http.StatusServiceUnavailable)
	c := newTestClient(t, srv.URL, fastPolicy(4), nil)

	_, err := c.Do(context.Background(), collyfetcher.Request{Method: http.MethodPost, URL: srv.URL, Body: []byte("x")})
	require.Error(t, err)
	require.Equal(t, int32(1), hits.Load())
}

func TestClientHoldsPermitPerAttempt(t *testing.T) {
	t.Parallel()
	limiter := concurrency.New(1)
	var maxSeen atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if n := int32(limiter.InUse()); n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		_, _ = io.WriteString(w, "ok")
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv.URL, fastPolicy(2), limiter)

	_, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, int32(1), maxSeen.Load())
	require.Zero(t, limiter.InUse())
}

func TestClientCanceledContext(t *testing.T) {
	t.Parallel()
	srv, _ := sequenceServer(t)
	c := newTestClient(t, srv.URL, fastPolicy(4), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, srv.URL)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestClientDocumentResolvesAgainstBase(t *testing.T) {
	t.Parallel()
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Path + "?" + r.URL.RawQuery)
		_, _ = io.WriteString(w, `<html><body><h1 id="t">Hello</h1></body></html>`)
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv.URL, fastPolicy(1), nil)

	doc, err := c.Document(context.Background(), "/movie/results/", url.Values{"lang": {"tamil"}, "query": {"kaala"}})
	require.NoError(t, err)
	require.Equal(t, "Hello", doc.Find("#t").Text())
	require.Equal(t, "/movie/results/?lang=tamil&query=kaala", gotQuery.Load())
}

func TestClientJSON(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"name":"Kaala"}`)
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv.URL, fastPolicy(1), nil)

	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.JSON(context.Background(), srv.URL, &out))
	require.Equal(t, "Kaala", out.Name)
}

func TestNewRejectsRelativeBase(t *testing.T) {
	t.Parallel()
	_, err := New(Config{BaseURL: "/relative"}, collyfetcher.New(collyfetcher.Config{}), nil, nil, nil)
	require.Error(t, err)
}
