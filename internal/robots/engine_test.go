package robots

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEngineFetchesAndCachesPerOrigin(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		gotUA.Store(r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, "User-agent: *\nDisallow: /admin/\nCrawl-delay: 1\nSitemap: https://x/sitemap.xml\n")
	}))
	t.Cleanup(srv.Close)

	e := NewEngine(Config{UserAgent: "kbcrawler-test"}, zaptest.NewLogger(t))
	ctx := context.Background()

	require.False(t, e.IsAllowed(ctx, srv.URL+"/admin/page"))
	require.True(t, e.IsAllowed(ctx, srv.URL+"/blog/page"))
	require.Equal(t, time.Second, e.CrawlDelay(ctx, srv.URL+"/blog/page"))
	require.Equal(t, []string{"https://x/sitemap.xml"}, e.Sitemaps(ctx, srv.URL))
	require.EqualValues(t, 1, hits.Load())
	require.Equal(t, "kbcrawler-test", gotUA.Load())
}

func TestEngineFailsOpenOnMissingRobots(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	e := NewEngine(Config{UserAgent: "bot"}, zaptest.NewLogger(t))
	require.True(t, e.IsAllowed(context.Background(), srv.URL+"/anything"))
	require.Empty(t, e.Sitemaps(context.Background(), srv.URL))
}

func TestEngineFailsOpenOnNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	e := NewEngine(Config{UserAgent: "bot", Timeout: time.Second}, zaptest.NewLogger(t))
	require.True(t, e.IsAllowed(context.Background(), addr+"/page"))
}

func TestRetryTransportReturnsAllowAllOnTimeout(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{
		results: []roundTripResult{
			{err: context.DeadlineExceeded},
			{err: context.DeadlineExceeded},
			{err: context.DeadlineExceeded},
			{err: context.DeadlineExceeded},
		},
	}
	transport := &retryTransport{base: base, backoff: []time.Duration{0, 0, 0}}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, resp.Body.Close()) })

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "User-agent: *\nAllow: /", string(body))
	require.Equal(t, 4, base.calls)
}

func TestRetryTransportStopsAfterSuccess(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{
		results: []roundTripResult{
			{err: context.DeadlineExceeded},
			{resp: httptest.NewRecorder().Result()},
		},
	}
	transport := &retryTransport{base: base, backoff: []time.Duration{0, 0, 0}}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 2, base.calls)
}

func TestRetryTransportPassesThroughPermanentErrors(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{err: io.ErrUnexpectedEOF}}}
	transport := &retryTransport{base: base, backoff: []time.Duration{0, 0, 0}}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	_, err := transport.RoundTrip(req) //nolint:bodyclose // error path returns no body
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Equal(t, 1, base.calls)
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

type stubRoundTripper struct {
	results []roundTripResult
	calls   int
}

func (s *stubRoundTripper) RoundTrip(_ *http.Request) (*http.Response, error) {
	defer func() { s.calls++ }()
	if len(s.results) == 0 {
		return nil, context.DeadlineExceeded
	}
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	res := s.results[idx]
	return res.resp, res.err
}
