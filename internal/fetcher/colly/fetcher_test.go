package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
)

type recordingGate struct {
	mu    sync.Mutex
	calls []string
	name  string
	log   *[]string
}

func (g *recordingGate) record(url string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, url)
	if g.log != nil {
		*g.log = append(*g.log, g.name)
	}
}

type gateDelayer struct{ *recordingGate }

func (d gateDelayer) Wait(context.Context) error {
	d.record("")
	return nil
}

type gateLimiter struct{ *recordingGate }

func (l gateLimiter) Wait(_ context.Context, url string) error {
	l.record(url)
	return nil
}

func noPause(context.Context, time.Duration) error { return nil }

func newTestFetcher(retries int, opts ...Option) *Fetcher {
	opts = append([]Option{WithRetryPolicy(crawler.NewRetryPolicy(retries, time.Millisecond, time.Millisecond))}, opts...)
	f := New(Config{UserAgent: "test-agent", Timeout: 2 * time.Second}, opts...)
	f.pause = noPause
	return f
}

func TestFetchParsesDocument(t *testing.T) {
	t.Parallel()

	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.UserAgent())
		_, _ = w.Write([]byte(`<html><body><i>A. Smith</i><a href="/x.pdf">pdf</a></body></html>`))
	}))
	defer srv.Close()

	doc, err := newTestFetcher(0).Fetch(context.Background(), srv.URL+"/paper")
	require.NoError(t, err)

	el, ok := doc.SelectFirst("i")
	require.True(t, ok)
	assert.Equal(t, "A. Smith", el.Text())
	href, ok := doc.Select("a")[0].Attr("href")
	require.True(t, ok)
	assert.Equal(t, "/x.pdf", href)
	assert.Equal(t, "test-agent", gotUA.Load())
}

func TestFetchPermanentStatusIsNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	_, err := newTestFetcher(3).Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var ce *crawler.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, crawler.KindPermanentNetwork, ce.Kind)
	assert.Equal(t, http.StatusNotFound, ce.StatusCode)
	assert.EqualValues(t, 1, hits.Load())
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`<p>ok</p>`))
	}))
	defer srv.Close()

	doc, err := newTestFetcher(2).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	_, ok := doc.SelectFirst("p")
	assert.True(t, ok)
	assert.EqualValues(t, 3, hits.Load())
}

func TestFetchGivesUpAfterRetryBudget(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestFetcher(2).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, crawler.KindTransientNetwork, crawler.KindOf(err))
	assert.EqualValues(t, 3, hits.Load())
}

func TestFetchNetworkErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := newTestFetcher(0).Fetch(context.Background(), addr)
	require.Error(t, err)
	assert.Equal(t, crawler.KindTransientNetwork, crawler.KindOf(err))
}

func TestFetchTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 50 * time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, crawler.KindTransientNetwork, crawler.KindOf(err))
}

func TestFetchMalformedURLIsPermanent(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"://nope", "ftp://example.com/a", "http:///path-only"} {
		_, err := newTestFetcher(3).Fetch(context.Background(), raw)
		require.Error(t, err, raw)
		assert.Equal(t, crawler.KindPermanentNetwork, crawler.KindOf(err), raw)
	}
}

func TestFetchAppliesDelayThenLimiterEachAttempt(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	var order []string
	delay := gateDelayer{&recordingGate{name: "delay", log: &order}}
	limit := gateLimiter{&recordingGate{name: "limit", log: &order}}
	_, err := newTestFetcher(1, WithDelayer(delay), WithLimiter(limit)).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, []string{"delay", "limit", "delay", "limit"}, order)
	assert.Equal(t, []string{srv.URL, srv.URL}, limit.calls)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newTestFetcher(3).Fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, crawler.IsTransient(err))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		res  visitResult
		want crawler.Kind
	}{
		{"ok", visitResult{status: 200}, crawler.KindUnknown},
		{"robots", visitResult{err: colly.ErrRobotsTxtBlocked}, crawler.KindPermanentNetwork},
		{"network", visitResult{err: errors.New("connection refused")}, crawler.KindTransientNetwork},
		{"no response", visitResult{}, crawler.KindTransientNetwork},
		{"gone", visitResult{status: 410}, crawler.KindPermanentNetwork},
		{"server", visitResult{status: 500}, crawler.KindTransientNetwork},
		{"body read", visitResult{status: 200, err: errors.New("unexpected EOF")}, crawler.KindTransientNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify("https://x.test", tc.res)
			if tc.want == crawler.KindUnknown {
				require.NoError(t, err)
				return
			}
			assert.Equal(t, tc.want, crawler.KindOf(err))
		})
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	var res visitResult
	hooks := &stubHooks{}
	configureCollectorHooks(hooks, &res)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	body := []byte("body")
	hooks.onResponse(&colly.Response{StatusCode: http.StatusCreated, Body: body})
	body[0] = 'X'
	assert.Equal(t, http.StatusCreated, res.status)
	assert.Equal(t, "body", string(res.body), "body must be copied")

	hooks.onError(&colly.Response{StatusCode: 0}, errors.New("boom"))
	assert.EqualError(t, res.err, "boom")
	assert.Zero(t, res.status)
}

func TestBuildCollectorAppliesConfig(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: true})
	collector := f.buildCollector(&visitResult{})
	assert.Equal(t, "coverage-agent", collector.UserAgent)
	assert.False(t, collector.IgnoreRobotsTxt)
	assert.True(t, collector.AllowURLRevisit)
	assert.Equal(t, defaultTimeout, f.cfg.Timeout)
	assert.Equal(t, defaultMaxBodySize, collector.MaxBodySize)
}

func TestFetchLogsTruncatedBody(t *testing.T) {
	t.Parallel()

	page := "<html><body><i>A. Smith</i>" + strings.Repeat("<p>padding</p>", 200) + "<i>B. Jones</i></body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	f := New(Config{Timeout: 2 * time.Second, MaxBodySize: 256}, WithLogger(zap.New(core)))
	doc, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Len(t, doc.Select("i"), 1, "content past the cap is dropped")
	entries := logs.FilterMessage("page body truncated").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(256), entries[0].ContextMap()["max_body_size"])
	assert.Equal(t, srv.URL, entries[0].ContextMap()["url"])
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
