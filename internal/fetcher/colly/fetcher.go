// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
	"github.com/JakeFAU/proceedings-crawler/internal/metrics"
	"github.com/JakeFAU/proceedings-crawler/internal/policy/politeness"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxBodySize = 32 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodySize caps the bytes read per page. Longer bodies are cut off
	// and logged.
	MaxBodySize int
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithTransport replaces the HTTP transport used by the collector.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.transport = rt }
}

// WithDelayer sets the politeness delay applied before every attempt.
func WithDelayer(d crawler.Delayer) Option {
	return func(f *Fetcher) { f.delayer = d }
}

// WithLimiter sets the per-host rate limiter applied before every attempt.
func WithLimiter(l crawler.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithRetryPolicy sets the retry policy for transient failures.
func WithRetryPolicy(p *crawler.RetryPolicy) Option {
	return func(f *Fetcher) { f.retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	delayer       crawler.Delayer
	limiter       crawler.Limiter
	retry         *crawler.RetryPolicy
	pause         func(context.Context, time.Duration) error
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// visitResult is what the collector callbacks report for one attempt.
type visitResult struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	f := &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		retry:     crawler.NewRetryPolicy(0, 0, 0),
		pause:     politeness.Sleep,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	// Statuses are classified here rather than by colly's error path.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(f.transport)
	// Clones share the backend client, so the timeout is set once here.
	c.SetRequestTimeout(cfg.Timeout)
	c.MaxBodySize = cfg.MaxBodySize
	f.baseCollector = c
	return f
}

// Fetch GETs rawURL and parses the body. Transient failures are retried with
// backoff; every attempt waits out the politeness delay and rate limiter first.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.Document, error) {
	if err := crawler.ValidateTarget(rawURL); err != nil {
		metrics.ObserveFetch(crawler.KindPermanentNetwork.String())
		return nil, crawler.NewError(crawler.KindPermanentNetwork, "fetch", rawURL, err)
	}

	for attempt := 0; ; attempt++ {
		doc, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			metrics.ObserveFetch("ok")
			return doc, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, ctxErr)
		}
		metrics.ObserveFetch(crawler.KindOf(err).String())
		if !f.retry.ShouldRetry(err, attempt) {
			return nil, err
		}
		wait := f.retry.Backoff(attempt)
		f.logger.Warn("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		metrics.ObserveFetchRetry()
		if err := f.pause(ctx, wait); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (crawler.Document, error) {
	if f.delayer != nil {
		if err := f.delayer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("politeness delay: %w", err)
		}
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var res visitResult
	collector := f.buildCollector(&res)
	if err := f.runCollector(ctx, collector, rawURL, &res); err != nil {
		return nil, err
	}
	if err := classify(rawURL, res); err != nil {
		return nil, err
	}
	if len(res.body) >= f.cfg.MaxBodySize {
		f.logger.Warn("page body truncated",
			zap.String("url", rawURL),
			zap.String("kind", crawler.KindParseAnomaly.String()),
			zap.Int("max_body_size", f.cfg.MaxBodySize),
		)
	}

	doc, err := crawler.ParseDocument(res.body)
	if err != nil {
		f.logger.Warn("unparsable page treated as empty",
			zap.String("url", rawURL),
			zap.String("kind", crawler.KindParseAnomaly.String()),
			zap.Error(err),
		)
		return crawler.EmptyDocument(), nil
	}
	return doc, nil
}

func (f *Fetcher) buildCollector(res *visitResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.MaxBodySize = f.cfg.MaxBodySize
	configureCollectorHooks(collector, res)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, res *visitResult) {
	hooks.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
		}
		res.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, res *visitResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil && res.err == nil {
			res.err = err
		}
		return nil
	}
}

// classify turns one attempt's outcome into nil or a typed *crawler.Error.
func classify(rawURL string, res visitResult) error {
	switch {
	case errors.Is(res.err, colly.ErrRobotsTxtBlocked), errors.Is(res.err, colly.ErrForbiddenDomain),
		errors.Is(res.err, colly.ErrForbiddenURL), errors.Is(res.err, colly.ErrMissingURL):
		return crawler.NewError(crawler.KindPermanentNetwork, "fetch", rawURL, res.err)
	case res.err != nil && res.status == 0:
		// Targets are validated up front, so a transport error here is the network's fault.
		return crawler.NewError(crawler.KindTransientNetwork, "fetch", rawURL, res.err)
	case res.status == 0:
		return crawler.NewError(crawler.KindTransientNetwork, "fetch", rawURL, errors.New("no response"))
	case res.status < 200 || res.status >= 300:
		return crawler.StatusError("fetch", rawURL, res.status)
	case res.err != nil:
		return &crawler.Error{Kind: crawler.KindTransientNetwork, Op: "fetch", URL: rawURL, StatusCode: res.status, Err: res.err}
	default:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
