// Package download streams PDF artifacts to the local filesystem.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
	"github.com/JakeFAU/proceedings-crawler/internal/hash/sha256"
	"github.com/JakeFAU/proceedings-crawler/internal/policy/politeness"
)

const (
	defaultTimeout    = 2 * time.Minute
	defaultBufferSize = 32 << 10
)

// Config controls download behavior.
type Config struct {
	UserAgent  string
	Timeout    time.Duration
	BufferSize int
}

// Option customizes a Downloader.
type Option func(*Downloader)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) { d.client = c }
}

// WithDelayer sets the politeness delay applied before each attempt.
func WithDelayer(dl crawler.Delayer) Option {
	return func(d *Downloader) { d.delayer = dl }
}

// WithLimiter sets the per-host rate limiter applied before each attempt.
func WithLimiter(l crawler.Limiter) Option {
	return func(d *Downloader) { d.limiter = l }
}

// WithRetryPolicy sets the retry policy for transient failures.
func WithRetryPolicy(p *crawler.RetryPolicy) Option {
	return func(d *Downloader) { d.retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Downloader) { d.logger = l }
}

// Downloader implements crawler.Downloader over net/http so bodies can be
// streamed to disk instead of buffered.
type Downloader struct {
	cfg     Config
	client  *http.Client
	delayer crawler.Delayer
	limiter crawler.Limiter
	retry   *crawler.RetryPolicy
	pause   func(context.Context, time.Duration) error
	logger  *zap.Logger
}

// New builds a Downloader.
func New(cfg Config, opts ...Option) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	d := &Downloader{
		cfg:    cfg,
		client: &http.Client{Transport: newHTTPTransport()},
		retry:  crawler.NewRetryPolicy(0, 0, 0),
		pause:  politeness.Sleep,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download streams rawURL into destDir/FileName(title). On failure nothing is
// left at the destination path.
func (d *Downloader) Download(ctx context.Context, rawURL, destDir, title string) (crawler.Artifact, error) {
	if err := crawler.ValidateTarget(rawURL); err != nil {
		return crawler.Artifact{}, crawler.NewError(crawler.KindPermanentNetwork, "download", rawURL, err)
	}
	dest := filepath.Join(destDir, FileName(title))
	for attempt := 0; ; attempt++ {
		art, err := d.downloadOnce(ctx, rawURL, dest)
		if err == nil {
			return art, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.Artifact{}, fmt.Errorf("download %s: %w", rawURL, ctxErr)
		}
		if !d.retry.ShouldRetry(err, attempt) {
			return crawler.Artifact{}, err
		}
		wait := d.retry.Backoff(attempt)
		d.logger.Warn("retrying download",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := d.pause(ctx, wait); err != nil {
			return crawler.Artifact{}, fmt.Errorf("download %s: %w", rawURL, err)
		}
	}
}

func (d *Downloader) downloadOnce(ctx context.Context, rawURL, dest string) (crawler.Artifact, error) {
	if d.delayer != nil {
		if err := d.delayer.Wait(ctx); err != nil {
			return crawler.Artifact{}, fmt.Errorf("politeness delay: %w", err)
		}
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, rawURL); err != nil {
			return crawler.Artifact{}, fmt.Errorf("rate limit: %w", err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return crawler.Artifact{}, crawler.NewError(crawler.KindPermanentNetwork, "download", rawURL, err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := d.client.Do(req)
	if err != nil {
		return crawler.Artifact{}, crawler.NewError(crawler.KindTransientNetwork, "download", rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return crawler.Artifact{}, crawler.StatusError("download", rawURL, resp.StatusCode)
	}

	return d.writeBody(rawURL, dest, resp)
}

func (d *Downloader) writeBody(rawURL, dest string, resp *http.Response) (crawler.Artifact, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*.tmp")
	if err != nil {
		return crawler.Artifact{}, fsError(rawURL, fmt.Errorf("create temp file: %w", err))
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tmp.Close()
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			d.logger.Warn("remove temp file failed", zap.String("path", tmpPath), zap.Error(rmErr))
		}
	}()

	digest := sha256.NewDigest()
	n, err := io.CopyBuffer(io.MultiWriter(tmp, digest), resp.Body, make([]byte, d.cfg.BufferSize))
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return crawler.Artifact{}, fsError(rawURL, fmt.Errorf("write temp file: %w", err))
		}
		return crawler.Artifact{}, crawler.NewError(crawler.KindTransientNetwork, "download", rawURL, fmt.Errorf("read body: %w", err))
	}
	if n == 0 {
		return crawler.Artifact{}, crawler.NewError(crawler.KindPermanentNetwork, "download", rawURL, errors.New("empty body"))
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return crawler.Artifact{}, crawler.NewError(crawler.KindTransientNetwork, "download", rawURL,
			fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength))
	}

	if err := tmp.Sync(); err != nil {
		return crawler.Artifact{}, fsError(rawURL, fmt.Errorf("sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return crawler.Artifact{}, fsError(rawURL, fmt.Errorf("close temp file: %w", err))
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return crawler.Artifact{}, fsError(rawURL, fmt.Errorf("rename temp file: %w", err))
	}
	committed = true

	return crawler.Artifact{Path: dest, Bytes: n, SHA256: digest.Hex()}, nil
}

func fsError(rawURL string, err error) error {
	return crawler.NewError(crawler.KindFilesystem, "download", rawURL, err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
