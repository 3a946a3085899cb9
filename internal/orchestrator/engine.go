// Package orchestrator drives a full crawl: it prepares the output tree, runs
// year discovery sequentially, fans papers out to the worker pool and writes
// the run summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
	"github.com/JakeFAU/proceedings-crawler/internal/dispatcher"
	"github.com/JakeFAU/proceedings-crawler/internal/queue/memory"
	"github.com/JakeFAU/proceedings-crawler/internal/sink"
	csvsink "github.com/JakeFAU/proceedings-crawler/internal/sink/csv"
	"github.com/JakeFAU/proceedings-crawler/internal/storage"
	"github.com/JakeFAU/proceedings-crawler/internal/storage/local"
	"github.com/JakeFAU/proceedings-crawler/internal/worker"
)

const (
	defaultCSVName     = "papers_output.csv"
	defaultSummaryName = "run_summary.yaml"
)

// Config controls one crawl run.
type Config struct {
	// Years are crawled in the given order.
	Years       []int
	Concurrency int
	QueueDepth  int
	OutputRoot  string
	CSVName     string
	SummaryName string
	// MirrorPrefix prefixes object keys when Deps.Mirror is set.
	MirrorPrefix string
	// Topic receives paper and run events when Deps.Publisher is set.
	Topic string
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Fetcher    crawler.Fetcher
	Downloader crawler.Downloader
	Extractor  *crawler.Extractor
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
	// Secondaries receive every recorded row on a best-effort basis. The
	// Engine closes them.
	Secondaries []sink.Named
	Publisher   crawler.Publisher
	Mirror      crawler.BlobStore
}

// Engine runs a crawl. It is single-use.
type Engine struct {
	cfg    Config
	deps   Deps
	stats  *crawler.Stats
	ready  atomic.Bool
	logger *zap.Logger

	metaMu    sync.RWMutex
	runID     string
	startedAt time.Time
}

// New validates cfg and deps and returns an Engine.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OutputRoot == "" {
		return nil, fatal("configure", errors.New("output root is required"))
	}
	if cfg.Concurrency <= 0 {
		return nil, fatal("configure", errors.New("concurrency must be positive"))
	}
	if cfg.QueueDepth < 0 {
		cfg.QueueDepth = 0
	}
	if cfg.CSVName == "" {
		cfg.CSVName = defaultCSVName
	}
	if cfg.SummaryName == "" {
		cfg.SummaryName = defaultSummaryName
	}
	if deps.Fetcher == nil || deps.Downloader == nil || deps.Extractor == nil {
		return nil, fatal("configure", errors.New("fetcher, downloader and extractor are required"))
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, fatal("configure", errors.New("clock and id generator are required"))
	}
	return &Engine{cfg: cfg, deps: deps, stats: crawler.NewStats(), logger: logger}, nil
}

func fatal(op string, err error) error {
	return crawler.NewError(crawler.KindFatalSetup, op, "", err)
}

// Ready reports whether the worker pool has started.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Snapshot returns the live counters of the run.
func (e *Engine) Snapshot() crawler.Summary {
	s := e.stats.Snapshot()
	e.metaMu.RLock()
	s.RunID, s.StartedAt = e.runID, e.startedAt
	e.metaMu.RUnlock()
	return s
}

// Run executes the crawl. Only setup failures abort it; per-year and
// per-paper failures are counted in the returned Summary.
func (e *Engine) Run(ctx context.Context) (crawler.Summary, error) {
	records, runID, err := e.setup()
	if err != nil {
		e.closeSecondaries()
		return crawler.Summary{}, err
	}
	log := e.logger.With(zap.String("run_id", runID))
	log.Info("crawl starting",
		zap.Ints("years", e.cfg.Years),
		zap.Int("concurrency", e.cfg.Concurrency),
		zap.String("path", e.cfg.OutputRoot),
	)

	queue := memory.NewQueue(e.cfg.QueueDepth)
	workers := make([]*worker.Worker, e.cfg.Concurrency)
	runners := make([]dispatcher.Runner, e.cfg.Concurrency)
	for i := range runners {
		workers[i] = worker.New(i, queue, e.deps.Fetcher, e.deps.Extractor, e.deps.Downloader,
			records, e.deps.Publisher, e.stats,
			worker.Config{OutputRoot: e.cfg.OutputRoot, RunID: runID, Topic: e.cfg.Topic},
			e.logger.Named("worker"),
		)
		runners[i] = workers[i]
	}
	pool := dispatcher.New(queue, runners)
	pool.Start(ctx)
	e.ready.Store(true)

	// Workers stop dequeuing on cancel; whatever they left behind, plus any
	// reference the year loop could not enqueue, ends Failed as canceled.
	abandon := func(refs []crawler.PaperReference, cause error) {
		for _, ref := range refs {
			workers[0].Abandon(ctx, ref, cause)
		}
	}

	interrupted := e.crawlYears(ctx, log, pool, abandon)

	pool.Close()
	pool.Wait()
	if left := queue.Drain(); len(left) > 0 {
		log.Warn("abandoning queued papers", zap.Int("papers", len(left)))
		abandon(left, context.Cause(ctx))
	}
	interrupted = interrupted || ctx.Err() != nil

	return e.finish(ctx, log, records, interrupted)
}

func (e *Engine) setup() (*sink.Fanout, string, error) {
	runID, err := e.deps.IDs.NewID()
	if err != nil {
		return nil, "", fatal("generate run id", err)
	}
	e.metaMu.Lock()
	e.runID, e.startedAt = runID, e.deps.Clock.Now()
	e.metaMu.Unlock()

	if err := local.PrepareDir(e.cfg.OutputRoot); err != nil {
		return nil, "", fatal("prepare output root", err)
	}
	primary, err := csvsink.Open(filepath.Join(e.cfg.OutputRoot, e.cfg.CSVName))
	if err != nil {
		return nil, "", fatal("open csv sink", err)
	}
	return sink.NewFanout(primary, e.deps.Secondaries, e.logger.Named("sink")), runID, nil
}

// crawlYears discovers each year's papers and enqueues them. It reports
// whether ctx ended before every year was attempted. References of a year
// that could not be enqueued are handed to abandon.
func (e *Engine) crawlYears(ctx context.Context, log *zap.Logger, pool *dispatcher.Dispatcher, abandon func([]crawler.PaperReference, error)) bool {
	years := crawler.NewYearCrawler(e.deps.Fetcher, e.deps.Extractor, e.cfg.OutputRoot, e.logger.Named("year"))
	for _, year := range e.cfg.Years {
		if ctx.Err() != nil {
			return true
		}
		e.stats.YearAttempted(year)
		refs, err := years.Crawl(ctx, year)
		if err != nil {
			e.stats.YearFailed(year)
			log.Warn("year failed",
				zap.Int("year", year),
				zap.Stringer("kind", crawler.KindOf(err)),
				zap.Error(err),
			)
			continue
		}
		for range refs {
			e.stats.PaperDiscovered(year)
		}
		for i, ref := range refs {
			if err := pool.Enqueue(ctx, ref); err != nil {
				log.Warn("enqueue stopped",
					zap.Int("year", year),
					zap.Int("abandoned", len(refs)-i),
					zap.Error(err),
				)
				abandon(refs[i:], err)
				return true
			}
		}
		log.Info("year dispatched", zap.Int("year", year), zap.Int("papers", len(refs)))
	}
	return ctx.Err() != nil
}

func (e *Engine) finish(ctx context.Context, log *zap.Logger, records *sink.Fanout, interrupted bool) (crawler.Summary, error) {
	var errs []error
	if err := records.Close(); err != nil {
		log.Error("close sinks failed", zap.Error(err))
		errs = append(errs, err)
	}

	summary := e.Snapshot()
	summary.FinishedAt = e.deps.Clock.Now()
	summary.Interrupted = interrupted

	summaryPath := filepath.Join(e.cfg.OutputRoot, e.cfg.SummaryName)
	if err := writeSummary(summaryPath, summary); err != nil {
		log.Error("write run summary failed", zap.String("path", summaryPath), zap.Error(err))
		errs = append(errs, err)
	}

	// The mirror and run event still ship after an interrupt.
	after := context.WithoutCancel(ctx)
	var outputs []string
	if e.deps.Mirror != nil {
		uris, failed, err := storage.Mirror(after, e.deps.Mirror, e.cfg.OutputRoot, e.cfg.MirrorPrefix, summary.RunID, e.logger.Named("mirror"))
		if err != nil {
			log.Error("mirror output failed", zap.Error(err))
		}
		for _, name := range []string{e.cfg.CSVName, e.cfg.SummaryName} {
			if uri, ok := uris[name]; ok {
				outputs = append(outputs, uri)
			}
		}
		log.Info("output mirrored", zap.Int("objects", len(uris)), zap.Int("failed", failed))
	}
	if e.deps.Publisher != nil && e.cfg.Topic != "" {
		ev := crawler.RunEvent{
			Event:      crawler.EventRunCompleted,
			RunID:      summary.RunID,
			FinishedAt: summary.FinishedAt,
			Summary:    summary,
			OutputURIs: outputs,
		}
		if _, err := e.deps.Publisher.Publish(after, e.cfg.Topic, ev); err != nil {
			log.Warn("publish run completed failed", zap.Error(err))
		}
	}

	logSummary(log, summary)
	if len(errs) > 0 {
		return summary, crawler.NewError(crawler.KindFilesystem, "finish run", "", errors.Join(errs...))
	}
	return summary, nil
}

func (e *Engine) closeSecondaries() {
	for _, s := range e.deps.Secondaries {
		if err := s.Sink.Close(); err != nil {
			e.logger.Warn("close sink failed", zap.String("sink", s.Name), zap.Error(err))
		}
	}
}

func writeSummary(path string, summary crawler.Summary) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func logSummary(log *zap.Logger, s crawler.Summary) {
	log.Info("crawl finished",
		zap.Bool("interrupted", s.Interrupted),
		zap.Duration("elapsed", s.FinishedAt.Sub(s.StartedAt)),
		zap.Int64("years_attempted", s.YearsAttempted),
		zap.Int64("years_failed", s.YearsFailed),
		zap.Int64("papers_discovered", s.PapersDiscovered),
		zap.Int64("papers_recorded", s.PapersRecorded),
		zap.Int64("papers_failed", s.PapersFailed),
		zap.Int64("artifacts_downloaded", s.ArtifactsDownloaded),
		zap.Int64("artifacts_failed", s.ArtifactsFailed),
		zap.Int64("artifacts_skipped", s.ArtifactsSkipped),
		zap.Int64("record_errors", s.RecordErrors),
	)
	years := make([]int, 0, len(s.Years))
	for y := range s.Years {
		years = append(years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	for _, y := range years {
		ys := s.Years[y]
		log.Info("year summary",
			zap.Int("year", y),
			zap.Int64("discovered", ys.Discovered),
			zap.Int64("recorded", ys.Recorded),
			zap.Int64("failed", ys.Failed),
			zap.Bool("listing_failed", ys.ListingFailed),
		)
	}
}
