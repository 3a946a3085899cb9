package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/proceedings-crawler/internal/api"
	"github.com/JakeFAU/proceedings-crawler/internal/clock/system"
	"github.com/JakeFAU/proceedings-crawler/internal/config"
	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
	"github.com/JakeFAU/proceedings-crawler/internal/download"
	collyfetcher "github.com/JakeFAU/proceedings-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/proceedings-crawler/internal/id/uuid"
	"github.com/JakeFAU/proceedings-crawler/internal/logging"
	"github.com/JakeFAU/proceedings-crawler/internal/orchestrator"
	"github.com/JakeFAU/proceedings-crawler/internal/policy/politeness"
	"github.com/JakeFAU/proceedings-crawler/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/proceedings-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/proceedings-crawler/internal/sink"
	pgsink "github.com/JakeFAU/proceedings-crawler/internal/sink/postgres"
	sqlitesink "github.com/JakeFAU/proceedings-crawler/internal/sink/sqlite"
	"github.com/JakeFAU/proceedings-crawler/internal/storage/gcs"
	"github.com/JakeFAU/proceedings-crawler/internal/storage/local"
	"github.com/JakeFAU/proceedings-crawler/internal/telemetry"
)

// errInterrupted marks a run that was stopped by a signal before finishing.
var errInterrupted = errors.New("crawl interrupted")

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the configured proceedings years",
		Long: `Fetches each year's listing page, then every paper's detail page,
writing one CSV row per paper and downloading PDFs under <output>/<year>/.
A YAML run summary is written next to the CSV when the run ends.`,
		Args: cobra.NoArgs,
		RunE: runCrawl,
	}

	f := cmd.Flags()
	f.String("output", "", "output root directory (required)")
	f.Int("first-year", 0, "first proceedings year to crawl")
	f.Int("last-year", 0, "last proceedings year to crawl")
	f.IntSlice("years", nil, "explicit years to crawl, overriding the range")
	f.Int("concurrency", 0, "number of paper workers")
	f.String("base-url", "", "proceedings site base URL")
	f.Bool("dev", false, "human-friendly development logging")
	f.String("metrics-addr", "", "serve /metrics, /healthz and /v1/progress on this address")
	return cmd
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("read --config: %w", err)
	}
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "load config failed: %v\n", err)
		return err
	}

	logger, err := logging.Build(cfg.Logging)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "logger init failed: %v\n", err)
		return err
	}
	defer func() {
		if syncErr := logging.Sync(logger); syncErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.Telemetry.ServiceVersion = version
	_, shutdownTracing, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry)
	if err != nil {
		logger.Error("tracing init failed", zap.Error(err))
		return err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	deps, closeDeps, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		logger.Error("crawler setup failed", zap.Error(err))
		return err
	}
	defer closeDeps()

	topic := ""
	if deps.Publisher != nil {
		topic = cfg.PubSub.TopicName
	}
	engine, err := orchestrator.New(orchestrator.Config{
		Years:        cfg.Crawler.YearList(),
		Concurrency:  cfg.Crawler.Concurrency,
		QueueDepth:   cfg.Crawler.QueueDepth,
		OutputRoot:   cfg.Output.Root,
		CSVName:      cfg.Output.CSVName,
		SummaryName:  cfg.Output.SummaryName,
		MirrorPrefix: cfg.Storage.Prefix,
		Topic:        topic,
	}, deps, logger.Named("engine"))
	if err != nil {
		closeSinks(deps.Secondaries, logger)
		logger.Error("crawler setup failed", zap.Error(err))
		return err
	}

	summary, err := run(ctx, cfg, engine, logger)
	if err != nil {
		logger.Error("crawl failed", zap.Stringer("kind", crawler.KindOf(err)), zap.Error(err))
		return err
	}
	if summary.Interrupted {
		logger.Warn("crawl interrupted before all years were dispatched")
		return errInterrupted
	}
	return nil
}

// run executes the engine and, when configured, the ops server alongside it.
// The server stops once the crawl finishes.
func run(ctx context.Context, cfg config.Config, engine *orchestrator.Engine, logger *zap.Logger) (crawler.Summary, error) {
	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	var summary crawler.Summary
	g.Go(func() error {
		defer stopServer()
		var err error
		summary, err = engine.Run(gctx)
		return err
	})
	if addr := cfg.Server.MetricsAddr; addr != "" {
		srv := api.NewServer(engine, logger.Named("api"))
		g.Go(func() error {
			return srv.ListenAndServe(serverCtx, addr)
		})
	}

	err := g.Wait()
	return summary, err
}

// buildDeps wires the fetch pipeline and the optional sinks, mirror and
// publisher. The returned func closes whatever the engine does not own.
func buildDeps(ctx context.Context, cfg config.Config, logger *zap.Logger) (orchestrator.Deps, func(), error) {
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close dependency failed", zap.Error(err))
			}
		}
	}
	fail := func(op string, err error) (orchestrator.Deps, func(), error) {
		closeAll()
		return orchestrator.Deps{}, func() {}, crawler.NewError(crawler.KindFatalSetup, op, "", err)
	}

	extractor, err := crawler.NewExtractor(cfg.Crawler.BaseURL, cfg.Selectors)
	if err != nil {
		return fail("build extractor", err)
	}

	delayer := politeness.New(cfg.Crawler.PolitenessMin, cfg.Crawler.PolitenessMax)
	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Crawler.RateLimitRPS, Burst: cfg.Crawler.RateLimitBurst})
	retry := crawler.NewRetryPolicy(cfg.HTTP.MaxRetries, cfg.HTTP.BackoffInitial(), cfg.HTTP.BackoffMax())

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.HTTP.Timeout(),
		MaxBodySize:   cfg.HTTP.MaxPageBytes,
	},
		collyfetcher.WithDelayer(delayer),
		collyfetcher.WithLimiter(limiter),
		collyfetcher.WithRetryPolicy(retry),
		collyfetcher.WithLogger(logger.Named("fetcher")),
	)
	downloader := download.New(download.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.HTTP.DownloadTimeout(),
	},
		download.WithDelayer(delayer),
		download.WithLimiter(limiter),
		download.WithRetryPolicy(retry),
		download.WithLogger(logger.Named("download")),
	)

	deps := orchestrator.Deps{
		Fetcher:    fetcher,
		Downloader: downloader,
		Extractor:  extractor,
		Clock:      system.New(),
		IDs:        uuid.New(),
	}

	// Secondary sinks are closed by the engine once it starts; until then
	// they are closed here on failure.
	var secondaries []sink.Named
	closeSecondaries := func() { closeSinks(secondaries, logger) }
	if path := cfg.SQLite.Path; path != "" {
		s, err := sqlitesink.Open(path)
		if err != nil {
			return fail("open sqlite sink", err)
		}
		secondaries = append(secondaries, sink.Named{Name: "sqlite", Sink: s})
		logger.Info("sqlite sink enabled", zap.String("path", path))
	}
	if cfg.DB.DSN != "" {
		s, err := pgsink.New(ctx, pgsink.Config{DSN: cfg.DB.DSN, Table: cfg.DB.Table, MaxConns: cfg.DB.MaxConns})
		if err != nil {
			closeSecondaries()
			return fail("open postgres sink", err)
		}
		secondaries = append(secondaries, sink.Named{Name: "postgres", Sink: s})
		logger.Info("postgres sink enabled", zap.String("table", cfg.DB.Table))
	}
	deps.Secondaries = secondaries

	switch {
	case cfg.Storage.GCSBucket != "":
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			closeSecondaries()
			return fail("dial gcs", err)
		}
		closers = append(closers, store.Close)
		deps.Mirror = store
		logger.Info("gcs mirror enabled", zap.String("bucket", cfg.Storage.GCSBucket))
	case cfg.Storage.MirrorDir != "":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.MirrorDir})
		if err != nil {
			closeSecondaries()
			return fail("open mirror dir", err)
		}
		deps.Mirror = store
		logger.Info("local mirror enabled", zap.String("path", cfg.Storage.MirrorDir))
	}

	if cfg.PubSub.Enabled() {
		pub, err := pubsubpublisher.Dial(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			closeSecondaries()
			return fail("dial pubsub", err)
		}
		closers = append(closers, pub.Close)
		deps.Publisher = pub
		logger.Info("pubsub publishing enabled", zap.String("topic", cfg.PubSub.TopicName))
	}

	return deps, closeAll, nil
}

// closeSinks closes secondaries the engine never took ownership of.
func closeSinks(sinks []sink.Named, logger *zap.Logger) {
	for _, s := range sinks {
		if err := s.Sink.Close(); err != nil {
			logger.Warn("close sink failed", zap.String("sink", s.Name), zap.Error(err))
		}
	}
}
