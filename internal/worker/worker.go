// Package worker runs the per-paper pipeline: fetch the detail page, extract
// authors and the PDF link, download the artifact and record the row.
package worker

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
	"github.com/JakeFAU/proceedings-crawler/internal/metrics"
)

var tracer = otel.Tracer("github.com/JakeFAU/proceedings-crawler/internal/worker")

// Config controls Worker behavior.
type Config struct {
	OutputRoot string
	RunID      string
	// Topic receives paper outcome events. Empty disables publishing.
	Topic string
}

// Worker consumes paper references and drives each one to a terminal state.
type Worker struct {
	id         int
	queue      crawler.Queue
	fetcher    crawler.Fetcher
	extractor  *crawler.Extractor
	downloader crawler.Downloader
	sink       crawler.RecordSink
	publisher  crawler.Publisher
	stats      *crawler.Stats
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker. publisher may be nil.
func New(
	id int,
	queue crawler.Queue,
	fetcher crawler.Fetcher,
	extractor *crawler.Extractor,
	downloader crawler.Downloader,
	sink crawler.RecordSink,
	publisher crawler.Publisher,
	stats *crawler.Stats,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = crawler.NewStats()
	}
	return &Worker{
		id:         id,
		queue:      queue,
		fetcher:    fetcher,
		extractor:  extractor,
		downloader: downloader,
		sink:       sink,
		publisher:  publisher,
		stats:      stats,
		cfg:        cfg,
		logger:     logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming references until the queue is closed and drained or
// the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		ref, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrQueueClosed) || ctx.Err() != nil {
				w.logger.Debug("worker stopping", zap.Error(err))
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.Process(ctx, ref)
	}
}

// Process runs one reference through the pipeline. Only a detail-page fetch
// failure yields StateFailed; every other path ends in StateDone.
func (w *Worker) Process(ctx context.Context, ref crawler.PaperReference) crawler.Outcome {
	metrics.WorkerStarted()
	defer metrics.WorkerFinished()

	ctx, span := tracer.Start(ctx, "paper.process", trace.WithAttributes(
		attribute.Int("paper.year", ref.Year),
		attribute.String("paper.detail_url", ref.DetailURL),
	))
	defer span.End()

	log := w.logger.With(zap.Int("year", ref.Year), zap.String("title", ref.Title))
	w.transition(log, crawler.StateDispatched)

	w.transition(log, crawler.StateFetching)
	doc, err := w.fetcher.Fetch(ctx, ref.DetailURL)
	if err != nil {
		return w.fail(ctx, log, ref, err, "detail fetch failed")
	}

	w.transition(log, crawler.StateExtracting)
	rec := crawler.PaperRecord{
		Year:      ref.Year,
		Title:     ref.Title,
		Authors:   w.extractor.ExtractAuthors(doc),
		DetailURL: ref.DetailURL,
		PDFURL:    w.extractor.ExtractPDFURL(doc),
		RunID:     w.cfg.RunID,
	}
	if len(rec.Authors) == 0 {
		log.Warn("no authors found", zap.String("url", ref.DetailURL), zap.Stringer("kind", crawler.KindParseAnomaly))
	}

	if rec.HasPDF() {
		w.transition(log, crawler.StateDownloadingArtifact)
		w.download(ctx, log, &rec)
	} else {
		w.transition(log, crawler.StateSkipped)
		log.Info("no pdf link", zap.String("url", ref.DetailURL))
		w.stats.ArtifactSkipped()
		metrics.ObserveArtifact("skipped", 0)
	}

	w.transition(log, crawler.StateRecording)
	if err := w.sink.Append(ctx, rec); err != nil {
		w.stats.RecordError()
		log.Error("record append failed",
			zap.String("url", ref.DetailURL),
			zap.Stringer("kind", crawler.KindOf(err)),
			zap.Error(err),
		)
	} else {
		w.stats.PaperRecorded(ref.Year)
	}

	w.transition(log, crawler.StateDone)
	metrics.ObservePaper(ref.Year, string(crawler.StateDone))
	w.publish(ctx, log, crawler.PaperEvent{
		Event:     crawler.EventPaperRecorded,
		RunID:     w.cfg.RunID,
		Year:      rec.Year,
		Title:     rec.Title,
		DetailURL: rec.DetailURL,
		PDFURL:    rec.PDFURL,
		Authors:   rec.Authors,
		Artifact:  rec.Artifact,
	})
	return crawler.Outcome{Reference: ref, State: crawler.StateDone, Record: &rec}
}

func (w *Worker) download(ctx context.Context, log *zap.Logger, rec *crawler.PaperRecord) {
	dir := crawler.YearDir(w.cfg.OutputRoot, rec.Year)
	art, err := w.downloader.Download(ctx, rec.PDFURL, dir, rec.Title)
	if err != nil {
		w.stats.ArtifactFailed()
		metrics.ObserveArtifact("failed", 0)
		trace.SpanFromContext(ctx).RecordError(err)
		log.Warn("pdf download failed",
			zap.String("url", rec.PDFURL),
			zap.Stringer("kind", crawler.KindOf(err)),
			zap.Error(err),
		)
		return
	}
	rec.Artifact = &art
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("artifact.bytes", art.Bytes))
	w.stats.ArtifactDownloaded(art.Bytes)
	metrics.ObserveArtifact("downloaded", art.Bytes)
	log.Debug("pdf saved", zap.String("path", art.Path), zap.Int64("bytes", art.Bytes))
}

// Abandon drives a reference that was never processed to StateFailed with
// KindCanceled. cause is usually the run context's error.
func (w *Worker) Abandon(ctx context.Context, ref crawler.PaperReference, cause error) crawler.Outcome {
	log := w.logger.With(zap.Int("year", ref.Year), zap.String("title", ref.Title))
	err := crawler.NewError(crawler.KindCanceled, "dispatch", ref.DetailURL, cause)
	return w.fail(ctx, log, ref, err, "paper abandoned")
}

func (w *Worker) fail(ctx context.Context, log *zap.Logger, ref crawler.PaperReference, err error, msg string) crawler.Outcome {
	kind := crawler.KindOf(err)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind.String())
	w.transition(log, crawler.StateFailed)
	log.Warn(msg,
		zap.String("url", ref.DetailURL),
		zap.Stringer("kind", kind),
		zap.Error(err),
	)
	w.stats.PaperFailed(ref.Year)
	metrics.ObservePaper(ref.Year, string(crawler.StateFailed))
	w.publish(ctx, log, crawler.PaperEvent{
		Event:     crawler.EventPaperFailed,
		RunID:     w.cfg.RunID,
		Year:      ref.Year,
		Title:     ref.Title,
		DetailURL: ref.DetailURL,
		Kind:      kind.String(),
		Error:     err.Error(),
	})
	return crawler.Outcome{Reference: ref, State: crawler.StateFailed, Err: err}
}

func (w *Worker) transition(log *zap.Logger, s crawler.State) {
	log.Debug("paper state", zap.String("state", string(s)))
}

func (w *Worker) publish(ctx context.Context, log *zap.Logger, ev crawler.PaperEvent) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	// Publishing outlives run cancellation.
	id, err := w.publisher.Publish(context.WithoutCancel(ctx), w.cfg.Topic, ev)
	if err != nil {
		log.Warn("publish outcome failed", zap.String("event", ev.Event), zap.Error(err))
		return
	}
	log.Debug("outcome published", zap.String("event", ev.Event), zap.String("message_id", id))
}
