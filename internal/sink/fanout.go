// Package sink combines record sinks.
package sink

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
	"github.com/JakeFAU/proceedings-crawler/internal/metrics"
)

// Named labels a secondary sink for logs and metrics.
type Named struct {
	Name string
	Sink crawler.RecordSink
}

// Fanout writes every record to a primary sink and then to best-effort
// secondaries. Only primary failures reach the caller.
type Fanout struct {
	primary     crawler.RecordSink
	secondaries []Named
	logger      *zap.Logger
}

// NewFanout builds a Fanout. logger may be nil.
func NewFanout(primary crawler.RecordSink, secondaries []Named, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{primary: primary, secondaries: secondaries, logger: logger}
}

// Append implements crawler.RecordSink.
func (f *Fanout) Append(ctx context.Context, rec crawler.PaperRecord) error {
	if err := f.primary.Append(ctx, rec); err != nil {
		metrics.ObserveSinkError("primary")
		return err
	}
	for _, s := range f.secondaries {
		if err := s.Sink.Append(ctx, rec); err != nil {
			metrics.ObserveSinkError(s.Name)
			f.logger.Warn("secondary sink append failed",
				zap.String("sink", s.Name),
				zap.Int("year", rec.Year),
				zap.String("title", rec.Title),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (f *Fanout) Close() error {
	var errs []error
	if err := f.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close primary sink: %w", err))
	}
	for _, s := range f.secondaries {
		if err := s.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
