package crawler

import (
	"sync"
	"sync/atomic"
)

// Stats accumulates run counters. It is safe for concurrent use.
type Stats struct {
	yearsAttempted      atomic.Int64
	yearsFailed         atomic.Int64
	papersDiscovered    atomic.Int64
	papersRecorded      atomic.Int64
	papersFailed        atomic.Int64
	artifactsDownloaded atomic.Int64
	artifactsFailed     atomic.Int64
	artifactsSkipped    atomic.Int64
	artifactBytes       atomic.Int64
	recordErrors        atomic.Int64

	mu    sync.Mutex
	years map[int]*YearSummary
}

// NewStats returns zeroed Stats.
func NewStats() *Stats {
	return &Stats{years: make(map[int]*YearSummary)}
}

func (s *Stats) year(y int, fn func(*YearSummary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ys, ok := s.years[y]
	if !ok {
		ys = &YearSummary{}
		s.years[y] = ys
	}
	fn(ys)
}

// YearAttempted counts a year whose listing crawl started.
func (s *Stats) YearAttempted(year int) {
	s.yearsAttempted.Add(1)
	s.year(year, func(*YearSummary) {})
}

// YearFailed counts a year whose listing could not be crawled.
func (s *Stats) YearFailed(year int) {
	s.yearsFailed.Add(1)
	s.year(year, func(ys *YearSummary) { ys.ListingFailed = true })
}

// PaperDiscovered counts a reference handed to the worker pool.
func (s *Stats) PaperDiscovered(year int) {
	s.papersDiscovered.Add(1)
	s.year(year, func(ys *YearSummary) { ys.Discovered++ })
}

// PaperRecorded counts a record accepted by the sink.
func (s *Stats) PaperRecorded(year int) {
	s.papersRecorded.Add(1)
	s.year(year, func(ys *YearSummary) { ys.Recorded++ })
}

// PaperFailed counts a worker that ended in StateFailed.
func (s *Stats) PaperFailed(year int) {
	s.papersFailed.Add(1)
	s.year(year, func(ys *YearSummary) { ys.Failed++ })
}

// ArtifactDownloaded counts a completed PDF download of n bytes.
func (s *Stats) ArtifactDownloaded(n int64) {
	s.artifactsDownloaded.Add(1)
	s.artifactBytes.Add(n)
}

// ArtifactFailed counts a PDF download that did not complete.
func (s *Stats) ArtifactFailed() { s.artifactsFailed.Add(1) }

// ArtifactSkipped counts a detail page with no PDF link.
func (s *Stats) ArtifactSkipped() { s.artifactsSkipped.Add(1) }

// RecordError counts a record the sink rejected.
func (s *Stats) RecordError() { s.recordErrors.Add(1) }

// Snapshot returns a point-in-time copy of the counters.
func (s *Stats) Snapshot() Summary {
	out := Summary{
		YearsAttempted:      s.yearsAttempted.Load(),
		YearsFailed:         s.yearsFailed.Load(),
		PapersDiscovered:    s.papersDiscovered.Load(),
		PapersRecorded:      s.papersRecorded.Load(),
		PapersFailed:        s.papersFailed.Load(),
		ArtifactsDownloaded: s.artifactsDownloaded.Load(),
		ArtifactsFailed:     s.artifactsFailed.Load(),
		ArtifactsSkipped:    s.artifactsSkipped.Load(),
		ArtifactBytes:       s.artifactBytes.Load(),
		RecordErrors:        s.recordErrors.Load(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out.Years = make(map[int]YearSummary, len(s.years))
	for y, ys := range s.years {
		out.Years[y] = *ys
	}
	return out
}
