// Package csvsink writes paper records as CSV rows.
package csvsink

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
)

// Header is the first row of every file.
var Header = []string{"Year", "Title", "Authors", "Paper URL", "PDF URL"}

// MissingPDF is written in place of an absent PDF URL.
const MissingPDF = "N/A"

// Sink serializes records onto a single writer. Each row reaches the writer
// in one Write call under the mutex, so concurrent appends never interleave.
type Sink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	buf    bytes.Buffer
	closed bool
}

// Open truncates path and writes the header.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, crawler.NewError(crawler.KindFilesystem, "open csv", path, err)
	}
	s, err := New(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

// New writes the header to w and returns a Sink over it. If w is an
// io.Closer it is not closed by the Sink; use Open for file ownership.
func New(w io.Writer) (*Sink, error) {
	s := &Sink{w: w}
	if err := s.writeRow(Header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return s, nil
}

// Append writes one record.
func (s *Sink) Append(_ context.Context, rec crawler.PaperRecord) error {
	pdf := rec.PDFURL
	if pdf == "" {
		pdf = MissingPDF
	}
	row := []string{
		strconv.Itoa(rec.Year),
		rec.Title,
		crawler.JoinAuthors(rec.Authors),
		rec.DetailURL,
		pdf,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return crawler.NewError(crawler.KindFilesystem, "append csv", rec.DetailURL, os.ErrClosed)
	}
	if err := s.writeRow(row); err != nil {
		return crawler.NewError(crawler.KindFilesystem, "append csv", rec.DetailURL, err)
	}
	return nil
}

// writeRow encodes row and hands it to the writer in one call. Callers hold
// mu, except New which has not published the Sink yet.
func (s *Sink) writeRow(row []string) error {
	s.buf.Reset()
	cw := csv.NewWriter(&s.buf)
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	if _, err := s.w.Write(s.buf.Bytes()); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	return nil
}

// Close releases the underlying file when the Sink owns one. It is safe to
// call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer == nil {
		return nil
	}
	if f, ok := s.closer.(*os.File); ok {
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return crawler.NewError(crawler.KindFilesystem, "sync csv", f.Name(), err)
		}
	}
	if err := s.closer.Close(); err != nil {
		return crawler.NewError(crawler.KindFilesystem, "close csv", "", err)
	}
	return nil
}
