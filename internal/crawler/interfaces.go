package crawler

import (
	"context"
	"io"
	"time"
)

// Element is a single node matched by a selector.
type Element interface {
	Text() string
	Attr(name string) (string, bool)
}

// Document is a parsed HTML page that can be queried by CSS selector.
type Document interface {
	Select(selector string) []Element
	SelectFirst(selector string) (Element, bool)
}

// Fetcher retrieves and parses an HTML page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

// Downloader streams a binary artifact into destDir under a name derived from title.
type Downloader interface {
	Download(ctx context.Context, url, destDir, title string) (Artifact, error)
}

// RecordSink persists paper records. Append must be safe for concurrent use.
type RecordSink interface {
	Append(ctx context.Context, record PaperRecord) error
	Close() error
}

// Queue carries references from year discovery to workers.
type Queue interface {
	Enqueue(ctx context.Context, ref PaperReference) error
	Dequeue(ctx context.Context) (PaperReference, error)
	Close()
}

// Publisher emits notifications about paper and run outcomes.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore mirrors run output to object storage.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Delayer blocks for a politeness interval before a request.
type Delayer interface {
	Wait(ctx context.Context) error
}

// Limiter enforces a request rate per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
