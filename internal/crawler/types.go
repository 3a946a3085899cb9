package crawler

import (
	"time"
)

// PaperReference identifies one paper discovered on a year listing page.
type PaperReference struct {
	Year      int
	Title     string
	DetailURL string
}

// PaperRecord is the persisted result of one completed paper pipeline.
type PaperRecord struct {
	Year      int
	Title     string
	Authors   []string
	DetailURL string
	// PDFURL is empty when the detail page carries no PDF link.
	PDFURL   string
	Artifact *Artifact
	RunID    string
}

// HasPDF reports whether a PDF link was found for the record.
func (r PaperRecord) HasPDF() bool {
	return r.PDFURL != ""
}

// Artifact describes a PDF written to the local filesystem.
type Artifact struct {
	Path   string `json:"path" yaml:"path"`
	Bytes  int64  `json:"bytes" yaml:"bytes"`
	SHA256 string `json:"sha256" yaml:"sha256"`
}

// State is a step of the per-paper pipeline.
type State string

// Paper pipeline states.
const (
	StateDispatched          State = "dispatched"
	StateFetching            State = "fetching"
	StateExtracting          State = "extracting"
	StateDownloadingArtifact State = "downloading_artifact"
	StateSkipped             State = "skipped"
	StateRecording           State = "recording"
	StateDone                State = "done"
	StateFailed              State = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Outcome is what a worker reports after processing one reference.
type Outcome struct {
	Reference PaperReference
	State     State
	Record    *PaperRecord
	Err       error
}

// Summary is the end-of-run report.
type Summary struct {
	RunID               string              `json:"run_id" yaml:"run_id"`
	StartedAt           time.Time           `json:"started_at" yaml:"started_at"`
	FinishedAt          time.Time           `json:"finished_at" yaml:"finished_at"`
	Interrupted         bool                `json:"interrupted" yaml:"interrupted"`
	YearsAttempted      int64               `json:"years_attempted" yaml:"years_attempted"`
	YearsFailed         int64               `json:"years_failed" yaml:"years_failed"`
	PapersDiscovered    int64               `json:"papers_discovered" yaml:"papers_discovered"`
	PapersRecorded      int64               `json:"papers_recorded" yaml:"papers_recorded"`
	PapersFailed        int64               `json:"papers_failed" yaml:"papers_failed"`
	ArtifactsDownloaded int64               `json:"artifacts_downloaded" yaml:"artifacts_downloaded"`
	ArtifactsFailed     int64               `json:"artifacts_failed" yaml:"artifacts_failed"`
	ArtifactsSkipped    int64               `json:"artifacts_skipped" yaml:"artifacts_skipped"`
	ArtifactBytes       int64               `json:"artifact_bytes" yaml:"artifact_bytes"`
	RecordErrors        int64               `json:"record_errors" yaml:"record_errors"`
	Years               map[int]YearSummary `json:"years" yaml:"years"`
}

// YearSummary is the per-year slice of a Summary.
type YearSummary struct {
	Discovered int64 `json:"discovered" yaml:"discovered"`
	Recorded   int64 `json:"recorded" yaml:"recorded"`
	Failed     int64 `json:"failed" yaml:"failed"`
	// ListingFailed is set when the listing page could not be fetched.
	ListingFailed bool `json:"listing_failed,omitempty" yaml:"listing_failed,omitempty"`
}
