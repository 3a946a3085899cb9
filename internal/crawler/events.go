package crawler

import "time"

// Event names carried in published payloads.
const (
	EventPaperRecorded = "paper.recorded"
	EventPaperFailed   = "paper.failed"
	EventRunCompleted  = "run.completed"
)

// PaperEvent is published when a paper reaches a terminal state.
type PaperEvent struct {
	Event     string    `json:"event"`
	RunID     string    `json:"run_id"`
	Year      int       `json:"year"`
	Title     string    `json:"title"`
	DetailURL string    `json:"detail_url"`
	PDFURL    string    `json:"pdf_url,omitempty"`
	Authors   []string  `json:"authors,omitempty"`
	Artifact  *Artifact `json:"artifact,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// RunEvent is published once a run has finished.
type RunEvent struct {
	Event      string    `json:"event"`
	RunID      string    `json:"run_id"`
	FinishedAt time.Time `json:"finished_at"`
	Summary    Summary   `json:"summary"`
	OutputURIs []string  `json:"output_uris,omitempty"`
}

// EventName returns the event carried by e.
func (e PaperEvent) EventName() string { return e.Event }

// EventName returns the event carried by e.
func (e RunEvent) EventName() string { return e.Event }
