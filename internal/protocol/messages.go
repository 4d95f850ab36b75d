package protocol

import "time"

// CaptureStatus reports a state transition of a capture session.
type CaptureStatus struct {
	JobID      string    `json:"job_id"`
	State      string    `json:"state"`
	SampleRate int       `json:"sample_rate,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"` // set when State is "failed"
	Timestamp  time.Time `json:"timestamp"`
}

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	JobID     string    `json:"job_id"`
	Source    string    `json:"source"`
	Language  string    `json:"language"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectCaptureStatus   = "scribe.capture.status"
	SubjectTranscriptFinal = "stt.text.final"
)
