package scribe

import (
	"context"
	"time"
)

// Result is the outcome of a finished job.
type Result struct {
	TranscriptID   string        `json:"id"`
	Source         string        `json:"source"`
	Language       string        `json:"language"`
	Text           string        `json:"text"`
	TranscriptPath string        `json:"-"`
	Duration       time.Duration `json:"-"`
	SampleRate     int           `json:"sample_rate,omitempty"`
}

// Job is one record or upload request running in the background.
type Job struct {
	ID     string
	Source string

	done   chan struct{}
	result Result
	err    error
}

func newJob(id, source string) *Job {
	return &Job{ID: id, Source: source, done: make(chan struct{})}
}

// Done is closed once the job has finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (j *Job) Result() (Result, error) {
	select {
	case <-j.done:
		return j.result, j.err
	default:
		return Result{}, ErrPending
	}
}

// Wait blocks until the job finishes or ctx ends.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (j *Job) finish(res Result, err error) {
	j.result = res
	j.err = err
	close(j.done)
}
