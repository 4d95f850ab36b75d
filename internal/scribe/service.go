// Package scribe runs record and upload jobs: capture to a WAV artifact,
// hand it to the recognizer, keep the transcript, drop the audio.
package scribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-scribe/internal/capture"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/wavfile"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrBusy              = errors.New("a capture is already in progress")
	ErrInvalidDuration   = errors.New("invalid recording duration")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrTooLarge          = errors.New("upload exceeds size limit")
	ErrEmptyUpload       = errors.New("upload is empty")
	ErrClosed            = errors.New("scribe service closed")
	ErrPending           = errors.New("job still running")
)

const (
	SourceRecord = "record"
	SourceUpload = "upload"
)

// uploadExtensions are the audio names accepted for upload. Non-WAV files
// are handed to the recognizer untouched.
var uploadExtensions = map[string]bool{".wav": true, ".mp3": true, ".m4a": true}

// Publisher broadcasts job progress. *bus.Client satisfies it.
type Publisher interface {
	Publish(subject string, v any) error
}

type Service struct {
	cfg        config.Config
	device     capture.Device
	recognizer stt.Recognizer
	store      *eventstore.Store
	pub        Publisher
	inst       *instruments
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	slot   chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewService(parent context.Context, cfg config.Config, device capture.Device, recognizer stt.Recognizer, store *eventstore.Store, pub Publisher, log *slog.Logger) (*Service, error) {
	if device == nil || recognizer == nil || store == nil {
		return nil, errors.New("scribe: device, recognizer and store are required")
	}
	for _, dir := range []string{cfg.Capture.WorkDir, cfg.Transcripts.Dir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	inst, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		device:     device,
		recognizer: recognizer,
		store:      store,
		pub:        pub,
		inst:       inst,
		logger:     log.With(slog.String("component", "scribe")),
		ctx:        ctx,
		cancel:     cancel,
		slot:       make(chan struct{}, 1),
	}, nil
}

// Close cancels in-flight jobs and waits for their workers.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// Busy reports whether a capture currently holds the device.
func (s *Service) Busy() bool { return len(s.slot) > 0 }

// Record starts a capture of the given length. Only one capture may run
// at a time; a second call fails with ErrBusy. Cancelling ctx aborts the
// job.
func (s *Service) Record(ctx context.Context, duration time.Duration) (*Job, error) {
	lo := time.Duration(s.cfg.Capture.MinSeconds) * time.Second
	hi := time.Duration(s.cfg.Capture.MaxSeconds) * time.Second
	if duration < lo || duration > hi {
		return nil, fmt.Errorf("%w: %s not within [%s, %s]", ErrInvalidDuration, duration, lo, hi)
	}

	select {
	case s.slot <- struct{}{}:
	default:
		return nil, ErrBusy
	}

	job := newJob(uuid.NewString(), SourceRecord)
	jobCtx, release, err := s.begin(ctx)
	if err != nil {
		<-s.slot
		return nil, err
	}
	s.saveTranscript(jobCtx, eventstore.Transcript{ID: job.ID, Source: job.Source, SampleRate: s.cfg.Capture.SampleRate})

	go func() {
		defer release()
		s.finish(jobCtx, job, s.runRecord(jobCtx, job, duration))
	}()
	return job, nil
}

// Upload spools r to a scoped temp file and transcribes it in the
// background. The spool happens before Upload returns, so r may be a
// request body.
func (s *Service) Upload(ctx context.Context, name string, r io.Reader) (*Job, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !uploadExtensions[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Base(name))
	}

	job := newJob(uuid.NewString(), SourceUpload)
	path, err := s.spool(job.ID, ext, r)
	if err != nil {
		return nil, err
	}

	jobCtx, release, err := s.begin(ctx)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	s.saveTranscript(jobCtx, eventstore.Transcript{ID: job.ID, Source: job.Source})
	s.appendEvent(jobCtx, job.ID, "upload.received", map[string]any{"name": filepath.Base(name)})

	go func() {
		defer release()
		s.finish(jobCtx, job, s.runUpload(jobCtx, job, path))
	}()
	return job, nil
}

// begin registers a worker and returns its context, which ends when
// either the service or the caller's ctx does.
func (s *Service) begin(ctx context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrClosed
	}
	s.wg.Add(1)
	jobCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return jobCtx, func() {
		stop()
		cancel()
		s.wg.Done()
	}, nil
}

func (s *Service) spool(id, ext string, r io.Reader) (path string, err error) {
	f, err := os.CreateTemp(s.cfg.Capture.WorkDir, "upload-"+id+"-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close upload file: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	limit := int64(s.cfg.Transcripts.MaxUploadMB) << 20
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if err != nil {
		return "", fmt.Errorf("spool upload: %w", err)
	}
	if n > limit {
		return "", fmt.Errorf("%w: more than %d MB", ErrTooLarge, s.cfg.Transcripts.MaxUploadMB)
	}
	if n == 0 {
		return "", ErrEmptyUpload
	}
	return f.Name(), nil
}

// runRecord captures into the work directory and transcribes the result.
// The artifact is gone by the time it returns.
func (s *Service) runRecord(ctx context.Context, job *Job, duration time.Duration) stageResult {
	path := filepath.Join(s.cfg.Capture.WorkDir, job.ID+".wav")
	defer removeArtifact(path)

	ctx, span := s.inst.tracer.Start(ctx, "scribe.capture", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.Int64("capture.duration_ms", duration.Milliseconds()),
		attribute.Int("capture.sample_rate", s.cfg.Capture.SampleRate),
	))
	pipeline := capture.New(s.device,
		capture.WithSampleRate(s.cfg.Capture.SampleRate),
		capture.WithObserver(s.observer(job.ID, duration)),
	)
	s.appendEvent(ctx, job.ID, "capture.started", map[string]any{"duration_ms": duration.Milliseconds()})

	start := time.Now()
	err := pipeline.Capture(ctx, path, duration)
	<-s.slot
	s.inst.captureSeconds.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		s.appendEvent(ctx, job.ID, "capture.failed", map[string]any{"error": err.Error()})
		return stageResult{res: Result{TranscriptID: job.ID, Source: job.Source}, err: fmt.Errorf("capture: %w", err)}
	}
	span.End()

	res := Result{TranscriptID: job.ID, Source: job.Source, Duration: duration, SampleRate: s.cfg.Capture.SampleRate}
	if info, err := wavfile.Inspect(path); err == nil {
		res.Duration = info.Duration()
	}
	s.appendEvent(ctx, job.ID, "capture.completed", map[string]any{"duration_ms": res.Duration.Milliseconds()})
	return s.transcribe(ctx, path, res)
}

func (s *Service) runUpload(ctx context.Context, job *Job, path string) stageResult {
	defer removeArtifact(path)

	res := Result{TranscriptID: job.ID, Source: job.Source}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		if info, err := wavfile.Inspect(path); err == nil {
			res.Duration = info.Duration()
			res.SampleRate = info.SampleRate
		}
	}
	return s.transcribe(ctx, path, res)
}

func (s *Service) observer(jobID string, duration time.Duration) func(capture.State, error) {
	return func(st capture.State, cause error) {
		s.logger.Debug("capture state", slog.String("job_id", jobID), slog.String("state", string(st)))
		status := protocol.CaptureStatus{
			JobID:      jobID,
			State:      string(st),
			SampleRate: s.cfg.Capture.SampleRate,
			DurationMS: duration.Milliseconds(),
			Timestamp:  time.Now().UTC(),
		}
		if cause != nil {
			status.Error = cause.Error()
		}
		if err := s.publish(protocol.SubjectCaptureStatus, status); err != nil {
			s.logger.Warn("failed to publish capture status", slogError(err))
		}
	}
}

type stageResult struct {
	res Result
	err error
}

func (s *Service) transcribe(ctx context.Context, path string, res Result) stageResult {
	ctx, span := s.inst.tracer.Start(ctx, "scribe.transcribe", trace.WithAttributes(
		attribute.String("job.id", res.TranscriptID),
		attribute.String("job.source", res.Source),
	))
	defer span.End()

	timeout := time.Duration(s.cfg.STT.TimeoutSeconds) * time.Second
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := s.recognizer.Transcribe(tctx, path)
	s.inst.transcribeSeconds.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("source", res.Source)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.appendEvent(ctx, res.TranscriptID, "transcribe.failed", map[string]any{"error": err.Error()})
		return stageResult{res: res, err: fmt.Errorf("transcribe: %w", err)}
	}
	res.Language = out.Language
	res.Text = out.Text
	span.SetAttributes(attribute.String("stt.language", out.Language))

	res.TranscriptPath = filepath.Join(s.cfg.Transcripts.Dir, res.TranscriptID+".txt")
	if err := os.WriteFile(res.TranscriptPath, []byte(res.Text), 0o644); err != nil {
		span.RecordError(err)
		return stageResult{res: res, err: fmt.Errorf("save transcript: %w", err)}
	}
	s.appendEvent(ctx, res.TranscriptID, "transcribe.completed", map[string]any{"language": res.Language})
	return stageResult{res: res}
}

// finish records the outcome and completes the job. History writes use a
// detached context so a cancelled job is still marked failed.
func (s *Service) finish(ctx context.Context, job *Job, sr stageResult) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	outcome := "completed"
	row := eventstore.Transcript{
		ID:         job.ID,
		Source:     job.Source,
		Status:     eventstore.StatusCompleted,
		Language:   sr.res.Language,
		Text:       sr.res.Text,
		DurationMS: sr.res.Duration.Milliseconds(),
		SampleRate: sr.res.SampleRate,
	}
	if sr.err != nil {
		outcome = "failed"
		row.Status = eventstore.StatusFailed
		row.Error = sr.err.Error()
		s.logger.Warn("job failed", slog.String("job_id", job.ID), slog.String("source", job.Source), slogError(sr.err))
	} else {
		s.logger.Info("job completed",
			slog.String("job_id", job.ID),
			slog.String("source", job.Source),
			slog.String("language", sr.res.Language),
			slog.Int("chars", len(sr.res.Text)))
		msg := protocol.Transcript{
			JobID:     job.ID,
			Source:    job.Source,
			Language:  sr.res.Language,
			Text:      sr.res.Text,
			Timestamp: time.Now().UTC(),
		}
		if err := s.publish(protocol.SubjectTranscriptFinal, msg); err != nil {
			s.logger.Warn("failed to publish transcript", slogError(err))
		}
	}
	s.saveTranscript(storeCtx, row)
	if err := s.store.Prune(storeCtx); err != nil {
		s.logger.Warn("transcript prune failed", slogError(err))
	}
	s.inst.jobs.Add(storeCtx, 1, metric.WithAttributes(
		attribute.String("source", job.Source),
		attribute.String("outcome", outcome),
	))
	job.finish(sr.res, sr.err)
}

// Transcript returns the stored transcript with the given id.
func (s *Service) Transcript(ctx context.Context, id string) (eventstore.Transcript, error) {
	return s.store.GetTranscript(ctx, id)
}

// Transcripts lists stored transcripts, newest first.
func (s *Service) Transcripts(ctx context.Context, limit int) ([]eventstore.Transcript, error) {
	return s.store.ListTranscripts(ctx, limit)
}

// Events returns up to limit timeline entries of a transcript, oldest
// first.
func (s *Service) Events(ctx context.Context, id string, limit int) ([]eventstore.Event, error) {
	if _, err := s.store.GetTranscript(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id, limit)
}

// TranscriptFile opens the saved text of a finished job.
func (s *Service) TranscriptFile(id string) (*os.File, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, eventstore.ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.cfg.Transcripts.Dir, id+".txt"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, eventstore.ErrNotFound
	}
	return f, err
}

func (s *Service) publish(subject string, v any) error {
	if s.pub == nil {
		return nil
	}
	return s.pub.Publish(subject, v)
}

func (s *Service) saveTranscript(ctx context.Context, t eventstore.Transcript) {
	if err := s.store.SaveTranscript(ctx, t); err != nil {
		s.logger.Warn("failed to save transcript", slog.String("job_id", t.ID), slogError(err))
	}
}

func (s *Service) appendEvent(ctx context.Context, jobID, typ string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event", slogError(err))
		return
	}
	evt := eventstore.Event{TranscriptID: jobID, Type: typ, Payload: data}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		evt.TraceID = sc.TraceID().String()
	}
	if err := s.store.AppendEvent(context.WithoutCancel(ctx), evt); err != nil {
		s.logger.Warn("failed to append event", slog.String("type", typ), slogError(err))
	}
}

func removeArtifact(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove audio artifact", slog.String("path", path), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
