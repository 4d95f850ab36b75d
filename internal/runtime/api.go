package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/capture"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/scribe"
)

// api exposes the scribe service over HTTP.
type api struct {
	cfg    config.Config
	svc    *scribe.Service
	logger *slog.Logger
}

func newAPI(cfg config.Config, svc *scribe.Service, logger *slog.Logger) *api {
	return &api{cfg: cfg, svc: svc, logger: logger.With(slog.String("component", "http-api"))}
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/recordings", a.handleRecord)
	mux.HandleFunc("POST /v1/transcriptions", a.handleUpload)
	mux.HandleFunc("GET /v1/transcripts", a.handleList)
	mux.HandleFunc("GET /v1/transcripts/{id}", a.handleGet)
	mux.HandleFunc("GET /v1/transcripts/{id}/download", a.handleDownload)
	mux.HandleFunc("GET /v1/transcripts/{id}/events", a.handleEvents)
}

type recordRequest struct {
	DurationSeconds float64 `json:"duration_seconds"`
}

type transcriptView struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	Language   string    `json:"language,omitempty"`
	Text       string    `json:"text"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

type eventView struct {
	Type      string          `json:"type"`
	TraceID   string          `json:"trace_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func viewOfResult(res scribe.Result) transcriptView {
	return transcriptView{
		ID:         res.TranscriptID,
		Source:     res.Source,
		Status:     eventstore.StatusCompleted,
		Language:   res.Language,
		Text:       res.Text,
		DurationMS: res.Duration.Milliseconds(),
		SampleRate: res.SampleRate,
	}
}

func viewOfTranscript(t eventstore.Transcript) transcriptView {
	return transcriptView{
		ID:         t.ID,
		Source:     t.Source,
		Status:     t.Status,
		Language:   t.Language,
		Text:       t.Text,
		Error:      t.Error,
		DurationMS: t.DurationMS,
		SampleRate: t.SampleRate,
		CreatedAt:  t.CreatedAt,
	}
}

// handleRecord captures for the requested duration and answers with the
// transcript. Dropping the request aborts the capture.
func (a *api) handleRecord(w http.ResponseWriter, r *http.Request) {
	req := recordRequest{DurationSeconds: float64(a.cfg.Capture.DefaultSeconds)}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}
	duration := time.Duration(req.DurationSeconds * float64(time.Second))

	job, err := a.svc.Record(r.Context(), duration)
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	a.finishJob(w, r.Context(), job)
}

func (a *api) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := int64(a.cfg.Transcripts.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))

	mr, err := r.MultipartReader()
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("expected multipart form: %w", err))
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			a.writeError(w, http.StatusBadRequest, errors.New(`missing form field "file"`))
			return
		}
		if err != nil {
			a.writeError(w, statusFor(err), fmt.Errorf("read multipart: %w", err))
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		job, err := a.svc.Upload(r.Context(), part.FileName(), part)
		part.Close()
		if err != nil {
			a.writeError(w, statusFor(err), err)
			return
		}
		a.finishJob(w, r.Context(), job)
		return
	}
}

func (a *api) finishJob(w http.ResponseWriter, ctx context.Context, job *scribe.Job) {
	res, err := job.Wait(ctx)
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	a.writeJSON(w, http.StatusOK, viewOfResult(res))
}

func queryLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return n, nil
}

func (a *api) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 50)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := a.svc.Transcripts(r.Context(), limit)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]transcriptView, 0, len(list))
	for _, t := range list {
		views = append(views, viewOfTranscript(t))
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"transcripts": views})
}

func (a *api) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := a.svc.Transcript(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	a.writeJSON(w, http.StatusOK, viewOfTranscript(t))
}

func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 100)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	events, err := a.svc.Events(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{Type: e.Type, TraceID: e.TraceID, Payload: e.Payload, CreatedAt: e.CreatedAt})
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

func (a *api) handleDownload(w http.ResponseWriter, r *http.Request) {
	f, err := a.svc.TranscriptFile(r.PathValue("id"))
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="transcription.txt"`)
	if _, err := io.Copy(w, f); err != nil {
		a.logger.Warn("transcript download interrupted", slog.String("error", err.Error()))
	}
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, capture.ErrWriteFailure):
		return http.StatusInternalServerError
	case errors.Is(err, scribe.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, scribe.ErrInvalidDuration), errors.Is(err, scribe.ErrUnsupportedFormat),
		errors.Is(err, scribe.ErrEmptyUpload):
		return http.StatusBadRequest
	case errors.Is(err, scribe.ErrTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, eventstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scribe.ErrClosed), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}

func (a *api) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", slog.Int("status", status), slog.String("error", err.Error()))
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}
