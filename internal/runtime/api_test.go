package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-scribe/internal/capture"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/scribe"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/wavfile"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T, device capture.Device) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Capture.SampleRate = 8000
	cfg.Capture.WorkDir = filepath.Join(dir, "audio")
	cfg.Transcripts.Dir = filepath.Join(dir, "transcripts")
	cfg.EventStore.Path = filepath.Join(dir, "scribe.db")

	store, err := eventstore.Open(context.Background(), cfg.EventStore, newTestLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc, err := scribe.NewService(context.Background(), cfg, device, stt.NewMockRecognizer("ja"), store, nil, newTestLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)

	mux := http.NewServeMux()
	newAPI(cfg, svc, newTestLogger()).register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func decodeView(t *testing.T, resp *http.Response) transcriptView {
	t.Helper()
	defer resp.Body.Close()
	var v transcriptView
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func postRecording(t *testing.T, srv *httptest.Server, seconds float64) *http.Response {
	t.Helper()
	body := fmt.Sprintf(`{"duration_seconds":%v}`, seconds)
	resp, err := http.Post(srv.URL+"/v1/recordings", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post recording: %v", err)
	}
	return resp
}

func TestRecordAndFetchTranscript(t *testing.T) {
	srv := newTestServer(t, &capture.SyntheticDevice{})

	resp := postRecording(t, srv, 3)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	rec := decodeView(t, resp)
	if rec.Language != "ja" || !strings.Contains(rec.Text, "duration=3s") || rec.DurationMS != 3000 {
		t.Fatalf("unexpected recording response %+v", rec)
	}

	resp, err := http.Get(srv.URL + "/v1/transcripts/" + rec.ID)
	if err != nil {
		t.Fatalf("get transcript: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := decodeView(t, resp)
	if got.Status != eventstore.StatusCompleted || got.Text != rec.Text || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected stored transcript %+v", got)
	}

	resp, err = http.Get(srv.URL + "/v1/transcripts/" + rec.ID + "/download")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "transcription.txt") {
		t.Fatalf("unexpected content disposition %q", cd)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	text, _ := io.ReadAll(resp.Body)
	if string(text) != rec.Text {
		t.Fatalf("download %q does not match %q", text, rec.Text)
	}

	resp, err = http.Get(srv.URL + "/v1/transcripts?limit=10")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()
	var list struct {
		Transcripts []transcriptView `json:"transcripts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Transcripts) != 1 || list.Transcripts[0].ID != rec.ID {
		t.Fatalf("unexpected list %+v", list.Transcripts)
	}
}

func TestRecordDefaultsDuration(t *testing.T) {
	srv := newTestServer(t, &capture.SyntheticDevice{})
	resp, err := http.Post(srv.URL+"/v1/recordings", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if v := decodeView(t, resp); v.DurationMS != 5000 {
		t.Fatalf("expected default 5s capture, got %dms", v.DurationMS)
	}
}

func TestRecordErrorsMapToStatus(t *testing.T) {
	srv := newTestServer(t, &capture.SyntheticDevice{})
	resp := postRecording(t, srv, 1)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for short duration, got %d", resp.StatusCode)
	}

	broken := newTestServer(t, capture.DeviceFunc(func(context.Context, capture.Params) (capture.Stream, error) {
		return nil, errors.New("no default input device")
	}))
	resp = postRecording(t, broken, 3)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for missing device, got %d", resp.StatusCode)
	}
}

func multipartBody(t *testing.T, field, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("note", "ignored"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func testWav(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := wavfile.Write(f, make([]int16, 16000), 16000); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

func TestUploadTranscription(t *testing.T) {
	srv := newTestServer(t, &capture.SyntheticDevice{})

	body, contentType := multipartBody(t, "file", "memo.wav", testWav(t))
	resp, err := http.Post(srv.URL+"/v1/transcriptions", contentType, body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	v := decodeView(t, resp)
	if v.Source != scribe.SourceUpload || v.DurationMS != 1000 || v.SampleRate != 16000 {
		t.Fatalf("unexpected upload response %+v", v)
	}

	cases := []struct {
		field, name string
		data        []byte
		want        int
	}{
		{"file", "notes.txt", []byte("data"), http.StatusBadRequest},
		{"audio", "memo.wav", []byte("data"), http.StatusBadRequest},
		{"file", "empty.wav", []byte{}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		body, contentType := multipartBody(t, tc.field, tc.name, tc.data)
		resp, err := http.Post(srv.URL+"/v1/transcriptions", contentType, body)
		if err != nil {
			t.Fatalf("upload %s/%s: %v", tc.field, tc.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s/%s: expected %d, got %d", tc.field, tc.name, tc.want, resp.StatusCode)
		}
	}

	resp, err = http.Post(srv.URL+"/v1/transcriptions", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-multipart body, got %d", resp.StatusCode)
	}
}

func TestTranscriptEvents(t *testing.T) {
	srv := newTestServer(t, &capture.SyntheticDevice{})
	rec := decodeView(t, postRecording(t, srv, 3))

	resp, err := http.Get(srv.URL + "/v1/transcripts/" + rec.ID + "/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Events []eventView `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	var types []string
	for _, e := range body.Events {
		types = append(types, e.Type)
	}
	want := []string{"capture.started", "capture.completed", "transcribe.completed"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	if body.Events[0].CreatedAt.IsZero() || !strings.Contains(string(body.Events[0].Payload), "duration_ms") {
		t.Fatalf("unexpected first event %+v", body.Events[0])
	}

	resp, err = http.Get(srv.URL + "/v1/transcripts/" + rec.ID + "/events?limit=1")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	body.Events = nil
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	resp.Body.Close()
	if len(body.Events) != 1 {
		t.Fatalf("expected limit to apply, got %d events", len(body.Events))
	}

	badLimit := "/v1/transcripts/" + rec.ID + "/events?limit=0"
	unknown := "/v1/transcripts/2d7a3a54-1b59-4a4e-9b1b-0f6f0c7b8a11/events"
	for _, tc := range []struct {
		path string
		want int
	}{
		{badLimit, http.StatusBadRequest},
		{unknown, http.StatusNotFound},
	} {
		resp, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("get %s: %v", tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.want, resp.StatusCode)
		}
	}
}

func TestUnknownTranscript(t *testing.T) {
	srv := newTestServer(t, &capture.SyntheticDevice{})
	for _, path := range []string{
		"/v1/transcripts/2d7a3a54-1b59-4a4e-9b1b-0f6f0c7b8a11",
		"/v1/transcripts/not-a-uuid/download",
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&capture.Error{Kind: capture.ErrDeviceUnavailable}, http.StatusServiceUnavailable},
		{&capture.Error{Kind: capture.ErrWriteFailure}, http.StatusInternalServerError},
		{scribe.ErrBusy, http.StatusConflict},
		{fmt.Errorf("x: %w", scribe.ErrInvalidDuration), http.StatusBadRequest},
		{scribe.ErrEmptyUpload, http.StatusBadRequest},
		{scribe.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{eventstore.ErrNotFound, http.StatusNotFound},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
