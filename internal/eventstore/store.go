package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a transcript does not exist or the store
// keeps no history.
var ErrNotFound = errors.New("transcript not found")

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Transcript is one record or upload request and its outcome.
type Transcript struct {
	ID         string
	Source     string
	Status     string
	Error      string
	Language   string
	Text       string
	DurationMS int64
	SampleRate int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Event represents a recorded timeline entry for a transcript.
type Event struct {
	ID           int64
	TranscriptID string
	TraceID      string
	Type         string
	Payload      []byte
	CreatedAt    time.Time
}

// Store wraps a SQLite-backed transcript history.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.RetentionMode == "session" {
		if err := s.reset(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("reset session history: %w", err)
		}
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS transcripts (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    language TEXT,
    text TEXT,
    duration_ms INTEGER,
    sample_rate INTEGER,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    transcript_id TEXT NOT NULL,
    trace_id TEXT,
    event_type TEXT,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(transcript_id) REFERENCES transcripts(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at);
CREATE INDEX IF NOT EXISTS idx_events_transcript_created ON events(transcript_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// reset drops every transcript left by an earlier process. Events go with
// them through the foreign key.
func (s *Store) reset(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transcripts`)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Info("cleared previous session history", slog.Int64("transcripts", n))
	}
	return nil
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// SaveTranscript inserts or updates a transcript row. CreatedAt is kept
// from the first save.
func (s *Store) SaveTranscript(ctx context.Context, t Transcript) error {
	if s.disabled() {
		return nil
	}
	now := s.clock().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts(id, source, status, error, language, text, duration_ms, sample_rate, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, error=excluded.error, language=excluded.language,
		   text=excluded.text, duration_ms=excluded.duration_ms, sample_rate=excluded.sample_rate, updated_at=excluded.updated_at`,
		t.ID, t.Source, t.Status, t.Error, t.Language, t.Text, t.DurationMS, t.SampleRate, t.CreatedAt.UTC(), now)
	return err
}

const transcriptColumns = `id, source, status, error, language, text, duration_ms, sample_rate, created_at, updated_at`

// GetTranscript fetches one transcript by id.
func (s *Store) GetTranscript(ctx context.Context, id string) (Transcript, error) {
	if s.disabled() {
		return Transcript{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+transcriptColumns+` FROM transcripts WHERE id = ?`, id)
	t, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Transcript{}, ErrNotFound
	}
	return t, err
}

// ListTranscripts returns up to limit transcripts, newest first.
func (s *Store) ListTranscripts(ctx context.Context, limit int) ([]Transcript, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transcriptColumns+` FROM transcripts ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTranscript(sc scanner) (Transcript, error) {
	var t Transcript
	var errText, lang, text sql.NullString
	var durationMS, sampleRate sql.NullInt64
	var created, updated string
	if err := sc.Scan(&t.ID, &t.Source, &t.Status, &errText, &lang, &text, &durationMS, &sampleRate, &created, &updated); err != nil {
		return Transcript{}, err
	}
	t.Error = errText.String
	t.Language = lang.String
	t.Text = text.String
	t.DurationMS = durationMS.Int64
	t.SampleRate = int(sampleRate.Int64)
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return t, nil
}

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.disabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(transcript_id, trace_id, event_type, payload, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		evt.TranscriptID, evt.TraceID, evt.Type, evt.Payload, evt.CreatedAt.UTC())
	return err
}

// ListEvents retrieves up to limit events for a transcript ordered ascending by time.
func (s *Store) ListEvents(ctx context.Context, transcriptID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, transcript_id, trace_id, event_type, payload, created_at
		 FROM events WHERE transcript_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, transcriptID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var traceID, typ sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.TranscriptID, &traceID, &typ, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.TraceID = traceID.String
		e.Type = typ.String
		e.CreatedAt = parseTime(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and after each job).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM transcripts WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxTranscripts > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM transcripts WHERE id IN (
			SELECT id FROM transcripts ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxTranscripts)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Ensure supplies a no-op store when persistence disabled.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}

// sqlite hands TIMESTAMP columns back either as time.Time (rendered by
// database/sql as RFC 3339) or as the text it stored.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func parseTime(v string) time.Time {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
