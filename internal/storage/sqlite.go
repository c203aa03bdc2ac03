package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pitchlens/pitchlens/internal/insight"
	"github.com/pitchlens/pitchlens/internal/transcribe"
)

type Meeting struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    string     `json:"status"`
	Summary   string     `json:"summary"`
}

// Insight is a stored analysis payload. Payload holds the kind-specific
// structure as JSON.
type Insight struct {
	ID          int64           `json:"id"`
	MeetingID   string          `json:"meeting_id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	GeneratedAt time.Time       `json:"generated_at"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "pitchlens.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS meetings (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create meetings table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			meeting_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			speaker_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			duration REAL NOT NULL,
			confidence REAL NOT NULL,
			sentiment TEXT NOT NULL DEFAULT 'neutral',
			important INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(meeting_id) REFERENCES meetings(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create transcripts table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS insights (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			meeting_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			generated_at TEXT NOT NULL,
			FOREIGN KEY(meeting_id) REFERENCES meetings(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create insights table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_meetings_started_at ON meetings(started_at)"); err != nil {
		return fmt.Errorf("create meetings index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_transcripts_meeting_id ON transcripts(meeting_id, id)"); err != nil {
		return fmt.Errorf("create transcripts index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_insights_meeting_id ON insights(meeting_id, id)"); err != nil {
		return fmt.Errorf("create insights index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Ping reports whether the database is reachable. Used as a health probe.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) CreateMeeting(id, title string, startedAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("meeting id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO meetings(id, title, started_at, status) VALUES(?, ?, ?, 'starting')`,
		id,
		strings.TrimSpace(title),
		startedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create meeting %s: %w", id, err)
	}
	return nil
}

// UpdateMeetingStatus records a lifecycle transition. The caller owns state
// machine enforcement; the store only persists what it is told.
func (s *SQLiteStore) UpdateMeetingStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE meetings SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update meeting %s status: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update meeting status rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteStore) EndMeeting(id string, endedAt time.Time, summary string) error {
	res, err := s.db.Exec(
		`UPDATE meetings SET ended_at = ?, status = 'ended', summary = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano),
		summary,
		id,
	)
	if err != nil {
		return fmt.Errorf("end meeting %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end meeting rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteStore) DeleteMeeting(id string) error {
	if _, err := s.db.Exec(`DELETE FROM meetings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete meeting %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) AppendTranscript(meetingID string, entry transcribe.Entry) error {
	important := 0
	if entry.Important {
		important = 1
	}

	_, err := s.db.Exec(
		`INSERT INTO transcripts(meeting_id, speaker, speaker_index, text, timestamp, duration, confidence, sentiment, important)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meetingID,
		entry.Speaker,
		entry.SpeakerIndex,
		strings.TrimSpace(entry.Text),
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.Duration,
		entry.Confidence,
		string(entry.Sentiment),
		important,
	)
	if err != nil {
		return fmt.Errorf("append transcript for meeting %s: %w", meetingID, err)
	}
	return nil
}

func (s *SQLiteStore) AppendInsight(meetingID string, kind insight.Kind, payload any, generatedAt time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s insight for meeting %s: %w", kind, meetingID, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO insights(meeting_id, kind, payload, generated_at) VALUES(?, ?, ?, ?)`,
		meetingID,
		string(kind),
		string(raw),
		generatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append %s insight for meeting %s: %w", kind, meetingID, err)
	}
	return nil
}

func (s *SQLiteStore) GetMeeting(id string) (Meeting, error) {
	row := s.db.QueryRow(
		`SELECT id, title, started_at, ended_at, status, summary FROM meetings WHERE id = ?`,
		id,
	)

	meeting, err := scanMeeting(row.Scan)
	if err != nil {
		return Meeting{}, fmt.Errorf("query meeting %s: %w", id, err)
	}
	return meeting, nil
}

func (s *SQLiteStore) GetMeetings(limit int) ([]Meeting, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, title, started_at, ended_at, status, summary
		 FROM meetings
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query meetings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	meetings := make([]Meeting, 0, 16)
	for rows.Next() {
		meeting, err := scanMeeting(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		meetings = append(meetings, meeting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meetings rows: %w", err)
	}

	return meetings, nil
}

func (s *SQLiteStore) GetTranscripts(meetingID string) ([]transcribe.Entry, error) {
	rows, err := s.db.Query(
		`SELECT speaker, speaker_index, text, timestamp, duration, confidence, sentiment, important
		 FROM transcripts
		 WHERE meeting_id = ?
		 ORDER BY id ASC`,
		meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcripts for meeting %s: %w", meetingID, err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]transcribe.Entry, 0, 32)
	for rows.Next() {
		var entry transcribe.Entry
		var ts, sentiment string
		var important int
		if err := rows.Scan(&entry.Speaker, &entry.SpeakerIndex, &entry.Text, &ts, &entry.Duration, &entry.Confidence, &sentiment, &important); err != nil {
			return nil, fmt.Errorf("scan transcript for meeting %s: %w", meetingID, err)
		}

		parsedTS, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse transcript timestamp for meeting %s: %w", meetingID, err)
		}
		entry.Timestamp = parsedTS
		entry.Sentiment = transcribe.Sentiment(sentiment)
		entry.Important = important != 0

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows for meeting %s: %w", meetingID, err)
	}

	return entries, nil
}

func (s *SQLiteStore) GetInsights(meetingID string) ([]Insight, error) {
	rows, err := s.db.Query(
		`SELECT id, meeting_id, kind, payload, generated_at
		 FROM insights
		 WHERE meeting_id = ?
		 ORDER BY id ASC`,
		meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("query insights for meeting %s: %w", meetingID, err)
	}
	defer func() { _ = rows.Close() }()

	insights := make([]Insight, 0, 16)
	for rows.Next() {
		var in Insight
		var payload, generatedAt string
		if err := rows.Scan(&in.ID, &in.MeetingID, &in.Kind, &payload, &generatedAt); err != nil {
			return nil, fmt.Errorf("scan insight for meeting %s: %w", meetingID, err)
		}

		parsed, err := time.Parse(time.RFC3339Nano, generatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse insight timestamp for meeting %s: %w", meetingID, err)
		}
		in.GeneratedAt = parsed
		in.Payload = json.RawMessage(payload)

		insights = append(insights, in)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate insight rows for meeting %s: %w", meetingID, err)
	}

	return insights, nil
}

func scanMeeting(scan func(dest ...any) error) (Meeting, error) {
	var meeting Meeting
	var startedAt string
	var endedAt sql.NullString
	if err := scan(&meeting.ID, &meeting.Title, &startedAt, &endedAt, &meeting.Status, &meeting.Summary); err != nil {
		return Meeting{}, err
	}

	parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Meeting{}, fmt.Errorf("parse started_at: %w", err)
	}
	meeting.StartedAt = parsedStart

	if endedAt.Valid {
		parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return Meeting{}, fmt.Errorf("parse ended_at: %w", err)
		}
		meeting.EndedAt = &parsedEnd
	}

	return meeting, nil
}
