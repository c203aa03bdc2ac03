package meeting

import (
	"context"
	"time"

	"github.com/pitchlens/pitchlens/internal/audio"
	"github.com/pitchlens/pitchlens/internal/health"
	"github.com/pitchlens/pitchlens/internal/insight"
	"github.com/pitchlens/pitchlens/internal/stt"
	"github.com/pitchlens/pitchlens/internal/transcribe"
)

// Status is a meeting's lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusEnding   Status = "ending"
	StatusEnded    Status = "ended"
)

// Config describes one meeting at start time.
type Config struct {
	Title         string   `json:"title"`
	Type          string   `json:"type"`
	Platform      string   `json:"platform"`
	Participants  []string `json:"participants"`
	Transcription bool     `json:"transcription"`
}

// Store persists meetings, transcripts, and insights. All calls from the
// orchestrator are fire-and-forget: failures are logged, never fatal to the
// meeting.
type Store interface {
	CreateMeeting(id, title string, startedAt time.Time) error
	UpdateMeetingStatus(id, status string) error
	EndMeeting(id string, endedAt time.Time, summary string) error
	DeleteMeeting(id string) error
	AppendTranscript(meetingID string, entry transcribe.Entry) error
	AppendInsight(meetingID string, kind insight.Kind, payload any, generatedAt time.Time) error
}

// EventBroadcaster pushes real-time events to connected UI clients.
type EventBroadcaster interface {
	BroadcastMeetingStarted(meetingID, title string)
	BroadcastMeetingEnded(meetingID string, duration time.Duration)
	BroadcastLiveTranscript(meetingID string, entry transcribe.Entry)
	BroadcastLiveTranscriptInterim(meetingID string, speaker int, text string)
	BroadcastInsightReady(meetingID string, kind insight.Kind, payload any)
	BroadcastAudioQuality(meetingID string, snapshot audio.Snapshot)
	BroadcastConnectionQuality(meetingID string, overall health.Status, linkState string)
	BroadcastMeetingError(meetingID string, err error)
}

// Analyzer produces insights from transcript entries.
type Analyzer interface {
	AnalyzeBatch(ctx context.Context, meetingID string, entries []transcribe.Entry) (insight.Analysis, error)
	Coach(ctx context.Context, meetingID string, entries []transcribe.Entry) (insight.Coaching, error)
	Summarize(ctx context.Context, meetingID string, entries []transcribe.Entry, duration time.Duration) (insight.Summary, error)
}

// HealthView is the slice of the health monitor the orchestrator reads.
type HealthView interface {
	Overall() health.Status
	Snapshot() (map[string]health.Record, health.Status)
}

// AudioStream is the processed-audio surface of one capture pipeline.
// Satisfied by *audio.Pipeline.
type AudioStream interface {
	Start(ctx context.Context) error
	Stop()
	Frames() <-chan audio.Frame
	OnQuality(func(audio.Snapshot))
	OnError(func(error))
}

// Transcriber is one streaming transcription connection. Satisfied by
// *stt.Link.
type Transcriber interface {
	Connect(ctx context.Context) error
	Send(pcm []byte) error
	Stop()
	State() stt.State
}

// AudioFactory opens a fresh capture pipeline for one meeting.
type AudioFactory func() (AudioStream, error)

// LinkFactory opens a fresh transcription link wired to cb.
type LinkFactory func(cb stt.Callbacks) Transcriber

// TranscriptLog is the optional local markdown artifact. Satisfied by
// *storage.Writer; may be nil.
type TranscriptLog interface {
	Append(meetingID string, entry transcribe.Entry) error
	AppendSummary(meetingID, summary string) error
}

// StatusReport is the snapshot returned by GetStatus.
type StatusReport struct {
	MeetingID       string                  `json:"meeting_id"`
	Status          Status                  `json:"status"`
	Title           string                  `json:"title"`
	StartedAt       time.Time               `json:"started_at"`
	TranscriptCount int                     `json:"transcript_count"`
	InsightCount    int                     `json:"insight_count"`
	Errors          []string                `json:"errors,omitempty"`
	AudioQuality    audio.Snapshot          `json:"audio_quality"`
	LinkState       string                  `json:"link_state"`
	ServiceHealth   health.Status           `json:"service_health"`
	Speakers        map[int]SpeakerActivity `json:"speakers,omitempty"`
}

// SpeakerActivity is the externally visible slice of a speaker profile.
type SpeakerActivity struct {
	TalkTimeSeconds float64 `json:"talk_time_seconds"`
	WordsPerMinute  float64 `json:"words_per_minute"`
	LastSentiment   string  `json:"last_sentiment"`
}
