package meeting

import (
	"context"
	"time"

	"github.com/pitchlens/pitchlens/internal/audio"
	"github.com/pitchlens/pitchlens/internal/insight"
	"github.com/pitchlens/pitchlens/internal/transcribe"
)

// session is the orchestrator-owned state for one meeting. All fields are
// guarded by the orchestrator mutex; no other component holds a mutable
// reference.
type session struct {
	id        string
	cfg       Config
	status    Status
	startedAt time.Time
	endedAt   time.Time

	entries      []transcribe.Entry
	pendingBatch []transcribe.Entry
	profiles     map[int]*transcribe.SpeakerProfile
	insightCount int
	errors       []string
	lastQuality  audio.Snapshot

	summary *insight.Summary
	// Closed when the stop that moved the session to ending has finished.
	stopDone chan struct{}

	pipeline AudioStream
	link     Transcriber
	cancel   context.CancelFunc
}

func newSession(id string, cfg Config, startedAt time.Time) *session {
	return &session{
		id:        id,
		cfg:       cfg,
		status:    StatusStarting,
		startedAt: startedAt,
		profiles:  make(map[int]*transcribe.SpeakerProfile),
	}
}

// append records one entry in arrival order and folds it into the speaker
// profile. Returns a batch to analyze when enough entries have accumulated.
func (s *session) append(entry transcribe.Entry, batchSize int, dispatch bool) []transcribe.Entry {
	s.entries = append(s.entries, entry)

	profile, ok := s.profiles[entry.SpeakerIndex]
	if !ok {
		profile = &transcribe.SpeakerProfile{Index: entry.SpeakerIndex, Label: entry.Speaker}
		s.profiles[entry.SpeakerIndex] = profile
	}
	profile.Observe(entry)

	s.pendingBatch = append(s.pendingBatch, entry)
	if !dispatch || len(s.pendingBatch) < batchSize {
		return nil
	}

	batch := s.pendingBatch
	s.pendingBatch = nil
	return batch
}

// drain hands back any batched work still pending, leaving the batch empty.
func (s *session) drain() []transcribe.Entry {
	batch := s.pendingBatch
	s.pendingBatch = nil
	return batch
}

// transcript returns a copy of the entries so far.
func (s *session) transcript() []transcribe.Entry {
	return append([]transcribe.Entry(nil), s.entries...)
}

// tail returns up to n of the most recent entries.
func (s *session) tail(n int) []transcribe.Entry {
	if len(s.entries) <= n {
		return s.transcript()
	}
	return append([]transcribe.Entry(nil), s.entries[len(s.entries)-n:]...)
}

func (s *session) report(linkState string) StatusReport {
	speakers := make(map[int]SpeakerActivity, len(s.profiles))
	for idx, p := range s.profiles {
		speakers[idx] = SpeakerActivity{
			TalkTimeSeconds: p.TalkTime,
			WordsPerMinute:  p.Pace,
			LastSentiment:   string(p.LastSentiment),
		}
	}

	return StatusReport{
		MeetingID:       s.id,
		Status:          s.status,
		Title:           s.cfg.Title,
		StartedAt:       s.startedAt,
		TranscriptCount: len(s.entries),
		InsightCount:    s.insightCount,
		Errors:          append([]string(nil), s.errors...),
		AudioQuality:    s.lastQuality,
		LinkState:       linkState,
		Speakers:        speakers,
	}
}
