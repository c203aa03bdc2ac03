// Package meeting owns the meeting lifecycle: it wires audio capture,
// streaming transcription, insight analysis, and persistence together, and is
// the single writer of per-meeting state.
package meeting

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitchlens/pitchlens/internal/audio"
	"github.com/pitchlens/pitchlens/internal/fault"
	"github.com/pitchlens/pitchlens/internal/health"
	"github.com/pitchlens/pitchlens/internal/insight"
	"github.com/pitchlens/pitchlens/internal/stt"
	"github.com/pitchlens/pitchlens/internal/transcribe"
)

// coachTail bounds how much recent transcript a live coaching prompt sees.
const coachTail = 10

// lowQualityScore is the threshold below which degraded audio raises a
// meeting warning.
const lowQualityScore = 40.0

// Orchestrator runs meetings. One meeting at a time may own the audio
// pipeline; ended meetings stay queryable until the process exits.
type Orchestrator struct {
	store    Store
	hub      EventBroadcaster
	analyzer Analyzer
	healthy  HealthView
	newAudio AudioFactory
	newLink  LinkFactory
	log      TranscriptLog

	batchSize int

	mu       sync.Mutex
	sessions map[string]*session
	activeID string
}

// NewOrchestrator wires the collaborators. hub, log, analyzer, and newLink
// may be nil: a nil analyzer disables AI insights, a nil newLink disables
// live transcription.
func NewOrchestrator(store Store, hub EventBroadcaster, analyzer Analyzer, healthy HealthView, newAudio AudioFactory, newLink LinkFactory, log TranscriptLog, batchSize int) *Orchestrator {
	if batchSize <= 0 {
		batchSize = 3
	}
	return &Orchestrator{
		store:     store,
		hub:       hub,
		analyzer:  analyzer,
		healthy:   healthy,
		newAudio:  newAudio,
		newLink:   newLink,
		log:       log,
		batchSize: batchSize,
		sessions:  make(map[string]*session),
	}
}

// Start creates a meeting, acquires the audio pipeline, opens the
// transcription link, and transitions to active only after both succeed.
// Partial failure rolls back whatever was already acquired.
func (o *Orchestrator) Start(ctx context.Context, cfg Config) (string, error) {
	o.mu.Lock()
	if o.activeID != "" {
		o.mu.Unlock()
		return "", fmt.Errorf("start meeting: %w", ErrMeetingActive)
	}
	id := uuid.NewString()
	sess := newSession(id, cfg, time.Now().UTC())
	o.sessions[id] = sess
	o.activeID = id
	o.mu.Unlock()

	if err := o.store.CreateMeeting(id, cfg.Title, sess.startedAt); err != nil {
		slog.Warn("persist meeting create failed", "meeting_id", id, "error", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	pipeline, err := o.newAudio()
	if err != nil {
		o.rollback(id, cancel)
		return "", fault.Errorf(fault.AudioError, "acquire audio pipeline: %w", err)
	}

	pipeline.OnQuality(func(snapshot audio.Snapshot) { o.handleQuality(id, snapshot) })
	pipeline.OnError(func(err error) { o.recordError(id, err) })

	if err := pipeline.Start(runCtx); err != nil {
		o.rollback(id, cancel)
		return "", err
	}

	var link Transcriber
	if cfg.Transcription && o.newLink == nil {
		slog.Warn("transcription requested but no backend configured", "meeting_id", id)
	}
	if cfg.Transcription && o.newLink != nil {
		link = o.newLink(stt.Callbacks{
			OnResult:       func(res stt.Result) { o.handleResult(id, res) },
			OnUtteranceEnd: func(stt.UtteranceEnd) {},
			OnError:        func(err error) { o.recordError(id, err) },
			OnClose:        func() { o.handleLinkClosed(id) },
		})
		if err := link.Connect(runCtx); err != nil {
			pipeline.Stop()
			o.rollback(id, cancel)
			return "", fmt.Errorf("open transcription link: %w", err)
		}
	}

	o.mu.Lock()
	sess.pipeline = pipeline
	sess.link = link
	sess.cancel = cancel
	sess.status = StatusActive
	o.mu.Unlock()

	go o.pump(id, pipeline, link)

	if err := o.store.UpdateMeetingStatus(id, string(StatusActive)); err != nil {
		slog.Warn("persist meeting status failed", "meeting_id", id, "error", err)
	}
	if o.hub != nil {
		o.hub.BroadcastMeetingStarted(id, cfg.Title)
	}

	slog.Info("meeting started", "meeting_id", id, "title", cfg.Title, "transcription", cfg.Transcription)
	return id, nil
}

// rollback removes a half-started meeting so no partial state survives a
// failed Start.
func (o *Orchestrator) rollback(id string, cancel context.CancelFunc) {
	cancel()

	o.mu.Lock()
	delete(o.sessions, id)
	if o.activeID == id {
		o.activeID = ""
	}
	o.mu.Unlock()

	if err := o.store.DeleteMeeting(id); err != nil {
		slog.Warn("rollback meeting delete failed", "meeting_id", id, "error", err)
	}
}

// Pause suspends frame forwarding without releasing the pipeline or link.
func (o *Orchestrator) Pause(id string) error {
	return o.transition(id, StatusActive, StatusPaused)
}

// Resume returns a paused meeting to active.
func (o *Orchestrator) Resume(id string) error {
	return o.transition(id, StatusPaused, StatusActive)
}

func (o *Orchestrator) transition(id string, from, to Status) error {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("meeting %s: %w", id, ErrNotFound)
	}
	if sess.status != from {
		current := sess.status
		o.mu.Unlock()
		return fmt.Errorf("meeting %s is %s: %w", id, current, ErrInvalidTransition)
	}
	sess.status = to
	o.mu.Unlock()

	if err := o.store.UpdateMeetingStatus(id, string(to)); err != nil {
		slog.Warn("persist meeting status failed", "meeting_id", id, "error", err)
	}
	slog.Info("meeting state changed", "meeting_id", id, "from", from, "to", to)
	return nil
}

// Stop ends a meeting: releases audio and transcription, drains pending
// batched analysis, and returns the final summary covering every entry
// received up to and including the drain. Stopping an already ended meeting
// returns the stored summary; a stop arriving while another is in flight
// waits for it and returns the same summary.
func (o *Orchestrator) Stop(ctx context.Context, id string) (insight.Summary, error) {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return insight.Summary{}, fmt.Errorf("meeting %s: %w", id, ErrNotFound)
	}
	if sess.status == StatusEnded {
		summary := *sess.summary
		o.mu.Unlock()
		return summary, nil
	}
	if sess.status == StatusEnding {
		// Another Stop is in flight; wait for it and return its summary.
		done := sess.stopDone
		o.mu.Unlock()
		select {
		case <-ctx.Done():
			return insight.Summary{}, ctx.Err()
		case <-done:
		}
		o.mu.Lock()
		summary := *sess.summary
		o.mu.Unlock()
		return summary, nil
	}

	sess.status = StatusEnding
	sess.stopDone = make(chan struct{})
	drained := sess.drain()
	entries := sess.transcript()
	pipeline, link, cancel := sess.pipeline, sess.link, sess.cancel
	startedAt := sess.startedAt
	o.mu.Unlock()

	if err := o.store.UpdateMeetingStatus(id, string(StatusEnding)); err != nil {
		slog.Warn("persist meeting status failed", "meeting_id", id, "error", err)
	}

	if pipeline != nil {
		pipeline.Stop()
	}
	if link != nil {
		link.Stop()
	}
	if cancel != nil {
		cancel()
	}

	if len(drained) > 0 {
		o.runBatch(ctx, id, drained, true)
	}

	endedAt := time.Now().UTC()
	var summary insight.Summary
	var sumErr error
	if o.analyzer != nil {
		summary, sumErr = o.analyzer.Summarize(ctx, id, entries, endedAt.Sub(startedAt))
	}
	if o.analyzer == nil || sumErr != nil {
		// The meeting still ends; fall back to a summary assembled from the
		// transcript alone.
		if sumErr != nil {
			o.recordError(id, fmt.Errorf("final summary: %w", sumErr))
		}
		summary = insight.Summary{
			MeetingID:       id,
			TranscriptCount: len(entries),
			DurationSeconds: endedAt.Sub(startedAt).Seconds(),
			GeneratedAt:     endedAt,
		}
		for _, e := range entries {
			if e.Important {
				summary.KeyPoints = append(summary.KeyPoints, e.Text)
			}
		}
	}

	o.mu.Lock()
	sess.status = StatusEnded
	sess.endedAt = endedAt
	sess.summary = &summary
	if o.activeID == id {
		o.activeID = ""
	}
	close(sess.stopDone)
	o.mu.Unlock()

	if err := o.store.EndMeeting(id, endedAt, summary.Text); err != nil {
		slog.Warn("persist meeting end failed", "meeting_id", id, "error", err)
	}
	if err := o.store.AppendInsight(id, insight.KindSummary, summary, summary.GeneratedAt); err != nil {
		slog.Warn("persist summary insight failed", "meeting_id", id, "error", err)
	}
	if o.log != nil {
		if err := o.log.AppendSummary(id, summary.Text); err != nil {
			slog.Warn("write transcript summary failed", "meeting_id", id, "error", err)
		}
	}
	if o.hub != nil {
		o.hub.BroadcastMeetingEnded(id, endedAt.Sub(startedAt))
	}

	slog.Info("meeting ended", "meeting_id", id,
		"duration", endedAt.Sub(startedAt), "entries", len(entries))
	return summary, nil
}

// GetStatus reports the meeting's current state and counters.
func (o *Orchestrator) GetStatus(id string) (StatusReport, error) {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return StatusReport{}, fmt.Errorf("meeting %s: %w", id, ErrNotFound)
	}
	linkState := ""
	if sess.link != nil {
		linkState = sess.link.State().String()
	}
	report := sess.report(linkState)
	o.mu.Unlock()

	if o.healthy != nil {
		report.ServiceHealth = o.healthy.Overall()
	}
	return report, nil
}

// Active returns the id of the meeting currently owning the pipeline, or "".
func (o *Orchestrator) Active() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeID
}

// Ingest appends one finalized transcript entry in arrival order and batches
// it for analysis. Entries for non-active meetings are rejected.
func (o *Orchestrator) Ingest(id string, entry transcribe.Entry) error {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("meeting %s: %w", id, ErrNotFound)
	}
	if sess.status != StatusActive {
		o.mu.Unlock()
		return fmt.Errorf("meeting %s is %s: %w", id, sess.status, ErrNotActive)
	}
	batch := sess.append(entry, o.batchSize, o.analysisAllowed())
	o.mu.Unlock()

	go func() {
		if err := o.store.AppendTranscript(id, entry); err != nil {
			slog.Warn("persist transcript failed", "meeting_id", id, "error", err)
		}
		if o.log != nil {
			if err := o.log.Append(id, entry); err != nil {
				slog.Warn("write transcript log failed", "meeting_id", id, "error", err)
			}
		}
	}()

	if o.hub != nil {
		o.hub.BroadcastLiveTranscript(id, entry)
	}

	if batch != nil {
		go o.runBatch(context.Background(), id, batch, false)
	}
	return nil
}

// Coach produces one live guidance tip from the recent transcript. Coaching
// is realtime work: it runs even while batched analysis is being deferred.
func (o *Orchestrator) Coach(ctx context.Context, id string) (insight.Coaching, error) {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return insight.Coaching{}, fmt.Errorf("meeting %s: %w", id, ErrNotFound)
	}
	if sess.status != StatusActive {
		status := sess.status
		o.mu.Unlock()
		return insight.Coaching{}, fmt.Errorf("meeting %s is %s: %w", id, status, ErrNotActive)
	}
	recent := sess.tail(coachTail)
	o.mu.Unlock()

	if o.analyzer == nil {
		return insight.Coaching{}, fmt.Errorf("coaching unavailable: no AI provider configured")
	}

	coaching, err := o.analyzer.Coach(ctx, id, recent)
	if err != nil {
		return insight.Coaching{}, err
	}

	o.mu.Lock()
	if sess, ok := o.sessions[id]; ok && sess.status == StatusActive {
		sess.insightCount++
	}
	o.mu.Unlock()

	if o.hub != nil {
		o.hub.BroadcastInsightReady(id, insight.KindCoaching, coaching)
	}
	if err := o.store.AppendInsight(id, insight.KindCoaching, coaching, coaching.GeneratedAt); err != nil {
		slog.Warn("persist coaching insight failed", "meeting_id", id, "error", err)
	}
	return coaching, nil
}

// analysisAllowed defers batched analysis while service health is not fully
// healthy; the batch keeps accumulating and drains later.
func (o *Orchestrator) analysisAllowed() bool {
	if o.healthy == nil {
		return true
	}
	return o.healthy.Overall() == health.StatusHealthy
}

// runBatch sends one batch through the analyzer. Results for meetings that
// ended in the meantime are discarded; final set keeps drain results.
func (o *Orchestrator) runBatch(ctx context.Context, id string, batch []transcribe.Entry, drain bool) {
	if o.analyzer == nil {
		return
	}
	analysis, err := o.analyzer.AnalyzeBatch(ctx, id, batch)
	if err != nil {
		o.recordError(id, fmt.Errorf("batch analysis: %w", err))
		return
	}

	o.mu.Lock()
	sess, ok := o.sessions[id]
	discard := !ok || sess.status == StatusEnded || (!drain && sess.status == StatusEnding)
	if !discard {
		sess.insightCount++
	}
	o.mu.Unlock()
	if discard {
		slog.Debug("discarding analysis for stopped meeting", "meeting_id", id)
		return
	}

	if o.hub != nil {
		o.hub.BroadcastInsightReady(id, insight.KindAnalysis, analysis)
	}
	if err := o.store.AppendInsight(id, insight.KindAnalysis, analysis, analysis.GeneratedAt); err != nil {
		slog.Warn("persist analysis insight failed", "meeting_id", id, "error", err)
	}
}

// pump forwards processed frames to the transcription link. Frame delivery
// must never block: Send is non-blocking and forwarding is skipped while the
// meeting is paused.
func (o *Orchestrator) pump(id string, pipeline AudioStream, link Transcriber) {
	for frame := range pipeline.Frames() {
		if link == nil {
			continue
		}

		o.mu.Lock()
		sess, ok := o.sessions[id]
		active := ok && sess.status == StatusActive
		o.mu.Unlock()
		if !active {
			continue
		}

		if err := link.Send(pcmBytes(frame.Samples)); err != nil {
			slog.Debug("frame send failed", "meeting_id", id, "error", err)
		}
	}
}

// handleResult converts a final transcription result into a transcript entry.
// Interim results are only broadcast for live display.
func (o *Orchestrator) handleResult(id string, res stt.Result) {
	if len(res.Channel.Alternatives) == 0 {
		return
	}
	alt := res.Channel.Alternatives[0]

	if !res.IsFinal {
		if o.hub != nil && alt.Transcript != "" {
			speaker := -1
			if len(alt.Words) > 0 && alt.Words[0].Speaker != nil {
				speaker = *alt.Words[0].Speaker
			}
			o.hub.BroadcastLiveTranscriptInterim(id, speaker, alt.Transcript)
		}
		return
	}

	words := make([]transcribe.Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, transcribe.Word{
			Speaker:        w.Speaker,
			PunctuatedWord: w.PunctuatedWord,
			Start:          w.Start,
			End:            w.End,
			Confidence:     w.Confidence,
		})
	}

	entry, ok := transcribe.EntryFromWords(words, time.Now())
	if !ok {
		return
	}
	if err := o.Ingest(id, entry); err != nil {
		slog.Debug("transcript entry dropped", "meeting_id", id, "error", err)
	}
}

func (o *Orchestrator) handleQuality(id string, snapshot audio.Snapshot) {
	o.mu.Lock()
	if sess, ok := o.sessions[id]; ok {
		sess.lastQuality = snapshot
	}
	o.mu.Unlock()

	if o.hub != nil {
		o.hub.BroadcastAudioQuality(id, snapshot)
	}
	if snapshot.Score < lowQualityScore || snapshot.ClippingDetected {
		slog.Warn("degraded audio quality", "meeting_id", id,
			"score", snapshot.Score, "clipping", snapshot.ClippingDetected)
	}
}

// handleLinkClosed fires when the link exhausts its reconnect attempts. The
// meeting continues without live transcript.
func (o *Orchestrator) handleLinkClosed(id string) {
	o.recordError(id, fault.Errorf(fault.ConnectionFailed, "transcription link closed"))

	if o.hub != nil && o.healthy != nil {
		o.hub.BroadcastConnectionQuality(id, o.healthy.Overall(), stt.Disconnected.String())
	}
}

// recordError appends a meeting-level error and surfaces it as an event.
func (o *Orchestrator) recordError(id string, err error) {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	if ok && sess.status != StatusEnded {
		sess.errors = append(sess.errors, err.Error())
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	slog.Error("meeting error", "meeting_id", id, "error", err)
	if o.hub != nil {
		o.hub.BroadcastMeetingError(id, err)
	}
}

// pcmBytes encodes samples as little-endian PCM16 for the wire.
func pcmBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
