package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pitchlens/pitchlens/internal/audio"
	"github.com/pitchlens/pitchlens/internal/health"
	"github.com/pitchlens/pitchlens/internal/insight"
	"github.com/pitchlens/pitchlens/internal/transcribe"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

// Broadcast fans the message out to every client, dropping it for clients
// whose buffer is full.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastMeetingStarted(meetingID, title string) {
	h.broadcastEvent(MeetingStartedEvent{
		Event:     newEvent("meeting_started", time.Now().UTC()),
		MeetingID: meetingID,
		Title:     title,
	})
}

func (h *Hub) BroadcastMeetingEnded(meetingID string, duration time.Duration) {
	h.broadcastEvent(MeetingEndedEvent{
		Event:     newEvent("meeting_ended", time.Now().UTC()),
		MeetingID: meetingID,
		Duration:  duration.Seconds(),
	})
}

func (h *Hub) BroadcastLiveTranscript(meetingID string, entry transcribe.Entry) {
	h.broadcastEvent(LiveTranscriptEvent{
		Event:     newEvent("live_transcript", entry.Timestamp),
		MeetingID: meetingID,
		Speaker:   entry.Speaker,
		Text:      entry.Text,
		Sentiment: string(entry.Sentiment),
		Important: entry.Important,
		Duration:  entry.Duration,
	})
}

func (h *Hub) BroadcastLiveTranscriptInterim(meetingID string, speaker int, text string) {
	h.broadcastEvent(LiveTranscriptEvent{
		Event:     newEvent("live_transcript", time.Now().UTC()),
		MeetingID: meetingID,
		Speaker:   fmt.Sprintf("Speaker %d", speaker),
		Text:      text,
		Interim:   true,
	})
}

func (h *Hub) BroadcastInsightReady(meetingID string, kind insight.Kind, payload any) {
	h.broadcastEvent(InsightReadyEvent{
		Event:     newEvent("insight_ready", time.Now().UTC()),
		MeetingID: meetingID,
		Kind:      string(kind),
		Payload:   payload,
	})
}

func (h *Hub) BroadcastAudioQuality(meetingID string, snapshot audio.Snapshot) {
	h.broadcastEvent(AudioQualityEvent{
		Event:     newEvent("audio_quality", time.Now().UTC()),
		MeetingID: meetingID,
		Score:     snapshot.Score,
		Clipping:  snapshot.ClippingDetected,
	})
}

func (h *Hub) BroadcastConnectionQuality(meetingID string, overall health.Status, linkState string) {
	h.broadcastEvent(ConnectionQualityEvent{
		Event:     newEvent("connection_quality", time.Now().UTC()),
		MeetingID: meetingID,
		Overall:   string(overall),
		LinkState: linkState,
	})
}

func (h *Hub) BroadcastMeetingError(meetingID string, err error) {
	h.broadcastEvent(MeetingErrorEvent{
		Event:     newEvent("meeting_error", time.Now().UTC()),
		MeetingID: meetingID,
		Error:     err.Error(),
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("event marshal failed", "error", err)
		return
	}
	h.Broadcast(payload)
}
