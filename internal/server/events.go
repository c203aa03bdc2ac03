package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type MeetingStartedEvent struct {
	Event
	MeetingID string `json:"meeting_id"`
	Title     string `json:"title"`
}

type MeetingEndedEvent struct {
	Event
	MeetingID string  `json:"meeting_id"`
	Duration  float64 `json:"duration"`
}

type LiveTranscriptEvent struct {
	Event
	MeetingID string  `json:"meeting_id"`
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Sentiment string  `json:"sentiment"`
	Important bool    `json:"important"`
	Duration  float64 `json:"duration"`
	Interim   bool    `json:"interim"`
}

type InsightReadyEvent struct {
	Event
	MeetingID string `json:"meeting_id"`
	Kind      string `json:"kind"`
	Payload   any    `json:"payload"`
}

type AudioQualityEvent struct {
	Event
	MeetingID string  `json:"meeting_id"`
	Score     float64 `json:"score"`
	Clipping  bool    `json:"clipping"`
}

type ConnectionQualityEvent struct {
	Event
	MeetingID string `json:"meeting_id"`
	Overall   string `json:"overall"`
	LinkState string `json:"link_state"`
}

type MeetingErrorEvent struct {
	Event
	MeetingID string `json:"meeting_id"`
	Error     string `json:"error"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
