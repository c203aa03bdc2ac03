package insight

import "time"

// Kind labels the insight shapes produced by the analyzers.
type Kind string

const (
	KindAnalysis Kind = "analysis"
	KindCoaching Kind = "coaching"
	KindSummary  Kind = "summary"
)

// Analysis is the structured result of a batched transcript analysis.
type Analysis struct {
	MeetingID          string    `json:"meeting_id"`
	KeyPoints          []string  `json:"key_points"`
	Objections         []string  `json:"objections"`
	BuyingSignals      []string  `json:"buying_signals"`
	SuggestedResponses []string  `json:"suggested_responses"`
	Sentiment          string    `json:"sentiment"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// Coaching is a single live guidance tip for the rep.
type Coaching struct {
	MeetingID   string    `json:"meeting_id"`
	Tip         string    `json:"tip"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Summary is the final meeting summary. KeyPoints are the importance-flagged
// transcript entries verbatim; the narrative comes from the model.
type Summary struct {
	MeetingID       string    `json:"meeting_id"`
	Text            string    `json:"text"`
	KeyPoints       []string  `json:"key_points"`
	ActionItems     []string  `json:"action_items"`
	TranscriptCount int       `json:"transcript_count"`
	DurationSeconds float64   `json:"duration_seconds"`
	GeneratedAt     time.Time `json:"generated_at"`
}
