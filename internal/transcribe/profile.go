package transcribe

import (
	"strings"
	"time"
)

// SpeakerProfile is the running aggregate for one diarized speaker. Created on
// first utterance, updated on every subsequent one, lifetime bound to the
// meeting.
type SpeakerProfile struct {
	Index         int       `json:"index"`
	Label         string    `json:"label"`
	TalkTime      float64   `json:"talk_time_seconds"`
	WordCount     int       `json:"word_count"`
	Pace          float64   `json:"pace_wpm"`
	LastSentiment Sentiment `json:"last_sentiment"`
	LastSeen      time.Time `json:"last_seen"`
}

// Observe folds one entry into the profile.
func (p *SpeakerProfile) Observe(e Entry) {
	p.TalkTime += e.Duration
	p.WordCount += len(strings.Fields(e.Text))
	if p.TalkTime > 0 {
		p.Pace = float64(p.WordCount) / (p.TalkTime / 60.0)
	}
	p.LastSentiment = e.Sentiment
	p.LastSeen = e.Timestamp
}
