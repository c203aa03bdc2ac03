package transcribe

import (
	"fmt"
	"strings"
	"time"
)

// Word is a single recognized word with optional diarization tag.
type Word struct {
	Speaker        *int
	PunctuatedWord string
	Start          float64
	End            float64
	Confidence     float64
}

// Entry is one finalized transcript utterance. Entries are append-only and
// ordered by arrival; only the importance flag may be updated after creation.
type Entry struct {
	Speaker      string    `json:"speaker"`
	SpeakerIndex int       `json:"speaker_index"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
	Duration     float64   `json:"duration"`
	Confidence   float64   `json:"confidence"`
	Sentiment    Sentiment `json:"sentiment"`
	Important    bool      `json:"important"`
}

// MajoritySpeaker tallies word-level speaker tags and returns the index that
// owns the most words. Ties resolve to the lowest index. Untagged words do not
// count; -1 only when no word carries a tag.
func MajoritySpeaker(words []Word) int {
	counts := make(map[int]int, 4)
	for _, w := range words {
		if w.Speaker == nil {
			continue
		}
		counts[*w.Speaker]++
	}
	if len(counts) == 0 {
		return -1
	}

	best := -1
	bestCount := 0
	for speaker, count := range counts {
		if count > bestCount || (count == bestCount && speaker < best) {
			best = speaker
			bestCount = count
		}
	}
	return best
}

// EntryFromWords builds a finalized entry from the words of one result,
// attributing it to the majority speaker and tagging sentiment and importance.
func EntryFromWords(words []Word, now time.Time) (Entry, bool) {
	if len(words) == 0 {
		return Entry{}, false
	}

	var b strings.Builder
	var confidence float64
	for i, w := range words {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(w.PunctuatedWord)
		confidence += w.Confidence
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return Entry{}, false
	}

	speaker := MajoritySpeaker(words)
	entry := Entry{
		Speaker:      fmt.Sprintf("Speaker %d", speaker),
		SpeakerIndex: speaker,
		Text:         text,
		Timestamp:    now.UTC(),
		Duration:     words[len(words)-1].End - words[0].Start,
		Confidence:   confidence / float64(len(words)),
		Sentiment:    TagSentiment(text),
		Important:    IsImportant(text),
	}
	return entry, true
}

// FormatMarkdown renders the entry for transcript export.
func (e Entry) FormatMarkdown() string {
	ts := e.Timestamp.Format("15:04:05")
	return fmt.Sprintf("**[%s] %s:** %s", ts, e.Speaker, strings.TrimSpace(e.Text))
}
