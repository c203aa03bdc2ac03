package insight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pitchlens/pitchlens/internal/config"
	"github.com/pitchlens/pitchlens/internal/llm"
	"github.com/pitchlens/pitchlens/internal/transcribe"
)

// Queue priorities. Lower is served first: live coaching preempts batched
// analysis, and the final summary sits in between so a stop is not starved
// by a backlog of batch work.
const (
	priorityCoaching = 1
	prioritySummary  = 2
	priorityAnalysis = 5
)

const (
	analysisSystem = "You are a sales-call analyst. Answer only with the labeled sections " +
		"KEY POINTS, OBJECTIONS, BUYING SIGNALS, SUGGESTED RESPONSES and SENTIMENT, " +
		"each section a list of short bullet lines. SENTIMENT is a single word: " +
		"positive, negative or neutral."
	coachingSystem = "You are a live sales coach. Reply with one section labeled TIP " +
		"containing a single short actionable sentence for the rep."
	summarySystem = "You summarize sales calls. Answer with a SUMMARY section of one or two " +
		"paragraphs and an ACTION ITEMS section of short bullet lines."
)

// Analyzer turns transcript entries into prompts, routes them through the
// queue, and parses model output into structured insight values.
type Analyzer struct {
	queue *Queue
	cfg   config.Insight
	now   func() time.Time
}

func NewAnalyzer(queue *Queue, cfg config.Insight) *Analyzer {
	return &Analyzer{queue: queue, cfg: cfg, now: time.Now}
}

// AnalyzeBatch analyzes a batch of finalized entries. Identical batches for
// the same meeting hit the response cache instead of the backend.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, meetingID string, entries []transcribe.Entry) (Analysis, error) {
	prompt := transcriptBlock(entries)
	resp, err := a.queue.Submit(ctx, Request{
		Priority: priorityAnalysis,
		CacheKey: "analysis:" + meetingID,
		LLM:      a.request(analysisSystem, prompt),
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("analyze batch: %w", err)
	}

	analysis := parseAnalysis(resp.Text)
	analysis.MeetingID = meetingID
	analysis.GeneratedAt = a.now().UTC()
	return analysis, nil
}

// Coach produces one live tip. Coaching requests are realtime: they skip the
// cache entirely and jump the queue ahead of batch work.
func (a *Analyzer) Coach(ctx context.Context, meetingID string, entries []transcribe.Entry) (Coaching, error) {
	prompt := "The call so far:\n\n" + transcriptBlock(entries) +
		"\n\nGive the rep one tip for their next response."
	resp, err := a.queue.Submit(ctx, Request{
		Priority: priorityCoaching,
		Realtime: true,
		LLM:      a.request(coachingSystem, prompt),
	})
	if err != nil {
		return Coaching{}, fmt.Errorf("coach: %w", err)
	}

	return Coaching{
		MeetingID:   meetingID,
		Tip:         parseCoaching(resp.Text),
		GeneratedAt: a.now().UTC(),
	}, nil
}

// Summarize produces the final meeting summary over the complete transcript.
// KeyPoints are filled from the importance-flagged entries themselves, not
// from model output, so they always match what was highlighted live.
func (a *Analyzer) Summarize(ctx context.Context, meetingID string, entries []transcribe.Entry, duration time.Duration) (Summary, error) {
	summary := Summary{
		MeetingID:       meetingID,
		KeyPoints:       importantTexts(entries),
		TranscriptCount: len(entries),
		DurationSeconds: duration.Seconds(),
		GeneratedAt:     a.now().UTC(),
	}

	if len(entries) == 0 {
		summary.Text = "No speech was transcribed during this meeting."
		return summary, nil
	}

	resp, err := a.queue.Submit(ctx, Request{
		Priority: prioritySummary,
		CacheKey: "summary:" + meetingID,
		LLM:      a.request(summarySystem, transcriptBlock(entries)),
	})
	if err != nil {
		return Summary{}, fmt.Errorf("summarize: %w", err)
	}

	summary.Text, summary.ActionItems = parseSummary(resp.Text)
	return summary, nil
}

func (a *Analyzer) request(system, prompt string) llm.Request {
	return llm.Request{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		System:      system,
		Prompt:      prompt,
	}
}

func transcriptBlock(entries []transcribe.Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", e.Speaker, e.Text)
	}
	return b.String()
}

func importantTexts(entries []transcribe.Entry) []string {
	points := make([]string, 0, 4)
	for _, e := range entries {
		if e.Important {
			points = append(points, e.Text)
		}
	}
	return points
}
