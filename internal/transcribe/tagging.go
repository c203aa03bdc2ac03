package transcribe

import "strings"

// Sentiment is a coarse tone tag derived from a fixed vocabulary. It exists to
// drive downstream prioritization, not to be authoritative NLP.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

var positivePhrases = []string{
	"great", "perfect", "love", "excellent", "sounds good",
	"makes sense", "let's do it", "interested", "excited",
}

var negativePhrases = []string{
	"concern", "worried", "problem", "too expensive", "not sure",
	"frustrated", "disappointed", "won't work", "hesitant",
}

var importantPhrases = []string{
	"price", "pricing", "cost", "budget", "contract", "decision",
	"timeline", "competitor", "objection", "discount", "sign",
	"next steps", "follow up", "deal",
}

// TagSentiment classifies text by substring containment against the fixed
// vocabulary. Negative matches win over positive ones.
func TagSentiment(text string) Sentiment {
	lower := strings.ToLower(text)
	for _, phrase := range negativePhrases {
		if strings.Contains(lower, phrase) {
			return SentimentNegative
		}
	}
	for _, phrase := range positivePhrases {
		if strings.Contains(lower, phrase) {
			return SentimentPositive
		}
	}
	return SentimentNeutral
}

// IsImportant reports whether text mentions a deal-critical topic.
func IsImportant(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range importantPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
