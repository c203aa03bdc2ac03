package insight

import "strings"

// Model responses are requested as plain labeled sections with bulleted
// items. The parsers here are tolerant of blank lines, numbered bullets,
// and missing sections so a slightly off-format response still yields
// usable structure instead of an error.

func parseSections(text string) map[string][]string {
	sections := make(map[string][]string)
	current := ""
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if name, rest, ok := sectionHeader(line); ok {
			current = name
			if _, exists := sections[current]; !exists {
				sections[current] = nil
			}
			if rest != "" {
				sections[current] = append(sections[current], trimBullet(rest))
			}
			continue
		}
		if current == "" {
			continue
		}
		sections[current] = append(sections[current], trimBullet(line))
	}
	return sections
}

// sectionHeader recognizes "NAME:" lines; content after the colon belongs to
// the section too.
func sectionHeader(line string) (name, rest string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line[:idx], "##")))
	switch name {
	case "key points", "objections", "buying signals", "suggested responses",
		"sentiment", "summary", "action items", "tip":
	default:
		return "", "", false
	}
	return name, strings.TrimSpace(line[idx+1:]), true
}

func trimBullet(line string) string {
	line = strings.TrimSpace(line)
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):])
		}
	}
	// Numbered bullets like "1. " or "12) ".
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:])
	}
	return line
}

func sectionItems(sections map[string][]string, name string) []string {
	items := sections[name]
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it != "" {
			out = append(out, it)
		}
	}
	return out
}

func sectionText(sections map[string][]string, name string) string {
	return strings.Join(sections[name], " ")
}

// parseAnalysis maps a sectioned analysis response onto an Analysis.
// Sentiment falls back to neutral when the model omits the section.
func parseAnalysis(text string) Analysis {
	sections := parseSections(text)
	sentiment := strings.ToLower(sectionText(sections, "sentiment"))
	switch sentiment {
	case "positive", "negative", "neutral":
	default:
		sentiment = "neutral"
	}
	return Analysis{
		KeyPoints:          sectionItems(sections, "key points"),
		Objections:         sectionItems(sections, "objections"),
		BuyingSignals:      sectionItems(sections, "buying signals"),
		SuggestedResponses: sectionItems(sections, "suggested responses"),
		Sentiment:          sentiment,
	}
}

// parseCoaching extracts the tip line. A response without the section
// label is treated as the tip itself, trimmed to its first line.
func parseCoaching(text string) string {
	sections := parseSections(text)
	if tip := sectionText(sections, "tip"); tip != "" {
		return tip
	}
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return trimBullet(line)
		}
	}
	return ""
}

// parseSummary pulls the narrative and action items. Key points are not
// taken from the model; the caller fills them from the transcript.
func parseSummary(text string) (narrative string, actionItems []string) {
	sections := parseSections(text)
	narrative = sectionText(sections, "summary")
	if narrative == "" {
		narrative = strings.TrimSpace(text)
	}
	return narrative, sectionItems(sections, "action items")
}
