package knowledge

import "strings"

// filterByTopic narrows entries to those mentioning the topic. When the
// filter would discard everything it returns the full set instead, so later
// rounds always have prior material to work from.
func filterByTopic(entries []Entry, topic string) []Entry {
	if strings.TrimSpace(topic) == "" {
		return entries
	}
	var kept []Entry
	for _, e := range entries {
		if matchesTopic(e, topic) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		return entries
	}
	return kept
}

// matchesTopic reports whether an entry mentions any substantial word of the topic
func matchesTopic(e Entry, topic string) bool {
	words := strings.Fields(strings.ToLower(topic))
	if len(words) == 0 {
		return true
	}

	var sb strings.Builder
	sb.WriteString(strings.ToLower(e.Topic))
	for _, f := range e.Findings {
		sb.WriteString(" ")
		sb.WriteString(strings.ToLower(f.Section))
	}
	hay := sb.String()

	for _, w := range words {
		if len(w) <= 3 {
			continue
		}
		if strings.Contains(hay, w) {
			return true
		}
	}
	return false
}

// tailLimit keeps the most recent entries when a limit is set
func tailLimit(entries []Entry, limit int) []Entry {
	if limit <= 0 || len(entries) <= limit {
		return entries
	}
	return entries[len(entries)-limit:]
}
