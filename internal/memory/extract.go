package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Salience types.
const (
	Emotion  = "emotion"
	Decision = "decision"
	Insight  = "insight"
)

var (
	emotionMarkers = []string{
		"i wish", "i want", "i feel", "i love", "i hope",
		"thank you", "amazing", "proud", "worried", "scared",
	}
	decisionMarkers = []string{
		"i decided", "i'm going to", "the plan is", "new direction",
		"switching to", "from now on", "let's do", "the path is",
	}
	insightMarkers = []string{
		"i learned", "key insight", "the real", "what actually",
		"turns out", "the truth is", "important:", "lesson:",
	}
)

const (
	maxExtractLen = 300
	minExtractLen = 25
)

// Extract is one salient line pulled from a compacted batch.
type Extract struct {
	Type    string
	Content string
	Role    string
}

// Key is the store key for e, stable for identical content.
func (e Extract) Key() string {
	sum := sha256.Sum256([]byte(e.Content))
	return "extract:" + e.Type + ":" + hex.EncodeToString(sum[:6])
}

// ExtractSalient scans msgs with fixed marker lists. Each message yields at
// most one extract: emotions (user turns only, whole message) take priority
// over decisions, then insights (the first matching sentence).
func ExtractSalient(msgs []Message) []Extract {
	var out []Extract
	for _, m := range msgs {
		if m.Content == "" || m.Role == RoleSystem {
			continue
		}
		lower := strings.ToLower(m.Content)

		if m.Role == RoleUser && containsAny(lower, emotionMarkers) != "" {
			out = appendClean(out, Extract{Type: Emotion, Content: clip(strings.TrimSpace(m.Content)), Role: m.Role})
			continue
		}
		if s := sentenceFor(m.Content, lower, decisionMarkers); s != "" {
			out = appendClean(out, Extract{Type: Decision, Content: s, Role: m.Role})
			continue
		}
		if s := sentenceFor(m.Content, lower, insightMarkers); s != "" {
			out = appendClean(out, Extract{Type: Insight, Content: s, Role: m.Role})
		}
	}
	return out
}

// SaveExtracts writes extracts to the store and returns how many were saved.
func SaveExtracts(ctx context.Context, store *Store, extracts []Extract) int {
	n := 0
	for _, e := range extracts {
		if err := store.Save(ctx, e.Key(), e.Content); err == nil {
			n++
		}
	}
	return n
}

// sentenceFor returns the first sentence holding the first marker found in
// lower, or "" when no sentence is long enough.
func sentenceFor(content, lower string, markers []string) string {
	marker := containsAny(lower, markers)
	if marker == "" {
		return ""
	}
	for _, s := range strings.Split(strings.ReplaceAll(content, "\n", ". "), ". ") {
		s = strings.TrimSpace(s)
		if len(s) > 20 && strings.Contains(strings.ToLower(s), marker) {
			return clip(s)
		}
	}
	return ""
}

func containsAny(lower string, markers []string) string {
	for _, mk := range markers {
		if strings.Contains(lower, mk) {
			return mk
		}
	}
	return ""
}

func appendClean(out []Extract, e Extract) []Extract {
	c := e.Content
	switch {
	case len(strings.TrimSpace(c)) < minExtractLen:
	case strings.Contains(strings.ToLower(c), "<html"), strings.Contains(c, "<!DOCTYPE"):
	case strings.HasPrefix(c, "ID: "), strings.Contains(c, "Text: @"):
	case strings.Contains(c, "[AUTONOMOUS TICK]"), strings.HasPrefix(c, SummaryPrefix):
	default:
		out = append(out, e)
	}
	return out
}

func clip(s string) string {
	if len(s) <= maxExtractLen {
		return s
	}
	return strings.ToValidUTF8(s[:maxExtractLen], "")
}
