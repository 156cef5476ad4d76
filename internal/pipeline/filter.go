package pipeline

import (
	"regexp"
	"strings"
)

// thinkingBlockPatterns strip a hidden-thought wrapper and everything
// inside it. Matching is non-greedy and case-insensitive so a model
// that emits "<Think>" or mixed case is still caught.
var thinkingBlockPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`),
	regexp.MustCompile(`(?is)\[thinking\].*?\[/thinking\]`),
}

// thinkingTagOnlyPatterns strip just the wrapper, keeping the inner
// text. Used as the fallback when removing whole blocks would leave
// nothing to show the user.
var thinkingTagOnlyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)</?think>`),
	regexp.MustCompile(`(?i)</?thinking>`),
	regexp.MustCompile(`(?i)</?reasoning>`),
	regexp.MustCompile(`(?i)\[/?thinking\]`),
}

// openThinkingMarkers is the lowercase opening half of each wrapper,
// used during streaming to find an as-yet-unterminated tag.
var openThinkingMarkers = []string{"<think>", "<thinking>", "<reasoning>", "[thinking]"}

// filterThinking is the final, non-streaming filter applied once a
// turn's full text is known. If stripping whole blocks empties the
// text, it falls back to stripping only the tag markers and keeps the
// inner text; the result is empty only when the input holds nothing
// but tags and whitespace.
func filterThinking(text string) string {
	stripped := stripThinkingBlocks(text)
	if strings.TrimSpace(stripped) != "" {
		return stripped
	}
	return stripTagsOnly(text)
}

func stripThinkingBlocks(text string) string {
	for _, p := range thinkingBlockPatterns {
		text = p.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

func stripTagsOnly(text string) string {
	for _, p := range thinkingTagOnlyPatterns {
		text = p.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// streamingDisplayText computes what's safe to show mid-stream from
// the buffer accumulated so far: whole thinking blocks are dropped,
// and an opening tag with no matching close yet suppresses everything
// from that point on (the caller falls back to the "Thinking…"
// placeholder when the result is empty but content has arrived).
func streamingDisplayText(buffer string) string {
	visible := stripThinkingBlocks(buffer)
	return cutAtUnterminatedOpenTag(visible)
}

func cutAtUnterminatedOpenTag(s string) string {
	lower := strings.ToLower(s)
	cut := len(s)
	for _, marker := range openThinkingMarkers {
		if idx := strings.Index(lower, marker); idx != -1 && idx < cut {
			cut = idx
		}
	}
	return strings.TrimSpace(s[:cut])
}
