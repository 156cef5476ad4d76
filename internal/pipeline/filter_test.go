package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterThinkingStripsWholeBlock(t *testing.T) {
	in := "<think>the user wants X</think>Here is your answer."
	assert.Equal(t, "Here is your answer.", filterThinking(in))
}

func TestFilterThinkingIsCaseInsensitiveAndMultiline(t *testing.T) {
	in := "<THINK>\nline one\nline two\n</THINK>\nAnswer."
	assert.Equal(t, "Answer.", filterThinking(in))
}

func TestFilterThinkingHandlesBracketForm(t *testing.T) {
	in := "[thinking]internal monologue[/thinking]Final text"
	assert.Equal(t, "Final text", filterThinking(in))
}

func TestFilterThinkingFallsBackToTagStripWhenBlockIsEmptyAfterStripping(t *testing.T) {
	in := "<think></think><reasoning></reasoning>"
	got := filterThinking(in)
	assert.Empty(t, got)
}

func TestFilterThinkingLeavesUnterminatedTagUnstrippedInFinalText(t *testing.T) {
	// A block with no matching close tag never matches the whole-block
	// pattern, so the final (non-streaming) filter leaves it as-is;
	// only the streaming variant hides an in-progress open tag.
	in := "<think>only thoughts, no closing tag"
	assert.Equal(t, in, filterThinking(in))
}

func TestFilterThinkingLeavesPlainTextAlone(t *testing.T) {
	assert.Equal(t, "just a normal reply", filterThinking("just a normal reply"))
}

func TestStreamingDisplayTextSuppressesUnterminatedTag(t *testing.T) {
	assert.Equal(t, "", streamingDisplayText("<think>still reasoning"))
	assert.Equal(t, "before the tag", streamingDisplayText("before the tag<think>still reasoning"))
}

func TestStreamingDisplayTextShowsCompletedBlockOutput(t *testing.T) {
	buffer := "<think>done thinking</think>visible so far"
	assert.Equal(t, "visible so far", streamingDisplayText(buffer))
}

func TestStreamingDisplayTextPassesThroughPlainText(t *testing.T) {
	assert.Equal(t, "hello there", streamingDisplayText("hello there"))
}
