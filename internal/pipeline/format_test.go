package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMessageReturnsSingleChunkWhenShort(t *testing.T) {
	chunks := splitMessage("short reply", 4096)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short reply", chunks[0])
}

func TestSplitMessagePrefersParagraphBoundaries(t *testing.T) {
	para1 := strings.Repeat("a", 30)
	para2 := strings.Repeat("b", 30)
	text := para1 + "\n\n" + para2
	chunks := splitMessage(text, 40)
	require.Len(t, chunks, 2)
	assert.Equal(t, para1, chunks[0])
	assert.Equal(t, para2, chunks[1])
}

func TestSplitMessageFallsBackToLineBoundaries(t *testing.T) {
	line1 := strings.Repeat("a", 20)
	line2 := strings.Repeat("b", 20)
	text := line1 + "\n" + line2
	chunks := splitMessage(text, 25)
	require.Len(t, chunks, 2)
	assert.Equal(t, line1, chunks[0])
	assert.Equal(t, line2, chunks[1])
}

func TestSplitMessageHardSplitsAnOversizedLine(t *testing.T) {
	text := strings.Repeat("x", 100)
	chunks := splitMessage(text, 30)
	for _, c := range chunks {
		assert.LessOrEqual(t, runeLen(c), 30)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitMessageNeverExceedsMaxLen(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString(strings.Repeat("word ", 10))
		b.WriteString("\n\n")
	}
	chunks := splitMessage(b.String(), 100)
	for _, c := range chunks {
		assert.LessOrEqual(t, runeLen(c), 100)
	}
}

func TestMarkdownToTelegramHTMLKeepsWhitelistedTags(t *testing.T) {
	out, err := markdownToTelegramHTML("**bold** and *italic* and `code`")
	require.NoError(t, err)
	assert.Contains(t, out, "<b>bold</b>")
	assert.Contains(t, out, "<i>italic</i>")
	assert.Contains(t, out, "<code>code</code>")
}

func TestMarkdownToTelegramHTMLCollapsesHeadingsAndLists(t *testing.T) {
	out, err := markdownToTelegramHTML("# Heading\n\n- item one\n- item two")
	require.NoError(t, err)
	assert.NotContains(t, out, "<h1>")
	assert.NotContains(t, out, "<li>")
	assert.Contains(t, out, "<b>Heading</b>")
	assert.Contains(t, out, "- item one")
	assert.Contains(t, out, "- item two")
}

func TestMarkdownToTelegramHTMLEscapesRawAngleBracketsInCode(t *testing.T) {
	out, err := markdownToTelegramHTML("`<script>alert(1)</script>`")
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestMarkdownToTelegramHTMLKeepsLinkHref(t *testing.T) {
	out, err := markdownToTelegramHTML("[click here](https://example.com/path)")
	require.NoError(t, err)
	assert.Contains(t, out, `<a href="https://example.com/path">click here</a>`)
}
