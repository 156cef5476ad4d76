package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeByURLDropsDuplicatesAndEmpty(t *testing.T) {
	in := []searchResult{
		{Title: "a", URL: "https://a.example"},
		{Title: "a-dup", URL: "https://a.example"},
		{Title: "no-url", URL: ""},
		{Title: "b", URL: "https://b.example"},
	}
	out := dedupeByURL(in)
	assert.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Title)
	assert.Equal(t, "b", out[1].Title)
}

func TestFormatSearchResultsEmpty(t *testing.T) {
	assert.Equal(t, "no results", formatSearchResults(nil))
}

func TestFormatSearchResultsIncludesSnippet(t *testing.T) {
	out := formatSearchResults([]searchResult{{Title: "T", URL: "https://x", Snippet: "snip"}})
	assert.Contains(t, out, "T")
	assert.Contains(t, out, "https://x")
	assert.Contains(t, out, "snip")
}

func TestSearchToolExecuteRejectsEmptyQuery(t *testing.T) {
	st := NewSearchTool("", "", "")
	result, ok, err := st.Execute(nil, 1, `{"query":"  "}`)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "query must not be empty", result)
}

func TestSearchToolExecuteSkipsUnconfiguredProviders(t *testing.T) {
	st := NewSearchTool("", "", "")
	result, ok, err := st.Execute(nil, 1, `{"query":"go programming"}`)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "no results", result)
}
