package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripSearchHighlightTags(t *testing.T) {
	in := `A <span class="searchmatch">Go</span> example`
	assert.Equal(t, "A Go example", stripSearchHighlightTags(in))
}

func TestNewWikipediaToolDefaultsLanguage(t *testing.T) {
	wt := NewWikipediaTool("")
	assert.Equal(t, "en", wt.defaultLanguage)
}

func TestWikipediaToolExecuteRejectsEmptyQuery(t *testing.T) {
	wt := NewWikipediaTool("en")
	result, ok, err := wt.Execute(context.Background(), 1, `{"query":"  "}`)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "query must not be empty", result)
}
