package ingestion

import (
	"testing"

	"github.com/poiesic/lattice/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlainText(t *testing.T) {
	text, err := Parse("notes.txt", []byte("first line\r\nsecond line"))
	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond line", text)
}

func TestParseMarkdownDropsSyntax(t *testing.T) {
	source := "# Paris\n\nThe *Eiffel Tower* stands in [Paris](https://example.com).\n\n- first\n- second\n\n```\ncode here\n```\n"
	text, err := Parse("guide.md", []byte(source))
	require.NoError(t, err)

	assert.Contains(t, text, "Paris\n\n")
	assert.Contains(t, text, "The Eiffel Tower stands in Paris.")
	assert.Contains(t, text, "first")
	assert.Contains(t, text, "code here")
	assert.NotContains(t, text, "#")
	assert.NotContains(t, text, "*")
	assert.NotContains(t, text, "https://")
}

func TestParseExtensionIsCaseInsensitive(t *testing.T) {
	text, err := Parse("README.MARKDOWN", []byte("**bold** words"))
	require.NoError(t, err)
	assert.Contains(t, text, "bold words")
}

func TestParseRejectsUnsupportedFormat(t *testing.T) {
	_, err := Parse("slides.pptx", []byte("data"))
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestParseRejectsEmptyText(t *testing.T) {
	_, err := Parse("blank.txt", []byte(" \n\t "))
	assert.ErrorIs(t, err, core.ErrEmptyContent)
}

func TestParseMalformedPDF(t *testing.T) {
	_, err := Parse("broken.pdf", []byte("%PDF-1.4 not really a pdf"))
	assert.Error(t, err)
}
