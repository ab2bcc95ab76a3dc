package openai

import (
	"strings"
	"unicode"
)

// maxExtractionInput caps the text sent for extraction, in runes.
const maxExtractionInput = 8000

// scrubString removes control characters, collapses whitespace and caps length.
func scrubString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if runes := []rune(s); len(runes) > maxExtractionInput {
		s = string(runes[:maxExtractionInput])
	}
	return s
}
