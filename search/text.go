package search

import "strings"

// Stop words dropped from query terms
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "what": true, "which": true, "who": true, "how": true,
	"does": true, "did": true, "about": true, "where": true, "when": true,
}

// tokenizeAndFilter splits text into words, lowercases, trims punctuation, and removes stop words
func tokenizeAndFilter(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))
	seen := make(map[string]bool, len(words))

	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))
		if cleaned == "" || stopWords[cleaned] || seen[cleaned] {
			continue
		}
		seen[cleaned] = true
		filtered = append(filtered, cleaned)
	}

	return filtered
}
