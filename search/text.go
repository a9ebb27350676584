package search

import (
	"strings"
	"unicode"
)

// Stop words ignored when checking for verbatim matches.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "or": true, "if": true, "can": true, "your": true,
	"how": true, "what": true, "when": true, "does": true,
}

// tokenizeAndFilter lowercases text, splits it on anything that is not a
// letter, digit or apostrophe, and removes stop words.
func tokenizeAndFilter(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	filtered := words[:0]
	for _, word := range words {
		word = strings.Trim(word, "'")
		if word != "" && !stopWords[word] {
			filtered = append(filtered, word)
		}
	}
	return filtered
}

// containsAllQueryWords reports whether every non-stop word of query occurs
// in document. A query of only stop words matches nothing.
func containsAllQueryWords(document, query string) bool {
	queryWords := tokenizeAndFilter(query)
	if len(queryWords) == 0 {
		return false
	}

	docWords := make(map[string]struct{})
	for _, word := range tokenizeAndFilter(document) {
		docWords[word] = struct{}{}
	}
	for _, word := range queryWords {
		if _, ok := docWords[word]; !ok {
			return false
		}
	}
	return true
}
