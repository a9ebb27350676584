package chunk

import (
	"regexp"
	"strings"
	"unicode"
)

var paragraphBreak = regexp.MustCompile(`\n[ \t\r\f]*\n`)

// SplitSentences segments text into sentences. Paragraph breaks always end
// a sentence. Within a paragraph, whitespace runs collapse to one space and a
// sentence ends after '.', '!' or '?' (plus any closing quotes or brackets)
// when followed by whitespace.
func SplitSentences(text string) []string {
	var sentences []string
	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.Join(strings.Fields(para), " ")
		if para == "" {
			continue
		}
		sentences = appendSentences(sentences, para)
	}
	return sentences
}

func appendSentences(out []string, para string) []string {
	runes := []rune(para)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && isCloser(runes[end]) {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
		i = end - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return isTerminator(r)
}
