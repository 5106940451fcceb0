package intent

import (
	"os"
	"strings"
	"unicode"
)

const maxKeywords = 20

// Closed stopword set; matches the original audit behavior rather than a
// full natural-language list.
var stopwords = map[string]bool{
	"the": true, "and": true, "or": true, "to": true, "a": true,
	"of": true, "in": true, "for": true, "is": true, "with": true,
	"on": true, "that": true, "this": true,
}

// ExtractKeywords derives the project's intent keyword set from its
// descriptive document. A missing document yields an empty set, not an
// error. Tokens are maximal runs of alphabetic characters, lowercased,
// stopword-filtered, deduplicated in first-occurrence order, and capped at
// 20 entries.
func ExtractKeywords(docPath string) ([]string, error) {
	data, err := os.ReadFile(docPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return KeywordsFromText(string(data)), nil
}

func KeywordsFromText(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, word := range tokenize(strings.ToLower(text)) {
		if stopwords[word] || seen[word] {
			continue
		}
		seen[word] = true
		out = append(out, word)
		if len(out) >= maxKeywords {
			break
		}
	}
	return out
}

// tokenize splits text into maximal alphabetic runs. Digits and punctuation
// split tokens; they are dropped, not substituted.
func tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
