// Package tokenizer turns document and query text into index terms. Both
// sides of the index must use the same Tokenizer configuration, otherwise
// query terms will not match indexed terms.
package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "of": {}, "to": {}, "in": {}, "a": {}, "is": {},
	"it": {}, "that": {}, "for": {}, "on": {}, "as": {}, "with": {},
	"was": {}, "were": {}, "be": {}, "by": {}, "at": {}, "an": {}, "or": {},
	"from": {}, "this": {}, "which": {}, "but": {}, "not": {}, "are": {},
	"his": {}, "her": {}, "their": {}, "its": {}, "have": {}, "has": {},
	"had": {}, "you": {}, "i": {}, "he": {}, "she": {}, "we": {}, "they": {},
	"them": {}, "me": {}, "my": {}, "our": {}, "your": {},
}

// Tokenizer normalises text into terms.
type Tokenizer struct {
	dropStopWords bool
}

// New returns a Tokenizer. With dropStopWords set, common English function
// words are removed.
func New(dropStopWords bool) *Tokenizer {
	return &Tokenizer{dropStopWords: dropStopWords}
}

// Tokenize strips diacritics, lower-cases, splits on anything that is not a
// letter or digit and drops single-character non-numeric words. Terms are
// returned in text order, repeats included.
func (t *Tokenizer) Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ToLower(stripMarks(text))
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	for _, word := range words {
		if len([]rune(word)) == 1 && !unicode.IsDigit([]rune(word)[0]) {
			continue
		}
		if t.dropStopWords {
			if _, isStop := stopWords[word]; isStop {
				continue
			}
		}
		terms = append(terms, word)
	}
	return terms
}

// Frequencies counts occurrences of every term in text.
func (t *Tokenizer) Frequencies(text string) map[string]int {
	tf := make(map[string]int)
	for _, term := range t.Tokenize(text) {
		tf[term]++
	}
	return tf
}

func stripMarks(s string) string {
	tr := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(tr, s)
	if err != nil {
		return s
	}
	return out
}
