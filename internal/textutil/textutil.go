// Package textutil holds the lexical tokenizer shared by search and similarity scoring.
package textutil

import (
	"strings"
	"unicode"
)

// MinTokenLen is the shortest token kept by ContentTokens.
const MinTokenLen = 3

var stopWords = map[string]bool{
	"a": true, "about": true, "after": true, "all": true, "also": true, "an": true,
	"and": true, "any": true, "are": true, "as": true, "at": true, "be": true,
	"been": true, "but": true, "by": true, "can": true, "could": true, "did": true,
	"do": true, "does": true, "each": true, "for": true, "from": true, "had": true,
	"has": true, "have": true, "how": true, "if": true, "in": true, "into": true,
	"is": true, "it": true, "its": true, "just": true, "more": true, "most": true,
	"not": true, "of": true, "on": true, "or": true, "other": true, "our": true,
	"out": true, "should": true, "so": true, "some": true, "such": true, "than": true,
	"that": true, "the": true, "their": true, "them": true, "then": true, "there": true,
	"these": true, "they": true, "this": true, "those": true, "to": true, "too": true,
	"up": true, "very": true, "was": true, "way": true, "we": true, "were": true,
	"what": true, "when": true, "where": true, "which": true, "while": true, "who": true,
	"why": true, "will": true, "with": true, "would": true, "you": true, "your": true,
}

// IsStopWord reports whether w (lower-case) is a stop word.
func IsStopWord(w string) bool {
	return stopWords[w]
}

// Words splits s into lower-cased runs of letters and digits.
func Words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContentTokens returns the set of words in s that are at least MinTokenLen
// runes long and are not stop words.
func ContentTokens(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range Words(s) {
		if len([]rune(w)) < MinTokenLen || stopWords[w] {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets yield 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Set builds a string set.
func Set(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}
