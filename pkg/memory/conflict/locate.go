// Package conflict implements the write-side pipeline that keeps the memory
// store canonical: entity location, candidate lookup, rule-based conflict
// classification, and atomic resolution.
package conflict

import (
	"sort"
	"strings"
	"unicode"
)

// Locator extracts salient entities from an utterance. It is deliberately
// deterministic: identical input always yields the identical ordered result,
// so the same fact always maps to the same conflict key.
type Locator struct {
	Stopwords   map[string]struct{}
	MaxEntities int
	MinLength   int
}

const defaultMaxEntities = 5

func NewLocator() *Locator {
	return &Locator{
		Stopwords:   defaultStopwords(),
		MaxEntities: defaultMaxEntities,
		MinLength:   3,
	}
}

// Locate returns entities most-salient first, ranked by frequency and then by
// first occurrence. An empty result is valid and means the utterance carries
// nothing worth keying a conflict on.
func (l *Locator) Locate(text string) []string {
	tokens := Tokenize(text)
	type posting struct {
		count int
		first int
	}
	counts := make(map[string]*posting)
	for i, tok := range tokens {
		if len(tok) < l.MinLength {
			continue
		}
		if _, stop := l.Stopwords[tok]; stop {
			continue
		}
		if p, ok := counts[tok]; ok {
			p.count++
		} else {
			counts[tok] = &posting{count: 1, first: i}
		}
	}
	entities := make([]string, 0, len(counts))
	for tok := range counts {
		entities = append(entities, tok)
	}
	sort.Slice(entities, func(i, j int) bool {
		a, b := counts[entities[i]], counts[entities[j]]
		if a.count != b.count {
			return a.count > b.count
		}
		return a.first < b.first
	})
	if max := l.MaxEntities; max > 0 && len(entities) > max {
		entities = entities[:max]
	}
	return entities
}

// Tokenize lowercases text and splits it into alphanumeric runs.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"the", "and", "but", "for", "nor", "not", "are", "was", "were", "been",
		"being", "have", "has", "had", "does", "did", "doing", "will", "would",
		"could", "should", "can", "may", "might", "must", "shall", "this",
		"that", "these", "those", "with", "from", "into", "about", "they",
		"them", "their", "there", "here", "where", "when", "what", "which",
		"who", "whom", "how", "why", "you", "your", "yours", "she", "her",
		"hers", "him", "his", "its", "our", "ours", "just", "very", "really",
		"some", "any", "all", "also", "too", "now", "then", "than", "still",
		"don't", "doesn't", "didn't", "won't", "can't", "i'm", "i've", "it's",
		"actually", "anymore", "instead", "longer", "like", "likes", "liked",
		"love", "loves", "loved", "hate", "hates", "hated", "enjoy", "enjoys",
		"prefer", "prefers", "favorite", "favourite", "dislike", "dislikes",
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
