package selection

import (
	"context"
	"strings"
	"unicode"
)

// Similarity scores each document against a query in [0,1].
type Similarity interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// LexicalSimilarity is token-set Jaccard similarity. It needs no network
// and is the fallback when no embedding provider is configured.
type LexicalSimilarity struct{}

func (LexicalSimilarity) Score(_ context.Context, query string, docs []string) ([]float64, error) {
	q := tokenSet(query)
	out := make([]float64, len(docs))
	for i, d := range docs {
		out[i] = jaccard(q, tokenSet(d))
	}
	return out, nil
}

func tokenSet(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
