package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/timmy/tunematch/internal/cache"
	"github.com/timmy/tunematch/internal/metrics"
)

// DefaultSimilarityThreshold is the cosine similarity above which two
// terms count as the same concept.
const DefaultSimilarityThreshold = 0.65

// TextEmbedder embeds short strings.
type TextEmbedder interface {
	EmbedStrings(ctx context.Context, texts []string) ([][]float32, error)
}

type SemanticMatcherConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// SimilarMatch is one FindSimilar result.
type SimilarMatch struct {
	Text  string
	Score float64
}

// SemanticMatcher compares moods, themes and other short labels. Exact and
// substring matches never reach the embedding backend; everything else is
// compared by cosine similarity of cached term embeddings.
type SemanticMatcher struct {
	embedder TextEmbedder
	cache    *cache.FIFO[[]float32]
	metrics  *metrics.Recorder
}

func NewSemanticMatcher(embedder TextEmbedder, cfg SemanticMatcherConfig, rec *metrics.Recorder) *SemanticMatcher {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	return &SemanticMatcher{
		embedder: embedder,
		cache:    cache.NewFIFO[[]float32](cfg.TTL, cfg.MaxEntries),
		metrics:  rec,
	}
}

func normalizeTerm(s string) string {
	return strings.ToLower(normalizeWhitespace(s))
}

// lexicalMatch expects normalized, non-empty terms.
func lexicalMatch(a, b string) bool {
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

// AreSimilar reports whether a and b name the same concept.
func (m *SemanticMatcher) AreSimilar(ctx context.Context, a, b string, threshold float64) (bool, error) {
	na, nb := normalizeTerm(a), normalizeTerm(b)
	if na == "" || nb == "" {
		return false, nil
	}
	if lexicalMatch(na, nb) {
		m.metrics.SemanticLookup(metrics.ResultFastPath, 1)
		return true, nil
	}

	vectors, err := m.vectors(ctx, []string{na, nb})
	if err != nil {
		return false, err
	}
	return cosineSimilarity(vectors[na], vectors[nb]) >= threshold, nil
}

// CountMatches counts the elements of listA that match any element of
// listB. Each element of listA counts at most once.
func (m *SemanticMatcher) CountMatches(ctx context.Context, listA, listB []string, threshold float64) (int, error) {
	termsA, termsB := normalizeTerms(listA), normalizeTerms(listB)
	if len(termsA) == 0 || len(termsB) == 0 {
		return 0, nil
	}

	count := 0
	var unresolved []string
	for _, a := range termsA {
		if anyLexicalMatch(a, termsB) {
			count++
			continue
		}
		unresolved = append(unresolved, a)
	}
	m.metrics.SemanticLookup(metrics.ResultFastPath, count)
	if len(unresolved) == 0 {
		return count, nil
	}

	vectors, err := m.vectors(ctx, append(append([]string{}, unresolved...), termsB...))
	if err != nil {
		return 0, err
	}
	for _, a := range unresolved {
		for _, b := range termsB {
			if cosineSimilarity(vectors[a], vectors[b]) >= threshold {
				count++
				break
			}
		}
	}
	return count, nil
}

// FindSimilar returns candidates matching query, best first. Lexical matches
// score 1.
func (m *SemanticMatcher) FindSimilar(ctx context.Context, query string, candidates []string, threshold float64) ([]SimilarMatch, error) {
	q := normalizeTerm(query)
	if q == "" {
		return nil, nil
	}

	scores := make(map[string]float64, len(candidates))
	var toEmbed []string
	for _, c := range candidates {
		nc := normalizeTerm(c)
		if nc == "" {
			continue
		}
		if lexicalMatch(q, nc) {
			scores[c] = 1
			continue
		}
		toEmbed = append(toEmbed, nc)
	}

	if len(toEmbed) > 0 {
		vectors, err := m.vectors(ctx, append(toEmbed, q))
		if err != nil {
			return nil, err
		}
		for _, c := range candidates {
			if _, done := scores[c]; done {
				continue
			}
			nc := normalizeTerm(c)
			if nc == "" {
				continue
			}
			scores[c] = cosineSimilarity(vectors[q], vectors[nc])
		}
	}

	matches := make([]SimilarMatch, 0, len(scores))
	for text, score := range scores {
		if score >= threshold {
			matches = append(matches, SimilarMatch{Text: text, Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Text < matches[j].Text
	})
	return matches, nil
}

// ComputeSimilarityMatrix returns cosine similarities, rows for listA and
// columns for listB. Blank entries score 0.
func (m *SemanticMatcher) ComputeSimilarityMatrix(ctx context.Context, listA, listB []string) ([][]float64, error) {
	terms := append(normalizeTerms(listA), normalizeTerms(listB)...)
	vectors, err := m.vectors(ctx, terms)
	if err != nil {
		return nil, err
	}

	matrix := make([][]float64, len(listA))
	for i, a := range listA {
		matrix[i] = make([]float64, len(listB))
		na := normalizeTerm(a)
		for j, b := range listB {
			matrix[i][j] = cosineSimilarity(vectors[na], vectors[normalizeTerm(b)])
		}
	}
	return matrix, nil
}

// Flush drops all cached term embeddings.
func (m *SemanticMatcher) Flush() {
	m.cache.Flush()
}

// vectors returns embeddings for normalized terms, fetching all cache
// misses in one backend call.
func (m *SemanticMatcher) vectors(ctx context.Context, terms []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(terms))
	var misses []string
	for _, t := range terms {
		if _, seen := out[t]; seen || t == "" {
			continue
		}
		if vec, ok := m.cache.Get(t); ok {
			out[t] = vec
			continue
		}
		out[t] = nil
		misses = append(misses, t)
	}
	m.metrics.SemanticLookup(metrics.ResultHit, len(out)-len(misses))
	m.metrics.SemanticLookup(metrics.ResultMiss, len(misses))
	if len(misses) == 0 {
		return out, nil
	}

	embedded, err := m.embedder.EmbedStrings(ctx, misses)
	if err != nil {
		return nil, err
	}
	for i, t := range misses {
		out[t] = embedded[i]
		m.cache.Set(t, embedded[i])
	}
	return out, nil
}

func normalizeTerms(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if n := normalizeTerm(item); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func anyLexicalMatch(term string, candidates []string) bool {
	for _, c := range candidates {
		if lexicalMatch(term, c) {
			return true
		}
	}
	return false
}
