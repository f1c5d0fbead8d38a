package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/tunematch/internal/repository"
)

// semanticFixture wires a matcher whose backend knows a few moods: "joyful"
// sits close to "happy", "furious" is far from both.
func semanticFixture(t *testing.T) (*SemanticMatcher, *countingProvider) {
	t.Helper()
	provider := newCountingProvider()
	provider.fixed["happy"] = []float32{1, 0, 0, 0, 0, 0, 0, 0}
	provider.fixed["joyful"] = []float32{0.9, 0.1, 0, 0, 0, 0, 0, 0}
	provider.fixed["cheerful"] = []float32{0.8, 0.2, 0, 0, 0, 0, 0, 0}
	provider.fixed["furious"] = []float32{0, 0, 1, 0, 0, 0, 0, 0}
	provider.fixed["rage"] = []float32{0, 0.1, 0.9, 0, 0, 0, 0, 0}
	o := newTestOrchestrator(t, provider, repository.NewMemoryEmbeddingStore(), nil)
	return NewSemanticMatcher(o, SemanticMatcherConfig{}, nil), provider
}

func TestAreSimilarLexicalFastPath(t *testing.T) {
	m, provider := semanticFixture(t)
	ctx := context.Background()

	tests := []struct {
		a, b string
		want bool
	}{
		{"Happy", "happy", true},
		{"  very   happy ", "happy", true},
		{"love", "love songs", true},
		{"", "happy", false},
		{"happy", "   ", false},
	}
	for _, tt := range tests {
		got, err := m.AreSimilar(ctx, tt.a, tt.b, DefaultSimilarityThreshold)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%q vs %q", tt.a, tt.b)
	}
	assert.Zero(t, provider.Calls())
}

func TestAreSimilarUsesEmbeddings(t *testing.T) {
	m, provider := semanticFixture(t)
	ctx := context.Background()

	ok, err := m.AreSimilar(ctx, "joyful", "happy", DefaultSimilarityThreshold)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.AreSimilar(ctx, "furious", "happy", DefaultSimilarityThreshold)
	require.NoError(t, err)
	assert.False(t, ok)

	// happy and joyful were cached by the first call; only furious was fetched.
	assert.Equal(t, 2, provider.Calls())
	assert.Equal(t, []string{"furious"}, provider.inputs[1])
}

func TestSemanticMatcherFlushDropsCache(t *testing.T) {
	m, provider := semanticFixture(t)
	ctx := context.Background()

	_, err := m.AreSimilar(ctx, "joyful", "happy", DefaultSimilarityThreshold)
	require.NoError(t, err)
	_, err = m.AreSimilar(ctx, "joyful", "happy", DefaultSimilarityThreshold)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.Calls())

	m.Flush()
	_, err = m.AreSimilar(ctx, "joyful", "happy", DefaultSimilarityThreshold)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.Calls())
}

func TestCountMatches(t *testing.T) {
	m, provider := semanticFixture(t)
	ctx := context.Background()

	n, err := m.CountMatches(ctx, []string{"Happy", "joyful", "furious", ""}, []string{"happy"}, DefaultSimilarityThreshold)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, provider.Calls())

	n, err = m.CountMatches(ctx, nil, []string{"happy"}, DefaultSimilarityThreshold)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCountMatchesCountsEachElementOnce(t *testing.T) {
	m, provider := semanticFixture(t)

	n, err := m.CountMatches(context.Background(), []string{"love"}, []string{"love", "love songs", "lovers"}, DefaultSimilarityThreshold)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, provider.Calls())
}

func TestFindSimilar(t *testing.T) {
	m, _ := semanticFixture(t)

	matches, err := m.FindSimilar(context.Background(), "happy", []string{"furious", "joyful", "Happy", "cheerful"}, DefaultSimilarityThreshold)
	require.NoError(t, err)

	require.Len(t, matches, 3)
	assert.Equal(t, "Happy", matches[0].Text)
	assert.Equal(t, 1.0, matches[0].Score)
	assert.Equal(t, "joyful", matches[1].Text)
	assert.Equal(t, "cheerful", matches[2].Text)
	assert.Greater(t, matches[1].Score, matches[2].Score)
}

func TestComputeSimilarityMatrix(t *testing.T) {
	m, provider := semanticFixture(t)

	matrix, err := m.ComputeSimilarityMatrix(context.Background(), []string{"happy", "furious"}, []string{"joyful", "rage", ""})
	require.NoError(t, err)

	require.Len(t, matrix, 2)
	require.Len(t, matrix[0], 3)
	assert.Greater(t, matrix[0][0], 0.9)
	assert.Less(t, matrix[0][1], 0.2)
	assert.Greater(t, matrix[1][1], 0.9)
	assert.Zero(t, matrix[1][2])
	assert.Equal(t, 1, provider.Calls())
}

func TestSemanticMatcherPropagatesBackendErrors(t *testing.T) {
	m, provider := semanticFixture(t)
	provider.fail = func([]string) error { return errors.New("backend down") }

	_, err := m.AreSimilar(context.Background(), "joyful", "happy", DefaultSimilarityThreshold)
	assert.Error(t, err)
}
