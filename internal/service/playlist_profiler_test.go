package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/tunematch/internal/domain"
	"github.com/timmy/tunematch/internal/repository"
)

type profilerFixture struct {
	provider     *countingProvider
	orchestrator *EmbeddingOrchestrator
	store        *repository.MemoryProfileStore
	profiler     *PlaylistProfiler
}

func newProfilerFixture(t *testing.T) *profilerFixture {
	t.Helper()
	provider := newCountingProvider()
	o := newTestOrchestrator(t, provider, repository.NewMemoryEmbeddingStore(), nil)
	store := repository.NewMemoryProfileStore()
	return &profilerFixture{
		provider:     provider,
		orchestrator: o,
		store:        store,
		profiler:     NewPlaylistProfiler(o, store, testMatchingConfig(), nil),
	}
}

func happyMembers(n int) []*domain.Song {
	members := make([]*domain.Song, n)
	for i := range members {
		members[i] = analyzedSong(fmt.Sprintf("m%02d", i), "happy", "love")
	}
	return members
}

func playlistOf(members []*domain.Song) *domain.Playlist {
	p := &domain.Playlist{ID: "p1", Name: "Sunny Mix", Description: "feel-good songs"}
	for _, m := range members {
		p.TrackIDs = append(p.TrackIDs, m.ID)
	}
	return p
}

func TestProfileMethodFor(t *testing.T) {
	assert.Equal(t, domain.ProfileMethodDescribed, ProfileMethodFor(0))
	assert.Equal(t, domain.ProfileMethodDescribed, ProfileMethodFor(2))
	assert.Equal(t, domain.ProfileMethodLearned, ProfileMethodFor(3))
}

func TestLearnedProfileFromHappyMembers(t *testing.T) {
	f := newProfilerFixture(t)
	members := happyMembers(5)

	profile, err := f.profiler.ProfilePlaylist(context.Background(), playlistOf(members), members)
	require.NoError(t, err)

	assert.Equal(t, domain.ProfileMethodLearned, profile.Method)
	assert.Equal(t, domain.StringArray{"happy"}, profile.TopMoods)
	assert.Equal(t, domain.StringArray{"love"}, profile.TopThemes)
	assert.Equal(t, 1.0, profile.GenreDistribution["pop"])
	assert.InDelta(t, 0.8, profile.ContextAverages["workout"], 1e-9)
	assert.Equal(t, 5, profile.SampleSize)
	assert.Equal(t, 5, profile.TrackCount)
	assert.Len(t, profile.Vector(), testDims)
	assert.Equal(t, f.orchestrator.BundleHash(), profile.ModelBundleHash)

	// A happy candidate from another genre earns exactly the mood match.
	matcher := NewSemanticMatcher(f.orchestrator, SemanticMatcherConfig{}, nil)
	tiers := newTierScorer(matcher, testMatchingConfig())
	candidate := analyzedSong("c", "happy")
	candidate.Genres = []string{"rock"}
	calls := f.provider.Calls()
	assert.InDelta(t, 0.8, tiers.metadata(context.Background(), &ScoreInput{Candidate: candidate, Profile: profile}), 1e-9)
	assert.Equal(t, calls, f.provider.Calls())
}

func TestProfilePlaylistServedFromStore(t *testing.T) {
	f := newProfilerFixture(t)
	members := happyMembers(4)
	playlist := playlistOf(members)

	first, err := f.profiler.ProfilePlaylist(context.Background(), playlist, members)
	require.NoError(t, err)
	calls := f.provider.Calls()

	// Same membership in another order.
	reordered := []*domain.Song{members[3], members[1], members[0], members[2]}
	second, err := f.profiler.ProfilePlaylist(context.Background(), playlist, reordered)
	require.NoError(t, err)

	assert.Equal(t, calls, f.provider.Calls())
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ContentHash, second.ContentHash)
}

func TestProfilePlaylistRebuildsOnMemberContentChange(t *testing.T) {
	f := newProfilerFixture(t)
	members := happyMembers(3)
	playlist := playlistOf(members)

	first, err := f.profiler.ProfilePlaylist(context.Background(), playlist, members)
	require.NoError(t, err)

	// Audio is not embedded but feeds the profile averages.
	members[0].Analysis.Audio = audio(0.9, 0.8, 0.7)
	second, err := f.profiler.ProfilePlaylist(context.Background(), playlist, members)
	require.NoError(t, err)

	assert.NotEqual(t, first.ContentHash, second.ContentHash)
	assert.Equal(t, first.MembershipHash, second.MembershipHash)
	require.NotNil(t, second.AudioAverages.Energy)
	assert.InDelta(t, 0.9, *second.AudioAverages.Energy, 1e-9)
	assert.Nil(t, second.AudioAverages.Tempo)

	stored, err := f.store.GetCurrent(context.Background(), "p1", f.orchestrator.BundleHash())
	require.NoError(t, err)
	assert.Equal(t, second.ContentHash, stored.ContentHash)
}

func TestProfileContentHashCoversPlaylistText(t *testing.T) {
	members := happyMembers(3)
	playlist := playlistOf(members)
	before := ProfileContentHash(playlist, members, domain.ProfileMethodLearned)

	playlist.Description = "songs for rainy days"
	assert.NotEqual(t, before, ProfileContentHash(playlist, members, domain.ProfileMethodLearned))
	assert.NotEqual(t,
		ProfileContentHash(playlist, members, domain.ProfileMethodLearned),
		ProfileContentHash(playlist, members, domain.ProfileMethodDescribed))
}

func TestDescribedProfileForSmallPlaylist(t *testing.T) {
	f := newProfilerFixture(t)
	members := happyMembers(2)
	playlist := playlistOf(members)
	playlist.Analysis = &domain.PlaylistAnalysis{
		Themes:    []domain.Theme{{Name: "Road Trip", Confidence: 0.8}, {Name: "Summer", Confidence: 0.6}},
		Emotional: domain.EmotionalProfile{DominantMood: "Euphoric", Journey: []domain.JourneyStep{{Mood: "calm"}, {Mood: "calm"}}},
		Context: domain.ContextProfile{
			Scores:         map[string]float64{"driving": 0.9},
			TargetAudience: "road trippers",
		},
	}

	profile, err := f.profiler.ProfilePlaylist(context.Background(), playlist, members)
	require.NoError(t, err)

	assert.Equal(t, domain.ProfileMethodDescribed, profile.Method)
	assert.Equal(t, domain.StringArray{"euphoric"}, profile.TopMoods)
	assert.Equal(t, domain.StringArray{"road trip", "summer"}, profile.TopThemes)
	assert.Equal(t, 0.9, profile.ContextAverages["driving"])
	assert.Equal(t, domain.JourneyCyclical, profile.JourneyShape)
	assert.Equal(t, "road trippers", profile.TargetAudience)
	assert.Len(t, profile.Vector(), testDims)
	assert.Equal(t, 1, f.provider.Calls())
}

func TestLearnedProfileFallsBackWhenNoMemberEmbeds(t *testing.T) {
	f := newProfilerFixture(t)
	members := []*domain.Song{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	playlist := playlistOf(members)

	profile, err := f.profiler.ProfilePlaylist(context.Background(), playlist, members)
	require.NoError(t, err)

	assert.Equal(t, domain.ProfileMethodDescribed, profile.Method)
	assert.Equal(t, ProfileContentHash(playlist, members, domain.ProfileMethodDescribed), profile.ContentHash)
}

func TestSampleMembersIsDeterministic(t *testing.T) {
	members := happyMembers(50)
	reversed := make([]*domain.Song, len(members))
	for i, m := range members {
		reversed[len(members)-1-i] = m
	}

	a := sampleMembers(members, maxProfileSample)
	b := sampleMembers(reversed, maxProfileSample)
	require.Len(t, a, maxProfileSample)
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
	}
	assert.Equal(t, "m00", a[0].ID)
	assert.Len(t, sampleMembers(members[:5], maxProfileSample), 5)
}

func TestTopByCountBreaksTiesAlphabetically(t *testing.T) {
	got := topByCount(map[string]int{"sad": 2, "happy": 2, "calm": 1, "angry": 1}, 3)
	assert.Equal(t, domain.StringArray{"happy", "sad", "angry"}, got)
}

func TestDominantShapePrecedence(t *testing.T) {
	assert.Equal(t, domain.JourneyCyclical, dominantShape(map[domain.JourneyShape]int{
		domain.JourneyComplex:  2,
		domain.JourneyCyclical: 2,
	}))
	assert.Equal(t, domain.JourneyComplex, dominantShape(map[domain.JourneyShape]int{
		domain.JourneyComplex:   3,
		domain.JourneyAscending: 1,
	}))
	assert.Equal(t, domain.JourneyShape(""), dominantShape(nil))
}

func TestProfilePlaylistSharesConcurrentBuilds(t *testing.T) {
	f := newProfilerFixture(t)
	f.provider.block = make(chan struct{})
	members := happyMembers(2)
	playlist := playlistOf(members)

	var wg sync.WaitGroup
	profiles := make([]*domain.PlaylistProfile, 5)
	errs := make([]error, 5)
	for i := range profiles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			profiles[i], errs[i] = f.profiler.ProfilePlaylist(context.Background(), playlist, members)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.provider.block)
	wg.Wait()

	for i := range profiles {
		require.NoError(t, errs[i])
		assert.Equal(t, profiles[0].ID, profiles[i].ID)
	}
	// Described profiles embed the playlist text, which is never cached.
	assert.Equal(t, 1, f.provider.Calls())
}

func TestProfilePlaylistWaiterOutlivesCancelledCaller(t *testing.T) {
	f := newProfilerFixture(t)
	f.provider.block = make(chan struct{})
	members := happyMembers(2)
	playlist := playlistOf(members)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.profiler.ProfilePlaylist(firstCtx, playlist, members)
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type outcome struct {
		profile *domain.PlaylistProfile
		err     error
	}
	second := make(chan outcome, 1)
	go func() {
		profile, err := f.profiler.ProfilePlaylist(context.Background(), playlist, members)
		second <- outcome{profile, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(f.provider.block)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, domain.ProfileMethodDescribed, got.profile.Method)
}

func TestProfilePlaylistSkipsNilMembers(t *testing.T) {
	f := newProfilerFixture(t)
	members := happyMembers(3)
	playlist := playlistOf(members)

	withNils := []*domain.Song{nil, members[0], members[1], nil, members[2]}
	profile, err := f.profiler.ProfilePlaylist(context.Background(), playlist, withNils)
	require.NoError(t, err)

	assert.Equal(t, domain.ProfileMethodLearned, profile.Method)
	assert.Equal(t, 3, profile.TrackCount)
	assert.Equal(t, ProfileContentHash(playlist, members, domain.ProfileMethodLearned), profile.ContentHash)
}
