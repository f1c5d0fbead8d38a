package repository

import (
	"testing"
)

// TestTrackPointIDIsDeterministic verifies that the same input always produces the same UUID
func TestTrackPointIDIsDeterministic(t *testing.T) {
	testCases := []struct {
		name       string
		trackID    string
		bundleHash string
	}{
		{
			name:       "basic test",
			trackID:    "spotify:track:abc123",
			bundleHash: "e2.s1.a1:aaaa",
		},
		{
			name:       "different bundle",
			trackID:    "spotify:track:abc123",
			bundleHash: "e2.s1.a1:bbbb",
		},
		{
			name:       "different track",
			trackID:    "spotify:track:xyz789",
			bundleHash: "e2.s1.a1:aaaa",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id1 := TrackPointID(tc.trackID, tc.bundleHash)
			id2 := TrackPointID(tc.trackID, tc.bundleHash)
			id3 := TrackPointID(tc.trackID, tc.bundleHash)

			if id1 != id2 {
				t.Errorf("UUID mismatch: first=%s, second=%s", id1, id2)
			}
			if id1 != id3 {
				t.Errorf("UUID mismatch: first=%s, third=%s", id1, id3)
			}
			if len(id1) != 36 {
				t.Errorf("Invalid UUID length: got %d, want 36", len(id1))
			}
		})
	}
}

// TestDeterministicIDUniqueness verifies that different inputs produce different UUIDs
func TestDeterministicIDUniqueness(t *testing.T) {
	ids := []string{
		TrackPointID("a", "b1"),
		TrackPointID("b", "b1"),
		TrackPointID("a", "b2"),
		TrackEmbeddingID("a", "c1", "b1"),
		TrackEmbeddingID("a", "c2", "b1"),
		PlaylistProfileID("a", "c1", "b1"),
	}

	seen := make(map[string]int)
	for i, id := range ids {
		if j, ok := seen[id]; ok {
			t.Errorf("IDs %d and %d collide: %s", j, i, id)
		}
		seen[id] = i
	}

	// Separator prevents ambiguous concatenations.
	if TrackPointID("ab", "c") == TrackPointID("a", "bc") {
		t.Error("key parts must not be concatenated ambiguously")
	}
}
