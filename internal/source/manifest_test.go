package source

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
{"kind":"track","track":{"id":"t2","name":"Second","artist":"B","analysis":{"emotional":{"dominant_mood":"sad"},"context":{}}}}
{"kind":"track","track":{"id":"t1","name":"First","artist":"A","genres":["Pop"]}}
not json
{"kind":"playlist","playlist":{"id":"p1","name":"Mix","track_ids":["t1","t9","t2"]}}
{"kind":"track","track":{"id":"t3","name":"Third","artist":"C"}}
{"kind":"unknown"}
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	require.Len(t, m.Tracks, 3)
	assert.Equal(t, "t1", m.Tracks[0].ID)
	assert.Equal(t, "t3", m.Tracks[2].ID)
	assert.Equal(t, "sad", m.Tracks[1].Mood())

	p, ok := m.Playlist("p1")
	require.True(t, ok)
	members, missing := m.Members(p)
	require.Len(t, members, 2)
	assert.Equal(t, "t1", members[0].ID)
	assert.Equal(t, "t2", members[1].ID)
	assert.Equal(t, []string{"t9"}, missing)

	_, ok = m.Playlist("nope")
	assert.False(t, ok)
}

func TestManifestPage(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	items, next, err := m.Page("demo", "", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "demo_t1", items[0].SourceID)
	assert.Equal(t, "2", next)

	items, next, err = m.Page("demo", next, 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Empty(t, next)

	_, _, err = m.Page("demo", "x", 2)
	assert.Error(t, err)
}
