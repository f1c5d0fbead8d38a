package source

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/timmy/tunematch/internal/domain"
	"github.com/timmy/tunematch/internal/logger"
)

// ManifestFileName is the JSONL manifest file name of a source.
const ManifestFileName = "manifest.jsonl"

// Manifest entry kinds.
const (
	KindTrack    = "track"
	KindPlaylist = "playlist"
)

// ManifestEntry is one line of manifest.jsonl.
type ManifestEntry struct {
	Kind     string           `json:"kind"`
	Track    *domain.Song     `json:"track,omitempty"`
	Playlist *domain.Playlist `json:"playlist,omitempty"`
}

// Manifest is a parsed source: tracks sorted by ID and playlists sorted by ID.
type Manifest struct {
	Tracks    []domain.Song
	Playlists []domain.Playlist
	byID      map[string]int
}

// ParseManifest reads JSON Lines. Malformed lines are skipped; a later line
// for the same ID replaces an earlier one.
func ParseManifest(r io.Reader) (*Manifest, error) {
	tracks := make(map[string]domain.Song)
	playlists := make(map[string]domain.Playlist)
	skipped := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry ManifestEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			skipped++
			continue
		}

		switch {
		case entry.Kind == KindTrack && entry.Track != nil && entry.Track.ID != "":
			tracks[entry.Track.ID] = *entry.Track
		case entry.Kind == KindPlaylist && entry.Playlist != nil && entry.Playlist.ID != "":
			playlists[entry.Playlist.ID] = *entry.Playlist
		default:
			skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}
	if skipped > 0 {
		logger.Warn("Skipped malformed manifest lines: count=%d", skipped)
	}

	m := &Manifest{byID: make(map[string]int, len(tracks))}
	for _, t := range tracks {
		m.Tracks = append(m.Tracks, t)
	}
	for _, p := range playlists {
		m.Playlists = append(m.Playlists, p)
	}
	sort.Slice(m.Tracks, func(i, j int) bool { return m.Tracks[i].ID < m.Tracks[j].ID })
	sort.Slice(m.Playlists, func(i, j int) bool { return m.Playlists[i].ID < m.Playlists[j].ID })
	for i, t := range m.Tracks {
		m.byID[t.ID] = i
	}
	return m, nil
}

// Track returns the track with id.
func (m *Manifest) Track(id string) (*domain.Song, bool) {
	i, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return &m.Tracks[i], true
}

func (m *Manifest) Playlist(id string) (*domain.Playlist, bool) {
	i := sort.Search(len(m.Playlists), func(i int) bool { return m.Playlists[i].ID >= id })
	if i < len(m.Playlists) && m.Playlists[i].ID == id {
		return &m.Playlists[i], true
	}
	return nil, false
}

// Members resolves a playlist's track IDs in playlist order. Unknown IDs
// are returned separately.
func (m *Manifest) Members(p *domain.Playlist) (members []*domain.Song, missing []string) {
	for _, id := range p.TrackIDs {
		if t, ok := m.Track(id); ok {
			members = append(members, t)
		} else {
			missing = append(missing, id)
		}
	}
	return members, missing
}

// Page returns up to limit tracks from an index cursor.
func (m *Manifest) Page(sourceID, cursor string, limit int) ([]TrackItem, string, error) {
	startIndex := 0
	if cursor != "" {
		var err error
		startIndex, err = strconv.Atoi(cursor)
		if err != nil || startIndex < 0 {
			return nil, "", fmt.Errorf("invalid cursor: %q", cursor)
		}
	}
	if startIndex >= len(m.Tracks) {
		return []TrackItem{}, "", nil
	}

	endIndex := min(startIndex+limit, len(m.Tracks))
	items := make([]TrackItem, 0, endIndex-startIndex)
	for _, t := range m.Tracks[startIndex:endIndex] {
		items = append(items, TrackItem{SourceID: sourceID + "_" + t.ID, Song: t})
	}

	nextCursor := ""
	if endIndex < len(m.Tracks) {
		nextCursor = strconv.Itoa(endIndex)
	}
	return items, nextCursor, nil
}
