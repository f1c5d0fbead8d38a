package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/timmy/tunematch/internal/source"
)

// Adapter implements source.Source for a local staging directory laid out
// as <basePath>/<sourceID>/manifest.jsonl.
type Adapter struct {
	basePath string
	sourceID string

	once     sync.Once
	manifest *source.Manifest
	err      error
}

// NewAdapter creates a new staging adapter.
// Parameters:
//   - basePath: base path to the staging directory.
//   - sourceID: identifier for the staging source.
// Returns:
//   - *Adapter: initialized staging adapter.
func NewAdapter(basePath, sourceID string) *Adapter {
	return &Adapter{
		basePath: basePath,
		sourceID: sourceID,
	}
}

// GetSourceID returns the source identifier with a "staging:" prefix.
func (a *Adapter) GetSourceID() string {
	return "staging:" + a.sourceID
}

func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Staging (%s)", a.sourceID)
}

// FetchBatch fetches a batch of tracks from the staging manifest.
// Parameters:
//   - ctx: context for cancellation and deadlines (unused for local reads).
//   - cursor: pagination cursor as an index string.
//   - limit: maximum number of items to fetch.
// Returns:
//   - []source.TrackItem: batch of tracks.
//   - string: next cursor or empty if no more items.
//   - error: non-nil if loading or parsing fails.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.TrackItem, string, error) {
	m, err := a.Manifest(ctx)
	if err != nil {
		return nil, "", err
	}
	return m.Page(a.sourceID, cursor, limit)
}

// Manifest loads the manifest once and returns it on every call.
func (a *Adapter) Manifest(ctx context.Context) (*source.Manifest, error) {
	a.once.Do(func() {
		a.manifest, a.err = a.load()
	})
	return a.manifest, a.err
}

func (a *Adapter) load() (*source.Manifest, error) {
	manifestPath := filepath.Join(a.basePath, a.sourceID, source.ManifestFileName)

	file, err := os.Open(manifestPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("manifest file not found: %s", manifestPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	m, err := source.ParseManifest(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load staging manifest: %w", err)
	}
	return m, nil
}

// ListStagingSources lists all available staging sources.
// Parameters:
//   - basePath: base path to the staging directory.
// Returns:
//   - []string: list of staging source IDs.
//   - error: non-nil if reading the directory fails.
func ListStagingSources(basePath string) ([]string, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var sources []string
	for _, entry := range entries {
		if entry.IsDir() {
			manifestPath := filepath.Join(basePath, entry.Name(), source.ManifestFileName)
			if _, err := os.Stat(manifestPath); err == nil {
				sources = append(sources, entry.Name())
			}
		}
	}

	return sources, nil
}
