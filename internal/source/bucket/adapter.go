package bucket

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/timmy/tunematch/internal/source"
	"github.com/timmy/tunematch/internal/storage"
)

// Adapter implements source.Source for a manifest kept in object storage at
// <prefix>/<sourceID>/manifest.jsonl.
type Adapter struct {
	store    storage.ObjectStorage
	prefix   string
	sourceID string

	mu       sync.Mutex
	manifest *source.Manifest
}

func NewAdapter(store storage.ObjectStorage, prefix, sourceID string) *Adapter {
	return &Adapter{
		store:    store,
		prefix:   prefix,
		sourceID: sourceID,
	}
}

// GetSourceID returns the source identifier with a "bucket:" prefix.
func (a *Adapter) GetSourceID() string {
	return "bucket:" + a.sourceID
}

func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Bucket (%s)", a.ManifestKey())
}

// ManifestKey is the object key of the manifest.
func (a *Adapter) ManifestKey() string {
	return path.Join(a.prefix, a.sourceID, source.ManifestFileName)
}

func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.TrackItem, string, error) {
	m, err := a.Manifest(ctx)
	if err != nil {
		return nil, "", err
	}
	return m.Page(a.sourceID, cursor, limit)
}

// Manifest downloads and parses the manifest on first use. A failed
// download is retried on the next call.
func (a *Adapter) Manifest(ctx context.Context) (*source.Manifest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.manifest != nil {
		return a.manifest, nil
	}

	body, err := a.store.Download(ctx, a.ManifestKey())
	if err != nil {
		return nil, fmt.Errorf("failed to download manifest %s: %w", a.ManifestKey(), err)
	}
	defer body.Close()

	m, err := source.ParseManifest(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", a.ManifestKey(), err)
	}
	a.manifest = m
	return m, nil
}
