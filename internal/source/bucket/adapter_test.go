package bucket

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	objects   map[string][]byte
	downloads int
}

func (f *fakeStorage) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = b
	return nil
}

func (f *fakeStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	f.downloads++
	b, ok := f.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeStorage) GetURL(key string) string { return "mem://" + key }

func (f *fakeStorage) EnsureBucket(context.Context) error { return nil }

func (f *fakeStorage) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func TestAdapterLoadsManifestOnce(t *testing.T) {
	store := &fakeStorage{objects: map[string][]byte{
		"manifests/demo/manifest.jsonl": []byte(`{"kind":"track","track":{"id":"a","name":"A"}}` + "\n"),
	}}
	a := NewAdapter(store, "manifests", "demo")
	assert.Equal(t, "bucket:demo", a.GetSourceID())

	items, _, err := a.FetchBatch(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].Song.ID)

	_, err = a.Manifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, store.downloads)
}

func TestAdapterRetriesFailedDownload(t *testing.T) {
	store := &fakeStorage{objects: map[string][]byte{}}
	a := NewAdapter(store, "", "demo")

	_, err := a.Manifest(context.Background())
	require.Error(t, err)

	store.objects["demo/manifest.jsonl"] = []byte(`{"kind":"track","track":{"id":"a"}}`)
	m, err := a.Manifest(context.Background())
	require.NoError(t, err)
	assert.Len(t, m.Tracks, 1)
	assert.Equal(t, 2, store.downloads)
}
