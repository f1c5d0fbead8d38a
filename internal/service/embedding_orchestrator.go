package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/timmy/tunematch/internal/cache"
	"github.com/timmy/tunematch/internal/contenthash"
	"github.com/timmy/tunematch/internal/domain"
	"github.com/timmy/tunematch/internal/logger"
	"github.com/timmy/tunematch/internal/metrics"
	"github.com/timmy/tunematch/internal/repository"
)

var errEmptyText = errors.New("no text to embed")

// BucketWeights weights the three text buckets in the combined vector.
type BucketWeights struct {
	Metadata float64
	Analysis float64
	Context  float64
}

func DefaultBucketWeights() BucketWeights {
	return BucketWeights{Metadata: 0.3, Analysis: 0.5, Context: 0.2}
}

// EmbeddingOrchestratorConfig configures an EmbeddingOrchestrator.
type EmbeddingOrchestratorConfig struct {
	Bundle        domain.ModelBundle
	Weights       BucketWeights
	BatchSize     int // tracks per backend call in EmbedTrackBatch
	L1Size        int
	L1TTL         time.Duration
	MirrorToIndex bool
}

// BatchProgress is reported once per completed track of a batch.
type BatchProgress struct {
	Completed int
	Total     int
	TrackID   string
	Cached    bool
	Err       error
}

// BatchItemResult is the outcome for one input of EmbedTrackBatch, at the
// same index as the input.
type BatchItemResult struct {
	TrackID     string
	ContentHash string
	Vector      []float32
	Cached      bool
	Err         error
}

// EmbeddingOrchestrator is the only path to the embedding backend. Track
// vectors are looked up in a process-local L1, then the durable store, and
// computed only on a miss.
type EmbeddingOrchestrator struct {
	provider      EmbeddingProvider
	throttle      *Throttle
	store         EmbeddingStore
	index         VectorIndex
	bundle        domain.ModelBundle
	bundleHash    string
	weights       BucketWeights
	batchSize     int
	mirrorToIndex bool
	l1            *cache.FIFO[[]float32]
	flight        *embedFlight
	metrics       *metrics.Recorder
}

// NewEmbeddingOrchestrator wires an orchestrator. index may be nil.
func NewEmbeddingOrchestrator(
	provider EmbeddingProvider,
	throttle *Throttle,
	store EmbeddingStore,
	index VectorIndex,
	rec *metrics.Recorder,
	cfg EmbeddingOrchestratorConfig,
) *EmbeddingOrchestrator {
	if cfg.Weights == (BucketWeights{}) {
		cfg.Weights = DefaultBucketWeights()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.L1Size <= 0 {
		cfg.L1Size = 10000
	}
	if cfg.L1TTL <= 0 {
		cfg.L1TTL = time.Hour
	}
	if throttle == nil {
		throttle = NewThrottle(DefaultThrottleConfig(provider.GetModel()), rec)
	}

	return &EmbeddingOrchestrator{
		provider:      provider,
		throttle:      throttle,
		store:         store,
		index:         index,
		bundle:        cfg.Bundle,
		bundleHash:    cfg.Bundle.Hash(),
		weights:       cfg.Weights,
		batchSize:     cfg.BatchSize,
		mirrorToIndex: cfg.MirrorToIndex && index != nil,
		l1:            cache.NewFIFO[[]float32](cfg.L1TTL, cfg.L1Size),
		flight:        newEmbedFlight(),
		metrics:       rec,
	}
}

func (o *EmbeddingOrchestrator) Bundle() domain.ModelBundle { return o.bundle }
func (o *EmbeddingOrchestrator) BundleHash() string         { return o.bundleHash }
func (o *EmbeddingOrchestrator) Dimensions() int            { return o.provider.Dimensions() }

// EmbedTrack returns the combined vector of a track. Concurrent callers for
// the same track content, including batches, share one backend call.
func (o *EmbeddingOrchestrator) EmbedTrack(ctx context.Context, song *domain.Song) ([]float32, error) {
	text := ExtractTrackText(song.Analysis, song)
	if text.IsEmpty() {
		return nil, &VectorizationError{TrackID: song.ID, Op: "extract", Err: errEmptyText}
	}
	contentHash := TrackContentHash(text)
	key := l1Key(song.ID, contentHash)

	if vec, ok := o.l1.Get(key); ok {
		o.metrics.EmbeddingLookup("l1", metrics.ResultHit)
		return vec, nil
	}
	o.metrics.EmbeddingLookup("l1", metrics.ResultMiss)

	item := &batchItem{song: song, text: text, contentHash: contentHash, key: key}
	var owner bool
	item.call, owner = o.flight.claim(key)
	if owner {
		// The work outlives this caller so that waiters are not failed by
		// its cancellation; the throttle's timeout still bounds it.
		go o.resolveTrack(context.WithoutCancel(ctx), item)
	} else {
		logger.CtxDebug(ctx, "Joining in-flight embedding: track_id=%s", song.ID)
	}

	vec, _, err := item.call.wait(ctx)
	if err != nil {
		return nil, newVectorizationError(song.ID, "embed", err)
	}
	return vec, nil
}

func (o *EmbeddingOrchestrator) resolveTrack(ctx context.Context, item *batchItem) {
	row, err := o.store.GetCurrent(ctx, item.song.ID, o.bundleHash)
	if err != nil {
		o.settle(item, nil, false, newVectorizationError(item.song.ID, "lookup", fmt.Errorf("failed to read embedding cache: %w", err)))
		return
	}
	if vec, ok := o.usable(ctx, row, item.contentHash); ok {
		o.l1.Set(item.key, vec)
		o.settle(item, vec, true, nil)
		return
	}
	vec, err := o.embedOne(ctx, item)
	o.settle(item, vec, false, err)
}

// embedOne computes and persists the vector of a single owned item.
func (o *EmbeddingOrchestrator) embedOne(ctx context.Context, item *batchItem) ([]float32, error) {
	vectors, err := o.embedBuckets(ctx, []domain.VectorizationText{item.text})
	if err != nil {
		return nil, newVectorizationError(item.song.ID, "embed", err)
	}
	o.persist(ctx, item.song, item.contentHash, vectors[0])
	return vectors[0], nil
}

func (o *EmbeddingOrchestrator) settle(item *batchItem, vec []float32, cached bool, err error) {
	o.flight.settle(item.key, item.call, vec, cached, err)
}

// EmbedTrackBatch embeds many tracks. Cache hits are served first; misses
// go to the backend in chunks of BatchSize tracks. A miss already in flight
// elsewhere is awaited, not requested again. A failure only affects the
// results of the tracks it belongs to.
func (o *EmbeddingOrchestrator) EmbedTrackBatch(ctx context.Context, songs []*domain.Song, onProgress func(BatchProgress)) []BatchItemResult {
	results := make([]BatchItemResult, len(songs))

	completed := 0
	report := func(i int) {
		completed++
		if onProgress != nil {
			onProgress(BatchProgress{
				Completed: completed,
				Total:     len(songs),
				TrackID:   results[i].TrackID,
				Cached:    results[i].Cached,
				Err:       results[i].Err,
			})
		}
	}

	pending := make(map[string]*batchItem)
	var order []*batchItem
	for i, song := range songs {
		if song == nil {
			results[i].Err = &VectorizationError{Op: "extract", Err: errEmptyText}
			report(i)
			continue
		}
		results[i].TrackID = song.ID
		text := ExtractTrackText(song.Analysis, song)
		if text.IsEmpty() {
			results[i].Err = &VectorizationError{TrackID: song.ID, Op: "extract", Err: errEmptyText}
			report(i)
			continue
		}
		contentHash := TrackContentHash(text)
		results[i].ContentHash = contentHash

		key := l1Key(song.ID, contentHash)
		if vec, ok := o.l1.Get(key); ok {
			o.metrics.EmbeddingLookup("l1", metrics.ResultHit)
			results[i].Vector = vec
			results[i].Cached = true
			report(i)
			continue
		}
		if item, ok := pending[key]; ok {
			item.indexes = append(item.indexes, i)
			continue
		}
		o.metrics.EmbeddingLookup("l1", metrics.ResultMiss)
		item := &batchItem{song: song, text: text, contentHash: contentHash, key: key, indexes: []int{i}}
		pending[key] = item
		order = append(order, item)
	}
	if len(order) == 0 {
		return results
	}

	var owned []*batchItem
	for _, item := range order {
		var owner bool
		item.call, owner = o.flight.claim(item.key)
		if owner {
			owned = append(owned, item)
		}
	}
	if joined := len(order) - len(owned); joined > 0 {
		logger.CtxDebug(ctx, "Joining in-flight embeddings: count=%d", joined)
	}
	if len(owned) > 0 {
		go o.resolveBatch(context.WithoutCancel(ctx), owned, len(songs))
	}

	for _, item := range order {
		vec, cached, err := item.call.wait(ctx)
		if err != nil {
			err = newVectorizationError(item.song.ID, "embed", err)
		}
		for _, i := range item.indexes {
			results[i].Vector = vec
			results[i].Cached = cached
			results[i].Err = err
			report(i)
		}
	}
	return results
}

type batchItem struct {
	song        *domain.Song
	text        domain.VectorizationText
	contentHash string
	key         string
	call        *flightCall
	indexes     []int
}

// resolveBatch settles every owned item: store hits first, then the misses
// in backend chunks.
func (o *EmbeddingOrchestrator) resolveBatch(ctx context.Context, items []*batchItem, total int) {
	trackIDs := make([]string, 0, len(items))
	for _, item := range items {
		trackIDs = append(trackIDs, item.song.ID)
	}
	rows, err := o.store.GetCurrentBatch(ctx, trackIDs, o.bundleHash)
	if err != nil {
		for _, item := range items {
			o.settle(item, nil, false, newVectorizationError(item.song.ID, "lookup", fmt.Errorf("failed to read embedding cache: %w", err)))
		}
		return
	}

	var misses []*batchItem
	for _, item := range items {
		if vec, ok := o.usable(ctx, rows[item.song.ID], item.contentHash); ok {
			o.l1.Set(item.key, vec)
			o.settle(item, vec, true, nil)
			continue
		}
		misses = append(misses, item)
	}

	logger.With(logger.Fields{
		logger.FieldCount: total,
	}).WithCacheStats(len(items)-len(misses), len(misses)).Debug(ctx, "Embedding batch partitioned")

	var wg sync.WaitGroup
	for start := 0; start < len(misses); start += o.batchSize {
		chunk := misses[start:min(start+o.batchSize, len(misses))]
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.embedChunk(ctx, chunk)
		}()
	}
	wg.Wait()
}

func (o *EmbeddingOrchestrator) embedChunk(ctx context.Context, chunk []*batchItem) {
	texts := make([]domain.VectorizationText, len(chunk))
	for i, item := range chunk {
		texts[i] = item.text
	}

	vectors, err := o.embedBuckets(ctx, texts)
	if err != nil {
		// A rejected chunk may be one bad input; retry items alone so the
		// rest still get vectors. Transient failures fail the whole chunk.
		if len(chunk) > 1 && !isRetryable(err) {
			logger.CtxWarn(ctx, "Embedding chunk rejected, retrying items one by one: size=%d, error=%v", len(chunk), err)
			for _, item := range chunk {
				vec, itemErr := o.embedOne(ctx, item)
				o.settle(item, vec, false, itemErr)
			}
			return
		}
		for _, item := range chunk {
			o.settle(item, nil, false, newVectorizationError(item.song.ID, "embed", err))
		}
		return
	}

	for i, item := range chunk {
		o.persist(ctx, item.song, item.contentHash, vectors[i])
		o.settle(item, vectors[i], false, nil)
	}
}

// EmbedPlaylistText embeds a playlist's own metadata and analysis text.
// Playlist vectors are not cached here; the profile that holds them is.
func (o *EmbeddingOrchestrator) EmbedPlaylistText(ctx context.Context, playlist *domain.Playlist) ([]float32, error) {
	text := ExtractPlaylistText(playlist.Analysis, playlist)
	if text.IsEmpty() {
		return nil, &VectorizationError{Op: "extract_playlist", Err: errEmptyText}
	}
	vectors, err := o.embedBuckets(ctx, []domain.VectorizationText{text})
	if err != nil {
		return nil, newVectorizationError("", "embed_playlist", err)
	}
	return vectors[0], nil
}

// EmbedStrings embeds short texts as-is in one backend call.
func (o *EmbeddingOrchestrator) EmbedStrings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := o.callBackend(ctx, texts)
	if err != nil {
		return nil, newVectorizationError("", "embed_strings", err)
	}
	return vectors, nil
}

func (o *EmbeddingOrchestrator) callBackend(ctx context.Context, inputs []string) ([][]float32, error) {
	var vectors [][]float32
	err := o.throttle.Do(ctx, func(ctx context.Context) error {
		var err error
		vectors, err = o.provider.EmbedBatch(ctx, inputs)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrInvalidEmbedding, len(vectors), len(inputs))
	}
	return vectors, nil
}

type bucketSpan struct {
	index  int
	weight float64
}

// embedBuckets sends every non-empty bucket of every text in one backend
// call and folds the bucket vectors of each text into one unit vector.
func (o *EmbeddingOrchestrator) embedBuckets(ctx context.Context, texts []domain.VectorizationText) ([][]float32, error) {
	var inputs []string
	spans := make([][]bucketSpan, len(texts))
	for i, t := range texts {
		for _, b := range []struct {
			text   string
			weight float64
		}{
			{t.Metadata, o.weights.Metadata},
			{t.Analysis, o.weights.Analysis},
			{t.Context, o.weights.Context},
		} {
			if b.text == "" {
				continue
			}
			spans[i] = append(spans[i], bucketSpan{index: len(inputs), weight: b.weight})
			inputs = append(inputs, b.text)
		}
	}

	raw, err := o.callBackend(ctx, inputs)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, textSpans := range spans {
		vectors := make([][]float32, len(textSpans))
		weights := make([]float64, len(textSpans))
		for j, span := range textSpans {
			vectors[j] = raw[span.index]
			weights[j] = span.weight
		}
		out[i] = l2Normalize(weightedSum(vectors, weights))
	}
	return out, nil
}

// usable reports whether a stored row may be served for contentHash. Rows
// written under an older hash version are never served.
func (o *EmbeddingOrchestrator) usable(ctx context.Context, row *domain.TrackEmbedding, contentHash string) ([]float32, bool) {
	if row == nil {
		o.metrics.EmbeddingLookup("store", metrics.ResultMiss)
		return nil, false
	}
	if !contenthash.IsCurrent(row.ContentHash) {
		logger.CtxWarn(ctx, "Ignoring embedding written by an older extractor: track_id=%s, content_hash=%s, current=%s",
			row.TrackID, row.ContentHash, contenthash.Tag())
		o.metrics.EmbeddingLookup("store", metrics.ResultStale)
		return nil, false
	}
	vec := row.Vector.Slice()
	if row.ContentHash != contentHash || len(vec) == 0 {
		o.metrics.EmbeddingLookup("store", metrics.ResultMiss)
		return nil, false
	}
	o.metrics.EmbeddingLookup("store", metrics.ResultHit)
	return vec, true
}

// persist writes a fresh vector to the store, the L1 and the vector index.
// Failing to cache is logged; the caller still gets its vector.
func (o *EmbeddingOrchestrator) persist(ctx context.Context, song *domain.Song, contentHash string, vec []float32) {
	o.l1.Set(l1Key(song.ID, contentHash), vec)

	row := &domain.TrackEmbedding{
		ID:              repository.TrackEmbeddingID(song.ID, contentHash, o.bundleHash),
		TrackID:         song.ID,
		ContentHash:     contentHash,
		ModelBundleHash: o.bundleHash,
		Model:           o.provider.GetModel(),
		Dimensions:      len(vec),
		Vector:          pgvector.NewVector(vec),
		IsCurrent:       true,
		CreatedAt:       time.Now(),
	}
	if err := o.store.Upsert(ctx, row); err != nil {
		logger.CtxError(ctx, "Failed to persist embedding: track_id=%s, error=%v", song.ID, err)
	}

	if !o.mirrorToIndex {
		return
	}
	payload := &repository.TrackPayload{
		TrackID:     song.ID,
		BundleHash:  o.bundleHash,
		ContentHash: contentHash,
		Name:        song.Name,
		Artist:      song.Artist,
		Mood:        song.Mood(),
		Genres:      normalizeGenres(song.Genres),
	}
	if err := o.index.UpsertTrack(ctx, vec, payload); err != nil {
		logger.CtxWarn(ctx, "Failed to mirror embedding to vector index: track_id=%s, error=%v", song.ID, err)
	}
}

func l1Key(trackID, contentHash string) string {
	return trackID + "|" + contentHash
}
