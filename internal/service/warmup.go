package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/timmy/tunematch/internal/domain"
	"github.com/timmy/tunematch/internal/logger"
	"github.com/timmy/tunematch/internal/source"
)

const maxRunErrors = 20

// WarmupRunStore records warm-up runs so an interrupted run can resume.
type WarmupRunStore interface {
	Create(ctx context.Context, run *domain.WarmupRun) error
	Update(ctx context.Context, run *domain.WarmupRun) error
	GetLatest(ctx context.Context, sourceID string) (*domain.WarmupRun, error)
}

// BatchEmbedder embeds tracks in batches under one model bundle.
type BatchEmbedder interface {
	EmbedTrackBatch(ctx context.Context, songs []*domain.Song, onProgress func(BatchProgress)) []BatchItemResult
	BundleHash() string
}

// WarmupService pre-computes track embeddings for a whole source so later
// matching runs are served from cache.
type WarmupService struct {
	embedder  BatchEmbedder
	runs      WarmupRunStore
	workers   int
	batchSize int
}

// WarmupConfig holds configuration for the warm-up service.
type WarmupConfig struct {
	Workers   int
	BatchSize int
}

// NewWarmupService creates a warm-up service. runs may be nil, in which case
// nothing is recorded and runs cannot resume.
func NewWarmupService(embedder BatchEmbedder, runs WarmupRunStore, cfg *WarmupConfig) *WarmupService {
	workers, batchSize := cfg.Workers, cfg.BatchSize
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &WarmupService{
		embedder:  embedder,
		runs:      runs,
		workers:   workers,
		batchSize: batchSize,
	}
}

// WarmupStats holds statistics for a warm-up run.
type WarmupStats struct {
	RunID         string
	TotalItems    int64
	EmbeddedItems int64
	CachedItems   int64
	FailedItems   int64
	StartTime     time.Time
	EndTime       time.Time
}

// WarmupOptions holds options for a warm-up run.
type WarmupOptions struct {
	Limit  int  // 0 means the whole source
	Resume bool // continue after the last unfinished run of the source
}

type warmupBatch struct {
	seq        int
	nextCursor string
	songs      []*domain.Song
}

type warmupBatchResult struct {
	seq        int
	nextCursor string
	errors     []string
}

// WarmSource embeds every track of src.
func (s *WarmupService) WarmSource(ctx context.Context, src source.Source, opts *WarmupOptions) (*WarmupStats, error) {
	if opts == nil {
		opts = &WarmupOptions{}
	}
	ctx = logger.SetSource(ctx, src.GetSourceID())

	stats := &WarmupStats{StartTime: time.Now()}
	run, cursor, err := s.startRun(ctx, src.GetSourceID(), opts.Resume)
	if err != nil {
		return nil, err
	}
	stats.RunID = run.ID
	ctx = logger.SetRunID(ctx, run.ID)

	logger.With(logger.Fields{
		"limit":  opts.Limit,
		"resume": cursor != "",
	}).Info(ctx, "Starting warm-up: source=%s", src.GetDisplayName())

	batches := make(chan warmupBatch, s.workers)
	results := make(chan warmupBatchResult, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, batches, results, stats)
		}()
	}

	// The collector advances the run cursor only past batches whose
	// predecessors are all done, so a resumed run never skips work.
	done := make(chan struct{})
	go func() {
		defer close(done)
		pending := make(map[int]string)
		next := 0
		for res := range results {
			pending[res.seq] = res.nextCursor
			for c, ok := pending[next]; ok; c, ok = pending[next] {
				run.Cursor = c
				delete(pending, next)
				next++
			}
			if len(res.errors) > 0 && strings.Count(run.ErrorLog, "\n") < maxRunErrors {
				run.ErrorLog += strings.Join(res.errors, "\n") + "\n"
			}
			s.saveProgress(ctx, run, stats)
		}
	}()

	var fetchErr error
	exhausted := false
	fetched, seq := 0, 0
fetch:
	for ctx.Err() == nil {
		limit := s.batchSize
		if opts.Limit > 0 {
			if remaining := opts.Limit - fetched; remaining < limit {
				limit = remaining
			}
			if limit <= 0 {
				break
			}
		}

		items, nextCursor, err := src.FetchBatch(ctx, cursor, limit)
		if err != nil {
			logger.CtxError(ctx, "Failed to fetch batch: cursor=%s, error=%v", cursor, err)
			fetchErr = fmt.Errorf("fetch at cursor %q: %w", cursor, err)
			break
		}
		if len(items) == 0 {
			exhausted = true
			break
		}

		songs := make([]*domain.Song, len(items))
		for i := range items {
			songs[i] = &items[i].Song
		}
		atomic.AddInt64(&stats.TotalItems, int64(len(songs)))
		fetched += len(songs)

		select {
		case batches <- warmupBatch{seq: seq, nextCursor: nextCursor, songs: songs}:
			seq++
		case <-ctx.Done():
			break fetch
		}

		if nextCursor == "" {
			exhausted = true
			break
		}
		cursor = nextCursor
	}

	close(batches)
	wg.Wait()
	close(results)
	<-done

	stats.EndTime = time.Now()
	s.finishRun(ctx, run, stats, fetchErr, exhausted)

	logger.With(logger.Fields{
		"total":    stats.TotalItems,
		"embedded": stats.EmbeddedItems,
		"cached":   stats.CachedItems,
		"failed":   stats.FailedItems,
	}).WithDuration(stats.EndTime.Sub(stats.StartTime).Milliseconds()).
		WithStatus(string(run.Status)).
		Info(ctx, "Warm-up finished")

	return stats, nil
}

func (s *WarmupService) worker(ctx context.Context, batches <-chan warmupBatch, results chan<- warmupBatchResult, stats *WarmupStats) {
	for batch := range batches {
		res := warmupBatchResult{seq: batch.seq, nextCursor: batch.nextCursor}
		if ctx.Err() != nil {
			// Unfinished batches must not advance the cursor.
			continue
		}

		s.embedder.EmbedTrackBatch(ctx, batch.songs, func(p BatchProgress) {
			switch {
			case p.Err != nil:
				atomic.AddInt64(&stats.FailedItems, 1)
				res.errors = append(res.errors, fmt.Sprintf("%s: %v", p.TrackID, p.Err))
			case p.Cached:
				atomic.AddInt64(&stats.CachedItems, 1)
			default:
				atomic.AddInt64(&stats.EmbeddedItems, 1)
			}
		})
		if ctx.Err() != nil {
			continue
		}
		results <- res
	}
}

// startRun creates the run record and returns the cursor to start from.
func (s *WarmupService) startRun(ctx context.Context, sourceID string, resume bool) (*domain.WarmupRun, string, error) {
	run := &domain.WarmupRun{
		ID:         uuid.New().String(),
		SourceID:   sourceID,
		BundleHash: s.embedder.BundleHash(),
		Status:     domain.RunStatusRunning,
		StartedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if s.runs == nil {
		return run, "", nil
	}

	cursor := ""
	if resume {
		last, err := s.runs.GetLatest(ctx, sourceID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read last warm-up run: %w", err)
		}
		if last != nil && last.Status != domain.RunStatusCompleted && last.BundleHash == run.BundleHash {
			cursor = last.Cursor
			logger.CtxInfo(ctx, "Resuming warm-up: previous_run=%s, cursor=%s", last.ID, cursor)
		}
	}
	run.Cursor = cursor

	if err := s.runs.Create(ctx, run); err != nil {
		return nil, "", fmt.Errorf("failed to record warm-up run: %w", err)
	}
	return run, cursor, nil
}

func (s *WarmupService) saveProgress(ctx context.Context, run *domain.WarmupRun, stats *WarmupStats) {
	if s.runs == nil {
		return
	}
	run.Total = int(atomic.LoadInt64(&stats.TotalItems))
	run.Embedded = int(atomic.LoadInt64(&stats.EmbeddedItems))
	run.Cached = int(atomic.LoadInt64(&stats.CachedItems))
	run.Failed = int(atomic.LoadInt64(&stats.FailedItems))
	run.UpdatedAt = time.Now()
	if err := s.runs.Update(context.WithoutCancel(ctx), run); err != nil {
		logger.CtxWarn(ctx, "Failed to save warm-up progress: error=%v", err)
	}
}

func (s *WarmupService) finishRun(ctx context.Context, run *domain.WarmupRun, stats *WarmupStats, fetchErr error, exhausted bool) {
	switch {
	case ctx.Err() != nil:
		run.Status = domain.RunStatusCancelled
	case fetchErr != nil:
		run.Status = domain.RunStatusFailed
		run.ErrorLog += fetchErr.Error() + "\n"
	case stats.TotalItems > 0 && stats.FailedItems == stats.TotalItems:
		run.Status = domain.RunStatusFailed
	default:
		run.Status = domain.RunStatusCompleted
		if exhausted {
			run.Cursor = ""
		}
	}
	completed := time.Now()
	run.CompletedAt = &completed
	s.saveProgress(ctx, run, stats)
}
