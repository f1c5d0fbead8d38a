package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/timmy/tunematch/internal/domain"
)

const (
	redisKeyPrefix   = "tunematch:match:"
	redisContextsSet = redisKeyPrefix + "contexts"
)

// RedisMatchResultRepository keeps match results in Redis: one hash per
// context (field = track ID), one string per context record, and a set
// indexing all contexts for pruning.
type RedisMatchResultRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient parses url and verifies the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisMatchResultRepository creates the store. A ttl of zero keeps
// entries until they are pruned.
func NewRedisMatchResultRepository(client *redis.Client, ttl time.Duration) *RedisMatchResultRepository {
	return &RedisMatchResultRepository{client: client, ttl: ttl}
}

func resultsKey(contextHash string) string { return redisKeyPrefix + "results:" + contextHash }
func contextKey(contextHash string) string { return redisKeyPrefix + "ctx:" + contextHash }

// GetResults returns cached results of contextHash for the given tracks.
func (r *RedisMatchResultRepository) GetResults(ctx context.Context, contextHash string, trackIDs []string) (map[string]*domain.MatchResult, error) {
	out := make(map[string]*domain.MatchResult, len(trackIDs))
	if len(trackIDs) == 0 {
		return out, nil
	}

	values, err := r.client.HMGet(ctx, resultsKey(contextHash), trackIDs...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read match results: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var res domain.MatchResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return nil, fmt.Errorf("failed to decode match result %s: %w", trackIDs[i], err)
		}
		out[trackIDs[i]] = &res
	}
	return out, nil
}

// SaveContext stores the context record, keeping its original creation time.
func (r *RedisMatchResultRepository) SaveContext(ctx context.Context, record *domain.MatchContextRecord) error {
	now := time.Now()
	record.LastUsedAt = now

	existing, err := r.getContext(ctx, record.ContextHash)
	if err != nil {
		return err
	}
	if existing != nil {
		record.CreatedAt = existing.CreatedAt
	} else if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode match context: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, contextKey(record.ContextHash), payload, r.ttl)
	pipe.SAdd(ctx, redisContextsSet, record.ContextHash)
	if r.ttl > 0 {
		pipe.Expire(ctx, resultsKey(record.ContextHash), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save match context: %w", err)
	}
	return nil
}

// SaveResults writes each result unless one already exists for its track.
func (r *RedisMatchResultRepository) SaveResults(ctx context.Context, results []*domain.MatchResult) error {
	if len(results) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	touched := make(map[string]struct{})
	for _, res := range results {
		payload, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("failed to encode match result %s: %w", res.TrackID, err)
		}
		pipe.HSetNX(ctx, resultsKey(res.ContextHash), res.TrackID, payload)
		touched[res.ContextHash] = struct{}{}
	}
	if r.ttl > 0 {
		for hash := range touched {
			pipe.Expire(ctx, resultsKey(hash), r.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save match results: %w", err)
	}
	return nil
}

// ListContexts returns every live context record. Index entries whose record
// expired are dropped from the index.
func (r *RedisMatchResultRepository) ListContexts(ctx context.Context) ([]domain.MatchContextRecord, error) {
	hashes, err := r.client.SMembers(ctx, redisContextsSet).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list match contexts: %w", err)
	}

	records := make([]domain.MatchContextRecord, 0, len(hashes))
	var expired []interface{}
	for _, hash := range hashes {
		rec, err := r.getContext(ctx, hash)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			expired = append(expired, hash)
			continue
		}
		records = append(records, *rec)
	}
	if len(expired) > 0 {
		if err := r.client.SRem(ctx, redisContextsSet, expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to clean match context index: %w", err)
		}
	}
	return records, nil
}

// DeleteContexts removes contexts and their results, returning the number of
// results removed.
func (r *RedisMatchResultRepository) DeleteContexts(ctx context.Context, contextHashes []string) (int64, error) {
	var deleted int64
	for _, hash := range contextHashes {
		n, err := r.client.HLen(ctx, resultsKey(hash)).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to count match results: %w", err)
		}

		pipe := r.client.TxPipeline()
		pipe.Del(ctx, resultsKey(hash), contextKey(hash))
		pipe.SRem(ctx, redisContextsSet, hash)
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, fmt.Errorf("failed to delete match context %s: %w", hash, err)
		}
		deleted += n
	}
	return deleted, nil
}

func (r *RedisMatchResultRepository) getContext(ctx context.Context, hash string) (*domain.MatchContextRecord, error) {
	raw, err := r.client.Get(ctx, contextKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read match context: %w", err)
	}
	var rec domain.MatchContextRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode match context: %w", err)
	}
	return &rec, nil
}
