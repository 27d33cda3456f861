package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/chain"
)

// Client wraps go-redis with the cache operations the bounty client needs.
// All operations are best-effort at call sites: a cold or absent Redis slows
// the UI down but never blocks the submission lifecycle.
type Client struct {
	rdb  *redis.Client
	keys *KeyBuilder
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int, keys *KeyBuilder) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	log.WithField("addr", addr).Info("✅ Connected to Redis")
	return &Client{rdb: rdb, keys: keys}, nil
}

// Keys exposes the key builder for callers that need channel names.
func (c *Client) Keys() *KeyBuilder {
	return c.keys
}

// Raw exposes the underlying go-redis client for pub/sub fan-out.
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

// StoreEvaluationResult caches a concluded oracle evaluation. Results are
// immutable once Ready, so a generous TTL is safe.
func (c *Client) StoreEvaluationResult(ctx context.Context, submissionID uint64, result *chain.EvaluationResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation result: %w", err)
	}
	key := c.keys.EvaluationResult(submissionID)
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache evaluation result %s: %w", key, err)
	}
	return nil
}

// LoadEvaluationResult returns a cached evaluation, or nil on miss.
func (c *Client) LoadEvaluationResult(ctx context.Context, submissionID uint64) (*chain.EvaluationResult, error) {
	data, err := c.rdb.Get(ctx, c.keys.EvaluationResult(submissionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluation result: %w", err)
	}
	var result chain.EvaluationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached evaluation result: %w", err)
	}
	return &result, nil
}

// ClearEvaluationResult drops a cached evaluation, typically after the
// backend has been synced with the final outcome.
func (c *Client) ClearEvaluationResult(ctx context.Context, submissionID uint64) error {
	return c.rdb.Del(ctx, c.keys.EvaluationResult(submissionID)).Err()
}

// SetJobStatus caches the reconciled effective status of a job.
func (c *Client) SetJobStatus(ctx context.Context, jobID int64, status string, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.keys.JobStatus(jobID), status, ttl).Err()
}

// GetJobStatus returns the cached effective status of a job, "" on miss.
func (c *Client) GetJobStatus(ctx context.Context, jobID int64) (string, error) {
	status, err := c.rdb.Get(ctx, c.keys.JobStatus(jobID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return status, err
}

// StoreResolvedBountyID persists a job-to-bounty id mapping discovered by
// the resolver. The mapping never changes once known, so no TTL.
func (c *Client) StoreResolvedBountyID(ctx context.Context, jobID int64, bountyID uint64) error {
	return c.rdb.Set(ctx, c.keys.ResolvedBountyID(jobID), bountyID, 0).Err()
}

// LoadResolvedBountyID returns a cached mapping, or nil on miss.
func (c *Client) LoadResolvedBountyID(ctx context.Context, jobID int64) (*uint64, error) {
	id, err := c.rdb.Get(ctx, c.keys.ResolvedBountyID(jobID)).Uint64()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load resolved bounty id: %w", err)
	}
	return &id, nil
}

// MarkResolveAttempted sets the sticky per-job resolve flag. It returns
// true when this call was the first to set it.
func (c *Client) MarkResolveAttempted(ctx context.Context, jobID int64) (bool, error) {
	return c.rdb.SetNX(ctx, c.keys.ResolveAttempted(jobID), time.Now().Unix(), 0).Result()
}

// PublishJobViewChanged notifies subscribers that a job's reconciled view
// changed and should be re-fetched.
func (c *Client) PublishJobViewChanged(ctx context.Context, jobID int64) {
	payload := fmt.Sprintf("%d", jobID)
	if err := c.rdb.Publish(ctx, c.keys.JobViewChanged(), payload).Err(); err != nil {
		log.WithError(err).WithField("jobID", jobID).Warn("Failed to publish job view change")
	}
}

// SubscribeJobViewChanged returns a subscription on the job view channel.
// The caller owns the returned PubSub and must Close it.
func (c *Client) SubscribeJobViewChanged(ctx context.Context) *redis.PubSub {
	return c.rdb.Subscribe(ctx, c.keys.JobViewChanged())
}

// Heartbeat records a watcher heartbeat with a TTL twice the beat interval.
func (c *Client) Heartbeat(ctx context.Context, watcher string, interval time.Duration) {
	key := c.keys.WatcherHeartbeat(watcher)
	if err := c.rdb.Set(ctx, key, time.Now().Unix(), 2*interval).Err(); err != nil {
		log.WithError(err).WithField("watcher", watcher).Debug("Failed to record heartbeat")
	}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
