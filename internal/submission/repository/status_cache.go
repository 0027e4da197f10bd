package repository

import (
	"context"
	"encoding/json"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/judge/model"
)

const (
	statusCacheKeyPrefix = "submission:status:"

	// Non-terminal snapshots churn fast while callers poll; terminal ones
	// stay useful much longer.
	defaultProgressTTL = 2 * time.Minute
	defaultTerminalTTL = 30 * time.Minute
)

// StatusCache keeps a JSON snapshot of each submission in Redis so polling
// readers never contend with the grading worker's database writes.
type StatusCache struct {
	cache       cache.Cache
	progressTTL time.Duration
	terminalTTL time.Duration
}

// NewStatusCache creates a status cache with default TTLs.
func NewStatusCache(cacheClient cache.Cache) *StatusCache {
	return NewStatusCacheWithTTL(cacheClient, defaultProgressTTL, defaultTerminalTTL)
}

// NewStatusCacheWithTTL creates a status cache with custom TTLs.
func NewStatusCacheWithTTL(cacheClient cache.Cache, progressTTL, terminalTTL time.Duration) *StatusCache {
	if progressTTL <= 0 {
		progressTTL = defaultProgressTTL
	}
	if terminalTTL <= 0 {
		terminalTTL = defaultTerminalTTL
	}
	return &StatusCache{
		cache:       cacheClient,
		progressTTL: progressTTL,
		terminalTTL: terminalTTL,
	}
}

// Set writes through the current snapshot of a submission.
func (c *StatusCache) Set(ctx context.Context, submission *model.Submission) error {
	if c == nil || c.cache == nil || submission == nil {
		return nil
	}
	payload, err := json.Marshal(submission)
	if err != nil {
		return err
	}
	ttl := c.progressTTL
	if submission.Status.IsTerminal() {
		ttl = c.terminalTTL
	}
	return c.cache.Set(ctx, statusCacheKey(submission.ID), string(payload), ttl)
}

// Get returns the cached snapshot, or nil on a miss.
func (c *StatusCache) Get(ctx context.Context, submissionID string) (*model.Submission, error) {
	if c == nil || c.cache == nil {
		return nil, nil
	}
	raw, err := c.cache.Get(ctx, statusCacheKey(submissionID))
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var submission model.Submission
	if err := json.Unmarshal([]byte(raw), &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}

// Invalidate drops the snapshot for a submission.
func (c *StatusCache) Invalidate(ctx context.Context, submissionID string) error {
	if c == nil || c.cache == nil {
		return nil
	}
	return c.cache.Del(ctx, statusCacheKey(submissionID))
}

func statusCacheKey(submissionID string) string {
	return statusCacheKeyPrefix + submissionID
}
