package repository

import (
	"context"
	"errors"
	"time"

	"video_merge_service/internal/merge/domain"
	"video_merge_service/pkg/database"
)

const statusKeyPrefix = "merge:job:"

// ErrCacheMiss the snapshot is not cached
var ErrCacheMiss = errors.New("job status not cached")

// StatusCache fast path for job status lookups
type StatusCache interface {
	Put(ctx context.Context, s domain.JobSnapshot) error
	Get(ctx context.Context, jobID string) (*domain.JobSnapshot, error)
}

type statusCache struct {
	repo database.RedisRepository[domain.JobSnapshot]
	ttl  time.Duration
}

// NewStatusCache wrap a redis repository; snapshots expire after ttl
func NewStatusCache(repo database.RedisRepository[domain.JobSnapshot], ttl time.Duration) StatusCache {
	return &statusCache{repo: repo, ttl: ttl}
}

func (c *statusCache) Put(ctx context.Context, s domain.JobSnapshot) error {
	return c.repo.Set(ctx, statusKeyPrefix+s.JobID, s, c.ttl)
}

func (c *statusCache) Get(ctx context.Context, jobID string) (*domain.JobSnapshot, error) {
	s, err := c.repo.Get(ctx, statusKeyPrefix+jobID)
	if errors.Is(err, database.ErrRedisNil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
