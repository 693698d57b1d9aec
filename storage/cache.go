package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

// Cache wraps a TaskStore with a Redis read-through cache of each user's list.
// Redis failures fall back to the backing store.
type Cache struct {
	base  TaskStore
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base TaskStore, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if tasks, ok := c.load(ctx, userID); ok {
		return tasks, nil
	}
	tasks, err := c.base.FetchTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, userID, tasks)
	return tasks, nil
}

func (c *Cache) CreateTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error) {
	created, err := c.base.CreateTask(ctx, userID, task)
	if err != nil {
		return domain.Task{}, err
	}
	c.Evict(ctx, userID)
	return created, nil
}

func (c *Cache) UpdateTaskStatus(ctx context.Context, userID, taskID string, status domain.Status) error {
	if err := c.base.UpdateTaskStatus(ctx, userID, taskID, status); err != nil {
		return err
	}
	c.Evict(ctx, userID)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, userID, taskID string, fields domain.TaskFields, activity ...domain.ActivityEntry) error {
	if err := c.base.UpdateTask(ctx, userID, taskID, fields, activity...); err != nil {
		return err
	}
	c.Evict(ctx, userID)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, userID, taskID string) error {
	if err := c.base.DeleteTask(ctx, userID, taskID); err != nil {
		return err
	}
	c.Evict(ctx, userID)
	return nil
}

func (c *Cache) load(ctx context.Context, userID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, userID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(userID), data, c.ttl).Err()
}

// Evict drops the cached list of userID.
func (c *Cache) Evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
}

func tasksCacheKey(userID string) string {
	return "tasks:" + userID
}
