package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

type TaskStatus string

const (
	TaskQueued  TaskStatus = "queued"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// TaskStore tracks PDF processing task status in redis so the upload caller
// can poll for completion. Entries expire on their own; a missing entry
// means the task is unknown or long finished.
type TaskStore struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewTaskStore(client *redisv9.Client, ttl time.Duration) *TaskStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TaskStore{client: client, ttl: ttl}
}

func (s *TaskStore) Set(ctx context.Context, taskID string, status TaskStatus) error {
	if err := s.client.Set(ctx, s.key(taskID), string(status), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set task status failed: %w", err)
	}
	return nil
}

func (s *TaskStore) Get(ctx context.Context, taskID string) (TaskStatus, bool, error) {
	raw, err := s.client.Get(ctx, s.key(taskID)).Result()
	if errors.Is(err, redisv9.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get task status failed: %w", err)
	}
	return TaskStatus(raw), true, nil
}

func (s *TaskStore) key(taskID string) string {
	return "knowledge:pdf:task:" + taskID
}
