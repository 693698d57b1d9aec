// Package storage adapts the task store contract onto Firestore, Azure Tables
// and SQLite, and layers caching, change journaling and change notification
// on top of any of them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"taskboard/domain"
)

// TaskStore is implemented by every backend and decorator in this package.
// FetchTasks returns tasks newest first.
type TaskStore interface {
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	CreateTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error)
	UpdateTaskStatus(ctx context.Context, userID, taskID string, status domain.Status) error
	UpdateTask(ctx context.Context, userID, taskID string, fields domain.TaskFields, activity ...domain.ActivityEntry) error
	DeleteTask(ctx context.Context, userID, taskID string) error
}

var timeNow = time.Now

// Timestamps are stored as fixed-width UTC strings so that they sort as text.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeActivity(entries []domain.ActivityEntry) (string, error) {
	if len(entries) == 0 {
		return "[]", nil
	}
	data, err := sonic.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encode activity: %w", err)
	}
	return string(data), nil
}

func decodeActivity(s string) ([]domain.ActivityEntry, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var out []domain.ActivityEntry
	if err := sonic.UnmarshalString(s, &out); err != nil {
		return nil, fmt.Errorf("decode activity: %w", err)
	}
	return out, nil
}

// sortNewestFirst orders tasks by creation time, newest first, keeping the
// incoming order for ties.
func sortNewestFirst(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

func requireIDs(userID, taskID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ErrUnauthenticated
	}
	if strings.TrimSpace(taskID) == "" {
		return fmt.Errorf("%w: empty task id", domain.ErrTaskNotFound)
	}
	return nil
}

// IsNotFound reports whether err means the task does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrTaskNotFound)
}
