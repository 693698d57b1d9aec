package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"taskboard/domain"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "tasks.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTask(title string, created time.Time) domain.Task {
	return domain.Task{
		Title:     title,
		Category:  domain.CategoryWork,
		Status:    domain.StatusTodo,
		DueDate:   time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		CreatedAt: created,
		Activity:  []domain.ActivityEntry{domain.CreatedActivity("u1", created)},
	}
}

func TestSQLiteFetchReturnsNewestFirstPerUser(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

	older, err := s.CreateTask(ctx, "u1", newTask("older", base))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	newer, err := s.CreateTask(ctx, "u1", newTask("newer", base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateTask(ctx, "u2", newTask("other user", base)); err != nil {
		t.Fatalf("create: %v", err)
	}

	tasks, err := s.FetchTasks(ctx, "u1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != newer.ID || tasks[1].ID != older.ID {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if !tasks[1].DueDate.Equal(older.DueDate) || !tasks[1].CreatedAt.Equal(base) {
		t.Fatalf("timestamps not preserved: %#v", tasks[1])
	}
	if len(tasks[1].Activity) != 1 || tasks[1].Activity[0].Type != domain.ActivityCreated {
		t.Fatalf("activity not preserved: %#v", tasks[1].Activity)
	}
}

func TestSQLiteUpdateTaskAppendsActivity(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	created, err := s.CreateTask(ctx, "u1", newTask("draft", time.Now()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	fields := created.Fields()
	fields.Title = "final"
	change := domain.ActivityEntry{Type: domain.ActivityTitleChanged, Message: `Title changed from "draft" to "final"`, Timestamp: time.Now(), UserID: "u1"}
	if err := s.UpdateTask(ctx, "u1", created.ID, fields, change); err != nil {
		t.Fatalf("update: %v", err)
	}

	tasks, _ := s.FetchTasks(ctx, "u1")
	if tasks[0].Title != "final" || tasks[0].UpdatedAt == nil {
		t.Fatalf("unexpected task after update: %#v", tasks[0])
	}
	if len(tasks[0].Activity) != 2 || tasks[0].Activity[1].Type != domain.ActivityTitleChanged {
		t.Fatalf("expected appended activity, got %#v", tasks[0].Activity)
	}
}

func TestSQLiteMissingTask(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	if err := s.UpdateTaskStatus(ctx, "u1", "missing", domain.StatusCompleted); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound from status update, got %v", err)
	}
	if err := s.UpdateTask(ctx, "u1", "missing", newTask("x", time.Now()).Fields()); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound from update, got %v", err)
	}
	if err := s.DeleteTask(ctx, "u1", "missing"); err != nil {
		t.Fatalf("expected delete of missing task to succeed, got %v", err)
	}
	if _, err := s.CreateTask(ctx, "", newTask("x", time.Now())); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestSQLiteStatusAndDelete(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	created, err := s.CreateTask(ctx, "u1", newTask("task", time.Now()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.UpdateTaskStatus(ctx, "u1", created.ID, domain.StatusInProgress); err != nil {
		t.Fatalf("status: %v", err)
	}
	tasks, _ := s.FetchTasks(ctx, "u1")
	if tasks[0].Status != domain.StatusInProgress {
		t.Fatalf("expected in-progress, got %s", tasks[0].Status)
	}

	if err := s.DeleteTask(ctx, "u1", created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	tasks, _ = s.FetchTasks(ctx, "u1")
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks, got %#v", tasks)
	}
}
