package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"taskboard/domain"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS tasks (
	user_id     TEXT NOT NULL,
	id          TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	due_date    TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL DEFAULT '',
	activity    TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (user_id, id)
);
CREATE INDEX IF NOT EXISTS tasks_user_created ON tasks (user_id, created_at DESC);`

// SQLite keeps tasks in a local database file, one row per task.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = "taskboard.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection serialises writers
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tasks table and its index.
func (s *SQLite) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create tasks table: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, description, category, status, due_date, created_at, updated_at, activity
		FROM tasks WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := []domain.Task{}
	for rows.Next() {
		var (
			t                                  domain.Task
			category, status                   string
			due, created, updated, activityRaw string
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &category, &status, &due, &created, &updated, &activityRaw); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Category = domain.Category(category)
		t.Status = domain.Status(status)
		if t.DueDate, err = parseTime(due); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if t.UpdatedAt, err = parseOptionalTime(updated); err != nil {
			return nil, err
		}
		if t.Activity, err = decodeActivity(activityRaw); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func (s *SQLite) CreateTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error) {
	if userID == "" {
		return domain.Task{}, domain.ErrUnauthenticated
	}
	task.ID = uuid.NewString()
	activity, err := encodeActivity(task.Activity)
	if err != nil {
		return domain.Task{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tasks (user_id, id, title, description, category, status, due_date, created_at, updated_at, activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, task.ID, task.Title, task.Description, string(task.Category), string(task.Status),
		formatTime(task.DueDate), formatTime(task.CreatedAt), optionalTime(task.UpdatedAt), activity)
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func (s *SQLite) UpdateTaskStatus(ctx context.Context, userID, taskID string, status domain.Status) error {
	if err := requireIDs(userID, taskID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE user_id = ? AND id = ?`, string(status), userID, taskID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return expectRow(res)
}

func (s *SQLite) UpdateTask(ctx context.Context, userID, taskID string, fields domain.TaskFields, activity ...domain.ActivityEntry) (err error) {
	if err := requireIDs(userID, taskID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT activity FROM tasks WHERE user_id = ? AND id = ?`, userID, taskID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("select activity: %w", err)
	}
	existing, err := decodeActivity(raw)
	if err != nil {
		return err
	}
	merged, err := encodeActivity(append(existing, activity...))
	if err != nil {
		return err
	}
	now := formatTime(timeNow())
	_, err = tx.ExecContext(ctx, `UPDATE tasks SET title = ?, description = ?, category = ?, status = ?, due_date = ?, updated_at = ?, activity = ?
		WHERE user_id = ? AND id = ?`,
		fields.Title, fields.Description, string(fields.Category), string(fields.Status), formatTime(fields.DueDate), now, merged,
		userID, taskID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteTask succeeds when the task is already gone.
func (s *SQLite) DeleteTask(ctx context.Context, userID, taskID string) error {
	if err := requireIDs(userID, taskID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE user_id = ? AND id = ?`, userID, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
