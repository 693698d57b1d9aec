package domain

import (
	"strings"
	"time"
)

// Status identifies both a task's progress and the board column it lives in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Statuses lists every status in board order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusCompleted}

// ParseStatus matches s against the known statuses, ignoring case.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Category groups tasks by area of life.
type Category string

const (
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
)

// ParseCategory matches s against the known categories, ignoring case.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

func (c Category) Valid() bool {
	return c == CategoryWork || c == CategoryPersonal
}

// Task represents a single board item owned by one user.
type Task struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    Category        `json:"category"`
	Status      Status          `json:"status"`
	DueDate     time.Time       `json:"dueDate"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   *time.Time      `json:"updatedAt,omitempty"`
	Activity    []ActivityEntry `json:"activity,omitempty"`
}

// Clone returns a copy of t that shares no memory with it.
func (t Task) Clone() Task {
	out := t
	if t.UpdatedAt != nil {
		u := *t.UpdatedAt
		out.UpdatedAt = &u
	}
	if t.Activity != nil {
		out.Activity = append([]ActivityEntry(nil), t.Activity...)
	}
	return out
}

// Fields returns the editable part of t.
func (t Task) Fields() TaskFields {
	return TaskFields{
		Title:       t.Title,
		Description: t.Description,
		Category:    t.Category,
		Status:      t.Status,
		DueDate:     t.DueDate,
	}
}

// WithFields returns t with the editable part replaced by f.
func (t Task) WithFields(f TaskFields) Task {
	t.Title = f.Title
	t.Description = f.Description
	t.Category = f.Category
	t.Status = f.Status
	t.DueDate = f.DueDate
	return t
}

// TaskFields carries the user-editable fields of a task.
type TaskFields struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	Status      Status    `json:"status"`
	DueDate     time.Time `json:"dueDate"`
}

// CloneTasks deep-copies a task list. A nil input yields nil.
func CloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	for i := range tasks {
		out[i] = tasks[i].Clone()
	}
	return out
}

// IndexOf returns the position of the task with the given id, or -1.
func IndexOf(tasks []Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}
