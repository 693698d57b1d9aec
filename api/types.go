package api

import (
	"context"

	"taskboard/board"
	"taskboard/domain"
	"taskboard/dragdrop"
	"taskboard/session"
	"taskboard/view"
)

// Board is the page state the handlers drive.
type Board interface {
	Snapshot() board.Snapshot
	Subscribe(fn func()) func()
	Refresh(ctx context.Context) error
	SetFilters(c view.Criteria)
	SetLayout(l board.Layout) error
	CreateFromDialog(ctx context.Context, fields domain.TaskFields) (domain.Task, error)
	CreateInline(ctx context.Context, fields domain.TaskFields) (domain.Task, error)
	EditTask(ctx context.Context, taskID string, fields domain.TaskFields) error
	ChangeStatus(ctx context.Context, taskID string, status domain.Status) error
	DeleteTask(ctx context.Context, taskID string) error
	ToggleSelection(taskID string) bool
	ClearSelection()
	BulkSetStatus(ctx context.Context, status domain.Status) error
	BulkDelete(ctx context.Context) error
	ToggleSort(group string) (view.SortOrder, error)
	DragStart(taskID string) (domain.Task, bool)
	DragEnd(ctx context.Context, activeID, overID string) (dragdrop.Result, error)
	DragCancel()
}

// Session is the signed-in user holder.
type Session interface {
	Current() (session.User, bool)
	SignIn(ctx context.Context, token string) (session.User, error)
	SignOut()
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

type taskRequest struct {
	Mode        string `json:"mode,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Status      string `json:"status"`
	DueDate     string `json:"dueDate"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type dragRequest struct {
	TaskID   string `json:"taskId,omitempty"`
	ActiveID string `json:"activeId,omitempty"`
	OverID   string `json:"overId,omitempty"`
}

type selectionResponse struct {
	TaskID   string `json:"taskId"`
	Selected bool   `json:"selected"`
}

type sortResponse struct {
	Group string         `json:"group"`
	Sort  view.SortOrder `json:"sort"`
}
