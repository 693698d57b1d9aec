package storage

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"taskboard/domain"
)

// Firestore stores tasks under <root>/<userID>/list/<taskID>.
type Firestore struct {
	client *firestore.Client
	root   string
}

func NewFirestore(client *firestore.Client, root string) *Firestore {
	if root == "" {
		root = "tasks"
	}
	return &Firestore{client: client, root: root}
}

type taskDoc struct {
	Title       string        `firestore:"title"`
	Description string        `firestore:"description"`
	Category    string        `firestore:"category"`
	Status      string        `firestore:"status"`
	DueDate     string        `firestore:"dueDate"`
	CreatedAt   string        `firestore:"createdAt"`
	UpdatedAt   string        `firestore:"updatedAt,omitempty"`
	Activity    []activityDoc `firestore:"activity,omitempty"`
}

type activityDoc struct {
	Type      string `firestore:"type"`
	Message   string `firestore:"message"`
	Timestamp string `firestore:"timestamp"`
	UserID    string `firestore:"userId,omitempty"`
}

func toActivityDocs(entries []domain.ActivityEntry) []activityDoc {
	if len(entries) == 0 {
		return nil
	}
	out := make([]activityDoc, len(entries))
	for i, e := range entries {
		out[i] = activityDoc{Type: string(e.Type), Message: e.Message, Timestamp: formatTime(e.Timestamp), UserID: e.UserID}
	}
	return out
}

func toTaskDoc(t domain.Task) taskDoc {
	return taskDoc{
		Title:       t.Title,
		Description: t.Description,
		Category:    string(t.Category),
		Status:      string(t.Status),
		DueDate:     formatTime(t.DueDate),
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   optionalTime(t.UpdatedAt),
		Activity:    toActivityDocs(t.Activity),
	}
}

func (d taskDoc) task(id string) (domain.Task, error) {
	t := domain.Task{
		ID:          id,
		Title:       d.Title,
		Description: d.Description,
		Category:    domain.Category(d.Category),
		Status:      domain.Status(d.Status),
	}
	var err error
	if t.DueDate, err = parseTime(d.DueDate); err != nil {
		return domain.Task{}, err
	}
	if t.CreatedAt, err = parseTime(d.CreatedAt); err != nil {
		return domain.Task{}, err
	}
	if t.UpdatedAt, err = parseOptionalTime(d.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	for _, a := range d.Activity {
		ts, err := parseTime(a.Timestamp)
		if err != nil {
			return domain.Task{}, err
		}
		t.Activity = append(t.Activity, domain.ActivityEntry{
			Type:      domain.ActivityType(a.Type),
			Message:   a.Message,
			Timestamp: ts,
			UserID:    a.UserID,
		})
	}
	return t, nil
}

// fieldUpdates lists the document paths UpdateTask writes.
func fieldUpdates(fields domain.TaskFields, activity []domain.ActivityEntry) []firestore.Update {
	updates := []firestore.Update{
		{Path: "title", Value: fields.Title},
		{Path: "description", Value: fields.Description},
		{Path: "category", Value: string(fields.Category)},
		{Path: "status", Value: string(fields.Status)},
		{Path: "dueDate", Value: formatTime(fields.DueDate)},
		{Path: "updatedAt", Value: formatTime(timeNow())},
	}
	if len(activity) > 0 {
		items := make([]interface{}, 0, len(activity))
		for _, a := range toActivityDocs(activity) {
			item := map[string]interface{}{"type": a.Type, "message": a.Message, "timestamp": a.Timestamp}
			if a.UserID != "" {
				item["userId"] = a.UserID
			}
			items = append(items, item)
		}
		updates = append(updates, firestore.Update{Path: "activity", Value: firestore.ArrayUnion(items...)})
	}
	return updates
}

func mapFirestoreError(err error) error {
	if status.Code(err) == codes.NotFound {
		return domain.ErrTaskNotFound
	}
	return err
}

func (s *Firestore) list(userID string) *firestore.CollectionRef {
	return s.client.Collection(s.root).Doc(userID).Collection("list")
}

func (s *Firestore) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	iter := s.list(userID).OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	tasks := []domain.Task{}
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		var d taskDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", doc.Ref.ID, err)
		}
		t, err := d.task(doc.Ref.ID)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *Firestore) CreateTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error) {
	if userID == "" {
		return domain.Task{}, domain.ErrUnauthenticated
	}
	ref := s.list(userID).NewDoc()
	if _, err := ref.Set(ctx, toTaskDoc(task)); err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	task.ID = ref.ID
	return task, nil
}

func (s *Firestore) UpdateTaskStatus(ctx context.Context, userID, taskID string, st domain.Status) error {
	if err := requireIDs(userID, taskID); err != nil {
		return err
	}
	_, err := s.list(userID).Doc(taskID).Update(ctx, []firestore.Update{{Path: "status", Value: string(st)}})
	return mapFirestoreError(err)
}

func (s *Firestore) UpdateTask(ctx context.Context, userID, taskID string, fields domain.TaskFields, activity ...domain.ActivityEntry) error {
	if err := requireIDs(userID, taskID); err != nil {
		return err
	}
	_, err := s.list(userID).Doc(taskID).Update(ctx, fieldUpdates(fields, activity))
	return mapFirestoreError(err)
}

// DeleteTask succeeds when the task is already gone.
func (s *Firestore) DeleteTask(ctx context.Context, userID, taskID string) error {
	if err := requireIDs(userID, taskID); err != nil {
		return err
	}
	_, err := s.list(userID).Doc(taskID).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}
