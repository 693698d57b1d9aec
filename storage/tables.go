package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"taskboard/domain"
)

// maxEtagRetries bounds the read-modify-write loop of UpdateTask.
const maxEtagRetries = 3

var retryStatusCodes = []int{408, 429, 500, 502, 503, 504}

// Tables stores tasks in an Azure table, partitioned by user id.
type Tables struct {
	client *aztables.Client
}

// NewTables connects to the named table.
func NewTables(connStr, table string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{client: svc.NewClient(table)}, nil
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	entityKeys
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Category    string `json:"Category"`
	Status      string `json:"Status"`
	DueDate     string `json:"DueDate"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt,omitempty"`
	Activity    string `json:"Activity"`
}

type statusUpdate struct {
	entityKeys
	Status string `json:"Status"`
}

func newTaskEntity(userID string, t domain.Task) (taskEntity, error) {
	activity, err := encodeActivity(t.Activity)
	if err != nil {
		return taskEntity{}, err
	}
	return taskEntity{
		entityKeys:  entityKeys{PartitionKey: userID, RowKey: t.ID},
		Title:       t.Title,
		Description: t.Description,
		Category:    string(t.Category),
		Status:      string(t.Status),
		DueDate:     formatTime(t.DueDate),
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   optionalTime(t.UpdatedAt),
		Activity:    activity,
	}, nil
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, fmt.Errorf("decode task entity: %w", err)
	}
	t := domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Category:    domain.Category(ent.Category),
		Status:      domain.Status(ent.Status),
	}
	var err error
	if t.DueDate, err = parseTime(ent.DueDate); err != nil {
		return domain.Task{}, err
	}
	if t.CreatedAt, err = parseTime(ent.CreatedAt); err != nil {
		return domain.Task{}, err
	}
	if t.UpdatedAt, err = parseOptionalTime(ent.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	if t.Activity, err = decodeActivity(ent.Activity); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// partitionFilter builds an OData filter for one user's partition.
func partitionFilter(userID string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(userID, "'", "''") + "'"
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func mapTablesError(err error) error {
	if statusCode(err) == http.StatusNotFound {
		return domain.ErrTaskNotFound
	}
	return err
}

func (s *Tables) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := partitionFilter(userID)
	pager := s.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	sortNewestFirst(tasks)
	return tasks, nil
}

func (s *Tables) CreateTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error) {
	if userID == "" {
		return domain.Task{}, domain.ErrUnauthenticated
	}
	task.ID = uuid.NewString()
	ent, err := newTaskEntity(userID, task)
	if err != nil {
		return domain.Task{}, err
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.client.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (s *Tables) UpdateTaskStatus(ctx context.Context, userID, taskID string, status domain.Status) error {
	if err := requireIDs(userID, taskID); err != nil {
		return err
	}
	payload, err := sonic.Marshal(statusUpdate{
		entityKeys: entityKeys{PartitionKey: userID, RowKey: taskID},
		Status:     string(status),
	})
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return mapTablesError(err)
}

// UpdateTask merges fields and appends activity. The entity is re-read and
// the write retried when another writer changed it in between.
func (s *Tables) UpdateTask(ctx context.Context, userID, taskID string, fields domain.TaskFields, activity ...domain.ActivityEntry) error {
	if err := requireIDs(userID, taskID); err != nil {
		return err
	}
	var err error
	for attempt := 0; attempt < maxEtagRetries; attempt++ {
		err = s.updateOnce(ctx, userID, taskID, fields, activity)
		if statusCode(err) != http.StatusPreconditionFailed {
			return err
		}
	}
	return fmt.Errorf("update task %s: concurrency conflict: %w", taskID, err)
}

func (s *Tables) updateOnce(ctx context.Context, userID, taskID string, fields domain.TaskFields, activity []domain.ActivityEntry) error {
	resp, err := s.client.GetEntity(ctx, userID, taskID, nil)
	if err != nil {
		return mapTablesError(err)
	}
	cur, err := decodeTaskEntity(resp.Value)
	if err != nil {
		return err
	}
	next := cur.WithFields(fields)
	now := timeNow()
	next.UpdatedAt = &now
	next.Activity = append(cur.Activity, activity...)

	ent, err := newTaskEntity(userID, next)
	if err != nil {
		return err
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	etag := resp.ETag
	_, err = s.client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
	return mapTablesError(err)
}

// DeleteTask succeeds when the task is already gone.
func (s *Tables) DeleteTask(ctx context.Context, userID, taskID string) error {
	if err := requireIDs(userID, taskID); err != nil {
		return err
	}
	_, err := s.client.DeleteEntity(ctx, userID, taskID, nil)
	if statusCode(err) == http.StatusNotFound {
		return nil
	}
	return err
}

// CreateTable provisions the table, treating an existing one as success.
func CreateTable(ctx context.Context, connStr, name string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
			return err
		}
	}
	return nil
}
