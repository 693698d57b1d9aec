package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// JournalEntry is the queue message written after every successful write.
type JournalEntry struct {
	UserID    string                 `json:"userId"`
	TaskID    string                 `json:"taskId"`
	Kind      string                 `json:"kind"`
	Activity  []domain.ActivityEntry `json:"activity,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Journal records every successful write on an Azure queue. Enqueue failures
// are logged and never fail the write.
type Journal struct {
	base   TaskStore
	queue  queueClient
	logger *log.Logger
}

func NewJournal(base TaskStore, queue *azqueue.QueueClient, logger *log.Logger) *Journal {
	return newJournal(base, queue, logger)
}

func newJournal(base TaskStore, queue queueClient, logger *log.Logger) *Journal {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Journal{base: base, queue: queue, logger: logger}
}

// NewQueueClient connects to the named queue with the retry policy used for
// every queue in this service.
func NewQueueClient(connStr, name string) (*azqueue.QueueClient, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	return azqueue.NewQueueClientFromConnectionString(connStr, name, &opts)
}

// CreateQueue provisions the queue, treating an existing one as success.
func CreateQueue(ctx context.Context, connStr, name string) error {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	if err != nil {
		return err
	}
	if _, err := q.Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
			return err
		}
	}
	return nil
}

func (j *Journal) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	return j.base.FetchTasks(ctx, userID)
}

func (j *Journal) CreateTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error) {
	created, err := j.base.CreateTask(ctx, userID, task)
	if err != nil {
		return domain.Task{}, err
	}
	j.record(ctx, JournalEntry{UserID: userID, TaskID: created.ID, Kind: "create", Activity: created.Activity})
	return created, nil
}

func (j *Journal) UpdateTaskStatus(ctx context.Context, userID, taskID string, status domain.Status) error {
	if err := j.base.UpdateTaskStatus(ctx, userID, taskID, status); err != nil {
		return err
	}
	j.record(ctx, JournalEntry{UserID: userID, TaskID: taskID, Kind: "status"})
	return nil
}

func (j *Journal) UpdateTask(ctx context.Context, userID, taskID string, fields domain.TaskFields, activity ...domain.ActivityEntry) error {
	if err := j.base.UpdateTask(ctx, userID, taskID, fields, activity...); err != nil {
		return err
	}
	j.record(ctx, JournalEntry{UserID: userID, TaskID: taskID, Kind: "edit", Activity: activity})
	return nil
}

func (j *Journal) DeleteTask(ctx context.Context, userID, taskID string) error {
	if err := j.base.DeleteTask(ctx, userID, taskID); err != nil {
		return err
	}
	j.record(ctx, JournalEntry{UserID: userID, TaskID: taskID, Kind: "delete"})
	return nil
}

func (j *Journal) record(ctx context.Context, e JournalEntry) {
	e.Timestamp = timeNow().UTC()
	data, err := sonic.Marshal(e)
	if err != nil {
		j.logger.WithError(err).Error("encode journal entry")
		return
	}
	if _, err := j.queue.EnqueueMessage(ctx, string(data), nil); err != nil {
		j.logger.WithError(err).WithFields(log.Fields{"task_id": e.TaskID, "kind": e.Kind}).Warn("enqueue journal entry")
	}
}
