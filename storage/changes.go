package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// ChangeNotice is published on the change channel after every write.
type ChangeNotice struct {
	UserID string `json:"UserId"`
	Origin string `json:"Origin,omitempty"`
}

// ChangeFeed wraps a TaskStore and announces each successful write on a
// Redis channel so that other instances can refresh the user's list.
type ChangeFeed struct {
	base    TaskStore
	redis   *redis.Client
	channel string
	origin  string
	logger  *log.Logger

	reconnectDelay time.Duration
}

func NewChangeFeed(base TaskStore, client *redis.Client, channel string, logger *log.Logger) *ChangeFeed {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ChangeFeed{
		base:           base,
		redis:          client,
		channel:        channel,
		origin:         uuid.NewString(),
		logger:         logger,
		reconnectDelay: time.Second,
	}
}

func (f *ChangeFeed) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	return f.base.FetchTasks(ctx, userID)
}

func (f *ChangeFeed) CreateTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error) {
	created, err := f.base.CreateTask(ctx, userID, task)
	if err != nil {
		return domain.Task{}, err
	}
	f.publish(ctx, userID)
	return created, nil
}

func (f *ChangeFeed) UpdateTaskStatus(ctx context.Context, userID, taskID string, status domain.Status) error {
	if err := f.base.UpdateTaskStatus(ctx, userID, taskID, status); err != nil {
		return err
	}
	f.publish(ctx, userID)
	return nil
}

func (f *ChangeFeed) UpdateTask(ctx context.Context, userID, taskID string, fields domain.TaskFields, activity ...domain.ActivityEntry) error {
	if err := f.base.UpdateTask(ctx, userID, taskID, fields, activity...); err != nil {
		return err
	}
	f.publish(ctx, userID)
	return nil
}

func (f *ChangeFeed) DeleteTask(ctx context.Context, userID, taskID string) error {
	if err := f.base.DeleteTask(ctx, userID, taskID); err != nil {
		return err
	}
	f.publish(ctx, userID)
	return nil
}

func (f *ChangeFeed) publish(ctx context.Context, userID string) {
	data, err := sonic.Marshal(ChangeNotice{UserID: userID, Origin: f.origin})
	if err != nil {
		return
	}
	if err := f.redis.Publish(ctx, f.channel, data).Err(); err != nil {
		f.logger.WithError(err).WithField("channel", f.channel).Warn("publish change notice")
	}
}

// Listen calls changed for every notice published by another instance until
// ctx is done, resubscribing when the channel closes.
func (f *ChangeFeed) Listen(ctx context.Context, changed func(userID string)) {
	for {
		sub := f.redis.Subscribe(ctx, f.channel)
		f.drain(ctx, sub.Channel(), changed)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		f.logger.Error("change feed channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *ChangeFeed) drain(ctx context.Context, ch <-chan *redis.Message, changed func(string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var n ChangeNotice
			if err := sonic.UnmarshalString(msg.Payload, &n); err != nil {
				f.logger.WithError(err).Error("unable to parse change notice")
				continue
			}
			if n.UserID == "" || n.Origin == f.origin {
				continue
			}
			changed(n.UserID)
		}
	}
}
