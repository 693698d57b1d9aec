package mutation

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"taskboard/domain"
	"taskboard/observability"
	"taskboard/querycache"
)

// Kind names a write for metrics and logs.
type Kind string

const (
	KindCreate Kind = "create"
	KindStatus Kind = "status"
	KindEdit   Kind = "edit"
	KindDelete Kind = "delete"
)

const (
	tracerName  = "taskboard/mutation"
	eventName   = "tasks.mutation"
	eventDomain = "taskboard"
)

// Store is the write side of the task store.
type Store interface {
	CreateTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error)
	UpdateTaskStatus(ctx context.Context, userID, taskID string, status domain.Status) error
	UpdateTask(ctx context.Context, userID, taskID string, fields domain.TaskFields, activity ...domain.ActivityEntry) error
	DeleteTask(ctx context.Context, userID, taskID string) error
}

// UserSource reports the signed-in user.
type UserSource interface {
	UserID() (string, bool)
}

// Options tune a Mutator. Zero values pick the defaults.
type Options struct {
	Logger      *log.Logger
	Metrics     *Metrics
	Timeout     time.Duration
	Concurrency int
	Now         func() time.Time
}

// Mutator runs every task write through an optimistic Transaction.
type Mutator struct {
	cache       *querycache.Cache
	store       Store
	users       UserSource
	logger      *log.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	timeout     time.Duration
	concurrency int
	now         func() time.Time
}

func NewMutator(cache *querycache.Cache, store Store, users UserSource, opts Options) *Mutator {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Mutator{
		cache:       cache,
		store:       store,
		users:       users,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		tracer:      otel.Tracer(tracerName),
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		now:         opts.Now,
	}
}

func (m *Mutator) key() (querycache.Key, string, bool) {
	uid, ok := m.users.UserID()
	return querycache.TasksKey(uid), uid, ok
}

// run executes one optimistic write. apply edits the cached list; write
// performs the remote call for the signed-in user.
func (m *Mutator) run(ctx context.Context, kind Kind, taskID string, apply func([]domain.Task) []domain.Task, write func(ctx context.Context, userID string) error) error {
	key, uid, signedIn := m.key()

	ctx, span := m.tracer.Start(ctx, "tasks.mutation."+string(kind),
		trace.WithAttributes(attribute.String("taskboard.task_id", taskID)))
	defer span.End()

	start := time.Now()
	tx := Begin(m.cache, key, taskID)
	tx.Apply(apply)

	var err error
	if !signedIn {
		err = domain.ErrUnauthenticated
	} else {
		wctx, cancel := context.WithTimeout(ctx, m.timeout)
		err = write(wctx, uid)
		cancel()
	}

	outcome := outcomeCommitted
	if err != nil {
		tx.Revert()
		outcome = outcomeRolledBack
		m.logger.WithError(err).WithFields(log.Fields{
			"kind":    kind,
			"task_id": taskID,
			"user_id": uid,
		}).Warn("task write failed, cache rolled back")
	} else {
		tx.Commit()
	}
	if signedIn {
		tx.Settle()
	}

	m.metrics.observe(kind, outcome, time.Since(start))
	observability.Record(span, m.logger, observability.Event{
		Name:   eventName,
		Domain: eventDomain,
		Err:    err,
		Attributes: map[string]any{
			"taskboard.mutation.kind":    string(kind),
			"taskboard.mutation.outcome": outcome,
			"taskboard.mutation.ms":      float64(time.Since(start)) / float64(time.Millisecond),
		},
	})
	if err != nil {
		return fmt.Errorf("%s task %s: %w", kind, taskID, err)
	}
	return nil
}

// UpdateStatus moves a task to status.
func (m *Mutator) UpdateStatus(ctx context.Context, taskID string, status domain.Status) error {
	if !status.Valid() {
		m.metrics.observe(KindStatus, outcomeRejected, 0)
		return &domain.ValidationError{Field: "status", Err: domain.ErrInvalidStatus}
	}
	return m.run(ctx, KindStatus, taskID,
		func(tasks []domain.Task) []domain.Task {
			if i := domain.IndexOf(tasks, taskID); i >= 0 {
				tasks[i].Status = status
			}
			return tasks
		},
		func(ctx context.Context, uid string) error {
			return m.store.UpdateTaskStatus(ctx, uid, taskID, status)
		})
}

// Delete removes a task.
func (m *Mutator) Delete(ctx context.Context, taskID string) error {
	return m.run(ctx, KindDelete, taskID,
		func(tasks []domain.Task) []domain.Task {
			if i := domain.IndexOf(tasks, taskID); i >= 0 {
				tasks = append(tasks[:i], tasks[i+1:]...)
			}
			return tasks
		},
		func(ctx context.Context, uid string) error {
			return m.store.DeleteTask(ctx, uid, taskID)
		})
}

// Edit replaces the editable fields of a task and appends one activity entry
// per changed field. Editing a task that is not cached fails with
// domain.ErrTaskNotFound.
func (m *Mutator) Edit(ctx context.Context, taskID string, fields domain.TaskFields) error {
	if err := fields.Validate(); err != nil {
		m.metrics.observe(KindEdit, outcomeRejected, 0)
		return err
	}
	key, uid, _ := m.key()
	tasks, _ := m.cache.Get(key)
	i := domain.IndexOf(tasks, taskID)
	if i < 0 {
		m.metrics.observe(KindEdit, outcomeRejected, 0)
		return fmt.Errorf("edit task %s: %w", taskID, domain.ErrTaskNotFound)
	}
	now := m.now().UTC()
	activity := domain.DiffActivity(tasks[i], fields, uid, now)

	return m.run(ctx, KindEdit, taskID,
		func(tasks []domain.Task) []domain.Task {
			if i := domain.IndexOf(tasks, taskID); i >= 0 {
				t := tasks[i].WithFields(fields)
				t.UpdatedAt = &now
				t.Activity = append(t.Activity, activity...)
				tasks[i] = t
			}
			return tasks
		},
		func(ctx context.Context, uid string) error {
			return m.store.UpdateTask(ctx, uid, taskID, fields, activity...)
		})
}

// Create persists a new task. The store assigns the id, so the cache is only
// refreshed once the write succeeds.
func (m *Mutator) Create(ctx context.Context, task domain.Task) (domain.Task, error) {
	if err := task.Fields().Validate(); err != nil {
		m.metrics.observe(KindCreate, outcomeRejected, 0)
		return domain.Task{}, err
	}
	key, uid, signedIn := m.key()
	if !signedIn {
		m.metrics.observe(KindCreate, outcomeRejected, 0)
		return domain.Task{}, domain.ErrUnauthenticated
	}

	ctx, span := m.tracer.Start(ctx, "tasks.mutation."+string(KindCreate))
	defer span.End()

	start := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = m.now().UTC()
	}
	wctx, cancel := context.WithTimeout(ctx, m.timeout)
	created, err := m.store.CreateTask(wctx, uid, task)
	cancel()

	outcome := outcomeCommitted
	if err != nil {
		outcome = outcomeRolledBack
		m.logger.WithError(err).WithField("user_id", uid).Warn("task create failed")
	} else {
		m.cache.Invalidate(key)
	}
	m.metrics.observe(KindCreate, outcome, time.Since(start))
	observability.Record(span, m.logger, observability.Event{
		Name:   eventName,
		Domain: eventDomain,
		Err:    err,
		Attributes: map[string]any{
			"taskboard.mutation.kind":    string(KindCreate),
			"taskboard.mutation.outcome": outcome,
		},
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	return created, nil
}

// BulkUpdateStatus moves every task to status. Each item runs its own
// transaction; failures are joined and do not stop the other items.
func (m *Mutator) BulkUpdateStatus(ctx context.Context, taskIDs []string, status domain.Status) error {
	if !status.Valid() {
		return &domain.ValidationError{Field: "status", Err: domain.ErrInvalidStatus}
	}
	return m.bulk(ctx, taskIDs, func(ctx context.Context, id string) error {
		return m.UpdateStatus(ctx, id, status)
	})
}

// BulkDelete deletes every task independently.
func (m *Mutator) BulkDelete(ctx context.Context, taskIDs []string) error {
	return m.bulk(ctx, taskIDs, m.Delete)
}

func (m *Mutator) bulk(ctx context.Context, taskIDs []string, fn func(context.Context, string) error) error {
	errs := make([]error, len(taskIDs))
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, id := range taskIDs {
		g.Go(func() error {
			errs[i] = fn(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
