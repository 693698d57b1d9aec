// Package dragdrop turns drag start/end events into either a status change or
// a local reorder of the cached task list.
package dragdrop

import (
	"context"
	"strings"
	"sync"

	"taskboard/domain"
	"taskboard/querycache"
)

// Outcome is what a drag end did.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeStatusChange
	OutcomeReorder
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStatusChange:
		return "status-change"
	case OutcomeReorder:
		return "reorder"
	}
	return "none"
}

// Result describes a finished drag.
type Result struct {
	Outcome Outcome       `json:"outcome"`
	TaskID  string        `json:"taskId,omitempty"`
	Status  domain.Status `json:"status,omitempty"`
	From    int           `json:"from"`
	To      int           `json:"to"`
}

// StatusUpdater issues the status change for a drop on a column.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, taskID string, status domain.Status) error
}

// UserSource reports the signed-in user.
type UserSource interface {
	UserID() (string, bool)
}

// Coordinator is idle until Start and dragging until End or Cancel.
type Coordinator struct {
	cache   *querycache.Cache
	updater StatusUpdater
	users   UserSource

	mu        sync.Mutex
	dragging  *domain.Task
	listeners map[uint64]func(Result)
	nextID    uint64
}

func NewCoordinator(cache *querycache.Cache, updater StatusUpdater, users UserSource) *Coordinator {
	return &Coordinator{
		cache:     cache,
		updater:   updater,
		users:     users,
		listeners: make(map[uint64]func(Result)),
	}
}

func (c *Coordinator) tasks() []domain.Task {
	uid, ok := c.users.UserID()
	if !ok {
		return nil
	}
	tasks, _ := c.cache.Get(querycache.TasksKey(uid))
	return tasks
}

// Start begins dragging the cached task with the given id. Unknown ids leave
// the coordinator idle.
func (c *Coordinator) Start(taskID string) (domain.Task, bool) {
	tasks := c.tasks()
	i := domain.IndexOf(tasks, taskID)
	if i < 0 {
		return domain.Task{}, false
	}
	c.mu.Lock()
	t := tasks[i]
	c.dragging = &t
	c.mu.Unlock()
	return t, true
}

// Dragged returns the task being dragged, if any.
func (c *Coordinator) Dragged() (domain.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dragging == nil {
		return domain.Task{}, false
	}
	return c.dragging.Clone(), true
}

// Cancel returns to idle without any effect.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	c.dragging = nil
	c.mu.Unlock()
}

// End drops activeID onto overID. A status id as target changes the task's
// status when it differs from the current one; a task id reorders the cached
// list without a remote write; an empty target does nothing. The coordinator
// is idle afterwards whatever the outcome.
func (c *Coordinator) End(ctx context.Context, activeID, overID string) (Result, error) {
	c.Cancel()

	res, err := c.resolve(ctx, activeID, overID)
	c.notify(res)
	return res, err
}

func (c *Coordinator) resolve(ctx context.Context, activeID, overID string) (Result, error) {
	res := Result{Outcome: OutcomeNone, TaskID: activeID, From: -1, To: -1}
	if activeID == "" || overID == "" {
		return res, nil
	}

	tasks := c.tasks()
	if status, ok := domain.ParseStatus(strings.ToLower(overID)); ok {
		i := domain.IndexOf(tasks, activeID)
		if i < 0 || tasks[i].Status == status {
			return res, nil
		}
		res.Outcome = OutcomeStatusChange
		res.Status = status
		return res, c.updater.UpdateStatus(ctx, activeID, status)
	}

	uid, ok := c.users.UserID()
	if !ok {
		return res, nil
	}
	from, to := domain.IndexOf(tasks, activeID), domain.IndexOf(tasks, overID)
	if from < 0 || to < 0 {
		return res, nil
	}
	c.cache.Update(querycache.TasksKey(uid), func(cur []domain.Task) []domain.Task {
		f, t := domain.IndexOf(cur, activeID), domain.IndexOf(cur, overID)
		if f < 0 || t < 0 {
			return cur
		}
		return Move(cur, f, t)
	})
	res.Outcome = OutcomeReorder
	res.From, res.To = from, to
	return res, nil
}

// OnEnd registers fn for every drag end and returns the function that removes it.
func (c *Coordinator) OnEnd(fn func(Result)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) notify(res Result) {
	c.mu.Lock()
	fns := make([]func(Result), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(res)
	}
}

// Move returns tasks with the element at from moved to index to.
func Move(tasks []domain.Task, from, to int) []domain.Task {
	if from == to || from < 0 || to < 0 || from >= len(tasks) || to >= len(tasks) {
		return tasks
	}
	t := tasks[from]
	if from < to {
		copy(tasks[from:to], tasks[from+1:to+1])
	} else {
		copy(tasks[to+1:from+1], tasks[to:from])
	}
	tasks[to] = t
	return tasks
}
