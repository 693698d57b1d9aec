// Package board holds the page-level state of the signed-in user's task board
// and tells its observers whenever anything they render may have changed.
package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/dragdrop"
	"taskboard/mutation"
	"taskboard/querycache"
	"taskboard/session"
	"taskboard/view"
)

// Layout selects how the tasks are presented.
type Layout string

const (
	LayoutList  Layout = "list"
	LayoutBoard Layout = "board"
)

// ParseLayout accepts "list" and "board". An empty value means list.
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case "", LayoutList:
		return LayoutList, nil
	case LayoutBoard:
		return LayoutBoard, nil
	}
	return "", &domain.ValidationError{Field: "view", Err: fmt.Errorf("unknown layout %q", s)}
}

// Snapshot is everything a client needs to render the board.
type Snapshot struct {
	User      *session.User     `json:"user,omitempty"`
	Layout    Layout            `json:"layout"`
	Filters   view.Criteria     `json:"filters"`
	Groups    []view.Group      `json:"groups"`
	Columns   []view.Column     `json:"columns"`
	Selection []string          `json:"selection"`
	DueLabels map[string]string `json:"dueLabels"`
	Loading   bool              `json:"loading"`
	Error     string            `json:"error,omitempty"`
	Dragging  *domain.Task      `json:"dragging,omitempty"`
	LastDrop  *dragdrop.Result  `json:"lastDrop,omitempty"`
	Version   uint64            `json:"version"`
}

// Options tune a Board. Zero values pick the defaults.
type Options struct {
	Logger   *log.Logger
	Location *time.Location
	Now      func() time.Time
}

// Board composes the session, the task cache, the mutation layer, the drag
// coordinator and the view state.
type Board struct {
	session   *session.Session
	cache     *querycache.Cache
	mutator   *mutation.Mutator
	drag      *dragdrop.Coordinator
	list      *view.ListState
	selection *view.Selection
	logger    *log.Logger
	loc       *time.Location
	now       func() time.Time

	mu         sync.Mutex
	user       *session.User
	layout     Layout
	filters    view.Criteria
	lastDrop   *dragdrop.Result
	unsubTasks func()
	observers  map[uint64]func()
	nextID     uint64
	unsubs     []func()
}

func New(sess *session.Session, cache *querycache.Cache, mutator *mutation.Mutator, opts Options) *Board {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := &Board{
		session:   sess,
		cache:     cache,
		mutator:   mutator,
		drag:      dragdrop.NewCoordinator(cache, mutator, sess),
		list:      view.NewListState(),
		selection: view.NewSelection(),
		logger:    opts.Logger,
		loc:       opts.Location,
		now:       opts.Now,
		layout:    LayoutList,
		observers: make(map[uint64]func()),
	}
	b.unsubs = append(b.unsubs,
		b.drag.OnEnd(b.dragEnded),
		sess.Subscribe(b.userChanged),
	)
	return b
}

func (b *Board) userChanged(u *session.User) {
	b.mu.Lock()
	prev := b.user
	if prev != nil && u != nil && prev.ID == u.ID {
		b.user = u
		b.mu.Unlock()
		b.notify()
		return
	}
	unsub := b.unsubTasks
	b.unsubTasks = nil
	b.user = u
	b.lastDrop = nil
	b.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	b.drag.Cancel()
	b.selection.Clear()
	b.list.Reset()
	if prev != nil {
		b.cache.Remove(querycache.TasksKey(prev.ID))
	}
	if u != nil {
		key := querycache.TasksKey(u.ID)
		unsub := b.cache.Subscribe(key, func(querycache.Key) { b.notify() })
		b.mu.Lock()
		b.unsubTasks = unsub
		b.mu.Unlock()
		b.logger.WithField("user_id", u.ID).Debug("loading tasks")
		b.cache.Invalidate(key)
	}
	b.notify()
}

func (b *Board) dragEnded(res dragdrop.Result) {
	b.list.Reset()
	b.mu.Lock()
	b.lastDrop = &res
	b.mu.Unlock()
	b.notify()
}

// Subscribe registers fn to be called after every change and returns the
// function that removes it. fn may call Snapshot.
func (b *Board) Subscribe(fn func()) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.observers[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.observers, id)
			b.mu.Unlock()
		})
	}
}

func (b *Board) notify() {
	b.mu.Lock()
	fns := make([]func(), 0, len(b.observers))
	for _, fn := range b.observers {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (b *Board) currentUser() (session.User, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.user == nil {
		return session.User{}, false
	}
	return *b.user, true
}

// Snapshot derives the current view models.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	snap := Snapshot{
		Layout:  b.layout,
		Filters: b.filters,
	}
	if b.user != nil {
		u := *b.user
		snap.User = &u
	}
	if b.lastDrop != nil {
		r := *b.lastDrop
		snap.LastDrop = &r
	}
	b.mu.Unlock()

	var tasks []domain.Task
	if snap.User != nil {
		key := querycache.TasksKey(snap.User.ID)
		var loaded bool
		tasks, snap.Version, loaded = b.cache.Lookup(key)
		snap.Loading = b.cache.Loading(key) || !loaded
		if err := b.cache.Err(key); err != nil {
			snap.Error = err.Error()
		}
	}

	visible := view.Filter(tasks, snap.Filters, b.loc)
	snap.Groups = view.GroupTasks(visible, b.list.Order)
	snap.Columns = view.Columns(visible)
	now := b.now().In(b.loc)
	snap.DueLabels = make(map[string]string, len(visible))
	for _, t := range visible {
		snap.DueLabels[t.ID] = view.RelativeDate(t.DueDate, now)
	}

	snap.Selection = make([]string, 0, b.selection.Len())
	for _, id := range b.selection.IDs() {
		if domain.IndexOf(tasks, id) >= 0 {
			snap.Selection = append(snap.Selection, id)
		}
	}
	if t, ok := b.drag.Dragged(); ok {
		snap.Dragging = &t
	}
	return snap
}

// Refresh refetches the signed-in user's tasks and waits for the result.
func (b *Board) Refresh(ctx context.Context) error {
	u, ok := b.currentUser()
	if !ok {
		return domain.ErrUnauthenticated
	}
	_, err := b.cache.Fetch(ctx, querycache.TasksKey(u.ID))
	return err
}

// TasksChanged refetches the signed-in user's tasks after a write made
// elsewhere. Notices about other users are ignored and reported as false.
func (b *Board) TasksChanged(userID string) bool {
	u, ok := b.currentUser()
	if !ok || userID == "" || u.ID != userID {
		return false
	}
	b.cache.Invalidate(querycache.TasksKey(userID))
	return true
}

// SetFilters replaces the filter criteria.
func (b *Board) SetFilters(c view.Criteria) {
	b.mu.Lock()
	b.filters = c
	b.mu.Unlock()
	b.notify()
}

// SetLayout switches between the list and board layouts.
func (b *Board) SetLayout(l Layout) error {
	l, err := ParseLayout(string(l))
	if err != nil {
		return err
	}
	b.mu.Lock()
	changed := b.layout != l
	b.layout = l
	b.mu.Unlock()
	if changed {
		b.notify()
	}
	return nil
}

// CreateFromDialog creates a task from the full add dialog. The category
// defaults to work and the task starts with a "created" activity entry.
func (b *Board) CreateFromDialog(ctx context.Context, fields domain.TaskFields) (domain.Task, error) {
	u, ok := b.currentUser()
	if !ok {
		return domain.Task{}, domain.ErrUnauthenticated
	}
	if fields.Category == "" {
		fields.Category = domain.CategoryWork
	}
	draft := &domain.Draft{}
	if err := draft.Apply(fields); err != nil {
		return domain.Task{}, err
	}
	now := b.now().UTC()
	task := domain.Task{CreatedAt: now, Activity: []domain.ActivityEntry{domain.CreatedActivity(u.ID, now)}}
	return b.mutator.Create(ctx, task.WithFields(draft.TaskFields))
}

// CreateInline creates a task from the inline row of the list view. No
// activity is recorded and the category may stay empty.
func (b *Board) CreateInline(ctx context.Context, fields domain.TaskFields) (domain.Task, error) {
	if _, ok := b.currentUser(); !ok {
		return domain.Task{}, domain.ErrUnauthenticated
	}
	return b.mutator.Create(ctx, domain.Task{CreatedAt: b.now().UTC()}.WithFields(fields))
}

// EditTask runs fields through an edit draft of the cached task and saves the
// result. A rejected description leaves the task as it was.
func (b *Board) EditTask(ctx context.Context, taskID string, fields domain.TaskFields) error {
	u, ok := b.currentUser()
	if !ok {
		return domain.ErrUnauthenticated
	}
	tasks, _ := b.cache.Get(querycache.TasksKey(u.ID))
	i := domain.IndexOf(tasks, taskID)
	if i < 0 {
		return fmt.Errorf("edit task %s: %w", taskID, domain.ErrTaskNotFound)
	}
	draft := domain.NewDraft(tasks[i])
	if err := draft.Apply(fields); err != nil {
		return err
	}
	return b.mutator.Edit(ctx, taskID, draft.TaskFields)
}

// ChangeStatus moves one task to status.
func (b *Board) ChangeStatus(ctx context.Context, taskID string, status domain.Status) error {
	return b.mutator.UpdateStatus(ctx, taskID, status)
}

// DeleteTask deletes one task and drops it from the bulk selection.
func (b *Board) DeleteTask(ctx context.Context, taskID string) error {
	if err := b.mutator.Delete(ctx, taskID); err != nil {
		return err
	}
	if b.selection.Contains(taskID) {
		b.selection.Retain(func(id string) bool { return id != taskID })
		b.notify()
	}
	return nil
}

// ToggleSelection adds or removes a task from the bulk selection and reports
// whether it is now selected.
func (b *Board) ToggleSelection(taskID string) bool {
	selected := b.selection.Toggle(taskID)
	b.notify()
	return selected
}

// ClearSelection empties the bulk selection.
func (b *Board) ClearSelection() {
	b.selection.Clear()
	b.notify()
}

// BulkSetStatus moves every selected task to status. The selection is cleared
// whatever the individual outcomes.
func (b *Board) BulkSetStatus(ctx context.Context, status domain.Status) error {
	if !status.Valid() {
		return &domain.ValidationError{Field: "status", Err: domain.ErrInvalidStatus}
	}
	ids := b.takeSelection()
	if len(ids) == 0 {
		return nil
	}
	return b.mutator.BulkUpdateStatus(ctx, ids, status)
}

// BulkDelete deletes every selected task. The selection is cleared whatever
// the individual outcomes.
func (b *Board) BulkDelete(ctx context.Context) error {
	ids := b.takeSelection()
	if len(ids) == 0 {
		return nil
	}
	return b.mutator.BulkDelete(ctx, ids)
}

func (b *Board) takeSelection() []string {
	ids := b.selection.Take()
	b.notify()
	return ids
}

// ToggleSort advances the sort order of one list group.
func (b *Board) ToggleSort(group string) (view.SortOrder, error) {
	if _, ok := view.GroupStatus(group); !ok {
		return view.Unsorted, &domain.ValidationError{Field: "group", Err: fmt.Errorf("unknown group %q", group)}
	}
	order := b.list.Toggle(group)
	b.notify()
	return order, nil
}

// DragStart begins dragging a cached task.
func (b *Board) DragStart(taskID string) (domain.Task, bool) {
	t, ok := b.drag.Start(taskID)
	if ok {
		b.notify()
	}
	return t, ok
}

// DragEnd drops activeID onto overID. Every group's sort order is reset.
func (b *Board) DragEnd(ctx context.Context, activeID, overID string) (dragdrop.Result, error) {
	return b.drag.End(ctx, activeID, overID)
}

// DragCancel abandons the current drag.
func (b *Board) DragCancel() {
	b.drag.Cancel()
	b.notify()
}

// Close detaches the board from the session and the cache.
func (b *Board) Close() {
	b.mu.Lock()
	unsubs := append(b.unsubs, b.unsubTasks)
	b.unsubs = nil
	b.unsubTasks = nil
	b.mu.Unlock()
	for _, fn := range unsubs {
		if fn != nil {
			fn()
		}
	}
}
