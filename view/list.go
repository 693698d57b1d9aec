package view

import (
	"slices"
	"sync"

	"taskboard/domain"
)

// SortOrder of a list group.
type SortOrder string

const (
	Unsorted   SortOrder = ""
	Ascending  SortOrder = "asc"
	Descending SortOrder = "desc"
)

// Next returns the following order in the unsorted, ascending, descending cycle.
func (o SortOrder) Next() SortOrder {
	switch o {
	case Unsorted:
		return Ascending
	case Ascending:
		return Descending
	}
	return Unsorted
}

// Group names of the list view, in display order.
const (
	GroupToDo       = "ToDo"
	GroupInProgress = "In-Progress"
	GroupCompleted  = "Completed"
)

var groups = []struct {
	name   string
	status domain.Status
}{
	{GroupToDo, domain.StatusTodo},
	{GroupInProgress, domain.StatusInProgress},
	{GroupCompleted, domain.StatusCompleted},
}

// GroupNames lists the list view groups in display order.
func GroupNames() []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.name
	}
	return out
}

// GroupStatus maps a group name to its status.
func GroupStatus(name string) (domain.Status, bool) {
	for _, g := range groups {
		if g.name == name {
			return g.status, true
		}
	}
	return domain.ParseStatus(name)
}

// GroupName maps a status to its group name.
func GroupName(s domain.Status) string {
	for _, g := range groups {
		if g.status == s {
			return g.name
		}
	}
	return ""
}

// Group is one status section of the list view.
type Group struct {
	Name   string        `json:"name"`
	Status domain.Status `json:"status"`
	Sort   SortOrder     `json:"sort,omitempty"`
	Tasks  []domain.Task `json:"tasks"`
}

// SortByDueDate returns a sorted copy of tasks. Ties keep their order.
func SortByDueDate(tasks []domain.Task, order SortOrder) []domain.Task {
	out := slices.Clone(tasks)
	switch order {
	case Ascending:
		slices.SortStableFunc(out, func(a, b domain.Task) int { return a.DueDate.Compare(b.DueDate) })
	case Descending:
		slices.SortStableFunc(out, func(a, b domain.Task) int { return b.DueDate.Compare(a.DueDate) })
	}
	return out
}

// GroupTasks partitions tasks into the three list groups, sorting each by the
// order orders reports for it.
func GroupTasks(tasks []domain.Task, orders func(group string) SortOrder) []Group {
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		members := make([]domain.Task, 0)
		for _, t := range tasks {
			if t.Status == g.status {
				members = append(members, t)
			}
		}
		order := Unsorted
		if orders != nil {
			order = orders(g.name)
		}
		out = append(out, Group{Name: g.name, Status: g.status, Sort: order, Tasks: SortByDueDate(members, order)})
	}
	return out
}

// ListState holds the sort order of each list group.
type ListState struct {
	mu     sync.Mutex
	orders map[string]SortOrder
}

func NewListState() *ListState {
	return &ListState{orders: make(map[string]SortOrder)}
}

// Toggle advances the group's sort order and returns the new one.
func (s *ListState) Toggle(group string) SortOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.orders[group].Next()
	if next == Unsorted {
		delete(s.orders, group)
	} else {
		s.orders[group] = next
	}
	return next
}

// Order returns the group's sort order.
func (s *ListState) Order(group string) SortOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[group]
}

// Reset makes every group unsorted.
func (s *ListState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.orders)
}
