package view

import "taskboard/domain"

// Column is one status column of the board view.
type Column struct {
	ID    domain.Status `json:"id"`
	Title string        `json:"title"`
	Tasks []domain.Task `json:"tasks"`
}

var columnTitles = map[domain.Status]string{
	domain.StatusTodo:       "TO-DO",
	domain.StatusInProgress: "IN-PROGRESS",
	domain.StatusCompleted:  "COMPLETED",
}

// Columns lays tasks out in the three board columns, keeping list order.
// Tasks with an unknown status are left out.
func Columns(tasks []domain.Task) []Column {
	out := make([]Column, len(domain.Statuses))
	for i, s := range domain.Statuses {
		out[i] = Column{ID: s, Title: columnTitles[s], Tasks: make([]domain.Task, 0)}
	}
	for _, t := range tasks {
		for i := range out {
			if out[i].ID == t.Status {
				out[i].Tasks = append(out[i].Tasks, t)
				break
			}
		}
	}
	return out
}
