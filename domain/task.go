package domain

import "sort"

// DefaultStatus is assigned to tasks created without an explicit status.
const DefaultStatus = "невиконана"

// Task represents a single item on the task list.
type Task struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	OwnerID     int64  `json:"owner_id,omitempty"`
}

// TaskPatch is a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *string
	OwnerID     *int64
}

// Apply returns a copy of t with the non-nil fields of p applied.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.OwnerID != nil {
		t.OwnerID = *p.OwnerID
	}
	return t
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.OwnerID == nil
}

// SortByID orders tasks by ascending id in place.
func SortByID(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}
