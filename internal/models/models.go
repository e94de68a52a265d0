package models

import "time"

// User is an account that can author and execute tasks.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// FullName renders the user the way lists and task pages display them.
func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// Status describes the workflow state a task is in.
type Status struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Label is a free-form tag attached to any number of tasks.
type Label struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is a unit of work with an author, an optional executor and labels.
type Task struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Author      User      `json:"author"`
	Executor    *User     `json:"executor,omitempty"`
	Labels      []Label   `json:"labels"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasLabel reports whether the task carries the label with the given id.
func (t Task) HasLabel(id int64) bool {
	for _, l := range t.Labels {
		if l.ID == id {
			return true
		}
	}
	return false
}

// TaskInput carries the user-editable task fields. The author is only used
// on creation.
type TaskInput struct {
	Name        string
	Description string
	StatusID    int64
	AuthorID    int64
	ExecutorID  *int64
	LabelIDs    []int64
}

// TaskFilter narrows the task list. Zero values mean "no constraint".
type TaskFilter struct {
	StatusID   int64
	ExecutorID int64
	LabelID    int64
	AuthorID   int64
}
