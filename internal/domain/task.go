package domain

import "time"

type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in-progress"
	StatusCompleted  TaskStatus = "completed"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// Task is the authoritative record. Every task has exactly one owner;
// only the owner may read or mutate it.
type Task struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type CreateTaskRequest struct {
	Title       string       `json:"title" validate:"required,min=1"`
	Description string       `json:"description"`
	Status      TaskStatus   `json:"status" validate:"omitempty,oneof=todo in-progress completed"`
	Priority    TaskPriority `json:"priority" validate:"omitempty,oneof=low medium high"`
	DueDate     *time.Time   `json:"due_date"`
}

// UpdateTaskRequest carries a partial update; nil fields are left untouched.
// A set due date can only be replaced, not cleared, through this request.
type UpdateTaskRequest struct {
	Title       *string       `json:"title" validate:"omitempty,min=1"`
	Description *string       `json:"description"`
	Status      *TaskStatus   `json:"status" validate:"omitempty,oneof=todo in-progress completed"`
	Priority    *TaskPriority `json:"priority" validate:"omitempty,oneof=low medium high"`
	DueDate     *time.Time    `json:"due_date"`
}

type TaskListResponse struct {
	Tasks []*Task `json:"tasks"`
	Count int     `json:"count"`
}

type DeleteTaskResponse struct {
	TaskID string `json:"task_id"`
}
