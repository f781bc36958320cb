// Package task implements the asynchronous background task tracker for the
// image-processing pipeline: submit, poll-driven worker, status by ID.
package task

import "time"

// Status is a task's lifecycle state. Terminal states never transition
// further.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Result holds the outcome of a completed task.
type Result struct {
	PublicURL     string `json:"public_url"`
	FileName      string `json:"file_name"`
	OriginalSize  string `json:"original_size"`
	ProcessedSize string `json:"processed_size"`
}

// Error describes a failed task.
type Error struct {
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is the tracker payload for one unit of work.
type Task struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	URL         string     `json:"url"`
	Identifier  string     `json:"identifier"`
	IsOwner     bool       `json:"is_owner"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       *Error     `json:"error,omitempty"`
}

// Terminal reports whether the task has reached a final state.
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// StatusView is what callers polling a task receive.
type StatusView struct {
	TaskID             string     `json:"task_id"`
	Status             Status     `json:"status"`
	Progress           int        `json:"progress"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	EstimatedRemaining string     `json:"estimated_time_remaining,omitempty"`
	Result             *Result    `json:"result,omitempty"`
	Error              *Error     `json:"error,omitempty"`
}

// Receipt is returned from Submit.
type Receipt struct {
	TaskID        string    `json:"task_id"`
	Status        Status    `json:"status"`
	EstimatedTime string    `json:"estimated_time"`
	CreatedAt     time.Time `json:"created_at"`
}

// QueueStatus aggregates task counts by state for operational visibility.
type QueueStatus struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
