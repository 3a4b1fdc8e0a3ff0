// Package taskqueue dispatches run jobs to worker processes. Delivery is
// at-least-once; the run lock, not the queue, is the de-duplication
// mechanism.
package taskqueue

import (
	"context"
	"time"

	"github.com/techtuber101/irisrun/pkg/api"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	// TaskTypeRun starts an agent run.
	TaskTypeRun TaskType = "run-agent"

	// TaskTypeHealthCheck writes a known value under the health key so a
	// prober can verify the queue -> worker -> store path end to end.
	TaskTypeHealthCheck TaskType = "check-health"
)

// Task is a unit of work for a worker.
type Task struct {
	ID   string   `json:"id,omitempty"`
	Type TaskType `json:"type"`

	// For run tasks.
	Params api.RunParams `json:"params,omitempty"`

	// For health-check tasks.
	HealthToken string `json:"health_token,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task, blocking until one is
	// available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
