package api

import (
	"errors"
	"time"
)

// Item kinds. Content items carry whatever type tag the caller's producer
// assigns; the three kinds below are reserved for terminal items appended by
// the executor. Once a terminal item is in a run's buffer, no further
// appends are accepted.
const (
	KindCompletion = "completion"
	KindError      = "error"
	KindCancelled  = "cancelled"
)

var (
	// ErrRunTerminated is returned when appending to a run whose buffer
	// already contains a terminal item.
	ErrRunTerminated = errors.New("run already terminated")

	// ErrRunNotFound is returned when a run id has no buffer and no lock.
	ErrRunNotFound = errors.New("run not found")
)

// Item is one entry in a run's ordered output log. Content items are opaque
// to the coordination core: Type and Content are defined by the producer.
// Terminal items are written by the executor and use the reserved kinds.
type Item struct {
	Type      string    `json:"type"`
	Content   any       `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Terminal-item fields.
	Error          string `json:"error,omitempty"`
	Reason         string `json:"reason,omitempty"`
	TotalResponses int    `json:"total_responses,omitempty"`
	ResponsesSoFar int    `json:"responses_so_far,omitempty"`
}

// Terminal reports whether the item is one of the reserved terminal kinds.
func (it Item) Terminal() bool {
	switch it.Type {
	case KindCompletion, KindError, KindCancelled:
		return true
	}
	return false
}

// NewItem builds a content item with the current timestamp.
func NewItem(typ string, content any) Item {
	return Item{Type: typ, Content: content, Timestamp: time.Now().UTC()}
}

// Completion builds the terminal item for a run that produced total items
// and ended normally.
func Completion(total int) Item {
	return Item{Type: KindCompletion, TotalResponses: total, Timestamp: time.Now().UTC()}
}

// Failure builds the terminal item for a run whose producer returned err
// after soFar items had been appended.
func Failure(err error, soFar int) Item {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Item{Type: KindError, Error: msg, ResponsesSoFar: soFar, Timestamp: time.Now().UTC()}
}

// Cancelled builds the terminal item for a run stopped by a control signal.
func Cancelled(reason string, soFar int) Item {
	return Item{Type: KindCancelled, Reason: reason, ResponsesSoFar: soFar, Timestamp: time.Now().UTC()}
}

// State is the lifecycle state of a run inside its executor.
type State string

const (
	StatePending    State = "PENDING"
	StateLockWait   State = "LOCK_WAIT"
	StateRunning    State = "RUNNING"
	StateCompleting State = "COMPLETING"
	StateCancelling State = "CANCELLING"
	StateFailing    State = "FAILING"
	StateTerminated State = "TERMINATED"
)

// RunParams is the structured argument record carried by a run job through
// the task queue. RunID and ThreadID are opaque identifiers without colons.
type RunParams struct {
	RunID        string         `json:"run_id"`
	ThreadID     string         `json:"thread_id"`
	InstanceHint string         `json:"instance_id,omitempty"`
	ModelName    string         `json:"model_name,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Options      map[string]any `json:"options,omitempty"`
}
