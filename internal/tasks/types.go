package tasks

import "time"

// Status is a task's position in the lifecycle DAG:
// queued -> processing -> {completed, failed, cancelled}, queued ->
// cancelled, completed -> expired, failed -> queued (retry). No other
// transition is legal.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// ErrorKind is the closed processing-error taxonomy a failed task
// records. It is distinct from apperr.Code: apperr classifies request
// handling, ErrorKind classifies why a task's own work failed.
type ErrorKind string

const (
	ErrorKindBadInput   ErrorKind = "BadInput"
	ErrorKindEmptyBatch ErrorKind = "EmptyBatch"
	ErrorKindOversize   ErrorKind = "Oversize"
	ErrorKindTimeout    ErrorKind = "Timeout"
	ErrorKindCancelled  ErrorKind = "Cancelled"
	ErrorKindShutdown   ErrorKind = "Shutdown"
	ErrorKindInternal   ErrorKind = "Internal"
)

// Record is the closed task schema of the registry. It is the sole
// unit of truth for a task's lifecycle; workers and the sweeper mutate
// it only through Store's CAS operations.
type Record struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	Status    Status `json:"status"`

	Progress int    `json:"progress"`
	Stage    string `json:"stage,omitempty"`

	FileCount  int      `json:"file_count"`
	InputRefs  []string `json:"input_refs,omitempty"`
	OutputRefs []string `json:"output_refs,omitempty"`

	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	RetryCount int `json:"retry_count"`
}

// Statistics is the aggregate projection returned by GET
// /api/task/statistics.
type Statistics struct {
	SessionID          string         `json:"session_id"`
	CountsByStatus     map[Status]int `json:"counts_by_status"`
	Total              int            `json:"total"`
	AverageCompleteSec float64        `json:"average_completion_seconds"`
}

// terminal reports whether a task's work has ended, so cancelling it is
// a no-op. A completed task can still be demoted to expired and a
// failed task can still be retried.
func (s Status) terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}
