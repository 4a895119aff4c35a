package models

// LogLevel is the severity of a task log entry.
// The numeric values are part of the API contract.
type LogLevel int

const (
	// LogLevelDebug is diagnostic output.
	LogLevelDebug LogLevel = 0
	// LogLevelInfo is routine lifecycle information.
	LogLevelInfo LogLevel = 1
	// LogLevelWarn is a recoverable anomaly.
	LogLevelWarn LogLevel = 2
	// LogLevelError is a failure.
	LogLevelError LogLevel = 3
)

// String returns the human-readable name of the level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	default:
		return "unknown"
	}
}

// IsValid reports whether l is a known log level code.
func (l LogLevel) IsValid() bool {
	return l >= LogLevelDebug && l <= LogLevelError
}

// TaskLog is an append-only audit record, usually attached to a task.
// Scanner-level entries carry no task reference.
type TaskLog struct {
	BaseModel

	// TaskID references the task the entry belongs to; nil for
	// coordinator-level entries such as scan failures.
	TaskID *ULID `gorm:"type:varchar(26);index" json:"task_id,omitempty"`

	Level LogLevel `gorm:"not null;index" json:"level"`

	Message string `gorm:"size:1023" json:"message"`
}

// TableName returns the table name for TaskLog.
func (TaskLog) TableName() string {
	return "task_logs"
}
