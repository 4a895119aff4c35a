package models

import (
	"time"
)

// WorkerKind is the encoder class a worker advertises.
// The numeric values are part of the API contract.
type WorkerKind int

const (
	// WorkerKindCPU is a software x265 encoder.
	WorkerKindCPU WorkerKind = 0
	// WorkerKindNVENC is an NVIDIA hardware encoder.
	WorkerKindNVENC WorkerKind = 1
	// WorkerKindQSV is an Intel Quick Sync encoder.
	WorkerKindQSV WorkerKind = 2
	// WorkerKindVPU is a dedicated video processing unit.
	WorkerKindVPU WorkerKind = 3
)

// String returns the human-readable name of the kind.
func (k WorkerKind) String() string {
	switch k {
	case WorkerKindCPU:
		return "cpu"
	case WorkerKindNVENC:
		return "nvenc"
	case WorkerKindQSV:
		return "qsv"
	case WorkerKindVPU:
		return "vpu"
	default:
		return "unknown"
	}
}

// IsValid reports whether k is a known worker kind code.
func (k WorkerKind) IsValid() bool {
	return k >= WorkerKindCPU && k <= WorkerKindVPU
}

// IsHardware reports whether the kind is a hardware encoder restricted to
// the easy candidates (h264, ≤1080p, ≤31 fps, no failure retries).
func (k WorkerKind) IsHardware() bool {
	return k == WorkerKindNVENC || k == WorkerKindVPU
}

// RetriesFailures reports whether the kind may pick up videos whose last
// attempt failed.
func (k WorkerKind) RetriesFailures() bool {
	return k == WorkerKindCPU || k == WorkerKindQSV
}

// WorkerStatus is the coordinator-side state of a fleet member.
// The numeric values are part of the API contract.
type WorkerStatus int

const (
	// WorkerStatusOffline indicates the worker is gone or retired.
	WorkerStatusOffline WorkerStatus = 0
	// WorkerStatusIdle indicates the worker is alive and accepting work.
	WorkerStatusIdle WorkerStatus = 1
	// WorkerStatusBusy indicates the worker holds a task.
	WorkerStatusBusy WorkerStatus = 2
	// WorkerStatusFailed indicates the worker reported an unrecoverable fault.
	WorkerStatusFailed WorkerStatus = 3
)

// String returns the human-readable name of the status.
func (s WorkerStatus) String() string {
	switch s {
	case WorkerStatusOffline:
		return "offline"
	case WorkerStatusIdle:
		return "idle"
	case WorkerStatusBusy:
		return "busy"
	case WorkerStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OfflineMode is an operator request for a worker to retire.
type OfflineMode int

const (
	// OfflineModeNone means no offline request is pending.
	OfflineModeNone OfflineMode = 0
	// OfflineModeSoft asks the worker to stop taking work but keep running.
	OfflineModeSoft OfflineMode = 1
	// OfflineModeShutdown asks the worker to exit.
	OfflineModeShutdown OfflineMode = 2
)

// String returns the action name used on the wire.
func (m OfflineMode) String() string {
	switch m {
	case OfflineModeSoft:
		return "offline"
	case OfflineModeShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// Worker is a fleet member known to the coordinator.
type Worker struct {
	BaseModel

	Name string `gorm:"not null;size:255;uniqueIndex" json:"name"`

	Kind WorkerKind `gorm:"not null" json:"kind"`

	// SupportsVR is only honored for CPU workers; other kinds treat VR as
	// unsupported regardless of the flag.
	SupportsVR bool `gorm:"default:false" json:"supports_vr"`

	Status WorkerStatus `gorm:"default:0;index" json:"status"`

	// LastHeartbeat is stamped by register, heartbeat, dispatch, and
	// progress updates. The worker sweep declares workers OFFLINE once it
	// goes stale.
	LastHeartbeat *time.Time `gorm:"index" json:"last_heartbeat,omitempty"`

	// CurrentTaskID is set iff the worker is BUSY with a live task.
	CurrentTaskID *ULID `gorm:"type:varchar(26)" json:"current_task_id,omitempty"`

	OfflineRequest OfflineMode `gorm:"default:0" json:"offline_request"`
}

// TableName returns the table name for Worker.
func (Worker) TableName() string {
	return "workers"
}

// EffectiveVR returns the VR capability after the kind restriction: only
// CPU workers may take VR videos.
func (w *Worker) EffectiveVR() bool {
	return w.Kind == WorkerKindCPU && w.SupportsVR
}

// HeartbeatExpired reports whether the last heartbeat is older than the
// timeout at the given instant. A worker that never heartbeated is expired.
func (w *Worker) HeartbeatExpired(now time.Time, timeout time.Duration) bool {
	return w.LastHeartbeat == nil || now.Sub(*w.LastHeartbeat) > timeout
}
