package models

import (
	"time"
)

// VideoStatus is the transcode lifecycle state of a cataloged video.
// The numeric values are part of the API contract.
type VideoStatus int

const (
	// VideoStatusNotNeeded indicates the video does not need transcoding.
	VideoStatusNotNeeded VideoStatus = 0
	// VideoStatusWait indicates the video is waiting to be transcoded.
	VideoStatusWait VideoStatus = 1
	// VideoStatusCreated indicates a task has been created for the video.
	VideoStatusCreated VideoStatus = 2
	// VideoStatusRunning indicates a worker is transcoding the video.
	VideoStatusRunning VideoStatus = 3
	// VideoStatusCompleted indicates the video was transcoded successfully.
	VideoStatusCompleted VideoStatus = 4
	// VideoStatusFailed indicates the last transcode attempt failed.
	VideoStatusFailed VideoStatus = 5
)

// String returns the human-readable name of the status.
func (s VideoStatus) String() string {
	switch s {
	case VideoStatusNotNeeded:
		return "not_needed"
	case VideoStatusWait:
		return "wait"
	case VideoStatusCreated:
		return "created"
	case VideoStatusRunning:
		return "running"
	case VideoStatusCompleted:
		return "completed"
	case VideoStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsValid reports whether s is a known video status code.
func (s VideoStatus) IsValid() bool {
	return s >= VideoStatusNotNeeded && s <= VideoStatusFailed
}

// Video is a catalog entry for a source file under one of the scan roots,
// keyed by its separator-prefixed root-relative path.
type Video struct {
	BaseModel

	// Path is the canonical path key: root-relative, always beginning with
	// the host separator.
	Path string `gorm:"not null;size:1024;uniqueIndex" json:"path"`

	// Codec is the video codec name as reported by the probe (h264, hevc, av1, ...).
	Codec string `gorm:"size:32;index" json:"codec"`

	// BitrateKbps is the overall video bitrate in kilobits per second.
	BitrateKbps int `gorm:"index" json:"bitrate_kbps"`

	Width       int `json:"width"`
	Height      int `json:"height"`
	TotalPixels int `gorm:"index" json:"total_pixels"`

	FPS float64 `json:"fps"`

	// SizeMB is the file size in megabytes.
	SizeMB float64 `json:"size_mb"`

	// IsVR marks videos detected as VR content by filename classification.
	IsVR bool `gorm:"index" json:"is_vr"`

	// FileMtime is the file modification time recorded at the last probe.
	FileMtime *time.Time `json:"file_mtime,omitempty"`

	// Exists is flipped false when a scan no longer finds the file. The row
	// is kept as a tombstone and never handed out by the dispatcher.
	Exists bool `gorm:"column:exist;index" json:"exists"`

	TranscodeStatus VideoStatus `gorm:"default:0;index" json:"transcode_status"`

	// CurrentTaskID is set iff TranscodeStatus is CREATED or RUNNING.
	CurrentTaskID *ULID `gorm:"type:varchar(26)" json:"current_task_id,omitempty"`
}

// TableName returns the table name for Video.
func (Video) TableName() string {
	return "videos"
}

// IsCandidate reports whether the video may be handed out at all: the file
// must exist and its status must be WAIT or FAILED, so no task holds it.
func (v *Video) IsCandidate() bool {
	return v.Exists && (v.TranscodeStatus == VideoStatusWait || v.TranscodeStatus == VideoStatusFailed)
}
