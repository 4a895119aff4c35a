// Package classify decides whether a cataloged video needs re-encoding and
// detects VR content from filenames.
package classify

import (
	"github.com/distconv/distconv/internal/models"
)

// Bitrate target parameters. The target scales from the 1080p30 base by
// pixel count and frame rate, clamped so that oddball metadata (tiny clips,
// 240 fps screen grabs) cannot produce absurd targets.
const (
	baseBitrateKbps = 3500
	basePixels      = 1920 * 1080
	baseFPS         = 30.0

	minTargetKbps = 2000
	maxTargetKbps = 25000
)

// Probe carries the metadata classification needs.
type Probe struct {
	Codec       string
	BitrateKbps int
	TotalPixels int
	FPS         float64
	IsVR        bool
}

// TargetBitrateKbps computes the bitrate threshold above which an
// hevc/av1 video is still worth re-encoding.
func TargetBitrateKbps(totalPixels int, fps float64) int {
	if totalPixels <= 0 || fps <= 0 {
		return minTargetKbps
	}
	target := baseBitrateKbps * (float64(totalPixels) / basePixels) * (fps / baseFPS)
	if target < minTargetKbps {
		return minTargetKbps
	}
	if target > maxTargetKbps {
		return maxTargetKbps
	}
	return int(target)
}

// Status returns the transcode status a freshly probed video should carry.
//
// h264 always waits. hevc/av1 VR content is left alone. Non-VR hevc/av1 is
// re-encoded only when its bitrate still exceeds the scaled target. Every
// other codec is skipped.
func Status(p Probe) models.VideoStatus {
	switch p.Codec {
	case "h264":
		return models.VideoStatusWait
	case "hevc", "av1":
		if p.IsVR {
			return models.VideoStatusNotNeeded
		}
		if p.BitrateKbps >= TargetBitrateKbps(p.TotalPixels, p.FPS) {
			return models.VideoStatusWait
		}
		return models.VideoStatusNotNeeded
	default:
		return models.VideoStatusNotNeeded
	}
}
