// Package probe extracts media metadata from source files. The coordinator
// only consumes the resulting MediaInfo; command construction and progress
// parsing belong to the workers.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/vansante/go-ffprobe.v2"
)

// MediaInfo is the subset of probe output the catalog stores.
type MediaInfo struct {
	Codec       string
	BitrateKbps int
	Width       int
	Height      int
	FPS         float64
}

// Prober extracts MediaInfo from a file on disk.
type Prober interface {
	Probe(ctx context.Context, path string) (*MediaInfo, error)
}

// FFProbe is the default Prober backed by the ffprobe binary.
type FFProbe struct{}

// NewFFProbe creates the default ffprobe-backed prober.
func NewFFProbe() *FFProbe {
	return &FFProbe{}
}

// Probe runs ffprobe against the file and extracts the first video stream.
func (p *FFProbe) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	data, err := ffprobe.ProbeURL(ctx, path, "-loglevel", "error")
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", path, err)
	}
	return parseProbeData(data)
}

// parseProbeData maps raw ffprobe output onto MediaInfo. The stream bitrate
// is preferred; containers like mkv only report a format-level bitrate.
func parseProbeData(data *ffprobe.ProbeData) (*MediaInfo, error) {
	stream := data.FirstVideoStream()
	if stream == nil {
		return nil, errors.New("no video stream found")
	}

	bitRateValue := stream.BitRate
	if bitRateValue == "" && data.Format != nil {
		bitRateValue = data.Format.BitRate
	}
	var bitrate int64
	if bitRateValue != "" {
		var err error
		bitrate, err = strconv.ParseInt(bitRateValue, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing bitrate %q: %w", bitRateValue, err)
		}
	}

	fps, err := parseFps(stream.AvgFrameRate)
	if err != nil {
		return nil, err
	}
	if fps == 0 {
		if fps, err = parseFps(stream.RFrameRate); err != nil {
			return nil, err
		}
	}

	return &MediaInfo{
		Codec:       strings.ToLower(stream.CodecName),
		BitrateKbps: int(bitrate / 1000),
		Width:       stream.Width,
		Height:      stream.Height,
		FPS:         fps,
	}, nil
}

// parseFps parses ffprobe's fractional frame rate notation ("30000/1001").
func parseFps(framerate string) (float64, error) {
	if framerate == "" {
		return 0, nil
	}
	parts := strings.Split(framerate, "/")
	if len(parts) == 1 {
		fps, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return 0, fmt.Errorf("parsing frame rate %q: %w", framerate, err)
		}
		return fps, nil
	}
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid frame rate %q", framerate)
	}
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parsing frame rate numerator %q: %w", framerate, err)
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, fmt.Errorf("parsing frame rate denominator %q: %w", framerate, err)
	}
	if den == 0 {
		return 0, nil
	}
	return num / den, nil
}
