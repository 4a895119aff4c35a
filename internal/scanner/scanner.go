// Package scanner keeps the video catalog consistent with the filesystem:
// it walks the configured roots, probes new or changed files, classifies
// them, and tombstones entries whose files have disappeared.
package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/distconv/distconv/internal/classify"
	"github.com/distconv/distconv/internal/models"
	"github.com/distconv/distconv/internal/probe"
	"github.com/distconv/distconv/internal/repository"
)

// videoExtensions are the file types the scanner picks up.
var videoExtensions = map[string]bool{
	".mp4": true,
	".mkv": true,
	".avi": true,
	".flv": true,
}

// sizeToleranceMB is the size drift allowed before a file counts as changed.
const sizeToleranceMB = 0.1

// Scanner reconciles the filesystem with the catalog.
type Scanner struct {
	db        *gorm.DB
	prober    probe.Prober
	roots     []string
	batchSize int
	logger    *slog.Logger
}

// New creates a Scanner over the given roots.
func New(db *gorm.DB, prober probe.Prober, roots []string, batchSize int, logger *slog.Logger) *Scanner {
	if batchSize < 1 {
		batchSize = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{db: db, prober: prober, roots: roots, batchSize: batchSize, logger: logger}
}

// mutation is one deferred catalog write, applied in batched transactions.
type mutation func(ctx context.Context, videos repository.VideoRepository) error

// Scan runs one full reconciliation pass. Individual file failures are
// logged and skipped; only store-level failures abort the scan.
func (s *Scanner) Scan(ctx context.Context) error {
	start := time.Now()
	s.logger.Info("scan started", slog.Int("roots", len(s.roots)))

	// Tentatively mark everything missing; the walk flips back what it finds.
	if err := repository.NewVideoRepository(s.db).MarkAllMissing(ctx); err != nil {
		return err
	}

	var pending []mutation
	seen := 0

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		batch := pending
		pending = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			videos := repository.NewVideoRepository(tx)
			for _, apply := range batch {
				if err := apply(ctx, videos); err != nil {
					return err
				}
			}
			return nil
		})
	}

	for _, root := range s.roots {
		if _, err := os.Stat(root); err != nil {
			s.logger.Warn("skipping unreachable scan root",
				slog.String("root", root),
				slog.String("error", err.Error()),
			)
			continue
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				s.logger.Warn("walk error", slog.String("path", path), slog.String("error", err.Error()))
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || !isVideoFile(d.Name()) {
				return nil
			}

			m, err := s.reconcileFile(ctx, root, path)
			if err != nil {
				// Probe failures skip the single file; the scan continues.
				s.logger.Warn("skipping file",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if m == nil {
				return nil
			}

			pending = append(pending, m)
			seen++
			if len(pending) >= s.batchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if err := flush(); err != nil {
		return err
	}

	s.logger.Info("scan finished",
		slog.Int("files", seen),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// isVideoFile applies the extension and trailer filters.
func isVideoFile(name string) bool {
	if !videoExtensions[strings.ToLower(filepath.Ext(name))] {
		return false
	}
	return !strings.Contains(strings.ToLower(name), "-trailer")
}

// PathKey derives the canonical catalog key: the root-relative path in host
// separators, always beginning with a separator.
func PathKey(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	rel = filepath.Clean(rel)
	sep := string(filepath.Separator)
	if !strings.HasPrefix(rel, sep) {
		rel = sep + rel
	}
	return rel, nil
}

// reconcileFile decides what, if anything, to write for one file. Probing
// happens here, outside the batched transaction.
func (s *Scanner) reconcileFile(ctx context.Context, root, path string) (mutation, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	sizeMB := float64(info.Size()) / (1024 * 1024)
	mtime := info.ModTime().UTC().Truncate(time.Microsecond)

	key, err := PathKey(root, path)
	if err != nil {
		return nil, err
	}

	existing, err := repository.NewVideoRepository(s.db).GetByPath(ctx, key)
	if err != nil {
		return nil, err
	}

	if existing != nil && !fileChanged(existing, sizeMB, mtime) {
		id := existing.ID
		return func(ctx context.Context, videos repository.VideoRepository) error {
			video, err := videos.GetByID(ctx, id)
			if err != nil || video == nil {
				return err
			}
			video.Exists = true
			return videos.Update(ctx, video)
		}, nil
	}

	media, err := s.prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	isVR := classify.IsVR(filepath.Base(path))
	status := classify.Status(classify.Probe{
		Codec:       media.Codec,
		BitrateKbps: media.BitrateKbps,
		TotalPixels: media.Width * media.Height,
		FPS:         media.FPS,
		IsVR:        isVR,
	})

	if existing == nil {
		video := &models.Video{
			Path:            key,
			Codec:           media.Codec,
			BitrateKbps:     media.BitrateKbps,
			Width:           media.Width,
			Height:          media.Height,
			TotalPixels:     media.Width * media.Height,
			FPS:             media.FPS,
			SizeMB:          sizeMB,
			IsVR:            isVR,
			FileMtime:       &mtime,
			Exists:          true,
			TranscodeStatus: status,
		}
		s.logger.Debug("new video cataloged",
			slog.String("path", key),
			slog.String("codec", media.Codec),
			slog.String("status", status.String()),
		)
		return func(ctx context.Context, videos repository.VideoRepository) error {
			return videos.Create(ctx, video)
		}, nil
	}

	id := existing.ID
	return func(ctx context.Context, videos repository.VideoRepository) error {
		video, err := videos.GetByID(ctx, id)
		if err != nil || video == nil {
			return err
		}
		video.Codec = media.Codec
		video.BitrateKbps = media.BitrateKbps
		video.Width = media.Width
		video.Height = media.Height
		video.TotalPixels = media.Width * media.Height
		video.FPS = media.FPS
		video.SizeMB = sizeMB
		video.IsVR = isVR
		video.FileMtime = &mtime
		video.Exists = true
		// A row with a live task keeps its state; the tracker owns it until
		// the task reaches a terminal status.
		if video.CurrentTaskID == nil {
			video.TranscodeStatus = status
		}
		return videos.Update(ctx, video)
	}, nil
}

// fileChanged compares the on-disk state with the stored row.
func fileChanged(video *models.Video, sizeMB float64, mtime time.Time) bool {
	diff := sizeMB - video.SizeMB
	if diff < 0 {
		diff = -diff
	}
	if diff > sizeToleranceMB {
		return true
	}
	return video.FileMtime == nil || mtime.After(*video.FileMtime)
}
