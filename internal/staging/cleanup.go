package staging

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"fourcat/internal/logging"
)

// AreaInfo describes an area found on disk. Label is the processor label the
// area was created with, empty when the directory name carries none.
type AreaInfo struct {
	Name    string
	Label   string
	Path    string
	ModTime time.Time
	Age     time.Duration
	Files   int
	Size    int64
}

// CleanStaleResult lists the areas a sweep removed and the ones it could not.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs an area path with the reason it was left in place.
type CleanupError struct {
	Path  string
	Error error
}

// Survey reports every area below stagingDir with its label, age and disk
// usage, oldest first. A missing directory holds no areas.
func Survey(stagingDir string) ([]AreaInfo, error) {
	areas, err := scanAreas(stagingDir, time.Now())
	if err != nil {
		return nil, err
	}
	for i := range areas {
		areas[i].Files, areas[i].Size = usage(areas[i].Path)
	}
	return areas, nil
}

// CleanStale removes areas not modified for longer than maxAge. A zero maxAge
// removes every area, which is only safe before any worker has started.
func CleanStale(ctx context.Context, stagingDir string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	if logger == nil {
		logger = logging.NewNop()
	}
	var result CleanStaleResult

	areas, err := scanAreas(stagingDir, time.Now())
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: err})
		return result
	}

	for _, area := range areas {
		if ctx.Err() != nil {
			break
		}
		if maxAge > 0 && area.Age <= maxAge {
			// Oldest first, so every remaining area is younger too.
			break
		}
		if err := os.RemoveAll(area.Path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: area.Path, Error: err})
			logger.Warn("stale staging area not removed",
				logging.String("staging_path", area.Path),
				logging.String("label", area.Label),
				logging.Error(err),
				logging.String(logging.FieldEventType, "staging_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, area.Path)
		logger.Info("stale staging area removed",
			logging.String("staging_path", area.Path),
			logging.String("label", area.Label),
			logging.Duration("age", area.Age),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}
	return result
}

// scanAreas lists area directories without measuring them. Entries that
// vanish mid-scan belong to runs that just closed and are skipped.
func scanAreas(stagingDir string, now time.Time) ([]AreaInfo, error) {
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(stagingDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var areas []AreaInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		areas = append(areas, AreaInfo{
			Name:    entry.Name(),
			Label:   areaLabel(entry.Name()),
			Path:    filepath.Join(stagingDir, entry.Name()),
			ModTime: info.ModTime(),
			Age:     now.Sub(info.ModTime()),
		})
	}
	sort.SliceStable(areas, func(i, j int) bool {
		return areas[i].ModTime.Before(areas[j].ModTime)
	})
	return areas, nil
}

// areaLabel strips the random suffix NewArea appends. Names without one are
// treated as all label.
func areaLabel(name string) string {
	const suffix = 36
	if len(name) < suffix {
		return name
	}
	cut := len(name) - suffix
	if _, err := uuid.Parse(name[cut:]); err != nil {
		return name
	}
	return strings.TrimSuffix(name[:cut], "-")
}

// usage counts regular files and their bytes below dir. Unreadable entries
// are left out of the totals.
func usage(dir string) (files int, size int64) {
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			files++
			size += info.Size()
		}
		return nil
	})
	return files, size
}
