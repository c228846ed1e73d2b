package staging

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"fourcat/internal/services"
)

// ErrUnsafePath is returned when an archive entry would escape the area.
var ErrUnsafePath = errors.New("archive entry escapes staging area")

// Area is a per-run scratch directory. Close removes it and everything
// extracted into it.
type Area struct {
	dir  string
	once sync.Once
	err  error
}

// NewArea creates a uniquely named directory below base.
func NewArea(base, label string) (*Area, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, services.Wrap(services.ErrConfiguration, "staging", "create area", "staging directory not configured", nil)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create staging base: %w", err)
	}
	name := uuid.NewString()
	if label = sanitizeLabel(label); label != "" {
		name = label + "-" + name
	}
	dir := filepath.Join(base, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging area: %w", err)
	}
	return &Area{dir: dir}, nil
}

// Path returns the area directory.
func (a *Area) Path() string {
	return a.dir
}

// Join returns a path inside the area.
func (a *Area) Join(elem ...string) string {
	return filepath.Join(append([]string{a.dir}, elem...)...)
}

// Close removes the area. Subsequent calls return the first result.
func (a *Area) Close() error {
	if a == nil {
		return nil
	}
	a.once.Do(func() {
		if err := os.RemoveAll(a.dir); err != nil {
			a.err = fmt.Errorf("remove staging area: %w", err)
		}
	})
	return a.err
}

// Unpack extracts a zip archive into the area and returns the extracted file
// paths in archive order. The context is checked between entries.
func (a *Area) Unpack(ctx context.Context, archive string) ([]string, error) {
	reader, err := zip.OpenReader(archive)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = reader.Close()
		return nil, services.Wrap(services.ErrPermanent, "staging", "unpack", archive, fmt.Errorf("%w: %w", ErrUnsafePath, err))
	}
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	var files []string
	for _, entry := range reader.File {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		target, err := a.entryPath(entry.Name)
		if err != nil {
			return files, services.Wrap(services.ErrPermanent, "staging", "unpack", entry.Name, err)
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, fmt.Errorf("create %s: %w", entry.Name, err)
			}
			continue
		}
		if err := extractFile(entry, target); err != nil {
			return files, err
		}
		files = append(files, target)
	}
	return files, nil
}

func (a *Area) entryPath(name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", ErrUnsafePath
	}
	target := filepath.Join(a.dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(a.dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	return target, nil
}

func extractFile(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", entry.Name, err)
	}
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", entry.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	return dst.Close()
}

func sanitizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	var b strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
