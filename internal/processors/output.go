package processors

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// output writes a result next to its final location and renames it into
// place on commit, so a failed run never leaves a partial artifact behind.
type output struct {
	file  *os.File
	buf   *bufio.Writer
	final string
}

func createOutput(path string) (*output, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create result directory: %w", err)
	}
	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.part")
	if err != nil {
		return nil, fmt.Errorf("create result file: %w", err)
	}
	return &output{file: file, buf: bufio.NewWriter(file), final: path}, nil
}

func (o *output) Write(p []byte) (int, error) {
	return o.buf.Write(p)
}

func (o *output) commit() error {
	if err := o.buf.Flush(); err != nil {
		o.abort()
		return fmt.Errorf("flush result: %w", err)
	}
	if err := o.file.Close(); err != nil {
		_ = os.Remove(o.file.Name())
		return fmt.Errorf("close result: %w", err)
	}
	if err := os.Rename(o.file.Name(), o.final); err != nil {
		_ = os.Remove(o.file.Name())
		return fmt.Errorf("move result into place: %w", err)
	}
	return nil
}

func (o *output) abort() {
	_ = o.file.Close()
	_ = os.Remove(o.file.Name())
}
