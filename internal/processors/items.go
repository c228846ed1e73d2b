package processors

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"fourcat/internal/services"
)

// Item is one normalised record of the items format, stored as NDJSON.
type Item struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

const checkEvery = 256

// openInput opens a processor input, mapping a missing file to a permanent
// failure and an empty path to a configuration error.
func openInput(component, path string) (*os.File, int64, error) {
	if path == "" {
		return nil, 0, services.Wrap(services.ErrConfiguration, component, "open input", "dataset has no input", nil)
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, services.Wrap(services.ErrPermanent, component, "open input", path, err)
		}
		return nil, 0, services.Wrap(services.ErrTransient, component, "open input", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, services.Wrap(services.ErrTransient, component, "stat input", path, err)
	}
	return file, info.Size(), nil
}

// countingReader tracks consumed bytes for progress reporting.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func percentOf(done, total int64) float64 {
	if total <= 0 {
		return -1
	}
	return float64(done) * 100 / float64(total)
}

// readItems streams an items file, calling fn for every record. The context
// is checked every few hundred records.
func readItems(ctx context.Context, component, path string, progress func(float64), fn func(Item) error) error {
	file, size, err := openInput(component, path)
	if err != nil {
		return err
	}
	defer file.Close()

	counter := &countingReader{r: file}
	scanner := bufio.NewScanner(counter)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if line%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			if progress != nil {
				progress(percentOf(counter.n, size))
			}
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var item Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return services.Wrap(services.ErrPermanent, component, "read items", fmt.Sprintf("%s line %d", path, line), err)
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return services.Wrap(services.ErrTransient, component, "read items", path, err)
	}
	return nil
}
