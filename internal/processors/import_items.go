package processors

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"fourcat/internal/logging"
	"fourcat/internal/registry"
	"fourcat/internal/services"
)

// ImportItems normalises raw input into the items format.
type ImportItems struct{}

var _ registry.Processor = ImportItems{}

func (ImportItems) Descriptor() registry.Descriptor {
	return registry.Descriptor{
		TypeID:      "import-items",
		Title:       "Import items",
		Description: "Reads NDJSON, CSV or a zip archive of either and writes one item per record.",
		Category:    "collector",
		Extension:   "ndjson",
		Version:     "1.2.0",
		Accepts:     []string{"raw:ndjson", "raw:csv", "raw:zip"},
		Produces:    "items",
		Options: map[string]registry.OptionSpec{
			"id-field":   {Kind: registry.KindString, Help: "Field holding the record id", Default: "id"},
			"body-field": {Kind: registry.KindString, Help: "Field holding the record text", Default: "body"},
			"limit": {
				Kind:    registry.KindInt,
				Help:    "Stop after this many records (0 imports everything)",
				Default: 0,
				Min:     registry.Bound(0),
				Max:     registry.Bound(10_000_000),
			},
		},
		Concurrency: 2,
	}
}

type importState struct {
	idField   string
	bodyField string
	limit     int64
	written   int64
	skipped   int64
	enc       *json.Encoder
}

func (s *importState) full() bool {
	return s.limit > 0 && s.written >= s.limit
}

func (s *importState) add(record map[string]any) error {
	body := strings.TrimSpace(cast.ToString(record[s.bodyField]))
	if body == "" {
		s.skipped++
		return nil
	}
	id := cast.ToString(record[s.idField])
	if id == "" {
		id = fmt.Sprintf("%d", s.written+1)
	}
	if err := s.enc.Encode(Item{ID: id, Body: body}); err != nil {
		return fmt.Errorf("write item: %w", err)
	}
	s.written++
	return nil
}

func (p ImportItems) Run(ctx context.Context, req registry.Request) (registry.Result, error) {
	inputs := []string{req.InputPath}
	if strings.EqualFold(filepath.Ext(req.InputPath), ".zip") {
		if req.Staging == nil {
			return registry.Result{}, services.Wrap(services.ErrConfiguration, "import-items", "unpack", "no staging area", nil)
		}
		files, err := req.Staging.Unpack(ctx, req.InputPath)
		if err != nil {
			return registry.Result{}, err
		}
		inputs = importable(files)
		if len(inputs) == 0 {
			return registry.Result{}, services.Wrap(services.ErrPermanent, "import-items", "unpack", "archive holds no .ndjson or .csv files", nil)
		}
		req.ReportProgress(-1, "Unpacked archive")
	}

	out, err := createOutput(req.OutputPath)
	if err != nil {
		return registry.Result{}, services.Wrap(services.ErrTransient, "import-items", "create output", req.OutputPath, err)
	}
	state := &importState{
		idField:   cast.ToString(req.Parameters["id-field"]),
		bodyField: cast.ToString(req.Parameters["body-field"]),
		limit:     cast.ToInt64(req.Parameters["limit"]),
		enc:       json.NewEncoder(out),
	}

	for i, input := range inputs {
		if state.full() {
			break
		}
		if err := importFile(ctx, input, state); err != nil {
			out.abort()
			return registry.Result{}, err
		}
		req.ReportProgress(float64(i+1)*100/float64(len(inputs)), "Importing items")
	}
	if err := out.commit(); err != nil {
		return registry.Result{}, services.Wrap(services.ErrTransient, "import-items", "commit output", req.OutputPath, err)
	}

	if state.skipped > 0 && req.Logger != nil {
		logging.WarnWithContext(req.Logger, "records without text skipped", "import_skipped",
			logging.Int64("skipped", state.skipped),
			logging.String("body_field", state.bodyField),
			logging.String(logging.FieldErrorHint, "check the body-field option"),
			logging.String(logging.FieldImpact, "dataset has fewer items than the input"),
		)
	}
	return registry.Result{Rows: state.written}, nil
}

// importable returns the unpacked files the importer understands, sorted.
func importable(files []string) []string {
	var out []string
	for _, file := range files {
		switch strings.ToLower(filepath.Ext(file)) {
		case ".ndjson", ".jsonl", ".csv":
			out = append(out, file)
		}
	}
	sort.Strings(out)
	return out
}

func importFile(ctx context.Context, path string, state *importState) error {
	file, _, err := openInput("import-items", path)
	if err != nil {
		return err
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return importCSV(ctx, path, file, state)
	}
	return importNDJSON(ctx, path, file, state)
}

func importNDJSON(ctx context.Context, path string, r io.Reader, state *importState) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() && !state.full() {
		line++
		if line%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return services.Wrap(services.ErrPermanent, "import-items", "parse ndjson", fmt.Sprintf("%s line %d", path, line), err)
		}
		if err := state.add(record); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return services.Wrap(services.ErrTransient, "import-items", "read ndjson", path, err)
	}
	return nil
}

func importCSV(ctx context.Context, path string, r io.Reader, state *importState) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return services.Wrap(services.ErrPermanent, "import-items", "parse csv header", path, err)
	}
	row := 0
	for !state.full() {
		row++
		if row%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return services.Wrap(services.ErrPermanent, "import-items", "parse csv", fmt.Sprintf("%s row %d", path, row), err)
		}
		record := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(fields) {
				record[strings.TrimSpace(name)] = fields[i]
			}
		}
		if err := state.add(record); err != nil {
			return err
		}
	}
	return nil
}
