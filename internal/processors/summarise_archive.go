package processors

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cast"

	"fourcat/internal/registry"
	"fourcat/internal/services"
)

// SummariseArchive packs the top tokens and aggregate figures of a
// token-counts dataset into a zip archive.
type SummariseArchive struct{}

var _ registry.Processor = SummariseArchive{}

func (SummariseArchive) Descriptor() registry.Descriptor {
	return registry.Descriptor{
		TypeID:      "summarise-archive",
		Title:       "Summary archive",
		Description: "Bundles the most frequent tokens and totals into a zip file.",
		Category:    "visualisation",
		Extension:   "zip",
		Version:     "0.9.1",
		Accepts:     []string{"token-counts"},
		Produces:    "summary",
		Options: map[string]registry.OptionSpec{
			"top": {
				Kind:    registry.KindInt,
				Help:    "Number of tokens in the summary",
				Default: 10,
				Min:     registry.Bound(1),
				Max:     registry.Bound(1000),
			},
		},
		Timeout: 5 * time.Minute,
	}
}

// Summary is the summary.json member of the archive.
type Summary struct {
	Dataset       string `json:"dataset"`
	DistinctTerms int64  `json:"distinct_terms"`
	TotalCount    int64  `json:"total_count"`
	Top           int    `json:"top"`
}

func (SummariseArchive) Run(ctx context.Context, req registry.Request) (registry.Result, error) {
	top := cast.ToInt(req.Parameters["top"])
	if top <= 0 {
		top = 10
	}
	rows, err := readTokenCounts(req.InputPath)
	if err != nil {
		return registry.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return registry.Result{}, err
	}

	summary := Summary{Dataset: req.DatasetKey, DistinctTerms: int64(len(rows)), Top: top}
	for _, row := range rows {
		summary.TotalCount += row.Count
	}
	if len(rows) > top {
		rows = rows[:top]
	}

	out, err := createOutput(req.OutputPath)
	if err != nil {
		return registry.Result{}, services.Wrap(services.ErrTransient, "summarise-archive", "create output", req.OutputPath, err)
	}
	if err := writeSummaryArchive(out, rows, summary); err != nil {
		out.abort()
		return registry.Result{}, services.Wrap(services.ErrTransient, "summarise-archive", "write archive", req.OutputPath, err)
	}
	if err := out.commit(); err != nil {
		return registry.Result{}, services.Wrap(services.ErrTransient, "summarise-archive", "commit output", req.OutputPath, err)
	}
	req.ReportProgress(100, "Archive written")
	return registry.Result{Rows: int64(len(rows))}, nil
}

func readTokenCounts(path string) ([]TokenCount, error) {
	file, _, err := openInput("summarise-archive", path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 2
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrPermanent, "summarise-archive", "read header", path, err)
	}
	var rows []TokenCount
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, services.Wrap(services.ErrPermanent, "summarise-archive", "read counts", path, err)
		}
		n, err := strconv.ParseInt(record[1], 10, 64)
		if err != nil {
			return nil, services.Wrap(services.ErrPermanent, "summarise-archive", "read counts", fmt.Sprintf("bad count for %q", record[0]), err)
		}
		rows = append(rows, TokenCount{Token: record[0], Count: n})
	}
}

func writeSummaryArchive(w io.Writer, rows []TokenCount, summary Summary) error {
	archive := zip.NewWriter(w)

	member, err := archive.Create("top-tokens.csv")
	if err != nil {
		return err
	}
	cw := csv.NewWriter(member)
	_ = cw.Write([]string{"rank", "token", "count"})
	for i, row := range rows {
		_ = cw.Write([]string{strconv.Itoa(i + 1), row.Token, strconv.FormatInt(row.Count, 10)})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	member, err = archive.Create("summary.json")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(member)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return err
	}
	return archive.Close()
}
