package processors

import (
	"context"
	"encoding/csv"
	"fmt"

	"github.com/spf13/cast"

	"fourcat/internal/registry"
	"fourcat/internal/services"
)

// BundleCSV converts an items dataset to a spreadsheet friendly CSV.
type BundleCSV struct{}

var _ registry.Processor = BundleCSV{}

func (BundleCSV) Descriptor() registry.Descriptor {
	return registry.Descriptor{
		TypeID:    "bundle-csv",
		Title:     "Export items as CSV",
		Category:  "conversion",
		Extension: "csv",
		Version:   "1.0.0",
		Accepts:   []string{"items"},
		Produces:  "items-csv",
		Options: map[string]registry.OptionSpec{
			"columns": {Kind: registry.KindList, Help: "Columns to export (id, body, length)", Default: []string{"id", "body"}},
		},
	}
}

var itemColumns = map[string]func(Item) string{
	"id":     func(it Item) string { return it.ID },
	"body":   func(it Item) string { return it.Body },
	"length": func(it Item) string { return fmt.Sprintf("%d", len([]rune(it.Body))) },
}

func (BundleCSV) Run(ctx context.Context, req registry.Request) (registry.Result, error) {
	columns := cast.ToStringSlice(req.Parameters["columns"])
	if len(columns) == 0 {
		columns = []string{"id", "body"}
	}
	for _, col := range columns {
		if _, ok := itemColumns[col]; !ok {
			return registry.Result{}, services.Wrap(services.ErrConfiguration, "bundle-csv", "columns", fmt.Sprintf("unknown column %q", col), nil)
		}
	}

	out, err := createOutput(req.OutputPath)
	if err != nil {
		return registry.Result{}, services.Wrap(services.ErrTransient, "bundle-csv", "create output", req.OutputPath, err)
	}
	w := csv.NewWriter(out)
	_ = w.Write(columns)

	var rows int64
	progress := func(p float64) { req.ReportProgress(p, "Writing CSV") }
	err = readItems(ctx, "bundle-csv", req.InputPath, progress, func(item Item) error {
		record := make([]string, len(columns))
		for i, col := range columns {
			record[i] = itemColumns[col](item)
		}
		rows++
		return w.Write(record)
	})
	w.Flush()
	if err == nil {
		err = w.Error()
	}
	if err != nil {
		out.abort()
		return registry.Result{}, err
	}
	if err := out.commit(); err != nil {
		return registry.Result{}, services.Wrap(services.ErrTransient, "bundle-csv", "commit output", req.OutputPath, err)
	}
	return registry.Result{Rows: rows}, nil
}
