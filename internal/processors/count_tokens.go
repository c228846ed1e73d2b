package processors

import (
	"context"
	"encoding/csv"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/spf13/cast"

	"fourcat/internal/registry"
	"fourcat/internal/services"
)

// CountTokens counts word frequencies over an items dataset.
type CountTokens struct{}

var _ registry.Processor = CountTokens{}

func (CountTokens) Descriptor() registry.Descriptor {
	return registry.Descriptor{
		TypeID:      "count-tokens",
		Title:       "Count tokens",
		Description: "Splits item text into words and counts how often each occurs.",
		Category:    "processor",
		Extension:   "csv",
		Version:     "1.0.3",
		Accepts:     []string{"items"},
		Produces:    "token-counts",
		Options: map[string]registry.OptionSpec{
			"lowercase": {Kind: registry.KindBool, Help: "Fold tokens to lower case", Default: true},
			"min-count": {
				Kind:    registry.KindInt,
				Help:    "Drop tokens seen fewer times",
				Default: 1,
				Min:     registry.Bound(1),
				Max:     registry.Bound(1000),
			},
			"stopwords": {Kind: registry.KindList, Help: "Tokens to ignore"},
			"max-tokens": {
				Kind:    registry.KindInt,
				Help:    "Keep only the most frequent tokens (0 keeps all)",
				Default: 0,
				Min:     registry.Bound(0),
			},
		},
		Concurrency: 2,
	}
}

// TokenCount is one row of the token-counts format.
type TokenCount struct {
	Token string
	Count int64
}

func (CountTokens) Run(ctx context.Context, req registry.Request) (registry.Result, error) {
	lowercase := cast.ToBool(req.Parameters["lowercase"])
	minCount := cast.ToInt64(req.Parameters["min-count"])
	maxTokens := cast.ToInt(req.Parameters["max-tokens"])
	stop := make(map[string]struct{})
	for _, word := range cast.ToStringSlice(req.Parameters["stopwords"]) {
		if lowercase {
			word = strings.ToLower(word)
		}
		stop[word] = struct{}{}
	}

	counts := make(map[string]int64)
	progress := func(p float64) { req.ReportProgress(p, "Counting tokens") }
	err := readItems(ctx, "count-tokens", req.InputPath, progress, func(item Item) error {
		for _, token := range tokenize(item.Body) {
			if lowercase {
				token = strings.ToLower(token)
			}
			if _, skip := stop[token]; skip {
				continue
			}
			counts[token]++
		}
		return nil
	})
	if err != nil {
		return registry.Result{}, err
	}

	rows := rankTokens(counts, minCount, maxTokens)
	if err := writeTokenCounts(req.OutputPath, rows); err != nil {
		return registry.Result{}, services.Wrap(services.ErrTransient, "count-tokens", "write result", req.OutputPath, err)
	}
	req.ReportProgress(100, "Counted tokens")
	return registry.Result{Rows: int64(len(rows))}, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// rankTokens orders by descending count, then token.
func rankTokens(counts map[string]int64, minCount int64, limit int) []TokenCount {
	rows := make([]TokenCount, 0, len(counts))
	for token, n := range counts {
		if n >= minCount {
			rows = append(rows, TokenCount{Token: token, Count: n})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Token < rows[j].Token
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func writeTokenCounts(path string, rows []TokenCount) error {
	out, err := createOutput(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(out)
	_ = w.Write([]string{"token", "count"})
	for _, row := range rows {
		_ = w.Write([]string{row.Token, strconv.FormatInt(row.Count, 10)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		out.abort()
		return err
	}
	return out.commit()
}
