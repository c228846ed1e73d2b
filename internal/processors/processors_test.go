package processors_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fourcat/internal/logging"
	"fourcat/internal/processors"
	"fourcat/internal/registry"
	"fourcat/internal/services"
	"fourcat/internal/staging"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(processors.All()...)
	require.NoError(t, err)
	return reg
}

func request(t *testing.T, reg *registry.Registry, typeID, input string, params map[string]any) registry.Request {
	t.Helper()
	validated, err := reg.ValidateOptions(typeID, params)
	require.NoError(t, err)
	desc, ok := reg.Descriptor(typeID)
	require.True(t, ok)
	return registry.Request{
		DatasetKey: "ds-" + typeID,
		Parameters: validated,
		InputPath:  input,
		OutputPath: filepath.Join(t.TempDir(), "result."+desc.Extension),
		Logger:     logging.NewNop(),
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestAllFormsAPipeline(t *testing.T) {
	reg := newRegistry(t)
	assert.Equal(t, []string{"bundle-csv", "count-tokens", "import-items", "summarise-archive"}, reg.Types())

	var consumers []string
	for _, desc := range reg.ConsumersOf("items") {
		consumers = append(consumers, desc.TypeID)
	}
	assert.Equal(t, []string{"bundle-csv", "count-tokens"}, consumers)
	require.Len(t, reg.ConsumersOf("token-counts"), 1)
	assert.Empty(t, reg.ConsumersOf("summary"))
}

func TestImportItemsFromNDJSON(t *testing.T) {
	reg := newRegistry(t)
	input := writeFile(t, "raw.ndjson", `{"id": 7, "body": "first post"}
{"id": "b", "body": "  "}

{"body": "no id here"}
`)
	req := request(t, reg, "import-items", input, nil)

	res, err := processors.ImportItems{}.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows)

	lines := readLines(t, req.OutputPath)
	require.Len(t, lines, 2)
	var first, second processors.Item
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, processors.Item{ID: "7", Body: "first post"}, first)
	assert.Equal(t, processors.Item{ID: "2", Body: "no id here"}, second)
}

func TestImportItemsFromCSVWithLimit(t *testing.T) {
	reg := newRegistry(t)
	input := writeFile(t, "raw.csv", "post_id,text\n1,alpha\n2,beta\n3,gamma\n")
	req := request(t, reg, "import-items", input, map[string]any{
		"id-field":   "post_id",
		"body-field": "text",
		"limit":      "2",
	})

	res, err := processors.ImportItems{}.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows)
	assert.Len(t, readLines(t, req.OutputPath), 2)
}

func TestImportItemsFromZip(t *testing.T) {
	reg := newRegistry(t)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"b.csv":      "id,body\nx,from csv\n",
		"a.ndjson":   `{"id":"y","body":"from ndjson"}` + "\n",
		"readme.txt": "ignored",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	input := writeFile(t, "raw.zip", buf.String())

	area, err := staging.NewArea(t.TempDir(), "import-items")
	require.NoError(t, err)
	t.Cleanup(func() { _ = area.Close() })

	req := request(t, reg, "import-items", input, nil)
	req.Staging = area
	res, err := processors.ImportItems{}.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows)

	lines := readLines(t, req.OutputPath)
	assert.Contains(t, lines[0], "from ndjson")
	assert.Contains(t, lines[1], "from csv")
}

func TestImportItemsFailures(t *testing.T) {
	reg := newRegistry(t)

	req := request(t, reg, "import-items", filepath.Join(t.TempDir(), "missing.ndjson"), nil)
	_, err := processors.ImportItems{}.Run(context.Background(), req)
	assert.Equal(t, services.KindPermanent, services.Classify(err))
	_, statErr := os.Stat(req.OutputPath)
	assert.True(t, os.IsNotExist(statErr), "failed run must not leave a result")

	bad := writeFile(t, "bad.ndjson", "{not json}\n")
	req = request(t, reg, "import-items", bad, nil)
	_, err = processors.ImportItems{}.Run(context.Background(), req)
	assert.Equal(t, services.KindPermanent, services.Classify(err))
	entries, readErr := os.ReadDir(filepath.Dir(req.OutputPath))
	require.NoError(t, readErr)
	assert.Empty(t, entries, "partial output must be removed")

	req = request(t, reg, "import-items", "", nil)
	_, err = processors.ImportItems{}.Run(context.Background(), req)
	assert.Equal(t, services.KindConfiguration, services.Classify(err))
}

func TestCountTokens(t *testing.T) {
	reg := newRegistry(t)
	input := writeFile(t, "items.ndjson", `{"id":"1","body":"The cat and the Dog"}
{"id":"2","body":"the cat, again!"}
`)
	req := request(t, reg, "count-tokens", input, map[string]any{"stopwords": "and"})

	var progress []float64
	req.Progress = func(p float64, _ string) { progress = append(progress, p) }
	res, err := processors.CountTokens{}.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Rows)
	assert.Equal(t, []string{"token,count", "the,3", "cat,2", "again,1", "dog,1"}, readLines(t, req.OutputPath))
	require.NotEmpty(t, progress)
	assert.Equal(t, float64(100), progress[len(progress)-1])
}

func TestCountTokensOptions(t *testing.T) {
	reg := newRegistry(t)
	input := writeFile(t, "items.ndjson", `{"id":"1","body":"Go go GO went gone"}`+"\n")
	req := request(t, reg, "count-tokens", input, map[string]any{
		"lowercase":  false,
		"min-count":  1,
		"max-tokens": 2,
	})

	_, err := processors.CountTokens{}.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"token,count", "GO,1", "Go,1"}, readLines(t, req.OutputPath))
}

func TestCountTokensHonoursCancellation(t *testing.T) {
	reg := newRegistry(t)
	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		sb.WriteString(`{"id":"x","body":"word"}` + "\n")
	}
	input := writeFile(t, "items.ndjson", sb.String())
	req := request(t, reg, "count-tokens", input, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := processors.CountTokens{}.Run(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBundleCSV(t *testing.T) {
	reg := newRegistry(t)
	input := writeFile(t, "items.ndjson", `{"id":"1","body":"héllo, world"}`+"\n")
	req := request(t, reg, "bundle-csv", input, map[string]any{"columns": []any{"id", "length", "body"}})

	res, err := processors.BundleCSV{}.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows)
	assert.Equal(t, []string{"id,length,body", `1,12,"héllo, world"`}, readLines(t, req.OutputPath))

	req = request(t, reg, "bundle-csv", input, map[string]any{"columns": "id,score"})
	_, err = processors.BundleCSV{}.Run(context.Background(), req)
	assert.Equal(t, services.KindConfiguration, services.Classify(err))
}

func TestSummariseArchive(t *testing.T) {
	reg := newRegistry(t)
	input := writeFile(t, "counts.csv", "token,count\nthe,5\ncat,3\ndog,1\n")
	req := request(t, reg, "summarise-archive", input, map[string]any{"top": 2})

	res, err := processors.SummariseArchive{}.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows)

	archive, err := zip.OpenReader(req.OutputPath)
	require.NoError(t, err)
	defer archive.Close()

	members := map[string]string{}
	for _, f := range archive.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		members[f.Name] = string(data)
	}
	assert.Equal(t, "rank,token,count\n1,the,5\n2,cat,3\n", members["top-tokens.csv"])

	var summary processors.Summary
	require.NoError(t, json.Unmarshal([]byte(members["summary.json"]), &summary))
	assert.Equal(t, processors.Summary{Dataset: "ds-summarise-archive", DistinctTerms: 3, TotalCount: 9, Top: 2}, summary)
}

func TestSummariseArchiveRejectsMalformedCounts(t *testing.T) {
	reg := newRegistry(t)
	input := writeFile(t, "counts.csv", "token,count\nthe,many\n")
	req := request(t, reg, "summarise-archive", input, nil)

	_, err := processors.SummariseArchive{}.Run(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, services.KindPermanent, services.Classify(err))
}
