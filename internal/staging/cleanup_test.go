package staging

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fourcat/internal/logging"
)

// makeArea creates an area directory below dir, aged by age.
func makeArea(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(path, 0o755))
	if age > 0 {
		stamp := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, stamp, stamp))
	}
	return path
}

func TestCleanStaleSkipsMissingDirectories(t *testing.T) {
	for _, dir := range []string{"", "  ", filepath.Join(t.TempDir(), "never-created")} {
		result := CleanStale(context.Background(), dir, time.Hour, nil)
		assert.Empty(t, result.Removed, "dir %q", dir)
		assert.Empty(t, result.Errors, "dir %q", dir)
	}
}

func TestCleanStaleByAge(t *testing.T) {
	cases := []struct {
		name    string
		maxAge  time.Duration
		removed []string
	}{
		{name: "hour cutoff", maxAge: time.Hour, removed: []string{"count-tokens-crashed"}},
		{name: "zero removes all", maxAge: 0, removed: []string{"count-tokens-crashed", "import-items-live"}},
		{name: "week cutoff", maxAge: 7 * 24 * time.Hour, removed: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			makeArea(t, dir, "count-tokens-crashed", 3*time.Hour)
			makeArea(t, dir, "import-items-live", 0)

			result := CleanStale(context.Background(), dir, tc.maxAge, logging.NewNop())
			require.Empty(t, result.Errors)

			var names []string
			for _, path := range result.Removed {
				assert.NoDirExists(t, path)
				names = append(names, filepath.Base(path))
			}
			sort.Strings(names)
			assert.Equal(t, tc.removed, names)
		})
	}
}

func TestCleanStaleLeavesPlainFiles(t *testing.T) {
	dir := t.TempDir()
	stray := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(stray, []byte("keep"), 0o644))
	stamp := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stray, stamp, stamp))

	result := CleanStale(context.Background(), dir, time.Hour, logging.NewNop())
	assert.Empty(t, result.Removed)
	assert.FileExists(t, stray)
}

func TestCleanStaleHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	area := makeArea(t, dir, "bundle-csv-old", 2*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := CleanStale(ctx, dir, 0, logging.NewNop())
	assert.Empty(t, result.Removed)
	assert.DirExists(t, area)
}

func TestSurveyReportsAreasOldestFirst(t *testing.T) {
	dir := t.TempDir()
	counted := makeArea(t, dir, "count-tokens-"+uuid.NewString(), 0)
	require.NoError(t, os.WriteFile(filepath.Join(counted, "tokens.bin"), []byte("12345"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(counted, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(counted, "nested", "more.bin"), []byte("678"), 0o644))
	hourAgo := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(counted, hourAgo, hourAgo))
	makeArea(t, dir, "import-items-2", 0)
	makeArea(t, dir, uuid.NewString(), 2*time.Hour)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644))

	areas, err := Survey(dir)
	require.NoError(t, err)
	require.Len(t, areas, 3)

	assert.Empty(t, areas[0].Label, "bare area names carry no label")
	assert.GreaterOrEqual(t, areas[0].Age, 2*time.Hour)

	assert.Equal(t, "count-tokens", areas[1].Label)
	assert.Equal(t, counted, areas[1].Path)
	assert.Equal(t, 2, areas[1].Files)
	assert.EqualValues(t, 8, areas[1].Size)
	assert.GreaterOrEqual(t, areas[1].Age, time.Hour)

	assert.Equal(t, "import-items-2", areas[2].Label, "names without a random suffix are all label")
	assert.Zero(t, areas[2].Files)
	assert.Zero(t, areas[2].Size)
}

func TestAreaLabelMatchesNewArea(t *testing.T) {
	area, err := NewArea(t.TempDir(), "Summarise Archive")
	require.NoError(t, err)
	t.Cleanup(func() { _ = area.Close() })

	assert.Equal(t, "summarise-archive", areaLabel(filepath.Base(area.Path())))
}

func TestSurveyMissingDirectory(t *testing.T) {
	for _, dir := range []string{"", filepath.Join(t.TempDir(), "absent")} {
		areas, err := Survey(dir)
		require.NoError(t, err)
		assert.Nil(t, areas)
	}
}
