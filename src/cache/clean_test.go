package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEntry(t *testing.T, dir, name string, size int) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(path, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "wheel"), make([]byte, size), 0644))
}

func TestCleanBelowHighWaterMark(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir, "aaa", 100)
	writeEntry(t, dir, "bbb", 100)

	size := Clean(dir, 1, 1000, 500)
	assert.EqualValues(t, 200, size)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCleanTrimsToLowWaterMark(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir, "aaa", 400)
	writeEntry(t, dir, "bbb", 400)
	writeEntry(t, dir, "ccc", 400)

	size := Clean(dir, 1, 1000, 500)
	assert.Less(t, size, uint64(500))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCleanSkipsWorkDirs(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir, "aaa", 400)
	writeEntry(t, dir, "bbb=some-uuid", 4000)

	size := Clean(dir, 1, 1000, 500)
	// In-flight work directories neither count towards the size nor get removed.
	assert.EqualValues(t, 400, size)
	assert.DirExists(t, filepath.Join(dir, "bbb=some-uuid"))
}

func TestCleanCountsFileBytesOnly(t *testing.T) {
	dir := t.TempDir()
	// Entries with deep empty directory structure inside; only file bytes count
	// towards the water marks, not directory inodes.
	writeEntry(t, dir, "aaa", 100)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "aaa", "lib", "python3.9", "site-packages"), 0755))
	writeEntry(t, dir, "bbb", 100)

	size := Clean(dir, 1, 1000, 500)
	assert.EqualValues(t, 200, size)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCleanNestedEntries(t *testing.T) {
	// Mimics the built wheel cache layout, where one entry lives three levels
	// down at kind/basename/fingerprint and eviction must not take out a whole
	// kind at once.
	dir := t.TempDir()
	writeEntry(t, dir, filepath.Join("sdists", "foo-1.0.tar.gz", "fp1"), 400)
	writeEntry(t, dir, filepath.Join("sdists", "bar-2.0.tar.gz", "fp2"), 400)
	writeEntry(t, dir, filepath.Join("local_projects", "proj", "fp3"), 400)

	size := Clean(dir, 3, 1000, 500)
	assert.Less(t, size, uint64(500))
	assert.DirExists(t, filepath.Join(dir, "sdists"))
	assert.DirExists(t, filepath.Join(dir, "local_projects"))
	remaining := 0
	for _, kind := range []string{"sdists", "local_projects"} {
		basenames, err := os.ReadDir(filepath.Join(dir, kind))
		require.NoError(t, err)
		for _, basename := range basenames {
			fps, err := os.ReadDir(filepath.Join(dir, kind, basename.Name()))
			require.NoError(t, err)
			remaining += len(fps)
		}
	}
	assert.Equal(t, 1, remaining)
}

func TestCleanMissingDir(t *testing.T) {
	assert.EqualValues(t, 0, Clean(filepath.Join(t.TempDir(), "doesnt_exist"), 1, 1000, 500))
}
