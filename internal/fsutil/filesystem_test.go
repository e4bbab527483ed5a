package fsutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
}

func TestPrepareOutputDir(t *testing.T) {
	t.Run("missing is created", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out", "nested")
		require.NoError(t, PrepareOutputDir(dir))
		assert.True(t, Exists(dir))
	})

	t.Run("empty is accepted", func(t *testing.T) {
		require.NoError(t, PrepareOutputDir(t.TempDir()))
	})

	t.Run("non-empty is rejected untouched", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string]string{"keep.txt": "x"})

		err := PrepareOutputDir(dir)
		assert.True(t, errors.Is(err, ErrNotEmpty), "got %v", err)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("file is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, nil, 0644))
		assert.ErrorIs(t, PrepareOutputDir(path), ErrNotEmpty)
	})
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"0002.png": "", "0001.png": "", "0010.png": ""})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	names, err := ListFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001.png", "0002.png", "0010.png"}, names)

	_, err = ListFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestStem(t *testing.T) {
	assert.Equal(t, "000123", Stem("000123.png"))
	assert.Equal(t, "frame.tar", Stem("frame.tar.gz"))
	assert.Equal(t, "noext", Stem("noext"))
}

func TestReplaceByStem(t *testing.T) {
	root := t.TempDir()
	synced := filepath.Join(root, "synced")
	blurred := filepath.Join(root, "blurred")
	writeFiles(t, synced, map[string]string{"100.png": "raw", "100.jpg": "stale", "200.png": "raw"})
	writeFiles(t, blurred, map[string]string{"100.jpg": "blur100", "200.jpg": "blur200", "300.jpg": "unsynced"})

	n, err := ReplaceByStem(synced, blurred)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	names, err := ListFiles(synced)
	require.NoError(t, err)
	assert.Equal(t, []string{"100.jpg", "200.jpg"}, names)

	data, err := os.ReadFile(filepath.Join(synced, "100.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "blur100", string(data))
}

func TestReplaceByStem_MissingCounterpart(t *testing.T) {
	root := t.TempDir()
	synced := filepath.Join(root, "synced")
	blurred := filepath.Join(root, "blurred")
	writeFiles(t, synced, map[string]string{"100.png": "raw", "999.png": "raw"})
	writeFiles(t, blurred, map[string]string{"100.png": "blur"})

	_, err := ReplaceByStem(synced, blurred)
	assert.ErrorContains(t, err, "999")
}

func TestRemoveAll(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	writeFiles(t, a, map[string]string{"x": ""})
	writeFiles(t, b, map[string]string{"y": ""})

	require.NoError(t, RemoveAll(a, b, filepath.Join(root, "missing")))
	assert.False(t, Exists(a))
	assert.False(t, Exists(b))
}

func TestRemoveEmptyDirs(t *testing.T) {
	root := t.TempDir()
	empty := filepath.Join(root, "empty")
	nested := filepath.Join(root, "nested")
	full := filepath.Join(root, "full")
	require.NoError(t, os.MkdirAll(empty, 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(nested, "child"), 0755))
	writeFiles(t, full, map[string]string{"frame.png": "x"})

	require.NoError(t, RemoveEmptyDirs(empty, nested, full, filepath.Join(root, "missing")))
	assert.False(t, Exists(empty))
	assert.True(t, Exists(nested), "a directory holding only subdirectories is not empty")
	assert.True(t, Exists(filepath.Join(full, "frame.png")))
}

func zipEntries(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestZipPath_Directory(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "images")
	writeFiles(t, filepath.Join(src, "cam"), map[string]string{"1.png": "one", "2.png": "two"})
	dst := filepath.Join(root, "pictures.zip")

	require.NoError(t, ZipPath(context.Background(), src, dst))
	assert.Equal(t, []string{"images/", "images/cam/", "images/cam/1.png", "images/cam/2.png"}, zipEntries(t, dst))
}

func TestZipPath_File(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "drive.mcap")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))
	dst := filepath.Join(root, "bag.zip")

	require.NoError(t, ZipPath(context.Background(), src, dst))
	assert.Equal(t, []string{"drive.mcap"}, zipEntries(t, dst))
}

func TestZipPath_Errors(t *testing.T) {
	root := t.TempDir()

	err := ZipPath(context.Background(), filepath.Join(root, "missing"), filepath.Join(root, "x.zip"))
	assert.Error(t, err)

	src := filepath.Join(root, "images")
	writeFiles(t, src, map[string]string{"1.png": "one"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dst := filepath.Join(root, "cancelled.zip")
	assert.ErrorIs(t, ZipPath(ctx, src, dst), context.Canceled)
	assert.False(t, Exists(dst), "partial archive must be removed")
}
