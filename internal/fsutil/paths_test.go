package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithin(t *testing.T) {
	root := t.TempDir()
	bag := filepath.Join(root, "drive")
	require.NoError(t, os.MkdirAll(bag, 0755))

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"same directory", bag, true},
		{"nested missing path", filepath.Join(bag, "out", "deeper"), true},
		{"sibling", filepath.Join(root, "drive_split"), false},
		{"parent", root, false},
		{"dot-dot escape", filepath.Join(bag, "..", "drive_split"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Within(tt.path, bag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWithin_Symlink(t *testing.T) {
	root := t.TempDir()
	bag := filepath.Join(root, "drive")
	require.NoError(t, os.MkdirAll(bag, 0755))
	link := filepath.Join(root, "link")
	if err := os.Symlink(bag, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	got, err := Within(filepath.Join(link, "out"), bag)
	require.NoError(t, err)
	assert.True(t, got, "a path through a symlink into the bag is still inside it")
}
