package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bagsplit/internal/fsutil"
	"github.com/banshee-data/bagsplit/internal/monitoring"
	"github.com/banshee-data/bagsplit/internal/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		monitoring.SetLogger(nil)
		monitoring.SetDebugLogger(nil)
	})

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func testBag(t *testing.T) (bag, dir string) {
	dir = t.TempDir()
	bag = testutil.WriteBag(t, dir, "drive",
		testutil.BagTopic{Name: "/camera/front/image_raw", Type: "sensor_msgs/msg/Image"},
		testutil.BagTopic{Name: "/lidar/points", Type: "sensor_msgs/msg/PointCloud2"},
	)
	return bag, dir
}

func TestRoot_DryRun(t *testing.T) {
	bag, dir := testBag(t)
	out := filepath.Join(dir, "out")

	logs, err := execute(t, bag, "--dry_run", "--zip", "-o", out)
	require.NoError(t, err)

	assert.Contains(t, logs, "[DRY-RUN]")
	assert.Contains(t, logs, "finished")
	assert.True(t, fsutil.Exists(out))
	assert.False(t, fsutil.Exists(filepath.Join(out, "bag.zip")))
}

func TestRoot_NonEmptyOutputFails(t *testing.T) {
	bag, dir := testBag(t)
	out := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(out, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "old.txt"), nil, 0644))

	_, err := execute(t, bag, "--dry_run", "-o", out)
	assert.ErrorIs(t, err, fsutil.ErrNotEmpty)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRoot_ConfigFileAndFlags(t *testing.T) {
	bag, dir := testBag(t)
	cfgPath := filepath.Join(dir, "bagsplit.yaml")
	out := filepath.Join(dir, "from_cli")
	require.NoError(t, os.WriteFile(cfgPath, []byte("output_dir: "+filepath.Join(dir, "from_file")+"\ndry_run: true\n"), 0644))

	_, err := execute(t, bag, "--config", cfgPath, "-o", out)
	require.NoError(t, err)
	assert.True(t, fsutil.Exists(out))
	assert.False(t, fsutil.Exists(filepath.Join(dir, "from_file")))
}

func TestRoot_BadConfig(t *testing.T) {
	bag, dir := testBag(t)
	cfgPath := filepath.Join(dir, "bagsplit.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"unknown_key": 1}`), 0644))
	out := filepath.Join(dir, "out")

	_, err := execute(t, bag, "--config", cfgPath, "-o", out)
	require.Error(t, err)
	assert.False(t, fsutil.Exists(out), "nothing is created on a config error")
}

func TestRoot_ArgsAndVersion(t *testing.T) {
	_, err := execute(t)
	assert.Error(t, err)

	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "dev")
}

func TestHistory(t *testing.T) {
	bag, dir := testBag(t)
	db := filepath.Join(dir, "runs.db")

	_, err := execute(t, bag, "--dry_run", "-o", filepath.Join(dir, "out"), "--ledger", db, "--report")
	require.NoError(t, err)
	assert.True(t, fsutil.Exists(filepath.Join(dir, "out", "report", "report.html")))

	out, err := execute(t, "history", "--ledger", db)
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, bag)

	_, err = execute(t, "history", "--ledger", db, "--run", "missing")
	assert.Error(t, err)
}
