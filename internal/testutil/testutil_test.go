package testutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bagsplit/internal/bag"
	"github.com/banshee-data/bagsplit/internal/runner"
	"github.com/banshee-data/bagsplit/internal/tools"
)

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestAssertError(t *testing.T) {
	t.Parallel()
	AssertError(t, errors.New("test error"))
}

func TestWriteBag(t *testing.T) {
	path := WriteBag(t, t.TempDir(), "drive",
		BagTopic{Name: "/camera/front/image_raw", Type: "sensor_msgs/msg/Image"},
		BagTopic{Name: "/gps/fix", Type: "sensor_msgs/msg/NavSatFix"},
	)

	md, err := bag.YAMLReader{}.ReadMetadata(path)
	require.NoError(t, err)
	require.Len(t, md.Topics, 2)
	assert.Equal(t, "/gps/fix", md.Topics[1].Name)
}

func TestFakeExecutor_ExportWritesFrames(t *testing.T) {
	f := NewFakeExecutor()
	out := filepath.Join(t.TempDir(), "images", "cam")

	res := f.Run(context.Background(), runner.Command{Name: "export /cam", Tool: tools.ExportImage, Inputs: []string{"bag"}, Output: out})
	require.True(t, res.Success())

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, 0, f.EventIndex("start", "export /cam"))
	assert.Equal(t, 1, f.EventIndex("end", "export /cam"))
}

func TestFakeExecutor_Fail(t *testing.T) {
	f := NewFakeExecutor()
	f.Fail["encode"] = true

	res := f.Run(context.Background(), runner.Command{Name: "encode", Tool: tools.Encode, Output: filepath.Join(t.TempDir(), "x.mp4")})
	assert.False(t, res.Success())
	assert.Equal(t, 1, res.ExitCode)

	var exitErr *runner.ExitError
	assert.True(t, errors.As(res.Err(), &exitErr))
}

func TestFakeExecutor_DelayHonoursCancel(t *testing.T) {
	f := NewFakeExecutor()
	f.Delay[tools.Sync] = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.Run(ctx, runner.Command{Name: "sync", Tool: tools.Sync, Output: t.TempDir()})
	assert.ErrorIs(t, res.Err(), context.Canceled)
}
