package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bagsplit/internal/pipeline"
	"github.com/banshee-data/bagsplit/internal/taskgraph"
	"github.com/banshee-data/bagsplit/internal/topics"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func sampleReport(id string, started time.Time, fail bool) *pipeline.Report {
	export := taskgraph.Record{
		Graph: pipeline.ImageName, Task: "export /camera/front/image_raw", Status: taskgraph.Succeeded,
		Started: started, Finished: started.Add(1500 * time.Millisecond),
	}
	archive := taskgraph.Record{
		Graph: pipeline.ImageName, Task: "archive images", Status: taskgraph.Succeeded,
		Started: started.Add(2 * time.Second), Finished: started.Add(3 * time.Second),
	}
	images := pipeline.Result{Name: pipeline.ImageName, Records: []taskgraph.Record{export, archive}}

	pcs := pipeline.Result{Name: pipeline.PointcloudName, Skipped: true}
	if fail {
		boom := errors.New("export /lidar/points: exited with status 1")
		pcs = pipeline.Result{Name: pipeline.PointcloudName, Err: boom, Records: []taskgraph.Record{
			{Graph: pipeline.PointcloudName, Task: "export /lidar/points", Status: taskgraph.Failed, Err: boom, Started: started, Finished: started.Add(time.Second)},
			{Graph: pipeline.PointcloudName, Task: "archive pointclouds", Status: taskgraph.Skipped, Err: &taskgraph.UpstreamError{Task: "archive pointclouds", Upstream: "export /lidar/points"}},
		}}
	}

	return &pipeline.Report{
		RunID:     id,
		Bag:       "/bags/drive",
		OutputDir: "/bags/drive_split",
		Started:   started,
		Finished:  started.Add(4 * time.Second),
		Selection: topics.Selection{
			Images:   []topics.Stream{{Name: "/camera/front/image_raw", Type: "sensor_msgs/msg/Image"}},
			Ignored:  []topics.Stream{{Name: "/vendor/blob", Type: "vendor_msgs/msg/Blob"}},
			Warnings: []string{"no preview_topics configured; preview disabled"},
		},
		Pipelines: []pipeline.Result{{Name: pipeline.ArchivalName, Skipped: true}, pcs, {Name: pipeline.MiscName, Skipped: true}, images},
	}
}

func TestOpen_AppliesMigrations(t *testing.T) {
	l := openTestLedger(t)
	version, err := l.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(context.Background(), sampleReport("a", time.Now(), false)))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
	runs, err := l.Runs(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRecord_RoundTrip(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(ctx, sampleReport("run-1", start, false)))
	require.NoError(t, l.Record(ctx, sampleReport("run-2", start.Add(time.Hour), true)))

	runs, err := l.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	latest := runs[0]
	assert.Equal(t, "run-2", latest.ID)
	assert.Equal(t, "failed", latest.Status)
	assert.Contains(t, latest.Error, "pointclouds")
	assert.Equal(t, 1, latest.Images)
	assert.Equal(t, 1, latest.Ignored)
	assert.True(t, latest.Started.Equal(start.Add(time.Hour)))

	assert.Equal(t, "succeeded", runs[1].Status)
	assert.Empty(t, runs[1].Error)

	tasks, err := l.Tasks(ctx, "run-2")
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	assert.Equal(t, "export /lidar/points", tasks[0].Task)
	assert.Equal(t, "failed", tasks[0].Status)
	assert.Equal(t, "skipped", tasks[1].Status)
	assert.True(t, tasks[1].Started.IsZero())
	assert.Equal(t, pipeline.ImageName, tasks[2].Pipeline)
	assert.Equal(t, 1500*time.Millisecond, tasks[2].Duration)

	warnings, err := l.Warnings(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"no preview_topics configured; preview disabled"}, warnings)
}

func TestRecord_DuplicateRunID(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	report := sampleReport("dup", time.Now(), false)

	require.NoError(t, l.Record(ctx, report))
	assert.Error(t, l.Record(ctx, report))

	tasks, err := l.Tasks(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, tasks, 2, "a failed insert must not leave partial rows")
}

func TestRuns_Limit(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.Record(ctx, sampleReport(id, start.Add(time.Duration(i)*time.Minute), false)))
	}

	runs, err := l.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}
