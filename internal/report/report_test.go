package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bagsplit/internal/pipeline"
	"github.com/banshee-data/bagsplit/internal/taskgraph"
	"github.com/banshee-data/bagsplit/internal/topics"
)

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func rec(graph, task string, status taskgraph.Status, start, dur time.Duration) taskgraph.Record {
	r := taskgraph.Record{Graph: graph, Task: task, Status: status}
	if status != taskgraph.Skipped {
		r.Started = t0.Add(start)
		r.Finished = t0.Add(start + dur)
	}
	return r
}

func sampleReport() *pipeline.Report {
	boom := errors.New("exited with status 1")
	return &pipeline.Report{
		RunID:     "run-1",
		Bag:       "/bags/drive",
		OutputDir: "/bags/drive_split",
		Started:   t0,
		Finished:  t0.Add(10 * time.Second),
		Selection: topics.Selection{Warnings: []string{"no preview_topics configured; preview disabled"}},
		Pipelines: []pipeline.Result{
			{Name: pipeline.PointcloudName, Err: boom, Records: []taskgraph.Record{
				rec(pipeline.PointcloudName, "export /lidar/points", taskgraph.Failed, 0, 2*time.Second),
				rec(pipeline.PointcloudName, "archive pointclouds", taskgraph.Skipped, 0, 0),
			}},
			{Name: pipeline.ImageName, Records: []taskgraph.Record{
				rec(pipeline.ImageName, "export /camera/front", taskgraph.Succeeded, 0, 2*time.Second),
				rec(pipeline.ImageName, "export /camera/rear", taskgraph.Succeeded, 0, 4*time.Second),
				rec(pipeline.ImageName, "archive images", taskgraph.Succeeded, 4*time.Second, 6*time.Second),
			}},
		},
	}
}

func TestSummarize(t *testing.T) {
	stats := Summarize(sampleReport().Records())
	require.Len(t, stats, 2)

	pcs := stats[0]
	assert.Equal(t, pipeline.PointcloudName, pcs.Pipeline)
	assert.Equal(t, 1, pcs.Failed)
	assert.Equal(t, 1, pcs.Skipped)
	assert.Equal(t, 2*time.Second, pcs.Mean)
	assert.Equal(t, time.Duration(0), pcs.StdDev, "a single sample has no spread")

	images := stats[1]
	assert.Equal(t, 3, images.Succeeded)
	assert.Equal(t, 12*time.Second, images.Total)
	assert.Equal(t, 4*time.Second, images.Mean)
	// Sample standard deviation of {2, 4, 6} is 2.
	assert.InDelta(t, float64(2*time.Second), float64(images.StdDev), float64(time.Millisecond))
	assert.Equal(t, "archive images", images.Longest)
	assert.Equal(t, 6*time.Second, images.Max)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Empty(t, Summarize(nil))
}

func TestRenderHTML(t *testing.T) {
	r := sampleReport()
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, r, Summarize(r.Records())))

	html := buf.String()
	assert.Contains(t, html, "bagsplit run run-1")
	assert.Contains(t, html, "images: archive images")
	assert.NotContains(t, html, "archive pointclouds", "skipped tasks have no duration")
}

func TestRenderSummary(t *testing.T) {
	r := sampleReport()
	var buf bytes.Buffer
	require.NoError(t, RenderSummary(&buf, r, Summarize(r.Records())))

	out := buf.String()
	assert.Contains(t, out, "status:   failed")
	assert.Contains(t, out, "pointclouds")
	assert.Contains(t, out, "no preview_topics configured")
	assert.Contains(t, out, "exited with status 1")
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "report")
	stats, err := Write(dir, sampleReport())
	require.NoError(t, err)
	assert.Len(t, stats, 2)

	for _, name := range []string{HTMLFile, PNGFile, SummaryFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}
}

func TestWrite_NothingRan(t *testing.T) {
	dir := t.TempDir()
	r := &pipeline.Report{RunID: "empty", Started: t0, Finished: t0}
	_, err := Write(dir, r)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, PNGFile))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, HTMLFile))
	assert.NoError(t, err)
}
