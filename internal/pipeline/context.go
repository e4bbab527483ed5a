// Package pipeline builds and runs the image, point-cloud and misc pipelines
// and the bag archival task, and coordinates them for one run.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/banshee-data/bagsplit/internal/config"
	"github.com/banshee-data/bagsplit/internal/monitoring"
	"github.com/banshee-data/bagsplit/internal/runner"
	"github.com/banshee-data/bagsplit/internal/taskgraph"
	"github.com/banshee-data/bagsplit/internal/timeutil"
	"github.com/banshee-data/bagsplit/internal/tools"
	"github.com/banshee-data/bagsplit/internal/topics"
)

// Layout names every path a run may produce under the output root. Nothing is
// created here; each stage creates what it writes.
type Layout struct {
	Root string
}

func (l Layout) Images() string { return filepath.Join(l.Root, "images") }
func (l Layout) ImageDir(topic string) string { return filepath.Join(l.Images(), topics.DirName(topic)) }
func (l Layout) Synced() string { return filepath.Join(l.Root, "synced_topics") }
func (l Layout) SyncedDir(topic string) string { return filepath.Join(l.Synced(), topics.DirName(topic)) }
func (l Layout) SyncedBag() string { return filepath.Join(l.Synced(), topics.SyncContainer) }
func (l Layout) Blurred() string { return filepath.Join(l.Root, "blurred_images") }
func (l Layout) BlurredDir(topic string) string { return filepath.Join(l.Blurred(), topics.DirName(topic)) }
func (l Layout) Previews() string { return filepath.Join(l.Root, "previews") }
func (l Layout) Pointclouds() string { return filepath.Join(l.Root, "pointclouds") }
func (l Layout) PointcloudDir(topic string) string { return filepath.Join(l.Pointclouds(), topics.DirName(topic)) }
func (l Layout) Misc() string { return filepath.Join(l.Root, "misc_topics") }
func (l Layout) MiscBag() string { return filepath.Join(l.Misc(), "misc_bag") }
func (l Layout) CSVDir() string { return filepath.Join(l.Misc(), "csv") }
func (l Layout) KML(table string) string { return filepath.Join(l.Misc(), table+".kml") }
func (l Layout) PicturesZip() string { return filepath.Join(l.Root, "pictures.zip") }
func (l Layout) PointcloudZip() string { return filepath.Join(l.Root, "pointcloud.zip") }
func (l Layout) PreviewVideo() string { return filepath.Join(l.Root, "preview.mp4") }
func (l Layout) BagZip() string { return filepath.Join(l.Root, "bag.zip") }
func (l Layout) ReportDir() string { return filepath.Join(l.Root, "report") }

// Context is everything a pipeline needs. The orchestrator builds it once
// per run and pipelines only read it.
type Context struct {
	Layout    Layout
	Selection topics.Selection
	Config    *config.Run
	// Bag is the bag directory.
	Bag   string
	Exec  runner.Executor
	Clock timeutil.Clock
}

// Result is the outcome of one pipeline.
type Result struct {
	Name string
	// Skipped is set when the pipeline had nothing to do.
	Skipped  bool
	Records  []taskgraph.Record
	Warnings []string
	Err      error
}

// Pipeline names, also used as graph names in task records.
const (
	ArchivalName   = "archival"
	PointcloudName = "pointclouds"
	MiscName       = "misc"
	ImageName      = "images"
)

func (pc *Context) graph(ctx context.Context, name string) *taskgraph.Graph {
	clock := pc.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return taskgraph.New(ctx, name, taskgraph.WithClock(clock))
}

// exec builds a command for tool from the run's toolchain and runs it.
func (pc *Context) exec(ctx context.Context, tool, name string, inputs []string, output string, params tools.Params) error {
	if params == nil {
		params = tools.Params{}
	}
	cmd, err := pc.Config.Tools.Command(tool, name, inputs, output, params)
	if err != nil {
		return err
	}
	monitoring.Debugf("%s: %s", name, cmd)
	return pc.Exec.Run(ctx, cmd).Err()
}

// dryRun reports whether in-process file work should be skipped because the
// external tools did not really run.
func (pc *Context) dryRun(what string) bool {
	if !pc.Config.DryRun {
		return false
	}
	monitoring.Logf("[DRY-RUN] %s", what)
	return true
}

func mkdir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

// warnings collects non-fatal messages from concurrent tasks.
type warnings struct {
	mu   sync.Mutex
	list []string
}

func (w *warnings) add(pipeline, format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	monitoring.Logf("%s: warning: %s", pipeline, msg)
	w.mu.Lock()
	w.list = append(w.list, msg)
	w.mu.Unlock()
}

func (w *warnings) all() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.list...)
}

// finish turns a waited graph into a Result and logs the closing milestone.
func finish(name string, g *taskgraph.Graph, err error, w *warnings) Result {
	res := Result{Name: name, Records: g.Records(), Err: err}
	if w != nil {
		res.Warnings = w.all()
	}
	if err != nil {
		monitoring.Logf("%s: failed: %v", name, err)
		return res
	}
	monitoring.Logf("%s: finished", name)
	return res
}
