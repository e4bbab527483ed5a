package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/bagsplit/internal/bag"
	"github.com/banshee-data/bagsplit/internal/config"
	"github.com/banshee-data/bagsplit/internal/fsutil"
	"github.com/banshee-data/bagsplit/internal/monitoring"
	"github.com/banshee-data/bagsplit/internal/runner"
	"github.com/banshee-data/bagsplit/internal/taskgraph"
	"github.com/banshee-data/bagsplit/internal/timeutil"
	"github.com/banshee-data/bagsplit/internal/topics"
)

// Report summarizes a run.
type Report struct {
	RunID     string
	Bag       string
	OutputDir string
	Started   time.Time
	Finished  time.Time
	Selection topics.Selection
	// Pipelines holds archival, point-cloud, misc and image results in that
	// order.
	Pipelines []Result
}

// Err joins the failures of every pipeline, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, p := range r.Pipelines {
		if p.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, p.Err))
		}
	}
	return errors.Join(errs...)
}

// Status is "succeeded" or "failed".
func (r *Report) Status() string {
	if r.Err() != nil {
		return "failed"
	}
	return "succeeded"
}

// Records flattens the task records of every pipeline.
func (r *Report) Records() []taskgraph.Record {
	var out []taskgraph.Record
	for _, p := range r.Pipelines {
		out = append(out, p.Records...)
	}
	return out
}

// Warnings collects classifier and pipeline warnings.
func (r *Report) Warnings() []string {
	out := append([]string(nil), r.Selection.Warnings...)
	for _, p := range r.Pipelines {
		out = append(out, p.Warnings...)
	}
	return out
}

// Orchestrator runs one bag through every pipeline.
type Orchestrator struct {
	Config *config.Run
	Exec   runner.Executor
	Reader bag.Reader
	Clock  timeutil.Clock
	// NewID generates the run ID.
	NewID func() string
}

// New creates an orchestrator reading bag metadata from disk.
func New(cfg *config.Run, exec runner.Executor) *Orchestrator {
	return &Orchestrator{
		Config: cfg,
		Exec:   exec,
		Reader: bag.YAMLReader{},
		Clock:  timeutil.RealClock{},
		NewID:  uuid.NewString,
	}
}

// ErrOutputInsideBag rejects an output root that the bag archive would
// include in itself.
var ErrOutputInsideBag = errors.New("output directory is inside the bag")

// Prepare checks that the output root is outside the bag and missing or
// empty, then creates it. It must succeed before Run; nothing is written
// when it fails.
func (o *Orchestrator) Prepare() error {
	dir, err := bag.Dir(o.Config.Bag)
	if err != nil {
		return err
	}
	inside, err := fsutil.Within(o.Config.OutputDir, dir)
	if err != nil {
		return err
	}
	if inside {
		return fmt.Errorf("%s: %w", o.Config.OutputDir, ErrOutputInsideBag)
	}
	return fsutil.PrepareOutputDir(o.Config.OutputDir)
}

// Run starts archiving the bag, then reads its metadata, classifies its
// streams and runs the three pipelines. The image pipeline runs on the
// calling goroutine; the others run alongside it. The returned error covers
// failures before any pipeline started, in which case archival is cancelled;
// pipeline failures are in Report.Err.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	cfg := o.Config
	report := &Report{RunID: o.NewID(), Bag: cfg.Bag, OutputDir: cfg.OutputDir, Started: o.Clock.Now()}
	monitoring.Logf("run %s: splitting %s into %s", report.RunID, cfg.Bag, cfg.OutputDir)

	dir, err := bag.Dir(cfg.Bag)
	if err != nil {
		return nil, err
	}

	archCtx, cancelArchival := context.WithCancel(ctx)
	defer cancelArchival()
	archived := make(chan Result, 1)
	go func() {
		archived <- RunArchival(archCtx, &Context{
			Layout: Layout{Root: cfg.OutputDir},
			Config: cfg,
			Bag:    dir,
			Exec:   o.Exec,
			Clock:  o.Clock,
		})
	}()

	md, err := o.Reader.ReadMetadata(cfg.Bag)
	if err != nil {
		cancelArchival()
		<-archived
		return nil, fmt.Errorf("failed to read bag metadata: %w", err)
	}
	report.Bag = md.Path

	sel := topics.Classify(md.Streams(), topics.Filter{
		Blacklist:     cfg.TopicBlacklist,
		Sync:          cfg.Sync,
		SyncTopics:    cfg.SyncTopics,
		PreviewTopics: cfg.PreviewTopics,
	})
	report.Selection = sel
	monitoring.Logf("classified %d streams: %d image, %d pointcloud, %d misc, %d ignored",
		len(md.Topics), len(sel.Images), len(sel.Pointclouds), len(sel.Misc), len(sel.Ignored))
	for _, s := range sel.Ignored {
		monitoring.Debugf("ignoring %s (%s)", s.Name, s.Type)
	}
	for _, warning := range sel.Warnings {
		monitoring.Logf("warning: %s", warning)
	}

	pc := &Context{
		Layout:    Layout{Root: cfg.OutputDir},
		Selection: sel,
		Config:    cfg,
		Bag:       md.Path,
		Exec:      o.Exec,
		Clock:     o.Clock,
	}

	side := []func(context.Context, *Context) Result{RunPointclouds, RunMisc}
	results := make([]Result, len(side)+2)

	var wg sync.WaitGroup
	for i, run := range side {
		i, run := i, run
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i+1] = run(ctx, pc)
		}()
	}
	results[len(side)+1] = RunImages(ctx, pc)
	wg.Wait()
	results[0] = <-archived

	report.Pipelines = results
	report.Finished = o.Clock.Now()
	if err := report.Err(); err != nil {
		monitoring.Logf("run %s: finished with failures in %s", report.RunID, report.Finished.Sub(report.Started))
	} else {
		monitoring.Logf("run %s: finished in %s", report.RunID, report.Finished.Sub(report.Started))
	}
	return report, nil
}
