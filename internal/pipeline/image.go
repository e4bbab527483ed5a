package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/semaphore"

	"github.com/banshee-data/bagsplit/internal/fsutil"
	"github.com/banshee-data/bagsplit/internal/monitoring"
	"github.com/banshee-data/bagsplit/internal/taskgraph"
	"github.com/banshee-data/bagsplit/internal/tools"
	"github.com/banshee-data/bagsplit/internal/topics"
)

// RunImages runs the image pipeline:
//
//	export[s] (+ anonymize) ──┬─> archive
//	                          └─> merge[s] <── sync export[s] <── sync
//	terminal[s] ──> preview
//	everything ──> cleanup
//
// Each task waits only on the edges drawn above, so a failure skips its own
// descendants and the graph context cancels whatever else is still running.
func RunImages(ctx context.Context, pc *Context) Result {
	sel := pc.Selection
	if len(sel.Images) == 0 {
		return Result{Name: ImageName, Skipped: true}
	}
	cfg := pc.Config
	monitoring.Logf("%s: exporting %d streams (blur=%t sync=%t zip=%t)", ImageName, len(sel.Images), cfg.Blur, sel.SyncEnabled, cfg.Zip)

	w := &warnings{}
	g := pc.graph(ctx, ImageName)

	// At most one anonymizer runs at a time across all streams.
	anonymizer := semaphore.NewWeighted(1)

	exports := make(map[string]*taskgraph.Task, len(sel.Images))
	exportList := make([]*taskgraph.Task, 0, len(sel.Images))
	for _, s := range sel.Images {
		topic := s.Name
		t := g.Go("export "+topic, func(ctx context.Context) error {
			if err := mkdir(pc.Layout.Images()); err != nil {
				return err
			}
			err := pc.exec(ctx, tools.ExportImage, "export "+topic, []string{pc.Bag}, pc.Layout.ImageDir(topic),
				tools.Params{}.Set("topic", topic))
			if err != nil || !cfg.Blur {
				return err
			}
			return anonymize(ctx, pc, anonymizer, topic)
		})
		exports[topic] = t
		exportList = append(exportList, t)
	}

	if cfg.Zip {
		src := pc.Layout.Images()
		if cfg.Blur {
			src = pc.Layout.Blurred()
		}
		g.Go("archive images", func(ctx context.Context) error {
			monitoring.Logf("%s: compressing %s", ImageName, src)
			if pc.dryRun("zip " + src) {
				return nil
			}
			return fsutil.ZipPath(ctx, src, pc.Layout.PicturesZip())
		}, exportList...)
	}

	// terminal is the last task writing each stream's final frames, and
	// terminalDir is where those frames end up.
	terminal := make(map[string]*taskgraph.Task, len(sel.Images))
	terminalDir := make(map[string]string, len(sel.Images))
	for _, s := range sel.Images {
		terminal[s.Name] = exports[s.Name]
		if cfg.Blur {
			terminalDir[s.Name] = pc.Layout.BlurredDir(s.Name)
		} else {
			terminalDir[s.Name] = pc.Layout.ImageDir(s.Name)
		}
	}

	if sel.SyncEnabled {
		syncTask := g.Go("sync", func(ctx context.Context) error {
			monitoring.Logf("%s: synchronizing %d streams", ImageName, len(sel.Sync))
			if err := mkdir(pc.Layout.Synced()); err != nil {
				return err
			}
			return pc.exec(ctx, tools.Sync, "sync", []string{pc.Bag}, pc.Layout.SyncedBag(),
				tools.Params{}.
					SetList("topics", topics.Names(sel.Sync)).
					Set("slop", strconv.FormatFloat(cfg.SyncSlop, 'g', -1, 64)))
		})

		for _, s := range sel.Sync {
			topic := s.Name
			synced := g.Go("sync export "+topic, func(ctx context.Context) error {
				return pc.exec(ctx, tools.ExportImage, "sync export "+topic, []string{pc.Layout.SyncedBag()}, pc.Layout.SyncedDir(topic),
					tools.Params{}.Set("topic", topic))
			}, syncTask)
			terminal[topic] = synced
			terminalDir[topic] = pc.Layout.SyncedDir(topic)

			if cfg.Blur {
				terminal[topic] = g.Go("merge "+topic, func(ctx context.Context) error {
					if pc.dryRun("merge " + topic) {
						return nil
					}
					n, err := fsutil.ReplaceByStem(pc.Layout.SyncedDir(topic), pc.Layout.BlurredDir(topic))
					if err != nil {
						return err
					}
					monitoring.Debugf("%s: merged %d blurred frames into %s", ImageName, n, topic)
					return nil
				}, exports[topic], synced)
			}
		}
	}

	if len(sel.Preview) > 0 {
		streams := sel.Preview
		if slots := cfg.PreviewCols * cfg.PreviewRows; len(streams) > slots {
			w.add(ImageName, "preview grid %dx%d holds %d streams; dropping %v", cfg.PreviewCols, cfg.PreviewRows, slots, topics.Names(streams[slots:]))
			streams = streams[:slots]
		}
		deps := make([]*taskgraph.Task, 0, len(streams))
		dirs := make([]string, 0, len(streams))
		for _, s := range streams {
			deps = append(deps, terminal[s.Name])
			dirs = append(dirs, terminalDir[s.Name])
		}
		g.Go("preview", func(ctx context.Context) error {
			return composePreview(ctx, pc, dirs, w)
		}, deps...)
	}

	if !cfg.KeepIntermediary {
		g.Go("cleanup images", func(ctx context.Context) error {
			return cleanupImages(pc)
		}, g.Tasks()...)
	}

	return finish(ImageName, g, g.Wait(), w)
}

func anonymize(ctx context.Context, pc *Context, lock *semaphore.Weighted, topic string) error {
	if err := lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer lock.Release(1)

	if err := mkdir(pc.Layout.Blurred()); err != nil {
		return err
	}
	return pc.exec(ctx, tools.Anonymize, "anonymize "+topic, []string{pc.Layout.ImageDir(topic)}, pc.Layout.BlurredDir(topic),
		tools.Params{}.Set("weights", pc.Config.BlurWeights))
}

// cleanupImages removes intermediate image directories. With zip on the
// archive preserves the data, so every directory goes. With zip off each
// stream keeps the directory holding its final frames: the synced directory
// for sync streams, the blurred or plain export for the rest.
func cleanupImages(pc *Context) error {
	cfg := pc.Config
	sel := pc.Selection
	if pc.dryRun("remove intermediate image directories") {
		return nil
	}

	var remove []string
	switch {
	case cfg.Zip:
		remove = []string{pc.Layout.Images(), pc.Layout.Synced(), pc.Layout.Blurred()}
	case sel.SyncEnabled:
		synced := make(map[string]bool, len(sel.Sync))
		for _, s := range sel.Sync {
			synced[s.Name] = true
		}
		for _, s := range sel.Images {
			switch {
			case synced[s.Name]:
				remove = append(remove, pc.Layout.ImageDir(s.Name), pc.Layout.BlurredDir(s.Name))
			case cfg.Blur:
				remove = append(remove, pc.Layout.ImageDir(s.Name))
			}
		}
		remove = append(remove, pc.Layout.SyncedBag())
	case cfg.Blur:
		remove = []string{pc.Layout.Images()}
	}
	if len(remove) == 0 {
		return nil
	}
	monitoring.Logf("%s: removing %d intermediate directories", ImageName, len(remove))
	if err := fsutil.RemoveAll(remove...); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return fsutil.RemoveEmptyDirs(pc.Layout.Images(), pc.Layout.Blurred())
}
