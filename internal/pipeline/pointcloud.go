package pipeline

import (
	"context"

	"github.com/banshee-data/bagsplit/internal/fsutil"
	"github.com/banshee-data/bagsplit/internal/monitoring"
	"github.com/banshee-data/bagsplit/internal/taskgraph"
	"github.com/banshee-data/bagsplit/internal/tools"
)

// RunPointclouds exports every point-cloud stream in parallel. With zip on,
// the exports are archived into pointcloud.zip and, unless intermediates are
// kept, removed. With zip off the exports are the only copy and always stay.
func RunPointclouds(ctx context.Context, pc *Context) Result {
	streams := pc.Selection.Pointclouds
	if len(streams) == 0 {
		return Result{Name: PointcloudName, Skipped: true}
	}
	monitoring.Logf("%s: exporting %d streams", PointcloudName, len(streams))

	g := pc.graph(ctx, PointcloudName)
	exports := make([]*taskgraph.Task, 0, len(streams))
	for _, s := range streams {
		topic := s.Name
		out := pc.Layout.PointcloudDir(topic)
		exports = append(exports, g.Go("export "+topic, func(ctx context.Context) error {
			if err := mkdir(pc.Layout.Pointclouds()); err != nil {
				return err
			}
			return pc.exec(ctx, tools.ExportPointcloud, "export "+topic, []string{pc.Bag}, out,
				tools.Params{}.Set("topic", topic))
		}))
	}

	if pc.Config.Zip {
		archive := g.Go("archive pointclouds", func(ctx context.Context) error {
			monitoring.Logf("%s: compressing", PointcloudName)
			if pc.dryRun("zip " + pc.Layout.Pointclouds()) {
				return nil
			}
			return fsutil.ZipPath(ctx, pc.Layout.Pointclouds(), pc.Layout.PointcloudZip())
		}, exports...)

		if !pc.Config.KeepIntermediary {
			g.Go("cleanup pointclouds", func(ctx context.Context) error {
				if pc.dryRun("remove " + pc.Layout.Pointclouds()) {
					return nil
				}
				return fsutil.RemoveAll(pc.Layout.Pointclouds())
			}, archive)
		}
	}

	return finish(PointcloudName, g, g.Wait(), nil)
}
