package pipeline

import (
	"context"

	"github.com/banshee-data/bagsplit/internal/fsutil"
	"github.com/banshee-data/bagsplit/internal/monitoring"
)

// RunArchival zips the original bag into bag.zip when zipping is enabled.
func RunArchival(ctx context.Context, pc *Context) Result {
	if !pc.Config.Zip {
		return Result{Name: ArchivalName, Skipped: true}
	}
	monitoring.Logf("%s: compressing %s", ArchivalName, pc.Bag)

	g := pc.graph(ctx, ArchivalName)
	g.Go("archive bag", func(ctx context.Context) error {
		if pc.dryRun("zip " + pc.Bag + " -> " + pc.Layout.BagZip()) {
			return nil
		}
		return fsutil.ZipPath(ctx, pc.Bag, pc.Layout.BagZip())
	})
	return finish(ArchivalName, g, g.Wait(), nil)
}
