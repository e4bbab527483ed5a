package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/bagsplit/internal/fsutil"
	"github.com/banshee-data/bagsplit/internal/monitoring"
	"github.com/banshee-data/bagsplit/internal/tools"
)

// frameName is the montage output pattern, shared with the encoder input.
const frameName = "frame_%06d.png"

// composePreview tiles the i-th frame of every directory into one montage
// frame, for as many frames as the shortest directory holds, and encodes the
// montage sequence into preview.mp4.
func composePreview(ctx context.Context, pc *Context, dirs []string, w *warnings) error {
	cfg := pc.Config
	if pc.dryRun(fmt.Sprintf("compose preview from %d streams", len(dirs))) {
		return nil
	}

	frames := make([][]string, len(dirs))
	count := -1
	for i, dir := range dirs {
		names, err := fsutil.ListFiles(dir)
		if err != nil {
			return fmt.Errorf("failed to list preview frames: %w", err)
		}
		frames[i] = names
		if count < 0 || len(names) < count {
			count = len(names)
		}
	}
	if count <= 0 {
		w.add(ImageName, "preview streams share no frames; no preview video")
		return nil
	}

	if err := mkdir(pc.Layout.Previews()); err != nil {
		return err
	}
	monitoring.Logf("%s: composing %d preview frames", ImageName, count)

	geometry := tools.Params{}.
		Set("cols", strconv.Itoa(cfg.PreviewCols)).
		Set("rows", strconv.Itoa(cfg.PreviewRows)).
		Set("width", strconv.Itoa(cfg.PreviewImageWidth)).
		Set("height", strconv.Itoa(cfg.PreviewImageHeight)).
		SetList("extra", cfg.PreviewConfig)

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(cfg.Jobs, 1))
	for i := 0; i < count; i++ {
		inputs := make([]string, len(dirs))
		for k, dir := range dirs {
			inputs[k] = filepath.Join(dir, frames[k][i])
		}
		output := filepath.Join(pc.Layout.Previews(), fmt.Sprintf(frameName, i))
		name := fmt.Sprintf("montage %d", i)
		eg.Go(func() error {
			return pc.exec(egctx, tools.Montage, name, inputs, output, geometry)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	monitoring.Logf("%s: encoding %s", ImageName, pc.Layout.PreviewVideo())
	err := pc.exec(ctx, tools.Encode, "encode", []string{filepath.Join(pc.Layout.Previews(), frameName)}, pc.Layout.PreviewVideo(),
		tools.Params{}.
			SetList("options", cfg.FFmpegOptions).
			SetList("input_options", cfg.FFmpegInputOptions).
			SetList("output_options", cfg.FFmpegOutputOptions))
	if err != nil {
		return err
	}

	if !cfg.KeepIntermediary {
		return fsutil.RemoveAll(pc.Layout.Previews())
	}
	return nil
}
