package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/banshee-data/bagsplit/internal/fsutil"
	"github.com/banshee-data/bagsplit/internal/monitoring"
	"github.com/banshee-data/bagsplit/internal/tools"
	"github.com/banshee-data/bagsplit/internal/topics"
)

// RunMisc extracts every misc stream into one container, converts it to CSV
// tables and converts each table carrying coordinates to KML. The stages run
// strictly in sequence.
func RunMisc(ctx context.Context, pc *Context) Result {
	streams := pc.Selection.Misc
	if len(streams) == 0 {
		return Result{Name: MiscName, Skipped: true}
	}
	monitoring.Logf("%s: extracting %d streams", MiscName, len(streams))

	var (
		mu        sync.Mutex
		converted []string
	)

	g := pc.graph(ctx, MiscName)
	extract := g.Go("extract", func(ctx context.Context) error {
		if err := mkdir(pc.Layout.Misc()); err != nil {
			return err
		}
		return pc.exec(ctx, tools.Extract, "extract", []string{pc.Bag}, pc.Layout.MiscBag(),
			tools.Params{}.SetList("topics", topics.Names(streams)))
	})

	tabular := g.Go("tabular", func(ctx context.Context) error {
		if err := mkdir(pc.Layout.CSVDir()); err != nil {
			return err
		}
		return pc.exec(ctx, tools.Tabular, "tabular", []string{pc.Layout.MiscBag()}, pc.Layout.CSVDir(), nil)
	}, extract)

	geographic := g.Go("geographic", func(ctx context.Context) error {
		if pc.dryRun("scan " + pc.Layout.CSVDir() + " for coordinate tables") {
			return nil
		}
		tables, err := fsutil.ListFiles(pc.Layout.CSVDir())
		if err != nil {
			return fmt.Errorf("failed to list tables: %w", err)
		}
		for _, name := range tables {
			if filepath.Ext(name) != ".csv" {
				continue
			}
			path := filepath.Join(pc.Layout.CSVDir(), name)
			geo, err := HasCoordinates(path)
			if err != nil {
				return err
			}
			if !geo {
				continue
			}
			table := fsutil.Stem(name)
			if err := pc.exec(ctx, tools.Geographic, "geographic "+table, []string{path}, pc.Layout.KML(table), nil); err != nil {
				return err
			}
			mu.Lock()
			converted = append(converted, path)
			mu.Unlock()
		}
		return nil
	}, tabular)

	if !pc.Config.KeepIntermediary {
		g.Go("cleanup misc", func(ctx context.Context) error {
			if pc.dryRun("remove " + pc.Layout.MiscBag()) {
				return nil
			}
			mu.Lock()
			paths := append([]string{pc.Layout.MiscBag()}, converted...)
			mu.Unlock()
			if err := fsutil.RemoveAll(paths...); err != nil {
				return err
			}
			return fsutil.RemoveEmptyDirs(pc.Layout.CSVDir())
		}, geographic)
	}

	return finish(MiscName, g, g.Wait(), nil)
}

// HasCoordinates reports whether the CSV header at path names both a
// latitude and a longitude column. Column names may carry a field prefix,
// as in "fix.latitude".
func HasCoordinates(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read header of %s: %w", filepath.Base(path), err)
	}

	var lat, lon bool
	for _, col := range header {
		switch leaf(col) {
		case "latitude", "lat":
			lat = true
		case "longitude", "lon", "lng":
			lon = true
		}
	}
	return lat && lon, nil
}

func leaf(column string) string {
	column = strings.ToLower(strings.TrimSpace(column))
	if i := strings.LastIndexAny(column, "./"); i >= 0 {
		column = column[i+1:]
	}
	return column
}
