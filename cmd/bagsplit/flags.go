package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/banshee-data/bagsplit/internal/config"
)

// boolKeys have a --<key> flag and a --no-<key> negation.
var boolKeys = []struct {
	key       string
	shorthand string
	usage     string
	field     func(*config.Layer) **bool
}{
	{"blur", "b", "anonymize exported images", func(l *config.Layer) **bool { return &l.Blur }},
	{"keep_intermediary", "k", "keep intermediate directories", func(l *config.Layer) **bool { return &l.KeepIntermediary }},
	{"zip", "z", "write zip archives of images, point clouds and the bag", func(l *config.Layer) **bool { return &l.Zip }},
	{"sync", "s", "time-synchronize sync_topics", func(l *config.Layer) **bool { return &l.Sync }},
	{"verbose", "v", "log debug output and forwarded tool output", func(l *config.Layer) **bool { return &l.Verbose }},
	{"dry_run", "n", "log commands instead of running them", func(l *config.Layer) **bool { return &l.DryRun }},
	{"report", "", "write a timing report into <output_dir>/report", func(l *config.Layer) **bool { return &l.Report }},
}

var stringKeys = []struct {
	key       string
	shorthand string
	usage     string
	field     func(*config.Layer) **string
}{
	{"output_dir", "o", "output root (default <bag>_split)", func(l *config.Layer) **string { return &l.OutputDir }},
	{"blur_weights", "", "anonymizer weights directory", func(l *config.Layer) **string { return &l.BlurWeights }},
	{"preview_config", "", "extra montage options", func(l *config.Layer) **string { return &l.PreviewConfig }},
	{"ffmpeg_options", "", "encoder options before the input", func(l *config.Layer) **string { return &l.FFmpegOptions }},
	{"ffmpeg_input_options", "", "encoder options for the input", func(l *config.Layer) **string { return &l.FFmpegInputOptions }},
	{"ffmpeg_output_options", "", "encoder options after the input", func(l *config.Layer) **string { return &l.FFmpegOutputOptions }},
	{"logfile", "l", "append log output to this file", func(l *config.Layer) **string { return &l.Logfile }},
	{"ledger", "", "record the run in this sqlite database", func(l *config.Layer) **string { return &l.Ledger }},
}

var intKeys = []struct {
	key   string
	usage string
	field func(*config.Layer) **int
}{
	{"preview_cols", "preview grid columns", func(l *config.Layer) **int { return &l.PreviewCols }},
	{"preview_rows", "preview grid rows", func(l *config.Layer) **int { return &l.PreviewRows }},
	{"preview_image_width", "preview tile width in pixels", func(l *config.Layer) **int { return &l.PreviewImageWidth }},
	{"preview_image_height", "preview tile height in pixels", func(l *config.Layer) **int { return &l.PreviewImageHeight }},
	{"jobs", "parallel montage jobs (default number of CPUs)", func(l *config.Layer) **int { return &l.Jobs }},
}

var listKeys = []struct {
	key   string
	usage string
	field func(*config.Layer) *[]string
}{
	{"sync_topics", "image topics to synchronize", func(l *config.Layer) *[]string { return &l.SyncTopics }},
	{"topic_blacklist", "topics to ignore", func(l *config.Layer) *[]string { return &l.TopicBlacklist }},
	{"preview_topics", "image topics composed into the preview, in grid order", func(l *config.Layer) *[]string { return &l.PreviewTopics }},
}

// registerFlags defines one flag per config key. Defaults are not shown
// here: an unset flag leaves the key to the config file or the built-in
// default.
func registerFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "config file (.json, .yaml or .yml)")
	for _, k := range boolKeys {
		fs.BoolP(k.key, k.shorthand, false, k.usage)
		fs.Bool("no-"+k.key, false, "disable "+k.key)
	}
	for _, k := range stringKeys {
		fs.StringP(k.key, k.shorthand, "", k.usage)
	}
	fs.Float64("sync_slop", 0, fmt.Sprintf("sync tolerance in seconds (default %g)", config.DefaultSyncSlop))
	for _, k := range intKeys {
		fs.Int(k.key, 0, k.usage)
	}
	for _, k := range listKeys {
		fs.StringSlice(k.key, nil, k.usage+" (comma separated or repeated)")
	}
	fs.StringArray("tool", nil, `override a tool template, e.g. --tool 'encode=avconv -i {input} {output}'`)
}

// layerFromFlags builds the command-line config layer from the flags the
// user actually set.
func layerFromFlags(fs *pflag.FlagSet) (*config.Layer, error) {
	l := &config.Layer{}

	for _, k := range boolKeys {
		set, neg := fs.Changed(k.key), fs.Changed("no-"+k.key)
		if set && neg {
			return nil, fmt.Errorf("--%s and --no-%s are mutually exclusive", k.key, k.key)
		}
		switch {
		case set:
			v, _ := fs.GetBool(k.key)
			*k.field(l) = &v
		case neg:
			v, _ := fs.GetBool("no-" + k.key)
			v = !v
			*k.field(l) = &v
		}
	}
	for _, k := range stringKeys {
		if fs.Changed(k.key) {
			v, _ := fs.GetString(k.key)
			*k.field(l) = &v
		}
	}
	if fs.Changed("sync_slop") {
		v, _ := fs.GetFloat64("sync_slop")
		l.SyncSlop = &v
	}
	for _, k := range intKeys {
		if fs.Changed(k.key) {
			v, _ := fs.GetInt(k.key)
			*k.field(l) = &v
		}
	}
	for _, k := range listKeys {
		if fs.Changed(k.key) {
			v, _ := fs.GetStringSlice(k.key)
			if v == nil {
				v = []string{}
			}
			*k.field(l) = v
		}
	}
	if fs.Changed("tool") {
		overrides, _ := fs.GetStringArray("tool")
		for _, o := range overrides {
			name, tmpl, ok := strings.Cut(o, "=")
			if !ok || strings.TrimSpace(name) == "" {
				return nil, fmt.Errorf("--tool %q: want name=template", o)
			}
			if l.Tools == nil {
				l.Tools = map[string][]string{}
			}
			l.Tools[strings.TrimSpace(name)] = strings.Fields(tmpl)
		}
	}

	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return l, nil
}
