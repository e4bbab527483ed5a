// Package config resolves the run configuration from defaults, an optional
// config file and command-line flags.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/bagsplit/internal/tools"
)

// Default values applied when no layer sets a key.
const (
	DefaultSyncSlop            = 0.1
	DefaultPreviewCols         = 2
	DefaultPreviewRows         = 2
	DefaultPreviewImageWidth   = 640
	DefaultPreviewImageHeight  = 480
	DefaultFFmpegOptions       = "-y -loglevel error"
	DefaultFFmpegInputOptions  = "-framerate 10"
	DefaultFFmpegOutputOptions = "-c:v libx264 -pix_fmt yuv420p"
	DefaultBlurWeights         = "weights"

	// OutputSuffix is appended to the bag name for the default output root.
	OutputSuffix = "_split"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Layer is one source of configuration: a config file or the command line.
// A nil field means the layer does not set that key, so layers can be merged
// without losing track of which one set what.
type Layer struct {
	OutputDir        *string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	Blur             *bool   `json:"blur,omitempty" yaml:"blur,omitempty"`
	BlurWeights      *string `json:"blur_weights,omitempty" yaml:"blur_weights,omitempty"`
	KeepIntermediary *bool   `json:"keep_intermediary,omitempty" yaml:"keep_intermediary,omitempty"`
	Zip              *bool   `json:"zip,omitempty" yaml:"zip,omitempty"`

	Sync           *bool    `json:"sync,omitempty" yaml:"sync,omitempty"`
	SyncSlop       *float64 `json:"sync_slop,omitempty" yaml:"sync_slop,omitempty"`
	SyncTopics     []string `json:"sync_topics,omitempty" yaml:"sync_topics,omitempty"`
	TopicBlacklist []string `json:"topic_blacklist,omitempty" yaml:"topic_blacklist,omitempty"`

	PreviewTopics      []string `json:"preview_topics,omitempty" yaml:"preview_topics,omitempty"`
	PreviewCols        *int     `json:"preview_cols,omitempty" yaml:"preview_cols,omitempty"`
	PreviewRows        *int     `json:"preview_rows,omitempty" yaml:"preview_rows,omitempty"`
	PreviewImageWidth  *int     `json:"preview_image_width,omitempty" yaml:"preview_image_width,omitempty"`
	PreviewImageHeight *int     `json:"preview_image_height,omitempty" yaml:"preview_image_height,omitempty"`
	PreviewConfig      *string  `json:"preview_config,omitempty" yaml:"preview_config,omitempty"` // extra montage options

	FFmpegOptions       *string `json:"ffmpeg_options,omitempty" yaml:"ffmpeg_options,omitempty"`
	FFmpegInputOptions  *string `json:"ffmpeg_input_options,omitempty" yaml:"ffmpeg_input_options,omitempty"`
	FFmpegOutputOptions *string `json:"ffmpeg_output_options,omitempty" yaml:"ffmpeg_output_options,omitempty"`

	Logfile *string `json:"logfile,omitempty" yaml:"logfile,omitempty"`
	Verbose *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`

	Jobs   *int    `json:"jobs,omitempty" yaml:"jobs,omitempty"`
	DryRun *bool   `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Ledger *string `json:"ledger,omitempty" yaml:"ledger,omitempty"` // sqlite path
	Report *bool   `json:"report,omitempty" yaml:"report,omitempty"`

	// Tools overrides argv templates by tool name.
	Tools map[string][]string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// LoadFile reads a Layer from a .json, .yaml or .yml file. Unknown keys and
// values of the wrong type are errors.
func LoadFile(path string) (*Layer, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	l := &Layer{}
	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(l); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(l); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return l, nil
}

// Validate checks the values a layer sets. Unset keys are not checked.
func (l *Layer) Validate() error {
	if l.SyncSlop != nil && *l.SyncSlop <= 0 {
		return fmt.Errorf("sync_slop must be positive, got %g", *l.SyncSlop)
	}
	for key, v := range map[string]*int{
		"preview_cols":         l.PreviewCols,
		"preview_rows":         l.PreviewRows,
		"preview_image_width":  l.PreviewImageWidth,
		"preview_image_height": l.PreviewImageHeight,
		"jobs":                 l.Jobs,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", key, *v)
		}
	}
	if l.OutputDir != nil && strings.TrimSpace(*l.OutputDir) == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	if len(l.Tools) > 0 {
		if _, err := tools.New(l.Tools); err != nil {
			return fmt.Errorf("tools: %w", err)
		}
	}
	return nil
}

// Merge returns a new layer where every key set in a later layer overrides the
// earlier ones. Nil layers are skipped. Tool overrides merge per tool name.
func Merge(layers ...*Layer) *Layer {
	out := &Layer{}
	for _, l := range layers {
		if l == nil {
			continue
		}
		mergeString(&out.OutputDir, l.OutputDir)
		mergeBool(&out.Blur, l.Blur)
		mergeString(&out.BlurWeights, l.BlurWeights)
		mergeBool(&out.KeepIntermediary, l.KeepIntermediary)
		mergeBool(&out.Zip, l.Zip)
		mergeBool(&out.Sync, l.Sync)
		if l.SyncSlop != nil {
			out.SyncSlop = ptrFloat64(*l.SyncSlop)
		}
		mergeList(&out.SyncTopics, l.SyncTopics)
		mergeList(&out.TopicBlacklist, l.TopicBlacklist)
		mergeList(&out.PreviewTopics, l.PreviewTopics)
		mergeInt(&out.PreviewCols, l.PreviewCols)
		mergeInt(&out.PreviewRows, l.PreviewRows)
		mergeInt(&out.PreviewImageWidth, l.PreviewImageWidth)
		mergeInt(&out.PreviewImageHeight, l.PreviewImageHeight)
		mergeString(&out.PreviewConfig, l.PreviewConfig)
		mergeString(&out.FFmpegOptions, l.FFmpegOptions)
		mergeString(&out.FFmpegInputOptions, l.FFmpegInputOptions)
		mergeString(&out.FFmpegOutputOptions, l.FFmpegOutputOptions)
		mergeString(&out.Logfile, l.Logfile)
		mergeBool(&out.Verbose, l.Verbose)
		mergeInt(&out.Jobs, l.Jobs)
		mergeBool(&out.DryRun, l.DryRun)
		mergeString(&out.Ledger, l.Ledger)
		mergeBool(&out.Report, l.Report)
		for name, tmpl := range l.Tools {
			if out.Tools == nil {
				out.Tools = make(map[string][]string)
			}
			out.Tools[name] = append([]string(nil), tmpl...)
		}
	}
	return out
}

func mergeString(dst **string, src *string) {
	if src != nil {
		*dst = ptrString(*src)
	}
}

func mergeBool(dst **bool, src *bool) {
	if src != nil {
		*dst = ptrBool(*src)
	}
}

func mergeInt(dst **int, src *int) {
	if src != nil {
		*dst = ptrInt(*src)
	}
}

// mergeList treats a nil slice as unset. An explicit empty list overrides.
func mergeList(dst *[]string, src []string) {
	if src != nil {
		*dst = append([]string{}, src...)
	}
}

// GetOutputDir returns output_dir, defaulting to "<bag>_split" beside the bag.
func (l *Layer) GetOutputDir(bag string) string {
	if l.OutputDir != nil {
		return *l.OutputDir
	}
	clean := filepath.Clean(bag)
	return filepath.Join(filepath.Dir(clean), filepath.Base(clean)+OutputSuffix)
}

// GetSyncSlop returns the sync tolerance in seconds or the default.
func (l *Layer) GetSyncSlop() float64 {
	if l.SyncSlop == nil {
		return DefaultSyncSlop
	}
	return *l.SyncSlop
}

// GetJobs returns the montage parallelism, defaulting to the CPU count.
func (l *Layer) GetJobs() int {
	if l.Jobs == nil {
		return runtime.NumCPU()
	}
	return *l.Jobs
}

// GetBlurWeights returns the anonymizer weights directory or the default.
func (l *Layer) GetBlurWeights() string {
	return stringOr(l.BlurWeights, DefaultBlurWeights)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

// Run is the resolved configuration for one run. It is built once by Resolve
// and not modified afterwards.
type Run struct {
	Bag       string
	OutputDir string

	Blur             bool
	BlurWeights      string
	KeepIntermediary bool
	Zip              bool

	Sync           bool
	SyncSlop       float64
	SyncTopics     []string
	TopicBlacklist []string

	PreviewTopics      []string
	PreviewCols        int
	PreviewRows        int
	PreviewImageWidth  int
	PreviewImageHeight int
	PreviewConfig      []string

	FFmpegOptions       []string
	FFmpegInputOptions  []string
	FFmpegOutputOptions []string

	Logfile string
	Verbose bool

	Jobs   int
	DryRun bool
	Ledger string
	Report bool

	Tools *tools.Toolchain
}

// Resolve merges layers in increasing precedence (typically file then
// command line) over the defaults and validates the result.
func Resolve(bag string, layers ...*Layer) (*Run, error) {
	if strings.TrimSpace(bag) == "" {
		return nil, fmt.Errorf("no bag given")
	}
	l := Merge(layers...)
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tc, err := tools.New(l.Tools)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: tools: %w", err)
	}

	return &Run{
		Bag:       bag,
		OutputDir: l.GetOutputDir(bag),

		Blur:             boolOr(l.Blur, false),
		BlurWeights:      l.GetBlurWeights(),
		KeepIntermediary: boolOr(l.KeepIntermediary, false),
		Zip:              boolOr(l.Zip, false),

		Sync:           boolOr(l.Sync, false),
		SyncSlop:       l.GetSyncSlop(),
		SyncTopics:     l.SyncTopics,
		TopicBlacklist: l.TopicBlacklist,

		PreviewTopics:      l.PreviewTopics,
		PreviewCols:        intOr(l.PreviewCols, DefaultPreviewCols),
		PreviewRows:        intOr(l.PreviewRows, DefaultPreviewRows),
		PreviewImageWidth:  intOr(l.PreviewImageWidth, DefaultPreviewImageWidth),
		PreviewImageHeight: intOr(l.PreviewImageHeight, DefaultPreviewImageHeight),
		PreviewConfig:      strings.Fields(stringOr(l.PreviewConfig, "")),

		FFmpegOptions:       strings.Fields(stringOr(l.FFmpegOptions, DefaultFFmpegOptions)),
		FFmpegInputOptions:  strings.Fields(stringOr(l.FFmpegInputOptions, DefaultFFmpegInputOptions)),
		FFmpegOutputOptions: strings.Fields(stringOr(l.FFmpegOutputOptions, DefaultFFmpegOutputOptions)),

		Logfile: stringOr(l.Logfile, ""),
		Verbose: boolOr(l.Verbose, false),

		Jobs:   l.GetJobs(),
		DryRun: boolOr(l.DryRun, false),
		Ledger: stringOr(l.Ledger, ""),
		Report: boolOr(l.Report, false),

		Tools: tc,
	}, nil
}
