// Package testutil provides shared test utilities and fixtures.
//
// FakeExecutor stands in for the external tools: it records every command and
// writes the files the real tool would produce, so pipelines can be tested
// end to end without ros2, ffmpeg or an anonymizer installed.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/bagsplit/internal/runner"
	"github.com/banshee-data/bagsplit/internal/tools"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// BagTopic is one entry written by WriteBag.
type BagTopic struct {
	Name string
	Type string
}

// WriteBag creates a bag directory holding a metadata.yaml for topics and a
// dummy storage file, and returns its path.
func WriteBag(t *testing.T, dir, name string, topics ...BagTopic) string {
	t.Helper()
	bag := filepath.Join(dir, name)
	AssertNoError(t, os.MkdirAll(bag, 0755))

	var b strings.Builder
	b.WriteString("rosbag2_bagfile_information:\n")
	b.WriteString("  version: 5\n")
	b.WriteString("  storage_identifier: sqlite3\n")
	b.WriteString("  topics_with_message_count:\n")
	for _, tp := range topics {
		fmt.Fprintf(&b, "    - topic_metadata:\n        name: %s\n        type: %s\n        serialization_format: cdr\n      message_count: 10\n", tp.Name, tp.Type)
	}
	AssertNoError(t, os.WriteFile(filepath.Join(bag, "metadata.yaml"), []byte(b.String()), 0644))
	AssertNoError(t, os.WriteFile(filepath.Join(bag, name+"_0.db3"), []byte("storage"), 0644))
	return bag
}

// Event is one command start or end seen by FakeExecutor.
type Event struct {
	Kind string // "start" or "end"
	Name string
	At   time.Time
}

// FakeExecutor implements runner.Executor by simulating each tool's output.
type FakeExecutor struct {
	// Frames is how many frames an image or point-cloud export writes.
	Frames int
	// SyncedFrames is how many frames a re-export from the synced
	// container writes. Sync drops unmatched frames, so it is usually fewer.
	SyncedFrames int
	// Delay is applied to commands of the named tools before they finish.
	Delay map[string]time.Duration
	// Fail makes commands with these names exit with status 1.
	Fail map[string]bool
	// CSV maps table names to the header line written by the tabular tool.
	CSV map[string]string

	mu      sync.Mutex
	calls   []runner.Command
	events  []Event
	running map[string]int
	peak    map[string]int
}

// NewFakeExecutor returns an executor that writes 3 frames per export and 2
// per synced re-export.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{
		Frames:       3,
		SyncedFrames: 2,
		Delay:        map[string]time.Duration{},
		Fail:         map[string]bool{},
		CSV: map[string]string{
			"gps_fix":  "timestamp,latitude,longitude,altitude",
			"imu_data": "timestamp,orientation.x,orientation.y",
		},
	}
}

// Run records cmd, waits for its configured delay and writes its outputs.
func (f *FakeExecutor) Run(ctx context.Context, cmd runner.Command) runner.Result {
	f.begin(cmd)
	defer f.end(cmd)

	if d := f.Delay[cmd.Tool]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return runner.NewResult(cmd, -1, ctx.Err())
		}
	}
	if f.Fail[cmd.Name] {
		return runner.NewResult(cmd, 1, nil)
	}
	if err := f.produce(cmd); err != nil {
		return runner.NewResult(cmd, -1, err)
	}
	return runner.NewResult(cmd, 0, nil)
}

func (f *FakeExecutor) begin(cmd runner.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running == nil {
		f.running = map[string]int{}
		f.peak = map[string]int{}
	}
	f.calls = append(f.calls, cmd)
	f.events = append(f.events, Event{Kind: "start", Name: cmd.Name, At: time.Now()})
	f.running[cmd.Tool]++
	if f.running[cmd.Tool] > f.peak[cmd.Tool] {
		f.peak[cmd.Tool] = f.running[cmd.Tool]
	}
}

func (f *FakeExecutor) end(cmd runner.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[cmd.Tool]--
	f.events = append(f.events, Event{Kind: "end", Name: cmd.Name, At: time.Now()})
}

func (f *FakeExecutor) produce(cmd runner.Command) error {
	switch cmd.Tool {
	case tools.ExportImage, tools.ExportPointcloud:
		n := f.Frames
		if len(cmd.Inputs) > 0 && filepath.Base(cmd.Inputs[0]) == "_synced_bag" {
			n = f.SyncedFrames
		}
		ext := ".png"
		if cmd.Tool == tools.ExportPointcloud {
			ext = ".pcd"
		}
		return writeFrames(cmd.Output, n, ext)
	case tools.Anonymize:
		// Blurred frames keep their stems but come out as JPEG.
		names, err := os.ReadDir(cmd.Inputs[0])
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cmd.Output, 0755); err != nil {
			return err
		}
		for _, e := range names {
			stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			if err := os.WriteFile(filepath.Join(cmd.Output, stem+".jpg"), []byte("blurred"), 0644); err != nil {
				return err
			}
		}
		return nil
	case tools.Sync, tools.Extract:
		if err := os.MkdirAll(cmd.Output, 0755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(cmd.Output, "metadata.yaml"), []byte("rosbag2_bagfile_information: {}\n"), 0644)
	case tools.Tabular:
		if err := os.MkdirAll(cmd.Output, 0755); err != nil {
			return err
		}
		for table, header := range f.CSV {
			if err := os.WriteFile(filepath.Join(cmd.Output, table+".csv"), []byte(header+"\n1,2,3,4\n"), 0644); err != nil {
				return err
			}
		}
		return nil
	default:
		if err := os.MkdirAll(filepath.Dir(cmd.Output), 0755); err != nil {
			return err
		}
		return os.WriteFile(cmd.Output, []byte(cmd.Tool), 0644)
	}
}

func writeFrames(dir string, n int, ext string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("%06d%s", i*100, ext)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("frame"), 0644); err != nil {
			return err
		}
	}
	return nil
}

// Calls returns every command seen so far, in start order.
func (f *FakeExecutor) Calls() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Command(nil), f.calls...)
}

// CallsTo returns the commands issued for tool.
func (f *FakeExecutor) CallsTo(tool string) []runner.Command {
	var out []runner.Command
	for _, c := range f.Calls() {
		if c.Tool == tool {
			out = append(out, c)
		}
	}
	return out
}

// Events returns the start/end log.
func (f *FakeExecutor) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

// EventIndex returns the position of the first event of kind for name, or -1.
func (f *FakeExecutor) EventIndex(kind, name string) int {
	for i, e := range f.Events() {
		if e.Kind == kind && e.Name == name {
			return i
		}
	}
	return -1
}

// PeakConcurrency is the most commands of tool that ever ran at once.
func (f *FakeExecutor) PeakConcurrency(tool string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak[tool]
}
