// Package taskgraph runs a small directed acyclic graph of tasks.
//
// Each task names the tasks it depends on and starts only after all of them
// succeeded. A task whose predecessor failed or was skipped does not run and
// is recorded as skipped, so a failure travels down its own edges and never
// into unrelated branches. The first failure cancels the graph's context,
// which aborts whatever else the graph is still running; graphs are created
// per pipeline so a sibling pipeline keeps going.
package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/bagsplit/internal/timeutil"
)

// Status is a task's final state.
type Status int

const (
	Pending Status = iota
	Succeeded
	Failed
	Skipped
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "pending"
	}
}

// ErrSkipped marks a task that never ran.
var ErrSkipped = errors.New("task skipped")

// UpstreamError explains why a task was skipped.
type UpstreamError struct {
	Task     string
	Upstream string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: skipped because %s did not succeed", e.Task, e.Upstream)
}

// Is lets errors.Is(err, ErrSkipped) match.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrSkipped
}

// Func is the body of a task.
type Func func(ctx context.Context) error

// Task is a node of the graph.
type Task struct {
	name string
	deps []*Task
	fn   Func
	done chan struct{}

	mu       sync.Mutex
	status   Status
	err      error
	started  time.Time
	finished time.Time
}

// Name returns the task's name.
func (t *Task) Name() string { return t.name }

// Done is closed once the task reaches a final status.
func (t *Task) Done() <-chan struct{} { return t.done }

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Err returns the failure or skip reason, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) finish(status Status, err error, started, finished time.Time) {
	t.mu.Lock()
	t.status = status
	t.err = err
	t.started = started
	t.finished = finished
	t.mu.Unlock()
	close(t.done)
}

// Record is the outcome of one task, for logs, the ledger and reports.
type Record struct {
	Graph    string
	Task     string
	Status   Status
	Err      error
	Started  time.Time
	Finished time.Time
}

// Duration is how long the task body ran; zero for skipped tasks.
func (r Record) Duration() time.Duration {
	if r.Started.IsZero() || r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Graph schedules tasks. Tasks start as soon as they are added; Wait blocks
// until all of them reached a final status.
type Graph struct {
	name  string
	clock timeutil.Clock
	group *errgroup.Group
	ctx   context.Context

	mu    sync.Mutex
	tasks []*Task
}

// Option configures a Graph.
type Option func(*Graph)

// WithClock stamps records with clock instead of the real time.
func WithClock(clock timeutil.Clock) Option {
	return func(g *Graph) { g.clock = clock }
}

// New creates a graph whose tasks run under a context derived from ctx.
func New(ctx context.Context, name string, opts ...Option) *Graph {
	group, gctx := errgroup.WithContext(ctx)
	g := &Graph{name: name, clock: timeutil.RealClock{}, group: group, ctx: gctx}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Go adds a task that runs fn once every dependency succeeded. Nil
// dependencies are ignored, which keeps optional stages easy to wire.
func (g *Graph) Go(name string, fn Func, deps ...*Task) *Task {
	t := &Task{name: name, fn: fn, done: make(chan struct{})}
	for _, d := range deps {
		if d != nil {
			t.deps = append(t.deps, d)
		}
	}

	g.mu.Lock()
	g.tasks = append(g.tasks, t)
	g.mu.Unlock()

	g.group.Go(func() error {
		return g.run(t)
	})
	return t
}

func (g *Graph) run(t *Task) error {
	for _, d := range t.deps {
		select {
		case <-d.done:
		case <-g.ctx.Done():
			// Name a predecessor that already failed rather than the
			// cancellation it caused.
			if up := t.unsuccessfulDep(); up != nil {
				return g.skip(t, up)
			}
			err := fmt.Errorf("%s: %w: %w", t.name, ErrSkipped, g.ctx.Err())
			t.finish(Skipped, err, time.Time{}, time.Time{})
			return err
		}
		if d.Status() != Succeeded {
			return g.skip(t, d)
		}
	}

	if err := g.ctx.Err(); err != nil {
		err = fmt.Errorf("%s: %w: %w", t.name, ErrSkipped, err)
		t.finish(Skipped, err, time.Time{}, time.Time{})
		return err
	}

	started := g.clock.Now()
	err := t.fn(g.ctx)
	finished := g.clock.Now()
	if err != nil {
		err = fmt.Errorf("%s: %w", t.name, err)
		t.finish(Failed, err, started, finished)
		return err
	}
	t.finish(Succeeded, nil, started, finished)
	return nil
}

func (g *Graph) skip(t, upstream *Task) error {
	err := &UpstreamError{Task: t.name, Upstream: upstream.name}
	t.finish(Skipped, err, time.Time{}, time.Time{})
	return err
}

// unsuccessfulDep returns a predecessor that already finished without
// succeeding, or nil.
func (t *Task) unsuccessfulDep() *Task {
	for _, d := range t.deps {
		select {
		case <-d.done:
			if d.Status() != Succeeded {
				return d
			}
		default:
		}
	}
	return nil
}

// Wait blocks until every task finished and returns the first failure. Tasks
// added after Wait returns are not supported.
func (g *Graph) Wait() error {
	if err := g.group.Wait(); err != nil {
		if root := g.firstFailure(); root != nil {
			return root
		}
		return err
	}
	return nil
}

// firstFailure prefers a real failure over the skips it caused.
func (g *Graph) firstFailure() error {
	var earliest *Task
	for _, t := range g.Tasks() {
		if t.Status() != Failed {
			continue
		}
		if earliest == nil || t.finishedAt().Before(earliest.finishedAt()) {
			earliest = t
		}
	}
	if earliest == nil {
		return nil
	}
	return earliest.Err()
}

func (t *Task) finishedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

// Tasks returns the tasks in the order they were added.
func (g *Graph) Tasks() []*Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Task(nil), g.tasks...)
}

// Records snapshots every task's outcome in insertion order.
func (g *Graph) Records() []Record {
	tasks := g.Tasks()
	records := make([]Record, 0, len(tasks))
	for _, t := range tasks {
		t.mu.Lock()
		records = append(records, Record{
			Graph:    g.name,
			Task:     t.name,
			Status:   t.status,
			Err:      t.err,
			Started:  t.started,
			Finished: t.finished,
		})
		t.mu.Unlock()
	}
	return records
}
