// Package pipeline implements the task interface, factory and tick-loop
// driver: IngestPipeline.Start feeds a VisChunk handle through an
// ordered chain of tasks, letting each mutate, replace or null it.
package pipeline

import (
	"context"

	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

// Task is the common contract every pipeline stage but the source
// implements. Process receives the current chunk handle (nil if this
// rank produced no output so far this tick) and returns the handle to
// carry forward: unchanged, mutated in place, replaced, or nil.
type Task interface {
	Name() string
	// IsAlwaysActive reports whether Process must still be invoked when
	// chunk is nil — required for tasks that participate in collective
	// communication or that may activate a previously inactive rank.
	IsAlwaysActive() bool
	Process(ctx context.Context, chunk *vischunk.VisChunk) (*vischunk.VisChunk, error)
}

// Factory builds a Task from a descriptor's Kind and raw Parameters.
type Factory func(cfg *config.Config, desc config.TaskDescriptor) (Task, error)

var registry = map[string]Factory{}

// Register adds a factory under kind. Called from each task package's
// init().
func Register(kind string, f Factory) {
	registry[kind] = f
}

// Build instantiates the tasks named in cfg's task list, in order.
func Build(cfg *config.Config) ([]Task, error) {
	tasks := make([]Task, 0, len(cfg.Tasks))
	for _, desc := range cfg.Tasks {
		t, err := BuildOne(cfg, desc)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// BuildOne instantiates a single task from its descriptor. BufferedTask
// uses this to build the child task it wraps.
func BuildOne(cfg *config.Config, desc config.TaskDescriptor) (Task, error) {
	f, ok := registry[desc.Kind]
	if !ok {
		return nil, unknownKindError(desc.Kind)
	}
	return f(cfg, desc)
}
