package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/radiotel/ingestd/internal/ccalog"
	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

// Source produces one VisChunk per tick. complete is true only when the
// observation has finished cleanly and the pipeline should stop; a
// (nil, false, nil) return means this tick produced no chunk (a
// recoverable stream-alignment glitch) and the driver should just try
// again on the next tick.
type Source interface {
	Next(ctx context.Context) (chunk *vischunk.VisChunk, complete bool, err error)
}

// IngestPipeline is the top-level driver: it owns the source and the
// ordered task chain, and runs the tick loop until the source signals
// completion, a task returns a fatal error, or it is interrupted.
type IngestPipeline struct {
	source Source
	tasks  []Task

	interrupted *int32
}

func New(source Source, tasks []Task, interrupted *int32) *IngestPipeline {
	return &IngestPipeline{source: source, tasks: tasks, interrupted: interrupted}
}

// Start runs ingestOne in a loop until the source signals observation
// completion, a task returns a fatal error, or the interrupted flag is
// set between ticks.
func (p *IngestPipeline) Start(ctx context.Context) error {
	for {
		if p.interrupted != nil && atomic.LoadInt32(p.interrupted) != 0 {
			return ingesterr.New(ingesterr.Interrupted, "pipeline", "interrupted between ticks")
		}

		done, err := p.ingestOne(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// ingestOne runs one tick: pull a chunk from the source, thread it
// through the task chain in order, and stop early if a task errors. A
// tick that produced no chunk (source signalled neither completion nor
// an error) is a no-op, not a stop condition.
func (p *IngestPipeline) ingestOne(ctx context.Context) (done bool, err error) {
	chunk, complete, err := p.source.Next(ctx)
	if err != nil {
		return false, err
	}
	if complete {
		return true, nil
	}
	if chunk == nil {
		return false, nil
	}

	for _, task := range p.tasks {
		if chunk == nil && !task.IsAlwaysActive() {
			continue
		}

		next, err := task.Process(ctx, chunk)
		if err != nil {
			ccalog.Errorf("pipeline: task %s failed: %v", task.Name(), err)
			return false, err
		}
		chunk = next
	}

	return false, nil
}
