package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/radiotel/ingestd/internal/ccalog"
	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/internal/pipeline"
	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

func init() {
	pipeline.Register("BufferedTask", newBufferedTask)
}

type bufferedTaskParams struct {
	Lossless bool                   `json:"lossless"`
	Size     int                    `json:"size"`
	MaxWait  float64                `json:"maxwait"`
	Child    config.TaskDescriptor  `json:"child"`
}

// BufferedTask wraps a child task so it runs off a background worker
// instead of the tick loop: the first cycle is invoked synchronously
// (so the child can fix whatever rank-local state it needs to), every
// later cycle is deep-copied and enqueued on a bounded ring for the
// worker to dequeue. A gocron job periodically logs the ring's current
// fill at debug level.
type BufferedTask struct {
	child    pipeline.Task
	queue    chan *vischunk.VisChunk
	maxWait  time.Duration
	lossless bool

	firstCycle bool
	errCh      chan error

	scheduler gocron.Scheduler
}

func newBufferedTask(cfg *config.Config, desc config.TaskDescriptor) (pipeline.Task, error) {
	var p bufferedTaskParams
	if err := json.Unmarshal(desc.Parameters, &p); err != nil {
		return nil, err
	}
	if p.Child.Kind == "" {
		return nil, ingesterr.New(ingesterr.ConfigInvalid, "BufferedTask", "child task descriptor is required")
	}
	size := p.Size
	if size <= 0 {
		size = 1
	}

	child, err := pipeline.BuildOne(cfg, p.Child)
	if err != nil {
		return nil, err
	}

	t := &BufferedTask{
		child:      child,
		queue:      make(chan *vischunk.VisChunk, size),
		maxWait:    time.Duration(p.MaxWait * float64(time.Second)),
		lossless:   p.Lossless,
		firstCycle: true,
		errCh:      make(chan error, 1),
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.ConfigInvalid, "BufferedTask", err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(10*time.Second),
		gocron.NewTask(t.reportFill),
	); err != nil {
		return nil, ingesterr.Wrap(ingesterr.ConfigInvalid, "BufferedTask", err)
	}
	t.scheduler = scheduler
	scheduler.Start()

	go t.worker()

	return t, nil
}

func (t *BufferedTask) Name() string        { return "BufferedTask(" + t.child.Name() + ")" }
func (t *BufferedTask) IsAlwaysActive() bool { return t.child.IsAlwaysActive() }

func (t *BufferedTask) reportFill() {
	ccalog.Debugf("BufferedTask(%s): ring fill %d/%d", t.child.Name(), len(t.queue), cap(t.queue))
}

func (t *BufferedTask) worker() {
	for chunk := range t.queue {
		if _, err := t.child.Process(context.Background(), chunk); err != nil {
			ccalog.Errorf("BufferedTask(%s): child failed: %v", t.child.Name(), err)
			select {
			case t.errCh <- err:
			default:
			}
		}
	}
}

func (t *BufferedTask) Process(ctx context.Context, chunk *vischunk.VisChunk) (*vischunk.VisChunk, error) {
	select {
	case err := <-t.errCh:
		return nil, err
	default:
	}

	if t.firstCycle {
		t.firstCycle = false
		return t.child.Process(ctx, chunk)
	}
	if chunk == nil {
		return nil, nil
	}

	copied := chunk.Clone()
	select {
	case t.queue <- copied:
		return chunk, nil
	default:
	}

	if t.maxWait <= 0 {
		if t.lossless {
			return nil, ingesterr.New(ingesterr.BufferOverflow, "BufferedTask", "ring full, no wait configured")
		}
		ccalog.Errorf("BufferedTask(%s): ring full, dropping sample", t.child.Name())
		return chunk, nil
	}

	timer := time.NewTimer(t.maxWait)
	defer timer.Stop()
	select {
	case t.queue <- copied:
		return chunk, nil
	case <-timer.C:
		if t.lossless {
			return nil, ingesterr.New(ingesterr.BufferOverflow, "BufferedTask", "ring full past maxwait")
		}
		ccalog.Errorf("BufferedTask(%s): ring full past maxwait, dropping sample", t.child.Name())
		return chunk, nil
	case <-ctx.Done():
		return nil, ingesterr.Wrap(ingesterr.Interrupted, "BufferedTask", ctx.Err())
	}
}
