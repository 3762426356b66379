package tasks

import (
	"context"
	"encoding/json"

	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/internal/pipeline"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

func init() {
	pipeline.Register("QuackTask", newQuackTask)
}

type quackParams struct {
	NCycles int `json:"ncycles"`
}

// QuackTask flags the first NCycles chunks it sees entirely, then passes
// every later chunk through unchanged.
type QuackTask struct {
	ncycles int
	seen    int
}

func newQuackTask(cfg *config.Config, desc config.TaskDescriptor) (pipeline.Task, error) {
	var p quackParams
	if len(desc.Parameters) > 0 {
		if err := json.Unmarshal(desc.Parameters, &p); err != nil {
			return nil, err
		}
	}
	return &QuackTask{ncycles: p.NCycles}, nil
}

func (t *QuackTask) Name() string        { return "QuackTask" }
func (t *QuackTask) IsAlwaysActive() bool { return false }

func (t *QuackTask) Process(ctx context.Context, chunk *vischunk.VisChunk) (*vischunk.VisChunk, error) {
	if chunk == nil {
		return nil, nil
	}

	t.seen++
	if t.seen <= t.ncycles {
		for i := range chunk.Flag {
			chunk.Flag[i] = true
		}
	}
	return chunk, nil
}
