package tasks

import (
	"context"
	"encoding/json"
	"math"

	"github.com/radiotel/ingestd/internal/ccalog"
	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/internal/pipeline"
	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

func init() {
	pipeline.Register("ShadowFlagTask", newShadowFlagTask)
}

type shadowFlagParams struct {
	DishDiameter float64 `json:"dish_diameter"`
	DryRun       bool    `json:"dry_run"`
}

// ShadowFlagTask flags rows whose projected baseline separation is
// shorter than the dish diameter (one antenna shadows the other at low
// elevation). In dry-run mode it counts what it would flag and logs the
// count without mutating the chunk.
type ShadowFlagTask struct {
	dishDiameter float64
	dryRun       bool
}

func newShadowFlagTask(cfg *config.Config, desc config.TaskDescriptor) (pipeline.Task, error) {
	var p shadowFlagParams
	if err := json.Unmarshal(desc.Parameters, &p); err != nil {
		return nil, err
	}
	if p.DishDiameter <= 0 {
		return nil, ingesterr.New(ingesterr.ConfigInvalid, "ShadowFlagTask", "dish_diameter must be positive")
	}
	return &ShadowFlagTask{dishDiameter: p.DishDiameter, dryRun: p.DryRun}, nil
}

func (t *ShadowFlagTask) Name() string        { return "ShadowFlagTask" }
func (t *ShadowFlagTask) IsAlwaysActive() bool { return false }

func (t *ShadowFlagTask) Process(ctx context.Context, chunk *vischunk.VisChunk) (*vischunk.VisChunk, error) {
	if chunk == nil {
		return nil, nil
	}

	wouldFlag := 0
	for row := 0; row < chunk.NRow(); row++ {
		if chunk.Antenna1[row] == chunk.Antenna2[row] {
			continue
		}
		u := chunk.UVW[row]
		projected := math.Sqrt(u.U*u.U + u.V*u.V)
		if projected < t.dishDiameter {
			if t.dryRun {
				wouldFlag++
			} else {
				flagRow(chunk, row)
			}
		}
	}
	if t.dryRun && wouldFlag > 0 {
		ccalog.Infof("ShadowFlagTask: dry run, %d rows would be flagged", wouldFlag)
	}

	return chunk, nil
}
