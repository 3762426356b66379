package tasks

import (
	"context"
	"encoding/json"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/internal/pipeline"
	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

func init() {
	pipeline.Register("FlagTask", newFlagTask)
}

type flagParams struct {
	// Condition is compiled once against rowEnv and evaluated per row;
	// a row is flagged when it evaluates true.
	Condition string `json:"condition"`
}

// rowEnv is the expression environment FlagTask's condition evaluates
// against.
type rowEnv struct {
	Antenna1    int     `expr:"antenna1"`
	Antenna2    int     `expr:"antenna2"`
	Beam        int     `expr:"beam"`
	UVWLength   float64 `expr:"uvwLength"`
	ScanID      int     `expr:"scanId"`
	CycleIndex  int     `expr:"cycleIndex"`
}

// FlagTask sets flags by policy expression, compiled once at
// construction with expr-lang/expr and evaluated per row.
type FlagTask struct {
	program *vm.Program
}

func newFlagTask(cfg *config.Config, desc config.TaskDescriptor) (pipeline.Task, error) {
	var p flagParams
	if err := json.Unmarshal(desc.Parameters, &p); err != nil {
		return nil, err
	}
	program, err := expr.Compile(p.Condition, expr.Env(rowEnv{}), expr.AsBool())
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.ConfigInvalid, "FlagTask", err)
	}
	return &FlagTask{program: program}, nil
}

func (t *FlagTask) Name() string        { return "FlagTask" }
func (t *FlagTask) IsAlwaysActive() bool { return false }

func (t *FlagTask) Process(ctx context.Context, chunk *vischunk.VisChunk) (*vischunk.VisChunk, error) {
	if chunk == nil {
		return nil, nil
	}

	for row := 0; row < chunk.NRow(); row++ {
		u := chunk.UVW[row]
		env := rowEnv{
			Antenna1:  chunk.Antenna1[row],
			Antenna2:  chunk.Antenna2[row],
			Beam:      chunk.Beam1[row],
			UVWLength: uvwLength(u),
			ScanID:    chunk.ScanID,
		}

		out, err := expr.Run(t.program, env)
		if err != nil {
			return nil, ingesterr.Wrap(ingesterr.ConfigInvalid, "FlagTask", err)
		}
		if flagged, ok := out.(bool); ok && flagged {
			flagRow(chunk, row)
		}
	}

	return chunk, nil
}

func uvwLength(u vischunk.UVW) float64 {
	return math.Sqrt(u.U*u.U + u.V*u.V + u.W*u.W)
}

func flagRow(chunk *vischunk.VisChunk, row int) {
	for ch := 0; ch < chunk.NChannel(); ch++ {
		for pol := 0; pol < chunk.NPol(); pol++ {
			chunk.Flag[chunk.Index(row, ch, pol)] = true
		}
	}
}
