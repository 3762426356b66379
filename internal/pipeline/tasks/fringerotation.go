package tasks

import (
	"context"
	"encoding/json"
	"math"
	"math/cmplx"

	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/internal/pipeline"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

func init() {
	pipeline.Register("FringeRotationTask", newFringeRotationTask)
}

type fringeRotationParams struct {
	Enabled bool `json:"enabled"`
}

// FringeRotationTask applies the optional per-row phase correction
// implied by the row's current UVW w-term, after CalcUVWTask has run.
type FringeRotationTask struct {
	enabled bool
}

func newFringeRotationTask(cfg *config.Config, desc config.TaskDescriptor) (pipeline.Task, error) {
	p := fringeRotationParams{Enabled: true}
	if len(desc.Parameters) > 0 {
		if err := json.Unmarshal(desc.Parameters, &p); err != nil {
			return nil, err
		}
	}
	return &FringeRotationTask{enabled: p.Enabled}, nil
}

func (t *FringeRotationTask) Name() string        { return "FringeRotationTask" }
func (t *FringeRotationTask) IsAlwaysActive() bool { return false }

func (t *FringeRotationTask) Process(ctx context.Context, chunk *vischunk.VisChunk) (*vischunk.VisChunk, error) {
	if chunk == nil || !t.enabled {
		return chunk, nil
	}

	for row := 0; row < chunk.NRow(); row++ {
		w := chunk.UVW[row].W
		for ch := 0; ch < chunk.NChannel(); ch++ {
			phase := -2 * math.Pi * w * chunk.Frequency[ch] / speedOfLight
			rot := cmplx.Exp(complex(0, phase))
			for pol := 0; pol < chunk.NPol(); pol++ {
				idx := chunk.Index(row, ch, pol)
				if chunk.Flag[idx] {
					continue
				}
				v := complex128(chunk.Visibility[idx])
				chunk.Visibility[idx] = complex64(v * rot)
			}
		}
	}

	return chunk, nil
}

const speedOfLight = 299792458.0
