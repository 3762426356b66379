package tasks

import (
	"encoding/json"

	"context"

	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/internal/pipeline"
	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

func init() {
	pipeline.Register("ChannelAvgTask", newChannelAvgTask)
}

type channelAvgParams struct {
	Averaging int `json:"averaging"`
}

// ChannelAvgTask reduces the channel axis N-to-1 with a flag-aware mean:
// a flagged input sample does not contribute to the averaged value or
// its weight, and an output channel is flagged only if every contributing
// input channel was flagged.
type ChannelAvgTask struct {
	factor int
}

func newChannelAvgTask(cfg *config.Config, desc config.TaskDescriptor) (pipeline.Task, error) {
	var p channelAvgParams
	if err := json.Unmarshal(desc.Parameters, &p); err != nil {
		return nil, err
	}
	if p.Averaging <= 0 {
		return nil, ingesterr.New(ingesterr.ConfigInvalid, "ChannelAvgTask", "averaging must be positive")
	}
	return &ChannelAvgTask{factor: p.Averaging}, nil
}

func (t *ChannelAvgTask) Name() string        { return "ChannelAvgTask" }
func (t *ChannelAvgTask) IsAlwaysActive() bool { return false }

func (t *ChannelAvgTask) Process(ctx context.Context, chunk *vischunk.VisChunk) (*vischunk.VisChunk, error) {
	if chunk == nil {
		return nil, nil
	}
	if chunk.NChannel()%t.factor != 0 {
		return nil, ingesterr.New(ingesterr.ShapeMismatch, "ChannelAvgTask", "nChannel not divisible by averaging factor")
	}

	outNChan := chunk.NChannel() / t.factor
	outFreq := make([]float64, outNChan)
	outVis := make([]complex64, chunk.NRow()*outNChan*chunk.NPol())
	outFlag := make([]bool, len(outVis))

	for outCh := 0; outCh < outNChan; outCh++ {
		var freqSum float64
		for k := 0; k < t.factor; k++ {
			freqSum += chunk.Frequency[outCh*t.factor+k]
		}
		outFreq[outCh] = freqSum / float64(t.factor)

		for row := 0; row < chunk.NRow(); row++ {
			for pol := 0; pol < chunk.NPol(); pol++ {
				var sum complex128
				count := 0
				for k := 0; k < t.factor; k++ {
					inIdx := chunk.Index(row, outCh*t.factor+k, pol)
					if chunk.Flag[inIdx] {
						continue
					}
					sum += complex128(chunk.Visibility[inIdx])
					count++
				}

				outIdx := (outCh*chunk.NPol()+pol)*chunk.NRow() + row
				if count == 0 {
					outFlag[outIdx] = true
					continue
				}
				outVis[outIdx] = complex64(sum / complex(float64(count), 0))
			}
		}
	}

	if err := chunk.Resize(outVis, outFlag, outFreq); err != nil {
		return nil, err
	}
	chunk.ChannelWidth *= float64(t.factor)
	return chunk, nil
}
