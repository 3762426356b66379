package tasks

import (
	"context"
	"encoding/json"

	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/internal/pipeline"
	"github.com/radiotel/ingestd/pkg/collective"
	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/stokes"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

func init() {
	pipeline.Register("BeamScatterTask", newBeamScatterTask)
}

type beamScatterParams struct {
	NStreams int `json:"nstreams"`
}

// BeamScatterTask is ChannelMergeTask's inverse: one active rank holding
// nBeam beams' worth of rows scatters disjoint beam ranges to nstreams
// previously-inactive ranks of its group.
type BeamScatterTask struct {
	streamsPerGroup int
	world           collective.Communicator

	setupDone bool
	group     collective.Communicator
	isRoot    bool
}

func newBeamScatterTask(cfg *config.Config, desc config.TaskDescriptor) (pipeline.Task, error) {
	var p beamScatterParams
	if err := json.Unmarshal(desc.Parameters, &p); err != nil {
		return nil, err
	}
	if cfg.World == nil {
		return nil, ingesterr.New(ingesterr.ConfigInvalid, "BeamScatterTask", "no world communicator configured")
	}
	if p.NStreams <= 0 {
		return nil, ingesterr.New(ingesterr.ConfigInvalid, "BeamScatterTask", "nstreams must be positive")
	}
	return &BeamScatterTask{streamsPerGroup: p.NStreams, world: cfg.World}, nil
}

func (t *BeamScatterTask) Name() string        { return "BeamScatterTask" }
func (t *BeamScatterTask) IsAlwaysActive() bool { return true }

type scatterInputFlag struct {
	GlobalRank int
	Active     bool
}

func (t *BeamScatterTask) setup(ctx context.Context, haveInput bool) error {
	payload, err := encodeGob(scatterInputFlag{GlobalRank: t.world.Rank(), Active: haveInput})
	if err != nil {
		return err
	}
	all, err := t.world.AllGather(ctx, payload)
	if err != nil {
		return ingesterr.Wrap(ingesterr.TransportError, "BeamScatterTask", err)
	}

	activeFlags := make([]bool, len(all))
	for i, raw := range all {
		var f scatterInputFlag
		if err := decodeGob(raw, &f); err != nil {
			return ingesterr.Wrap(ingesterr.TransportError, "BeamScatterTask", err)
		}
		activeFlags[i] = f.Active
	}

	// Walk contiguous (1 active, k inactive) blocks; each forms a group of
	// size streamsPerGroup+1 with evenly-spaced inactive ranks activated.
	myLocal := t.world.Rank()
	colour := -1
	key := -1

	groupIdx := 0
	i := 0
	for i < len(activeFlags) {
		if !activeFlags[i] {
			i++
			continue
		}
		root := i
		j := i + 1
		for j < len(activeFlags) && !activeFlags[j] {
			j++
		}
		idle := j - root - 1

		members := []int{root}
		if idle > 0 && t.streamsPerGroup > 0 {
			step := idle / t.streamsPerGroup
			if step < 1 {
				step = 1
			}
			for k := 0; k < t.streamsPerGroup && root+1+k*step < j; k++ {
				members = append(members, root+1+k*step)
			}
		}

		for localKey, gr := range members {
			if gr == myLocal {
				colour = groupIdx
				key = localKey
			}
		}

		groupIdx++
		i = j
	}

	if colour < 0 {
		t.setupDone = true
		t.group = nil
		return nil
	}

	group, err := t.world.Split(ctx, colour, key)
	if err != nil {
		return ingesterr.Wrap(ingesterr.TransportError, "BeamScatterTask", err)
	}

	t.group = group
	t.isRoot = group.Rank() == 0
	t.setupDone = true
	return nil
}

type scatterHeader struct {
	MJD            float64
	Interval       float64
	ScanID         int
	TargetName     string
	DirectionFrame string
	Frequency      []float64
	Stokes         []string
}

type scatterRowRange struct {
	FirstRow int
	LastRow  int // inclusive, -1 if this stream gets no rows
}

type scatterRows struct {
	Antenna1    []int
	Antenna2    []int
	Beam1       []int
	Beam2       []int
	BeamPA      []float64
	PhaseCentre []vischunk.Direction
	UVW         []vischunk.UVW
	Visibility  []complex64
	Flag        []bool
	NChan       int
	NPol        int
}

func (t *BeamScatterTask) Process(ctx context.Context, chunk *vischunk.VisChunk) (*vischunk.VisChunk, error) {
	if !t.setupDone {
		if err := t.setup(ctx, chunk != nil); err != nil {
			return nil, err
		}
	}
	if t.group == nil {
		return nil, nil
	}

	if t.isRoot && chunk == nil {
		return nil, ingesterr.New(ingesterr.BadCycle, "BeamScatterTask", "root has no chunk to scatter")
	}

	var headerPayload []byte
	if t.isRoot {
		h := scatterHeader{
			MJD: chunk.MJD, Interval: chunk.Interval, ScanID: chunk.ScanID,
			TargetName: chunk.TargetName, DirectionFrame: chunk.DirectionFrame,
			Frequency: chunk.Frequency,
		}
		h.Stokes = make([]string, len(chunk.Stokes))
		for i, s := range chunk.Stokes {
			h.Stokes[i] = string(s)
		}
		raw, err := encodeGob(h)
		if err != nil {
			return nil, err
		}
		headerPayload = raw
	}
	headerRaw, err := t.group.Broadcast(ctx, 0, headerPayload)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.TransportError, "BeamScatterTask", err)
	}
	var header scatterHeader
	if err := decodeGob(headerRaw, &header); err != nil {
		return nil, ingesterr.Wrap(ingesterr.TransportError, "BeamScatterTask", err)
	}

	var parts [][]byte
	if t.isRoot {
		ranges, err := partitionRowsByBeam(chunk, t.group.Size()-1)
		if err != nil {
			return nil, err
		}
		parts = make([][]byte, t.group.Size())
		raw, err := encodeGob(sliceRows(chunk, 0, -1))
		if err != nil {
			return nil, err
		}
		parts[0] = raw
		for streamIdx, rng := range ranges {
			raw, err := encodeGob(sliceRows(chunk, rng.FirstRow, rng.LastRow))
			if err != nil {
				return nil, err
			}
			parts[streamIdx+1] = raw
		}
	}

	raw, err := t.group.Scatter(ctx, 0, parts)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.TransportError, "BeamScatterTask", err)
	}
	var rows scatterRows
	if err := decodeGob(raw, &rows); err != nil {
		return nil, ingesterr.Wrap(ingesterr.TransportError, "BeamScatterTask", err)
	}
	if len(rows.Antenna1) == 0 {
		return nil, nil
	}
	return buildChunkFromRows(header, rows), nil
}

func partitionRowsByBeam(chunk *vischunk.VisChunk, nStreams int) ([]scatterRowRange, error) {
	if nStreams <= 0 {
		return nil, ingesterr.New(ingesterr.ConfigInvalid, "BeamScatterTask", "nstreams must be positive")
	}

	blocks := make([]scatterRowRange, 0)
	row := 0
	for row < chunk.NRow() {
		beam := chunk.Beam1[row]
		start := row
		for row < chunk.NRow() && chunk.Beam1[row] == beam {
			row++
		}
		blocks = append(blocks, scatterRowRange{FirstRow: start, LastRow: row - 1})
	}

	// Verify contiguity: every row of a given beam must already have been
	// consumed by exactly one block (no beam interleaving).
	seen := map[int]bool{}
	for _, b := range blocks {
		beam := chunk.Beam1[b.FirstRow]
		if seen[beam] {
			return nil, ingesterr.New(ingesterr.ShapeMismatch, "BeamScatterTask", "beam rows are not contiguous")
		}
		seen[beam] = true
	}

	ranges := make([]scatterRowRange, nStreams)
	for i := range ranges {
		ranges[i] = scatterRowRange{FirstRow: -1, LastRow: -1}
	}
	for i, b := range blocks {
		stream := i * nStreams / len(blocks)
		if ranges[stream].FirstRow < 0 {
			ranges[stream] = b
		} else {
			ranges[stream].LastRow = b.LastRow
		}
	}
	return ranges, nil
}

func sliceRows(chunk *vischunk.VisChunk, first, last int) scatterRows {
	if first < 0 {
		return scatterRows{}
	}
	n := last - first + 1
	out := scatterRows{
		Antenna1: append([]int(nil), chunk.Antenna1[first:last+1]...),
		Antenna2: append([]int(nil), chunk.Antenna2[first:last+1]...),
		Beam1:    append([]int(nil), chunk.Beam1[first:last+1]...),
		Beam2:    append([]int(nil), chunk.Beam2[first:last+1]...),
		BeamPA:   append([]float64(nil), chunk.BeamPA[first:last+1]...),
		PhaseCentre: append([]vischunk.Direction(nil), chunk.PhaseCentre[first:last+1]...),
		UVW:         append([]vischunk.UVW(nil), chunk.UVW[first:last+1]...),
		NChan:       chunk.NChannel(),
		NPol:        chunk.NPol(),
	}
	out.Visibility = make([]complex64, n*out.NChan*out.NPol)
	out.Flag = make([]bool, len(out.Visibility))
	for localRow := 0; localRow < n; localRow++ {
		for ch := 0; ch < out.NChan; ch++ {
			for pol := 0; pol < out.NPol; pol++ {
				srcIdx := chunk.Index(first+localRow, ch, pol)
				dstIdx := (ch*out.NPol+pol)*n + localRow
				out.Visibility[dstIdx] = chunk.Visibility[srcIdx]
				out.Flag[dstIdx] = chunk.Flag[srcIdx]
			}
		}
	}
	return out
}

func buildChunkFromRows(header scatterHeader, rows scatterRows) *vischunk.VisChunk {
	nRow := len(rows.Antenna1)
	out := vischunk.New(nRow, rows.NChan, rows.NPol, 0)
	out.MJD = header.MJD
	out.Interval = header.Interval
	out.ScanID = header.ScanID
	out.TargetName = header.TargetName
	out.DirectionFrame = header.DirectionFrame
	out.Frequency = append([]float64(nil), header.Frequency...)
	for i, s := range header.Stokes {
		out.Stokes[i] = stokes.Stokes(s)
	}
	copy(out.Antenna1, rows.Antenna1)
	copy(out.Antenna2, rows.Antenna2)
	copy(out.Beam1, rows.Beam1)
	copy(out.Beam2, rows.Beam2)
	copy(out.BeamPA, rows.BeamPA)
	copy(out.PhaseCentre, rows.PhaseCentre)
	copy(out.UVW, rows.UVW)
	copy(out.Visibility, rows.Visibility)
	copy(out.Flag, rows.Flag)
	return out
}
