package tasks

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"math"

	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/internal/pipeline"
	"github.com/radiotel/ingestd/pkg/collective"
	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/stokes"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

func init() {
	pipeline.Register("ChannelMergeTask", newChannelMergeTask)
}

type channelMergeParams struct {
	Ranks2Merge int  `json:"ranks2merge"`
	SpareRanks  bool `json:"spare_ranks"`
}

// ChannelMergeTask gathers R adjacent ranks' channel-split chunks into
// one wider chunk on each group's root; the other ranks in the group
// deactivate for every subsequent task. Group formation happens once,
// lazily, on the first Process call, using world collectives.
type ChannelMergeTask struct {
	ranksPerGroup int
	spareRanks    bool

	world collective.Communicator

	setupDone bool
	group     collective.Communicator
	isRoot    bool
}

func newChannelMergeTask(cfg *config.Config, desc config.TaskDescriptor) (pipeline.Task, error) {
	var p channelMergeParams
	if err := json.Unmarshal(desc.Parameters, &p); err != nil {
		return nil, err
	}
	if cfg.World == nil {
		return nil, ingesterr.New(ingesterr.ConfigInvalid, "ChannelMergeTask", "no world communicator configured")
	}
	if p.Ranks2Merge <= 0 {
		p.Ranks2Merge = cfg.World.Size()
	}
	return &ChannelMergeTask{ranksPerGroup: p.Ranks2Merge, spareRanks: p.SpareRanks, world: cfg.World}, nil
}

func (t *ChannelMergeTask) Name() string        { return "ChannelMergeTask" }
func (t *ChannelMergeTask) IsAlwaysActive() bool { return true }

// mergeInputFlag is what every rank allgathers once, to let all ranks
// agree on which global ranks currently have input to contribute.
type mergeInputFlag struct {
	GlobalRank int
	Active     bool
}

func (t *ChannelMergeTask) setup(ctx context.Context, haveInput bool) error {
	payload, err := encodeGob(mergeInputFlag{GlobalRank: t.world.Rank(), Active: haveInput})
	if err != nil {
		return err
	}
	all, err := t.world.AllGather(ctx, payload)
	if err != nil {
		return ingesterr.Wrap(ingesterr.TransportError, "ChannelMergeTask", err)
	}

	active := make([]int, 0, len(all))
	for i, raw := range all {
		var f mergeInputFlag
		if err := decodeGob(raw, &f); err != nil {
			return ingesterr.Wrap(ingesterr.TransportError, "ChannelMergeTask", err)
		}
		if f.Active {
			active = append(active, i)
		}
	}

	groupSize := t.ranksPerGroup
	if len(active)%groupSize != 0 {
		return ingesterr.New(ingesterr.ShapeMismatch, "ChannelMergeTask", "active rank count not divisible by ranks2merge")
	}

	myLocal := t.world.Rank()
	groupIndex := -1
	for i, r := range active {
		if r == myLocal {
			groupIndex = i / groupSize
		}
	}

	colour := -1
	key := 0
	if groupIndex >= 0 {
		colour = groupIndex
		key = 1 // active members take key 1; a co-opted spare root takes key 0
	} else if t.spareRanks {
		idleIndex := 0
		for i := 0; i < t.world.Size(); i++ {
			if i == myLocal {
				break
			}
			isActive := false
			for _, r := range active {
				if r == i {
					isActive = true
					break
				}
			}
			if !isActive {
				idleIndex++
			}
		}
		if nGroups := len(active) / groupSize; nGroups > 0 {
			colour = idleIndex % nGroups
			key = 0
		}
	}

	if colour < 0 {
		// Rank participates in no group this run; it stays permanently
		// inactive for this task and everything downstream.
		t.setupDone = true
		t.group = nil
		return nil
	}

	group, err := t.world.Split(ctx, colour, key)
	if err != nil {
		return ingesterr.Wrap(ingesterr.TransportError, "ChannelMergeTask", err)
	}

	wantSize := groupSize
	if t.spareRanks {
		wantSize++
	}
	if group.Size() != wantSize {
		return ingesterr.New(ingesterr.ShapeMismatch, "ChannelMergeTask", "group size does not match ranks2merge (+spare)")
	}

	t.group = group
	t.isRoot = group.Rank() == 0
	t.setupDone = true
	return nil
}

// mergeRowPayload is one rank's contribution to the gather: its slice of
// the channel axis, plus the row/antenna-aligned fields the root needs
// to assemble the wider chunk (identical across the group's members,
// since per-row geometry is computed upstream of the merge).
type mergeRowPayload struct {
	Valid      bool
	MJD        float64
	Frequency  []float64
	Visibility []complex64
	Flag       []bool
	Template   *gobChunk
}

type gobChunk struct {
	Interval       float64
	ScanID         int
	TargetName     string
	DirectionFrame string
	Antenna1       []int
	Antenna2       []int
	Beam1          []int
	Beam2          []int
	BeamPA         []float64
	PhaseCentre    []vischunk.Direction
	UVW            []vischunk.UVW
	Stokes         []string
}

func (t *ChannelMergeTask) Process(ctx context.Context, chunk *vischunk.VisChunk) (*vischunk.VisChunk, error) {
	if !t.setupDone {
		if err := t.setup(ctx, chunk != nil); err != nil {
			return nil, err
		}
	}
	if t.group == nil {
		return nil, nil
	}

	mine := mergeRowPayload{Valid: chunk != nil}
	if chunk != nil {
		mine.MJD = chunk.MJD
		mine.Frequency = chunk.Frequency
		mine.Visibility = chunk.Visibility
		mine.Flag = chunk.Flag
		mine.Template = snapshotGobChunk(chunk)
	}

	payload, err := encodeGob(mine)
	if err != nil {
		return nil, err
	}

	parts, err := t.group.Gather(ctx, 0, payload)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.TransportError, "ChannelMergeTask", err)
	}
	if !t.isRoot {
		return nil, nil
	}

	members := make([]mergeRowPayload, len(parts))
	for i, raw := range parts {
		if err := decodeGob(raw, &members[i]); err != nil {
			return nil, ingesterr.Wrap(ingesterr.TransportError, "ChannelMergeTask", err)
		}
	}

	return t.assemble(members)
}

// assemble lays each valid member's channel slab contiguously along the
// root's channel axis; an invalid member's slab is zeroed and fully
// flagged rather than omitted, so the merged channel axis always has
// the expected total width.
func (t *ChannelMergeTask) assemble(members []mergeRowPayload) (*vischunk.VisChunk, error) {
	ref := majorityTimestamp(members)
	mismatched := 0
	for i := range members {
		if !members[i].Valid || math.Abs(members[i].MJD-ref) > timestampToleranceDays {
			members[i].Valid = false
			mismatched++
		}
	}

	var template *gobChunk
	for i := range members {
		if members[i].Template != nil {
			template = members[i].Template
			break
		}
	}
	if template == nil {
		return nil, ingesterr.New(ingesterr.BadCycle, "ChannelMergeTask", "no valid member in merge group this tick")
	}

	nRow := len(template.Antenna1)
	nPol := len(template.Stokes)

	// A member with no chunk this tick sends no frequency axis; its slab
	// takes the width of the widest member that did.
	slabWidth := 0
	for _, m := range members {
		if len(m.Frequency) > slabWidth {
			slabWidth = len(m.Frequency)
		}
	}
	totalChan := 0
	for _, m := range members {
		if len(m.Frequency) == 0 && !m.Valid {
			totalChan += slabWidth
			continue
		}
		totalChan += len(m.Frequency)
	}

	out := vischunk.New(nRow, totalChan, nPol, 0)
	out.MJD = ref
	out.Interval = template.Interval
	out.ScanID = template.ScanID
	out.TargetName = template.TargetName
	out.DirectionFrame = template.DirectionFrame
	copy(out.Antenna1, template.Antenna1)
	copy(out.Antenna2, template.Antenna2)
	copy(out.Beam1, template.Beam1)
	copy(out.Beam2, template.Beam2)
	copy(out.BeamPA, template.BeamPA)
	copy(out.PhaseCentre, template.PhaseCentre)
	copy(out.UVW, template.UVW)
	for i, s := range template.Stokes {
		out.Stokes[i] = stokes.Stokes(s)
	}

	freq := make([]float64, 0, totalChan)
	chanOffset := 0
	for _, m := range members {
		n := len(m.Frequency)
		if n == 0 && !m.Valid {
			n = slabWidth
		}
		if n == 0 {
			continue
		}
		if !m.Valid {
			freq = append(freq, make([]float64, n)...)
			for ch := 0; ch < n; ch++ {
				for row := 0; row < nRow; row++ {
					for pol := 0; pol < nPol; pol++ {
						out.Flag[out.Index(row, chanOffset+ch, pol)] = true
					}
				}
			}
			chanOffset += n
			continue
		}

		freq = append(freq, m.Frequency...)
		for ch := 0; ch < n; ch++ {
			for row := 0; row < nRow; row++ {
				for pol := 0; pol < nPol; pol++ {
					srcIdx := (ch*nPol+pol)*nRow + row
					dstIdx := out.Index(row, chanOffset+ch, pol)
					out.Visibility[dstIdx] = m.Visibility[srcIdx]
					out.Flag[dstIdx] = m.Flag[srcIdx]
				}
			}
		}
		chanOffset += n
	}
	out.Frequency = freq

	if err := checkContiguousFrequency(freq); err != nil {
		return nil, err
	}
	return out, nil
}

const timestampToleranceDays = 0.5 / 86400.0 // half a second, in MJD units

func majorityTimestamp(members []mergeRowPayload) float64 {
	counts := map[float64]int{}
	best := 0.0
	bestCount := -1
	for _, m := range members {
		if !m.Valid {
			continue
		}
		counts[m.MJD]++
		if counts[m.MJD] > bestCount {
			bestCount = counts[m.MJD]
			best = m.MJD
		}
	}
	return best
}

func checkContiguousFrequency(freq []float64) error {
	if len(freq) < 3 {
		return nil
	}
	step := freq[1] - freq[0]
	for i := 1; i < len(freq)-1; i++ {
		got := freq[i+1] - freq[i]
		if math.Abs(got-step) > 1000 {
			return ingesterr.New(ingesterr.ShapeMismatch, "ChannelMergeTask", "merged frequency axis not contiguous within 1kHz")
		}
	}
	return nil
}

func snapshotGobChunk(chunk *vischunk.VisChunk) *gobChunk {
	stokesStrings := make([]string, len(chunk.Stokes))
	for i, s := range chunk.Stokes {
		stokesStrings[i] = string(s)
	}
	return &gobChunk{
		Interval:       chunk.Interval,
		ScanID:         chunk.ScanID,
		TargetName:     chunk.TargetName,
		DirectionFrame: chunk.DirectionFrame,
		Antenna1:       chunk.Antenna1,
		Antenna2:       chunk.Antenna2,
		Beam1:          chunk.Beam1,
		Beam2:          chunk.Beam2,
		BeamPA:         chunk.BeamPA,
		PhaseCentre:    chunk.PhaseCentre,
		UVW:            chunk.UVW,
		Stokes:         stokesStrings,
	}
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, ingesterr.Wrap(ingesterr.TransportError, "collective-codec", err)
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return ingesterr.Wrap(ingesterr.TransportError, "collective-codec", err)
	}
	return nil
}
