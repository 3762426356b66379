// Package vischunk defines VisChunk, the per-cycle per-rank container
// every pipeline task reads and mutates: visibility cube, flag cube,
// row-aligned baseline metadata, antenna-aligned pointing, the frequency
// and Stokes axes.
package vischunk

import (
	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/stokes"
)

// Direction is a two-angle sky position (radians); the reference frame it
// is expressed in is carried once per chunk in DirectionFrame.
type Direction struct {
	Lon, Lat float64
}

// UVW is a baseline vector in metres.
type UVW struct {
	U, V, W float64
}

// VisChunk is one integration's worth of visibility data for one rank.
// Visibility and Flag are flat, row-fastest buffers of shape
// (nChannel, nPol, nRow): index = (channel*nPol+pol)*nRow+row. This keeps
// one row's samples contiguous across a fixed (channel, pol) the way
// VisConverter deposits them, and keeps the whole cube in one contiguous
// allocation rather than a slice of slices.
type VisChunk struct {
	MJD            float64
	Interval       float64
	ScanID         int
	TargetName     string
	ChannelWidth   float64
	DirectionFrame string

	Antenna1    []int
	Antenna2    []int
	Beam1       []int
	Beam2       []int
	BeamPA      []float64
	PhaseCentre []Direction
	UVW         []UVW

	TargetDirection []Direction
	ActualDirection []Direction
	ActualPolAngle  []float64
	Azimuth         []float64
	Elevation       []float64
	OnSource        []bool

	Frequency []float64
	Stokes    []stokes.Stokes

	Visibility []complex64
	Flag       []bool

	BeamOffsets [2][]float64

	nRow, nChannel, nPol, nAntenna int
}

// New allocates a VisChunk with all row/antenna/channel/pol-sized storage
// for the given shape. Cubes are left uninitialised (zero-valued).
func New(nRow, nChannel, nPol, nAntenna int) *VisChunk {
	c := &VisChunk{
		nRow: nRow, nChannel: nChannel, nPol: nPol, nAntenna: nAntenna,

		Antenna1:    make([]int, nRow),
		Antenna2:    make([]int, nRow),
		Beam1:       make([]int, nRow),
		Beam2:       make([]int, nRow),
		BeamPA:      make([]float64, nRow),
		PhaseCentre: make([]Direction, nRow),
		UVW:         make([]UVW, nRow),

		TargetDirection: make([]Direction, nAntenna),
		ActualDirection: make([]Direction, nAntenna),
		ActualPolAngle:  make([]float64, nAntenna),
		Azimuth:         make([]float64, nAntenna),
		Elevation:       make([]float64, nAntenna),
		OnSource:        make([]bool, nAntenna),

		Frequency: make([]float64, nChannel),
		Stokes:    make([]stokes.Stokes, nPol),

		Visibility: make([]complex64, nRow*nChannel*nPol),
		Flag:       make([]bool, nRow*nChannel*nPol),
	}
	return c
}

// NRow, NChannel, NPol, NAntenna report the chunk's current shape.
func (c *VisChunk) NRow() int      { return c.nRow }
func (c *VisChunk) NChannel() int  { return c.nChannel }
func (c *VisChunk) NPol() int      { return c.nPol }
func (c *VisChunk) NAntenna() int  { return c.nAntenna }

// Index returns the flat Visibility/Flag index for (row, channel, pol).
func (c *VisChunk) Index(row, channel, pol int) int {
	return (channel*c.nPol+pol)*c.nRow + row
}

// Clone deep-copies c. VisChunks never share storage after cloning; Go
// has no assignment operator to misuse, so this is the only copy path.
func (c *VisChunk) Clone() *VisChunk {
	clone := *c

	clone.Antenna1 = append([]int(nil), c.Antenna1...)
	clone.Antenna2 = append([]int(nil), c.Antenna2...)
	clone.Beam1 = append([]int(nil), c.Beam1...)
	clone.Beam2 = append([]int(nil), c.Beam2...)
	clone.BeamPA = append([]float64(nil), c.BeamPA...)
	clone.PhaseCentre = append([]Direction(nil), c.PhaseCentre...)
	clone.UVW = append([]UVW(nil), c.UVW...)

	clone.TargetDirection = append([]Direction(nil), c.TargetDirection...)
	clone.ActualDirection = append([]Direction(nil), c.ActualDirection...)
	clone.ActualPolAngle = append([]float64(nil), c.ActualPolAngle...)
	clone.Azimuth = append([]float64(nil), c.Azimuth...)
	clone.Elevation = append([]float64(nil), c.Elevation...)
	clone.OnSource = append([]bool(nil), c.OnSource...)

	clone.Frequency = append([]float64(nil), c.Frequency...)
	clone.Stokes = append([]stokes.Stokes(nil), c.Stokes...)

	clone.Visibility = append([]complex64(nil), c.Visibility...)
	clone.Flag = append([]bool(nil), c.Flag...)

	clone.BeamOffsets[0] = append([]float64(nil), c.BeamOffsets[0]...)
	clone.BeamOffsets[1] = append([]float64(nil), c.BeamOffsets[1]...)

	return &clone
}

// Resize replaces only the channel axis: vis and flag must already be
// shaped for (nRow, len(freq), nPol) of this chunk; row and pol counts
// must match the existing chunk or ShapeMismatch is returned.
func (c *VisChunk) Resize(vis []complex64, flag []bool, freq []float64) error {
	nChannel := len(freq)
	want := c.nRow * nChannel * c.nPol
	if len(vis) != want || len(flag) != want {
		return ingesterr.New(ingesterr.ShapeMismatch, "vischunk",
			"resize: visibility/flag length does not match nRow*nChannel*nPol")
	}

	c.Visibility = vis
	c.Flag = flag
	c.Frequency = freq
	c.nChannel = nChannel
	return nil
}
