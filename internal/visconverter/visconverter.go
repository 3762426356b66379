// Package visconverter implements the ADE variant of VisConverter: maps
// each incoming datagram into (row, channel, pol) of the current
// VisChunk, rejecting duplicates and counting what it cannot place.
package visconverter

import (
	"github.com/radiotel/ingestd/internal/datagram"
	"github.com/radiotel/ingestd/pkg/baselinemap"
	"github.com/radiotel/ingestd/pkg/monitoring"
	"github.com/radiotel/ingestd/pkg/stokes"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

// Converter deposits datagrams into a VisChunk for one cycle.
type Converter struct {
	baselines      *baselinemap.BaselineMap
	channelsPerCard int
	rank           int
	monitor        *monitoring.Monitor

	seen     map[datagram.Identity]bool
	useful   int
	ignored  int
	expected int

	loggedUnknownStokes bool
}

// New constructs a Converter bound to the rank's (possibly sliced)
// baseline map.
func New(baselines *baselinemap.BaselineMap, channelsPerCard int, rank int, monitor *monitoring.Monitor) *Converter {
	return &Converter{
		baselines:       baselines,
		channelsPerCard: channelsPerCard,
		rank:            rank,
		monitor:         monitor,
		seen:            make(map[datagram.Identity]bool),
	}
}

// BeginCycle resets per-cycle duplicate tracking and sets the expected
// datagram count computed from the correlator mode when the chunk was
// initialised.
func (c *Converter) BeginCycle(expected int) {
	for k := range c.seen {
		delete(c.seen, k)
	}
	c.useful = 0
	c.ignored = 0
	c.expected = expected
}

// Useful, Ignored report this cycle's running counters.
func (c *Converter) Useful() int  { return c.useful }
func (c *Converter) Ignored() int { return c.ignored }

// GotAllExpectedDatagrams reports whether useful+ignored has reached the
// count expected for this cycle's correlator mode.
func (c *Converter) GotAllExpectedDatagrams() bool {
	return c.useful+c.ignored == c.expected
}

// mapChannel applies the fixed static within-card channel mapping: a
// card owns a contiguous block of channelsPerCard channels.
func (c *Converter) mapChannel(dg datagram.Datagram) int {
	return dg.Card*c.channelsPerCard + dg.Channel
}

// rowOf maps (ant1, ant2, beam) to a row using a closed-form triangular
// index over the lower-triangle (ant1 <= ant2) ordering, so no
// dictionary lookup is needed per datagram.
func rowOf(ant1, ant2, beam, nAntenna int) int {
	baselinesPerBeam := nAntenna * (nAntenna + 1) / 2
	triangularIndex := ant2*(ant2+1)/2 + ant1
	return beam*baselinesPerBeam + triangularIndex
}

// AntennaFlags reports cell-level antenna flags, looked up by the
// caller (MergedSource) from the current metadata cycle and passed in
// per datagram.
type AntennaFlags func(antenna int) bool

// Deposit places one datagram's samples into chunk.
func (c *Converter) Deposit(dg datagram.Datagram, chunk *vischunk.VisChunk, flagged AntennaFlags) {
	id := dg.Identity()
	if c.seen[id] {
		c.ignored++
		if c.monitor != nil {
			c.monitor.IgnoredDatagram(c.rank, "duplicate")
		}
		return
	}
	c.seen[id] = true

	product, ok := c.baselines.Lookup(dg.ProductID)
	if !ok {
		c.ignored++
		if c.monitor != nil {
			c.monitor.IgnoredDatagram(c.rank, "unknown_product")
		}
		return
	}

	pol := product.Stokes
	if pol == stokes.Undefined {
		c.ignored++
		if c.monitor != nil {
			c.monitor.IgnoredDatagram(c.rank, "unknown_stokes")
		}
		return
	}

	polIdx := -1
	for i, p := range chunk.Stokes {
		if p == pol {
			polIdx = i
			break
		}
	}
	if polIdx < 0 {
		c.ignored++
		if c.monitor != nil {
			c.monitor.IgnoredDatagram(c.rank, "unmapped_pol_column")
		}
		return
	}

	row := rowOf(product.Ant1, product.Ant2, dg.Beam, c.baselines.NAntenna())
	if row < 0 || row >= chunk.NRow() {
		c.ignored++
		if c.monitor != nil {
			c.monitor.IgnoredDatagram(c.rank, "row_out_of_range")
		}
		return
	}

	antFlagged := flagged != nil && (flagged(product.Ant1) || flagged(product.Ant2))

	for i, sample := range dg.Samples {
		globalChannel := c.mapChannel(dg) + i
		if globalChannel < 0 || globalChannel >= chunk.NChannel() {
			continue
		}
		idx := chunk.Index(row, globalChannel, polIdx)
		chunk.Visibility[idx] = sample
		flag := antFlagged || chunk.Flag[idx]
		if i < len(dg.Flags) {
			flag = flag || dg.Flags[i]
		}
		chunk.Flag[idx] = flag
	}

	c.useful++
}
