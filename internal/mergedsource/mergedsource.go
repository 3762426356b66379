// Package mergedsource implements MergedSource, the source task that
// aligns the metadata and visibility streams, assembles a VisChunk per
// cycle and cross-checks UVWs.
package mergedsource

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/radiotel/ingestd/internal/ccalog"
	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/internal/datagram"
	"github.com/radiotel/ingestd/internal/metadatasource"
	"github.com/radiotel/ingestd/internal/visconverter"
	"github.com/radiotel/ingestd/pkg/baselinemap"
	"github.com/radiotel/ingestd/pkg/channelmanager"
	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/monitoring"
	"github.com/radiotel/ingestd/pkg/stokes"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

const (
	metadataPollTimeout = 10 * time.Second
	metadataMaxRetries  = 3
	uvwToleranceMetres  = 1e-3
)

// MergedSource is the source task: MetadataSource + VisSource in, one
// VisChunk per tick out.
type MergedSource struct {
	cfg        *config.Config
	vis        *datagram.VisSource
	meta       metadatasource.Source
	converter  *visconverter.Converter
	chanMgr    *channelmanager.ChannelManager
	baselines  *baselinemap.BaselineMap
	monitor    *monitoring.Monitor
	rank       int

	lastEmittedTimestampMicros int64
	haveEmitted                bool

	retryCount          int
	badUVWCounter       int
	maxBadUVWCycles     int
	lastReportedCatchUp int64
	lastFlaggedAntenna  []bool

	interrupted *int32
}

// New constructs a MergedSource for one rank.
func New(cfg *config.Config, vis *datagram.VisSource, meta metadatasource.Source,
	converter *visconverter.Converter, chanMgr *channelmanager.ChannelManager,
	baselines *baselinemap.BaselineMap, monitor *monitoring.Monitor, interrupted *int32) *MergedSource {
	return &MergedSource{
		cfg:                 cfg,
		vis:                 vis,
		meta:                meta,
		converter:           converter,
		chanMgr:             chanMgr,
		baselines:           baselines,
		monitor:             monitor,
		rank:                cfg.Rank,
		maxBadUVWCycles:     cfg.MergedSource.BadUVWMaxCycles,
		lastEmittedTimestampMicros: -1,
		interrupted:         interrupted,
	}
}

func (m *MergedSource) checkInterrupted() error {
	if m.interrupted != nil && atomic.LoadInt32(m.interrupted) != 0 {
		return ingesterr.New(ingesterr.Interrupted, "mergedsource", "interrupted")
	}
	return nil
}

// Next runs one cycle of the state machine: AwaitMetadata -> AwaitVis ->
// AlignStreams -> Accumulate -> Publish. complete=true means the
// observation finished cleanly (OBS_COMPLETE) and the pipeline should
// shut down; a (nil, false, nil) return means this tick produced no
// chunk because the vis and metadata streams were momentarily
// misaligned (an ordinary, recoverable per-cycle event), and the driver
// should simply call Next again on the next tick. A non-nil error is
// always fatal.
func (m *MergedSource) Next(ctx context.Context) (*vischunk.VisChunk, bool, error) {
	start := time.Now()

	meta, complete, err := m.awaitMetadata(ctx)
	if err != nil {
		return nil, false, err
	}
	if complete {
		return nil, true, nil
	}

	mode, ok := m.cfg.CorrelatorModes[meta.CorrelatorMode]
	if !ok {
		return nil, false, ingesterr.New(ingesterr.ConfigInvalid, "mergedsource", "unknown correlator mode "+meta.CorrelatorMode)
	}

	meta, dg, badCycle, err := m.awaitVis(ctx, meta, mode)
	if err != nil {
		return nil, false, err
	}

	meta, dg, skip, err := m.alignStreams(ctx, meta, dg, mode)
	if err != nil {
		return nil, false, err
	}
	if skip {
		return nil, false, nil
	}

	chunk, err := m.assemble(meta, mode)
	if err != nil {
		return nil, false, err
	}

	if err := m.accumulate(ctx, chunk, dg); err != nil {
		return nil, false, err
	}

	if err := m.checkTimestampMonotonic(meta.TimestampMicros); err != nil {
		return nil, false, err
	}

	m.publish(chunk, badCycle, time.Since(start))
	return chunk, false, nil
}

// awaitMetadata polls MetadataSource.next with ~10s timeouts, retrying up
// to metadataMaxRetries times. Returns (meta, complete, err).
func (m *MergedSource) awaitMetadata(ctx context.Context) (metadatasource.TosMetadata, bool, error) {
	for {
		if err := m.checkInterrupted(); err != nil {
			return metadatasource.TosMetadata{}, false, err
		}

		meta, ok := m.meta.Next(ctx, metadataPollTimeout.Microseconds())
		if !ok {
			m.retryCount++
			if m.retryCount > metadataMaxRetries {
				return metadatasource.TosMetadata{}, false, ingesterr.New(ingesterr.TransportError, "mergedsource", "metadata source exhausted retries")
			}
			continue
		}

		switch {
		case meta.ScanID == metadatasource.ScanIdle:
			m.retryCount = 0
			continue
		case meta.ScanID == metadatasource.ScanObsComplete:
			return metadatasource.TosMetadata{}, true, nil
		case meta.ScanID < 0:
			return metadatasource.TosMetadata{}, false, ingesterr.New(ingesterr.InvalidScan, "mergedsource", "negative, unrecognised scan id")
		}

		m.retryCount = 0
		return meta, false, nil
	}
}

// awaitVis calls VisSource.next with a timeout equal to the correlator
// interval. If the datagram and metadata timestamps differ by less than
// half an interval, the returned metadata carries the datagram time and
// the cycle is marked bad, absorbing rare hardware BAT glitches.
func (m *MergedSource) awaitVis(ctx context.Context, meta metadatasource.TosMetadata, mode config.CorrelatorMode) (metadatasource.TosMetadata, datagram.Datagram, bool, error) {
	if err := m.checkInterrupted(); err != nil {
		return meta, datagram.Datagram{}, false, err
	}

	intervalMicros := int64(mode.Interval * 1e6)
	dg, ok := m.vis.Next(intervalMicros)
	if !ok {
		return meta, datagram.Datagram{}, false, nil
	}

	half := intervalMicros / 2
	diff := abs64(dg.TimestampMicros - meta.TimestampMicros)
	if diff != 0 && diff < half {
		meta.TimestampMicros = dg.TimestampMicros
		return meta, dg, true, nil
	}

	return meta, dg, false, nil
}

// alignStreams advances whichever stream is older. Returns the possibly
// glitch-corrected timestamp context and whether the rank should skip
// this cycle (vis newer than metadata: discard metadata, empty chunk).
func (m *MergedSource) alignStreams(ctx context.Context, meta metadatasource.TosMetadata, dg datagram.Datagram, mode config.CorrelatorMode) (metadatasource.TosMetadata, datagram.Datagram, bool, error) {
	if dg.TimestampMicros == meta.TimestampMicros || dg.TimestampMicros == 0 {
		return meta, dg, false, nil
	}

	if dg.TimestampMicros < meta.TimestampMicros {
		// vis older: drain datagrams until one reaches metadata time.
		for dg.TimestampMicros < meta.TimestampMicros {
			if err := m.checkInterrupted(); err != nil {
				return meta, dg, false, err
			}
			if dg.TimestampMicros != m.lastReportedCatchUp {
				ccalog.Infof("mergedsource: rank %d catching up, vis BAT %d < metadata BAT %d", m.rank, dg.TimestampMicros, meta.TimestampMicros)
				m.lastReportedCatchUp = dg.TimestampMicros
			}
			next, ok := m.vis.Next(int64(mode.Interval * 1e6))
			if !ok {
				return meta, dg, false, nil
			}
			dg = next
		}
		return meta, dg, false, nil
	}

	// vis newer than metadata: discard this metadata cycle.
	return meta, dg, true, nil
}

// assemble builds the chunk's shape and metadata-derived fields; row
// geometry and UVW derivation happen in fillRowGeometry/accumulate once
// the chunk's rows are known to be populated.
func (m *MergedSource) assemble(meta metadatasource.TosMetadata, mode config.CorrelatorMode) (*vischunk.VisChunk, error) {
	nAntenna := m.baselines.NAntenna()
	beamsPerRank := 1 // ADE variant: one beam per receiving rank slice; no parset option changes it
	baselinesPerBeam := nAntenna * (nAntenna + 1) / 2
	nRow := baselinesPerBeam * beamsPerRank

	chunk := vischunk.New(nRow, mode.NChan, len(mode.Stokes), nAntenna)

	chunk.ScanID = meta.ScanID
	chunk.TargetName = meta.TargetName
	chunk.DirectionFrame = meta.DirectionFrame
	chunk.ChannelWidth = mode.ChannelWidth
	chunk.Interval = mode.Interval
	chunk.MJD = microsToMJD(meta.TimestampMicros)

	chunk.Frequency = m.chanMgr.Axis(centreFrequency(mode))
	for i, s := range mode.Stokes {
		chunk.Stokes[i] = stokes.Parse(s)
	}

	for r := 0; r < nRow; r++ {
		chunk.PhaseCentre[r] = meta.PhaseDirection
	}

	for a := 0; a < nAntenna && a < len(meta.Antennas); a++ {
		am := meta.Antennas[a]
		chunk.ActualDirection[a] = am.ActualDirection
		chunk.TargetDirection[a] = meta.TargetDirection
		chunk.ActualPolAngle[a] = am.ActualPolAngle
		chunk.Azimuth[a] = am.Azimuth
		chunk.Elevation[a] = am.Elevation
		chunk.OnSource[a] = am.OnSource
	}

	if err := m.fillRowGeometry(chunk, meta, nAntenna, beamsPerRank); err != nil {
		return nil, err
	}

	m.converter.BeginCycle(expectedDatagrams(nRow, mode.NChan))
	return chunk, nil
}

// fillRowGeometry fills antenna1/antenna2/beam indices and UVW per row,
// then runs the UVW cross-check.
func (m *MergedSource) fillRowGeometry(chunk *vischunk.VisChunk, meta metadatasource.TosMetadata, nAntenna, nBeam int) error {
	badRows := make(map[int]bool)

	flaggedAntenna := make([]bool, nAntenna)
	for a := 0; a < nAntenna && a < len(meta.Antennas); a++ {
		am := meta.Antennas[a]
		flaggedAntenna[a] = am.Flagged || !am.OnSource
	}
	m.lastFlaggedAntenna = flaggedAntenna

	row := 0
	for beam := 0; beam < nBeam; beam++ {
		for ant2 := 0; ant2 < nAntenna; ant2++ {
			for ant1 := 0; ant1 <= ant2; ant1++ {
				chunk.Antenna1[row] = ant1
				chunk.Antenna2[row] = ant2
				chunk.Beam1[row] = beam
				chunk.Beam2[row] = beam

				if !flaggedAntenna[ant1] && !flaggedAntenna[ant2] {
					u1, v1, w1 := beamUVW(meta.Antennas, ant1, beam)
					u2, v2, w2 := beamUVW(meta.Antennas, ant2, beam)
					uvw := vischunk.UVW{U: u1 - u2, V: v1 - v2, W: w1 - w2}
					chunk.UVW[row] = uvw

					length := math.Sqrt(uvw.U*uvw.U + uvw.V*uvw.V + uvw.W*uvw.W)
					if math.IsNaN(length) {
						badRows[row] = true
					} else if ant1 != ant2 && ant1 < len(m.cfg.Antennas) && ant2 < len(m.cfg.Antennas) {
						geom := itrfBaselineLength(m.cfg.Antennas[ant1].ITRF, m.cfg.Antennas[ant2].ITRF)
						if math.Abs(length-geom) > uvwToleranceMetres {
							badRows[row] = true
						}
					}
					if length == 0 {
						for ch := 0; ch < chunk.NChannel(); ch++ {
							for pol := 0; pol < chunk.NPol(); pol++ {
								chunk.Flag[chunk.Index(row, ch, pol)] = true
							}
						}
					}
				}
				row++
			}
		}
	}

	return m.applyBadUVWPolicy(chunk, badRows, flaggedAntenna, nAntenna, nBeam)
}

// applyBadUVWPolicy implements the bad-UVW fatal/soft-recovery policy:
// a cycle with bad UVWs flags the offending antennas and is otherwise
// let through; once the run of consecutive bad cycles exceeds
// maxBadUVWCycles, the policy gives up recovering and fails the cycle.
// A negative maxBadUVWCycles never fails.
func (m *MergedSource) applyBadUVWPolicy(chunk *vischunk.VisChunk, badRows map[int]bool, flaggedAntenna []bool, nAntenna, nBeam int) error {
	if len(badRows) == 0 {
		m.badUVWCounter = 0
		return nil
	}

	m.badUVWCounter++
	if m.maxBadUVWCycles >= 0 && m.badUVWCounter > m.maxBadUVWCycles {
		return ingesterr.New(ingesterr.BadUVW, "mergedsource",
			fmt.Sprintf("%d consecutive cycles with bad UVWs, exceeding limit %d", m.badUVWCounter, m.maxBadUVWCycles))
	}

	goodAntenna := make([]bool, nAntenna)
	for a := range goodAntenna {
		goodAntenna[a] = true
	}
	for row := range badRows {
		goodAntenna[chunk.Antenna1[row]] = false
		goodAntenna[chunk.Antenna2[row]] = false
	}

	for row := 0; row < chunk.NRow(); row++ {
		a1, a2 := chunk.Antenna1[row], chunk.Antenna2[row]
		if !goodAntenna[a1] || !goodAntenna[a2] {
			for ch := 0; ch < chunk.NChannel(); ch++ {
				for pol := 0; pol < chunk.NPol(); pol++ {
					chunk.Flag[chunk.Index(row, ch, pol)] = true
				}
			}
		}
	}

	for row := range badRows {
		if goodAntenna[chunk.Antenna1[row]] && goodAntenna[chunk.Antenna2[row]] {
			for ch := 0; ch < chunk.NChannel(); ch++ {
				for pol := 0; pol < chunk.NPol(); pol++ {
					chunk.Flag[chunk.Index(row, ch, pol)] = true
				}
			}
		}
	}

	if m.monitor != nil {
		m.monitor.FlaggedAntennas(m.rank, "mergedsource.baduvw", nAntenna-countTrue(goodAntenna))
	}
	return nil
}

// accumulate feeds matching datagrams into VisConverter until
// gotAllExpectedDatagrams() or VisSource.next times out. Antennas
// flagged or off-source for this cycle (computed in fillRowGeometry)
// are threaded through so VisConverter.Deposit flags their rows.
func (m *MergedSource) accumulate(ctx context.Context, chunk *vischunk.VisChunk, first datagram.Datagram) error {
	flaggedAntenna := m.lastFlaggedAntenna
	flaggedFn := func(antenna int) bool {
		return antenna >= 0 && antenna < len(flaggedAntenna) && flaggedAntenna[antenna]
	}

	if first.Samples != nil {
		m.converter.Deposit(first, chunk, flaggedFn)
	}

	for !m.converter.GotAllExpectedDatagrams() {
		if err := m.checkInterrupted(); err != nil {
			return err
		}
		dg, ok := m.vis.Next(int64(chunk.Interval * 1e6))
		if !ok {
			break
		}
		m.converter.Deposit(dg, chunk, flaggedFn)
	}
	return nil
}

func (m *MergedSource) checkTimestampMonotonic(timestampMicros int64) error {
	if m.haveEmitted && timestampMicros <= m.lastEmittedTimestampMicros {
		return ingesterr.New(ingesterr.DuplicateTimestamp, "mergedsource", "timestamp did not strictly increase")
	}
	m.lastEmittedTimestampMicros = timestampMicros
	m.haveEmitted = true
	return nil
}

// publish flags the whole chunk if badCycle was raised in awaitVis, and
// emits monitoring for this cycle's corner-turn duration.
func (m *MergedSource) publish(chunk *vischunk.VisChunk, badCycle bool, elapsed time.Duration) {
	if badCycle {
		for i := range chunk.Flag {
			chunk.Flag[i] = true
		}
	}
	if m.monitor != nil {
		m.monitor.CornerTurn(m.rank, "mergedsource", elapsed)
		m.monitor.BufferFill(m.rank, m.vis.Size(), m.vis.Capacity())
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func countTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

func microsToMJD(micros int64) float64 {
	const unixEpochMJD = 40587.0
	return unixEpochMJD + float64(micros)/86400e6
}

func centreFrequency(mode config.CorrelatorMode) float64 {
	return mode.FreqOffset + float64(mode.NChan)/2*mode.ChannelWidth
}

func expectedDatagrams(nRow, nChan int) int {
	return nRow * nChan
}

// beamUVW reads antenna's per-beam UVW triple from the metadata's
// per-antenna UVW vector (a scratch matrix of shape (nAntenna, 3*nBeam),
// here just indexed directly per antenna).
func beamUVW(antennas []metadatasource.AntennaMetadata, antenna, beam int) (float64, float64, float64) {
	if antenna < 0 || antenna >= len(antennas) {
		return math.NaN(), math.NaN(), math.NaN()
	}
	uvw := antennas[antenna].UVW
	base := beam * 3
	if base+2 >= len(uvw) {
		return math.NaN(), math.NaN(), math.NaN()
	}
	return uvw[base], uvw[base+1], uvw[base+2]
}

func itrfBaselineLength(p1, p2 [3]float64) float64 {
	dx, dy, dz := p1[0]-p2[0], p1[1]-p2[1], p1[2]-p2[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
