// Package tasks implements the pipeline stages registered with the
// pipeline package's task factory: collective redistribution tasks,
// per-row recomputation tasks, policy-based flagging tasks and the two
// terminal sinks.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/internal/pipeline"
	"github.com/radiotel/ingestd/pkg/framecache"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

func init() {
	pipeline.Register("CalcUVWTask", newCalcUVWTask)
}

// calcUVWParams is CalcUVWTask's parset section.
type calcUVWParams struct {
	CacheMemoryBytes int `json:"cacheMemoryBytes"`
}

// CalcUVWTask recomputes each row's UVW from the array's ITRF antenna
// positions: form the topocentric (hour angle, declination) frame for
// the row's beam-shifted phase centre at the chunk's epoch, then rotate
// the ITRF baseline vector into it. The (epoch, beam) frame is cached
// since every row sharing a beam in a cycle reuses it.
type CalcUVWTask struct {
	frames   *framecache.Cache
	antennas []config.Antenna
	siteLon  float64
}

func newCalcUVWTask(cfg *config.Config, desc config.TaskDescriptor) (pipeline.Task, error) {
	var p calcUVWParams
	if len(desc.Parameters) > 0 {
		if err := json.Unmarshal(desc.Parameters, &p); err != nil {
			return nil, err
		}
	}
	if p.CacheMemoryBytes <= 0 {
		p.CacheMemoryBytes = 8 << 20
	}

	var siteLon float64
	if len(cfg.Antennas) > 0 {
		// Geodetic longitude of the array reference antenna, derived
		// from its ITRF X/Y rather than carried as separate config: the
		// antenna list is the one place the array's location lives.
		ref := cfg.Antennas[0].ITRF
		siteLon = math.Atan2(ref[1], ref[0])
	}

	return &CalcUVWTask{
		frames:   framecache.New(p.CacheMemoryBytes),
		antennas: cfg.Antennas,
		siteLon:  siteLon,
	}, nil
}

func (t *CalcUVWTask) Name() string        { return "CalcUVWTask" }
func (t *CalcUVWTask) IsAlwaysActive() bool { return false }

type frameKey struct {
	epochSec int64
	beam     int
}

// rotationFrame is the cached per-(epoch,beam) hour-angle/declination
// basis used to project ITRF baseline vectors into UVW.
type rotationFrame struct {
	sinH, cosH, sinDec, cosDec float64
}

func (t *CalcUVWTask) frame(epochSec int64, beam int, dir vischunk.Direction, offsetX, offsetY float64) rotationFrame {
	key := frameKeyString(frameKey{epochSec: epochSec, beam: beam})
	v := t.frames.Get(key, func() (interface{}, time.Duration, int) {
		ra, dec := shiftDirection(dir.Lon, dir.Lat, offsetX, offsetY)
		h := hourAngle(float64(epochSec)/86400.0, t.siteLon, ra)
		f := rotationFrame{
			sinH: math.Sin(h), cosH: math.Cos(h),
			sinDec: math.Sin(dec), cosDec: math.Cos(dec),
		}
		return f, 10 * time.Minute, 64
	})
	return v.(rotationFrame)
}

func frameKeyString(k frameKey) string {
	return fmt.Sprintf("%d:%d", k.epochSec, k.beam)
}

// shiftDirection applies a small-angle beam offset (offsetX across RA,
// offsetY across dec, both radians) to a phase centre, mirroring a
// dish-frame pointing offset expressed in the tangent plane.
func shiftDirection(ra, dec, offsetX, offsetY float64) (float64, float64) {
	cosDec := math.Cos(dec)
	if cosDec == 0 {
		cosDec = 1e-12
	}
	return ra - offsetX/cosDec, dec + offsetY
}

const j2000MJD = 51544.5

// gmstRadians is the IAU 1982 linear approximation to Greenwich Mean
// Sidereal Time at mjd, accurate to within a few arcseconds over the
// timescales a single observation spans.
func gmstRadians(mjd float64) float64 {
	d := mjd - j2000MJD
	deg := 280.46061837 + 360.98564736629*d
	return normalizeAngle(deg * math.Pi / 180)
}

// hourAngle is the local hour angle of ra at mjd for an array at
// geodetic longitude siteLon (radians, east-positive).
func hourAngle(mjd, siteLon, ra float64) float64 {
	lst := gmstRadians(mjd) + siteLon
	return normalizeAngle(lst - ra)
}

func normalizeAngle(a float64) float64 {
	const twoPi = 2 * math.Pi
	a = math.Mod(a, twoPi)
	if a < 0 {
		a += twoPi
	}
	return a
}

// Process recomputes uvw[row] = R(H, dec) * (posAnt2 - posAnt1) from the
// array's ITRF antenna positions and the row's beam-shifted phase
// centre at the chunk's epoch.
func (t *CalcUVWTask) Process(ctx context.Context, chunk *vischunk.VisChunk) (*vischunk.VisChunk, error) {
	if chunk == nil {
		return nil, nil
	}
	if len(t.antennas) == 0 {
		return chunk, nil
	}

	epochSec := int64(chunk.MJD * 86400)

	for row := 0; row < chunk.NRow(); row++ {
		a1, a2 := chunk.Antenna1[row], chunk.Antenna2[row]
		if a1 < 0 || a2 < 0 || a1 >= len(t.antennas) || a2 >= len(t.antennas) {
			continue
		}

		beam := chunk.Beam1[row]
		var offsetX, offsetY float64
		if beam >= 0 && beam < len(chunk.BeamOffsets[0]) {
			offsetX = chunk.BeamOffsets[0][beam]
		}
		if beam >= 0 && beam < len(chunk.BeamOffsets[1]) {
			offsetY = chunk.BeamOffsets[1][beam]
		}

		f := t.frame(epochSec, beam, chunk.PhaseCentre[row], offsetX, offsetY)

		p1, p2 := t.antennas[a1].ITRF, t.antennas[a2].ITRF
		dx := p2[0] - p1[0]
		dy := p2[1] - p1[1]
		dz := p2[2] - p1[2]

		chunk.UVW[row] = vischunk.UVW{
			U: f.sinH*dx + f.cosH*dy,
			V: -f.sinDec*f.cosH*dx + f.sinDec*f.sinH*dy + f.cosDec*dz,
			W: f.cosDec*f.cosH*dx - f.cosDec*f.sinH*dy + f.sinDec*dz,
		}
	}

	return chunk, nil
}
