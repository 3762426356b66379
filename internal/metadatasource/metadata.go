// Package metadatasource subscribes to the low-rate telescope metadata
// topic and, in multi-rank mode, fans the stream out to peers over the
// collective fabric so every receiving rank shares one time base.
package metadatasource

import (
	"context"
	"encoding/json"
	"time"

	"github.com/radiotel/ingestd/pkg/vischunk"
)

// Scan id sentinels.
const (
	ScanIdle        = -1
	ScanObsComplete = -2
)

// AntennaMetadata is one antenna's block within a metadata cycle.
type AntennaMetadata struct {
	ActualDirection vischunk.Direction `json:"actualDirection"`
	ActualPolAngle  float64            `json:"actualPolAngle"`
	Azimuth         float64            `json:"azimuth"`
	Elevation       float64            `json:"elevation"`
	Flagged         bool               `json:"flagged"`
	OnSource        bool               `json:"onSource"`

	// UVW is this antenna's per-beam UVW vector, length 3*nBeamInMetadata
	// (beam-major u,v,w triples).
	UVW []float64 `json:"uvw"`
}

// TosMetadata is one integration's worth of telescope state: pointing,
// timing and scan state, as published on the metadata topic.
type TosMetadata struct {
	SBID           int               `json:"sbid"`
	ScanID         int               `json:"scanId"`
	TimestampMicros int64            `json:"timestampMicros"`
	CorrelatorMode string            `json:"correlatorMode"`
	DirectionFrame string            `json:"directionFrame"`
	PhaseDirection vischunk.Direction `json:"phaseDirection"`
	TargetName     string            `json:"targetName"`
	TargetDirection vischunk.Direction `json:"targetDirection"`

	Antennas []AntennaMetadata `json:"antennas"`

	// BeamOffsets is shape (2, nBeam) flattened row-major when present.
	BeamOffsets []float64 `json:"beamOffsets,omitempty"`
}

// Source exposes next(timeoutMicros) -> optional<TosMetadata>, implemented
// by both the real subscriber and NoMetadataSource.
type Source interface {
	Next(ctx context.Context, timeoutMicros int64) (TosMetadata, bool)
}

// Subscriber is a Source backed by a NATS topic subscription. Only the
// rank designated to own the subscription (see ParallelMetadataSource)
// constructs one.
type Subscriber struct {
	ch chan TosMetadata
}

// NewSubscriber registers handler on the client for topic and returns a
// Source that yields decoded messages in arrival order.
func NewSubscriber(subscribe func(handler func(data []byte)) error) (*Subscriber, error) {
	s := &Subscriber{ch: make(chan TosMetadata, 64)}
	err := subscribe(func(data []byte) {
		var m TosMetadata
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		select {
		case s.ch <- m:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Subscriber) Next(ctx context.Context, timeoutMicros int64) (TosMetadata, bool) {
	timer := time.NewTimer(time.Duration(timeoutMicros) * time.Microsecond)
	defer timer.Stop()

	select {
	case m := <-s.ch:
		return m, true
	case <-timer.C:
		return TosMetadata{}, false
	case <-ctx.Done():
		return TosMetadata{}, false
	}
}
