package mergedsource

import (
	"context"
	"time"

	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/internal/metadatasource"
)

// NoMetadataSource fabricates a metadata cycle from the parset on every
// call, for test and mock operation where no real telescope metadata
// topic is available.
type NoMetadataSource struct {
	cfg       *config.Config
	scanID    int
	targetName string
	mode      string
	interval  time.Duration
	nextTimestampMicros int64
}

// NewNoMetadataSource builds a fixed synthetic metadata stream that
// advances its timestamp by interval every call.
func NewNoMetadataSource(cfg *config.Config, mode string, scanID int, targetName string, interval time.Duration, startMicros int64) *NoMetadataSource {
	return &NoMetadataSource{
		cfg:                 cfg,
		scanID:              scanID,
		targetName:          targetName,
		mode:                mode,
		interval:            interval,
		nextTimestampMicros: startMicros,
	}
}

func (s *NoMetadataSource) Next(ctx context.Context, timeoutMicros int64) (metadatasource.TosMetadata, bool) {
	m := metadatasource.TosMetadata{
		SBID:            s.cfg.SBID,
		ScanID:          s.scanID,
		TimestampMicros: s.nextTimestampMicros,
		CorrelatorMode:  s.mode,
		DirectionFrame:  "J2000",
		TargetName:      s.targetName,
	}

	m.Antennas = make([]metadatasource.AntennaMetadata, len(s.cfg.Antennas))
	for i := range m.Antennas {
		m.Antennas[i] = metadatasource.AntennaMetadata{
			OnSource: true,
			UVW:      []float64{0, 0, 0},
		}
	}

	s.nextTimestampMicros += s.interval.Microseconds()
	return m, true
}
