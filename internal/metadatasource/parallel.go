package metadatasource

import (
	"context"
	"encoding/json"

	"github.com/radiotel/ingestd/pkg/collective"
	"github.com/radiotel/ingestd/pkg/ingesterr"
)

// ParallelMetadataSource broadcasts every message the owning rank
// receives to its peers via the collective fabric, so all receiving
// ranks share one time base. Only rank ownerRank holds a real
// Subscriber; other ranks pass a nil inner Source.
type ParallelMetadataSource struct {
	comm      collective.Communicator
	ownerRank int
	inner     Source // non-nil only on ownerRank
}

func NewParallelMetadataSource(comm collective.Communicator, ownerRank int, inner Source) *ParallelMetadataSource {
	return &ParallelMetadataSource{comm: comm, ownerRank: ownerRank, inner: inner}
}

// Next fetches the next metadata cycle on ownerRank and broadcasts it;
// every rank, including ownerRank, returns via the same Broadcast call so
// all ranks observe the identical decoded value.
func (p *ParallelMetadataSource) Next(ctx context.Context, timeoutMicros int64) (TosMetadata, bool) {
	var payload []byte

	if p.comm.Rank() == p.ownerRank {
		m, ok := p.inner.Next(ctx, timeoutMicros)
		if ok {
			encoded, err := json.Marshal(m)
			if err == nil {
				payload = encoded
			}
		}
	}

	data, err := p.comm.Broadcast(ctx, p.ownerRank, payload)
	if err != nil {
		return TosMetadata{}, false
	}
	if len(data) == 0 {
		return TosMetadata{}, false
	}

	var m TosMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		_ = ingesterr.Wrap(ingesterr.TransportError, "metadatasource", err)
		return TosMetadata{}, false
	}
	return m, true
}
