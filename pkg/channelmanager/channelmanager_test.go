package channelmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAxisContiguousAcrossRanks(t *testing.T) {
	width := 1000.0
	nChan := 4
	nRanks := 3
	centre := 1.0e9

	var all []float64
	for rank := 0; rank < nRanks; rank++ {
		cm := New(width, nChan, rank, nRanks)
		all = append(all, cm.Axis(centre)...)
	}

	for i := 1; i < len(all); i++ {
		assert.InDelta(t, width, all[i]-all[i-1], 1e-6)
	}
}

func TestAxisLength(t *testing.T) {
	cm := New(500.0, 8, 1, 4)
	axis := cm.Axis(1.4e9)
	assert.Len(t, axis, 8)
}
