package visconverter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiotel/ingestd/internal/datagram"
	"github.com/radiotel/ingestd/pkg/baselinemap"
	"github.com/radiotel/ingestd/pkg/stokes"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

func newTestConverter(t *testing.T) (*Converter, *baselinemap.BaselineMap) {
	t.Helper()
	baselines := baselinemap.NewStandard(2)
	return New(baselines, 4, 0, nil), baselines
}

func TestDepositPlacesSamplesAtMappedRowAndChannel(t *testing.T) {
	conv, baselines := newTestConverter(t)
	productID := baselines.GetID(0, 1, stokes.XX)
	require.GreaterOrEqual(t, productID, 0)

	chunk := vischunk.New(baselines.Size(), 8, 1, 2)
	chunk.Stokes[0] = stokes.XX
	conv.BeginCycle(1)

	dg := datagram.Datagram{
		ProductID: productID,
		Beam:      0,
		Card:      0,
		Channel:   2,
		Samples:   []complex64{complex(5, 6)},
		Flags:     []bool{false},
	}
	conv.Deposit(dg, chunk, nil)

	row := rowOf(0, 1, 0, 2)
	idx := chunk.Index(row, 2, 0)
	assert.Equal(t, complex64(complex(5, 6)), chunk.Visibility[idx])
	assert.Equal(t, 1, conv.Useful())
	assert.Equal(t, 0, conv.Ignored())
}

func TestDepositIgnoresDuplicateWithinCycle(t *testing.T) {
	conv, baselines := newTestConverter(t)
	productID := baselines.GetID(0, 1, stokes.XX)
	chunk := vischunk.New(baselines.Size(), 8, 1, 2)
	chunk.Stokes[0] = stokes.XX
	conv.BeginCycle(2)

	dg := datagram.Datagram{ProductID: productID, Samples: []complex64{1}, Flags: []bool{false}}
	conv.Deposit(dg, chunk, nil)
	conv.Deposit(dg, chunk, nil)

	assert.Equal(t, 1, conv.Useful())
	assert.Equal(t, 1, conv.Ignored())
}

func TestDepositIgnoresUnknownProductID(t *testing.T) {
	conv, baselines := newTestConverter(t)
	chunk := vischunk.New(baselines.Size(), 8, 1, 2)
	conv.BeginCycle(1)

	dg := datagram.Datagram{ProductID: 9999, Samples: []complex64{1}}
	conv.Deposit(dg, chunk, nil)

	assert.Equal(t, 0, conv.Useful())
	assert.Equal(t, 1, conv.Ignored())
}

func TestDepositIgnoresUnmappedStokesColumn(t *testing.T) {
	conv, baselines := newTestConverter(t)
	productID := baselines.GetID(0, 1, stokes.XY)
	chunk := vischunk.New(baselines.Size(), 8, 1, 2)
	chunk.Stokes[0] = stokes.XX // only XX present, so XY has no column
	conv.BeginCycle(1)

	dg := datagram.Datagram{ProductID: productID, Samples: []complex64{1}}
	conv.Deposit(dg, chunk, nil)

	assert.Equal(t, 0, conv.Useful())
	assert.Equal(t, 1, conv.Ignored())
}

func TestDepositAppliesAntennaFlag(t *testing.T) {
	conv, baselines := newTestConverter(t)
	productID := baselines.GetID(0, 1, stokes.XX)
	chunk := vischunk.New(baselines.Size(), 8, 1, 2)
	chunk.Stokes[0] = stokes.XX
	conv.BeginCycle(1)

	dg := datagram.Datagram{ProductID: productID, Card: 0, Channel: 0, Samples: []complex64{1}, Flags: []bool{false}}
	conv.Deposit(dg, chunk, func(antenna int) bool { return antenna == 0 })

	row := rowOf(0, 1, 0, 2)
	idx := chunk.Index(row, 0, 0)
	assert.True(t, chunk.Flag[idx])
}

func TestGotAllExpectedDatagramsCountsUsefulAndIgnored(t *testing.T) {
	conv, baselines := newTestConverter(t)
	chunk := vischunk.New(baselines.Size(), 8, 1, 2)
	conv.BeginCycle(2)
	assert.False(t, conv.GotAllExpectedDatagrams())

	conv.Deposit(datagram.Datagram{ProductID: 9999}, chunk, nil)
	assert.False(t, conv.GotAllExpectedDatagrams())

	conv.Deposit(datagram.Datagram{ProductID: 9998}, chunk, nil)
	assert.True(t, conv.GotAllExpectedDatagrams())
}
