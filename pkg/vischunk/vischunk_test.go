package vischunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/stokes"
)

func TestNewShape(t *testing.T) {
	c := New(6, 4, 2, 3)

	assert.Equal(t, 6, c.NRow())
	assert.Equal(t, 4, c.NChannel())
	assert.Equal(t, 2, c.NPol())
	assert.Equal(t, 3, c.NAntenna())

	assert.Len(t, c.Visibility, 6*4*2)
	assert.Len(t, c.Flag, 6*4*2)
	assert.Len(t, c.Antenna1, 6)
	assert.Len(t, c.TargetDirection, 3)
	assert.Len(t, c.Frequency, 4)
	assert.Len(t, c.Stokes, 2)
}

func TestIndexRowFastest(t *testing.T) {
	c := New(3, 2, 2, 1)

	// Same (channel, pol) pair, adjacent rows must be adjacent in memory.
	assert.Equal(t, 0, c.Index(0, 0, 0))
	assert.Equal(t, 1, c.Index(1, 0, 0))
	assert.Equal(t, 2, c.Index(2, 0, 0))
	// Next (channel, pol) slab starts right after the first.
	assert.Equal(t, 3, c.Index(0, 0, 1))
	assert.Equal(t, 6, c.Index(0, 1, 0))
}

func TestCloneIsDeep(t *testing.T) {
	c := New(2, 1, 1, 1)
	c.Visibility[0] = complex(1, 2)
	c.Antenna1[0] = 5
	c.Stokes[0] = stokes.XX

	clone := c.Clone()
	clone.Visibility[0] = complex(9, 9)
	clone.Antenna1[0] = 7

	assert.Equal(t, complex64(complex(1, 2)), c.Visibility[0])
	assert.Equal(t, 5, c.Antenna1[0])
	assert.Equal(t, stokes.XX, clone.Stokes[0])
}

func TestResizeChannelAxis(t *testing.T) {
	c := New(2, 3, 1, 1)

	newFreq := []float64{1, 2}
	newVis := make([]complex64, 2*2*1)
	newFlag := make([]bool, 2*2*1)

	require.NoError(t, c.Resize(newVis, newFlag, newFreq))
	assert.Equal(t, 2, c.NChannel())
	assert.Equal(t, 2, c.NRow())
}

func TestResizeRejectsShapeMismatch(t *testing.T) {
	c := New(2, 3, 1, 1)

	err := c.Resize(make([]complex64, 5), make([]bool, 5), []float64{1, 2})
	require.Error(t, err)
	assert.True(t, ingesterr.As(err, ingesterr.ShapeMismatch))
}
