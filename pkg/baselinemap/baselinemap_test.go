package baselinemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiotel/ingestd/pkg/stokes"
)

func TestNewStandardSize(t *testing.T) {
	m := NewStandard(36)

	assert.Equal(t, 2628, m.Size())
	assert.Equal(t, 36, m.NAntenna())
	assert.True(t, m.IsLowerTriangle())
	assert.False(t, m.IsUpperTriangle())
}

func TestNewStandardDiagonalHasThreeProducts(t *testing.T) {
	m := NewStandard(4)

	count := 0
	for id := 1; id <= m.MaxID(); id++ {
		p, ok := m.Lookup(id)
		if ok && p.Ant1 == 2 && p.Ant2 == 2 {
			count++
		}
	}
	assert.Equal(t, 3, count)
}

func TestGetIDRoundTrip(t *testing.T) {
	m := NewStandard(4)

	id := m.GetID(1, 3, stokes.XY)
	require.NotEqual(t, -1, id)

	p, ok := m.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, 1, p.Ant1)
	assert.Equal(t, 3, p.Ant2)
	assert.Equal(t, stokes.XY, p.Stokes)
}

func TestNewExplicit(t *testing.T) {
	m := NewExplicit([]ExplicitEntry{
		{ID: 1, Ant1: 0, Ant2: 0, Stokes: stokes.XX},
		{ID: 2, Ant1: 0, Ant2: 1, Stokes: stokes.XX},
	})

	assert.Equal(t, 2, m.Size())
	assert.Equal(t, 2, m.NAntenna())
	assert.Equal(t, 2, m.MaxID())
}

func TestSliceRenumbersDensely(t *testing.T) {
	m := NewStandard(4)

	sliced, err := m.Slice([]int{1, 3})
	require.NoError(t, err)
	assert.Equal(t, 2, sliced.NAntenna())

	id := sliced.GetID(0, 1, stokes.XX)
	require.NotEqual(t, -1, id)
}

func TestSliceRejectsNonIncreasing(t *testing.T) {
	m := NewStandard(4)

	_, err := m.Slice([]int{2, 1})
	require.Error(t, err)
}

func TestResolveUnmappedIsUndefined(t *testing.T) {
	m := NewStandard(2)

	p := m.Resolve(9999)
	assert.Equal(t, stokes.Undefined, p.Stokes)
	assert.Equal(t, -1, p.Ant1)
}
