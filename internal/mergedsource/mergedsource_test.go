package mergedsource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

func TestApplyBadUVWPolicyClearsCounterOnCleanCycle(t *testing.T) {
	m := &MergedSource{maxBadUVWCycles: 1, badUVWCounter: 3}
	chunk := vischunk.New(1, 1, 1, 2)

	err := m.applyBadUVWPolicy(chunk, map[int]bool{}, []bool{false, false}, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, m.badUVWCounter)
}

func TestApplyBadUVWPolicyFlagsAntennasWithinLimit(t *testing.T) {
	m := &MergedSource{maxBadUVWCycles: 5}
	chunk := vischunk.New(1, 1, 1, 2)
	chunk.Antenna1[0], chunk.Antenna2[0] = 0, 1

	err := m.applyBadUVWPolicy(chunk, map[int]bool{0: true}, []bool{false, false}, 2, 1)
	require.NoError(t, err)
	assert.True(t, chunk.Flag[chunk.Index(0, 0, 0)])
}

func TestApplyBadUVWPolicyFailsCycleWhenLimitExceeded(t *testing.T) {
	m := &MergedSource{maxBadUVWCycles: 1, badUVWCounter: 1}
	chunk := vischunk.New(1, 1, 1, 2)
	chunk.Antenna1[0], chunk.Antenna2[0] = 0, 1

	err := m.applyBadUVWPolicy(chunk, map[int]bool{0: true}, []bool{false, false}, 2, 1)
	require.Error(t, err)
	assert.True(t, ingesterr.As(err, ingesterr.BadUVW))
	assert.Equal(t, 2, m.badUVWCounter)
}

func TestApplyBadUVWPolicyNegativeMaxDisablesLimit(t *testing.T) {
	m := &MergedSource{maxBadUVWCycles: -1, badUVWCounter: 1000}
	chunk := vischunk.New(1, 1, 1, 2)
	chunk.Antenna1[0], chunk.Antenna2[0] = 0, 1

	err := m.applyBadUVWPolicy(chunk, map[int]bool{0: true}, []bool{false, false}, 2, 1)
	require.NoError(t, err)
}

func TestCheckTimestampMonotonicAcceptsStrictIncrease(t *testing.T) {
	m := &MergedSource{}
	require.NoError(t, m.checkTimestampMonotonic(100))
	require.NoError(t, m.checkTimestampMonotonic(200))
}

func TestCheckTimestampMonotonicRejectsNonIncreasing(t *testing.T) {
	m := &MergedSource{}
	require.NoError(t, m.checkTimestampMonotonic(100))

	err := m.checkTimestampMonotonic(100)
	require.Error(t, err)
	assert.True(t, ingesterr.As(err, ingesterr.DuplicateTimestamp))

	err = m.checkTimestampMonotonic(50)
	require.Error(t, err)
	assert.True(t, ingesterr.As(err, ingesterr.DuplicateTimestamp))
}
