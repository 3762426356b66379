package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiotel/ingestd/pkg/ingesterr"
)

func TestClassifyAssignsReceiverIDsSkippingServiceRanks(t *testing.T) {
	cfg := &Config{NProcs: 4, ServiceRanks: []int{1}}

	cfg.Rank = 0
	require.NoError(t, cfg.classify())
	assert.Equal(t, 0, cfg.ReceiverID())
	assert.Equal(t, 3, cfg.NReceivingProcs())
	assert.False(t, cfg.IsServiceRank())

	cfg.Rank = 2
	require.NoError(t, cfg.classify())
	assert.Equal(t, 1, cfg.ReceiverID())

	cfg.Rank = 3
	require.NoError(t, cfg.classify())
	assert.Equal(t, 2, cfg.ReceiverID())
}

func TestClassifyServiceRankHasNoReceiverID(t *testing.T) {
	cfg := &Config{NProcs: 4, ServiceRanks: []int{1}, Rank: 1}
	require.NoError(t, cfg.classify())
	assert.Equal(t, -1, cfg.ReceiverID())
	assert.True(t, cfg.IsServiceRank())
}

func TestClassifyRejectsNegativeServiceRank(t *testing.T) {
	cfg := &Config{NProcs: 2, ServiceRanks: []int{-1}}
	err := cfg.classify()
	require.Error(t, err)
	assert.True(t, ingesterr.As(err, ingesterr.ConfigInvalid))
}

func TestClassifyRejectsDuplicateServiceRank(t *testing.T) {
	cfg := &Config{NProcs: 4, ServiceRanks: []int{1, 1}}
	err := cfg.classify()
	require.Error(t, err)
	assert.True(t, ingesterr.As(err, ingesterr.ConfigInvalid))
}

func TestClassifyNoServiceRanksEveryoneReceives(t *testing.T) {
	cfg := &Config{NProcs: 3, Rank: 2}
	require.NoError(t, cfg.classify())
	assert.Equal(t, 2, cfg.ReceiverID())
	assert.Equal(t, 3, cfg.NReceivingProcs())
}
