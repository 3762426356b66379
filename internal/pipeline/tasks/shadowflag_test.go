package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiotel/ingestd/pkg/vischunk"
)

func TestShadowFlagFlagsShortBaselines(t *testing.T) {
	task := &ShadowFlagTask{dishDiameter: 12}

	chunk := vischunk.New(2, 1, 1, 2)
	chunk.Antenna1[0], chunk.Antenna2[0] = 0, 1
	chunk.UVW[0] = vischunk.UVW{U: 3, V: 4} // length 5 < 12
	chunk.Antenna1[1], chunk.Antenna2[1] = 0, 1
	chunk.UVW[1] = vischunk.UVW{U: 30, V: 40} // length 50 > 12

	out, err := task.Process(context.Background(), chunk)
	require.NoError(t, err)

	assert.True(t, out.Flag[out.Index(0, 0, 0)])
	assert.False(t, out.Flag[out.Index(1, 0, 0)])
}

func TestShadowFlagDryRunDoesNotFlag(t *testing.T) {
	task := &ShadowFlagTask{dishDiameter: 12, dryRun: true}

	chunk := vischunk.New(1, 1, 1, 2)
	chunk.Antenna1[0], chunk.Antenna2[0] = 0, 1
	chunk.UVW[0] = vischunk.UVW{U: 3, V: 4}

	out, err := task.Process(context.Background(), chunk)
	require.NoError(t, err)
	assert.False(t, out.Flag[out.Index(0, 0, 0)])
}

func TestShadowFlagSkipsAutocorrelations(t *testing.T) {
	task := &ShadowFlagTask{dishDiameter: 12}

	chunk := vischunk.New(1, 1, 1, 1)
	chunk.Antenna1[0], chunk.Antenna2[0] = 0, 0
	chunk.UVW[0] = vischunk.UVW{U: 0, V: 0}

	out, err := task.Process(context.Background(), chunk)
	require.NoError(t, err)
	assert.False(t, out.Flag[out.Index(0, 0, 0)])
}

func TestShadowFlagNilChunk(t *testing.T) {
	task := &ShadowFlagTask{dishDiameter: 12}
	out, err := task.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}
