package tasks

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

func newFlagTaskFor(t *testing.T, condition string) *FlagTask {
	t.Helper()
	params, err := json.Marshal(flagParams{Condition: condition})
	require.NoError(t, err)
	task, err := newFlagTask(&config.Config{}, config.TaskDescriptor{Parameters: params})
	require.NoError(t, err)
	return task.(*FlagTask)
}

func TestFlagTaskFlagsMatchingRows(t *testing.T) {
	task := newFlagTaskFor(t, "antenna1 == antenna2")

	chunk := vischunk.New(2, 1, 1, 2)
	chunk.Antenna1[0], chunk.Antenna2[0] = 0, 0
	chunk.Antenna1[1], chunk.Antenna2[1] = 0, 1

	out, err := task.Process(context.Background(), chunk)
	require.NoError(t, err)

	assert.True(t, out.Flag[out.Index(0, 0, 0)])
	assert.False(t, out.Flag[out.Index(1, 0, 0)])
}

func TestFlagTaskCompileRejectsBadCondition(t *testing.T) {
	params, err := json.Marshal(flagParams{Condition: "this is not valid expr("})
	require.NoError(t, err)
	_, err = newFlagTask(&config.Config{}, config.TaskDescriptor{Parameters: params})
	require.Error(t, err)
	assert.True(t, ingesterr.As(err, ingesterr.ConfigInvalid))
}

func TestFlagTaskUVWLengthCondition(t *testing.T) {
	task := newFlagTaskFor(t, "uvwLength <= 5")

	chunk := vischunk.New(1, 1, 1, 0)
	chunk.UVW[0] = vischunk.UVW{U: 3, V: 4}

	out, err := task.Process(context.Background(), chunk)
	require.NoError(t, err)
	assert.True(t, out.Flag[out.Index(0, 0, 0)])
}
