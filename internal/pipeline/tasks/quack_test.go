package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiotel/ingestd/pkg/vischunk"
)

func allFlagged(c *vischunk.VisChunk) bool {
	for _, f := range c.Flag {
		if !f {
			return false
		}
	}
	return true
}

func TestQuackFlagsFirstNCycles(t *testing.T) {
	task := &QuackTask{ncycles: 2}

	for i := 0; i < 2; i++ {
		chunk := vischunk.New(2, 2, 1, 0)
		out, err := task.Process(context.Background(), chunk)
		require.NoError(t, err)
		assert.True(t, allFlagged(out))
	}

	chunk := vischunk.New(2, 2, 1, 0)
	out, err := task.Process(context.Background(), chunk)
	require.NoError(t, err)
	assert.False(t, allFlagged(out))
}

func TestQuackPassesNilThrough(t *testing.T) {
	task := &QuackTask{ncycles: 5}
	out, err := task.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}
