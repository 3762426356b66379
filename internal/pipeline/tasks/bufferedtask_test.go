package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

func newTestBufferedTask(size int, lossless bool) (*BufferedTask, *fakeTask) {
	child := &fakeTask{name: "child"}
	return &BufferedTask{
		child:      child,
		queue:      make(chan *vischunk.VisChunk, size),
		lossless:   lossless,
		firstCycle: true,
		errCh:      make(chan error, 1),
	}, child
}

func TestBufferedTaskFirstCycleRunsSynchronously(t *testing.T) {
	task, child := newTestBufferedTask(1, false)
	chunk := vischunk.New(1, 1, 1, 1)

	out, err := task.Process(context.Background(), chunk)
	require.NoError(t, err)
	assert.Equal(t, chunk, out)
	assert.Equal(t, 1, child.calls)
	assert.False(t, task.firstCycle)
	assert.Empty(t, task.queue)
}

func TestBufferedTaskEnqueuesSubsequentCycles(t *testing.T) {
	task, child := newTestBufferedTask(1, false)
	task.firstCycle = false
	chunk := vischunk.New(1, 1, 1, 1)

	out, err := task.Process(context.Background(), chunk)
	require.NoError(t, err)
	assert.Equal(t, chunk, out)
	assert.Equal(t, 0, child.calls)
	assert.Len(t, task.queue, 1)
}

func TestBufferedTaskNilChunkAfterFirstCyclePassesThrough(t *testing.T) {
	task, _ := newTestBufferedTask(1, false)
	task.firstCycle = false

	out, err := task.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestBufferedTaskLosslessOverflowReturnsError(t *testing.T) {
	task, _ := newTestBufferedTask(1, true)
	task.firstCycle = false
	task.queue <- vischunk.New(1, 1, 1, 1) // fill the ring

	_, err := task.Process(context.Background(), vischunk.New(1, 1, 1, 1))
	require.Error(t, err)
	assert.True(t, ingesterr.As(err, ingesterr.BufferOverflow))
}

func TestBufferedTaskDropsSampleWhenNotLossless(t *testing.T) {
	task, _ := newTestBufferedTask(1, false)
	task.firstCycle = false
	task.queue <- vischunk.New(1, 1, 1, 1) // fill the ring

	chunk := vischunk.New(1, 1, 1, 1)
	out, err := task.Process(context.Background(), chunk)
	require.NoError(t, err)
	assert.Equal(t, chunk, out)
}

func TestBufferedTaskSurfacesChildErrorFromWorker(t *testing.T) {
	task, _ := newTestBufferedTask(1, false)
	task.firstCycle = false
	task.errCh <- errors.New("child failed downstream")

	_, err := task.Process(context.Background(), vischunk.New(1, 1, 1, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "child failed downstream")
}

func TestBufferedTaskNameIncludesChildName(t *testing.T) {
	task, _ := newTestBufferedTask(1, false)
	assert.Equal(t, "BufferedTask(child)", task.Name())
}
