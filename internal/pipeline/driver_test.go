package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

type fakeSource struct {
	chunks    []*vischunk.VisChunk
	errs      []error
	completes []bool
	i         int
}

func (s *fakeSource) Next(ctx context.Context) (*vischunk.VisChunk, bool, error) {
	if s.i >= len(s.chunks) {
		return nil, true, nil
	}
	c, err := s.chunks[s.i], s.errs[s.i]
	complete := s.i < len(s.completes) && s.completes[s.i]
	s.i++
	return c, complete, err
}

type fakeTask struct {
	name         string
	alwaysActive bool
	calls        int
	err          error
	nullify      bool
}

func (t *fakeTask) Name() string        { return t.name }
func (t *fakeTask) IsAlwaysActive() bool { return t.alwaysActive }
func (t *fakeTask) Process(ctx context.Context, chunk *vischunk.VisChunk) (*vischunk.VisChunk, error) {
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	if t.nullify {
		return nil, nil
	}
	return chunk, nil
}

func TestIngestOneRunsTaskChainInOrder(t *testing.T) {
	chunk := vischunk.New(1, 1, 1, 1)
	source := &fakeSource{chunks: []*vischunk.VisChunk{chunk}, errs: []error{nil}}
	first := &fakeTask{name: "first"}
	second := &fakeTask{name: "second"}

	p := New(source, []Task{first, second}, nil)
	done, err := p.ingestOne(context.Background())
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestIngestOneSkipsNonAlwaysActiveTasksAfterNil(t *testing.T) {
	chunk := vischunk.New(1, 1, 1, 1)
	source := &fakeSource{chunks: []*vischunk.VisChunk{chunk}, errs: []error{nil}}
	nullify := &fakeTask{name: "nullify", nullify: true}
	skipped := &fakeTask{name: "skipped"}
	always := &fakeTask{name: "always", alwaysActive: true}

	p := New(source, []Task{nullify, skipped, always}, nil)
	_, err := p.ingestOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, nullify.calls)
	assert.Equal(t, 0, skipped.calls)
	assert.Equal(t, 1, always.calls)
}

func TestIngestOneStopsOnTaskError(t *testing.T) {
	chunk := vischunk.New(1, 1, 1, 1)
	source := &fakeSource{chunks: []*vischunk.VisChunk{chunk}, errs: []error{nil}}
	failing := &fakeTask{name: "failing", err: errors.New("boom")}
	after := &fakeTask{name: "after"}

	p := New(source, []Task{failing, after}, nil)
	_, err := p.ingestOne(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, after.calls)
}

func TestIngestOneDoneWhenSourceSignalsComplete(t *testing.T) {
	source := &fakeSource{chunks: []*vischunk.VisChunk{nil}, errs: []error{nil}, completes: []bool{true}}
	p := New(source, nil, nil)
	done, err := p.ingestOne(context.Background())
	require.NoError(t, err)
	assert.True(t, done)
}

func TestIngestOneNotDoneOnSkippedTickWithNoChunk(t *testing.T) {
	always := &fakeTask{name: "always", alwaysActive: true}
	source := &fakeSource{chunks: []*vischunk.VisChunk{nil}, errs: []error{nil}, completes: []bool{false}}
	p := New(source, []Task{always}, nil)
	done, err := p.ingestOne(context.Background())
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 0, always.calls)
}

func TestStartStopsWhenInterruptedBetweenTicks(t *testing.T) {
	var interrupted int32
	atomic.StoreInt32(&interrupted, 1)
	source := &fakeSource{}
	p := New(source, nil, &interrupted)

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, ingesterr.As(err, ingesterr.Interrupted))
}

func TestStartReturnsNilWhenSourceCompletes(t *testing.T) {
	source := &fakeSource{chunks: []*vischunk.VisChunk{nil}, errs: []error{nil}, completes: []bool{true}}
	p := New(source, nil, nil)
	err := p.Start(context.Background())
	assert.NoError(t, err)
}
