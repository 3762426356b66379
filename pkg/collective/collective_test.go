package collective

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithTimeoutAddsDeadlineWhenAbsent(t *testing.T) {
	ctx, cancel := WithTimeout(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(defaultTimeout), deadline, time.Second)
}

func TestWithTimeoutPreservesExistingDeadline(t *testing.T) {
	want := time.Now().Add(5 * time.Second)
	parent, cancel := context.WithDeadline(context.Background(), want)
	defer cancel()

	ctx, cancel2 := WithTimeout(parent)
	defer cancel2()

	got, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestSubjectAddressingIsStableAndDistinct(t *testing.T) {
	c := &natsComm{namespace: "ingestd-world"}

	a := c.subject("bcast", 1, 0)
	b := c.subject("bcast", 1, 1)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "coll.ingestd-world.bcast.1.0", a)
}

func TestSplitEntriesFilterByColour(t *testing.T) {
	entries := []splitEntry{
		{GlobalRank: 2, Colour: 0, Key: 5},
		{GlobalRank: 0, Colour: 0, Key: 1},
		{GlobalRank: 1, Colour: 1, Key: 9},
	}

	var groupZero []splitEntry
	for _, e := range entries {
		if e.Colour == 0 {
			groupZero = append(groupZero, e)
		}
	}
	assert.Len(t, groupZero, 2)
}
