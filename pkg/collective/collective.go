// Package collective implements the collective-communication fabric that
// ChannelMergeTask and BeamScatterTask run on: gather, scatter, allgather
// and broadcast of byte payloads across a rank set, plus Split to form
// the per-group sub-communicators those tasks need.
//
// The transport is the same NATS connection used for the metadata topic
// (pkg/natsconn): each collective operation is addressed to a subject
// derived from a namespace and a monotonically increasing operation
// sequence number, so concurrent operations on the same communicator
// never cross streams.
package collective

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/natsconn"
)

// Communicator is a group of ranks that can perform collective operations.
type Communicator interface {
	Rank() int
	Size() int

	// Broadcast sends data from root to every rank; non-root callers pass
	// nil and receive root's payload back.
	Broadcast(ctx context.Context, root int, data []byte) ([]byte, error)

	// Gather collects every rank's payload onto root. Non-root callers
	// get a nil slice back.
	Gather(ctx context.Context, root int, data []byte) ([][]byte, error)

	// Scatter distributes root's per-rank payloads (indexed by local
	// rank) to each rank. parts must have Size() entries on root and is
	// ignored elsewhere.
	Scatter(ctx context.Context, root int, parts [][]byte) ([]byte, error)

	// AllGather collects every rank's payload onto every rank.
	AllGather(ctx context.Context, data []byte) ([][]byte, error)

	// Split partitions the communicator by colour: ranks sharing a
	// colour form a new Communicator, local-rank-ordered by key.
	Split(ctx context.Context, colour, key int) (Communicator, error)
}

const defaultTimeout = 30 * time.Second

// natsComm is a NATS-backed Communicator over a fixed, named set of
// global ranks.
type natsComm struct {
	client    *natsconn.Client
	namespace string
	globalRanks []int // global rank ids composing this communicator, in local-rank order
	localRank int

	mu  sync.Mutex
	seq int
}

// New builds the world communicator: every rank 0..nprocs-1, addressed
// under namespace.
func New(client *natsconn.Client, namespace string, rank, nprocs int) Communicator {
	ranks := make([]int, nprocs)
	for i := range ranks {
		ranks[i] = i
	}
	return &natsComm{client: client, namespace: namespace, globalRanks: ranks, localRank: rank}
}

func (c *natsComm) Rank() int { return c.localRank }
func (c *natsComm) Size() int { return len(c.globalRanks) }

func (c *natsComm) nextSeq() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

func (c *natsComm) subject(op string, seq, globalRank int) string {
	return fmt.Sprintf("coll.%s.%s.%d.%d", c.namespace, op, seq, globalRank)
}

// collect subscribes to subjects for every globalRank in want and blocks
// until all have published or ctx is done.
func (c *natsComm) collect(ctx context.Context, op string, seq int, want []int) (map[int][]byte, error) {
	results := make(map[int][]byte, len(want))
	var mu sync.Mutex
	done := make(chan struct{})

	subs := make([]*nats.Subscription, 0, len(want))
	for _, gr := range want {
		gr := gr
		sub, err := c.client.Raw().Subscribe(c.subject(op, seq, gr), func(msg *nats.Msg) {
			mu.Lock()
			results[gr] = msg.Data
			complete := len(results) == len(want)
			mu.Unlock()
			if complete {
				close(done)
			}
		})
		if err != nil {
			return nil, ingesterr.Wrap(ingesterr.TransportError, "collective", err)
		}
		subs = append(subs, sub)
	}
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()

	select {
	case <-done:
		return results, nil
	case <-ctx.Done():
		return nil, ingesterr.Wrap(ingesterr.TransportError, "collective", ctx.Err())
	}
}

func (c *natsComm) publish(op string, seq, globalRank int, data []byte) error {
	if err := c.client.Publish(c.subject(op, seq, globalRank), data); err != nil {
		return ingesterr.Wrap(ingesterr.TransportError, "collective", err)
	}
	return nil
}

func (c *natsComm) Broadcast(ctx context.Context, root int, data []byte) ([]byte, error) {
	seq := c.nextSeq()
	rootGlobal := c.globalRanks[root]

	if c.localRank == root {
		if err := c.publish("bcast", seq, rootGlobal, data); err != nil {
			return nil, err
		}
		return data, nil
	}

	results, err := c.collect(ctx, "bcast", seq, []int{rootGlobal})
	if err != nil {
		return nil, err
	}
	return results[rootGlobal], nil
}

func (c *natsComm) Gather(ctx context.Context, root int, data []byte) ([][]byte, error) {
	seq := c.nextSeq()
	myGlobal := c.globalRanks[c.localRank]
	if err := c.publish("gather", seq, myGlobal, data); err != nil {
		return nil, err
	}

	if c.localRank != root {
		return nil, nil
	}

	results, err := c.collect(ctx, "gather", seq, c.globalRanks)
	if err != nil {
		return nil, err
	}

	out := make([][]byte, len(c.globalRanks))
	for i, gr := range c.globalRanks {
		out[i] = results[gr]
	}
	return out, nil
}

func (c *natsComm) Scatter(ctx context.Context, root int, parts [][]byte) ([]byte, error) {
	seq := c.nextSeq()

	if c.localRank == root {
		if len(parts) != len(c.globalRanks) {
			return nil, ingesterr.New(ingesterr.ShapeMismatch, "collective", "scatter: parts length does not match communicator size")
		}
		for i, gr := range c.globalRanks {
			if err := c.publish("scatter", seq, gr, parts[i]); err != nil {
				return nil, err
			}
		}
		return parts[root], nil
	}

	myGlobal := c.globalRanks[c.localRank]
	results, err := c.collect(ctx, "scatter", seq, []int{myGlobal})
	if err != nil {
		return nil, err
	}
	return results[myGlobal], nil
}

func (c *natsComm) AllGather(ctx context.Context, data []byte) ([][]byte, error) {
	seq := c.nextSeq()
	myGlobal := c.globalRanks[c.localRank]
	if err := c.publish("allgather", seq, myGlobal, data); err != nil {
		return nil, err
	}

	results, err := c.collect(ctx, "allgather", seq, c.globalRanks)
	if err != nil {
		return nil, err
	}

	out := make([][]byte, len(c.globalRanks))
	for i, gr := range c.globalRanks {
		out[i] = results[gr]
	}
	return out, nil
}

// splitEntry is what each rank contributes to agree on group membership
// before forming the sub-communicator.
type splitEntry struct {
	GlobalRank int `json:"globalRank"`
	Colour     int `json:"colour"`
	Key        int `json:"key"`
}

func (c *natsComm) Split(ctx context.Context, colour, key int) (Communicator, error) {
	myGlobal := c.globalRanks[c.localRank]
	mine := splitEntry{GlobalRank: myGlobal, Colour: colour, Key: key}
	payload, err := json.Marshal(mine)
	if err != nil {
		return nil, err
	}

	all, err := c.AllGather(ctx, payload)
	if err != nil {
		return nil, err
	}

	var entries []splitEntry
	for _, raw := range all {
		var e splitEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, ingesterr.Wrap(ingesterr.TransportError, "collective", err)
		}
		if e.Colour == colour {
			entries = append(entries, e)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	groupRanks := make([]int, len(entries))
	localRank := -1
	for i, e := range entries {
		groupRanks[i] = e.GlobalRank
		if e.GlobalRank == myGlobal {
			localRank = i
		}
	}

	return &natsComm{
		client:      c.client,
		namespace:   fmt.Sprintf("%s.split%d", c.namespace, colour),
		globalRanks: groupRanks,
		localRank:   localRank,
	}, nil
}

// WithTimeout returns a context bounded by defaultTimeout if the caller
// supplied one without a deadline. Collective operations inside
// ChannelMergeTask and BeamScatterTask block unboundedly on peers by
// default; callers that want a bound should wrap ctx themselves before
// calling in.
func WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}
