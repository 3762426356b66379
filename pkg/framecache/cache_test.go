package framecache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type rotationFrame struct{ cosH, sinH float64 }

func TestGetComputesOnceAndServesCachedFrameAfter(t *testing.T) {
	cache := New(1 << 20)
	calls := 0

	compute := func() (interface{}, time.Duration, int) {
		calls++
		return rotationFrame{cosH: 1, sinH: 0}, time.Second, 64
	}

	v1 := cache.Get("epoch0:beam0", compute)
	v2 := cache.Get("epoch0:beam0", func() (interface{}, time.Duration, int) {
		t.Fatal("frame should have been cached")
		return nil, 0, 0
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, v1, v2)
}

func TestGetRecomputesAfterTTLExpires(t *testing.T) {
	cache := New(1 << 20)

	first := cache.Get("epoch0:beam0", func() (interface{}, time.Duration, int) {
		return rotationFrame{cosH: 1}, 5 * time.Millisecond, 64
	})
	time.Sleep(10 * time.Millisecond)
	second := cache.Get("epoch0:beam0", func() (interface{}, time.Duration, int) {
		return rotationFrame{cosH: -1}, time.Second, 64
	})

	assert.NotEqual(t, first, second)
}

func TestDelRemovesEntry(t *testing.T) {
	cache := New(1 << 20)
	cache.Get("epoch0:beam0", func() (interface{}, time.Duration, int) {
		return rotationFrame{cosH: 1}, time.Minute, 64
	})

	assert.True(t, cache.Del("epoch0:beam0"))
	assert.False(t, cache.Del("epoch0:beam0"))

	calls := 0
	cache.Get("epoch0:beam0", func() (interface{}, time.Duration, int) {
		calls++
		return rotationFrame{cosH: -1}, time.Minute, 64
	})
	assert.Equal(t, 1, calls)
}

func TestEvictsOldestEntriesOnceOverBudget(t *testing.T) {
	cache := New(100)

	cache.Get("a", func() (interface{}, time.Duration, int) { return "a", time.Minute, 50 })
	cache.Get("b", func() (interface{}, time.Duration, int) { return "b", time.Minute, 50 })

	calls := 0
	cache.Get("c", func() (interface{}, time.Duration, int) {
		calls++
		return "c", time.Minute, 50
	})

	aCalls := 0
	cache.Get("a", func() (interface{}, time.Duration, int) {
		aCalls++
		return "a-recomputed", time.Minute, 50
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, aCalls, "a should have been evicted to make room for c")
}

func TestConcurrentGetsForSameKeySerialiseComputation(t *testing.T) {
	cache := New(100)
	var wg sync.WaitGroup
	var inFlight int32

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				cache.Get("shared", func() (interface{}, time.Duration, int) {
					n := atomic.AddInt32(&inFlight, 1)
					if n != 1 {
						t.Error("only one goroutine should compute a given key at a time")
					}
					atomic.AddInt32(&inFlight, -1)
					return "value", time.Millisecond, 1
				})
			}
		}()
	}
	wg.Wait()
}

func TestGetPropagatesPanicFromComputeValueAndLeavesCacheConsistent(t *testing.T) {
	cache := New(100)

	func() {
		defer func() {
			r := recover()
			assert.Equal(t, "boom", r)
		}()
		cache.Get("x", func() (interface{}, time.Duration, int) {
			panic("boom")
		})
		t.Fatal("expected panic")
	}()

	calls := 0
	cache.Get("x", func() (interface{}, time.Duration, int) {
		calls++
		return "recovered", time.Minute, 1
	})
	assert.Equal(t, 1, calls)
}
