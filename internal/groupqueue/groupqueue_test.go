package groupqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	id   int
	last bool
}

func putGroup(t *testing.T, q *Queue[item], ids ...int) {
	t.Helper()
	for i, id := range ids {
		require.True(t, q.Put(item{id: id, last: i == len(ids)-1}), "put %d", id)
	}
	q.Commit()
}

// drain reads one group the way the playback machine does.
func drain(q *Queue[item]) []int {
	var slots []int
	for {
		slot, ok := q.Get()
		if !ok {
			break
		}
		slots = append(slots, slot)
		if q.At(slot).last {
			break
		}
	}
	return slots
}

func ids(q *Queue[item], slots []int) []int {
	out := make([]int, len(slots))
	for i, s := range slots {
		out[i] = q.At(s).id
	}
	return out
}

func TestNewInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { New[item](0) })
}

func TestCapacity(t *testing.T) {
	const capacity = 8
	q := New[item](capacity)

	for i := 0; i < capacity; i++ {
		require.True(t, q.Put(item{id: i, last: i == 2}))
	}
	assert.False(t, q.Put(item{id: 99}), "put past capacity must fail")
	assert.Equal(t, capacity, q.Size())
	q.Commit()

	// First group is three steps long.
	slots := drain(q)
	require.Len(t, slots, 3)
	assert.False(t, q.Put(item{id: 99}), "drained but unreleased slots are not free")

	q.Release()
	assert.Equal(t, capacity-3, q.Size())
	for i := 0; i < 3; i++ {
		assert.True(t, q.Put(item{id: 100 + i}))
	}
	assert.False(t, q.Put(item{id: 200}))
}

func TestPutIrqMatchesPut(t *testing.T) {
	a := New[item](2)
	b := New[item](2)

	for i := 0; i < 3; i++ {
		assert.Equal(t, a.Put(item{id: i}), b.PutIrq(item{id: i}))
		assert.Equal(t, a.Size(), b.Size())
	}
	assert.Equal(t, a.prodWr, b.prodWr)
	assert.Equal(t, a.pendingPuts, b.pendingPuts)
}

func TestUncommittedInvisible(t *testing.T) {
	q := New[item](4)
	require.True(t, q.Put(item{id: 1}))
	require.True(t, q.Put(item{id: 2, last: true}))

	_, ok := q.Get()
	assert.False(t, ok, "uncommitted steps must not be readable")

	q.Commit()
	assert.Equal(t, []int{1, 2}, ids(q, drain(q)))
}

func TestGroupAtomicityAcrossCommits(t *testing.T) {
	q := New[item](8)
	putGroup(t, q, 1, 2, 3)

	// Start a second group but do not commit it yet.
	require.True(t, q.Put(item{id: 4}))

	assert.Equal(t, []int{1, 2, 3}, ids(q, drain(q)))
	_, ok := q.Get()
	assert.False(t, ok)

	require.True(t, q.Put(item{id: 5, last: true}))
	q.Commit()
	q.Release()
	assert.Equal(t, []int{4, 5}, ids(q, drain(q)))
}

func TestReplay(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		prefill  int // steps written and consumed first, to move the cursors
		group    []int
		reps     int
	}{
		{"start of ring", 8, 0, []int{1, 2, 3}, 3},
		{"middle of ring", 8, 2, []int{1, 2, 3}, 2},
		{"wraps physical end", 5, 3, []int{1, 2, 3, 4}, 3},
		{"ends on physical end", 6, 3, []int{1, 2, 3}, 2},
		{"whole ring", 4, 0, []int{1, 2, 3, 4}, 3},
		{"whole ring wrapped", 4, 3, []int{1, 2, 3, 4}, 2},
		{"single step", 3, 2, []int{7}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New[item](tt.capacity)
			if tt.prefill > 0 {
				pre := make([]int, tt.prefill)
				for i := range pre {
					pre[i] = -1 - i
				}
				putGroup(t, q, pre...)
				require.Len(t, drain(q), tt.prefill)
				q.Release()
			}

			putGroup(t, q, tt.group...)
			slots := drain(q)
			require.Len(t, slots, len(tt.group))

			// A newer group committed during replay must not leak in.
			if q.Size() < tt.capacity {
				require.True(t, q.Put(item{id: 1000, last: true}))
				q.Commit()
			}

			var seen []int
			seen = append(seen, ids(q, slots)...)

			cur := slots[len(slots)-1]
			for pass := 1; pass < tt.reps; pass++ {
				for range tt.group {
					cur = q.RetrieveNext(cur)
					seen = append(seen, q.At(cur).id)
				}
			}

			var want []int
			for pass := 0; pass < tt.reps; pass++ {
				want = append(want, tt.group...)
			}
			assert.Equal(t, want, seen)
			assert.Len(t, seen, len(tt.group)*tt.reps)

			q.Release()
			if tt.capacity > len(tt.group) {
				slots = drain(q)
				assert.Equal(t, []int{1000}, ids(q, slots))
			}
		})
	}
}

func TestRollback(t *testing.T) {
	q := New[item](4)
	putGroup(t, q, 1, 2)

	require.True(t, q.Put(item{id: 3}))
	require.True(t, q.Put(item{id: 4}))
	q.Rollback()
	assert.Equal(t, 2, q.Size())

	putGroup(t, q, 5)
	assert.Equal(t, []int{1, 2}, ids(q, drain(q)))
	assert.Equal(t, []int{5}, ids(q, drain(q)))
}

func TestPutGroup(t *testing.T) {
	q := New[item](4)

	require.True(t, q.PutGroup([]item{{id: 1}, {id: 2, last: true}}))
	assert.False(t, q.PutGroup([]item{{id: 3}, {id: 4}, {id: 5, last: true}}),
		"group larger than the free space must be rejected")
	assert.Equal(t, 2, q.Size())

	require.True(t, q.PutGroup([]item{{id: 3}, {id: 4, last: true}}))
	assert.Equal(t, []int{1, 2}, ids(q, drain(q)))
	assert.Equal(t, []int{3, 4}, ids(q, drain(q)))
	assert.True(t, q.PutGroup(nil))
}

func TestPutGroupRefusesPendingPuts(t *testing.T) {
	q := New[item](4)
	require.True(t, q.Put(item{id: 1}))
	assert.False(t, q.PutGroup([]item{{id: 2, last: true}}))
	assert.Equal(t, 1, q.Size())
}

func TestPeek(t *testing.T) {
	q := New[item](4)
	_, ok := q.Peek()
	assert.False(t, ok)

	putGroup(t, q, 1, 2)
	v, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 1, v.id)

	drain(q)
	q.Release()
	_, ok = q.Peek()
	assert.False(t, ok)
}

func TestReset(t *testing.T) {
	q := New[item](3)
	putGroup(t, q, 1, 2, 3)
	drain(q)

	q.Reset()
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 3, q.Cap())
	putGroup(t, q, 4, 5, 6)
	assert.Equal(t, []int{4, 5, 6}, ids(q, drain(q)))
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const groups = 500
	q := New[item](7)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for g := 0; g < groups; {
			group := []item{{id: g}, {id: g}, {id: g, last: true}}
			if q.PutGroup(group) {
				g++
			}
		}
	}()

	for g := 0; g < groups; {
		slots := drain(q)
		if len(slots) == 0 {
			continue
		}
		require.Len(t, slots, 3)
		for _, id := range ids(q, slots) {
			require.Equal(t, g, id)
		}
		q.Release()
		g++
	}
	wg.Wait()
	assert.True(t, q.IsEmpty())
}
