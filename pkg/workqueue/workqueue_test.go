package workqueue

import (
	"testing"

	"github.com/cuemby/adlb-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntargetedPriorityOrder(t *testing.T) {
	q := New()
	q.Add(types.WorkUnit{ID: 1, Type: 0, Priority: 1, Target: types.AnyRank})
	q.Add(types.WorkUnit{ID: 2, Type: 0, Priority: 5, Target: types.AnyRank})
	q.Add(types.WorkUnit{ID: 3, Type: 0, Priority: 5, Target: types.AnyRank})

	wu, ok := q.Get(0, 0, 0)
	require.True(t, ok)
	assert.Equal(t, int64(2), wu.ID) // higher priority first

	wu, ok = q.Get(0, 0, 0)
	require.True(t, ok)
	assert.Equal(t, int64(3), wu.ID) // equal priority: FIFO

	wu, ok = q.Get(0, 0, 0)
	require.True(t, ok)
	assert.Equal(t, int64(1), wu.ID)

	_, ok = q.Get(0, 0, 0)
	assert.False(t, ok)
}

func TestRankTargetedStrictBeforeUntargeted(t *testing.T) {
	q := New()
	q.Add(types.WorkUnit{ID: 10, Type: 0, Target: types.AnyRank})
	q.Add(types.WorkUnit{ID: 11, Type: 0, Target: 3, Accuracy: types.AccuracyRank, Strictness: types.Strict})

	wu, ok := q.Get(3, 0, 0)
	require.True(t, ok)
	assert.Equal(t, int64(11), wu.ID, "rank-targeted work takes priority over untargeted for its rank")

	wu, ok = q.Get(3, 0, 0)
	require.True(t, ok)
	assert.Equal(t, int64(10), wu.ID)
}

func TestStrictTargetingNeverDeliveredElsewhere(t *testing.T) {
	q := New()
	q.Add(types.WorkUnit{ID: 20, Type: 0, Target: 3, Accuracy: types.AccuracyRank, Strictness: types.Strict})

	_, ok := q.Get(4, 0, 0)
	assert.False(t, ok, "strict rank-targeted work must not be claimed by another rank")

	wu, ok := q.Get(3, 0, 0)
	require.True(t, ok)
	assert.Equal(t, int64(20), wu.ID)
}

func TestSoftTargetingFallsBackToUntargeted(t *testing.T) {
	q := New()
	q.Add(types.WorkUnit{ID: 30, Type: 0, Target: 3, Accuracy: types.AccuracyRank, Strictness: types.Soft})

	// another rank can claim the soft-targeted unit via the untargeted lane
	wu, ok := q.Get(9, 0, 0)
	require.True(t, ok)
	assert.Equal(t, int64(30), wu.ID)

	// and it is gone from rank 3's own lane — the dual index is a single
	// delivery, not a duplicate.
	_, ok = q.Get(3, 0, 0)
	assert.False(t, ok)
}

func TestHostTargeting(t *testing.T) {
	q := New()
	q.Add(types.WorkUnit{ID: 40, Type: 0, Target: 7, Accuracy: types.AccuracyHost, Strictness: types.Strict})

	_, ok := q.Get(1, 2, 0)
	assert.False(t, ok)

	wu, ok := q.Get(1, 7, 0)
	require.True(t, ok)
	assert.Equal(t, int64(40), wu.ID)
}

func TestPopParallelRespectsIdleWorkerCount(t *testing.T) {
	q := New()
	q.Add(types.WorkUnit{ID: 50, Type: 0, Target: types.AnyRank, Parallelism: 4})

	_, ok := q.PopParallel(0, 2)
	assert.False(t, ok, "not enough idle workers yet")

	wu, ok := q.PopParallel(0, 4)
	require.True(t, ok)
	assert.Equal(t, int64(50), wu.ID)
}

func TestStealRespectsBudget(t *testing.T) {
	q := New()
	q.Add(types.WorkUnit{ID: 60, Type: 0, Target: types.AnyRank, Payload: make([]byte, 100)})
	q.Add(types.WorkUnit{ID: 61, Type: 0, Target: types.AnyRank, Payload: make([]byte, 100)})

	stolen := q.Steal(0, 150)
	assert.Len(t, stolen, 1)

	remaining := q.Steal(0, 1000)
	assert.Len(t, remaining, 1)
}

func TestEmptyReflectsAllLanes(t *testing.T) {
	q := New()
	assert.True(t, q.Empty())
	q.Add(types.WorkUnit{ID: 70, Type: 0, Target: types.AnyRank})
	assert.False(t, q.Empty())
	_, _ = q.Get(0, 0, 0)
	assert.True(t, q.Empty())
}
