package reqqueue

import (
	"testing"

	"github.com/cuemby/adlb-go/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestAddAndDecrementTracksBlocked(t *testing.T) {
	q := New()
	q.Add(1, 0, 2, true)
	assert.Equal(t, 2, q.NBlocked())

	assert.True(t, q.Decrement(1, 0))
	assert.Equal(t, 1, q.NBlocked())

	assert.True(t, q.Decrement(1, 0))
	assert.Equal(t, 0, q.NBlocked())

	assert.False(t, q.Decrement(1, 0), "request exhausted, nothing left to decrement")
}

func TestMatchesTargetRankAccuracy(t *testing.T) {
	q := New()
	q.Add(3, 1, 1, true)

	rank, ok := q.MatchesTarget(3, 1, types.AccuracyRank, 0, nil)
	assert.True(t, ok)
	assert.Equal(t, 3, rank)

	_, ok = q.MatchesTarget(4, 1, types.AccuracyRank, 0, nil)
	assert.False(t, ok)
}

func TestMatchesTargetHostAccuracyFallsBackAcrossRanks(t *testing.T) {
	q := New()
	q.Add(5, 2, 1, true)
	hostOf := func(r int) int {
		if r == 3 || r == 5 {
			return 100
		}
		return 200
	}

	rank, ok := q.MatchesTarget(3, 2, types.AccuracyHost, 100, hostOf)
	assert.True(t, ok)
	assert.Equal(t, 5, rank)

	_, ok = q.MatchesTarget(3, 2, types.AccuracyRank, 100, hostOf)
	assert.False(t, ok, "rank accuracy must not fall back across hosts")
}

func TestMatchesTypeFindsAnyRank(t *testing.T) {
	q := New()
	q.Add(7, 9, 1, true)

	rank, ok := q.MatchesType(9, -1)
	assert.True(t, ok)
	assert.Equal(t, 7, rank)

	_, ok = q.MatchesType(99, -1)
	assert.False(t, ok)
}

func TestIdleRequiresEveryWorkerBlocked(t *testing.T) {
	q := New()
	assert.False(t, q.Idle(3))

	q.Add(0, 0, 1, true)
	q.Add(1, 0, 1, true)
	q.Add(2, 0, 1, true)
	assert.True(t, q.Idle(3))

	q.Decrement(0, 0)
	assert.False(t, q.Idle(3))
}
