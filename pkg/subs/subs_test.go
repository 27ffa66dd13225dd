package subs

import (
	"testing"

	"github.com/cuemby/adlb-go/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestSubscribeAndTakeWhole(t *testing.T) {
	tb := New(16)
	assert.False(t, tb.AlreadySubscribed(10, ""))

	tb.SubscribeWhole(10, types.Listener{Rank: 3, WorkType: 1})
	assert.True(t, tb.AlreadySubscribed(10, ""))

	listeners := tb.TakeWhole(10)
	assert.Len(t, listeners, 1)
	assert.Equal(t, 3, listeners[0].Rank)

	// listener list is consumed exactly once
	assert.Empty(t, tb.TakeWhole(10))
	assert.False(t, tb.AlreadySubscribed(10, ""))
}

func TestSubscribeAndTakeSubscript(t *testing.T) {
	tb := New(16)
	tb.SubscribeSub(20, "k", types.Listener{Rank: 1, WorkType: 0})
	tb.SubscribeSub(20, "k", types.Listener{Rank: 2, WorkType: 0})

	listeners := tb.TakeSub(20, "k")
	assert.Len(t, listeners, 2)
	assert.Empty(t, tb.TakeSub(20, "k"))
}

func TestClosedDataCacheEviction(t *testing.T) {
	tb := New(2)
	tb.CacheClosedWhole(1)
	tb.CacheClosedWhole(2)
	assert.True(t, tb.ClosedWhole(1))
	assert.True(t, tb.ClosedWhole(2))

	tb.CacheClosedWhole(3) // evicts the LRU tail
	assert.False(t, tb.ClosedWhole(1) && tb.ClosedWhole(2) && tb.ClosedWhole(3))
}

func TestClosedSubCache(t *testing.T) {
	tb := New(16)
	assert.False(t, tb.ClosedSub(5, "x"))
	tb.CacheClosedSub(5, "x")
	assert.True(t, tb.ClosedSub(5, "x"))
	assert.False(t, tb.ClosedSub(5, "y"))
}

func TestReferenceBindings(t *testing.T) {
	tb := New(16)
	tb.BindSub(30, "5", types.ReferenceBinding{RefID: 31, RefType: types.TypeInt, TransferRead: 1})

	bindings := tb.TakeSubBindings(30, "5")
	assert.Len(t, bindings, 1)
	assert.Equal(t, types.DatumID(31), bindings[0].RefID)
	assert.Empty(t, tb.TakeSubBindings(30, "5"))
}
