// Package subs implements the subscription tables and closed-data LRU
// caches a server consults when a task subscribes to a datum or
// subscript: whole-datum and per-subscript listener lists, the
// reference-binding tables container writes must notify, and two
// fixed-size caches that let a repeated subscribe to already-closed
// remote data skip the network round trip entirely.
package subs

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/cuemby/adlb-go/pkg/metrics"
	"github.com/cuemby/adlb-go/pkg/types"
)

// DefaultClosedCacheSize is the default capacity of each closed-data
// cache, overridable via ADLB_CLOSED_CACHE_SIZE.
const DefaultClosedCacheSize = 4096

func subKey(id types.DatumID, subscript string) string {
	return fmt.Sprintf("%d\x00%s", id, subscript)
}

// Tables holds one server's subscription state.
type Tables struct {
	wholeSubscribers map[types.DatumID][]types.Listener
	subSubscribers   map[string][]types.Listener

	wholeBindings map[types.DatumID][]types.ReferenceBinding
	subBindings   map[string][]types.ReferenceBinding

	// subscribed records (id, subscript) pairs this engine has already
	// requested notification for, so duplicate subscribes are a no-op.
	subscribed map[string]bool

	closedWhole *lru.Cache // DatumID -> struct{}
	closedSub   *lru.Cache // packed key -> struct{}
}

// New creates subscription tables with closed-data caches of the given
// capacity (DefaultClosedCacheSize if cacheSize <= 0).
func New(cacheSize int) *Tables {
	if cacheSize <= 0 {
		cacheSize = DefaultClosedCacheSize
	}
	wholeCache, err := lru.New(cacheSize)
	if err != nil {
		panic(fmt.Sprintf("subs: invalid closed-data cache size %d: %v", cacheSize, err))
	}
	subCache, err := lru.New(cacheSize)
	if err != nil {
		panic(fmt.Sprintf("subs: invalid closed-data cache size %d: %v", cacheSize, err))
	}
	return &Tables{
		wholeSubscribers: make(map[types.DatumID][]types.Listener),
		subSubscribers:   make(map[string][]types.Listener),
		wholeBindings:    make(map[types.DatumID][]types.ReferenceBinding),
		subBindings:      make(map[string][]types.ReferenceBinding),
		subscribed:       make(map[string]bool),
		closedWhole:      wholeCache,
		closedSub:        subCache,
	}
}

// AlreadySubscribed reports whether this engine already requested
// notification for (id, subscript).
func (t *Tables) AlreadySubscribed(id types.DatumID, subscript string) bool {
	return t.subscribed[subKey(id, subscript)]
}

// MarkSubscribed records that (id, subscript) now has an outstanding
// subscribe, so a later duplicate subscribe is short-circuited.
func (t *Tables) MarkSubscribed(id types.DatumID, subscript string) {
	t.subscribed[subKey(id, subscript)] = true
}

// ClosedWhole reports whether id is known-closed via the local cache
// (populated by a prior remote close notification).
func (t *Tables) ClosedWhole(id types.DatumID) bool {
	_, ok := t.closedWhole.Get(id)
	if ok {
		metrics.ClosedCacheHits.WithLabelValues("whole").Inc()
	} else {
		metrics.ClosedCacheMisses.WithLabelValues("whole").Inc()
	}
	return ok
}

// ClosedSub reports whether (id, subscript) is known-closed via the
// local cache.
func (t *Tables) ClosedSub(id types.DatumID, subscript string) bool {
	_, ok := t.closedSub.Get(subKey(id, subscript))
	if ok {
		metrics.ClosedCacheHits.WithLabelValues("subscript").Inc()
	} else {
		metrics.ClosedCacheMisses.WithLabelValues("subscript").Inc()
	}
	return ok
}

// CacheClosedWhole records that id is now known-closed, evicting the
// LRU tail if the cache is full.
func (t *Tables) CacheClosedWhole(id types.DatumID) {
	t.closedWhole.Add(id, struct{}{})
}

// CacheClosedSub records that (id, subscript) is now known-closed.
func (t *Tables) CacheClosedSub(id types.DatumID, subscript string) {
	t.closedSub.Add(subKey(id, subscript), struct{}{})
}

// SubscribeWhole appends a whole-datum listener. The caller is
// responsible for having already checked that the datum is not
// already satisfied.
func (t *Tables) SubscribeWhole(id types.DatumID, l types.Listener) {
	t.wholeSubscribers[id] = append(t.wholeSubscribers[id], l)
	t.MarkSubscribed(id, "")
}

// SubscribeSub appends a per-subscript listener.
func (t *Tables) SubscribeSub(id types.DatumID, subscript string, l types.Listener) {
	key := subKey(id, subscript)
	t.subSubscribers[key] = append(t.subSubscribers[key], l)
	t.MarkSubscribed(id, subscript)
}

// TakeWhole removes and returns every whole-datum listener for id
// (called when the datum closes), and clears the subscribed marker.
func (t *Tables) TakeWhole(id types.DatumID) []types.Listener {
	ls := t.wholeSubscribers[id]
	delete(t.wholeSubscribers, id)
	delete(t.subscribed, subKey(id, ""))
	return ls
}

// TakeSub removes and returns every listener for (id, subscript).
func (t *Tables) TakeSub(id types.DatumID, subscript string) []types.Listener {
	key := subKey(id, subscript)
	ls := t.subSubscribers[key]
	delete(t.subSubscribers, key)
	delete(t.subscribed, key)
	return ls
}

// BindWhole registers a reference binding to notify when id as a whole
// closes.
func (t *Tables) BindWhole(id types.DatumID, b types.ReferenceBinding) {
	t.wholeBindings[id] = append(t.wholeBindings[id], b)
}

// BindSub registers a reference binding to notify when (id, subscript)
// closes.
func (t *Tables) BindSub(id types.DatumID, subscript string, b types.ReferenceBinding) {
	key := subKey(id, subscript)
	t.subBindings[key] = append(t.subBindings[key], b)
}

// TakeWholeBindings removes and returns the reference bindings for id.
func (t *Tables) TakeWholeBindings(id types.DatumID) []types.ReferenceBinding {
	bs := t.wholeBindings[id]
	delete(t.wholeBindings, id)
	return bs
}

// TakeSubBindings removes and returns the reference bindings for
// (id, subscript).
func (t *Tables) TakeSubBindings(id types.DatumID, subscript string) []types.ReferenceBinding {
	key := subKey(id, subscript)
	bs := t.subBindings[key]
	delete(t.subBindings, key)
	return bs
}
