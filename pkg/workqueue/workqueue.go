// Package workqueue implements the per-server work queue: ordered
// structures for untargeted, rank-targeted, and host-targeted work
// units, matched against incoming get requests in strictness order.
package workqueue

import (
	"sync"

	"github.com/google/btree"

	"github.com/cuemby/adlb-go/pkg/metrics"
	"github.com/cuemby/adlb-go/pkg/types"
)

const btreeDegree = 32

// item is the btree element: ordered by descending priority, then by
// insertion sequence so equal-priority units stay FIFO. A soft-targeted
// unit is dual-indexed into both its target tree and the untargeted
// tree sharing one item pointer; claimed latches true the moment
// either index delivers it, so the other index's copy is skipped (and
// lazily dropped) on its own pop.
type item struct {
	negPriority int
	seq         int64
	unit        types.WorkUnit
	claimed     bool
}

func (a *item) Less(than btree.Item) bool {
	b := than.(*item)
	if a.negPriority != b.negPriority {
		return a.negPriority < b.negPriority
	}
	return a.seq < b.seq
}

// Queue holds one server's work queue: every lane (untargeted, one per
// rank, one per host) is its own ordered tree, keyed by work type.
// Target and HostID are both caller-assigned integer ids: a rank for
// rank-targeted work, a host-group id (resolved elsewhere, typically
// in pkg/server, from hostname to a small dense integer) for
// host-targeted work.
type Queue struct {
	mu sync.Mutex

	untargeted map[int]*btree.BTree // workType -> tree
	rankLanes  map[int]map[int]*btree.BTree
	hostLanes  map[int]map[int]*btree.BTree
	parallel   map[int]*btree.BTree // workType -> tree, Parallelism > 1 only

	seq int64
}

// New creates an empty work queue.
func New() *Queue {
	return &Queue{
		untargeted: make(map[int]*btree.BTree),
		rankLanes:  make(map[int]map[int]*btree.BTree),
		hostLanes:  make(map[int]map[int]*btree.BTree),
		parallel:   make(map[int]*btree.BTree),
	}
}

// Add inserts a work unit according to its targeting. A work unit
// whose Parallelism exceeds 1 always goes into the parallel[type] lane
// regardless of targeting, since it can only be dispatched by
// PopParallel's atomic idle-worker claim, never by a single Get. Rank-
// or host-targeted units with Soft strictness are also inserted into
// the untargeted lane so any idle worker can claim them if the target
// never asks.
func (q *Queue) Add(wu types.WorkUnit) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	it := &item{negPriority: -wu.Priority, seq: q.seq, unit: wu}

	switch {
	case wu.Parallelism > 1:
		q.parallelTree(wu.Type).ReplaceOrInsert(it)
	case wu.Target == types.AnyRank:
		q.untargetedTree(wu.Type).ReplaceOrInsert(it)
	case wu.Accuracy == types.AccuracyRank:
		q.rankTree(wu.Target, wu.Type).ReplaceOrInsert(it)
		if wu.Strictness == types.Soft {
			q.untargetedTree(wu.Type).ReplaceOrInsert(it)
		}
	case wu.Accuracy == types.AccuracyHost:
		q.hostTree(wu.Target, wu.Type).ReplaceOrInsert(it)
		if wu.Strictness == types.Soft {
			q.untargetedTree(wu.Type).ReplaceOrInsert(it)
		}
	}
	metrics.WorkQueueDepth.WithLabelValues(laneName(wu)).Inc()
}

func laneName(wu types.WorkUnit) string {
	if wu.Parallelism > 1 {
		return "parallel"
	}
	if wu.Target == types.AnyRank {
		return "untargeted"
	}
	if wu.Accuracy == types.AccuracyHost {
		return "host"
	}
	return "rank"
}

func (q *Queue) untargetedTree(workType int) *btree.BTree {
	t, ok := q.untargeted[workType]
	if !ok {
		t = btree.New(btreeDegree)
		q.untargeted[workType] = t
	}
	return t
}

func (q *Queue) rankTree(rank, workType int) *btree.BTree {
	lanes, ok := q.rankLanes[rank]
	if !ok {
		lanes = make(map[int]*btree.BTree)
		q.rankLanes[rank] = lanes
	}
	t, ok := lanes[workType]
	if !ok {
		t = btree.New(btreeDegree)
		lanes[workType] = t
	}
	return t
}

func (q *Queue) hostTree(hostID, workType int) *btree.BTree {
	lanes, ok := q.hostLanes[hostID]
	if !ok {
		lanes = make(map[int]*btree.BTree)
		q.hostLanes[hostID] = lanes
	}
	t, ok := lanes[workType]
	if !ok {
		t = btree.New(btreeDegree)
		lanes[workType] = t
	}
	return t
}

func (q *Queue) parallelTree(workType int) *btree.BTree {
	t, ok := q.parallel[workType]
	if !ok {
		t = btree.New(btreeDegree)
		q.parallel[workType] = t
	}
	return t
}

// popFrom pops the highest-priority unclaimed item from t, discarding
// any stale claimed entries left behind by the other half of a
// soft-targeted dual index.
func popFrom(t *btree.BTree) (*item, bool) {
	for {
		min := t.Min()
		if min == nil {
			return nil, false
		}
		t.DeleteMin()
		it := min.(*item)
		if it.claimed {
			continue
		}
		it.claimed = true
		return it, true
	}
}

// Get matches a get request for the given rank/host in strictness
// order: rank-targeted first, then host-targeted, then untargeted.
func (q *Queue) Get(rank, hostID, workType int) (types.WorkUnit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if lanes, ok := q.rankLanes[rank]; ok {
		if t, ok := lanes[workType]; ok {
			if it, ok := popFrom(t); ok {
				metrics.WorkQueueDepth.WithLabelValues("rank").Dec()
				metrics.WorkMatchedTotal.WithLabelValues(strictnessLabel(it.unit)).Inc()
				return it.unit, true
			}
		}
	}
	if lanes, ok := q.hostLanes[hostID]; ok {
		if t, ok := lanes[workType]; ok {
			if it, ok := popFrom(t); ok {
				metrics.WorkQueueDepth.WithLabelValues("host").Dec()
				metrics.WorkMatchedTotal.WithLabelValues(strictnessLabel(it.unit)).Inc()
				return it.unit, true
			}
		}
	}
	if t, ok := q.untargeted[workType]; ok {
		if it, ok := popFrom(t); ok {
			metrics.WorkQueueDepth.WithLabelValues("untargeted").Dec()
			metrics.WorkMatchedTotal.WithLabelValues(strictnessLabel(it.unit)).Inc()
			return it.unit, true
		}
	}
	return types.WorkUnit{}, false
}

func strictnessLabel(wu types.WorkUnit) string {
	if wu.Strictness == types.Soft {
		return "soft"
	}
	return "strict"
}

// PopParallel claims a parallel work unit of workType only if its
// Parallelism fits within idleWorkers, leaving it queued otherwise.
// The caller (pkg/server, backed by pkg/reqqueue) supplies the current
// idle-worker count.
func (q *Queue) PopParallel(workType, idleWorkers int) (types.WorkUnit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.parallel[workType]
	if !ok {
		return types.WorkUnit{}, false
	}

	var skipped []*item
	defer func() {
		for _, it := range skipped {
			it.claimed = false
			t.ReplaceOrInsert(it)
		}
	}()

	for {
		it, ok := popFrom(t)
		if !ok {
			return types.WorkUnit{}, false
		}
		if it.unit.Parallelism > idleWorkers {
			skipped = append(skipped, it)
			continue
		}
		metrics.WorkQueueDepth.WithLabelValues("parallel").Dec()
		metrics.WorkMatchedTotal.WithLabelValues(strictnessLabel(it.unit)).Inc()
		return it.unit, true
	}
}

// Steal pops untargeted work units of workType whose combined payload
// size stays within budgetBytes, for load-balancing between servers;
// the first unit is always taken, even if it alone exceeds the budget.
// Strict rank- and host-targeted work is never stolen; soft-targeted
// units, also indexed in the untargeted lane, can be.
func (q *Queue) Steal(workType int, budgetBytes int) []types.WorkUnit {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.untargeted[workType]
	if !ok {
		return nil
	}
	var stolen []types.WorkUnit
	used := 0
	var skipped []*item
	for {
		it, ok := popFrom(t)
		if !ok {
			break
		}
		if used+len(it.unit.Payload) > budgetBytes && len(stolen) > 0 {
			skipped = append(skipped, it)
			break
		}
		stolen = append(stolen, it.unit)
		used += len(it.unit.Payload)
	}
	for _, it := range skipped {
		it.claimed = false
		t.ReplaceOrInsert(it)
	}
	if len(stolen) > 0 {
		metrics.WorkQueueDepth.WithLabelValues("untargeted").Sub(float64(len(stolen)))
	}
	return stolen
}

// Depths reports the live length of every lane group, keyed by a label
// suitable for the work_queue_depth metric, for pkg/metrics.Collector.
func (q *Queue) Depths() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	live := func(t *btree.BTree) int {
		n := 0
		t.Ascend(func(i btree.Item) bool {
			if !i.(*item).claimed {
				n++
			}
			return true
		})
		return n
	}
	depths := map[string]int{"untargeted": 0, "rank": 0, "host": 0, "parallel": 0}
	for _, t := range q.untargeted {
		depths["untargeted"] += live(t)
	}
	for _, lanes := range q.rankLanes {
		for _, t := range lanes {
			depths["rank"] += live(t)
		}
	}
	for _, lanes := range q.hostLanes {
		for _, t := range lanes {
			depths["host"] += live(t)
		}
	}
	for _, t := range q.parallel {
		depths["parallel"] += live(t)
	}
	return depths
}

// Empty reports whether every lane is empty, one ingredient of the
// server quiescence check.
func (q *Queue) Empty() bool {
	d := q.Depths()
	return d["untargeted"] == 0 && d["rank"] == 0 && d["host"] == 0 && d["parallel"] == 0
}
