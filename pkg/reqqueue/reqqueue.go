// Package reqqueue implements the per-server request queue: the FIFO
// of outstanding get requests each idle worker has registered, and the
// nblocked counter a server's quiescence check depends on.
package reqqueue

import (
	"sort"
	"sync"

	"github.com/cuemby/adlb-go/pkg/metrics"
	"github.com/cuemby/adlb-go/pkg/types"
)

// Queue holds one server's outstanding worker requests, a plain FIFO
// per rank rather than a priority structure — requests carry no
// priority of their own, only a work type and a target accuracy.
type Queue struct {
	mu sync.Mutex

	byRank   map[int][]*types.Request
	nblocked int
}

// New creates an empty request queue.
func New() *Queue {
	return &Queue{byRank: make(map[int][]*types.Request)}
}

// Add registers count outstanding requests for rank/workType. If
// blocking is set, nblocked increases by count; the caller is
// responsible for calling the same Add once per logical get call, not
// once per copy.
func (q *Queue) Add(rank, workType, count int, blocking bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.byRank[rank] = append(q.byRank[rank], &types.Request{
		Rank: rank, WorkType: workType, Count: count, Blocking: blocking,
	})
	if blocking {
		q.nblocked += count
		metrics.RequestQueueBlocked.Set(float64(q.nblocked))
	}
}

// Decrement reduces the matching request's remaining count by one,
// dropping it once exhausted, and decrements nblocked if it was
// blocking. Used both when a request is satisfied by work and via the
// explicit decrement API a worker can call to cancel outstanding
// copies.
func (q *Queue) Decrement(rank, workType int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	reqs := q.byRank[rank]
	for i, r := range reqs {
		if r.WorkType != workType {
			continue
		}
		r.Count--
		if r.Blocking {
			q.nblocked--
			if q.nblocked < 0 {
				q.nblocked = 0
			}
			metrics.RequestQueueBlocked.Set(float64(q.nblocked))
		}
		if r.Count <= 0 {
			q.byRank[rank] = append(reqs[:i], reqs[i+1:]...)
		}
		return true
	}
	return false
}

// MatchesTarget reports whether rank has an outstanding request of
// workType honoring accuracy: AccuracyRank requires the exact rank;
// AccuracyHost additionally accepts any rank sharing hostOf(rank)'s
// host id, via the hostOfRank lookup the caller supplies (typically
// pkg/server's rank-to-host table).
func (q *Queue) MatchesTarget(rank, workType int, accuracy types.Accuracy, hostID int, hostOfRank func(int) int) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.hasOutstanding(rank, workType) {
		return rank, true
	}
	if accuracy != types.AccuracyHost {
		return 0, false
	}
	for r := range q.byRank {
		if r == rank {
			continue
		}
		if hostOfRank != nil && hostOfRank(r) != hostID {
			continue
		}
		if q.hasOutstanding(r, workType) {
			return r, true
		}
	}
	return 0, false
}

// MatchesType finds any rank with an outstanding request of workType.
// lastRank biases the search to ranks above it first (then wraps
// around), a cheap round-robin so repeated calls fan out across ranks
// instead of always favoring the lowest one; exact fairness is not
// guaranteed, matching spec.md's "round-robin is acceptable and
// recommended" language rather than a requirement.
func (q *Queue) MatchesType(workType int, lastRank int) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ranks := make([]int, 0, len(q.byRank))
	for r := range q.byRank {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)

	for _, r := range ranks {
		if r > lastRank && q.hasOutstanding(r, workType) {
			return r, true
		}
	}
	for _, r := range ranks {
		if r <= lastRank && q.hasOutstanding(r, workType) {
			return r, true
		}
	}
	return 0, false
}

func (q *Queue) hasOutstanding(rank, workType int) bool {
	for _, r := range q.byRank[rank] {
		if r.WorkType == workType && r.Count > 0 {
			return true
		}
	}
	return false
}

// NBlocked returns the current blocked-worker count.
func (q *Queue) NBlocked() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nblocked
}

// Idle reports quiescence readiness: the number of blocked workers
// equals workerCount. Non-blocking requests are not counted. The caller (pkg/
// server) additionally checks that every work queue is empty before
// declaring the server quiescent.
func (q *Queue) Idle(workerCount int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nblocked == workerCount
}

// Len returns the total outstanding request count across every rank,
// for pkg/metrics.Collector.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, reqs := range q.byRank {
		n += len(reqs)
	}
	return n
}
