// Package depengine implements the dependency/rule engine: the
// per-server table of pending tasks, each blocked on a set of
// (datum, subscript) inputs, and the rule/close/sub_close operations
// that move a task from pending to ready.
package depengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/adlb-go/pkg/metrics"
	"github.com/cuemby/adlb-go/pkg/subs"
	"github.com/cuemby/adlb-go/pkg/types"
)

// LocalLookup answers whether a datum/subscript has already closed,
// consulting the local datum store. The engine never reaches into
// pkg/store directly so it stays testable without constructing a full
// store; pkg/server supplies the real implementation.
type LocalLookup interface {
	// Local reports whether id is owned by this server; Closed reports
	// whether the datum or its (optional) subscript is already set.
	Local(id types.DatumID) bool
	Closed(id types.DatumID, subscript string) (closed bool, value []byte, valType types.ValueType, ok bool)
}

// RemoteSubscriber issues the cross-server subscribe sync (§4.6) when
// an input is owned by another server and not found in the closed-data
// cache.
type RemoteSubscriber interface {
	SubscribeRemote(ctx context.Context, id types.DatumID, subscript string, workType int) (alreadyClosed bool, err error)
}

func depKey(id types.DatumID, subscript string) string {
	return fmt.Sprintf("%d\x00%s", id, subscript)
}

// Engine is one server's dependency/rule engine.
type Engine struct {
	mu sync.Mutex

	pending map[int64]*types.PendingTask

	// dependents maps a (id, subscript) key to the pending tasks
	// waiting on it, mirroring the subscriber lists in pkg/subs but
	// holding task pointers instead of (rank, work-type) listeners.
	dependents map[string][]*types.PendingTask

	nextTaskID int64
}

// New creates an empty dependency engine.
func New() *Engine {
	return &Engine{
		pending:    make(map[int64]*types.PendingTask),
		dependents: make(map[string][]*types.PendingTask),
	}
}

// Rule registers a pending task's dependency set. It subscribes on the
// caller's behalf for every input in order: the already-subscribed
// table, the local datum store, the closed-data LRU cache, and finally
// a cross-server subscribe. If every input is already closed the task
// is never inserted into the pending table; Rule reports ready=true
// and the caller enqueues the work unit directly.
func (e *Engine) Rule(ctx context.Context, unit types.WorkUnit, inputIDs []types.DatumID, inputSubs []string, local LocalLookup, tables *subs.Tables, remote RemoteSubscriber) (ready bool, task *types.PendingTask, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := &types.PendingTask{
		Unit:        unit,
		InputIDs:    append([]types.DatumID(nil), inputIDs...),
		InputSubs:   append([]string(nil), inputSubs...),
		Closed:      make([]bool, len(inputIDs)),
		TotalInputs: len(inputIDs),
	}

	for i := range inputIDs {
		id := inputIDs[i]
		sub := inputSubs[i]

		// Already has an outstanding subscribe from this engine (e.g.
		// another rule on the same input): ride that subscribe, it is
		// not yet known closed.
		if tables.AlreadySubscribed(id, sub) {
			continue
		}

		if local.Local(id) {
			if closed, _, _, ok := local.Closed(id, sub); ok && closed {
				t.Closed[i] = true
			}
			continue
		}

		if (sub == "" && tables.ClosedWhole(id)) || (sub != "" && tables.ClosedSub(id, sub)) {
			t.Closed[i] = true
			continue
		}

		if remote != nil {
			alreadyClosed, subErr := remote.SubscribeRemote(ctx, id, sub, unit.Type)
			if subErr != nil {
				return false, nil, subErr
			}
			if alreadyClosed {
				if sub == "" {
					tables.CacheClosedWhole(id)
				} else {
					tables.CacheClosedSub(id, sub)
				}
				t.Closed[i] = true
			} else {
				tables.MarkSubscribed(id, sub)
			}
		}
	}
	e.advanceBlocker(t)

	if t.Ready() {
		metrics.TasksReadyTotal.Inc()
		return true, t, nil
	}

	e.nextTaskID++
	t.ID = e.nextTaskID
	e.pending[t.ID] = t
	for i := range inputIDs {
		if t.Closed[i] {
			continue
		}
		key := depKey(inputIDs[i], inputSubs[i])
		e.dependents[key] = append(e.dependents[key], t)
	}
	metrics.PendingTasksTotal.Set(float64(len(e.pending)))
	return false, t, nil
}

// Close marks a whole-datum input closed for every dependent task and
// returns the tasks that became ready as a result. It is idempotent
// under duplicate dependents: a task listed twice under the same
// closing id/subscript is only ever returned once.
func (e *Engine) Close(id types.DatumID) []*types.PendingTask {
	return e.closeKey(depKey(id, ""), id, "")
}

// SubClose marks a (id, subscript) input closed.
func (e *Engine) SubClose(id types.DatumID, subscript string) []*types.PendingTask {
	return e.closeKey(depKey(id, subscript), id, subscript)
}

func (e *Engine) closeKey(key string, id types.DatumID, subscript string) []*types.PendingTask {
	e.mu.Lock()
	defer e.mu.Unlock()

	deps := e.dependents[key]
	delete(e.dependents, key)

	seen := make(map[int64]bool, len(deps))
	var ready []*types.PendingTask
	for _, t := range deps {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true

		for i := t.Blocker; i < t.TotalInputs; i++ {
			if t.Closed[i] {
				continue
			}
			if t.InputIDs[i] == id && t.InputSubs[i] == subscript {
				t.Closed[i] = true
			}
		}
		e.advanceBlocker(t)

		if t.Ready() {
			delete(e.pending, t.ID)
			ready = append(ready, t)
		}
	}
	metrics.PendingTasksTotal.Set(float64(len(e.pending)))
	metrics.TasksReadyTotal.Add(float64(len(ready)))
	return ready
}

// advanceBlocker moves Blocker forward over any already-closed inputs.
func (e *Engine) advanceBlocker(t *types.PendingTask) {
	for t.Blocker < t.TotalInputs && t.Closed[t.Blocker] {
		t.Blocker++
	}
}

// Count returns the number of tasks currently pending.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Drain empties the pending table and returns every task still
// blocked, for shutdown leak reporting.
func (e *Engine) Drain() []*types.PendingTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.PendingTask, 0, len(e.pending))
	for _, t := range e.pending {
		out = append(out, t)
	}
	e.pending = make(map[int64]*types.PendingTask)
	e.dependents = make(map[string][]*types.PendingTask)
	return out
}
