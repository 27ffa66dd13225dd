// Package server implements the control plane that wires the datum
// store, subscription tables, dependency engine, work queue, and
// request queue into the external operation set of §6. A Server is
// one shard: the rank it was constructed with, in a deployment of a
// fixed server count.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/adlb-go/pkg/depengine"
	"github.com/cuemby/adlb-go/pkg/events"
	"github.com/cuemby/adlb-go/pkg/log"
	"github.com/cuemby/adlb-go/pkg/metrics"
	"github.com/cuemby/adlb-go/pkg/reqqueue"
	"github.com/cuemby/adlb-go/pkg/store"
	"github.com/cuemby/adlb-go/pkg/subs"
	"github.com/cuemby/adlb-go/pkg/types"
	"github.com/cuemby/adlb-go/pkg/workqueue"
)

// RemoteSync is how a server reaches a datum owned by another shard:
// subscribe and refcount-increment, each a single synchronous
// point-to-point round trip per §4.6. internal/rpc supplies the real
// implementation over gRPC; tests supply an in-process fake.
type RemoteSync interface {
	depengine.RemoteSubscriber
	IncrRemote(ctx context.Context, id types.DatumID, deltaRead, deltaWrite int) error
}

// Config bundles the values a Server needs at construction.
type Config struct {
	Rank            int
	ServerCount     int
	ClosedCacheSize int // ADLB_CLOSED_CACHE_SIZE; 0 uses subs.DefaultClosedCacheSize
	ReportLeaks     bool
}

// Server is one shard's control plane.
type Server struct {
	rank        int
	serverCount int
	reportLeaks bool

	store   *store.Store
	subs    *subs.Tables
	deps    *depengine.Engine
	work    *workqueue.Queue
	reqs    *reqqueue.Queue
	events  *events.Broker
	remote  RemoteSync
	hostIDs map[int]int // rank -> host-group id, for host-accuracy targeting

	mu    sync.Mutex
	locks map[types.DatumID]bool
}

// New constructs a server shard. remote may be nil for a single-shard
// deployment or in tests that never exercise cross-server paths.
func New(cfg Config, remote RemoteSync) *Server {
	return &Server{
		rank:        cfg.Rank,
		serverCount: cfg.ServerCount,
		reportLeaks: cfg.ReportLeaks,
		store:       store.New(cfg.Rank, cfg.ServerCount),
		subs:        subs.New(cfg.ClosedCacheSize),
		deps:        depengine.New(),
		work:        workqueue.New(),
		reqs:        reqqueue.New(),
		events:      events.NewBroker(),
		remote:      remote,
		hostIDs:     make(map[int]int),
	}
}

// SetHostID records which host-group rank belongs to, for Accuracy ==
// AccuracyHost targeting. The deployment's launcher calls this once
// per peer at startup.
func (s *Server) SetHostID(rank, hostID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostIDs[rank] = hostID
}

func (s *Server) hostOf(rank int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostIDs[rank]
}

// local reports whether id is owned by this shard.
func (s *Server) local(id types.DatumID) bool {
	return types.Locate(id, s.serverCount) == s.rank
}

// --- depengine.LocalLookup adapter -----------------------------------

func (s *Server) Local(id types.DatumID) bool { return s.local(id) }

func (s *Server) Closed(id types.DatumID, subscript string) (closed bool, value []byte, valType types.ValueType, ok bool) {
	exists, set, err := s.store.Exists(id, subscript)
	if err != nil || !exists {
		return false, nil, 0, false
	}
	return set, nil, 0, true
}

// --- §6 operations ----------------------------------------------------

// Unique returns a fresh datum id from this shard's allocation stride.
func (s *Server) Unique() types.DatumID {
	return s.store.Unique()
}

// Create declares a new datum. id == 0 requests fresh allocation.
func (s *Server) Create(id types.DatumID, typ types.ValueType, extra types.TypeExtra, readRC, writeRC int, permanent bool) (types.DatumID, error) {
	if id == types.NullID {
		id = s.store.Unique()
	}
	if err := s.store.Create(id, typ, extra, readRC, writeRC, permanent); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues(codeOf(err)).Inc()
		return 0, err
	}
	return id, nil
}

// Store writes a value and routes any resulting close notifications to
// local listeners. Listeners on other shards are not notified.
func (s *Server) Store(id types.DatumID, subscript string, value []byte, typ types.ValueType, decrRead, decrWrite int) error {
	ev, err := s.store.Store(id, subscript, value, typ, decrRead, decrWrite)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues(codeOf(err)).Inc()
		return err
	}
	s.routeClose(ev)
	return nil
}

// Retrieve returns a datum's (or subfield's) packed value, applying the
// policy's DecrRead/DecrWrite atomically with the read; the policy's
// AcquireRead/AcquireWrite are not applied.
func (s *Server) Retrieve(id types.DatumID, subscript string, policy types.RefcountPolicy) ([]byte, types.ValueType, error) {
	value, typ, err := s.store.Retrieve(id, subscript, policy)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues(codeOf(err)).Inc()
		return nil, 0, err
	}
	return value, typ, nil
}

// Exists reports whether id (or, for a subscript, that slot) is
// present; a present but unset slot also reports true.
func (s *Server) Exists(id types.DatumID, subscript string, decrRead int) (bool, error) {
	exists, _, err := s.store.Exists(id, subscript)
	if err != nil {
		return false, err
	}
	if exists && decrRead > 0 {
		ev, err := s.store.IncrRemote(id, -decrRead, 0)
		if err != nil {
			return false, err
		}
		s.routeClose(ev)
	}
	return exists, nil
}

// Enumerate returns up to count entries of a container or multiset.
func (s *Server) Enumerate(id types.DatumID, count, offset int, includeKeys, includeVals bool, decrRead int) ([]store.EnumerateResult, types.ValueType, types.ValueType, error) {
	return s.store.Enumerate(id, count, offset, includeKeys, includeVals, decrRead)
}

// RefcountIncr adjusts id's refcounts, routing the owner (local or
// remote) and any resulting close notification.
func (s *Server) RefcountIncr(ctx context.Context, id types.DatumID, deltaRead, deltaWrite int) error {
	if !s.local(id) {
		if s.remote == nil {
			return types.NewError(types.INVALID, fmt.Errorf("id %d is remote and no transport is configured", id))
		}
		metrics.SyncRequestsTotal.WithLabelValues("refcount").Inc()
		timer := metrics.NewTimer()
		defer timer.ObserveDuration(metrics.SyncRequestDuration)
		return s.remote.IncrRemote(ctx, id, deltaRead, deltaWrite)
	}
	ev, err := s.store.IncrRemote(id, deltaRead, deltaWrite)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues(codeOf(err)).Inc()
		return err
	}
	s.routeClose(ev)
	return nil
}

// Subscribe registers a (rank, work-type) listener for id/subscript,
// consulting the already-subscribed table and closed-data cache before
// issuing a cross-server subscribe sync. Reports whether it is
// already known closed.
func (s *Server) Subscribe(ctx context.Context, id types.DatumID, subscript string, l types.Listener) (bool, error) {
	if s.subs.AlreadySubscribed(id, subscript) {
		if subscript == "" {
			s.subs.SubscribeWhole(id, l)
		} else {
			s.subs.SubscribeSub(id, subscript, l)
		}
		return false, nil
	}
	if s.local(id) {
		exists, set, err := s.store.Exists(id, subscript)
		if err != nil {
			return false, err
		}
		if exists && set {
			return true, nil
		}
		if subscript == "" {
			s.subs.SubscribeWhole(id, l)
		} else {
			s.subs.SubscribeSub(id, subscript, l)
		}
		return false, nil
	}
	if subscript == "" && s.subs.ClosedWhole(id) {
		return true, nil
	}
	if subscript != "" && s.subs.ClosedSub(id, subscript) {
		return true, nil
	}
	if s.remote == nil {
		return false, types.NewError(types.INVALID, fmt.Errorf("id %d is remote and no transport is configured", id))
	}
	metrics.SyncRequestsTotal.WithLabelValues("subscribe").Inc()
	timer := metrics.NewTimer()
	closed, err := s.remote.SubscribeRemote(ctx, id, subscript, l.WorkType)
	timer.ObserveDuration(metrics.SyncRequestDuration)
	if err != nil {
		return false, err
	}
	if closed {
		if subscript == "" {
			s.subs.CacheClosedWhole(id)
		} else {
			s.subs.CacheClosedSub(id, subscript)
		}
		return true, nil
	}
	if subscript == "" {
		s.subs.SubscribeWhole(id, l)
	} else {
		s.subs.SubscribeSub(id, subscript, l)
	}
	return false, nil
}

// ContainerReference binds refID/refSubscript to be notified and
// populated with id[subscript]'s value once it closes, or returns the
// value immediately if it is already present.
func (s *Server) ContainerReference(id types.DatumID, subscript string, binding types.ReferenceBinding) ([]byte, types.ValueType, bool, error) {
	exists, set, err := s.store.Exists(id, subscript)
	if err != nil {
		return nil, 0, false, err
	}
	if exists && set {
		value, typ, err := s.store.Retrieve(id, subscript, types.RefcountPolicy{})
		if err != nil {
			return nil, 0, false, err
		}
		return value, typ, true, nil
	}
	if subscript == "" {
		s.subs.BindWhole(id, binding)
	} else {
		s.subs.BindSub(id, subscript, binding)
	}
	return nil, 0, false, nil
}

// InsertAtomic reserves a container slot.
func (s *Server) InsertAtomic(id types.DatumID, subscript string) (*store.InsertAtomicResult, error) {
	return s.store.InsertAtomic(id, subscript)
}

// Lock acquires the advisory lock on id, reporting whether it was
// free. Locks are process-local coordination, not datum state.
func (s *Server) Lock(id types.DatumID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[types.DatumID]bool)
	}
	if s.locks[id] {
		return false
	}
	s.locks[id] = true
	return true
}

// Unlock releases id's advisory lock, reporting whether it had been held.
func (s *Server) Unlock(id types.DatumID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locks[id] {
		return false
	}
	delete(s.locks, id)
	return true
}

// Put enqueues a ready work unit directly, with no dependency wait.
func (s *Server) Put(wu types.WorkUnit) {
	s.work.Add(wu)
}

// PutRule registers a rule: wu becomes runnable once every input has
// closed. Returns ready=true if every input was already closed, in
// which case the caller need not wait for a later Close to enqueue it
// — PutRule enqueues it immediately in that case.
func (s *Server) PutRule(ctx context.Context, wu types.WorkUnit, inputIDs []types.DatumID, inputSubs []string) (bool, error) {
	ready, _, err := s.deps.Rule(ctx, wu, inputIDs, inputSubs, s, s.subs, s.remote)
	if err != nil {
		return false, err
	}
	if ready {
		s.work.Add(wu)
	}
	return ready, nil
}

// Get matches an idle worker's request against the work queue,
// registering it in the request queue if nothing is ready yet. A
// parallel work unit (Parallelism > 1) is only dispatched once enough
// other workers are idle to claim it all at once — idleWorkers counts
// this worker plus every other worker already blocked on a get — so
// it is tried first, ahead of the single-worker lanes.
func (s *Server) Get(rank, workType int, blocking bool) (types.WorkUnit, bool) {
	hostID := s.hostOf(rank)
	idleWorkers := s.reqs.NBlocked() + 1
	if wu, ok := s.work.PopParallel(workType, idleWorkers); ok {
		return wu, true
	}
	if wu, ok := s.work.Get(rank, hostID, workType); ok {
		return wu, true
	}
	s.reqs.Add(rank, workType, 1, blocking)
	return types.WorkUnit{}, false
}

// routeClose notifies every local whole-datum listener a store or
// refcount-incr surfaced, advances the dependency engine, and delivers
// any container references bound to the closed slot (§8 "Reference
// binding through container"). Remote listeners and remote dependents
// are the responsibility of internal/rpc, which observes the same
// CloseEvent via a hook — not yet wired (see DESIGN.md).
func (s *Server) routeClose(ev *store.CloseEvent) {
	if ev == nil {
		return
	}
	if ev.WholeClosed {
		ready := s.deps.Close(ev.DatumID)
		s.enqueueReady(ready)
		for _, l := range ev.Listeners {
			s.wakeListener(l, ev)
		}
		for _, l := range s.subs.TakeWhole(ev.DatumID) {
			s.wakeListener(l, ev)
		}
		for _, b := range s.subs.TakeWholeBindings(ev.DatumID) {
			s.deliverBinding(ev.DatumID, b, ev.Value)
		}
		if ev.GarbageCollected {
			s.events.Publish(&events.Event{
				Type:     events.EventDatumGCed,
				Metadata: map[string]string{"datum_id": fmt.Sprintf("%d", ev.DatumID)},
			})
		}
	} else if ev.Subscript != "" {
		ready := s.deps.SubClose(ev.DatumID, ev.Subscript)
		s.enqueueReady(ready)
		for _, l := range s.subs.TakeSub(ev.DatumID, ev.Subscript) {
			s.wakeListener(l, ev)
		}
		for _, b := range s.subs.TakeSubBindings(ev.DatumID, ev.Subscript) {
			s.deliverBinding(ev.DatumID, b, ev.Value)
		}
	}
}

// deliverBinding carries out one container_reference delivery once the
// bound container slot closes: the referand named by the binding is
// populated with the closed value (a local Store when the referand is
// owned by this shard; a remote referand has no sync primitive yet and
// is logged rather than silently dropped — see DESIGN.md), and the
// container's own refcount is decremented by the transferred amount,
// releasing the reservation container_reference held open. Any further
// close this decrement produces is routed recursively, the same way a
// direct RefcountIncr would.
func (s *Server) deliverBinding(containerID types.DatumID, b types.ReferenceBinding, value []byte) {
	if s.local(b.RefID) {
		if err := s.Store(b.RefID, b.RefSubscript, value, b.RefType, 0, 0); err != nil {
			log.Logger.Warn().Err(err).Int64("ref_id", int64(b.RefID)).Msg("reference binding delivery failed")
		}
	} else {
		log.Logger.Warn().Int64("ref_id", int64(b.RefID)).Msg("reference binding targets a remote referand; no remote delivery transport is wired yet")
	}
	if b.TransferRead == 0 && b.TransferWrite == 0 {
		return
	}
	ev, err := s.store.IncrRemote(containerID, -b.TransferRead, -b.TransferWrite)
	if err != nil {
		log.Logger.Warn().Err(err).Int64("datum_id", int64(containerID)).Msg("reference binding transfer-refcount release failed")
		return
	}
	s.routeClose(ev)
}

func (s *Server) enqueueReady(ready []*types.PendingTask) {
	for _, t := range ready {
		s.work.Add(t.Unit)
	}
}

// wakeListener unblocks a worker's outstanding get request with the
// closed datum's own wake-up — a listener fires through the request
// queue, not by synthesizing a new work unit.
func (s *Server) wakeListener(l types.Listener, ev *store.CloseEvent) {
	s.reqs.Decrement(l.Rank, l.WorkType)
}

// IsQuiescent reports whether this shard is idle: every worker blocked
// and every work-queue lane empty.
func (s *Server) IsQuiescent(workerCount int) bool {
	return s.reqs.Idle(workerCount) && s.work.Empty()
}

// Shutdown drains the dependency engine and logs leaked tasks and
// datums, honoring ADLB_REPORT_LEAKS for per-id detail.
func (s *Server) Shutdown() {
	leakedTasks := s.deps.Drain()
	if len(leakedTasks) > 0 {
		log.Logger.Warn().Int("count", len(leakedTasks)).Msg("pending tasks never became ready at shutdown")
	}
	leaks := s.store.Snapshot()
	if len(leaks) == 0 {
		return
	}
	logger := log.WithServer(s.rank)
	logger.Warn().Int("count", len(leaks)).Msg("datums still live at shutdown")
	if s.reportLeaks {
		for _, leak := range leaks {
			logger.Warn().
				Int64("datum_id", int64(leak.ID)).
				Str("type", leak.Type.String()).
				Int("read_refcount", leak.ReadRefcount).
				Int("write_refcount", leak.WriteRefcount).
				Msg("leaked datum")
		}
	}
	s.events.Publish(&events.Event{Type: events.EventServerShutdown})
}

// Events returns the lifecycle event broker for this shard, so a
// caller (metrics, logging, an admin endpoint) can subscribe.
func (s *Server) Events() *events.Broker { return s.events }

// --- pkg/metrics.StatsProvider ----------------------------------------

func (s *Server) DatumCount() int { return s.store.Count() }
func (s *Server) PendingCount() int { return s.deps.Count() }
func (s *Server) WorkQueueDepths() map[string]int { return s.work.Depths() }
func (s *Server) BlockedRequests() int { return s.reqs.NBlocked() }

func codeOf(err error) string {
	var ce *types.CodeError
	if errors.As(err, &ce) {
		return ce.Code.String()
	}
	return types.UNKNOWN.String()
}
