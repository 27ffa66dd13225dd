package server

import (
	"context"
	"testing"

	"github.com/cuemby/adlb-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(Config{Rank: 0, ServerCount: 1}, nil)
}

func TestCreateStoreRetrieveRoundTrip(t *testing.T) {
	s := newTestServer(t)
	id, err := s.Create(0, types.TypeInt, types.TypeExtra{}, 1, 1, false)
	require.NoError(t, err)

	require.NoError(t, s.Store(id, "", []byte{1, 2, 3}, types.TypeInt, 0, 1))
	value, typ, err := s.Retrieve(id, "", types.RefcountPolicy{})
	require.NoError(t, err)
	assert.Equal(t, types.TypeInt, typ)
	assert.Equal(t, []byte{1, 2, 3}, value)
}

func TestPutDeliversHighestPriorityFirst(t *testing.T) {
	s := newTestServer(t)
	s.Put(types.WorkUnit{ID: 1, Priority: 1, Target: types.AnyRank})
	s.Put(types.WorkUnit{ID: 2, Priority: 9, Target: types.AnyRank})

	wu, ok := s.Get(0, 0, true)
	require.True(t, ok)
	assert.Equal(t, int64(2), wu.ID)
}

func TestPutRuleFansInAndEnqueuesOnLastClose(t *testing.T) {
	s := newTestServer(t)
	a, err := s.Create(0, types.TypeInt, types.TypeExtra{}, 1, 1, false)
	require.NoError(t, err)
	b, err := s.Create(0, types.TypeInt, types.TypeExtra{}, 1, 1, false)
	require.NoError(t, err)

	ready, err := s.PutRule(context.TODO(), types.WorkUnit{ID: 42, Target: types.AnyRank}, []types.DatumID{a, b}, []string{"", ""})
	require.NoError(t, err)
	assert.False(t, ready)

	_, ok := s.Get(0, 0, true)
	assert.False(t, ok, "rule not yet satisfied")

	require.NoError(t, s.Store(a, "", []byte{1}, types.TypeInt, 0, 1))
	_, ok = s.Get(0, 0, true)
	assert.False(t, ok, "only one of two inputs closed")

	require.NoError(t, s.Store(b, "", []byte{2}, types.TypeInt, 0, 1))
	wu, ok := s.Get(0, 0, true)
	require.True(t, ok, "both inputs closed, rule's work unit must now be enqueued")
	assert.Equal(t, int64(42), wu.ID)
}

func TestPutRuleAllInputsAlreadyClosedIsImmediatelyReady(t *testing.T) {
	s := newTestServer(t)
	a, err := s.Create(0, types.TypeInt, types.TypeExtra{}, 1, 1, false)
	require.NoError(t, err)
	require.NoError(t, s.Store(a, "", []byte{9}, types.TypeInt, 0, 1))

	ready, err := s.PutRule(context.TODO(), types.WorkUnit{ID: 7, Target: types.AnyRank}, []types.DatumID{a}, []string{""})
	require.NoError(t, err)
	assert.True(t, ready)

	wu, ok := s.Get(0, 0, true)
	require.True(t, ok)
	assert.Equal(t, int64(7), wu.ID)
}

func TestDuplicateInputRuleIdempotent(t *testing.T) {
	s := newTestServer(t)
	a, err := s.Create(0, types.TypeInt, types.TypeExtra{}, 1, 1, false)
	require.NoError(t, err)

	ready, err := s.PutRule(context.TODO(), types.WorkUnit{ID: 3, Target: types.AnyRank}, []types.DatumID{a, a}, []string{"", ""})
	require.NoError(t, err)
	assert.False(t, ready)

	require.NoError(t, s.Store(a, "", []byte{1}, types.TypeInt, 0, 1))
	wu, ok := s.Get(0, 0, true)
	require.True(t, ok, "a single close on a doubly-listed input must satisfy the rule exactly once")
	assert.Equal(t, int64(3), wu.ID)
}

func TestContainerReferenceReturnsImmediatelyWhenAlreadyPresent(t *testing.T) {
	s := newTestServer(t)
	c, err := s.Create(0, types.TypeContainer, types.TypeExtra{KeyType: types.TypeString, ValType: types.TypeInt}, 1, 1, false)
	require.NoError(t, err)
	require.NoError(t, s.Store(c, "k", []byte{5}, types.TypeInt, 0, 0))

	value, typ, present, err := s.ContainerReference(c, "k", types.ReferenceBinding{RefID: 99})
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, types.TypeInt, typ)
	assert.Equal(t, []byte{5}, value)
}

func TestContainerReferenceBindsWhenNotYetPresent(t *testing.T) {
	s := newTestServer(t)
	c, err := s.Create(0, types.TypeContainer, types.TypeExtra{KeyType: types.TypeString, ValType: types.TypeInt}, 1, 1, false)
	require.NoError(t, err)

	_, _, present, err := s.ContainerReference(c, "k", types.ReferenceBinding{RefID: 99})
	require.NoError(t, err)
	assert.False(t, present)

	bindings := s.subs.TakeSubBindings(c, "k")
	require.Len(t, bindings, 1)
	assert.Equal(t, types.DatumID(99), bindings[0].RefID)
}

func TestContainerReferenceDeliversValueOnClose(t *testing.T) {
	s := newTestServer(t)
	c, err := s.Create(0, types.TypeContainer, types.TypeExtra{KeyType: types.TypeString, ValType: types.TypeInt}, 1, 1, false)
	require.NoError(t, err)
	r, err := s.Create(0, types.TypeInt, types.TypeExtra{}, 0, 1, false)
	require.NoError(t, err)

	_, _, present, err := s.ContainerReference(c, "k", types.ReferenceBinding{RefID: r, RefType: types.TypeInt, TransferRead: 1})
	require.NoError(t, err)
	assert.False(t, present)

	// decrWrite=1 consumes the container slot's own write permission;
	// TransferRead=1 on the binding releases the read reservation
	// container_reference held open, so this single store both
	// delivers the value to r and fully closes c.
	require.NoError(t, s.Store(c, "k", []byte{7}, types.TypeInt, 0, 1))

	value, typ, err := s.Retrieve(r, "", types.RefcountPolicy{})
	require.NoError(t, err, "bound referand must receive the closed value")
	assert.Equal(t, types.TypeInt, typ)
	assert.Equal(t, []byte{7}, value)

	exists, _, err := s.Exists(c, "", 0)
	require.NoError(t, err)
	assert.False(t, exists, "container's refcounts must reach zero once the binding's transfer is applied")
}

func TestLockUnlock(t *testing.T) {
	s := newTestServer(t)
	assert.True(t, s.Lock(1))
	assert.False(t, s.Lock(1), "already locked")
	assert.True(t, s.Unlock(1))
	assert.False(t, s.Unlock(1), "nothing left to unlock")
	assert.True(t, s.Lock(1), "free again after unlock")
}

func TestHostTargetedGet(t *testing.T) {
	s := newTestServer(t)
	s.SetHostID(5, 100)
	s.Put(types.WorkUnit{ID: 11, Target: 100, Accuracy: types.AccuracyHost, Strictness: types.Strict})

	_, ok := s.Get(6, 0, false)
	assert.False(t, ok, "rank 6 is not on host 100")

	wu, ok := s.Get(5, 0, false)
	require.True(t, ok)
	assert.Equal(t, int64(11), wu.ID)
}

func TestQuiescenceRequiresIdleWorkersAndEmptyQueues(t *testing.T) {
	s := newTestServer(t)
	assert.False(t, s.IsQuiescent(1))

	_, ok := s.Get(0, 0, true)
	assert.False(t, ok)
	assert.True(t, s.IsQuiescent(1))

	s.Put(types.WorkUnit{ID: 1, Target: types.AnyRank})
	assert.False(t, s.IsQuiescent(1), "non-empty work queue blocks quiescence")
}
