package depengine

import (
	"context"
	"testing"

	"github.com/cuemby/adlb-go/pkg/subs"
	"github.com/cuemby/adlb-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLocal is a minimal LocalLookup double: ids in closed are local and
// closed, ids in open are local but not yet closed, anything else is
// owned by another server.
type fakeLocal struct {
	closed map[types.DatumID]bool
	open   map[types.DatumID]bool
}

func (f *fakeLocal) Local(id types.DatumID) bool {
	return f.closed[id] || f.open[id]
}

func (f *fakeLocal) Closed(id types.DatumID, subscript string) (bool, []byte, types.ValueType, bool) {
	if f.closed[id] {
		return true, nil, types.TypeInt, true
	}
	if f.open[id] {
		return false, nil, types.TypeInt, true
	}
	return false, nil, types.TypeInt, false
}

// fakeRemote always reports inputs as not-yet-closed and records the
// subscribes it was asked to issue.
type fakeRemote struct {
	calls []types.DatumID
}

func (f *fakeRemote) SubscribeRemote(ctx context.Context, id types.DatumID, subscript string, workType int) (bool, error) {
	f.calls = append(f.calls, id)
	return false, nil
}

func TestRuleAllInputsAlreadyClosedGoesReady(t *testing.T) {
	e := New()
	local := &fakeLocal{closed: map[types.DatumID]bool{1: true, 2: true}}
	tables := subs.New(16)

	ready, task, err := e.Rule(context.Background(), types.WorkUnit{Type: 1}, []types.DatumID{1, 2}, []string{"", ""}, local, tables, nil)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.True(t, task.Ready())
	assert.Equal(t, 0, e.Count())
}

func TestRulePendsOnOpenLocalInput(t *testing.T) {
	e := New()
	local := &fakeLocal{open: map[types.DatumID]bool{5: true}}
	tables := subs.New(16)

	ready, task, err := e.Rule(context.Background(), types.WorkUnit{Type: 1}, []types.DatumID{5}, []string{""}, local, tables, nil)
	require.NoError(t, err)
	assert.False(t, ready)
	assert.False(t, task.Ready())
	assert.Equal(t, 1, e.Count())

	doneReady := e.Close(5)
	require.Len(t, doneReady, 1)
	assert.Equal(t, task.ID, doneReady[0].ID)
	assert.Equal(t, 0, e.Count())
}

func TestRuleSubscribesRemoteForUnknownInput(t *testing.T) {
	e := New()
	local := &fakeLocal{}
	tables := subs.New(16)
	remote := &fakeRemote{}

	ready, _, err := e.Rule(context.Background(), types.WorkUnit{Type: 1}, []types.DatumID{99}, []string{""}, local, tables, remote)
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Equal(t, []types.DatumID{99}, remote.calls)
}

func TestRuleRemoteAlreadyClosedSkipsPending(t *testing.T) {
	e := New()
	local := &fakeLocal{}
	tables := subs.New(16)
	remote := closedRemote{}

	ready, task, err := e.Rule(context.Background(), types.WorkUnit{Type: 1}, []types.DatumID{7}, []string{""}, local, tables, remote)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.True(t, task.Ready())
	assert.True(t, tables.ClosedWhole(7))
}

type closedRemote struct{}

func (closedRemote) SubscribeRemote(ctx context.Context, id types.DatumID, subscript string, workType int) (bool, error) {
	return true, nil
}

func TestFanInMultipleInputsBecomesReadyOnLastClose(t *testing.T) {
	e := New()
	local := &fakeLocal{open: map[types.DatumID]bool{1: true, 2: true, 3: true}}
	tables := subs.New(16)

	ready, task, err := e.Rule(context.Background(), types.WorkUnit{Type: 1}, []types.DatumID{1, 2, 3}, []string{"", "", ""}, local, tables, nil)
	require.NoError(t, err)
	require.False(t, ready)

	assert.Empty(t, e.Close(1))
	assert.Empty(t, e.Close(2))
	readyNow := e.Close(3)
	require.Len(t, readyNow, 1)
	assert.Equal(t, task.ID, readyNow[0].ID)
}

func TestDuplicateInputIsIdempotent(t *testing.T) {
	e := New()
	local := &fakeLocal{open: map[types.DatumID]bool{1: true}}
	tables := subs.New(16)

	// the same input id listed twice (e.g. two subscripts of the same
	// datum collapsing to the same whole-datum dependency) must not be
	// double-counted when it closes.
	ready, task, err := e.Rule(context.Background(), types.WorkUnit{Type: 1}, []types.DatumID{1, 1}, []string{"", ""}, local, tables, nil)
	require.NoError(t, err)
	require.False(t, ready)
	assert.Equal(t, 2, task.TotalInputs)

	readyNow := e.Close(1)
	require.Len(t, readyNow, 1)
	assert.True(t, readyNow[0].Ready())
}

func TestSubCloseIndependentOfWholeClose(t *testing.T) {
	e := New()
	local := &fakeLocal{open: map[types.DatumID]bool{1: true}}
	tables := subs.New(16)

	ready, task, err := e.Rule(context.Background(), types.WorkUnit{Type: 1}, []types.DatumID{1}, []string{"k"}, local, tables, nil)
	require.NoError(t, err)
	require.False(t, ready)

	// closing the whole datum must not satisfy a subscript-specific input
	assert.Empty(t, e.Close(1))
	assert.Equal(t, 1, e.Count())

	readyNow := e.SubClose(1, "k")
	require.Len(t, readyNow, 1)
	assert.Equal(t, task.ID, readyNow[0].ID)
}

func TestDrainReturnsLeakedTasks(t *testing.T) {
	e := New()
	local := &fakeLocal{open: map[types.DatumID]bool{1: true}}
	tables := subs.New(16)

	_, _, err := e.Rule(context.Background(), types.WorkUnit{Type: 1}, []types.DatumID{1}, []string{""}, local, tables, nil)
	require.NoError(t, err)

	leaked := e.Drain()
	require.Len(t, leaked, 1)
	assert.Equal(t, 0, e.Count())
}
