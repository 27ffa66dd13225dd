package store

import (
	"testing"

	"github.com/cuemby/adlb-go/pkg/codec"
	"github.com/cuemby/adlb-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarPublishThenRetrieve(t *testing.T) {
	s := New(0, 1)
	require.NoError(t, s.Create(10, types.TypeInt, types.TypeExtra{}, 1, 1, false))

	require.NoError(t, s.AddListener(10, types.Listener{Rank: 3, WorkType: 0}))

	ev, err := s.Store(10, "", codec.PackInt(42), types.TypeInt, 0, 1)
	require.NoError(t, err)
	assert.True(t, ev.WholeClosed)
	require.Len(t, ev.Listeners, 1)
	assert.Equal(t, 3, ev.Listeners[0].Rank)

	val, typ, err := s.Retrieve(10, "", types.RefcountPolicy{DecrRead: 1})
	require.NoError(t, err)
	assert.Equal(t, types.TypeInt, typ)
	got, err := codec.UnpackInt(val)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	assert.Equal(t, 0, s.Count())
}

func TestDoubleWriteOnScalar(t *testing.T) {
	s := New(0, 1)
	require.NoError(t, s.Create(1, types.TypeInt, types.TypeExtra{}, 1, 1, false))
	_, err := s.Store(1, "", codec.PackInt(1), types.TypeInt, 0, 0)
	require.NoError(t, err)

	_, err = s.Store(1, "", codec.PackInt(2), types.TypeInt, 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrDoubleWrite)
}

func TestCreateOnExistingIDIsDoubleDeclare(t *testing.T) {
	s := New(0, 1)
	require.NoError(t, s.Create(1, types.TypeInt, types.TypeExtra{}, 1, 1, false))
	err := s.Create(1, types.TypeInt, types.TypeExtra{}, 1, 1, false)
	assert.ErrorIs(t, err, types.ErrDoubleDeclare)
}

func TestContainerInsertAtomicRace(t *testing.T) {
	s := New(0, 1)
	extra := types.TypeExtra{KeyType: types.TypeString, ValType: types.TypeInt}
	require.NoError(t, s.Create(20, types.TypeContainer, extra, 1, 2, false))

	resA, err := s.InsertAtomic(20, "k")
	require.NoError(t, err)
	assert.True(t, resA.Created)

	resB, err := s.InsertAtomic(20, "k")
	require.NoError(t, err)
	assert.False(t, resB.Created)
	assert.Nil(t, resB.Value)

	ev, err := s.Store(20, "k", codec.PackInt(7), types.TypeInt, 0, 1)
	require.NoError(t, err)
	assert.False(t, ev.WholeClosed) // write refcount still 1, not yet zero
}

func TestStoreOnUnknownIDIsNotFound(t *testing.T) {
	s := New(0, 1)
	_, err := s.Store(99, "", codec.PackInt(1), types.TypeInt, 0, 0)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStoreOnNullIDIsNullError(t *testing.T) {
	s := New(0, 1)
	_, err := s.Store(types.NullID, "", nil, types.TypeInt, 0, 0)
	assert.ErrorIs(t, err, types.ErrNull)
}

func TestRefcountGoesNegative(t *testing.T) {
	s := New(0, 1)
	require.NoError(t, s.Create(5, types.TypeInt, types.TypeExtra{}, 0, 1, false))
	_, err := s.Store(5, "", codec.PackInt(1), types.TypeInt, 0, 5)
	assert.ErrorIs(t, err, types.ErrSlotsNegative)
}

func TestPermanentDatumNeverCollected(t *testing.T) {
	s := New(0, 1)
	require.NoError(t, s.Create(7, types.TypeInt, types.TypeExtra{}, 0, 0, true))
	_, err := s.Store(7, "", codec.PackInt(1), types.TypeInt, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count())
}

func TestUniqueAllocatesDistinctIDs(t *testing.T) {
	s := New(2, 4)
	a := s.Unique()
	b := s.Unique()
	assert.NotEqual(t, a, b)
	assert.Equal(t, types.DatumID(2), a)
	assert.Equal(t, types.DatumID(6), b)
}

func TestStructDeclDoubleDeclare(t *testing.T) {
	s := New(0, 1)
	decl := types.StructDecl{Index: 1, Name: "point", Fields: []types.StructFieldDecl{
		{Type: types.TypeInt, Name: "x"},
		{Type: types.TypeInt, Name: "y"},
	}}
	require.NoError(t, s.DeclareStruct(decl))
	err := s.DeclareStruct(decl)
	assert.ErrorIs(t, err, types.ErrDoubleDeclare)
}

func TestStructStoreRetrieveNestedField(t *testing.T) {
	s := New(0, 1)
	// A "line" struct (index 2) has a "start" field (index 1) that is
	// itself a "point" struct, so subscript "1.0" addresses the start
	// point's x field: field 0 of field 1.
	decl := types.StructDecl{Index: 2, Name: "line", Fields: []types.StructFieldDecl{
		{Type: types.TypeInt, Name: "length"},
		{Type: types.TypeStruct, Name: "start", NestedFields: []types.StructFieldDecl{
			{Type: types.TypeInt, Name: "x"},
			{Type: types.TypeInt, Name: "y"},
		}},
	}}
	require.NoError(t, s.DeclareStruct(decl))
	require.NoError(t, s.Create(40, types.TypeStruct, types.TypeExtra{StructType: 2}, 1, 1, false))

	_, err := s.Store(40, "0", codec.PackInt(7), types.TypeInt, 0, 0)
	require.NoError(t, err)
	_, err = s.Store(40, "1.0", codec.PackInt(3), types.TypeInt, 0, 0)
	require.NoError(t, err)
	_, err = s.Store(40, "1.1", codec.PackInt(4), types.TypeInt, 0, 1)
	require.NoError(t, err)

	v, typ, err := s.Retrieve(40, "1.0", types.RefcountPolicy{})
	require.NoError(t, err)
	assert.Equal(t, types.TypeInt, typ)
	n, err := codec.UnpackInt(v)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = s.Store(40, "1.0", codec.PackInt(99), types.TypeInt, 0, 0)
	assert.ErrorIs(t, err, types.ErrDoubleWrite)
}

func TestEnumerateMultiset(t *testing.T) {
	s := New(0, 1)
	extra := types.TypeExtra{ValType: types.TypeInt}
	require.NoError(t, s.Create(30, types.TypeMultiset, extra, 1, 1, false))

	for i := int64(1); i <= 3; i++ {
		_, err := s.Store(30, "x", codec.PackInt(i), types.TypeInt, 0, 0)
		require.NoError(t, err)
	}

	results, _, valType, err := s.Enumerate(30, -1, 0, false, true, 0)
	require.NoError(t, err)
	assert.Equal(t, types.TypeInt, valType)
	require.Len(t, results, 3)
	v, err := codec.UnpackInt(results[0].Value)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}
