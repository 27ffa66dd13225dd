package codec

import (
	"testing"

	"github.com/cuemby/adlb-go/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestPackUnpackInt(t *testing.T) {
	v, err := UnpackInt(PackInt(42))
	assert.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestPackUnpackFloat(t *testing.T) {
	v, err := UnpackFloat(PackFloat(3.14159))
	assert.NoError(t, err)
	assert.InDelta(t, 3.14159, v, 1e-12)
}

func TestPackUnpackString(t *testing.T) {
	s, err := UnpackString(PackString("hello"))
	assert.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestUnpackStringRequiresTerminator(t *testing.T) {
	_, err := UnpackString([]byte("hello"))
	assert.Error(t, err)
}

func TestPackUnpackBlob(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	packed := PackBlob(payload)
	got, consumed, err := UnpackBlob(packed)
	assert.NoError(t, err)
	assert.Equal(t, len(packed), consumed)
	assert.Equal(t, payload, got)
}

func TestPackUnpackContainer(t *testing.T) {
	keys := [][]byte{PackString("a"), PackString("b")}
	vals := [][]byte{PackInt(1), nil}

	packed := PackContainer(types.TypeString, types.TypeInt, keys, vals)
	kt, vt, gotKeys, gotVals, err := UnpackContainer(packed)
	assert.NoError(t, err)
	assert.Equal(t, types.TypeString, kt)
	assert.Equal(t, types.TypeInt, vt)
	assert.Equal(t, keys, gotKeys)
	assert.Equal(t, vals[0], gotVals[0])
	assert.Nil(t, gotVals[1])
}

func TestPackUnpackMultiset(t *testing.T) {
	elems := [][]byte{PackInt(1), PackInt(2), PackInt(3)}
	packed := PackMultiset(types.TypeInt, elems)

	et, got, err := UnpackMultiset(packed)
	assert.NoError(t, err)
	assert.Equal(t, types.TypeInt, et)
	assert.Equal(t, elems, got)
}

func TestPackUnpackStruct(t *testing.T) {
	fields := [][]byte{PackInt(1), PackString("x"), PackFloat(2.5)}
	packed := PackStruct(7, fields)

	st, got, err := UnpackStruct(packed)
	assert.NoError(t, err)
	assert.Equal(t, 7, st)
	assert.Equal(t, fields, got)
}
