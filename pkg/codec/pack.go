package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cuemby/adlb-go/pkg/types"
)

// PackInt returns the canonical 8-byte little-endian image of an int64.
func PackInt(v int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf
}

// UnpackInt reads the canonical int64 image.
func UnpackInt(buf []byte) (int64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("codec: int must be 8 bytes, got %d", len(buf))
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

// PackFloat returns the canonical 8-byte little-endian image of a float64.
func PackFloat(v float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}

// UnpackFloat reads the canonical float64 image.
func UnpackFloat(buf []byte) (float64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("codec: float must be 8 bytes, got %d", len(buf))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
}

// PackString returns bytes followed by a terminating null, which must
// be present as the last byte on unpack.
func PackString(s string) []byte {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	buf[len(s)] = 0
	return buf
}

// UnpackString strips the terminating null, erroring if absent.
func UnpackString(buf []byte) (string, error) {
	if len(buf) == 0 || buf[len(buf)-1] != 0 {
		return "", fmt.Errorf("codec: string missing terminating null")
	}
	return string(buf[:len(buf)-1]), nil
}

// PackBlob returns a length-prefixed (varint) image with no terminator.
func PackBlob(b []byte) []byte {
	buf := VarintEncode(nil, int64(len(b)))
	return append(buf, b...)
}

// UnpackBlob reads a length-prefixed blob, returning the payload and
// bytes consumed.
func UnpackBlob(buf []byte) ([]byte, int, error) {
	n, consumed, err := VarintDecode(buf)
	if err != nil {
		return nil, 0, err
	}
	if n < 0 || consumed+int(n) > len(buf) {
		return nil, 0, fmt.Errorf("codec: blob length out of range")
	}
	return buf[consumed : consumed+int(n)], consumed + int(n), nil
}

// PackRef returns the canonical 8-byte little-endian image of a datum id.
func PackRef(id types.DatumID) []byte {
	return PackInt(int64(id))
}

// UnpackRef reads a datum id image.
func UnpackRef(buf []byte) (types.DatumID, error) {
	v, err := UnpackInt(buf)
	return types.DatumID(v), err
}

// PackContainer writes the header {elem-count, key-type, value-type}
// followed by elem-count (key, value) pairs, each length-prefixed by a
// varint. keys and vals must be parallel slices of equal length, vals
// may contain nil entries to represent an atomic reservation (encoded
// as a value length of -1 with no value bytes following).
func PackContainer(keyType, valType types.ValueType, keys, vals [][]byte) []byte {
	var buf []byte
	buf = VarintEncode(buf, int64(len(keys)))
	buf = VarintEncode(buf, int64(keyType))
	buf = VarintEncode(buf, int64(valType))
	for i := range keys {
		buf = VarintEncode(buf, int64(len(keys[i])))
		buf = append(buf, keys[i]...)
		if vals[i] == nil {
			buf = VarintEncode(buf, -1)
		} else {
			buf = VarintEncode(buf, int64(len(vals[i])))
			buf = append(buf, vals[i]...)
		}
	}
	return buf
}

// UnpackContainer is the inverse of PackContainer. A val entry of nil
// denotes an atomic reservation (no value yet stored).
func UnpackContainer(buf []byte) (keyType, valType types.ValueType, keys, vals [][]byte, err error) {
	n, pos, err := VarintDecode(buf)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	kt, consumed, err := VarintDecode(buf[pos:])
	if err != nil {
		return 0, 0, nil, nil, err
	}
	pos += consumed
	vt, consumed, err := VarintDecode(buf[pos:])
	if err != nil {
		return 0, 0, nil, nil, err
	}
	pos += consumed

	keys = make([][]byte, n)
	vals = make([][]byte, n)
	for i := int64(0); i < n; i++ {
		klen, consumed, err := VarintDecode(buf[pos:])
		if err != nil {
			return 0, 0, nil, nil, err
		}
		pos += consumed
		if klen < 0 || pos+int(klen) > len(buf) {
			return 0, 0, nil, nil, fmt.Errorf("codec: container key length out of range")
		}
		keys[i] = buf[pos : pos+int(klen)]
		pos += int(klen)

		vlen, consumed, err := VarintDecode(buf[pos:])
		if err != nil {
			return 0, 0, nil, nil, err
		}
		pos += consumed
		if vlen < 0 {
			vals[i] = nil
			continue
		}
		if pos+int(vlen) > len(buf) {
			return 0, 0, nil, nil, fmt.Errorf("codec: container value length out of range")
		}
		vals[i] = buf[pos : pos+int(vlen)]
		pos += int(vlen)
	}
	return types.ValueType(kt), types.ValueType(vt), keys, vals, nil
}

// PackMultiset writes the header {elem-count, elem-type} followed by
// length-prefixed elements.
func PackMultiset(elemType types.ValueType, elems [][]byte) []byte {
	var buf []byte
	buf = VarintEncode(buf, int64(len(elems)))
	buf = VarintEncode(buf, int64(elemType))
	for _, e := range elems {
		buf = VarintEncode(buf, int64(len(e)))
		buf = append(buf, e...)
	}
	return buf
}

// UnpackMultiset is the inverse of PackMultiset.
func UnpackMultiset(buf []byte) (elemType types.ValueType, elems [][]byte, err error) {
	n, pos, err := VarintDecode(buf)
	if err != nil {
		return 0, nil, err
	}
	et, consumed, err := VarintDecode(buf[pos:])
	if err != nil {
		return 0, nil, err
	}
	pos += consumed

	elems = make([][]byte, n)
	for i := int64(0); i < n; i++ {
		elen, consumed, err := VarintDecode(buf[pos:])
		if err != nil {
			return 0, nil, err
		}
		pos += consumed
		if elen < 0 || pos+int(elen) > len(buf) {
			return 0, nil, fmt.Errorf("codec: multiset element length out of range")
		}
		elems[i] = buf[pos : pos+int(elen)]
		pos += int(elen)
	}
	return types.ValueType(et), elems, nil
}

// PackStruct writes the header {struct-type-index, field-offsets[]}
// followed by the concatenated field packings.
func PackStruct(structType int, fields [][]byte) []byte {
	var buf []byte
	buf = VarintEncode(buf, int64(structType))
	buf = VarintEncode(buf, int64(len(fields)))
	offset := int64(0)
	offsets := make([]int64, len(fields))
	for i, f := range fields {
		offsets[i] = offset
		offset += int64(len(f))
	}
	for _, off := range offsets {
		buf = VarintEncode(buf, off)
	}
	for _, f := range fields {
		buf = append(buf, f...)
	}
	return buf
}

// UnpackStruct is the inverse of PackStruct.
func UnpackStruct(buf []byte) (structType int, fields [][]byte, err error) {
	st, pos, err := VarintDecode(buf)
	if err != nil {
		return 0, nil, err
	}
	n, consumed, err := VarintDecode(buf[pos:])
	if err != nil {
		return 0, nil, err
	}
	pos += consumed

	offsets := make([]int64, n)
	for i := int64(0); i < n; i++ {
		off, consumed, err := VarintDecode(buf[pos:])
		if err != nil {
			return 0, nil, err
		}
		pos += consumed
		offsets[i] = off
	}

	body := buf[pos:]
	fields = make([][]byte, n)
	for i := int64(0); i < n; i++ {
		start := offsets[i]
		var end int64
		if i+1 < n {
			end = offsets[i+1]
		} else {
			end = int64(len(body))
		}
		if start < 0 || end > int64(len(body)) || start > end {
			return 0, nil, fmt.Errorf("codec: struct field offset out of range")
		}
		fields[i] = body[start:end]
	}
	return int(st), fields, nil
}
