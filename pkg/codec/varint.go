// Package codec implements the wire encoding shared by every datum
// type: a sign-and-magnitude variable-length integer, and the
// canonical pack/unpack byte representation for each value type.
package codec

import "fmt"

// MaxVarintLen is the largest number of bytes VarintEncode ever
// produces for an int64 (a sign bit and a continuation bit in the first
// byte, one continuation bit in each following byte).
const MaxVarintLen = 10

const (
	moreMask = 0x80
	signMask = 0x40
	bits6    = 0x3f
	bits7    = 0x7f
)

// magnitude returns val's absolute value as a uint64, computed without
// ever negating val as a signed int64: negating math.MinInt64 directly
// overflows back to math.MinInt64 (two's-complement wraparound), which
// would leave every shift below permanently negative and non-terminating.
func magnitude(val int64) (mag uint64, negative bool) {
	if val >= 0 {
		return uint64(val), false
	}
	return uint64(-(val + 1)) + 1, true
}

// VarintLen returns the encoded length of val without encoding it.
func VarintLen(val int64) int {
	mag, _ := magnitude(val)
	n := 1
	mag >>= 6
	for mag != 0 {
		mag >>= 7
		n++
	}
	return n
}

// VarintEncode appends the sign-and-magnitude varint encoding of val
// to buf and returns the extended slice. First byte: 6 magnitude bits,
// a sign bit, and a continuation bit; each following byte: 7 magnitude
// bits and a continuation bit, little-endian.
func VarintEncode(buf []byte, val int64) []byte {
	mag, negative := magnitude(val)

	b := byte(mag & bits6)
	mag >>= 6
	if negative {
		b |= signMask
	}
	more := mag != 0
	if more {
		b |= moreMask
	}
	buf = append(buf, b)

	for more {
		b = byte(mag & bits7)
		mag >>= 7
		more = mag != 0
		if more {
			b |= moreMask
		}
		buf = append(buf, b)
	}
	return buf
}

// VarintDecode reads a varint from the front of buf, returning the
// decoded value and the number of bytes consumed. It returns an error
// if buf is truncated or the magnitude overflows 64 bits (shift >= 64).
func VarintDecode(buf []byte) (int64, int, error) {
	if len(buf) < 1 {
		return 0, 0, fmt.Errorf("codec: varint decode: empty buffer")
	}

	b := buf[0]
	negative := b&signMask != 0
	accum := uint64(b & bits6)
	shift := uint(6)
	more := b&moreMask != 0
	pos := 1

	for more {
		if pos >= len(buf) {
			return 0, 0, fmt.Errorf("codec: varint decode: truncated buffer")
		}
		if shift > 63 {
			return 0, 0, fmt.Errorf("codec: varint decode: overflow")
		}
		b = buf[pos]
		pos++
		accum += uint64(b&bits7) << shift
		shift += 7
		more = b&moreMask != 0
	}

	// accum's magnitude can be exactly 1<<63 (math.MinInt64's
	// magnitude): int64(accum) reinterprets that bit pattern as
	// math.MinInt64 itself, and negating math.MinInt64 wraps back to
	// math.MinInt64 — the correct result, not an overflow.
	val := int64(accum)
	if negative {
		val = -val
	}
	return val, pos, nil
}
