package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []int64{
		0, 1, -1, 63, -63, 64, -64, 8191, -8191, 8192,
		math.MaxInt32, math.MinInt32, math.MaxInt64, math.MinInt64 + 1, math.MinInt64,
	}

	for _, v := range values {
		buf := VarintEncode(nil, v)
		assert.Equal(t, VarintLen(v), len(buf), "encoded length mismatch for %d", v)

		got, consumed, err := VarintDecode(buf)
		assert.NoError(t, err)
		assert.Equal(t, len(buf), consumed)
		assert.Equal(t, v, got)
	}
}

func TestVarintDecodeTruncated(t *testing.T) {
	buf := VarintEncode(nil, math.MaxInt64)
	_, _, err := VarintDecode(buf[:len(buf)-1])
	assert.Error(t, err)
}

func TestVarintDecodeEmpty(t *testing.T) {
	_, _, err := VarintDecode(nil)
	assert.Error(t, err)
}

func TestVarintEncodeAppends(t *testing.T) {
	buf := []byte{0xff}
	buf = VarintEncode(buf, 5)
	assert.Equal(t, byte(0xff), buf[0])

	got, _, err := VarintDecode(buf[1:])
	assert.NoError(t, err)
	assert.Equal(t, int64(5), got)
}
