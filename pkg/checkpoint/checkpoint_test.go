package checkpoint

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func TestDisabledLogIsNoOp(t *testing.T) {
	l, err := Open("", 0)
	require.NoError(t, err)
	assert.False(t, l.Enabled())

	require.NoError(t, l.Append([]byte("k"), []byte("v")))
	records, skipped, err := l.Replay()
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Zero(t, skipped)
	assert.NoError(t, l.Close())
}

func TestAppendAndReplayRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.db")
	l, err := Open(path, 3)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append([]byte("alpha"), []byte("1")))
	require.NoError(t, l.Append([]byte("beta"), []byte("22")))

	records, skipped, err := l.Replay()
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, records, 2)
	assert.Equal(t, "alpha", string(records[0].Key))
	assert.Equal(t, "1", string(records[0].Value))
	assert.Equal(t, "beta", string(records[1].Key))
	assert.Equal(t, "22", string(records[1].Value))
}

func TestReplaySkipsCorruptedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.db")
	l, err := Open(path, 0)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append([]byte("good"), []byte("value")))

	corrupt := encodeRecord([]byte("bad"), []byte("value"))
	corrupt[len(corrupt)-1] ^= 0xFF
	require.NoError(t, l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(l.name)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		var seqKey [8]byte
		binary.BigEndian.PutUint64(seqKey[:], seq)
		return b.Put(seqKey[:], corrupt)
	}))

	records, skipped, err := l.Replay()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", string(records[0].Key))
	assert.Equal(t, 1, skipped)
}

func TestDecodeRecordRejectsTruncatedBuffer(t *testing.T) {
	encoded := encodeRecord([]byte("k"), []byte("value"))
	_, _, ok := decodeRecord(encoded[:len(encoded)-2])
	assert.False(t, ok)
}

func TestDecodeRecordRejectsBadChecksum(t *testing.T) {
	encoded := encodeRecord([]byte("k"), []byte("value"))
	encoded[0] ^= 0xFF
	_, _, ok := decodeRecord(encoded)
	assert.False(t, ok)
}

func TestOpenDefaultDisabledOnEmptyDir(t *testing.T) {
	l, err := OpenDefault("", 0)
	require.NoError(t, err)
	assert.False(t, l.Enabled())
}
