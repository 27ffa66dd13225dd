package checkpoint

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"path/filepath"
	"sync"

	"github.com/cuemby/adlb-go/pkg/codec"
	"github.com/cuemby/adlb-go/pkg/log"
	bolt "go.etcd.io/bbolt"
)

func bucketName(rank int) []byte {
	return []byte(fmt.Sprintf("rank-%d", rank))
}

// Log is a single server's checkpoint log. A zero-value Log (or one
// returned by Open with an empty path) is disabled: Append is a no-op
// and Replay returns no records, and no database file is ever created.
type Log struct {
	mu   sync.Mutex
	db   *bolt.DB
	rank int
	name []byte
}

// Open opens (creating if necessary) the checkpoint database at path
// and ensures this rank's bucket exists. An empty path disables
// checkpointing: the returned Log never touches the filesystem.
func Open(path string, rank int) (*Log, error) {
	if path == "" {
		return &Log{rank: rank}, nil
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}

	name := bucketName(rank)
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(name)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: create bucket: %w", err)
	}

	return &Log{db: db, rank: rank, name: name}, nil
}

// OpenDefault opens the checkpoint database at <dataDir>/checkpoint.db.
func OpenDefault(dataDir string, rank int) (*Log, error) {
	if dataDir == "" {
		return Open("", rank)
	}
	return Open(filepath.Join(dataDir, "checkpoint.db"), rank)
}

// Enabled reports whether this log actually persists records.
func (l *Log) Enabled() bool {
	return l.db != nil
}

// Close closes the underlying database. A disabled log's Close is a
// no-op.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// encodeRecord produces the {key-length, key, value-length, value,
// CRC} byte layout described in §6, using the shared varint encoding
// for the two length fields.
func encodeRecord(key, value []byte) []byte {
	buf := make([]byte, 0, codec.MaxVarintLen*2+len(key)+len(value)+4)
	buf = codec.VarintEncode(buf, int64(len(key)))
	buf = append(buf, key...)
	buf = codec.VarintEncode(buf, int64(len(value)))
	buf = append(buf, value...)

	sum := crc32.ChecksumIEEE(buf)
	var sumBytes [4]byte
	binary.BigEndian.PutUint32(sumBytes[:], sum)
	return append(buf, sumBytes[:]...)
}

// decodeRecord reverses encodeRecord, reporting ok=false for any
// record that is truncated or whose CRC does not match — both treated
// identically as "skip this record" per §6.
func decodeRecord(raw []byte) (key, value []byte, ok bool) {
	if len(raw) < 4 {
		return nil, nil, false
	}
	body, wantSum := raw[:len(raw)-4], binary.BigEndian.Uint32(raw[len(raw)-4:])
	if crc32.ChecksumIEEE(body) != wantSum {
		return nil, nil, false
	}

	keyLen, n, err := codec.VarintDecode(body)
	if err != nil || keyLen < 0 || n+int(keyLen) > len(body) {
		return nil, nil, false
	}
	rest := body[n:]
	key, rest = rest[:keyLen], rest[keyLen:]

	valLen, n2, err := codec.VarintDecode(rest)
	if err != nil || valLen < 0 || n2+int(valLen) != len(rest) {
		return nil, nil, false
	}
	value = rest[n2:]
	return key, value, true
}

// Append writes one record to the log. It is a no-op on a disabled
// log, matching "disabling checkpointing is always safe."
func (l *Log) Append(key, value []byte) error {
	if l.db == nil {
		return nil
	}

	record := encodeRecord(key, value)

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(l.name)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		var seqKey [8]byte
		binary.BigEndian.PutUint64(seqKey[:], seq)
		return b.Put(seqKey[:], record)
	})
}

// Record is one successfully decoded checkpoint entry.
type Record struct {
	Key   []byte
	Value []byte
}

// Replay reads every record in sequence order, skipping any that fail
// CRC or length validation. It returns the count of skipped records
// alongside the valid ones so callers can log the discrepancy.
func (l *Log) Replay() (records []Record, skipped int, err error) {
	if l.db == nil {
		return nil, 0, nil
	}

	err = l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(l.name)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			key, value, ok := decodeRecord(v)
			if !ok {
				skipped++
				return nil
			}
			keyCopy := append([]byte(nil), key...)
			valCopy := append([]byte(nil), value...)
			records = append(records, Record{Key: keyCopy, Value: valCopy})
			return nil
		})
	})
	if err != nil {
		return nil, skipped, fmt.Errorf("checkpoint: replay: %w", err)
	}

	if skipped > 0 {
		log.WithServer(l.rank).Warn().Int("skipped", skipped).Msg("checkpoint replay discarded corrupted or truncated records")
	}
	return records, skipped, nil
}
